// Package sqlite implements ports.EventStore on a local SQLite database,
// for hosts that want indexed queries over a long event history without
// leaving the single-process model.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/ports"
)

// Store persists events in an `events` table. The full event JSON is kept
// in the body column; type, aggregate, source, and occurred_at are
// denormalized so queries stay in SQL.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dsn and runs migrations.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT NOT NULL,
			type TEXT NOT NULL,
			occurred_at INTEGER NOT NULL,
			aggregate_id TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_occurred ON events(occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type, occurred_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Append inserts one event row. Rows are never updated or deleted.
func (s *Store) Append(ctx context.Context, evt domain.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, type, occurred_at, aggregate_id, source, body) VALUES (?, ?, ?, ?, ?, ?)`,
		evt.ID, string(evt.Type), evt.OccurredAt.UnixNano(), evt.AggregateID, evt.Source(), string(body))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evt.ID, err)
	}
	return nil
}

// List pushes the range and filter into SQL, then applies the shared
// semantics for the tail limit.
func (s *Store) List(ctx context.Context, opts ports.ListOptions) ([]domain.Event, error) {
	query := `SELECT body FROM events WHERE 1=1`
	var args []any

	if !opts.Since.IsZero() {
		query += ` AND occurred_at >= ?`
		args = append(args, opts.Since.UnixNano())
	}
	if !opts.Until.IsZero() {
		query += ` AND occurred_at <= ?`
		args = append(args, opts.Until.UnixNano())
	}
	if types := opts.Filter.Types; len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += fmt.Sprintf(" AND type IN (%s)", strings.Join(placeholders, ","))
	}
	if opts.Filter.AggregateID != "" {
		query += ` AND aggregate_id = ?`
		args = append(args, opts.Filter.AggregateID)
	}
	if opts.Filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, opts.Filter.Source)
	}
	query += ` ORDER BY occurred_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var evt domain.Event
		if err := json.Unmarshal([]byte(body), &evt); err != nil {
			continue
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ports.ApplyListOptions(events, opts), nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
