// Package redis implements ports.EventStore on a Redis sorted set, for
// deployments that want the event log shared across processes without a
// shared filesystem.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	backend "github.com/redis/go-redis/v9"

	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/ports"
)

// Store keeps events in one ZSET: score = OccurredAt in unix nanoseconds,
// member = the JSON-encoded event. Range queries map onto ZRANGEBYSCORE.
type Store struct {
	client *backend.Client
	prefix string
	log    string
}

type Option func(*Store)

// WithPrefix overrides the key prefix (default "arbor:events:").
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithLog names the event log, so several logs can share one Redis.
func WithLog(name string) Option {
	return func(s *Store) { s.log = name }
}

// New creates a Redis event store with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(client, opts...)
}

// NewFromClient creates a Redis event store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "arbor:events:",
		log:    "default",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) key() string {
	return s.prefix + s.log
}

// Append adds the event to the sorted set.
func (s *Store) Append(ctx context.Context, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.ID, err)
	}

	err = s.client.ZAdd(ctx, s.key(), backend.Z{
		Score:  float64(evt.OccurredAt.UnixNano()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("append to redis log %s: %w", s.key(), err)
	}
	return nil
}

// List fetches the score range covering Since/Until, then applies the
// standard filter/sort/limit semantics in process.
func (s *Store) List(ctx context.Context, opts ports.ListOptions) ([]domain.Event, error) {
	min, max := "-inf", "+inf"
	if !opts.Since.IsZero() {
		min = strconv.FormatInt(opts.Since.UnixNano(), 10)
	}
	if !opts.Until.IsZero() {
		max = strconv.FormatInt(opts.Until.UnixNano(), 10)
	}

	members, err := s.client.ZRangeByScore(ctx, s.key(), &backend.ZRangeBy{
		Min: min,
		Max: max,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list redis log %s: %w", s.key(), err)
	}

	events := make([]domain.Event, 0, len(members))
	for _, m := range members {
		var evt domain.Event
		if err := json.Unmarshal([]byte(m), &evt); err != nil {
			// Same policy as the file store: a bad entry never poisons the log.
			continue
		}
		events = append(events, evt)
	}
	return ports.ApplyListOptions(events, opts), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
