// Package queue provides a durable FIFO queue of plans backed by a JSON
// state file. A flock lock plus atomic temp-file renames make the queue
// safe to share between processes; workers lease items with Dequeue and
// settle them with Ack or Nack.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/calyptra/arbor/pkg/domain"
)

// ErrEmpty is returned by Dequeue when no item is pending.
var ErrEmpty = errors.New("queue is empty")

// ErrNotLeased is returned by Ack and Nack for unknown lease IDs.
var ErrNotLeased = errors.New("item is not leased")

// lockRetryDelay is how often a blocked flock acquisition re-checks.
const lockRetryDelay = 25 * time.Millisecond

// Item is one queued plan with its delivery bookkeeping.
type Item struct {
	ID         string       `json:"id"`
	Plan       *domain.Plan `json:"plan"`
	Attempts   int          `json:"attempts"`
	EnqueuedAt time.Time    `json:"enqueuedAt"`
	LastError  string       `json:"lastError,omitempty"`
}

// Stats summarizes queue occupancy.
type Stats struct {
	Pending int `json:"pending"`
	Leased  int `json:"leased"`
	Dead    int `json:"dead"`
}

type state struct {
	Pending []Item          `json:"pending"`
	Leased  map[string]Item `json:"leased"`
	Dead    []Item          `json:"dead"`
}

// Queue is a file-backed FIFO. One value may be shared by goroutines; the
// state file may be shared by processes.
type Queue struct {
	path        string
	maxAttempts int

	mu   sync.Mutex
	lock *flock.Flock
}

// Option configures the queue.
type Option func(*Queue)

// WithMaxAttempts caps deliveries per item; a Nack at the cap moves the
// item to the dead list instead of requeueing it. Default 3.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// New creates a queue over the state file at path. The file and its
// parent directories appear on first use.
func New(path string, opts ...Option) *Queue {
	q := &Queue{
		path:        path,
		maxAttempts: 3,
		lock:        flock.New(path + ".lock"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends the plan and returns the new item's ID.
func (q *Queue) Enqueue(ctx context.Context, plan *domain.Plan) (string, error) {
	if plan == nil {
		return "", fmt.Errorf("cannot enqueue a nil plan")
	}
	item := Item{
		ID:         "item_" + uuid.NewString()[:8],
		Plan:       plan,
		EnqueuedAt: time.Now().UTC(),
	}
	err := q.withState(ctx, func(s *state) error {
		s.Pending = append(s.Pending, item)
		return nil
	})
	if err != nil {
		return "", err
	}
	return item.ID, nil
}

// Dequeue leases the oldest pending item. The item stays leased until
// Ack or Nack; a crashed worker leaves it visible in Stats and in the
// state file for manual recovery.
func (q *Queue) Dequeue(ctx context.Context) (*Item, error) {
	var leased Item
	err := q.withState(ctx, func(s *state) error {
		if len(s.Pending) == 0 {
			return ErrEmpty
		}
		leased = s.Pending[0]
		s.Pending = s.Pending[1:]
		leased.Attempts++
		s.Leased[leased.ID] = leased
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &leased, nil
}

// Ack settles a leased item as done, removing it permanently.
func (q *Queue) Ack(ctx context.Context, itemID string) error {
	return q.withState(ctx, func(s *state) error {
		if _, ok := s.Leased[itemID]; !ok {
			return fmt.Errorf("ack %s: %w", itemID, ErrNotLeased)
		}
		delete(s.Leased, itemID)
		return nil
	})
}

// Nack returns a leased item to the queue for another attempt, recording
// the failure reason. An item at the attempt cap moves to the dead list.
func (q *Queue) Nack(ctx context.Context, itemID string, reason string) error {
	return q.withState(ctx, func(s *state) error {
		item, ok := s.Leased[itemID]
		if !ok {
			return fmt.Errorf("nack %s: %w", itemID, ErrNotLeased)
		}
		delete(s.Leased, itemID)
		item.LastError = reason
		if item.Attempts >= q.maxAttempts {
			s.Dead = append(s.Dead, item)
			return nil
		}
		s.Pending = append(s.Pending, item)
		return nil
	})
}

// Stats reports how many items sit in each bucket.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := q.withState(ctx, func(s *state) error {
		stats = Stats{Pending: len(s.Pending), Leased: len(s.Leased), Dead: len(s.Dead)}
		return nil
	})
	return stats, err
}

// Dead returns the items that exhausted their attempts.
func (q *Queue) Dead(ctx context.Context) ([]Item, error) {
	var dead []Item
	err := q.withState(ctx, func(s *state) error {
		dead = append(dead, s.Dead...)
		return nil
	})
	return dead, err
}

// withState runs fn over the loaded state under both the in-process mutex
// and the cross-process flock, persisting the state afterwards unless fn
// failed.
func (q *Queue) withState(ctx context.Context, fn func(*state) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}

	locked, err := q.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to lock queue state: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to lock queue state at %s", q.lock.Path())
	}
	defer q.lock.Unlock()

	s, err := q.load()
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		return err
	}
	return q.save(s)
}

func (q *Queue) load() (*state, error) {
	s := &state{Leased: make(map[string]Item)}
	data, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read queue state: %w", err)
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse queue state: %w", err)
	}
	if s.Leased == nil {
		s.Leased = make(map[string]Item)
	}
	return s, nil
}

// save writes the state through a temp file and rename so readers never
// see a torn document.
func (q *Queue) save(s *state) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode queue state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(q.path), ".queue-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write queue state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync queue state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, q.path); err != nil {
		return fmt.Errorf("failed to replace queue state: %w", err)
	}
	tmp = nil
	return nil
}
