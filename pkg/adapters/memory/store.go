package memory

import (
	"context"
	"sync"

	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/ports"
)

// Store implements ports.EventStore in memory: a plain ordered list.
// Safe for concurrent use. Intended for tests and short-lived runs that
// do not need a persisted log.
type Store struct {
	mu     sync.RWMutex
	events []domain.Event
}

// NewStore creates an empty in-memory event store.
func NewStore() *Store {
	return &Store{}
}

// Append records the event in arrival order.
func (s *Store) Append(ctx context.Context, evt domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

// List returns matching events sorted ascending by OccurredAt, keeping
// the most recent N when a limit is set.
func (s *Store) List(ctx context.Context, opts ports.ListOptions) ([]domain.Event, error) {
	s.mu.RLock()
	snapshot := make([]domain.Event, len(s.events))
	copy(snapshot, s.events)
	s.mu.RUnlock()

	return ports.ApplyListOptions(snapshot, opts), nil
}

// Len reports the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
