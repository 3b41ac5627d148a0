package ports

import (
	"context"
	"time"

	"github.com/calyptra/arbor/pkg/domain"
)

// ListOptions narrows a store query. The zero value lists everything.
type ListOptions struct {
	// Since keeps events with OccurredAt >= Since when non-zero.
	Since time.Time
	// Until keeps events with OccurredAt <= Until when non-zero.
	Until time.Time
	// Limit keeps the most recent N matching events (the tail of the
	// ascending result, not the head). Zero means no limit.
	Limit int
	// Filter applies type/aggregate/source matching.
	Filter domain.EventFilter
}

// EventStore is append-only persistence for domain events.
//
// Every implementation must return List results sorted ascending by
// OccurredAt regardless of insertion order, with Limit applied after
// sorting as "keep the most recent N".
type EventStore interface {
	// Append persists one event. Events are immutable: there is no
	// update or delete.
	Append(ctx context.Context, evt domain.Event) error

	// List returns the events matching opts, oldest first.
	List(ctx context.Context, opts ListOptions) ([]domain.Event, error)
}
