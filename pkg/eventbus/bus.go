// Package eventbus provides the in-process publish/subscribe layer of the
// Arbor engine. A Bus wraps an event store, keeps a bounded ring of recent
// events for cheap history queries, and can replay persisted events to
// current subscribers without re-appending them.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calyptra/arbor/internal/logging"
	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/ports"
)

// DefaultHistoryLimit bounds the in-memory ring when no option overrides it.
const DefaultHistoryLimit = 1000

// Handler consumes delivered events. Handlers run synchronously on the
// emitting goroutine and must not mutate the event's maps.
type Handler func(domain.Event)

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for handler panic reports.
func WithLogger(log *slog.Logger) Option {
	return func(b *Bus) {
		if log != nil {
			b.log = log
		}
	}
}

// WithHistoryLimit caps the in-memory ring. Values below one fall back to
// the default.
func WithHistoryLimit(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.cap = n
		}
	}
}

type subscription struct {
	id      int
	filter  domain.EventFilter
	handler Handler
}

// Bus is the in-process event fabric. The store write inside Emit is
// explicit and error-returning; subscriber delivery stays synchronous so
// ordering guarantees hold.
type Bus struct {
	store ports.EventStore
	log   *slog.Logger

	mu     sync.Mutex
	ring   []domain.Event
	cap    int
	nextID int
	subs   []*subscription
}

// New creates a Bus over the given store. The store must not be nil: the
// bus persists every emitted event through it.
func New(store ports.EventStore, opts ...Option) *Bus {
	b := &Bus{
		store: store,
		log:   logging.NewNop(),
		cap:   DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit completes the event (missing ID and OccurredAt are filled in),
// caches it in the ring, persists it, and then delivers it synchronously
// to every matching subscriber. A store failure is returned before any
// subscriber runs; a panicking subscriber is logged and skipped, never
// breaking delivery to the rest.
func (b *Bus) Emit(ctx context.Context, evt *domain.Event) error {
	if evt.ID == "" {
		evt.ID = NewEventID()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	b.mu.Lock()
	b.ring = append(b.ring, *evt)
	if len(b.ring) > b.cap {
		b.ring = b.ring[len(b.ring)-b.cap:]
	}
	subs := b.snapshotLocked()
	b.mu.Unlock()

	if err := b.store.Append(ctx, *evt); err != nil {
		return err
	}

	b.deliver(*evt, subs)
	return nil
}

// Subscribe registers a handler for events matching the filter; the zero
// filter matches everything. The returned function removes the
// subscription and is safe to call more than once.
func (b *Bus) Subscribe(filter domain.EventFilter, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, filter: filter, handler: handler}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == sub.id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// On subscribes a handler to a single event type.
func (b *Bus) On(t domain.EventType, handler Handler) func() {
	return b.Subscribe(domain.EventFilter{Types: []domain.EventType{t}}, handler)
}

// ReplayOptions narrows which persisted events a replay re-delivers.
type ReplayOptions struct {
	Since  time.Time
	Until  time.Time
	Limit  int
	Filter domain.EventFilter
}

// Replay reads events back out of the store and re-delivers them to the
// current subscribers, tagging each copy with metadata.replayed = true.
// Nothing is appended: replay is idempotent with respect to persisted
// state. The delivered copies are returned in chronological order.
func (b *Bus) Replay(ctx context.Context, opts ReplayOptions) ([]domain.Event, error) {
	stored, err := b.store.List(ctx, ports.ListOptions{
		Since:  opts.Since,
		Until:  opts.Until,
		Limit:  opts.Limit,
		Filter: opts.Filter,
	})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	subs := b.snapshotLocked()
	b.mu.Unlock()

	replayed := make([]domain.Event, 0, len(stored))
	for _, evt := range stored {
		cp := evt.Clone()
		if cp.Metadata == nil {
			cp.Metadata = make(map[string]any, 1)
		}
		cp.Metadata[domain.MetaReplayed] = true
		b.deliver(cp, subs)
		replayed = append(replayed, cp)
	}
	return replayed, nil
}

// History returns the most recent limit events from the ring only, oldest
// first. A non-positive limit returns the whole ring. The store is never
// touched.
func (b *Bus) History(limit int) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.ring)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Event, n)
	copy(out, b.ring[len(b.ring)-n:])
	return out
}

// Store exposes the wrapped event store, for consumers that query
// persisted history directly.
func (b *Bus) Store() ports.EventStore { return b.store }

func (b *Bus) snapshotLocked() []*subscription {
	out := make([]*subscription, len(b.subs))
	copy(out, b.subs)
	return out
}

func (b *Bus) deliver(evt domain.Event, subs []*subscription) {
	for _, sub := range subs {
		if !sub.filter.Match(evt) {
			continue
		}
		b.safeInvoke(sub, evt)
	}
}

func (b *Bus) safeInvoke(sub *subscription, evt domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				"type", string(evt.Type),
				"event_id", evt.ID,
				"panic", r)
		}
	}()
	sub.handler(evt)
}

// NewEventID returns a fresh short event identifier.
func NewEventID() string {
	return "evt_" + uuid.NewString()[:8]
}
