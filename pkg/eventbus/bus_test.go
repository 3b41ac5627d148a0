package eventbus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyptra/arbor/pkg/adapters/memory"
	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/eventbus"
	"github.com/calyptra/arbor/pkg/ports"
)

func TestBus_EmitFillsIdentityAndPersists(t *testing.T) {
	store := memory.NewStore()
	bus := eventbus.New(store)
	ctx := context.Background()

	var received []domain.Event
	bus.Subscribe(domain.EventFilter{}, func(e domain.Event) {
		received = append(received, e)
	})

	evt := domain.NewEvent(domain.EventPlanStarted, "plan-1")
	require.NoError(t, bus.Emit(ctx, &evt))

	assert.NotEmpty(t, evt.ID, "emit should fill a missing id")
	assert.False(t, evt.OccurredAt.IsZero(), "emit should fill a missing timestamp")

	// Persisted exactly once.
	stored, err := store.List(ctx, ports.ListOptions{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, evt.ID, stored[0].ID)

	// Delivered synchronously.
	require.Len(t, received, 1)
	assert.Equal(t, domain.EventPlanStarted, received[0].Type)
}

func TestBus_EmitPreservesProvidedIdentity(t *testing.T) {
	bus := eventbus.New(memory.NewStore())
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	evt := domain.Event{ID: "evt_fixed", Type: domain.EventTaskStarted, OccurredAt: at}
	require.NoError(t, bus.Emit(context.Background(), &evt))

	assert.Equal(t, "evt_fixed", evt.ID)
	assert.True(t, evt.OccurredAt.Equal(at))
}

func TestBus_SubscribeFiltersAndUnsubscribe(t *testing.T) {
	bus := eventbus.New(memory.NewStore())
	ctx := context.Background()

	var taskEvents, allEvents int
	unsub := bus.On(domain.EventTaskStarted, func(e domain.Event) { taskEvents++ })
	bus.Subscribe(domain.EventFilter{}, func(e domain.Event) { allEvents++ })

	emit := func(t2 domain.EventType) {
		e := domain.NewEvent(t2, "agg")
		require.NoError(t, bus.Emit(ctx, &e))
	}

	emit(domain.EventTaskStarted)
	emit(domain.EventStepSucceeded)
	assert.Equal(t, 1, taskEvents)
	assert.Equal(t, 2, allEvents)

	unsub()
	unsub() // calling twice must be harmless
	emit(domain.EventTaskStarted)
	assert.Equal(t, 1, taskEvents, "unsubscribed handler must not fire")
	assert.Equal(t, 3, allEvents)
}

func TestBus_SubscribeByAggregateAndSource(t *testing.T) {
	bus := eventbus.New(memory.NewStore())
	ctx := context.Background()

	var got []string
	bus.Subscribe(domain.EventFilter{AggregateID: "task-1", Source: "scheduler"}, func(e domain.Event) {
		got = append(got, e.ID)
	})

	match := domain.Event{ID: "a", Type: domain.EventTaskStarted, AggregateID: "task-1",
		Metadata: map[string]any{domain.MetaSource: "scheduler"}}
	wrongAgg := domain.Event{ID: "b", Type: domain.EventTaskStarted, AggregateID: "task-2",
		Metadata: map[string]any{domain.MetaSource: "scheduler"}}
	wrongSource := domain.Event{ID: "c", Type: domain.EventTaskStarted, AggregateID: "task-1",
		Metadata: map[string]any{domain.MetaSource: "cli"}}

	for _, e := range []domain.Event{match, wrongAgg, wrongSource} {
		evt := e
		require.NoError(t, bus.Emit(ctx, &evt))
	}
	assert.Equal(t, []string{"a"}, got)
}

func TestBus_HandlerPanicDoesNotBreakDelivery(t *testing.T) {
	bus := eventbus.New(memory.NewStore())

	var sawSecond bool
	bus.Subscribe(domain.EventFilter{}, func(e domain.Event) { panic("boom") })
	bus.Subscribe(domain.EventFilter{}, func(e domain.Event) { sawSecond = true })

	evt := domain.NewEvent(domain.EventPlanStarted, "plan-1")
	err := bus.Emit(context.Background(), &evt)

	require.NoError(t, err, "a panicking handler must not fail the emit")
	assert.True(t, sawSecond, "delivery must continue past a panicking handler")
}

func TestBus_HistoryRing(t *testing.T) {
	bus := eventbus.New(memory.NewStore(), eventbus.WithHistoryLimit(3))
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
		evt := domain.Event{ID: id, Type: domain.EventStepSucceeded}
		require.NoError(t, bus.Emit(ctx, &evt))
	}

	// Ring keeps only the most recent three.
	all := bus.History(0)
	require.Len(t, all, 3)
	assert.Equal(t, "e3", all[0].ID)
	assert.Equal(t, "e5", all[2].ID)

	// And a smaller limit trims from the oldest side.
	last2 := bus.History(2)
	require.Len(t, last2, 2)
	assert.Equal(t, "e4", last2[0].ID)
	assert.Equal(t, "e5", last2[1].ID)

	// The store still has everything; only the ring is bounded.
	stored, err := bus.Store().List(ctx, ports.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, stored, 5)
}

func TestBus_ReplayTagsWithoutAppending(t *testing.T) {
	store := memory.NewStore()
	bus := eventbus.New(store)
	ctx := context.Background()

	e1 := domain.Event{Type: domain.EventPlanStarted, AggregateID: "plan-1"}
	e2 := domain.Event{Type: domain.EventPlanSucceeded, AggregateID: "plan-1"}
	require.NoError(t, bus.Emit(ctx, &e1))
	require.NoError(t, bus.Emit(ctx, &e2))

	before, err := store.List(ctx, ports.ListOptions{})
	require.NoError(t, err)

	var delivered []domain.Event
	bus.Subscribe(domain.EventFilter{}, func(e domain.Event) {
		delivered = append(delivered, e)
	})

	replayed, err := bus.Replay(ctx, eventbus.ReplayOptions{})
	require.NoError(t, err)
	require.Len(t, replayed, 2)
	assert.Equal(t, e1.ID, replayed[0].ID, "replay must preserve chronological order")
	assert.Equal(t, e2.ID, replayed[1].ID)

	for _, e := range delivered {
		assert.True(t, e.Replayed(), "replayed events must be tagged")
	}

	// Idempotence: the persisted log is untouched.
	after, err := store.List(ctx, ports.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
	for i := range after {
		assert.False(t, after[i].Replayed(), "stored events must never carry the replay tag")
	}
}

func TestBus_ReplayWithFilter(t *testing.T) {
	bus := eventbus.New(memory.NewStore())
	ctx := context.Background()

	for _, typ := range []domain.EventType{domain.EventTaskStarted, domain.EventTaskFailed, domain.EventTaskStarted} {
		evt := domain.NewEvent(typ, "task-1")
		require.NoError(t, bus.Emit(ctx, &evt))
	}

	replayed, err := bus.Replay(ctx, eventbus.ReplayOptions{
		Filter: domain.EventFilter{Types: []domain.EventType{domain.EventTaskStarted}},
	})
	require.NoError(t, err)
	assert.Len(t, replayed, 2)
}

type brokenStore struct{ err error }

func (b brokenStore) Append(ctx context.Context, evt domain.Event) error { return b.err }
func (b brokenStore) List(ctx context.Context, opts ports.ListOptions) ([]domain.Event, error) {
	return nil, b.err
}

func TestBus_StoreFailureIsVisible(t *testing.T) {
	sentinel := errors.New("disk full")
	bus := eventbus.New(brokenStore{err: sentinel})

	var notified bool
	bus.Subscribe(domain.EventFilter{}, func(e domain.Event) { notified = true })

	evt := domain.NewEvent(domain.EventPlanStarted, "plan-1")
	err := bus.Emit(context.Background(), &evt)

	require.ErrorIs(t, err, sentinel, "the store write is explicit, not best-effort")
	assert.False(t, notified, "subscribers only see events that were persisted")

	_, err = bus.Replay(context.Background(), eventbus.ReplayOptions{})
	require.ErrorIs(t, err, sentinel)
}
