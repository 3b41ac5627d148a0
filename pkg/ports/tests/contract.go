package tests

import (
	"context"
	"testing"
	"time"

	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/ports"
)

// EventStoreContract is a reusable test suite that verifies an adapter
// complies with ports.EventStore: append-only writes, ascending ordering,
// tail-limit semantics, and filter support.
//
// The store must be empty when passed in.
func EventStoreContract(t *testing.T, store ports.EventStore) {
	t.Helper()
	ctx := context.Background()

	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	e1 := domain.Event{
		ID:          "evt_1",
		Type:        domain.EventPlanStarted,
		OccurredAt:  base,
		AggregateID: "plan-1",
		Metadata:    map[string]any{domain.MetaSource: "scheduler"},
	}
	e2 := domain.Event{
		ID:          "evt_2",
		Type:        domain.EventTaskStarted,
		OccurredAt:  base.Add(1 * time.Second),
		AggregateID: "task-1",
		Payload:     map[string]any{"name": "fetch"},
		Metadata:    map[string]any{domain.MetaSource: "scheduler"},
	}
	e3 := domain.Event{
		ID:          "evt_3",
		Type:        domain.EventStepFailed,
		OccurredAt:  base.Add(2 * time.Second),
		AggregateID: "step-1",
		Metadata:    map[string]any{domain.MetaSource: "cli"},
	}

	// Append deliberately out of chronological order.
	for _, evt := range []domain.Event{e2, e3, e1} {
		if err := store.Append(ctx, evt); err != nil {
			t.Fatalf("Append(%s) failed: %v", evt.ID, err)
		}
	}

	t.Run("List_AscendingByOccurredAt", func(t *testing.T) {
		got, err := store.List(ctx, ports.ListOptions{})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		assertIDs(t, got, "evt_1", "evt_2", "evt_3")
		for i := 1; i < len(got); i++ {
			if got[i].OccurredAt.Before(got[i-1].OccurredAt) {
				t.Errorf("events out of order at index %d", i)
			}
		}
	})

	t.Run("List_LimitKeepsMostRecent", func(t *testing.T) {
		got, err := store.List(ctx, ports.ListOptions{Limit: 2})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		assertIDs(t, got, "evt_2", "evt_3")
	})

	t.Run("List_SinceUntil", func(t *testing.T) {
		got, err := store.List(ctx, ports.ListOptions{Since: base.Add(1 * time.Second)})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		assertIDs(t, got, "evt_2", "evt_3")

		got, err = store.List(ctx, ports.ListOptions{Until: base.Add(1 * time.Second)})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		assertIDs(t, got, "evt_1", "evt_2")
	})

	t.Run("List_FilterByType", func(t *testing.T) {
		got, err := store.List(ctx, ports.ListOptions{
			Filter: domain.EventFilter{Types: []domain.EventType{domain.EventTaskStarted}},
		})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		assertIDs(t, got, "evt_2")
		if got[0].Payload["name"] != "fetch" {
			t.Errorf("payload not preserved: %v", got[0].Payload)
		}
	})

	t.Run("List_FilterByAggregate", func(t *testing.T) {
		got, err := store.List(ctx, ports.ListOptions{
			Filter: domain.EventFilter{AggregateID: "step-1"},
		})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		assertIDs(t, got, "evt_3")
	})

	t.Run("List_FilterBySource", func(t *testing.T) {
		got, err := store.List(ctx, ports.ListOptions{
			Filter: domain.EventFilter{Source: "cli"},
		})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		assertIDs(t, got, "evt_3")
	})

	t.Run("List_NoMatch", func(t *testing.T) {
		got, err := store.List(ctx, ports.ListOptions{
			Filter: domain.EventFilter{AggregateID: "nope"},
		})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected no events, got %d", len(got))
		}
	})
}

func assertIDs(t *testing.T, events []domain.Event, want ...string) {
	t.Helper()
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, id := range want {
		if events[i].ID != id {
			t.Errorf("event %d: got %s, want %s", i, events[i].ID, id)
		}
	}
}
