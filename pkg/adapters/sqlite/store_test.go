package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/calyptra/arbor/pkg/adapters/sqlite"
	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/ports"
	"github.com/calyptra/arbor/pkg/ports/tests"
)

func TestSQLiteStore_Contract(t *testing.T) {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer store.Close()

	tests.EventStoreContract(t, store)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	store, err := sqlite.New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	evt := domain.Event{ID: "evt_1", Type: domain.EventPlanStarted, OccurredAt: time.Now()}
	if err := store.Append(ctx, evt); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := sqlite.New(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	events, err := reopened.List(ctx, ports.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(events) != 1 || events[0].ID != "evt_1" {
		t.Errorf("expected the persisted event after reopen, got %v", events)
	}
}
