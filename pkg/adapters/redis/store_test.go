package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"

	"github.com/calyptra/arbor/pkg/adapters/redis"
	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/ports"
	"github.com/calyptra/arbor/pkg/ports/tests"
)

func newTestStore(t *testing.T, opts ...redis.Option) *redis.Store {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := redis.NewFromClient(client, opts...)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStore_Contract(t *testing.T) {
	tests.EventStoreContract(t, newTestStore(t))
}

func TestRedisStore_LogsAreIsolated(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	a := redis.NewFromClient(client, redis.WithLog("run-a"))
	b := redis.NewFromClient(client, redis.WithLog("run-b"))
	ctx := context.Background()

	evt := domain.Event{ID: "evt_1", Type: domain.EventPlanStarted, OccurredAt: time.Now()}
	if err := a.Append(ctx, evt); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := b.List(ctx, ports.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("log run-b should be empty, got %d events", len(got))
	}

	got, err = a.List(ctx, ports.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("log run-a should have 1 event, got %d", len(got))
	}

	// A custom prefix is its own namespace even for the same log name.
	c := redis.NewFromClient(client, redis.WithPrefix("staging:events:"), redis.WithLog("run-a"))
	got, err = c.List(ctx, ports.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("prefixed log should be empty, got %d events", len(got))
	}
}
