package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyptra/arbor/pkg/adapters/memory"
	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/eventbus"
	"github.com/calyptra/arbor/pkg/observability"
)

func emitRunEvent(t *testing.T, bus *eventbus.Bus, typ domain.EventType, aggregate, runID string, payload map[string]any) {
	t.Helper()
	evt := domain.Event{
		Type:        typ,
		AggregateID: aggregate,
		Payload:     payload,
		Metadata:    map[string]any{domain.MetaRunID: runID},
	}
	require.NoError(t, bus.Emit(context.Background(), &evt))
}

func TestTracker_FoldsRunLifecycle(t *testing.T) {
	bus := eventbus.New(memory.NewStore())
	tracker := observability.NewTracker(bus)
	defer tracker.Close()

	emitRunEvent(t, bus, domain.EventPlanStarted, "plan-1", "run-1", map[string]any{"title": "release"})
	emitRunEvent(t, bus, domain.EventTaskStarted, "build", "run-1", nil)
	emitRunEvent(t, bus, domain.EventStepSucceeded, "build-s1", "run-1", nil)
	emitRunEvent(t, bus, domain.EventTaskSucceeded, "build", "run-1", nil)
	emitRunEvent(t, bus, domain.EventPlanSucceeded, "plan-1", "run-1", nil)

	snap, ok := tracker.Run("run-1")
	require.True(t, ok)
	assert.Equal(t, "plan-1", snap.PlanID)
	assert.Equal(t, "release", snap.Title)
	assert.Equal(t, domain.PlanSucceeded, snap.Status)
	assert.Equal(t, 1, snap.TasksStarted)
	assert.Equal(t, 1, snap.TasksSucceeded)
	assert.Equal(t, 1, snap.StepsSucceeded)
	assert.True(t, snap.Finished())
	assert.False(t, snap.FinishedAt.IsZero())
}

func TestTracker_FailureCarriesError(t *testing.T) {
	bus := eventbus.New(memory.NewStore())
	tracker := observability.NewTracker(bus)
	defer tracker.Close()

	emitRunEvent(t, bus, domain.EventPlanStarted, "plan-2", "run-2", nil)
	emitRunEvent(t, bus, domain.EventStepFailed, "s1", "run-2", nil)
	emitRunEvent(t, bus, domain.EventTaskFailed, "t1", "run-2", nil)
	emitRunEvent(t, bus, domain.EventPlanFailed, "plan-2", "run-2", map[string]any{"error": "boom"})

	snap, ok := tracker.Run("run-2")
	require.True(t, ok)
	assert.Equal(t, domain.PlanFailed, snap.Status)
	assert.Equal(t, "boom", snap.Error)
	assert.Equal(t, 1, snap.TasksFailed)
	assert.Equal(t, 1, snap.StepsFailed)
}

func TestTracker_IgnoresReplayedAndForeignEvents(t *testing.T) {
	store := memory.NewStore()
	bus := eventbus.New(store)
	tracker := observability.NewTracker(bus)
	defer tracker.Close()

	emitRunEvent(t, bus, domain.EventPlanStarted, "plan-3", "run-3", nil)

	// No run id: ignored.
	foreign := domain.NewEvent(domain.EventTaskStarted, "elsewhere")
	require.NoError(t, bus.Emit(context.Background(), &foreign))

	// Replay must not double-count the started run.
	_, err := bus.Replay(context.Background(), eventbus.ReplayOptions{})
	require.NoError(t, err)

	runs := tracker.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, "run-3", runs[0].RunID)
	assert.Equal(t, 0, runs[0].TasksStarted)
}

func TestTracker_ActiveAndEviction(t *testing.T) {
	bus := eventbus.New(memory.NewStore())
	tracker := observability.NewTracker(bus, observability.WithRunLimit(2))
	defer tracker.Close()

	emitRunEvent(t, bus, domain.EventPlanStarted, "p1", "done-1", nil)
	emitRunEvent(t, bus, domain.EventPlanSucceeded, "p1", "done-1", nil)
	emitRunEvent(t, bus, domain.EventPlanStarted, "p2", "live-1", nil)
	emitRunEvent(t, bus, domain.EventPlanStarted, "p3", "live-2", nil)

	// Cap is 2: the finished run is evicted, both live runs stay.
	_, ok := tracker.Run("done-1")
	assert.False(t, ok, "finished run should be evicted first")

	active := tracker.Active()
	require.Len(t, active, 2)

	ids := []string{active[0].RunID, active[1].RunID}
	assert.Contains(t, ids, "live-1")
	assert.Contains(t, ids, "live-2")
}
