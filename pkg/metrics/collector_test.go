package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyptra/arbor/pkg/adapters/memory"
	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/eventbus"
)

func newTestCollector(t *testing.T) (*eventbus.Bus, *Collector) {
	t.Helper()
	bus := eventbus.New(memory.NewStore())
	collector, err := New(bus, WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(collector.Close)
	return bus, collector
}

func emit(t *testing.T, bus *eventbus.Bus, e domain.Event) {
	t.Helper()
	require.NoError(t, bus.Emit(context.Background(), &e))
}

func TestCollector_CountsEventsAndSteps(t *testing.T) {
	bus, c := newTestCollector(t)

	emit(t, bus, domain.Event{Type: domain.EventTaskStarted, AggregateID: "t1"})
	emit(t, bus, domain.Event{Type: domain.EventStepSucceeded, AggregateID: "s1", Payload: map[string]any{"kind": "shell"}})
	emit(t, bus, domain.Event{Type: domain.EventStepSucceeded, AggregateID: "s2", Payload: map[string]any{"kind": "shell"}})
	emit(t, bus, domain.Event{Type: domain.EventStepFailed, AggregateID: "s3", Payload: map[string]any{"kind": "http"}})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues("task.started")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.events.WithLabelValues("step.succeeded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.steps.WithLabelValues("shell", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.steps.WithLabelValues("http", "failed")))
}

func TestCollector_PlanDuration(t *testing.T) {
	bus, c := newTestCollector(t)

	begin := time.Now().UTC()
	emit(t, bus, domain.Event{Type: domain.EventPlanStarted, AggregateID: "p1", OccurredAt: begin})
	emit(t, bus, domain.Event{Type: domain.EventPlanSucceeded, AggregateID: "p1", OccurredAt: begin.Add(250 * time.Millisecond)})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.plans.WithLabelValues("succeeded")))

	var m dto.Metric
	require.NoError(t, c.planDuration.Write(&m))
	require.NotNil(t, m.Histogram)
	assert.Equal(t, uint64(1), m.Histogram.GetSampleCount())
	assert.InDelta(t, 0.25, m.Histogram.GetSampleSum(), 0.001)

	// Timing state is dropped once observed.
	c.mu.Lock()
	assert.Empty(t, c.started)
	c.mu.Unlock()
}

func TestCollector_CancelledAndFailedPlans(t *testing.T) {
	bus, c := newTestCollector(t)

	emit(t, bus, domain.Event{Type: domain.EventPlanFailed, AggregateID: "p1"})
	emit(t, bus, domain.Event{Type: domain.EventPlanCancelled, AggregateID: "p2"})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.plans.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.plans.WithLabelValues("cancelled")))
}

func TestCollector_IgnoresReplayedEvents(t *testing.T) {
	bus, c := newTestCollector(t)

	emit(t, bus, domain.Event{
		Type:     domain.EventStepSucceeded,
		Payload:  map[string]any{"kind": "shell"},
		Metadata: map[string]any{domain.MetaReplayed: true},
	})

	assert.Equal(t, 0.0, testutil.ToFloat64(c.steps.WithLabelValues("shell", "succeeded")))
}

func TestCollector_CloseStopsCounting(t *testing.T) {
	bus, c := newTestCollector(t)

	emit(t, bus, domain.Event{Type: domain.EventTaskStarted, AggregateID: "t1"})
	c.Close()
	emit(t, bus, domain.Event{Type: domain.EventTaskStarted, AggregateID: "t2"})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues("task.started")))
}

func TestCollector_MissingKindFallsBack(t *testing.T) {
	bus, c := newTestCollector(t)

	emit(t, bus, domain.Event{Type: domain.EventStepFailed})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.steps.WithLabelValues("unknown", "failed")))
}
