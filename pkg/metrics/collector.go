// Package metrics feeds prometheus instrumentation from the event bus.
// The collector is a plain subscriber: attach it to a bus and every live
// event increments the matching series; replayed events are ignored so a
// replay never inflates counters.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/eventbus"
)

// Collector holds the arbor metric families and the plan timing state.
type Collector struct {
	events       *prometheus.CounterVec
	steps        *prometheus.CounterVec
	plans        *prometheus.CounterVec
	planDuration prometheus.Histogram

	mu      sync.Mutex
	started map[string]time.Time

	unsubscribe func()
}

type config struct {
	registerer prometheus.Registerer
}

// Option configures the collector.
type Option func(*config)

// WithRegisterer registers the metric families somewhere other than the
// default prometheus registry, e.g. a per-test registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) {
		if reg != nil {
			c.registerer = reg
		}
	}
}

// New builds the collector, registers its families, and subscribes it to
// the bus. Call Close to unsubscribe.
func New(bus *eventbus.Bus, opts ...Option) (*Collector, error) {
	cfg := &config{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(cfg)
	}

	c := &Collector{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_events_total",
				Help: "Total lifecycle events emitted, by type.",
			},
			[]string{"type"},
		),
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_steps_total",
				Help: "Total steps finished, by kind and terminal status.",
			},
			[]string{"kind", "status"},
		),
		plans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_plans_total",
				Help: "Total plans finished, by terminal status.",
			},
			[]string{"status"},
		),
		planDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "arbor_plan_duration_seconds",
				Help:    "Wall time from plan.started to the plan's terminal event.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		started: make(map[string]time.Time),
	}

	for _, col := range []prometheus.Collector{c.events, c.steps, c.plans, c.planDuration} {
		if err := cfg.registerer.Register(col); err != nil {
			return nil, err
		}
	}

	c.unsubscribe = bus.Subscribe(domain.EventFilter{}, c.handle)
	return c, nil
}

// Close detaches the collector from the bus. Registered families remain
// readable with their final values.
func (c *Collector) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

func (c *Collector) handle(e domain.Event) {
	if e.Replayed() {
		return
	}
	c.events.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case domain.EventStepSucceeded:
		c.steps.WithLabelValues(stepKind(e), "succeeded").Inc()
	case domain.EventStepFailed:
		c.steps.WithLabelValues(stepKind(e), "failed").Inc()
	case domain.EventStepCompleted:
		status, _ := e.Payload["status"].(string)
		if status == "" {
			status = "completed"
		}
		c.steps.WithLabelValues(stepKind(e), status).Inc()
	case domain.EventPlanStarted:
		c.mu.Lock()
		c.started[e.AggregateID] = e.OccurredAt
		c.mu.Unlock()
	case domain.EventPlanSucceeded, domain.EventPlanFailed, domain.EventPlanCancelled:
		c.plans.WithLabelValues(strings.TrimPrefix(string(e.Type), "plan.")).Inc()
		c.mu.Lock()
		if start, ok := c.started[e.AggregateID]; ok {
			c.planDuration.Observe(e.OccurredAt.Sub(start).Seconds())
			delete(c.started, e.AggregateID)
		}
		c.mu.Unlock()
	}
}

func stepKind(e domain.Event) string {
	if kind, ok := e.Payload["kind"].(string); ok && kind != "" {
		return kind
	}
	return "unknown"
}
