package arbor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/calyptra/arbor/internal/logging"
	"github.com/calyptra/arbor/internal/scheduler"
	"github.com/calyptra/arbor/pkg/adapters/memory"
	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/eventbus"
	"github.com/calyptra/arbor/pkg/ports"
	"github.com/calyptra/arbor/pkg/registry"
)

// Source tags every event the runtime itself emits (metadata.source).
const Source = "runtime"

// AdmissionGate decides whether a plan may execute at all. A non-nil
// error denies the plan; the error message becomes the failure reason.
// The policy package provides an OPA-backed implementation.
type AdmissionGate interface {
	Admit(ctx context.Context, plan *domain.Plan) error
}

// Runtime is the composition root of the engine: it owns one plugin
// registry and one event bus, and runs plans through a fresh scheduler
// per Execute call. Multiple runtimes coexist safely in one process;
// nothing is ambient or global.
type Runtime struct {
	registry *registry.Registry
	bus      *eventbus.Bus
	store    ports.EventStore
	log      *slog.Logger
	gate     AdmissionGate

	historyLimit   int
	maxParallelism int
}

// New assembles a Runtime. By default events persist to an in-memory
// store and logging is off; see the With* options.
func New(opts ...Option) (*Runtime, error) {
	r := &Runtime{
		log: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.maxParallelism < 0 {
		return nil, fmt.Errorf("max parallelism must not be negative, got %d", r.maxParallelism)
	}

	if r.store == nil {
		r.store = memory.NewStore()
	}

	busOpts := []eventbus.Option{
		eventbus.WithLogger(r.log.With("component", "eventbus")),
	}
	if r.historyLimit > 0 {
		busOpts = append(busOpts, eventbus.WithHistoryLimit(r.historyLimit))
	}
	r.bus = eventbus.New(r.store, busOpts...)
	r.registry = registry.New()

	return r, nil
}

// Use installs a plugin: every executor it declares becomes routable by
// its kind, last registration winning. Registration is expected to finish
// before the first Execute.
func (r *Runtime) Use(p registry.Plugin) {
	r.registry.Register(p)
	r.log.Debug("plugin registered", "name", p.Name, "version", p.Version, "kinds", p.Kinds())
}

// On subscribes a handler to a single event type. The returned function
// unsubscribes.
func (r *Runtime) On(t domain.EventType, handler eventbus.Handler) func() {
	return r.bus.On(t, handler)
}

// Subscribe registers a handler for events matching the filter; the zero
// filter matches everything.
func (r *Runtime) Subscribe(filter domain.EventFilter, handler eventbus.Handler) func() {
	return r.bus.Subscribe(filter, handler)
}

// Execute runs the plan to completion and never returns an error: every
// outcome, including a dependency cycle or an admission denial, is data
// on the PlanResult. Callers inspect Status and Error.
//
// The RunContext is completed before dispatch: missing plan and run IDs
// are generated and PlanID is copied onto the context. Cancelling ctx
// stops the run cooperatively between steps; in-flight executors are
// awaited, not killed.
func (r *Runtime) Execute(ctx context.Context, plan *domain.Plan, rc domain.RunContext) domain.PlanResult {
	started := time.Now().UTC()
	if plan == nil {
		return domain.PlanResult{
			Status:     domain.PlanFailed,
			Error:      &domain.Error{Message: "plan is nil"},
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
		}
	}

	if plan.ID == "" {
		plan.ID = NewPlanID()
	}
	if rc.RunID == "" {
		rc.RunID = NewRunID()
	}
	rc.PlanID = plan.ID

	log := r.log.With("run_id", rc.RunID, "plan_id", plan.ID)

	if r.gate != nil {
		if err := r.gate.Admit(ctx, plan); err != nil {
			rejection := &domain.Error{Code: domain.CodePlanRejected, Message: err.Error()}
			plan.Status = domain.PlanFailed
			plan.Error = rejection
			log.Warn("plan rejected by admission gate", "err", err)
			result := domain.PlanResult{
				PlanID:     plan.ID,
				RunID:      rc.RunID,
				Status:     domain.PlanFailed,
				Error:      rejection,
				StartedAt:  started,
				FinishedAt: time.Now().UTC(),
			}
			r.emit(ctx, domain.EventPlanFailed, plan.ID, map[string]any{
				"error": rejection.Message,
				"code":  rejection.Code,
			}, rc)
			return result
		}
	}

	log.Info("plan execution started", "title", plan.Title, "tasks", len(plan.Tasks))
	r.emit(ctx, domain.EventPlanStarted, plan.ID, map[string]any{
		"title": plan.Title,
		"tasks": len(plan.Tasks),
	}, rc)

	sched := scheduler.New(r.registry, r.bus,
		scheduler.WithLogger(log.With("component", "scheduler")),
		scheduler.WithMaxParallelism(r.maxParallelism),
	)

	result, err := sched.ExecutePlan(ctx, plan, rc)
	if err != nil {
		// Resolution is the only path that returns an error; convert it
		// back into the same data-shaped failure every other mode uses.
		failure := &domain.Error{Message: err.Error()}
		var cycleErr *domain.CycleError
		if errors.As(err, &cycleErr) {
			failure.Code = domain.CodeDependencyCycle
		}
		plan.Status = domain.PlanFailed
		plan.Error = failure
		result.Status = domain.PlanFailed
		result.Error = failure
		result.FinishedAt = time.Now().UTC()
	}
	result.StartedAt = started

	switch result.Status {
	case domain.PlanSucceeded:
		log.Info("plan execution succeeded", "tasks", len(result.Tasks))
		r.emit(ctx, domain.EventPlanSucceeded, plan.ID, map[string]any{
			"tasks": len(result.Tasks),
		}, rc)
	case domain.PlanCancelled:
		log.Warn("plan execution cancelled", "err", errText(result.Error))
		r.emit(context.WithoutCancel(ctx), domain.EventPlanCancelled, plan.ID, map[string]any{
			"error": errText(result.Error),
		}, rc)
	default:
		log.Warn("plan execution failed", "err", errText(result.Error))
		payload := map[string]any{"error": errText(result.Error)}
		if result.Error != nil && result.Error.Code != "" {
			payload["code"] = result.Error.Code
		}
		r.emit(context.WithoutCancel(ctx), domain.EventPlanFailed, plan.ID, payload, rc)
	}
	return result
}

// Replay re-delivers persisted events to the current subscribers without
// re-appending them; see eventbus.Bus.Replay.
func (r *Runtime) Replay(ctx context.Context, opts eventbus.ReplayOptions) ([]domain.Event, error) {
	return r.bus.Replay(ctx, opts)
}

// History returns the most recent events from the bus's in-memory ring.
func (r *Runtime) History(limit int) []domain.Event {
	return r.bus.History(limit)
}

// Plugins lists the installed plugins for introspection.
func (r *Runtime) Plugins() []registry.Info {
	return r.registry.Plugins()
}

// Bus exposes the runtime's event bus, for adapters that subscribe or
// query directly (HTTP stream, metrics collector, MCP tools).
func (r *Runtime) Bus() *eventbus.Bus { return r.bus }

// Registry exposes the runtime's plugin registry.
func (r *Runtime) Registry() *registry.Registry { return r.registry }

// Store exposes the event store backing the bus.
func (r *Runtime) Store() ports.EventStore { return r.store }

func (r *Runtime) emit(ctx context.Context, t domain.EventType, aggregateID string, payload map[string]any, rc domain.RunContext) {
	evt := domain.Event{
		Type:        t,
		AggregateID: aggregateID,
		Payload:     payload,
		Metadata: map[string]any{
			domain.MetaSource: Source,
			domain.MetaRunID:  rc.RunID,
		},
	}
	if err := r.bus.Emit(ctx, &evt); err != nil {
		r.log.Error("event emit failed", "type", string(t), "err", err)
	}
}

func errText(err *domain.Error) string {
	if err == nil {
		return ""
	}
	return err.Message
}

// NewRunID returns a fresh short run identifier.
func NewRunID() string {
	return "run_" + uuid.NewString()[:8]
}

// NewPlanID returns a fresh short plan identifier, for callers that build
// plans programmatically without assigning IDs.
func NewPlanID() string {
	return "plan_" + uuid.NewString()[:8]
}
