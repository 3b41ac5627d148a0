package arbor_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/calyptra/arbor"
	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/eventbus"
	"github.com/calyptra/arbor/pkg/registry"
)

func noopPlugin() registry.Plugin {
	return registry.Plugin{
		Name:    "noop",
		Version: "0.0.1",
		Executors: []registry.Executor{
			registry.Func("noop", func(ctx context.Context, step *domain.Step, rc domain.RunContext) (domain.StepResult, error) {
				return domain.StepResult{Status: domain.StepSucceeded}, nil
			}),
		},
	}
}

func noopTask(id string, deps ...string) *domain.Task {
	return &domain.Task{
		ID:        id,
		Name:      id,
		DependsOn: deps,
		Steps: []*domain.Step{
			{ID: id + "-s1", Name: id + " step", Tags: []string{"kind:noop"}},
		},
	}
}

// Scenario: A and B independent, C depends on both. C must start only
// after A and B, and the plan succeeds.
func TestExecute_DiamondOrdering(t *testing.T) {
	rt, err := arbor.New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	rt.Use(noopPlugin())

	var mu sync.Mutex
	var started []string
	rt.On(domain.EventTaskStarted, func(e domain.Event) {
		mu.Lock()
		started = append(started, e.AggregateID)
		mu.Unlock()
	})

	plan := &domain.Plan{
		ID:    "plan-diamond",
		Title: "diamond",
		Tasks: []*domain.Task{
			noopTask("A"),
			noopTask("B"),
			noopTask("C", "A", "B"),
		},
	}

	result := rt.Execute(context.Background(), plan, domain.RunContext{})
	if result.Status != domain.PlanSucceeded {
		t.Fatalf("expected plan succeeded, got %s (error: %v)", result.Status, result.Error)
	}
	if len(result.Tasks) != 3 {
		t.Fatalf("expected 3 task results, got %d", len(result.Tasks))
	}
	if !strings.HasPrefix(result.RunID, "run_") {
		t.Errorf("expected generated run id, got %q", result.RunID)
	}

	if len(started) != 3 {
		t.Fatalf("expected 3 task.started events, got %d: %v", len(started), started)
	}
	if started[2] != "C" {
		t.Errorf("expected C to start last, got order %v", started)
	}
}

// Scenario: A and B depend on each other. The plan fails with
// DEPENDENCY_CYCLE before any task starts.
func TestExecute_CycleFailsPlan(t *testing.T) {
	rt, err := arbor.New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	rt.Use(noopPlugin())

	taskStarts := 0
	rt.On(domain.EventTaskStarted, func(e domain.Event) { taskStarts++ })

	plan := &domain.Plan{
		ID:    "plan-cycle",
		Title: "cycle",
		Tasks: []*domain.Task{
			noopTask("A", "B"),
			noopTask("B", "A"),
		},
	}

	result := rt.Execute(context.Background(), plan, domain.RunContext{})
	if result.Status != domain.PlanFailed {
		t.Fatalf("expected plan failed, got %s", result.Status)
	}
	if result.Error == nil || result.Error.Code != domain.CodeDependencyCycle {
		t.Fatalf("expected DEPENDENCY_CYCLE, got %v", result.Error)
	}
	if taskStarts != 0 {
		t.Errorf("expected no task.started events, got %d", taskStarts)
	}
	if plan.Status != domain.PlanFailed {
		t.Errorf("expected plan marked failed, got %s", plan.Status)
	}
}

// Scenario: a step with an unregistered kind fails the step, its task,
// and the plan with PLUGIN_NOT_FOUND.
func TestExecute_UnknownKindFailsPlan(t *testing.T) {
	rt, err := arbor.New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	plan := &domain.Plan{
		ID:    "plan-unknown",
		Title: "unknown kind",
		Tasks: []*domain.Task{
			{
				ID:   "t1",
				Name: "t1",
				Steps: []*domain.Step{
					{ID: "s1", Name: "mystery", Tags: []string{"kind:nope"}},
				},
			},
		},
	}

	result := rt.Execute(context.Background(), plan, domain.RunContext{})
	if result.Status != domain.PlanFailed {
		t.Fatalf("expected plan failed, got %s", result.Status)
	}
	if len(result.Tasks) != 1 || result.Tasks[0].Status != domain.TaskFailed {
		t.Fatalf("expected one failed task, got %+v", result.Tasks)
	}
	stepResult := result.Tasks[0].Steps[0]
	if stepResult.Error == nil || stepResult.Error.Code != domain.CodePluginNotFound {
		t.Fatalf("expected PLUGIN_NOT_FOUND on step, got %v", stepResult.Error)
	}
}

// Scenario: a fresh runtime over an existing NDJSON log replays exactly
// the persisted events, tagged replayed, in chronological order.
func TestReplay_FromSharedEventLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")

	first, err := arbor.New(arbor.WithEventLog(path))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	first.Use(noopPlugin())
	plan := &domain.Plan{
		ID:    "plan-log",
		Title: "log",
		Tasks: []*domain.Task{noopTask("only")},
	}
	if res := first.Execute(context.Background(), plan, domain.RunContext{}); res.Status != domain.PlanSucceeded {
		t.Fatalf("seed run failed: %v", res.Error)
	}

	second, err := arbor.New(arbor.WithEventLog(path))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var delivered []domain.Event
	second.Subscribe(domain.EventFilter{}, func(e domain.Event) {
		delivered = append(delivered, e)
	})

	replayed, err := second.Replay(context.Background(), eventbus.ReplayOptions{})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(replayed) == 0 {
		t.Fatal("expected replayed events, got none")
	}
	if len(delivered) != len(replayed) {
		t.Fatalf("subscriber saw %d events, replay returned %d", len(delivered), len(replayed))
	}
	for i, e := range replayed {
		if !e.Replayed() {
			t.Errorf("event %d (%s) missing replayed metadata", i, e.Type)
		}
		if i > 0 && e.OccurredAt.Before(replayed[i-1].OccurredAt) {
			t.Errorf("events out of chronological order at %d", i)
		}
	}

	// Replay must not have re-appended: a second replay sees the same count.
	again, err := second.Replay(context.Background(), eventbus.ReplayOptions{})
	if err != nil {
		t.Fatalf("second Replay failed: %v", err)
	}
	if len(again) != len(replayed) {
		t.Errorf("replay not idempotent: %d then %d events", len(replayed), len(again))
	}
}

type denyGate struct{ reason string }

func (g denyGate) Admit(ctx context.Context, plan *domain.Plan) error {
	return &domain.Error{Message: g.reason}
}

func TestExecute_AdmissionGateRejectsPlan(t *testing.T) {
	rt, err := arbor.New(arbor.WithAdmissionGate(denyGate{reason: "quota exhausted"}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	rt.Use(noopPlugin())

	var types []domain.EventType
	rt.Subscribe(domain.EventFilter{}, func(e domain.Event) {
		types = append(types, e.Type)
	})

	plan := &domain.Plan{
		ID:    "plan-denied",
		Title: "denied",
		Tasks: []*domain.Task{noopTask("t1")},
	}

	result := rt.Execute(context.Background(), plan, domain.RunContext{})
	if result.Status != domain.PlanFailed {
		t.Fatalf("expected plan failed, got %s", result.Status)
	}
	if result.Error == nil || result.Error.Code != domain.CodePlanRejected {
		t.Fatalf("expected PLAN_REJECTED, got %v", result.Error)
	}
	if !strings.Contains(result.Error.Message, "quota exhausted") {
		t.Errorf("expected gate reason in message, got %q", result.Error.Message)
	}
	if len(types) != 1 || types[0] != domain.EventPlanFailed {
		t.Errorf("expected only plan.failed, got %v", types)
	}
}

func TestExecute_CancellationCancelsPlan(t *testing.T) {
	rt, err := arbor.New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	release := make(chan struct{})
	rt.Use(registry.Plugin{
		Name:    "slow",
		Version: "0.0.1",
		Executors: []registry.Executor{
			registry.Func("slow", func(ctx context.Context, step *domain.Step, rc domain.RunContext) (domain.StepResult, error) {
				<-release
				return domain.StepResult{Status: domain.StepSucceeded}, nil
			}),
		},
	})

	var mu sync.Mutex
	var types []domain.EventType
	rt.Subscribe(domain.EventFilter{}, func(e domain.Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	})

	plan := &domain.Plan{
		ID:    "plan-cancel",
		Title: "cancel",
		Tasks: []*domain.Task{
			{ID: "t1", Name: "t1", Steps: []*domain.Step{
				{ID: "s1", Name: "block", Tags: []string{"kind:slow"}},
				{ID: "s2", Name: "never", Tags: []string{"kind:slow"}},
			}},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
		close(release)
	}()

	result := rt.Execute(ctx, plan, domain.RunContext{})
	if result.Status != domain.PlanCancelled {
		t.Fatalf("expected plan cancelled, got %s", result.Status)
	}
	if result.Error == nil || result.Error.Message == "" {
		t.Error("expected cancellation reason on result")
	}

	mu.Lock()
	defer mu.Unlock()
	var sawPlanCancelled bool
	for _, tp := range types {
		if tp == domain.EventPlanCancelled {
			sawPlanCancelled = true
		}
	}
	if !sawPlanCancelled {
		t.Errorf("expected plan.cancelled event, got %v", types)
	}
}

func TestExecute_NilPlanFails(t *testing.T) {
	rt, err := arbor.New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	result := rt.Execute(context.Background(), nil, domain.RunContext{})
	if result.Status != domain.PlanFailed {
		t.Fatalf("expected plan failed, got %s", result.Status)
	}
}

func TestHistory_ReflectsRecentRun(t *testing.T) {
	rt, err := arbor.New(arbor.WithHistoryLimit(4))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	rt.Use(noopPlugin())

	plan := &domain.Plan{
		ID:    "plan-history",
		Title: "history",
		Tasks: []*domain.Task{noopTask("a"), noopTask("b", "a")},
	}
	if res := rt.Execute(context.Background(), plan, domain.RunContext{RunID: "run_fixed"}); res.Status != domain.PlanSucceeded {
		t.Fatalf("run failed: %v", res.Error)
	}

	recent := rt.History(0)
	if len(recent) != 4 {
		t.Fatalf("expected history capped at 4, got %d", len(recent))
	}
	if last := recent[len(recent)-1]; last.Type != domain.EventPlanSucceeded {
		t.Errorf("expected plan.succeeded last, got %s", last.Type)
	}
}
