package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyptra/arbor/pkg/adapters/memory"
	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/eventbus"
	"github.com/calyptra/arbor/pkg/registry"
)

// okExecutor succeeds and echoes the step name into its outputs.
func okExecutor(kind string) registry.Executor {
	return registry.Func(kind, func(ctx context.Context, step *domain.Step, rc domain.RunContext) (domain.StepResult, error) {
		return domain.StepResult{
			Status:  domain.StepSucceeded,
			Outputs: map[string]any{"echo": step.Name},
		}, nil
	})
}

func failExecutor(kind, message string) registry.Executor {
	return registry.Func(kind, func(ctx context.Context, step *domain.Step, rc domain.RunContext) (domain.StepResult, error) {
		return domain.StepResult{
			Status: domain.StepFailed,
			Error:  &domain.Error{Message: message},
		}, nil
	})
}

func step(id, kind string) *domain.Step {
	return &domain.Step{ID: id, Name: id, Tags: []string{domain.KindTagPrefix + kind}}
}

func newTestScheduler(t *testing.T, plugins ...registry.Plugin) (*Scheduler, *eventbus.Bus) {
	t.Helper()
	reg := registry.New()
	for _, p := range plugins {
		reg.Register(p)
	}
	bus := eventbus.New(memory.NewStore())
	return New(reg, bus), bus
}

func corePlugin(executors ...registry.Executor) registry.Plugin {
	return registry.Plugin{Name: "test", Version: "0.0.0", Executors: executors}
}

func recordEvents(bus *eventbus.Bus) *[]domain.Event {
	var mu sync.Mutex
	events := &[]domain.Event{}
	bus.Subscribe(domain.EventFilter{}, func(e domain.Event) {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, e)
	})
	return events
}

func eventTypes(events []domain.Event) []domain.EventType {
	out := make([]domain.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestExecutePlan_AllTasksSucceed(t *testing.T) {
	s, bus := newTestScheduler(t, corePlugin(okExecutor("noop")))
	events := recordEvents(bus)

	plan := &domain.Plan{
		ID:    "plan-1",
		Title: "two independent, one dependent",
		Tasks: []*domain.Task{
			{ID: "a", Name: "A", Steps: []*domain.Step{step("a1", "noop")}},
			{ID: "b", Name: "B", Steps: []*domain.Step{step("b1", "noop")}},
			{ID: "c", Name: "C", DependsOn: []string{"a", "b"}, Steps: []*domain.Step{step("c1", "noop")}},
		},
	}

	result, err := s.ExecutePlan(context.Background(), plan, domain.RunContext{RunID: "run-1", PlanID: "plan-1"})
	require.NoError(t, err)

	assert.Equal(t, domain.PlanSucceeded, result.Status)
	assert.Equal(t, domain.PlanSucceeded, plan.Status)
	require.Len(t, result.Tasks, 3)
	for _, tr := range result.Tasks {
		assert.Equal(t, domain.TaskSucceeded, tr.Status)
	}

	// A and B settle (in some order) before C starts.
	var cStartedAt, aStarted, bStarted int
	for i, e := range *events {
		if e.Type == domain.EventTaskStarted {
			switch e.AggregateID {
			case "a":
				aStarted = i
			case "b":
				bStarted = i
			case "c":
				cStartedAt = i
			}
		}
	}
	assert.Greater(t, cStartedAt, aStarted, "task.started for C must come after A's")
	assert.Greater(t, cStartedAt, bStarted, "task.started for C must come after B's")

	// Steps mutated in place.
	assert.Equal(t, domain.StepSucceeded, plan.Tasks[0].Steps[0].Status)
	assert.Equal(t, "a1", plan.Tasks[0].Steps[0].Outputs["echo"])
}

func TestExecutePlan_CycleFailsBeforeAnyDispatch(t *testing.T) {
	s, bus := newTestScheduler(t, corePlugin(okExecutor("noop")))
	events := recordEvents(bus)

	plan := &domain.Plan{
		ID: "plan-cycle",
		Tasks: []*domain.Task{
			{ID: "a", DependsOn: []string{"b"}, Steps: []*domain.Step{step("a1", "noop")}},
			{ID: "b", DependsOn: []string{"a"}, Steps: []*domain.Step{step("b1", "noop")}},
		},
	}

	_, err := s.ExecutePlan(context.Background(), plan, domain.RunContext{RunID: "run-1"})
	var cycleErr *domain.CycleError
	require.True(t, errors.As(err, &cycleErr))

	assert.Empty(t, *events, "no event may be emitted before resolution succeeds")
	assert.Equal(t, domain.TaskStatus(""), plan.Tasks[0].Status, "no task may be touched")
}

func TestExecutePlan_MissingExecutorFailsStepTaskAndPlan(t *testing.T) {
	s, bus := newTestScheduler(t) // nothing registered
	events := recordEvents(bus)

	st := step("s1", "nope")
	plan := &domain.Plan{
		ID:    "plan-missing",
		Tasks: []*domain.Task{{ID: "t1", Name: "T1", Steps: []*domain.Step{st}}},
	}

	result, err := s.ExecutePlan(context.Background(), plan, domain.RunContext{RunID: "run-1"})
	require.NoError(t, err)

	assert.Equal(t, domain.PlanFailed, result.Status)
	assert.Equal(t, domain.StepFailed, st.Status)
	require.NotNil(t, st.Error)
	assert.Equal(t, domain.CodePluginNotFound, st.Error.Code)
	assert.Equal(t, domain.TaskFailed, plan.Tasks[0].Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, domain.CodePluginNotFound, result.Error.Code)

	assert.Equal(t,
		[]domain.EventType{domain.EventTaskStarted, domain.EventStepFailed, domain.EventTaskFailed},
		eventTypes(*events))
}

func TestExecuteTask_StopsAtFirstFailedStep(t *testing.T) {
	s, _ := newTestScheduler(t, corePlugin(okExecutor("ok"), failExecutor("boom", "step exploded")))

	s3 := step("s3", "ok")
	task := &domain.Task{
		ID:   "t1",
		Name: "sequential",
		Steps: []*domain.Step{
			step("s1", "ok"),
			step("s2", "boom"),
			s3,
		},
	}

	result := s.executeTask(context.Background(), task, domain.RunContext{RunID: "run-1"})

	assert.Equal(t, domain.TaskFailed, result.Status)
	require.Len(t, result.Steps, 2, "s3 must never run")
	assert.Equal(t, domain.StepSucceeded, result.Steps[0].Status)
	assert.Equal(t, domain.StepFailed, result.Steps[1].Status)
	assert.Equal(t, "step exploded", result.Error.Message)
	assert.Equal(t, domain.StepStatus(""), s3.Status, "untouched step keeps its zero status")
}

func TestExecutePlan_FailedBatchStopsSubsequentBatches(t *testing.T) {
	s, _ := newTestScheduler(t, corePlugin(okExecutor("ok"), failExecutor("boom", "nope")))

	never := &domain.Task{ID: "later", DependsOn: []string{"bad"}, Steps: []*domain.Step{step("l1", "ok")}}
	plan := &domain.Plan{
		ID: "plan-stop",
		Tasks: []*domain.Task{
			{ID: "good", Steps: []*domain.Step{step("g1", "ok")}},
			{ID: "bad", Steps: []*domain.Step{step("b1", "boom")}},
			never,
		},
	}

	result, err := s.ExecutePlan(context.Background(), plan, domain.RunContext{RunID: "run-1"})
	require.NoError(t, err)

	assert.Equal(t, domain.PlanFailed, result.Status)
	// Both members of the failing batch settled and are reported.
	require.Len(t, result.Tasks, 2)
	statuses := map[string]domain.TaskStatus{}
	for _, tr := range result.Tasks {
		statuses[tr.TaskID] = tr.Status
	}
	assert.Equal(t, domain.TaskSucceeded, statuses["good"])
	assert.Equal(t, domain.TaskFailed, statuses["bad"])

	assert.Equal(t, domain.TaskStatus(""), never.Status, "later batch must stay idle")
}

func TestDispatchStep_ExecutorErrorBecomesFailedResult(t *testing.T) {
	errExec := registry.Func("flaky", func(ctx context.Context, step *domain.Step, rc domain.RunContext) (domain.StepResult, error) {
		return domain.StepResult{}, fmt.Errorf("connection refused")
	})
	s, _ := newTestScheduler(t, corePlugin(errExec))

	st := step("s1", "flaky")
	result := s.dispatchStep(context.Background(), st, domain.RunContext{})

	assert.Equal(t, domain.StepFailed, result.Status)
	assert.Equal(t, "connection refused", result.Error.Message)
	assert.Empty(t, result.Error.Code, "executor failures carry no code")
	assert.Equal(t, domain.StepFailed, st.Status)
}

func TestDispatchStep_ExecutorPanicIsRecovered(t *testing.T) {
	panicky := registry.Func("panicky", func(ctx context.Context, step *domain.Step, rc domain.RunContext) (domain.StepResult, error) {
		panic("kaboom")
	})
	s, _ := newTestScheduler(t, corePlugin(panicky))

	result := s.dispatchStep(context.Background(), step("s1", "panicky"), domain.RunContext{})

	assert.Equal(t, domain.StepFailed, result.Status)
	assert.Contains(t, result.Error.Message, "kaboom")
}

func TestDispatchStep_StepWithoutKindTagFails(t *testing.T) {
	s, _ := newTestScheduler(t, corePlugin(okExecutor("ok")))

	st := &domain.Step{ID: "s1", Name: "untagged"}
	result := s.dispatchStep(context.Background(), st, domain.RunContext{})

	assert.Equal(t, domain.StepFailed, result.Status)
	assert.Equal(t, domain.CodePluginNotFound, result.Error.Code)
}

func TestExecutePlan_MaxParallelismBoundsBatch(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0

	slow := registry.Func("slow", func(ctx context.Context, step *domain.Step, rc domain.RunContext) (domain.StepResult, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return domain.StepResult{Status: domain.StepSucceeded}, nil
	})
	s, _ := newTestScheduler(t, corePlugin(slow))

	plan := &domain.Plan{
		ID:          "plan-bounded",
		Constraints: &domain.Constraints{MaxParallelism: 2},
	}
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("t%d", i)
		plan.Tasks = append(plan.Tasks, &domain.Task{ID: id, Steps: []*domain.Step{step(id+"-s", "slow")}})
	}

	result, err := s.ExecutePlan(context.Background(), plan, domain.RunContext{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.PlanSucceeded, result.Status)
	assert.LessOrEqual(t, peak, 2, "no more than MaxParallelism tasks may overlap")
}

func TestExecutePlan_CancellationMarksRemainingWorkCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	blocker := registry.Func("block", func(ctx context.Context, step *domain.Step, rc domain.RunContext) (domain.StepResult, error) {
		cancel()
		<-ctx.Done()
		return domain.StepResult{Status: domain.StepSucceeded}, nil
	})
	s, _ := newTestScheduler(t, corePlugin(blocker, okExecutor("ok")))

	later := &domain.Task{ID: "later", DependsOn: []string{"first"}, Steps: []*domain.Step{step("l1", "ok")}}
	plan := &domain.Plan{
		ID: "plan-cancel",
		Tasks: []*domain.Task{
			{ID: "first", Steps: []*domain.Step{step("f1", "block"), step("f2", "ok")}},
			later,
		},
	}

	result, err := s.ExecutePlan(ctx, plan, domain.RunContext{RunID: "run-1"})
	require.NoError(t, err)

	assert.Equal(t, domain.PlanCancelled, result.Status)
	require.NotNil(t, result.Error)

	// The in-flight task settles cancelled: its first step finished, the
	// second was never attempted.
	require.Len(t, result.Tasks, 1)
	assert.Equal(t, domain.TaskCancelled, result.Tasks[0].Status)
	require.Len(t, result.Tasks[0].Steps, 1)

	// Later batches stay idle with no events.
	assert.Equal(t, domain.TaskStatus(""), later.Status)
	assert.Equal(t, domain.StepStatus(""), later.Steps[0].Status)
}
