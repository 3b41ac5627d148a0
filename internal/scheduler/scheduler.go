// Package scheduler executes a Plan: it resolves the task dependency graph
// into parallel-safe batches, runs tasks within a batch concurrently, runs
// the steps of each task strictly in order, dispatches every step through
// the plugin registry, and emits one lifecycle event per transition.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calyptra/arbor/internal/logging"
	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/eventbus"
	"github.com/calyptra/arbor/pkg/registry"
)

// Source tags every event the scheduler emits (metadata.source).
const Source = "scheduler"

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger for dispatch diagnostics and emit failures.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMaxParallelism bounds concurrent tasks within a batch when the plan
// itself declares no bound. Zero means unbounded.
func WithMaxParallelism(n int) Option {
	return func(s *Scheduler) { s.maxParallel = n }
}

// Scheduler is a single-run plan executor bound to one registry and one
// bus at construction time. It holds no global state; multiple schedulers
// can run side by side against different runtimes.
type Scheduler struct {
	registry    *registry.Registry
	bus         *eventbus.Bus
	log         *slog.Logger
	maxParallel int
}

// New creates a Scheduler bound to the given registry and bus.
func New(reg *registry.Registry, bus *eventbus.Bus, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry: reg,
		bus:      bus,
		log:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExecutePlan runs every batch of the plan in order, fanning tasks of one
// batch out to goroutines and waiting for all of them to settle before the
// next batch starts. Task results accumulate regardless of outcome; the
// first batch containing a failed task ends the run with a failed result
// and later batches never start.
//
// The returned error is non-nil only when dependency resolution fails
// (cycle or invalid reference); in that case no task was dispatched and
// no event emitted. Every other failure mode is data on the PlanResult.
func (s *Scheduler) ExecutePlan(ctx context.Context, plan *domain.Plan, rc domain.RunContext) (domain.PlanResult, error) {
	result := domain.PlanResult{
		PlanID:    plan.ID,
		RunID:     rc.RunID,
		StartedAt: time.Now().UTC(),
	}

	batches, err := ResolveBatches(plan.Tasks)
	if err != nil {
		return result, err
	}

	plan.Status = domain.PlanRunning

	limit := plan.MaxParallelism()
	if limit <= 0 {
		limit = s.maxParallel
	}

	for _, batch := range batches {
		if ctx.Err() != nil {
			// Later batches stay idle: no status change, no events.
			return s.finishCancelled(ctx, plan, result), nil
		}

		tasks := make([]*domain.Task, 0, len(batch))
		for _, id := range batch {
			tasks = append(tasks, plan.Task(id))
		}

		batchResults := s.runBatch(ctx, tasks, rc, limit)
		result.Tasks = append(result.Tasks, batchResults...)

		if ctx.Err() != nil {
			return s.finishCancelled(ctx, plan, result), nil
		}
		for _, tr := range batchResults {
			if tr.Status == domain.TaskFailed {
				plan.Status = domain.PlanFailed
				plan.Error = tr.Error
				result.Status = domain.PlanFailed
				result.Error = tr.Error
				result.FinishedAt = time.Now().UTC()
				return result, nil
			}
		}
	}

	plan.Status = domain.PlanSucceeded
	result.Status = domain.PlanSucceeded
	result.FinishedAt = time.Now().UTC()
	return result, nil
}

func (s *Scheduler) finishCancelled(ctx context.Context, plan *domain.Plan, result domain.PlanResult) domain.PlanResult {
	cause := context.Cause(ctx)
	plan.Status = domain.PlanCancelled
	plan.Error = &domain.Error{Message: cause.Error()}
	result.Status = domain.PlanCancelled
	result.Error = plan.Error
	result.FinishedAt = time.Now().UTC()
	return result
}

// taskExecution carries one settled task result back over the fan-in
// channel, keyed by its position in the batch for stable ordering.
type taskExecution struct {
	index  int
	result domain.TaskResult
}

// runBatch fans the batch out to goroutines, bounded by limit, and waits
// for every launched task to settle. On cancellation mid-batch, tasks that
// never launched are marked cancelled without running any step.
func (s *Scheduler) runBatch(ctx context.Context, tasks []*domain.Task, rc domain.RunContext, limit int) []domain.TaskResult {
	n := len(tasks)
	if n == 0 {
		return nil
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	sem := make(chan struct{}, limit)
	resultsCh := make(chan taskExecution, n)
	launched := make([]bool, n)

	var wg sync.WaitGroup
launch:
	for i, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		// Avoid blocking on a semaphore slot once the run is cancelled.
		select {
		case <-ctx.Done():
			break launch
		case sem <- struct{}{}:
		}

		launched[i] = true
		wg.Add(1)
		go func(i int, task *domain.Task) {
			defer wg.Done()
			defer func() { <-sem }()
			resultsCh <- taskExecution{index: i, result: s.executeTask(ctx, task, rc)}
		}(i, task)
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	ordered := make([]domain.TaskResult, n)
	for te := range resultsCh {
		ordered[te.index] = te.result
	}

	// Tasks selected for this batch but never launched settle as cancelled.
	for i, task := range tasks {
		if !launched[i] {
			ordered[i] = s.cancelTask(ctx, task, rc)
		}
	}
	return ordered
}

// executeTask runs the steps of one task strictly in declaration order.
// The loop stops at the first failed step: the task fails with that step's
// error and the remaining steps are never attempted.
func (s *Scheduler) executeTask(ctx context.Context, task *domain.Task, rc domain.RunContext) domain.TaskResult {
	started := time.Now()
	task.Status = domain.TaskRunning
	s.emit(ctx, domain.EventTaskStarted, task.ID, map[string]any{
		"name": task.Name,
	}, rc)

	result := domain.TaskResult{TaskID: task.ID}
	for _, step := range task.Steps {
		if ctx.Err() != nil {
			cancelled := s.cancelTask(ctx, task, rc)
			cancelled.Steps = result.Steps
			cancelled.Duration = time.Since(started)
			return cancelled
		}

		stepResult := s.dispatchStep(ctx, step, rc)
		result.Steps = append(result.Steps, stepResult)

		if stepResult.Status == domain.StepFailed {
			task.Status = domain.TaskFailed
			task.Error = stepResult.Error
			result.Status = domain.TaskFailed
			result.Error = stepResult.Error
			result.Duration = time.Since(started)
			s.emit(ctx, domain.EventTaskFailed, task.ID, map[string]any{
				"name":  task.Name,
				"step":  step.ID,
				"error": errorMessage(stepResult.Error),
			}, rc)
			return result
		}
	}

	task.Status = domain.TaskSucceeded
	result.Status = domain.TaskSucceeded
	result.Duration = time.Since(started)
	s.emit(ctx, domain.EventTaskSucceeded, task.ID, map[string]any{
		"name":  task.Name,
		"steps": len(result.Steps),
	}, rc)
	return result
}

// cancelTask marks a task cancelled, carrying the cancellation cause, and
// emits task.cancelled. The emit uses a detached context so the event
// still reaches the store after the run context is done.
func (s *Scheduler) cancelTask(ctx context.Context, task *domain.Task, rc domain.RunContext) domain.TaskResult {
	cause := context.Cause(ctx)
	task.Status = domain.TaskCancelled
	task.Error = &domain.Error{Message: cause.Error()}
	s.emit(context.WithoutCancel(ctx), domain.EventTaskCancelled, task.ID, map[string]any{
		"name":  task.Name,
		"error": cause.Error(),
	}, rc)
	return domain.TaskResult{
		TaskID: task.ID,
		Status: domain.TaskCancelled,
		Error:  task.Error,
	}
}

// dispatchStep routes one step to the executor registered for its kind and
// applies the result to the step in place. A missing executor fails the
// step with code PLUGIN_NOT_FOUND. Executor errors and panics are
// converted into failed results at this boundary and never propagate.
func (s *Scheduler) dispatchStep(ctx context.Context, step *domain.Step, rc domain.RunContext) domain.StepResult {
	kind := step.Kind()
	step.Status = domain.StepRunning

	exec, ok := s.registry.Get(kind)
	if !ok {
		result := domain.StepResult{
			StepID: step.ID,
			Status: domain.StepFailed,
			Error: &domain.Error{
				Code:    domain.CodePluginNotFound,
				Message: fmt.Sprintf("no executor registered for kind %q", kind),
			},
		}
		s.applyStepResult(ctx, step, result, rc)
		return result
	}

	result := s.invoke(ctx, exec, step, rc)
	result.StepID = step.ID
	s.applyStepResult(ctx, step, result, rc)
	return result
}

// invoke calls the executor, recovering panics and converting returned
// errors into failed results. The original message is preserved on the
// step's error; no code is attached.
func (s *Scheduler) invoke(ctx context.Context, exec registry.Executor, step *domain.Step, rc domain.RunContext) (result domain.StepResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("executor panicked", "kind", step.Kind(), "step", step.ID, "panic", r)
			result = domain.StepResult{
				Status: domain.StepFailed,
				Error:  &domain.Error{Message: fmt.Sprintf("executor panic: %v", r)},
			}
		}
	}()

	result, err := exec.Execute(ctx, step, rc)
	if err != nil {
		return domain.StepResult{
			Status: domain.StepFailed,
			Error:  &domain.Error{Message: err.Error()},
		}
	}
	if !result.Status.Terminal() {
		// A well-behaved executor returns a terminal status; tolerate the
		// omission rather than wedging the step in running.
		result.Status = domain.StepSucceeded
	}
	return result
}

// applyStepResult copies the terminal status, outputs, and error from the
// result onto the step and emits the matching lifecycle event.
func (s *Scheduler) applyStepResult(ctx context.Context, step *domain.Step, result domain.StepResult, rc domain.RunContext) {
	step.Status = result.Status
	step.Outputs = result.Outputs
	step.Error = result.Error

	payload := map[string]any{
		"name": step.Name,
		"kind": step.Kind(),
	}

	var eventType domain.EventType
	switch result.Status {
	case domain.StepSucceeded:
		eventType = domain.EventStepSucceeded
	case domain.StepFailed:
		eventType = domain.EventStepFailed
		payload["error"] = errorMessage(result.Error)
	default:
		eventType = domain.EventStepCompleted
		payload["status"] = string(result.Status)
	}
	s.emit(ctx, eventType, step.ID, payload, rc)
}

// emit publishes one scheduler event, stamped with the run it belongs to.
// Emit failures are logged, never surfaced into the run: a broken store
// must not fail a plan.
func (s *Scheduler) emit(ctx context.Context, t domain.EventType, aggregateID string, payload map[string]any, rc domain.RunContext) {
	evt := domain.Event{
		Type:        t,
		AggregateID: aggregateID,
		Payload:     payload,
		Metadata: map[string]any{
			domain.MetaSource: Source,
			domain.MetaRunID:  rc.RunID,
		},
	}
	if err := s.bus.Emit(ctx, &evt); err != nil {
		s.log.Error("event emit failed", "type", string(t), "aggregate", aggregateID, "err", err)
	}
}

func errorMessage(err *domain.Error) string {
	if err == nil {
		return ""
	}
	return err.Message
}
