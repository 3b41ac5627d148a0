package dsl

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/calyptra/arbor/pkg/domain"
)

// PlanBuilder accumulates tasks and steps into a domain.Plan. Calls chain;
// Task opens a task and Step/DependsOn apply to the most recently opened
// one. Misuse (Step before any Task) panics: builders run at program
// startup where a loud failure beats a silent half-built plan.
type PlanBuilder struct {
	plan    *domain.Plan
	current *domain.Task
}

// NewPlan starts a plan with a generated ID.
func NewPlan(title string) *PlanBuilder {
	return &PlanBuilder{
		plan: &domain.Plan{
			ID:    "plan_" + uuid.NewString()[:8],
			Title: title,
		},
	}
}

// ID overrides the generated plan ID.
func (b *PlanBuilder) ID(id string) *PlanBuilder {
	b.plan.ID = id
	return b
}

// Task opens a new task; its name doubles as its ID, so dependency
// references read naturally.
func (b *PlanBuilder) Task(name string) *PlanBuilder {
	b.current = &domain.Task{
		ID:   name,
		Name: name,
	}
	b.plan.Tasks = append(b.plan.Tasks, b.current)
	return b
}

// DependsOn wires the current task after the named ones.
func (b *PlanBuilder) DependsOn(taskIDs ...string) *PlanBuilder {
	b.mustTask("DependsOn")
	b.current.DependsOn = append(b.current.DependsOn, taskIDs...)
	return b
}

// Step appends a step of the given kind to the current task. Params may
// be nil.
func (b *PlanBuilder) Step(name, kind string, params map[string]any) *PlanBuilder {
	b.mustTask("Step")
	b.current.Steps = append(b.current.Steps, &domain.Step{
		ID:     fmt.Sprintf("%s-s%d", b.current.ID, len(b.current.Steps)+1),
		Name:   name,
		Tags:   []string{"kind:" + kind},
		Params: params,
	})
	return b
}

// MaxParallelism bounds how many tasks of one batch run concurrently.
func (b *PlanBuilder) MaxParallelism(n int) *PlanBuilder {
	b.constraints().MaxParallelism = n
	return b
}

// Budget declares an advisory cost ceiling for admission gates.
func (b *PlanBuilder) Budget(units float64) *PlanBuilder {
	b.constraints().Budget = units
	return b
}

// Build returns the assembled plan. The builder must not be reused after.
func (b *PlanBuilder) Build() *domain.Plan {
	return b.plan
}

func (b *PlanBuilder) constraints() *domain.Constraints {
	if b.plan.Constraints == nil {
		b.plan.Constraints = &domain.Constraints{}
	}
	return b.plan.Constraints
}

func (b *PlanBuilder) mustTask(method string) {
	if b.current == nil {
		panic(fmt.Sprintf("dsl: %s called before Task", method))
	}
}
