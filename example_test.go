package arbor_test

import (
	"context"
	"fmt"
	"log"

	"github.com/calyptra/arbor"
	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/registry"
)

// ExampleRuntime demonstrates embedding Arbor as a library: register an
// executor, subscribe to lifecycle events, and run a plan built from
// plain structs.
func ExampleRuntime() {
	// 1. Construct a runtime. Events stay in memory by default.
	rt, err := arbor.New()
	if err != nil {
		log.Fatal(err)
	}

	// 2. Install an executor for steps tagged kind:echo.
	rt.Use(registry.Plugin{
		Name:    "echo",
		Version: "1.0.0",
		Executors: []registry.Executor{
			registry.Func("echo", func(ctx context.Context, step *domain.Step, rc domain.RunContext) (domain.StepResult, error) {
				fmt.Println("step:", step.Name)
				return domain.StepResult{
					Status:  domain.StepSucceeded,
					Outputs: map[string]any{"echoed": step.Name},
				}, nil
			}),
		},
	})

	// 3. Watch tasks finish as the run progresses.
	off := rt.On(domain.EventTaskSucceeded, func(e domain.Event) {
		fmt.Println("task done:", e.AggregateID)
	})
	defer off()

	// 4. Execute a two-step plan.
	plan := &domain.Plan{
		ID:    "plan-example",
		Title: "greeting",
		Tasks: []*domain.Task{
			{
				ID:   "build",
				Name: "build",
				Steps: []*domain.Step{
					{ID: "s1", Name: "hello", Tags: []string{"kind:echo"}},
					{ID: "s2", Name: "world", Tags: []string{"kind:echo"}},
				},
			},
		},
	}

	result := rt.Execute(context.Background(), plan, domain.RunContext{})
	fmt.Println("plan:", result.Status)

	// Output:
	// step: hello
	// step: world
	// task done: build
	// plan: succeeded
}
