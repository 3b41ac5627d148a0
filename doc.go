/*
Package arbor is an embeddable workflow runtime that executes hierarchical plans: a Plan is a set of Tasks wired by dependencies, and each Task is an ordered list of Steps dispatched to pluggable executors.

It implements a "resolve, then fan out" architecture, separating the dependency graph (Plan) from the execution state (results) and side-effects (plugins and event subscribers).

# Concept

Arbor treats a unit of work as a graph of tasks. The runtime resolves the graph into parallel batches, routes every step to the executor registered for its kind, and narrates the whole run on an append-only event bus. Your application ("Host") supplies the executors and listens to the events. This Hexagonal Architecture allows Arbor to be embedded in any interface: CLI, HTTP server, or agent infrastructure.

# Key Features

  - Dependency-Aware Scheduling: Tasks run in topological batches, independent tasks concurrently.
  - Hexagonal Architecture: Core logic is decoupled from adapters (event stores, HTTP, MCP).
  - Event Sourcing: Every lifecycle transition is an immutable event, persistable and replayable.
  - Failures As Data: Execute never returns an error; cycles, rejections, and step failures all land on the result.

# Usage

Construct a Runtime, install plugins, subscribe to events, and execute plans.

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/calyptra/arbor"
		"github.com/calyptra/arbor/pkg/domain"
		"github.com/calyptra/arbor/pkg/dsl"
		"github.com/calyptra/arbor/pkg/registry"
	)

	func main() {
		rt, err := arbor.New(arbor.WithEventLog(".arbor/events.ndjson"))
		if err != nil {
			log.Fatal(err)
		}

		// Install an executor for steps of kind "shell".
		rt.Use(registry.Plugin{
			Name:    "shell",
			Version: "1.0.0",
			Executors: []registry.Executor{
				registry.Func("shell", func(ctx context.Context, step *domain.Step, rc domain.RunContext) (domain.StepResult, error) {
					fmt.Println("running", step.Name)
					return domain.StepResult{Status: domain.StepSucceeded}, nil
				}),
			},
		})

		// Watch the run as it happens.
		off := rt.On(domain.EventTaskSucceeded, func(e domain.Event) {
			fmt.Println("done:", e.AggregateID)
		})
		defer off()

		plan := dsl.NewPlan("release").
			Task("build").
			Step("compile", "shell", nil).
			Task("publish").
			DependsOn("build").
			Step("upload", "shell", nil).
			Build()

		result := rt.Execute(context.Background(), plan, domain.RunContext{})
		fmt.Println("plan:", result.Status)
	}
*/
package arbor
