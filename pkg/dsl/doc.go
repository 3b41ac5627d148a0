/*
Package dsl provides a fluent builder for programmatically constructing Arbor plans.

It lets hosts define task graphs in type-safe Go instead of external YAML or JSON files, which is particularly useful for dynamic plan generation, unit testing, and IDE autocompletion.

Example usage:

	plan := dsl.NewPlan("nightly release").
		Task("build").
		Step("compile", "shell", map[string]any{"command": "make"}).
		Task("test").
		DependsOn("build").
		Step("unit", "shell", map[string]any{"command": "gotest"}).
		Task("publish").
		DependsOn("test").
		Step("upload", "http", map[string]any{"method": "POST", "url": "https://example.com/artifacts"}).
		MaxParallelism(2).
		Build()

	// The resulting *domain.Plan goes straight to Runtime.Execute.
*/
package dsl
