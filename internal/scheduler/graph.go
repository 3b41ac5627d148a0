package scheduler

import (
	"fmt"
	"sort"

	"github.com/calyptra/arbor/pkg/domain"
)

// Batch is a set of task IDs with no dependencies among them, safe to run
// concurrently. Batches are emitted in discovery order: batch N+1 only
// contains tasks whose dependencies all settled in batches 1..N.
type Batch []string

// ValidateTasks checks the structural invariants of a task list before
// resolution: non-empty unique IDs and dependsOn references that exist in
// the same plan.
func ValidateTasks(tasks []*domain.Task) error {
	seen := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		if task.ID == "" {
			return fmt.Errorf("task %q has an empty id", task.Name)
		}
		if seen[task.ID] {
			return fmt.Errorf("duplicate task id %q", task.ID)
		}
		seen[task.ID] = true
	}
	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", task.ID, dep)
			}
		}
	}
	return nil
}

// ResolveBatches runs Kahn's topological sort over the dependsOn edges and
// groups the tasks into parallel-safe batches.
//
// Edges point from a dependency to its dependents. The first batch holds
// every task of in-degree zero; draining a batch decrements its dependents,
// and those reaching zero form the next batch. Within a batch, tasks keep
// plan declaration order.
//
// If any task never reaches in-degree zero the graph has a cycle and a
// *domain.CycleError is returned listing every such task. The list is an
// approximation: it includes tasks merely blocked behind the cycle, not
// only its members.
func ResolveBatches(tasks []*domain.Task) ([]Batch, error) {
	if err := ValidateTasks(tasks); err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	// dependency -> dependents, and remaining in-degree per task.
	dependents := make(map[string][]string, len(tasks))
	inDegree := make(map[string]int, len(tasks))
	for _, task := range tasks {
		inDegree[task.ID] = len(task.DependsOn)
		for _, dep := range task.DependsOn {
			dependents[dep] = append(dependents[dep], task.ID)
		}
	}

	var ready Batch
	for _, task := range tasks {
		if inDegree[task.ID] == 0 {
			ready = append(ready, task.ID)
		}
	}

	// Plan declaration order, for stable within-batch ordering.
	order := make(map[string]int, len(tasks))
	for i, task := range tasks {
		order[task.ID] = i
	}

	var batches []Batch
	processed := 0
	for len(ready) > 0 {
		batches = append(batches, ready)
		processed += len(ready)

		var next Batch
		for _, id := range ready {
			for _, dependent := range dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Slice(next, func(i, j int) bool { return order[next[i]] < order[next[j]] })
		ready = next
	}

	if processed < len(tasks) {
		blocked := make([]string, 0, len(tasks)-processed)
		for _, task := range tasks {
			if inDegree[task.ID] > 0 {
				blocked = append(blocked, task.ID)
			}
		}
		return nil, &domain.CycleError{Blocked: blocked}
	}
	return batches, nil
}
