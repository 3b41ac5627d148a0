// Package planfile loads Plan documents from YAML or JSON files and
// validates them before execution. The file format mirrors domain.Plan
// field for field; nothing is interpreted at load time.
package planfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/calyptra/arbor/pkg/domain"
)

// Load reads and validates a plan document. The extension picks the
// parser: .json is JSON, everything else YAML. Missing plan and step IDs
// are filled in; task IDs must be explicit because dependencies name them.
func Load(path string) (*domain.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return Parse(data, strings.ToLower(filepath.Ext(path)))
}

// Parse decodes a plan document from raw bytes. ext selects the format
// as in Load.
func Parse(data []byte, ext string) (*domain.Plan, error) {
	var plan domain.Plan
	if ext == ".json" {
		if err := json.Unmarshal(data, &plan); err != nil {
			return nil, fmt.Errorf("failed to parse plan json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &plan); err != nil {
			return nil, fmt.Errorf("failed to parse plan yaml: %w", err)
		}
	}

	if plan.ID == "" {
		plan.ID = "plan_" + uuid.NewString()[:8]
	}
	for _, task := range plan.Tasks {
		for i, step := range task.Steps {
			if step.ID == "" {
				step.ID = fmt.Sprintf("%s-s%d", task.ID, i+1)
			}
		}
	}

	if err := Validate(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Validate checks the structural rules a plan must satisfy before it can
// run: a title, unique task IDs, dependencies that name declared tasks,
// unique step IDs, and exactly one kind tag per step.
func Validate(plan *domain.Plan) error {
	if plan == nil {
		return fmt.Errorf("plan is nil")
	}
	if plan.Title == "" {
		return fmt.Errorf("plan %s has no title", plan.ID)
	}

	taskIDs := make(map[string]bool, len(plan.Tasks))
	for _, task := range plan.Tasks {
		if task.ID == "" {
			return fmt.Errorf("plan %s contains a task with no id", plan.ID)
		}
		if taskIDs[task.ID] {
			return fmt.Errorf("duplicate task id %q", task.ID)
		}
		taskIDs[task.ID] = true
	}

	stepIDs := make(map[string]bool)
	for _, task := range plan.Tasks {
		for _, dep := range task.DependsOn {
			if !taskIDs[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", task.ID, dep)
			}
		}
		for _, step := range task.Steps {
			if step.ID == "" {
				return fmt.Errorf("task %q contains a step with no id", task.ID)
			}
			if stepIDs[step.ID] {
				return fmt.Errorf("duplicate step id %q", step.ID)
			}
			stepIDs[step.ID] = true

			if n := kindTags(step); n != 1 {
				return fmt.Errorf("step %q must carry exactly one kind tag, found %d", step.ID, n)
			}
		}
	}
	return nil
}

func kindTags(step *domain.Step) int {
	n := 0
	for _, tag := range step.Tags {
		if strings.HasPrefix(tag, domain.KindTagPrefix) {
			n++
		}
	}
	return n
}
