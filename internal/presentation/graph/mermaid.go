// Package graph renders plans as Mermaid flowcharts for docs and the
// `arbor graph` command.
package graph

import (
	"fmt"
	"strings"

	"github.com/calyptra/arbor/pkg/domain"
)

// GraphOverlay contains dynamic run state to visualize on the graph.
type GraphOverlay struct {
	// Statuses maps task IDs to the status to color them with.
	Statuses map[string]domain.TaskStatus
}

// StatusOverlay derives an overlay from the statuses recorded on the plan
// itself, e.g. after a run. Returns nil when every task is still idle, so
// a never-run plan renders without styling.
func StatusOverlay(plan *domain.Plan) *GraphOverlay {
	overlay := &GraphOverlay{Statuses: make(map[string]domain.TaskStatus, len(plan.Tasks))}
	for _, task := range plan.Tasks {
		if task.Status != "" && task.Status != domain.TaskIdle {
			overlay.Statuses[task.ID] = task.Status
		}
	}
	if len(overlay.Statuses) == 0 {
		return nil
	}
	return overlay
}

// GenerateMermaid produces a Mermaid flowchart of the plan's task graph.
// It applies semantic styling:
// - Entry task (no dependencies): ((Circle))
// - Multi-step task: [[Subroutine]]
// - Default: [Rectangle]
// Dependency edges point from prerequisite to dependent. Overlay statuses
// (running/succeeded/failed/...) are applied as class styles if provided.
func GenerateMermaid(plan *domain.Plan, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, task := range plan.Tasks {
		// Sanitize ID for Mermaid
		safeID := sanitizeMermaidID(task.ID)

		// Node shape based on role
		opener, closer := "[", "]"
		switch {
		case len(task.DependsOn) == 0:
			opener, closer = "((", "))" // Circle
		case len(task.Steps) > 1:
			opener, closer = "[[", "]]" // Subroutine
		}

		label := taskLabel(task)
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, label, closer))

		// Dependency edges
		for _, dep := range task.DependsOn {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", sanitizeMermaidID(dep), safeID))
		}
	}

	// Apply overlay styles
	if overlay != nil && len(overlay.Statuses) > 0 {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast regardless of theme
		sb.WriteString("    classDef running fill:#fff8e1,stroke:#f57f17,stroke-width:4px,color:#000;\n")
		sb.WriteString("    classDef succeeded fill:#e8f5e9,stroke:#1b5e20,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef failed fill:#ffebee,stroke:#b71c1c,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef cancelled fill:#eceff1,stroke:#455a64,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef blocked fill:#ede7f6,stroke:#4527a0,stroke-width:2px,color:#000;\n")

		// Walk the plan, not the map, so output order is stable.
		for _, task := range plan.Tasks {
			status, ok := overlay.Statuses[task.ID]
			if !ok {
				continue
			}
			sb.WriteString(fmt.Sprintf("    class %s %s;\n", sanitizeMermaidID(task.ID), string(status)))
		}
	}

	return sb.String()
}

// taskLabel renders the node text: the task name (falling back to the ID)
// plus the step kinds it dispatches.
func taskLabel(task *domain.Task) string {
	name := task.Name
	if name == "" {
		name = task.ID
	}
	// Escape double quotes for Mermaid labels
	name = strings.ReplaceAll(name, "\"", "'")

	kinds := make([]string, 0, len(task.Steps))
	seen := make(map[string]bool, len(task.Steps))
	for _, step := range task.Steps {
		if kind := step.Kind(); kind != "" && !seen[kind] {
			seen[kind] = true
			kinds = append(kinds, kind)
		}
	}
	if len(kinds) == 0 {
		return name
	}
	return fmt.Sprintf("%s <br/> %s", name, strings.Join(kinds, ", "))
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
