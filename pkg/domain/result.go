package domain

import "time"

// StepResult is what an executor hands back for one Step: a terminal
// status, optional outputs, an optional error, and optional stats.
// The scheduler stamps StepID when it records the result.
type StepResult struct {
	StepID  string         `json:"stepId,omitempty"`
	Status  StepStatus     `json:"status"`
	Outputs map[string]any `json:"outputs,omitempty"`
	Error   *Error         `json:"error,omitempty"`
	Stats   map[string]any `json:"stats,omitempty"`
}

// TaskResult aggregates the Step results of one Task. Steps holds results
// in execution order; a Step that was never attempted has no entry.
type TaskResult struct {
	TaskID   string        `json:"taskId"`
	Status   TaskStatus    `json:"status"`
	Steps    []StepResult  `json:"steps,omitempty"`
	Error    *Error        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// PlanResult is the outcome of one run. Tasks holds every Task that
// settled before the run ended, in completion batch order. Execute never
// returns an error: callers inspect Status and Error instead.
type PlanResult struct {
	PlanID     string       `json:"planId"`
	RunID      string       `json:"runId"`
	Status     PlanStatus   `json:"status"`
	Tasks      []TaskResult `json:"tasks,omitempty"`
	Error      *Error       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
}

// Failed reports whether the run ended in failure.
func (r PlanResult) Failed() bool { return r.Status == PlanFailed }
