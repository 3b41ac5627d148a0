package domain

import "strings"

// StepStatus describes the lifecycle state of a Step.
type StepStatus string

const (
	StepIdle      StepStatus = "idle"
	StepRunning   StepStatus = "running"
	StepPaused    StepStatus = "paused"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepCancelled StepStatus = "cancelled"
)

// Terminal reports whether the status is final for a run.
func (s StepStatus) Terminal() bool {
	return s == StepSucceeded || s == StepFailed || s == StepCancelled
}

// KindTagPrefix marks the capability tag a Step must carry, e.g. "kind:shell".
const KindTagPrefix = "kind:"

// Step is the atomic dispatch unit. Exactly one tag of the form
// "kind:<name>" is expected; the scheduler routes the Step to the executor
// registered for <name>. The scheduler mutates a Step once, in place, as it
// transitions through running to a terminal status.
type Step struct {
	ID       string         `json:"id" yaml:"id"`
	Name     string         `json:"name" yaml:"name"`
	Status   StepStatus     `json:"status,omitempty" yaml:"status,omitempty"`
	Tags     []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Params   map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Error    *Error         `json:"error,omitempty" yaml:"error,omitempty"`
	Outputs  map[string]any `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// Kind extracts the capability name from the first "kind:" tag. A Step
// without one returns the empty string, which no executor matches.
func (s *Step) Kind() string {
	for _, tag := range s.Tags {
		if strings.HasPrefix(tag, KindTagPrefix) {
			return strings.TrimPrefix(tag, KindTagPrefix)
		}
	}
	return ""
}
