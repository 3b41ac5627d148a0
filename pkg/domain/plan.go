package domain

// PlanStatus describes the lifecycle state of a Plan.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanApproved  PlanStatus = "approved"
	PlanRunning   PlanStatus = "running"
	PlanSucceeded PlanStatus = "succeeded"
	PlanFailed    PlanStatus = "failed"
	PlanCancelled PlanStatus = "cancelled"
)

// Terminal reports whether the status is final for a run.
func (s PlanStatus) Terminal() bool {
	return s == PlanSucceeded || s == PlanFailed || s == PlanCancelled
}

// Constraints carries optional execution limits declared on a Plan.
// The scheduler honors MaxParallelism; Budget and MaxLatency are
// advisory and enforced by collaborators (e.g. an admission gate).
type Constraints struct {
	// Budget is an abstract cost ceiling in caller-defined units.
	Budget float64 `json:"budget,omitempty" yaml:"budget,omitempty"`
	// MaxLatency is the acceptable end-to-end latency in milliseconds.
	MaxLatency int64 `json:"maxLatency,omitempty" yaml:"maxLatency,omitempty"`
	// MaxParallelism bounds concurrent Tasks within one batch. Zero means unbounded.
	MaxParallelism int `json:"maxParallelism,omitempty" yaml:"maxParallelism,omitempty"`
}

// Plan is a named workflow: an ordered list of Tasks plus optional
// constraints. A Plan is created by the caller, mutated only by the
// scheduler during a run, and immutable once the run completes; retrying
// requires a fresh Plan.
type Plan struct {
	ID          string       `json:"id" yaml:"id"`
	Title       string       `json:"title" yaml:"title"`
	Status      PlanStatus   `json:"status,omitempty" yaml:"status,omitempty"`
	Tasks       []*Task      `json:"tasks" yaml:"tasks"`
	Constraints *Constraints `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Error       *Error       `json:"error,omitempty" yaml:"error,omitempty"`
}

// Task returns the Task with the given ID, or nil.
func (p *Plan) Task(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// MaxParallelism returns the declared batch concurrency bound, or zero
// when the Plan carries no constraints.
func (p *Plan) MaxParallelism() int {
	if p.Constraints == nil {
		return 0
	}
	return p.Constraints.MaxParallelism
}
