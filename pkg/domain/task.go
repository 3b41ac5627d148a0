package domain

// TaskStatus describes the lifecycle state of a Task.
type TaskStatus string

const (
	TaskIdle      TaskStatus = "idle"
	TaskRunning   TaskStatus = "running"
	TaskBlocked   TaskStatus = "blocked"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is final for a run.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCancelled
}

// Task is a unit of parallel-eligible work inside a Plan. Tasks in the
// same dependency batch may run concurrently; Steps within a Task always
// run sequentially. DependsOn must reference Task IDs present in the same
// Plan. A graph with a cycle is invalid and fails resolution before any
// Task runs.
type Task struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	Status    TaskStatus `json:"status,omitempty" yaml:"status,omitempty"`
	Steps     []*Step    `json:"steps" yaml:"steps"`
	DependsOn []string   `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Error     *Error     `json:"error,omitempty" yaml:"error,omitempty"`
}
