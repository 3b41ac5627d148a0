package domain

import (
	"fmt"
	"strings"
)

// Error codes attached to failed Steps, Tasks, and Plans. Executor
// failures carry no code: only the original message is preserved.
const (
	// CodePluginNotFound marks a Step whose kind has no registered
	// executor. It surfaces as data on the failed Step, never as a
	// returned error.
	CodePluginNotFound = "PLUGIN_NOT_FOUND"
	// CodeDependencyCycle marks a Plan whose Task graph could not be
	// resolved. It is the one failure that travels as a returned error,
	// and only up to the Runtime boundary.
	CodeDependencyCycle = "DEPENDENCY_CYCLE"
	// CodePlanRejected marks a Plan denied by an admission gate.
	CodePlanRejected = "PLAN_REJECTED"
)

// Error is the structured failure attached to Plans, Tasks, Steps, and
// results. Code is optional; Message is always set.
type Error struct {
	Code    string         `json:"code,omitempty" yaml:"code,omitempty"`
	Message string         `json:"message" yaml:"message"`
	Details map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// NewError builds a coded Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CycleError reports that dependency resolution failed. Blocked lists
// every Task whose in-degree never reached zero, an approximation that
// includes Tasks merely downstream of the cycle, not only its members.
type CycleError struct {
	Blocked []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: tasks [%s] never became ready", strings.Join(e.Blocked, ", "))
}
