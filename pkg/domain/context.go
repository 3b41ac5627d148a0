package domain

// RunContext is the per-execution environment handed to every executor.
// It is constructed once per Execute call and is read-only to executors:
// they may read any field but must not assume anything is present beyond
// RunID and PlanID.
type RunContext struct {
	RunID       string         `json:"runId"`
	PlanID      string         `json:"planId"`
	Environment string         `json:"environment,omitempty"`
	User        string         `json:"user,omitempty"`
	Model       string         `json:"model,omitempty"`
	Provider    string         `json:"provider,omitempty"`
	Values      map[string]any `json:"values,omitempty"`
}

// Value looks up a key in the free-form bag.
func (rc RunContext) Value(key string) (any, bool) {
	v, ok := rc.Values[key]
	return v, ok
}
