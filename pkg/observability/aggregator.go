package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/eventbus"
)

// DefaultRunLimit bounds how many runs the tracker remembers.
const DefaultRunLimit = 256

// RunSnapshot is the aggregated view of one run.
type RunSnapshot struct {
	RunID  string            `json:"runId"`
	PlanID string            `json:"planId"`
	Title  string            `json:"title,omitempty"`
	Status domain.PlanStatus `json:"status"`

	TasksStarted   int `json:"tasksStarted"`
	TasksSucceeded int `json:"tasksSucceeded"`
	TasksFailed    int `json:"tasksFailed"`
	TasksCancelled int `json:"tasksCancelled"`
	StepsSucceeded int `json:"stepsSucceeded"`
	StepsFailed    int `json:"stepsFailed"`

	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Finished reports whether the run reached a terminal status.
func (s RunSnapshot) Finished() bool { return s.Status.Terminal() }

// Option configures a Tracker.
type Option func(*Tracker)

// WithRunLimit caps how many runs are kept. Oldest finished runs are
// evicted first; an in-flight run is never evicted.
func WithRunLimit(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.limit = n
		}
	}
}

// Tracker folds bus events into per-run snapshots.
type Tracker struct {
	mu    sync.RWMutex
	runs  map[string]*RunSnapshot
	order []string
	limit int

	unsubscribe func()
}

// NewTracker builds a tracker and subscribes it to the bus. Call Close to
// unsubscribe.
func NewTracker(bus *eventbus.Bus, opts ...Option) *Tracker {
	t := &Tracker{
		runs:  make(map[string]*RunSnapshot),
		limit: DefaultRunLimit,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.unsubscribe = bus.Subscribe(domain.EventFilter{}, t.observe)
	return t
}

// Close detaches the tracker from the bus. Snapshots remain readable.
func (t *Tracker) Close() {
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
}

// Run returns the snapshot for one run id.
func (t *Tracker) Run(runID string) (RunSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.runs[runID]
	if !ok {
		return RunSnapshot{}, false
	}
	return *snap, true
}

// Runs lists every tracked run, most recently started first.
func (t *Tracker) Runs() []RunSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RunSnapshot, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.runs[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Active lists the runs that have not reached a terminal status yet.
func (t *Tracker) Active() []RunSnapshot {
	all := t.Runs()
	out := all[:0]
	for _, snap := range all {
		if !snap.Finished() {
			out = append(out, snap)
		}
	}
	return out
}

// observe folds one live event into its run's snapshot. Events without a
// runId (foreign emitters) and replayed copies are skipped.
func (t *Tracker) observe(e domain.Event) {
	if e.Replayed() {
		return
	}
	runID := e.RunID()
	if runID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	snap, ok := t.runs[runID]
	if !ok {
		snap = &RunSnapshot{RunID: runID, Status: domain.PlanRunning, StartedAt: e.OccurredAt}
		t.runs[runID] = snap
		t.order = append(t.order, runID)
		t.evictLocked()
	}

	switch e.Type {
	case domain.EventPlanStarted:
		snap.PlanID = e.AggregateID
		snap.StartedAt = e.OccurredAt
		if title, ok := e.Payload["title"].(string); ok {
			snap.Title = title
		}
	case domain.EventPlanSucceeded:
		snap.Status = domain.PlanSucceeded
		snap.FinishedAt = e.OccurredAt
	case domain.EventPlanFailed:
		snap.Status = domain.PlanFailed
		snap.FinishedAt = e.OccurredAt
		if msg, ok := e.Payload["error"].(string); ok {
			snap.Error = msg
		}
	case domain.EventPlanCancelled:
		snap.Status = domain.PlanCancelled
		snap.FinishedAt = e.OccurredAt
		if msg, ok := e.Payload["error"].(string); ok {
			snap.Error = msg
		}
	case domain.EventTaskStarted:
		snap.TasksStarted++
	case domain.EventTaskSucceeded:
		snap.TasksSucceeded++
	case domain.EventTaskFailed:
		snap.TasksFailed++
	case domain.EventTaskCancelled:
		snap.TasksCancelled++
	case domain.EventStepSucceeded:
		snap.StepsSucceeded++
	case domain.EventStepFailed:
		snap.StepsFailed++
	}
}

// evictLocked drops the oldest finished runs once the cap is exceeded.
func (t *Tracker) evictLocked() {
	for len(t.order) > t.limit {
		evicted := false
		for i, id := range t.order {
			if t.runs[id].Finished() {
				delete(t.runs, id)
				t.order = append(t.order[:i], t.order[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}
