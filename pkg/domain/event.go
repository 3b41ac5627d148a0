package domain

import "time"

// EventType is the dot-namespaced category of a lifecycle event.
type EventType string

const (
	EventPlanStarted   EventType = "plan.started"
	EventPlanSucceeded EventType = "plan.succeeded"
	EventPlanFailed    EventType = "plan.failed"
	EventPlanCancelled EventType = "plan.cancelled"

	EventTaskStarted   EventType = "task.started"
	EventTaskSucceeded EventType = "task.succeeded"
	EventTaskFailed    EventType = "task.failed"
	EventTaskCancelled EventType = "task.cancelled"

	EventStepSucceeded EventType = "step.succeeded"
	EventStepFailed    EventType = "step.failed"
	// EventStepCompleted covers any terminal step status that is neither
	// succeeded nor failed (e.g. cancelled).
	EventStepCompleted EventType = "step.completed"
)

// Metadata keys with engine-defined meaning.
const (
	// MetaSource identifies the emitter, e.g. "scheduler" or "cli".
	MetaSource = "source"
	// MetaReplayed is set to true on events re-delivered by a replay.
	MetaReplayed = "replayed"
	// MetaRunID attributes an event to the run that produced it.
	MetaRunID = "runId"
)

// Event is an immutable fact: one lifecycle transition of a Plan, Task, or
// Step. Events are never mutated or deleted; the store is append-only.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	OccurredAt  time.Time      `json:"occurredAt"`
	AggregateID string         `json:"aggregateId,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewEvent builds an event for the given type and aggregate. ID and
// OccurredAt are left zero; the bus fills them on emit.
func NewEvent(t EventType, aggregateID string) Event {
	return Event{Type: t, AggregateID: aggregateID}
}

// Source returns the metadata "source" value, or the empty string.
func (e Event) Source() string {
	if s, ok := e.Metadata[MetaSource].(string); ok {
		return s
	}
	return ""
}

// RunID returns the metadata "runId" value, or the empty string.
func (e Event) RunID() string {
	if s, ok := e.Metadata[MetaRunID].(string); ok {
		return s
	}
	return ""
}

// Replayed reports whether the event was re-delivered by a replay rather
// than emitted live.
func (e Event) Replayed() bool {
	v, ok := e.Metadata[MetaReplayed].(bool)
	return ok && v
}

// Clone returns a copy with its own payload and metadata maps, so the copy
// can be tagged (e.g. on replay) without touching the original.
func (e Event) Clone() Event {
	out := e
	if e.Payload != nil {
		out.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			out.Payload[k] = v
		}
	}
	if e.Metadata != nil {
		out.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
