package arbor

import (
	"log/slog"

	"github.com/calyptra/arbor/pkg/adapters/file"
	"github.com/calyptra/arbor/pkg/ports"
)

// Option customizes a Runtime at construction time.
type Option func(*Runtime)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(log *slog.Logger) Option {
	return func(r *Runtime) {
		if log != nil {
			r.log = log
		}
	}
}

// WithStore sets the event store backing the bus. The default is an
// in-memory store that lives and dies with the Runtime.
func WithStore(store ports.EventStore) Option {
	return func(r *Runtime) {
		r.store = store
	}
}

// WithEventLog persists events to an append-only NDJSON file at path,
// creating parent directories on first append. Shorthand for
// WithStore(file.NewStore(path)).
func WithEventLog(path string) Option {
	return func(r *Runtime) {
		r.store = file.NewStore(path)
	}
}

// WithHistoryLimit caps the bus's in-memory event ring. Zero keeps the
// default of 1000.
func WithHistoryLimit(n int) Option {
	return func(r *Runtime) {
		r.historyLimit = n
	}
}

// WithMaxParallelism bounds concurrent task execution within a batch for
// plans that do not set their own constraint. Zero means unbounded.
func WithMaxParallelism(n int) Option {
	return func(r *Runtime) {
		r.maxParallelism = n
	}
}

// WithAdmissionGate installs a gate consulted before every Execute. A
// denial fails the plan with code PLAN_REJECTED without running any task.
func WithAdmissionGate(gate AdmissionGate) Option {
	return func(r *Runtime) {
		r.gate = gate
	}
}
