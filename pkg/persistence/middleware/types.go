// Package middleware provides event store wrappers that add behavior on
// the persistence path: payload encryption and PII masking. The live bus
// delivery is untouched; only what reaches the underlying store changes.
package middleware

import "github.com/calyptra/arbor/pkg/ports"

// Middleware allows wrapping an EventStore to add behavior.
type Middleware func(ports.EventStore) ports.EventStore

// Wrap applies the middlewares right to left, so the first one listed is
// outermost: Wrap(s, a, b) behaves like a(b(s)).
func Wrap(store ports.EventStore, mws ...Middleware) ports.EventStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
