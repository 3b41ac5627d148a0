/*
Package ports defines the driven ports (interfaces) for the Arbor engine.

These interfaces decouple the core logic from external implementations,
allowing the event bus to work with various storage backends.

# Key Interfaces

  - EventStore: append-only persistence for domain events, queryable by
    time range and filter. Implementations live under pkg/adapters.
*/
package ports
