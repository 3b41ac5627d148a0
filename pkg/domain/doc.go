/*
Package domain contains the core domain models for the Arbor engine.

It defines the fundamental entities of a workflow run, such as Plans, Tasks,
Steps, and the Events that record their lifecycle. This package is kept pure
and free of external dependencies like I/O or persistence, following
Hexagonal Architecture principles.

# Key Entities

  - Plan: The top-level workflow; owns an ordered list of Tasks.
  - Task: A dependency-aware unit of work; owns an ordered list of Steps.
  - Step: The atomic dispatch unit, routed to an executor by its "kind" tag.
  - Event: An immutable record of a lifecycle transition.
  - RunContext: The per-execution environment handed to executors.
*/
package domain
