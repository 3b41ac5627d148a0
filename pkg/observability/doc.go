/*
Package observability derives live run snapshots from the event bus.

A Tracker is a plain bus subscriber: it folds plan, task, and step events
into one aggregate per run, which the HTTP dashboard and the CLI read
without querying the store. Replayed events are ignored, so replaying a
log never distorts the live picture.
*/
package observability
