// Package hub implements the group-based broadcast layer that decouples
// registry state changes from observers.
//
// Connections subscribe under an id and join named groups (per-task,
// per-user, space-monitor, or the implicit "all" group). Publish fans an
// event out to every member of a group through bounded per-subscriber
// queues; a slow consumer loses its oldest queued event instead of ever
// stalling the publisher or other subscribers.
package hub
