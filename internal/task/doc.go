// Package task owns the authoritative state of every conversion job and
// enforces the lifecycle state machine.
//
// The lifecycle is Pending -> Converting -> {Completed | Failed | Cancelled},
// with Fail additionally permitted from Pending. All three right-hand states
// are terminal. State lives in the Registry; the SQLite Store behind it only
// makes tasks survive restarts. Mutations for one task id are serialized,
// and each successful mutation publishes exactly one event to the broadcast
// hub before returning.
//
// Treat this package as the single source of truth for task semantics; other
// components read snapshots and never mutate tasks directly.
package task
