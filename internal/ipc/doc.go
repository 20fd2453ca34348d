// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. The
// server sits on the shared api.TaskService so the control socket and the
// HTTP surface stay behaviorally identical; the client decorates calls with
// a dial timeout so CLI commands fail fast when the daemon is offline.
package ipc
