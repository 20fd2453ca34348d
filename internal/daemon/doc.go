// Package daemon assembles the conversion engine: the task registry, the
// space accountant and admission controller, the runner, the broadcast hub,
// and the HTTP/websocket surface. A flock-based lock prevents two daemons
// from sharing one state directory.
package daemon
