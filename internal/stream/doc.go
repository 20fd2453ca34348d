// Package stream carries broadcast events over websocket connections.
//
// The Manager side runs inside the daemon: it upgrades HTTP requests, places
// each connection in the hub's "all" group, relays join/leave requests, and
// enforces liveness with protocol-level pings. The Client side is a
// reconnecting consumer for CLI watchers: on every (re)connection it rejoins
// its remembered groups and invokes a caller-supplied resync, since events
// missed while disconnected are not replayed.
package stream
