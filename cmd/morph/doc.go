// Package main hosts the Morph CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into calls
// against the daemon: task management and space queries over the control
// socket, task submission and budget updates over the HTTP API, and live
// event following over the websocket stream. It centralizes configuration
// resolution and socket discovery so subcommands can focus on presentation.
package main
