// Package runner executes conversions at the external worker boundary. It
// claims pending tasks from the registry, shells out to the configured
// converter, and reports progress and outcomes back as registry
// transitions. The registry remains the only writer of task state; the
// runner never mutates tasks directly.
package runner
