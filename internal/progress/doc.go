// Package progress holds the single user-facing status line of a run.
//
// Only the latest message is kept. A reset timer clears it after a terminal
// state, and any newer Set cancels a pending reset. Sinks observe every
// change; the NATS sink republishes them for dashboards.
package progress
