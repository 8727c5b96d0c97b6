// Package notifications pushes run milestones to an ntfy topic.
//
// NewService returns a noop implementation when no topic is configured, so
// callers publish unconditionally. Observer adapts a Service into a
// pipeline.Observer; notification failures are logged and never fail a run.
package notifications
