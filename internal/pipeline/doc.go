// Package pipeline drives a production plan through asset generation.
//
// An Orchestrator owns one run: it requests the plan, generates the character
// model, renders each keyframe against that single anchor, then animates each
// clip from its keyframe with the matching scene's dialog. Every stage is
// sequential and each stage method is exported so callers can resubmit one
// stage after a failure; filled slots are kept and only empty slots are
// generated again.
//
// Observers receive slot and state events. The asset recorder, metrics and
// notifications all hang off that hook, so the orchestrator itself never
// touches storage.
package pipeline
