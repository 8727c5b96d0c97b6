// Package services defines shared utilities consumed by the pipeline stages
// and the external integrations that back them.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, plan IDs, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, so failures can be
//     classified (validation vs external tool vs timeout) without string
//     matching.
//
// Use these helpers when wiring new stage logic so error handling and
// observability stay uniform across the pipeline.
package services
