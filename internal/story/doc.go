// Package story defines the production plan produced by the plan generator
// and consumed by the asset pipeline.
//
// A Plan is immutable once decoded. Validate checks only the structure the
// pipeline needs to make progress; count mismatches between scenes,
// keyframes, and clips are tolerated and resolved by the pipeline's
// reference resolvers. Schema returns the structured-output schema sent to
// the backend so the wire names here and the request stay in lockstep.
package story
