package pipeline

import (
	"fmt"
	"strings"

	"storyloom/internal/concat"
	"storyloom/internal/services"
)

// InvalidInputError reports unusable caller input. No backend call is made.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return services.ErrValidation }

// PlanGenerationError wraps a backend failure or a schema-invalid plan.
type PlanGenerationError struct {
	Err error
}

func (e *PlanGenerationError) Error() string {
	return "generate plan: " + errText(e.Err)
}

func (e *PlanGenerationError) Unwrap() error { return e.Err }

// ImageGenerationError reports a failed character model or keyframe.
type ImageGenerationError struct {
	Stage Stage
	Index int
	Err   error
}

func (e *ImageGenerationError) Error() string {
	if e.Stage == StageKeyframe {
		return fmt.Sprintf("generate keyframe %d: %s", e.Index, errText(e.Err))
	}
	return "generate character model: " + errText(e.Err)
}

func (e *ImageGenerationError) Unwrap() error { return e.Err }

// VideoGenerationError reports a failed clip, including a poll that never
// finished (wrapping services.ErrTimeout).
type VideoGenerationError struct {
	Index int
	Err   error
}

func (e *VideoGenerationError) Error() string {
	return fmt.Sprintf("generate clip %d: %s", e.Index, errText(e.Err))
}

func (e *VideoGenerationError) Unwrap() error { return e.Err }

// ReferenceResolutionError reports a clip whose keyframe reference points
// outside the keyframe list or at a slot that was never filled. KeyframeIndex
// is the parsed 1-based reference.
type ReferenceResolutionError struct {
	ClipNumber    int
	Ref           string
	KeyframeIndex int
	Available     int
}

func (e *ReferenceResolutionError) Error() string {
	if e.KeyframeIndex >= 1 && e.KeyframeIndex <= e.Available {
		return fmt.Sprintf("clip %d references keyframe %d (%q) which has not been generated", e.ClipNumber, e.KeyframeIndex, e.Ref)
	}
	return fmt.Sprintf("clip %d references keyframe %d (%q) but %d keyframes exist", e.ClipNumber, e.KeyframeIndex, e.Ref, e.Available)
}

func (e *ReferenceResolutionError) Unwrap() error { return services.ErrValidation }

// NotReadyError reports a stage or combine requested before its inputs exist.
type NotReadyError struct {
	State   State
	Missing string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("not ready (state %s): %s", e.State, e.Missing)
}

func (e *NotReadyError) Unwrap() error { return services.ErrValidation }

type (
	// NoVideosError is returned by Combine when there is nothing to join.
	NoVideosError = concat.NoVideosError
	// ConcatenationError is returned by Combine when joining fails.
	ConcatenationError = concat.ConcatenationError
)

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return strings.TrimSpace(err.Error())
}
