package daemon

import (
	"errors"
	"net/http"

	"storyloom/internal/concat"
	"storyloom/internal/pipeline"
	"storyloom/internal/services"
)

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	var (
		invalid     *pipeline.InvalidInputError
		notReady    *pipeline.NotReadyError
		noVideos    *concat.NoVideosError
		localInput  *concat.LocalInputError
		planErr     *pipeline.PlanGenerationError
		imageErr    *pipeline.ImageGenerationError
		videoErr    *pipeline.VideoGenerationError
		resolution  *pipeline.ReferenceResolutionError
		concatError *concat.ConcatenationError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &invalid), errors.As(err, &noVideos), errors.As(err, &localInput):
		return http.StatusBadRequest
	case errors.As(err, &notReady):
		return http.StatusConflict
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &planErr), errors.As(err, &imageErr), errors.As(err, &videoErr), errors.As(err, &resolution):
		return http.StatusBadGateway
	case errors.As(err, &concatError):
		return http.StatusInternalServerError
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
