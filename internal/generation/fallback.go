package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
)

// StatusError is an HTTP error returned by a backend endpoint.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// ModelsExhaustedError reports that every model in a fallback chain failed
// with an availability error.
type ModelsExhaustedError struct {
	Models []string
	Err    error
}

func (e *ModelsExhaustedError) Error() string {
	return fmt.Sprintf(
		"no available model among %s (check that the API key has access and billing is enabled): %v",
		strings.Join(e.Models, ", "), e.Err,
	)
}

func (e *ModelsExhaustedError) Unwrap() error { return e.Err }

// IsModelUnavailable reports whether err means the model cannot be used
// with the current credentials, in which case the next model is worth trying.
func IsModelUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusForbidden || statusErr.StatusCode == http.StatusNotFound {
			return true
		}
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusForbidden || apiErr.Code == http.StatusNotFound {
			return true
		}
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	return strings.Contains(msg, "PERMISSION_DENIED") ||
		strings.Contains(msg, "PermissionDenied") ||
		strings.Contains(lower, "not found")
}

// TryModels calls fn for each model in order. It moves to the next model only
// when IsModelUnavailable reports true; any other error is returned
// immediately. On success it returns the result and the model that produced it.
func TryModels[T any](ctx context.Context, models []string, fn func(ctx context.Context, model string) (T, error)) (T, string, error) {
	var zero T
	if len(models) == 0 {
		return zero, "", errors.New("no models configured")
	}
	var lastErr error
	for _, model := range models {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		result, err := fn(ctx, model)
		if err == nil {
			return result, model, nil
		}
		if !IsModelUnavailable(err) {
			return zero, model, err
		}
		lastErr = err
	}
	return zero, "", &ModelsExhaustedError{Models: append([]string(nil), models...), Err: lastErr}
}
