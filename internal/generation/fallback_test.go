package generation_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"google.golang.org/api/googleapi"

	"storyloom/internal/generation"
)

func TestTryModelsFallsThroughOnForbidden(t *testing.T) {
	var tried []string
	result, model, err := generation.TryModels(context.Background(), []string{"a", "b", "c"}, func(_ context.Context, model string) (string, error) {
		tried = append(tried, model)
		if model == "a" {
			return "", &generation.StatusError{StatusCode: http.StatusForbidden, Body: "PERMISSION_DENIED"}
		}
		return "plan from " + model, nil
	})
	if err != nil {
		t.Fatalf("TryModels returned error: %v", err)
	}
	if model != "b" || result != "plan from b" {
		t.Fatalf("unexpected result %q from %q", result, model)
	}
	if len(tried) != 2 {
		t.Fatalf("expected 2 attempts, got %v", tried)
	}
}

func TestTryModelsStopsOnServerError(t *testing.T) {
	var tried []string
	_, model, err := generation.TryModels(context.Background(), []string{"a", "b"}, func(_ context.Context, model string) (string, error) {
		tried = append(tried, model)
		return "", &generation.StatusError{StatusCode: http.StatusInternalServerError, Body: "internal"}
	})
	var statusErr *generation.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 status error, got %v", err)
	}
	if model != "a" || len(tried) != 1 {
		t.Fatalf("expected to stop after first model, tried %v", tried)
	}
}

func TestTryModelsExhausted(t *testing.T) {
	_, _, err := generation.TryModels(context.Background(), []string{"a", "b"}, func(_ context.Context, model string) (int, error) {
		return 0, errors.New("models/" + model + " is not found for API version v1beta")
	})
	var exhausted *generation.ModelsExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ModelsExhaustedError, got %v", err)
	}
	if len(exhausted.Models) != 2 {
		t.Fatalf("unexpected models %v", exhausted.Models)
	}
}

func TestTryModelsRequiresModels(t *testing.T) {
	if _, _, err := generation.TryModels(context.Background(), nil, func(context.Context, string) (int, error) { return 1, nil }); err == nil {
		t.Fatal("expected error for empty model list")
	}
}

func TestIsModelUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"403", &generation.StatusError{StatusCode: 403}, true},
		{"404", &generation.StatusError{StatusCode: 404}, true},
		{"429", &generation.StatusError{StatusCode: 429}, false},
		{"googleapi 403", &googleapi.Error{Code: 403}, true},
		{"grpc permission denied", errors.New("rpc error: code = PermissionDenied desc = denied"), true},
		{"plain", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := generation.IsModelUnavailable(tt.err); got != tt.want {
				t.Fatalf("IsModelUnavailable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
