package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"storyloom/internal/config"
	"storyloom/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventRunCompleted, notifications.Payload{"hero": "Pip"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

type capturedRequest struct {
	title    string
	tags     string
	priority string
	body     string
}

func captureServer(t *testing.T, captured *[]capturedRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		_ = r.Body.Close()
		*captured = append(*captured, capturedRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:           "run completed",
			event:          notifications.EventRunCompleted,
			payload:        notifications.Payload{"hero": "Pip", "clips": 4},
			expectTitle:    "Storyloom - Story Complete",
			expectMessage:  "✨ Story complete: Pip (4 clips)",
			expectTags:     "storyloom,run,completed",
			expectPriority: "high",
		},
		{
			name:           "run failed",
			event:          notifications.EventRunFailed,
			payload:        notifications.Payload{"runId": "run-1", "stage": "keyframe", "error": "quota exceeded"},
			expectTitle:    "Storyloom - Error",
			expectMessage:  "❌ Story failed during keyframe: quota exceeded",
			expectTags:     "storyloom,error,alert",
			expectPriority: "high",
		},
		{
			name:          "combine completed",
			event:         notifications.EventCombineCompleted,
			payload:       notifications.Payload{"runId": "run-1", "location": "/videos/combined.mp4"},
			expectTitle:   "Storyloom - Video Ready",
			expectMessage: "🎬 Final video ready: run-1\nFile: /videos/combined.mp4",
			expectTags:    "storyloom,combine,completed",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "Storyloom - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "storyloom,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured []capturedRequest
			server := captureServer(t, &captured)

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}
			if len(captured) != 1 {
				t.Fatalf("expected one request, got %d", len(captured))
			}
			got := captured[0]
			if got.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, got.title)
			}
			if got.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, got.body)
			}
			if got.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, got.tags)
			}
			if got.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, got.priority)
			}
		})
	}
}

func TestNtfyServiceHonoursToggles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for disabled event: %s", r.Header.Get("Title"))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RunCompleted = false
	cfg.Notifications.Combined = false

	svc := notifications.NewService(&cfg)
	for _, event := range []notifications.Event{notifications.EventRunCompleted, notifications.EventCombineCompleted, "unknown"} {
		if err := svc.Publish(context.Background(), event, nil); err != nil {
			t.Fatalf("expected no error for disabled event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic locked", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventRunFailed, notifications.Payload{"error": "boom"}); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
