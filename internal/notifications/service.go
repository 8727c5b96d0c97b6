package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storyloom/internal/config"
)

const userAgent = "Storyloom-Go/0.1.0"

// Event names a notification kind.
type Event string

const (
	EventRunCompleted     Event = "run_completed"
	EventRunFailed        Event = "run_failed"
	EventCombineCompleted Event = "combine_completed"
	EventTest             Event = "test"
)

// Payload carries the values rendered into a notification.
type Payload map[string]any

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventRunCompleted:     cfg.Notifications.RunCompleted,
			EventRunFailed:        cfg.Notifications.RunFailed,
			EventCombineCompleted: cfg.Notifications.Combined,
			EventTest:             true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func render(event Event, payload Payload) (message, bool) {
	switch event {
	case EventRunCompleted:
		body := fmt.Sprintf("✨ Story complete: %s", label(payload))
		if clips := payload.int("clips"); clips > 0 {
			body = fmt.Sprintf("%s (%d clips)", body, clips)
		}
		return message{
			title:    "Storyloom - Story Complete",
			body:     body,
			tags:     []string{"storyloom", "run", "completed"},
			priority: "high",
		}, true
	case EventRunFailed:
		var builder strings.Builder
		builder.WriteString("❌ Story failed")
		if stage := payload.string("stage"); stage != "" {
			builder.WriteString(" during ")
			builder.WriteString(stage)
		}
		builder.WriteString(": ")
		if reason := payload.string("error"); reason != "" {
			builder.WriteString(reason)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "Storyloom - Error",
			body:     builder.String(),
			tags:     []string{"storyloom", "error", "alert"},
			priority: "high",
		}, true
	case EventCombineCompleted:
		body := fmt.Sprintf("🎬 Final video ready: %s", label(payload))
		if location := payload.string("location"); location != "" {
			body = fmt.Sprintf("%s\nFile: %s", body, location)
		}
		return message{
			title: "Storyloom - Video Ready",
			body:  body,
			tags:  []string{"storyloom", "combine", "completed"},
		}, true
	case EventTest:
		return message{
			title:    "Storyloom - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"storyloom", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func label(payload Payload) string {
	if hero := payload.string("hero"); hero != "" {
		return hero
	}
	if id := payload.string("runId"); id != "" {
		return id
	}
	return "untitled story"
}

func (p Payload) string(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (p Payload) int(key string) int {
	if p == nil {
		return 0
	}
	if v, ok := p[key].(int); ok {
		return v
	}
	return 0
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
