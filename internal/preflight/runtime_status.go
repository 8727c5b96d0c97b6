package preflight

import (
	"fmt"
	"strings"

	"storyloom/internal/config"
)

// CheckStorageFromConfig reports whether combined videos are mirrored to GCS.
func CheckStorageFromConfig(cfg *config.Config) Result {
	const name = "GCS mirror"

	if cfg == nil {
		return Result{Name: name, Optional: true, Detail: "Unknown"}
	}
	bucket := strings.TrimSpace(cfg.Storage.GCSBucket)
	if bucket == "" {
		return Result{Name: name, Passed: true, Optional: true, Detail: "Disabled"}
	}
	target := "gs://" + bucket
	if cfg.Storage.GCSPrefix != "" {
		target += "/" + cfg.Storage.GCSPrefix
	}
	return Result{Name: name, Passed: true, Optional: true, Detail: target}
}

// CheckEventsFromConfig reports the NATS progress event sink.
func CheckEventsFromConfig(cfg *config.Config) Result {
	const name = "NATS events"

	if cfg == nil {
		return Result{Name: name, Optional: true, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Events.NatsURL) == "" {
		return Result{Name: name, Passed: true, Optional: true, Detail: "Disabled"}
	}
	return Result{Name: name, Passed: true, Optional: true, Detail: fmt.Sprintf("%s -> %s", cfg.Events.NatsURL, cfg.Events.Subject)}
}

// CheckNotificationsFromConfig reports the ntfy topic.
func CheckNotificationsFromConfig(cfg *config.Config) Result {
	const name = "Notifications"

	if cfg == nil {
		return Result{Name: name, Optional: true, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return Result{Name: name, Passed: true, Optional: true, Detail: "Disabled"}
	}
	return Result{Name: name, Passed: true, Optional: true, Detail: cfg.Notifications.NtfyTopic}
}

// Integrations returns the status of every optional integration.
func Integrations(cfg *config.Config) []Result {
	return []Result{
		CheckStorageFromConfig(cfg),
		CheckEventsFromConfig(cfg),
		CheckNotificationsFromConfig(cfg),
	}
}
