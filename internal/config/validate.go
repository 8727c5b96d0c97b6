package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable. The backend API key is not
// required here so that offline commands (combine, plans, config) keep working;
// commands that talk to the backend call RequireBackendKey.
func (c *Config) Validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateConcat(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

// RequireBackendKey reports a descriptive error when no API key is configured.
func (c *Config) RequireBackendKey() error {
	if c.Backend.Provider == ProviderVertex && c.Backend.APIKey == "" {
		// Vertex authenticates plans through ADC, but images and video still
		// need the Gemini key.
		return errors.New("backend.api_key is required for image and video generation (set GEMINI_API_KEY)")
	}
	if c.Backend.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/storyloom/config.toml"
		}
		return fmt.Errorf("backend.api_key is required. Set GEMINI_API_KEY env var or edit %s (create with 'storyloom config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateBackend() error {
	switch c.Backend.Provider {
	case ProviderGemini:
	case ProviderVertex:
		if c.Backend.VertexProject == "" {
			return errors.New("backend.vertex_project must be set when backend.provider is \"vertex\"")
		}
	default:
		return fmt.Errorf("backend.provider must be %q or %q, got %q", ProviderGemini, ProviderVertex, c.Backend.Provider)
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return errors.New("backend.base_url must be an http(s) URL")
	}
	return ensurePositiveMap(map[string]int{
		"backend.timeout_seconds": c.Backend.TimeoutSeconds,
		"backend.retry_attempts":  c.Backend.RetryAttempts,
	})
}

func (c *Config) validatePipeline() error {
	return ensurePositiveMap(map[string]int{
		"pipeline.poll_interval_seconds": c.Pipeline.PollIntervalSeconds,
		"pipeline.max_poll_attempts":     c.Pipeline.MaxPollAttempts,
		"pipeline.poll_timeout_minutes":  c.Pipeline.PollTimeoutMinutes,
		"pipeline.status_reset_seconds":  c.Pipeline.StatusResetSeconds,
		"pipeline.combine_reset_seconds": c.Pipeline.CombineResetSeconds,
	})
}

func (c *Config) validateConcat() error {
	return ensurePositiveMap(map[string]int{
		"concat.download_concurrency":     c.Concat.DownloadConcurrency,
		"concat.download_timeout_seconds": c.Concat.DownloadTimeout,
		"notifications.request_timeout":   c.Notifications.RequestTimeout,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
