package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeBackend()
	c.normalizePipeline()
	c.normalizeConcat()
	c.normalizeStorage()
	c.normalizeServer()
	c.normalizeNotifications()
	c.normalizeEvents()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeBackend() {
	c.Backend.Provider = strings.ToLower(strings.TrimSpace(c.Backend.Provider))
	if c.Backend.Provider == "" {
		c.Backend.Provider = defaultProvider
	}
	c.Backend.APIKey = strings.TrimSpace(c.Backend.APIKey)
	if c.Backend.APIKey == "" {
		if value, ok := os.LookupEnv("GEMINI_API_KEY"); ok {
			c.Backend.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("API_KEY"); ok {
			c.Backend.APIKey = strings.TrimSpace(value)
		}
	}
	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = defaultBaseURL
	}
	models := make([]string, 0, len(c.Backend.PlanModels))
	for _, model := range c.Backend.PlanModels {
		if model = strings.TrimSpace(model); model != "" {
			models = append(models, model)
		}
	}
	if len(models) == 0 {
		models = append(models, DefaultPlanModels...)
	}
	c.Backend.PlanModels = models
	c.Backend.ImageModel = fallback(c.Backend.ImageModel, defaultImageModel)
	c.Backend.VideoModel = fallback(c.Backend.VideoModel, defaultVideoModel)
	c.Backend.ChatModel = fallback(c.Backend.ChatModel, defaultChatModel)
	c.Backend.VertexProject = strings.TrimSpace(c.Backend.VertexProject)
	if c.Backend.VertexProject == "" {
		if value, ok := os.LookupEnv("GOOGLE_CLOUD_PROJECT"); ok {
			c.Backend.VertexProject = strings.TrimSpace(value)
		}
	}
	c.Backend.VertexRegion = fallback(c.Backend.VertexRegion, defaultVertexRegion)
}

func (c *Config) normalizePipeline() {
	c.Pipeline.DefaultLanguage = fallback(c.Pipeline.DefaultLanguage, defaultLanguage)
}

func (c *Config) normalizeConcat() {
	c.Concat.FFmpegBinary = fallback(c.Concat.FFmpegBinary, "ffmpeg")
	c.Concat.FFprobeBinary = fallback(c.Concat.FFprobeBinary, "ffprobe")
}

func (c *Config) normalizeStorage() {
	c.Storage.GCSBucket = strings.TrimSpace(c.Storage.GCSBucket)
	c.Storage.GCSPrefix = strings.Trim(strings.TrimSpace(c.Storage.GCSPrefix), "/")
}

func (c *Config) normalizeServer() {
	c.Server.Listen = fallback(c.Server.Listen, defaultListen)
	c.Server.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Server.PublicBaseURL), "/")
	if c.Server.PublicBaseURL == "" {
		if value, ok := os.LookupEnv("BACKEND_URL"); ok {
			c.Server.PublicBaseURL = strings.TrimRight(strings.TrimSpace(value), "/")
		}
	}
	c.Server.Token = strings.TrimSpace(c.Server.Token)
	if c.Server.Token == "" {
		if value, ok := os.LookupEnv("STORYLOOM_API_TOKEN"); ok {
			c.Server.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeEvents() {
	c.Events.NatsURL = strings.TrimSpace(c.Events.NatsURL)
	if c.Events.NatsURL == "" {
		if value, ok := os.LookupEnv("NATS_URL"); ok {
			c.Events.NatsURL = strings.TrimSpace(value)
		}
	}
	c.Events.Subject = fallback(c.Events.Subject, defaultEventsSubject)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func fallback(value, def string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return def
}
