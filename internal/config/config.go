package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	OutputDir string `toml:"output_dir"`
	WorkDir   string `toml:"work_dir"`
	LogDir    string `toml:"log_dir"`
}

// Backend contains generative backend connection settings.
type Backend struct {
	Provider       string   `toml:"provider"`
	APIKey         string   `toml:"api_key"`
	BaseURL        string   `toml:"base_url"`
	PlanModels     []string `toml:"plan_models"`
	ImageModel     string   `toml:"image_model"`
	VideoModel     string   `toml:"video_model"`
	ChatModel      string   `toml:"chat_model"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	RetryAttempts  int      `toml:"retry_attempts"`
	VertexProject  string   `toml:"vertex_project"`
	VertexRegion   string   `toml:"vertex_region"`
}

// Pipeline contains orchestration timing and defaults.
type Pipeline struct {
	DefaultLanguage     string `toml:"default_language"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	MaxPollAttempts     int    `toml:"max_poll_attempts"`
	PollTimeoutMinutes  int    `toml:"poll_timeout_minutes"`
	StatusResetSeconds  int    `toml:"status_reset_seconds"`
	CombineResetSeconds int    `toml:"combine_reset_seconds"`
}

// Concat contains settings for the clip concatenator.
type Concat struct {
	FFmpegBinary        string `toml:"ffmpeg_binary"`
	FFprobeBinary       string `toml:"ffprobe_binary"`
	DownloadConcurrency int    `toml:"download_concurrency"`
	DownloadTimeout     int    `toml:"download_timeout_seconds"`
	VerifyOutput        bool   `toml:"verify_output"`
}

// Storage contains optional object storage mirroring settings.
type Storage struct {
	GCSBucket string `toml:"gcs_bucket"`
	GCSPrefix string `toml:"gcs_prefix"`
}

// Server contains HTTP API settings.
type Server struct {
	Listen        string `toml:"listen"`
	PublicBaseURL string `toml:"public_base_url"`
	Token         string `toml:"token"`
	Metrics       bool   `toml:"metrics"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	RunCompleted   bool   `toml:"run_completed"`
	RunFailed      bool   `toml:"run_failed"`
	Combined       bool   `toml:"combined"`
}

// Events contains the optional NATS progress event sink settings.
type Events struct {
	NatsURL string `toml:"nats_url"`
	Subject string `toml:"subject"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for storyloom.
//
// Configuration sections by subsystem:
//   - Paths: data, output, scratch, and log directories
//   - Backend: generative model provider, credentials, and model ids
//   - Pipeline: polling bounds and progress reset delays
//   - Concat: ffmpeg/ffprobe binaries and download fan-out
//   - Storage: optional GCS mirror for combined videos
//   - Server: HTTP API listen address and metrics
//   - Notifications: ntfy push notification settings
//   - Events: NATS progress event publishing
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Backend       Backend       `toml:"backend"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Concat        Concat        `toml:"concat"`
	Storage       Storage       `toml:"storage"`
	Server        Server        `toml:"server"`
	Notifications Notifications `toml:"notifications"`
	Events        Events        `toml:"events"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/storyloom/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file in the working directory is
// loaded first so GEMINI_API_KEY and friends can live next to the project.
func Load(path string) (*Config, string, bool, error) {
	_ = godotenv.Load()

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("storyloom.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the pipeline writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.OutputDir, c.Paths.WorkDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the sqlite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "storyloom.db")
}

// LockPath returns the path of the server instance lock.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "storyloom.lock")
}

// LogFilePath returns the file logs are mirrored into, or "" when no log
// directory is configured.
func (c *Config) LogFilePath() string {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return ""
	}
	return filepath.Join(c.Paths.LogDir, "storyloom.log")
}

// FFmpegBinary returns the ffmpeg executable used for concatenation.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Concat.FFmpegBinary); bin != "" {
		return bin
	}
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media validation.
func (c *Config) FFprobeBinary() string {
	if bin := strings.TrimSpace(c.Concat.FFprobeBinary); bin != "" {
		return bin
	}
	return "ffprobe"
}

// PollInterval returns the video operation poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Pipeline.PollIntervalSeconds) * time.Second
}

// PollTimeout returns the overall deadline for one video operation.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Pipeline.PollTimeoutMinutes) * time.Minute
}

// StatusResetDelay returns how long the terminal status stays visible.
func (c *Config) StatusResetDelay() time.Duration {
	return time.Duration(c.Pipeline.StatusResetSeconds) * time.Second
}

// CombineResetDelay returns how long the combine success status stays visible.
func (c *Config) CombineResetDelay() time.Duration {
	return time.Duration(c.Pipeline.CombineResetSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
