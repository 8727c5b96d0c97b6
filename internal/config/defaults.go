package config

const (
	defaultDataDir             = "~/.local/share/storyloom"
	defaultOutputDir           = "~/.local/share/storyloom/videos"
	defaultWorkDir             = "~/.local/share/storyloom/tmp"
	defaultLogDir              = "~/.local/share/storyloom/logs"
	defaultProvider            = ProviderGemini
	defaultBaseURL             = "https://generativelanguage.googleapis.com"
	defaultImageModel          = "gemini-2.5-flash-image"
	defaultVideoModel          = "veo-3.1-fast-generate-preview"
	defaultChatModel           = "gemini-2.5-flash"
	defaultBackendTimeout      = 120
	defaultRetryAttempts       = 3
	defaultVertexRegion        = "us-central1"
	defaultLanguage            = "English"
	defaultPollInterval        = 10
	defaultMaxPollAttempts     = 60
	defaultPollTimeoutMinutes  = 15
	defaultStatusResetSeconds  = 5
	defaultCombineResetSeconds = 3
	defaultDownloadConcurrency = 2
	defaultDownloadTimeout     = 300
	defaultListen              = "127.0.0.1:5000"
	defaultNotifyTimeout       = 10
	defaultEventsSubject       = "storyloom.progress"
	defaultGCSPrefix           = "storyloom"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Supported backend providers.
const (
	ProviderGemini = "gemini"
	ProviderVertex = "vertex"
)

// DefaultPlanModels is the plan generation fallback chain, tried in order.
var DefaultPlanModels = []string{"gemini-2.5-pro", "gemini-1.5-pro", "gemini-pro"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			OutputDir: defaultOutputDir,
			WorkDir:   defaultWorkDir,
			LogDir:    defaultLogDir,
		},
		Backend: Backend{
			Provider:       defaultProvider,
			BaseURL:        defaultBaseURL,
			PlanModels:     append([]string(nil), DefaultPlanModels...),
			ImageModel:     defaultImageModel,
			VideoModel:     defaultVideoModel,
			ChatModel:      defaultChatModel,
			TimeoutSeconds: defaultBackendTimeout,
			RetryAttempts:  defaultRetryAttempts,
			VertexRegion:   defaultVertexRegion,
		},
		Pipeline: Pipeline{
			DefaultLanguage:     defaultLanguage,
			PollIntervalSeconds: defaultPollInterval,
			MaxPollAttempts:     defaultMaxPollAttempts,
			PollTimeoutMinutes:  defaultPollTimeoutMinutes,
			StatusResetSeconds:  defaultStatusResetSeconds,
			CombineResetSeconds: defaultCombineResetSeconds,
		},
		Concat: Concat{
			FFmpegBinary:        "ffmpeg",
			FFprobeBinary:       "ffprobe",
			DownloadConcurrency: defaultDownloadConcurrency,
			DownloadTimeout:     defaultDownloadTimeout,
			VerifyOutput:        true,
		},
		Storage: Storage{
			GCSPrefix: defaultGCSPrefix,
		},
		Server: Server{
			Listen:  defaultListen,
			Metrics: true,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			RunCompleted:   true,
			RunFailed:      true,
			Combined:       true,
		},
		Events: Events{
			Subject: defaultEventsSubject,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
