package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"storyloom/internal/config"
	"storyloom/internal/generation"
	"storyloom/internal/logging"
)

const (
	apiVersion            = "v1beta"
	defaultHTTPTimeout    = 120 * time.Second
	defaultRetryMaxDelay  = 30 * time.Second
	defaultRetryBaseDelay = 2 * time.Second
	defaultRetryAttempts  = 3
)

// Config captures the runtime settings required to talk to Gemini.
type Config struct {
	APIKey         string
	BaseURL        string
	PlanModels     []string
	ImageModel     string
	VideoModel     string
	ChatModel      string
	TimeoutSeconds int
}

// ConfigFromApp maps application configuration onto client settings.
func ConfigFromApp(cfg *config.Config) Config {
	if cfg == nil {
		return Config{}
	}
	return Config{
		APIKey:         cfg.Backend.APIKey,
		BaseURL:        cfg.Backend.BaseURL,
		PlanModels:     append([]string(nil), cfg.Backend.PlanModels...),
		ImageModel:     cfg.Backend.ImageModel,
		VideoModel:     cfg.Backend.VideoModel,
		ChatModel:      cfg.Backend.ChatModel,
		TimeoutSeconds: cfg.Backend.TimeoutSeconds,
	}
}

// Models is the part of genai.Models the client uses.
type Models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateVideos(ctx context.Context, model string, prompt string, image *genai.Image, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error)
	Get(ctx context.Context, model string, config *genai.GetModelConfig) (*genai.Model, error)
}

// Operations is the part of genai.Operations the client uses.
type Operations interface {
	GetVideosOperation(ctx context.Context, operation *genai.GenerateVideosOperation, config *genai.GetOperationConfig) (*genai.GenerateVideosOperation, error)
}

// Client talks to the Gemini API through the genai SDK.
type Client struct {
	cfg        Config
	models     Models
	operations Operations
	httpClient *http.Client
	logger     *slog.Logger

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client handed to the SDK.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAPI replaces the SDK services (useful for tests). No SDK client is
// created when both are set.
func WithAPI(models Models, operations Operations) Option {
	return func(c *Client) {
		c.models = models
		c.operations = operations
	}
}

// WithRetryMaxAttempts overrides the default retry count.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a Gemini client. Without an API key the client is
// still returned, but every call fails until one is configured.
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	models := make([]string, 0, len(cfg.PlanModels))
	for _, model := range cfg.PlanModels {
		if model = strings.TrimSpace(model); model != "" {
			models = append(models, model)
		}
	}
	if len(models) == 0 {
		models = append(models, config.DefaultPlanModels...)
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			PlanModels:     models,
			ImageModel:     fallback(cfg.ImageModel, "gemini-2.5-flash-image"),
			VideoModel:     fallback(cfg.VideoModel, "veo-3.1-fast-generate-preview"),
			ChatModel:      fallback(cfg.ChatModel, "gemini-2.5-flash"),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	client.logger = logging.NewComponentLogger(client.logger, "gemini")

	if client.models != nil && client.operations != nil {
		return client, nil
	}
	if client.cfg.APIKey == "" {
		return client, nil
	}
	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     client.cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: client.httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    client.cfg.BaseURL + "/",
			APIVersion: apiVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	if client.models == nil {
		client.models = sdk.Models
	}
	if client.operations == nil {
		client.operations = sdk.Operations
	}
	return client, nil
}

// PlanModels returns the plan fallback chain in order.
func (c *Client) PlanModels() []string {
	return append([]string(nil), c.cfg.PlanModels...)
}

// HealthCheck verifies the API key can see the image model.
func (c *Client) HealthCheck(ctx context.Context) error {
	var model *genai.Model
	err := c.call(ctx, "gemini health", func(ctx context.Context) error {
		var err error
		model, err = c.models.Get(ctx, c.cfg.ImageModel, nil)
		return err
	})
	if err != nil {
		return err
	}
	if model == nil || strings.TrimSpace(model.Name) == "" {
		return errors.New("gemini health: unexpected model response")
	}
	return nil
}

// generate issues one GenerateContent request with retries.
func (c *Client) generate(ctx context.Context, op, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	err := c.call(ctx, op, func(ctx context.Context) error {
		var err error
		resp, err = c.models.GenerateContent(ctx, model, contents, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%s: empty response", op)
	}
	return resp, nil
}

// call runs fn until it succeeds, fails permanently, or attempts run out.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if c.cfg.APIKey == "" {
		return fmt.Errorf("%s: api key required", op)
	}
	if c.models == nil || c.operations == nil {
		return fmt.Errorf("%s: client not initialized", op)
	}

	attempts := c.retryAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := classify(fn(ctx))
		if err == nil {
			return nil
		}

		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			if attempt > 1 {
				return fmt.Errorf("%s: failed after %d attempts: %w", op, attempt, err)
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		logging.WarnWithContext(c.logger, "backend request failed; retrying", "backend_retry",
			logging.String("operation", op),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
			logging.String(logging.FieldImpact, "request will be retried"),
			logging.String(logging.FieldErrorHint, "check backend quota if retries persist"),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", op, attempts, lastErr)
}

// classify turns SDK API errors into generation.StatusError so retry and
// model fallback decide on the HTTP status.
func classify(err error) error {
	if err == nil {
		return nil
	}
	apiErr, ok := asAPIError(err)
	if !ok {
		return err
	}
	body := strings.TrimSpace(apiErr.Message)
	if apiErr.Status != "" {
		body = strings.TrimSpace(apiErr.Status + ": " + body)
	}
	return &generation.StatusError{
		StatusCode: apiErr.Code,
		Body:       body,
		RetryAfter: retryInfoDelay(apiErr.Details),
	}
}

func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return genai.APIError{}, false
}

// retryInfoDelay reads google.rpc.RetryInfo from error details, the API's
// replacement for a Retry-After header.
func retryInfoDelay(details []map[string]any) time.Duration {
	for _, detail := range details {
		kind, _ := detail["@type"].(string)
		if !strings.HasSuffix(kind, "google.rpc.RetryInfo") {
			continue
		}
		raw, _ := detail["retryDelay"].(string)
		delay, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil || delay < 0 {
			return 0
		}
		return delay
	}
	return 0
}

func (c *Client) retryAttempts() int {
	if c == nil || c.retryMaxAttempts <= 0 {
		return 1
	}
	return c.retryMaxAttempts
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || err == nil || ctx == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *generation.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return c.capDelay(statusErr.RetryAfter), true
			}
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.backoffDelay(attempt), true
	}
	return 0, false
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	base := defaultRetryBaseDelay
	maxDelay := defaultRetryMaxDelay
	if c != nil {
		if c.retryBaseDelay >= 0 {
			base = c.retryBaseDelay
		}
		if c.retryMaxDelay > 0 {
			maxDelay = c.retryMaxDelay
		}
	}
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}
	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := defaultRetryMaxDelay
	if c != nil && c.retryMaxDelay > 0 {
		maxDelay = c.retryMaxDelay
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c != nil && c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func fallback(value, def string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return def
}
