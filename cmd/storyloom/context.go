package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"storyloom/internal/assets"
	"storyloom/internal/concat"
	"storyloom/internal/config"
	"storyloom/internal/generation"
	"storyloom/internal/generation/gemini"
	"storyloom/internal/generation/vertex"
	"storyloom/internal/logging"
	"storyloom/internal/pipeline"
)

// backendSet bundles the generative collaborators a command may need.
type backendSet struct {
	Backend generation.Backend
	Chatter generation.Chatter
	Health  interface {
		HealthCheck(ctx context.Context) error
	}
	closers []func() error
}

func (b *backendSet) Close() error {
	var errs []error
	for _, fn := range b.closers {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}

type backendFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backendSet, error)

type concatFactory func(cfg *config.Config, logger *slog.Logger) pipeline.Concatenator

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger

	newBackend backendFactory
	newConcat  concatFactory
	runOptions []pipeline.Option
}

// contextOption replaces collaborators of the command context.
type contextOption func(*commandContext)

func withBackendFactory(fn backendFactory) contextOption {
	return func(c *commandContext) { c.newBackend = fn }
}

func withConcatFactory(fn concatFactory) contextOption {
	return func(c *commandContext) { c.newConcat = fn }
}

// withRunOptions appends orchestrator options to every pipeline run.
func withRunOptions(opts ...pipeline.Option) contextOption {
	return func(c *commandContext) { c.runOptions = append(c.runOptions, opts...) }
}

func newCommandContext(configFlag *string, opts ...contextOption) *commandContext {
	c := &commandContext{
		configFlag: configFlag,
		newBackend: defaultBackend,
		newConcat:  defaultConcat,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) loggerValue() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) openStore() (*assets.SQLiteStore, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := assets.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open asset store: %w", err)
	}
	return store, nil
}

func (c *commandContext) withStore(fn func(*assets.SQLiteStore) error) error {
	store, err := c.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func (c *commandContext) backend(ctx context.Context) (*backendSet, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return c.newBackend(ctx, cfg, c.loggerValue())
}

func (c *commandContext) concatenator() (pipeline.Concatenator, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return c.newConcat(cfg, c.loggerValue()), nil
}

// defaultBackend builds the Gemini SDK client, routing plan generation
// through Vertex AI when that provider is configured.
func defaultBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backendSet, error) {
	if err := cfg.RequireBackendKey(); err != nil {
		return nil, err
	}
	client, err := gemini.NewClient(ctx, gemini.ConfigFromApp(cfg),
		gemini.WithLogger(logger),
		gemini.WithRetryMaxAttempts(cfg.Backend.RetryAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("connect gemini: %w", err)
	}
	set := &backendSet{Backend: client, Chatter: client, Health: client}
	if cfg.Backend.Provider != config.ProviderVertex {
		return set, nil
	}
	plans, err := vertex.New(ctx, cfg.Backend.VertexProject, cfg.Backend.VertexRegion, cfg.Backend.PlanModels, vertex.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("connect vertex ai: %w", err)
	}
	set.Backend = generation.NewComposite(plans, client)
	set.closers = append(set.closers, plans.Close)
	return set, nil
}

func defaultConcat(cfg *config.Config, logger *slog.Logger) pipeline.Concatenator {
	return concat.NewFromConfig(cfg, concat.WithLogger(logger))
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
