package concat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"storyloom/internal/config"
	"storyloom/internal/logging"
	"storyloom/internal/media/ffprobe"
)

// Output describes the result of a Concat call.
type Output struct {
	Location string `json:"location"`
	Success  bool   `json:"success"`
	// Combined is false when a single input was passed through unchanged.
	Combined bool `json:"combined"`
}

// CommandRunner runs an external tool in dir and returns its stderr.
type CommandRunner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// Downloader materializes ref at dest.
type Downloader func(ctx context.Context, ref, dest string) error

// Settings configures a Concatenator.
type Settings struct {
	FFmpegBinary        string
	FFprobeBinary       string
	WorkDir             string
	OutputDir           string
	DownloadConcurrency int
	DownloadTimeout     time.Duration
	Verify              bool
}

// Concatenator joins clips with ffmpeg.
type Concatenator struct {
	settings Settings
	run      CommandRunner
	download Downloader
	probe    ffprobe.Inspector
	logger   *slog.Logger
	newID    func() string

	fetcher *fetcher
}

// Option customizes a Concatenator.
type Option func(*Concatenator)

// WithRunner replaces the ffmpeg process runner.
func WithRunner(run CommandRunner) Option {
	return func(c *Concatenator) {
		if run != nil {
			c.run = run
		}
	}
}

// WithDownloader replaces the input materializer.
func WithDownloader(download Downloader) Option {
	return func(c *Concatenator) {
		if download != nil {
			c.download = download
		}
	}
}

// WithInspector replaces the ffprobe call used for output verification.
func WithInspector(probe ffprobe.Inspector) Option {
	return func(c *Concatenator) {
		if probe != nil {
			c.probe = probe
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Concatenator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDownloadKey appends key as the "key" query parameter to http(s)
// inputs on host that do not already carry one.
func WithDownloadKey(host, key string) Option {
	return func(c *Concatenator) {
		c.fetcher.keyHost = strings.ToLower(strings.TrimSpace(host))
		c.fetcher.key = strings.TrimSpace(key)
	}
}

// WithIDGenerator overrides scratch/output name generation (useful for tests).
func WithIDGenerator(fn func() string) Option {
	return func(c *Concatenator) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// New constructs a Concatenator.
func New(settings Settings, opts ...Option) *Concatenator {
	if strings.TrimSpace(settings.FFmpegBinary) == "" {
		settings.FFmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(settings.FFprobeBinary) == "" {
		settings.FFprobeBinary = "ffprobe"
	}
	if settings.DownloadConcurrency <= 0 {
		settings.DownloadConcurrency = 2
	}
	if settings.DownloadTimeout <= 0 {
		settings.DownloadTimeout = 5 * time.Minute
	}
	if settings.WorkDir == "" {
		settings.WorkDir = os.TempDir()
	}
	c := &Concatenator{
		settings: settings,
		run:      runCommand,
		probe:    ffprobe.Inspect,
		newID:    uuid.NewString,
		fetcher:  newFetcher(settings.DownloadTimeout),
	}
	c.download = c.fetcher.fetch
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "concat")
	c.fetcher.logger = c.logger
	return c
}

// NewFromConfig builds a Concatenator from application configuration.
func NewFromConfig(cfg *config.Config, opts ...Option) *Concatenator {
	settings := Settings{
		FFmpegBinary:        cfg.FFmpegBinary(),
		FFprobeBinary:       cfg.FFprobeBinary(),
		WorkDir:             cfg.Paths.WorkDir,
		OutputDir:           cfg.Paths.OutputDir,
		DownloadConcurrency: cfg.Concat.DownloadConcurrency,
		DownloadTimeout:     time.Duration(cfg.Concat.DownloadTimeout) * time.Second,
		Verify:              cfg.Concat.VerifyOutput,
	}
	base := []Option{WithDownloadKey(backendHost(cfg.Backend.BaseURL), cfg.Backend.APIKey)}
	return New(settings, append(base, opts...)...)
}

// Concat joins refs in order.
func (c *Concatenator) Concat(ctx context.Context, refs []string) (Output, error) {
	clean := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref = strings.TrimSpace(ref); ref != "" {
			clean = append(clean, ref)
		}
	}
	switch len(clean) {
	case 0:
		return Output{}, &NoVideosError{}
	case 1:
		c.logger.Info("single clip; skipping concatenation")
		return Output{Location: clean[0], Success: true}, nil
	}

	id := c.newID()
	tempDir := filepath.Join(c.settings.WorkDir, "concat_"+id)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return Output{}, &ConcatenationError{Err: fmt.Errorf("create scratch directory: %w", err)}
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			logging.WarnWithContext(c.logger, "scratch cleanup failed", "concat_cleanup_failed",
				logging.String("dir", tempDir),
				logging.Error(err),
			)
		}
	}()

	start := time.Now()
	inputs, err := c.materialize(ctx, tempDir, clean)
	if err != nil {
		return Output{}, &ConcatenationError{Err: err}
	}

	listPath := filepath.Join(tempDir, "concat.txt")
	if err := writeConcatList(listPath, inputs); err != nil {
		return Output{}, &ConcatenationError{Err: err}
	}

	if err := os.MkdirAll(c.settings.OutputDir, 0o755); err != nil {
		return Output{}, &ConcatenationError{Err: fmt.Errorf("create output directory: %w", err)}
	}
	output := filepath.Join(c.settings.OutputDir, "combined_"+id+".mp4")
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		output,
	}
	c.logger.Debug("running ffmpeg", logging.String("binary", c.settings.FFmpegBinary), logging.Int("inputs", len(inputs)))
	if stderr, err := c.run(ctx, tempDir, c.settings.FFmpegBinary, args...); err != nil {
		_ = os.Remove(output)
		return Output{}, &ConcatenationError{Output: output, Stderr: string(stderr), Err: fmt.Errorf("ffmpeg: %w", err)}
	}

	if c.settings.Verify {
		if err := c.verify(ctx, output); err != nil {
			_ = os.Remove(output)
			return Output{}, &ConcatenationError{Output: output, Err: err}
		}
	}

	c.logger.Info("videos combined",
		logging.String("output", output),
		logging.Int("clips", len(inputs)),
		logging.Duration("elapsed", time.Since(start)),
	)
	return Output{Location: output, Success: true, Combined: true}, nil
}

func (c *Concatenator) materialize(ctx context.Context, dir string, refs []string) ([]string, error) {
	inputs := make([]string, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.settings.DownloadConcurrency)
	for i, ref := range refs {
		dest := filepath.Join(dir, fmt.Sprintf("clip_%03d.mp4", i+1))
		g.Go(func() error {
			if err := c.download(gctx, ref, dest); err != nil {
				return fmt.Errorf("materialize clip %d: %w", i+1, err)
			}
			inputs[i] = dest
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inputs, nil
}

func (c *Concatenator) verify(ctx context.Context, output string) error {
	result, err := c.probe(ctx, c.settings.FFprobeBinary, output)
	if err != nil {
		return fmt.Errorf("verify output: %w", err)
	}
	if result.VideoStreamCount() == 0 {
		return errors.New("verify output: no video stream in combined file")
	}
	c.logger.Debug("combined output verified",
		logging.String("resolution", result.Resolution()),
		logging.Float64("duration_seconds", result.DurationSeconds()),
	)
	return nil
}

// writeConcatList writes an ffmpeg concat demuxer list. Single quotes in
// paths are closed, escaped, and reopened.
func writeConcatList(path string, inputs []string) error {
	var b strings.Builder
	for _, input := range inputs {
		abs, err := filepath.Abs(input)
		if err != nil {
			return fmt.Errorf("resolve input path: %w", err)
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}

func runCommand(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}
