package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"storyloom/internal/assets"
	"storyloom/internal/companion"
	"storyloom/internal/concat"
	"storyloom/internal/config"
	"storyloom/internal/generation"
	"storyloom/internal/logging"
	"storyloom/internal/metrics"
	"storyloom/internal/notifications"
	"storyloom/internal/pipeline"
	"storyloom/internal/progress"
	"storyloom/internal/services"
)

// Store is the persistence the daemon needs.
type Store interface {
	assets.Store
	assets.ChatStore
	Ping(ctx context.Context) error
	Close() error
}

// Dependencies are the collaborators of a Daemon. Store, Backend and Concat
// are required.
type Dependencies struct {
	Store    Store
	Backend  generation.Backend
	Chatter  generation.Chatter
	Concat   pipeline.Concatenator
	Mirror   assets.Mirror
	Notifier notifications.Service
	// Sink receives every progress update in addition to the store.
	Sink    progress.Sink
	Metrics *metrics.Collector
	// RunOptions are appended to the orchestrator options of every run.
	RunOptions []pipeline.Option
}

// Daemon serves the HTTP API and owns the runs started through it.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   Dependencies

	recorder *assets.Recorder
	notifier *notifications.Observer
	chat     *companion.Registry
	runs     *runRegistry
	server   *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool

	// mu guards baseCtx and cancel.
	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool   `json:"running"`
	ActiveRuns   int    `json:"activeRuns"`
	DatabasePath string `json:"databasePath"`
	LockFilePath string `json:"lockFilePath"`
	Listen       string `json:"listen"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, deps Dependencies) (*Daemon, error) {
	if cfg == nil || deps.Store == nil || deps.Backend == nil || deps.Concat == nil {
		return nil, errors.New("daemon requires config, store, backend, and concatenator")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(cfg)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	recorderOpts := []assets.RecorderOption{assets.WithRecorderLogger(logger)}
	if deps.Mirror != nil {
		recorderOpts = append(recorderOpts, assets.WithMirror(deps.Mirror))
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		deps:     deps,
		recorder: assets.NewRecorder(deps.Store, recorderOpts...),
		notifier: notifications.NewObserver(deps.Notifier, logger),
		runs:     newRunRegistry(),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		baseCtx:  context.Background(),
	}
	if deps.Chatter != nil {
		d.chat = companion.NewRegistry(deps.Store, deps.Store, deps.Chatter, logger)
	}
	d.server = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the data directory lock and starts the HTTP listener.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another storyloom server already owns %s", d.cfg.Paths.DataDir)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.baseCtx, d.cancel = runCtx, cancel
	d.mu.Unlock()
	if err := d.server.start(runCtx); err != nil {
		cancel()
		d.mu.Lock()
		d.baseCtx, d.cancel = context.Background(), nil
		d.mu.Unlock()
		_ = d.lock.Unlock()
		return err
	}
	d.running.Store(true)
	d.logger.Info("storyloom server started",
		logging.String("lock", d.lockPath),
		logging.String("listen", d.server.address()),
	)
	return nil
}

// Stop cancels in-flight runs, stops the listener and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	// baseCtx stays cancelled so runs accepted while shutting down end at once.
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()
	d.server.stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release server lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the next server start may need the lock file removed"),
		)
	}
	d.running.Store(false)
	d.logger.Info("storyloom server stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.deps.Store != nil {
		return d.deps.Store.Close()
	}
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		ActiveRuns:   d.runs.active(),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		Listen:       d.server.address(),
	}
}

// StartRun validates in and launches a full pipeline run in the background.
func (d *Daemon) StartRun(in pipeline.Input) (string, error) {
	if _, err := in.Validate(d.cfg.Pipeline.DefaultLanguage); err != nil {
		return "", err
	}

	id := uuid.NewString()
	reporterOpts := []progress.Option{
		progress.WithRunID(id),
		progress.WithSink(d.recorder),
		progress.WithLogger(d.logger),
	}
	if d.deps.Sink != nil {
		reporterOpts = append(reporterOpts, progress.WithSink(d.deps.Sink))
	}
	reporter := progress.NewReporter(reporterOpts...)

	opts := append(pipeline.ConfigOptions(d.cfg),
		pipeline.WithRunID(id),
		pipeline.WithLogger(d.logger),
		pipeline.WithReporter(reporter),
		pipeline.WithConcatenator(d.deps.Concat),
		pipeline.WithObserver(d.recorder),
		pipeline.WithObserver(d.notifier),
		pipeline.WithObserver(d.deps.Metrics),
	)
	opts = append(opts, d.deps.RunOptions...)

	entry := &run{
		orch:     pipeline.New(d.deps.Backend, opts...),
		reporter: reporter,
		started:  time.Now(),
		done:     make(chan struct{}),
	}
	d.runs.add(id, entry)

	ctx := d.runContext()
	go func() {
		_, err := entry.orch.Run(ctx, in)
		entry.finish(err)
	}()
	return id, nil
}

func (d *Daemon) runContext() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baseCtx
}

// Snapshot returns the state of an in-flight or finished run of this process.
func (d *Daemon) Snapshot(id string) (pipeline.Snapshot, error) {
	entry, ok := d.runs.get(id)
	if !ok {
		return pipeline.Snapshot{}, fmt.Errorf("run %s: %w", id, services.ErrNotFound)
	}
	return entry.orch.Snapshot(), nil
}

// Runs lists the snapshots of every run of this process, oldest first.
func (d *Daemon) Runs() []pipeline.Snapshot {
	return d.runs.snapshots()
}

// Wait blocks until run id finishes and returns its error.
func (d *Daemon) Wait(ctx context.Context, id string) error {
	entry, ok := d.runs.get(id)
	if !ok {
		return fmt.Errorf("run %s: %w", id, services.ErrNotFound)
	}
	return entry.wait(ctx)
}

// CombineRun joins the clips of run id.
func (d *Daemon) CombineRun(ctx context.Context, id string) (*concat.Output, error) {
	entry, ok := d.runs.get(id)
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, services.ErrNotFound)
	}
	return entry.orch.Combine(ctx)
}

// CombineVideos joins clip locations outside of any run. Only http(s) URLs
// and data: URIs are accepted; server-local paths are refused.
func (d *Daemon) CombineVideos(ctx context.Context, refs []string) (concat.Output, error) {
	if err := concat.RequireRemote(refs); err != nil {
		logging.WarnWithContext(d.logger, "standalone combine rejected", "combine_rejected",
			logging.Int("videos", len(refs)),
			logging.Error(err),
		)
		return concat.Output{}, err
	}
	start := time.Now()
	out, err := d.deps.Concat.Concat(ctx, refs)
	if err != nil {
		logging.ErrorWithContext(d.logger, "standalone combine failed", "combine_failed",
			logging.Int("videos", len(refs)),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
			logging.Error(err),
		)
		return concat.Output{}, err
	}
	d.logger.Info("standalone combine completed",
		logging.String(logging.FieldEventType, "combine_completed"),
		logging.Int("videos", len(refs)),
		logging.String("location", out.Location),
		logging.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// DeletePlan removes a stored plan. A run still generating it is refused.
func (d *Daemon) DeletePlan(ctx context.Context, id string) error {
	if entry, ok := d.runs.get(id); ok {
		if done, _ := entry.result(); !done {
			return &pipeline.NotReadyError{State: entry.orch.State(), Missing: "finished run"}
		}
		entry.reporter.Close()
		d.runs.remove(id)
	}
	return d.deps.Store.DeletePlan(ctx, id)
}

// Chat returns the companion registry, or nil when no chat backend is set.
func (d *Daemon) Chat() *companion.Registry {
	return d.chat
}

// Store returns the asset store.
func (d *Daemon) Store() Store {
	return d.deps.Store
}
