package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyloom/internal/concat"
	"storyloom/internal/config"
	"storyloom/internal/generation"
	"storyloom/internal/language"
	"storyloom/internal/logging"
	"storyloom/internal/services"
	"storyloom/internal/story"
)

// Progress receives user-facing status strings.
type Progress interface {
	Set(msg string)
	ResetAfter(d time.Duration)
}

// Concatenator joins clip locations into one video.
type Concatenator interface {
	Concat(ctx context.Context, refs []string) (concat.Output, error)
}

// Progress messages.
const (
	MsgPlanning       = "Generating production plan..."
	MsgCharacterModel = "Generating character model..."
	MsgComplete       = "Your story is complete!"
	MsgCombining      = "Combining videos into final story..."
	MsgCombined       = "Videos combined successfully!"
)

// Default progress reset delays.
const (
	DefaultStatusReset  = 5 * time.Second
	DefaultCombineReset = 3 * time.Second
)

// Orchestrator runs one story through the pipeline. It is safe to read its
// state from other goroutines while a stage runs; stage methods themselves
// must not be called concurrently.
type Orchestrator struct {
	backend         generation.Backend
	logger          *slog.Logger
	progress        Progress
	observer        Observer
	concatenator    Concatenator
	poll            generation.PollPolicy
	statusReset     time.Duration
	combineReset    time.Duration
	defaultLanguage string
	runID           string

	mu       sync.RWMutex
	status   Status
	message  string
	input    Input
	language language.Language
	plan     *story.Plan
	session  Session
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithReporter routes progress strings to p.
func WithReporter(p Progress) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.progress = p
		}
	}
}

// WithObserver registers an event observer. Multiple calls accumulate.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs == nil {
			return
		}
		if existing, ok := o.observer.(Observers); ok {
			o.observer = append(existing, obs)
			return
		}
		o.observer = Observers{obs}
	}
}

// WithConcatenator sets the joiner used by Combine.
func WithConcatenator(c Concatenator) Option {
	return func(o *Orchestrator) {
		o.concatenator = c
	}
}

// WithPollPolicy overrides the video poll bounds.
func WithPollPolicy(policy generation.PollPolicy) Option {
	return func(o *Orchestrator) {
		o.poll = policy
	}
}

// WithResetDelays overrides how long terminal progress strings stay visible.
func WithResetDelays(status, combine time.Duration) Option {
	return func(o *Orchestrator) {
		if status > 0 {
			o.statusReset = status
		}
		if combine > 0 {
			o.combineReset = combine
		}
	}
}

// WithDefaultLanguage sets the story language used when Input has none.
func WithDefaultLanguage(name string) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.defaultLanguage = name
		}
	}
}

// WithRunID fixes the run identifier. A uuid is generated otherwise.
func WithRunID(id string) Option {
	return func(o *Orchestrator) {
		if id != "" {
			o.runID = id
		}
	}
}

// New constructs an Orchestrator around backend.
func New(backend generation.Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:         backend,
		progress:        nopProgress{},
		observer:        Observers{},
		poll:            generation.DefaultPollPolicy(),
		statusReset:     DefaultStatusReset,
		combineReset:    DefaultCombineReset,
		defaultLanguage: "English",
		runID:           uuid.NewString(),
		status:          Status{State: StateIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.NewComponentLogger(o.logger, "pipeline").With(logging.String(logging.FieldRunID, o.runID))
	if o.poll.Logger == nil {
		o.poll.Logger = o.logger
	}
	return o
}

// ConfigOptions translates application configuration into options.
func ConfigOptions(cfg *config.Config) []Option {
	return []Option{
		WithPollPolicy(generation.PollPolicy{
			Interval:    cfg.PollInterval(),
			MaxAttempts: cfg.Pipeline.MaxPollAttempts,
			Timeout:     cfg.PollTimeout(),
		}),
		WithResetDelays(cfg.StatusResetDelay(), cfg.CombineResetDelay()),
		WithDefaultLanguage(cfg.Pipeline.DefaultLanguage),
	}
}

// RunID returns the run identifier.
func (o *Orchestrator) RunID() string { return o.runID }

// Status returns the current state and slot.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return o.Status().State
}

// Plan returns the plan, or nil before one was produced.
func (o *Orchestrator) Plan() *story.Plan {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.plan
}

// Language returns the resolved story language of the current input.
func (o *Orchestrator) Language() language.Language {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.language
}

// Snapshot copies the run for concurrent readers.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Snapshot{
		RunID:    o.runID,
		Status:   o.status,
		Progress: o.message,
		Plan:     o.plan,
		Session:  o.session.clone(),
	}
}

// Run performs the full forward pass from plan to clips.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Result, error) {
	if _, err := o.RequestPlan(ctx, in); err != nil {
		return nil, err
	}
	if err := o.GenerateCharacterModel(ctx); err != nil {
		return nil, err
	}
	if err := o.GenerateKeyframes(ctx); err != nil {
		return nil, err
	}
	if err := o.GenerateClips(ctx); err != nil {
		return nil, err
	}
	snap := o.Snapshot()
	return &Result{Plan: snap.Plan, Snapshot: snap}, nil
}

func (o *Orchestrator) setStatus(ctx context.Context, status Status) {
	o.mu.Lock()
	o.status = status
	o.mu.Unlock()
	o.emit(ctx, Event{Type: EventStateChanged, State: status.State, Stage: status.Stage, Index: status.Index})
}

func (o *Orchestrator) report(msg string) {
	o.mu.Lock()
	o.message = msg
	o.mu.Unlock()
	o.progress.Set(msg)
}

func (o *Orchestrator) emit(ctx context.Context, ev Event) {
	ev.RunID = o.runID
	if ev.State == "" {
		ev.State = o.Status().State
	}
	o.observer.Observe(ctx, ev)
}

func (o *Orchestrator) stageContext(ctx context.Context, stage Stage) context.Context {
	ctx = services.WithRunID(ctx, o.runID)
	return services.WithStage(ctx, string(stage))
}

// fail moves the run to StateFailed and returns err unchanged.
func (o *Orchestrator) fail(ctx context.Context, stage Stage, index int, err error) error {
	status := Status{State: StateFailed, Stage: stage, Index: index, Reason: errText(err)}
	o.setStatus(ctx, status)

	attrs := []logging.Attr{
		logging.String(logging.FieldStage, string(stage)),
		logging.String(logging.FieldErrorHint, services.Hint(err)),
		logging.Error(err),
	}
	if index > 0 {
		attrs = append(attrs, logging.Int(logging.FieldSlot, index))
	}
	logging.ErrorWithContext(logging.WithContext(ctx, o.logger), "pipeline stage failed", "stage_failed", attrs...)

	o.emit(ctx, Event{Type: EventSlotFailed, Stage: stage, Index: index, Err: err})
	o.emit(ctx, Event{Type: EventRunFailed, Stage: stage, Index: index, Err: err})
	o.progress.ResetAfter(o.statusReset)
	return err
}

type nopProgress struct{}

func (nopProgress) Set(string)                {}
func (nopProgress) ResetAfter(time.Duration) {}
