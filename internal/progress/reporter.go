package progress

import (
	"log/slog"
	"sync"
	"time"

	"storyloom/internal/logging"
)

// Update is one status change.
type Update struct {
	RunID   string    `json:"run_id"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Sink receives status changes. Publish is called outside the reporter lock.
type Sink interface {
	Publish(u Update) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(u Update) error

// Publish implements Sink.
func (f SinkFunc) Publish(u Update) error { return f(u) }

// Timer is the handle returned by an AfterFunc.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Reporter stores the current status message.
type Reporter struct {
	runID     string
	sinks     []Sink
	afterFunc AfterFunc
	now       func() time.Time
	logger    *slog.Logger

	mu         sync.Mutex
	current    string
	generation uint64
	timer      Timer
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithRunID stamps published updates with a run identifier.
func WithRunID(id string) Option {
	return func(r *Reporter) { r.runID = id }
}

// WithSink adds a sink. Multiple calls accumulate.
func WithSink(s Sink) Option {
	return func(r *Reporter) {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
}

// WithAfterFunc replaces the reset scheduler (time.AfterFunc by default).
func WithAfterFunc(fn AfterFunc) Option {
	return func(r *Reporter) {
		if fn != nil {
			r.afterFunc = fn
		}
	}
}

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger attaches a logger used for sink failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reporter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReporter constructs a Reporter with an empty status.
func NewReporter(opts ...Option) *Reporter {
	r := &Reporter{
		afterFunc: func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "progress")
	return r
}

// Set replaces the status and cancels any pending reset.
func (r *Reporter) Set(msg string) {
	r.mu.Lock()
	r.stopTimerLocked()
	r.generation++
	changed := r.current != msg
	r.current = msg
	r.mu.Unlock()
	if changed {
		r.publish(msg)
	}
}

// Current returns the status message.
func (r *Reporter) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// ResetAfter clears the status after d unless Set is called first. A
// non-positive d clears immediately.
func (r *Reporter) ResetAfter(d time.Duration) {
	if d <= 0 {
		r.Set("")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTimerLocked()
	gen := r.generation
	r.timer = r.afterFunc(d, func() { r.expire(gen) })
}

// Close cancels a pending reset.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTimerLocked()
}

func (r *Reporter) expire(gen uint64) {
	r.mu.Lock()
	if gen != r.generation || r.current == "" {
		r.mu.Unlock()
		return
	}
	r.generation++
	r.current = ""
	r.timer = nil
	r.mu.Unlock()
	r.publish("")
}

func (r *Reporter) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Reporter) publish(msg string) {
	if len(r.sinks) == 0 {
		return
	}
	update := Update{RunID: r.runID, Message: msg, At: r.now().UTC()}
	for _, sink := range r.sinks {
		if err := sink.Publish(update); err != nil {
			logging.WarnWithContext(r.logger, "progress sink publish failed", "progress_publish_failed",
				logging.String(logging.FieldRunID, r.runID),
				logging.Error(err),
			)
		}
	}
}
