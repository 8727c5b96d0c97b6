package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storyloom/internal/logging"
	"storyloom/internal/services"
)

// Default poll bounds for a single video operation.
const (
	DefaultPollInterval    = 10 * time.Second
	DefaultMaxPollAttempts = 60
	DefaultPollTimeout     = 15 * time.Minute
)

// PollPolicy bounds how long AwaitVideo waits for an operation. Whichever of
// MaxAttempts and Timeout is reached first ends the wait.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
	// Sleep waits between polls. Nil uses a context-aware timer.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// DefaultPollPolicy returns the standard video poll bounds.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:    DefaultPollInterval,
		MaxAttempts: DefaultMaxPollAttempts,
		Timeout:     DefaultPollTimeout,
	}
}

func (p PollPolicy) normalized() PollPolicy {
	if p.Interval < 0 {
		p.Interval = 0
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxPollAttempts
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Logger == nil {
		p.Logger = logging.NewNop()
	}
	return p
}

// VideoPoller is the subset of MediaGenerator AwaitVideo needs.
type VideoPoller interface {
	PollVideo(ctx context.Context, op *Operation) (*Operation, error)
}

// AwaitVideo polls op until it is done, the attempt budget is spent, or the
// deadline passes. Exhausting the bounds returns an error wrapping
// services.ErrTimeout; cancellation of ctx returns ctx's error.
func AwaitVideo(ctx context.Context, poller VideoPoller, op *Operation, policy PollPolicy) (Video, error) {
	if op == nil {
		return Video{}, errors.New("await video: nil operation")
	}
	policy = policy.normalized()

	pollCtx := ctx
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	sampler := logging.NewProgressSampler(10)
	logger := policy.Logger.With(logging.String("operation", op.Name))
	attempts := 0
	for !op.Done {
		if attempts >= policy.MaxAttempts {
			return Video{}, timeoutError(op, attempts, "poll attempts exhausted")
		}
		if err := policy.Sleep(pollCtx, policy.Interval); err != nil {
			if ctxErr := pollContextError(ctx, pollCtx, op, attempts); ctxErr != nil {
				return Video{}, ctxErr
			}
			return Video{}, err
		}
		if ctxErr := pollContextError(ctx, pollCtx, op, attempts); ctxErr != nil {
			return Video{}, ctxErr
		}
		next, err := poller.PollVideo(pollCtx, op)
		attempts++
		if err != nil {
			if ctxErr := pollContextError(ctx, pollCtx, op, attempts); ctxErr != nil {
				return Video{}, ctxErr
			}
			return Video{}, fmt.Errorf("poll video operation %s: %w", op.Name, err)
		}
		if next == nil {
			return Video{}, fmt.Errorf("poll video operation %s: empty response", op.Name)
		}
		op = next
		percent := float64(attempts) / float64(policy.MaxAttempts) * 100
		if sampler.ShouldLog(percent, "polling") {
			logger.Debug("video operation pending",
				logging.Int("attempt", attempts),
				logging.Int("max_attempts", policy.MaxAttempts),
				logging.Bool("done", op.Done),
			)
		}
	}

	if msg := strings.TrimSpace(op.Error); msg != "" {
		return Video{}, fmt.Errorf("video operation %s failed: %s", op.Name, msg)
	}
	if strings.TrimSpace(op.VideoURI) == "" {
		return Video{}, fmt.Errorf("video operation %s finished without a video uri", op.Name)
	}
	logger.Debug("video operation complete", logging.Int("attempts", attempts))
	return Video{URI: op.VideoURI}, nil
}

// pollContextError reports the caller's cancellation as-is and expiry of the
// poll deadline as ErrTimeout. It returns nil while both contexts are live.
func pollContextError(parent, pollCtx context.Context, op *Operation, attempts int) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if pollCtx.Err() != nil {
		return timeoutError(op, attempts, "poll deadline exceeded")
	}
	return nil
}

func timeoutError(op *Operation, attempts int, reason string) error {
	return services.Wrap(
		services.ErrTimeout,
		"video",
		"await",
		fmt.Sprintf("operation %s not done after %d polls (%s)", op.Name, attempts, reason),
		nil,
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
