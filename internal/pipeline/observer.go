package pipeline

import (
	"context"
	"time"

	"storyloom/internal/concat"
	"storyloom/internal/generation"
	"storyloom/internal/story"
)

// EventType identifies what an Event reports.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventPlanReady    EventType = "plan_ready"
	EventSlotStarted  EventType = "slot_started"
	EventSlotFilled   EventType = "slot_filled"
	EventSlotFailed   EventType = "slot_failed"
	EventStateChanged EventType = "state_changed"
	EventRunCompleted EventType = "run_completed"
	EventRunFailed    EventType = "run_failed"
	EventCombined     EventType = "combined"
)

// Event is delivered to observers synchronously on the run goroutine.
// Fields irrelevant to the event type are zero.
type Event struct {
	Type     EventType
	RunID    string
	State    State
	Stage    Stage
	Index    int
	Input    *Input
	Plan     *story.Plan
	Prompt   string
	Image    *generation.Image
	Video    *generation.Video
	Output   *concat.Output
	Err      error
	Duration time.Duration
}

// Observer receives pipeline events. Observe must not block for long; it runs
// between slots.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

// Observers fans an event out to each non-nil observer in order.
type Observers []Observer

// Observe implements Observer.
func (o Observers) Observe(ctx context.Context, ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, ev)
		}
	}
}
