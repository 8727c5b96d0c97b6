package notifications

import (
	"context"
	"log/slog"
	"sync"

	"storyloom/internal/logging"
	"storyloom/internal/pipeline"
)

type runLabel struct {
	hero  string
	clips int
}

// Observer forwards run milestones from pipelines to a Service. One Observer
// may watch many runs.
type Observer struct {
	svc    Service
	logger *slog.Logger

	mu   sync.Mutex
	runs map[string]runLabel
}

// NewObserver wraps svc.
func NewObserver(svc Service, logger *slog.Logger) *Observer {
	return &Observer{
		svc:    svc,
		logger: logging.NewComponentLogger(logger, "notifications"),
		runs:   make(map[string]runLabel),
	}
}

var _ pipeline.Observer = (*Observer)(nil)

// Observe implements pipeline.Observer.
func (o *Observer) Observe(ctx context.Context, ev pipeline.Event) {
	if ev.Type == pipeline.EventPlanReady && ev.Plan != nil {
		o.mu.Lock()
		o.runs[ev.RunID] = runLabel{hero: ev.Plan.StoryAnalysis.Hero, clips: len(ev.Plan.Clips())}
		o.mu.Unlock()
		return
	}

	o.mu.Lock()
	run := o.runs[ev.RunID]
	o.mu.Unlock()

	var event Event
	payload := Payload{"runId": ev.RunID, "hero": run.hero}
	switch ev.Type {
	case pipeline.EventRunCompleted:
		event = EventRunCompleted
		payload["clips"] = run.clips
	case pipeline.EventRunFailed:
		event = EventRunFailed
		payload["stage"] = string(ev.Stage)
		if ev.Err != nil {
			payload["error"] = ev.Err.Error()
		}
	case pipeline.EventCombined:
		event = EventCombineCompleted
		if ev.Output != nil {
			payload["location"] = ev.Output.Location
		}
	default:
		return
	}
	if err := o.svc.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(o.logger, "notification failed", "notification_failed",
			logging.String(logging.FieldRunID, ev.RunID),
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the run continues without a push notification"),
		)
	}
}
