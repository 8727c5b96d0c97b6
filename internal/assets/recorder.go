package assets

import (
	"context"
	"log/slog"
	"time"

	"storyloom/internal/logging"
	"storyloom/internal/pipeline"
	"storyloom/internal/progress"
	"storyloom/internal/story"
)

// Mirror copies a combined video somewhere durable and returns its location.
type Mirror interface {
	Upload(ctx context.Context, planID, localPath string) (string, error)
}

// Recorder persists pipeline events. It is a pipeline.Observer and a
// progress.Sink; store failures are logged and never stop the run.
type Recorder struct {
	store  Store
	mirror Mirror
	logger *slog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithMirror uploads combined videos through m.
func WithMirror(m Mirror) RecorderOption {
	return func(r *Recorder) { r.mirror = m }
}

// WithRecorderLogger attaches a logger.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRecorder constructs a Recorder writing to store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{store: store}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "assets")
	return r
}

var (
	_ pipeline.Observer = (*Recorder)(nil)
	_ progress.Sink     = (*Recorder)(nil)
)

// Observe implements pipeline.Observer.
func (r *Recorder) Observe(ctx context.Context, ev pipeline.Event) {
	if ev.RunID == "" {
		return
	}
	var err error
	switch ev.Type {
	case pipeline.EventRunStarted:
		err = r.store.SavePlan(ctx, planRecordFor(ev))
	case pipeline.EventPlanReady:
		err = r.savePlanJSON(ctx, ev.RunID, ev.Plan)
	case pipeline.EventStateChanged:
		if ev.State != pipeline.StateFailed {
			err = r.store.UpdateRun(ctx, ev.RunID, RunUpdate{State: string(ev.State), Stage: string(ev.Stage)})
		}
	case pipeline.EventRunFailed:
		err = r.store.UpdateRun(ctx, ev.RunID, RunUpdate{
			State: string(pipeline.StateFailed),
			Stage: string(ev.Stage),
			Error: errString(ev.Err),
		})
	case pipeline.EventSlotStarted:
		if assetType, index, ok := slotKey(ev); ok {
			_, err = r.store.PutAsset(ctx, Asset{PlanID: ev.RunID, Type: assetType, Index: index, Prompt: ev.Prompt, Status: StatusGenerating})
		}
	case pipeline.EventSlotFilled:
		err = r.recordFilled(ctx, ev)
	case pipeline.EventSlotFailed:
		if assetType, index, ok := slotKey(ev); ok {
			_, err = r.store.PutAsset(ctx, Asset{PlanID: ev.RunID, Type: assetType, Index: index, Status: StatusFailed, ErrorMessage: errString(ev.Err)})
		}
	case pipeline.EventCombined:
		err = r.recordCombined(ctx, ev)
	}
	if err != nil {
		logging.WarnWithContext(r.logger, "asset record failed", "asset_record_failed",
			logging.String(logging.FieldRunID, ev.RunID),
			logging.String("event", string(ev.Type)),
			logging.String(logging.FieldStage, string(ev.Stage)),
			logging.Int(logging.FieldSlot, ev.Index),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the run continues but its persisted record is incomplete"),
		)
	}
}

// Publish implements progress.Sink by storing the latest progress string.
func (r *Recorder) Publish(u progress.Update) error {
	if u.RunID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.store.UpdateProgress(ctx, u.RunID, u.Message)
}

func (r *Recorder) savePlanJSON(ctx context.Context, id string, plan *story.Plan) error {
	if plan == nil {
		return nil
	}
	data, err := story.Encode(plan)
	if err != nil {
		return err
	}
	return r.store.SetPlanJSON(ctx, id, string(data))
}

func (r *Recorder) recordFilled(ctx context.Context, ev pipeline.Event) error {
	assetType, index, ok := slotKey(ev)
	if !ok {
		return nil
	}
	asset := Asset{PlanID: ev.RunID, Type: assetType, Index: index, Prompt: ev.Prompt, Status: StatusCompleted}
	switch {
	case ev.Image != nil:
		asset.URI = ev.Image.DataURI()
		asset.MIMEType = ev.Image.MIMEType
	case ev.Video != nil:
		asset.URI = ev.Video.URI
		asset.MIMEType = "video/mp4"
	}
	_, err := r.store.PutAsset(ctx, asset)
	return err
}

func (r *Recorder) recordCombined(ctx context.Context, ev pipeline.Event) error {
	if ev.Output == nil {
		return nil
	}
	location := ev.Output.Location
	if r.mirror != nil && ev.Output.Combined {
		remote, err := r.mirror.Upload(ctx, ev.RunID, location)
		if err != nil {
			logging.WarnWithContext(r.logger, "combined video mirror failed", "mirror_failed",
				logging.String(logging.FieldRunID, ev.RunID),
				logging.String("location", location),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the local file is recorded instead"),
			)
		} else {
			location = remote
		}
	}
	_, err := r.store.PutAsset(ctx, Asset{
		PlanID:   ev.RunID,
		Type:     TypeFinalVideo,
		URI:      location,
		MIMEType: "video/mp4",
		Status:   StatusCompleted,
	})
	return err
}

func planRecordFor(ev pipeline.Event) *PlanRecord {
	rec := &PlanRecord{ID: ev.RunID, State: string(pipeline.StatePlanRequested), Stage: string(pipeline.StagePlan)}
	if ev.Input != nil {
		rec.Description = ev.Input.Description
		rec.Lesson = ev.Input.Lesson
		rec.Language = ev.Input.Language
		rec.HasImage = ev.Input.HasImage()
	}
	return rec
}

func slotKey(ev pipeline.Event) (AssetType, int, bool) {
	switch ev.Stage {
	case pipeline.StageCharacterModel:
		return TypeCharacterModel, 0, true
	case pipeline.StageKeyframe:
		return TypeKeyframe, ev.Index, ev.Index > 0
	case pipeline.StageClip:
		return TypeVideo, ev.Index, ev.Index > 0
	case pipeline.StageCombine:
		return TypeFinalVideo, 0, true
	default:
		return "", 0, false
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
