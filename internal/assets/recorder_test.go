package assets_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"storyloom/internal/assets"
	"storyloom/internal/concat"
	"storyloom/internal/pipeline"
	"storyloom/internal/progress"
	"storyloom/internal/testsupport"
)

type stubMirror struct {
	uploads []string
	err     error
}

func (m *stubMirror) Upload(_ context.Context, planID, localPath string) (string, error) {
	m.uploads = append(m.uploads, planID+":"+localPath)
	if m.err != nil {
		return "", m.err
	}
	return "gs://bucket/" + planID + "/final.mp4", nil
}

type stubConcat struct{}

func (stubConcat) Concat(context.Context, []string) (concat.Output, error) {
	return concat.Output{Location: "/videos/combined_1.mp4", Success: true, Combined: true}, nil
}

func TestRecorderPersistsRun(t *testing.T) {
	ctx := context.Background()
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	mirror := &stubMirror{}
	recorder := assets.NewRecorder(store, assets.WithMirror(mirror))
	reporter := progress.NewReporter(progress.WithRunID("run-1"), progress.WithSink(recorder))

	backend := testsupport.NewFakeBackend(testsupport.SamplePlan(2, 2, 2))
	orch := pipeline.New(backend,
		pipeline.WithRunID("run-1"),
		pipeline.WithObserver(recorder),
		pipeline.WithReporter(reporter),
		pipeline.WithConcatenator(stubConcat{}),
		pipeline.WithPollPolicy(testsupport.InstantPolls(3)),
	)
	if _, err := orch.Run(ctx, pipeline.Input{Description: "fox", Lesson: "share", Language: "French"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := orch.Combine(ctx); err != nil {
		t.Fatalf("Combine: %v", err)
	}
	reporter.Close()

	rec, err := store.GetPlan(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if rec.Lesson != "share" || rec.Language != "French" || rec.State != string(pipeline.StateComplete) {
		t.Fatalf("unexpected plan record %+v", rec)
	}
	if rec.ProgressMessage != pipeline.MsgCombined {
		t.Fatalf("expected latest progress persisted, got %q", rec.ProgressMessage)
	}
	if plan, err := rec.Plan(); err != nil || len(plan.Clips()) != 2 {
		t.Fatalf("plan json not stored: %v", err)
	}

	list, err := store.ListAssets(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListAssets: %v", err)
	}
	if len(list) != 6 {
		t.Fatalf("expected 1+2+2+1 assets, got %d", len(list))
	}
	for _, a := range list {
		if a.Status != assets.StatusCompleted {
			t.Fatalf("asset %s/%d not completed: %s", a.Type, a.Index, a.Status)
		}
	}
	if !strings.HasPrefix(list[0].URI, "data:image/png;base64,") || list[0].Prompt == "" {
		t.Fatalf("character model asset missing data uri or prompt: %+v", list[0])
	}
	final := list[5]
	if final.Type != assets.TypeFinalVideo || final.URI != "gs://bucket/run-1/final.mp4" {
		t.Fatalf("unexpected final asset %+v", final)
	}
	if len(mirror.uploads) != 1 || mirror.uploads[0] != "run-1:/videos/combined_1.mp4" {
		t.Fatalf("unexpected mirror uploads %v", mirror.uploads)
	}
}

func TestRecorderMarksFailedSlot(t *testing.T) {
	ctx := context.Background()
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	recorder := assets.NewRecorder(store)

	backend := testsupport.NewFakeBackend(testsupport.SamplePlan(3, 3, 3))
	backend.FailImageAt = 3
	backend.ImageErr = errors.New("quota exceeded")
	orch := pipeline.New(backend, pipeline.WithRunID("run-2"), pipeline.WithObserver(recorder))
	if _, err := orch.Run(ctx, pipeline.Input{Description: "fox", Lesson: "share"}); err == nil {
		t.Fatal("expected failure")
	}

	rec, err := store.GetPlan(ctx, "run-2")
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if rec.State != string(pipeline.StateFailed) || rec.Stage != string(pipeline.StageKeyframe) || !strings.Contains(rec.ErrorMessage, "quota exceeded") {
		t.Fatalf("unexpected failed record %+v", rec)
	}
	list, err := store.ListAssets(ctx, "run-2")
	if err != nil {
		t.Fatalf("ListAssets: %v", err)
	}
	var failed *assets.Asset
	for i := range list {
		if list[i].Type == assets.TypeKeyframe && list[i].Index == 2 {
			failed = &list[i]
		}
	}
	if failed == nil || failed.Status != assets.StatusFailed || failed.Prompt == "" {
		t.Fatalf("expected keyframe 2 marked failed with its prompt, got %+v", failed)
	}
}

func TestRecorderFallsBackToLocalWhenMirrorFails(t *testing.T) {
	ctx := context.Background()
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	testsupport.NewPlanRecord(t, store, "run-3", 1, 1, 1)
	recorder := assets.NewRecorder(store, assets.WithMirror(&stubMirror{err: errors.New("forbidden")}))

	recorder.Observe(ctx, pipeline.Event{
		Type:   pipeline.EventCombined,
		RunID:  "run-3",
		Stage:  pipeline.StageCombine,
		Output: &concat.Output{Location: "/videos/combined_3.mp4", Success: true, Combined: true},
	})
	list, err := store.ListAssets(ctx, "run-3")
	if err != nil || len(list) != 1 || list[0].URI != "/videos/combined_3.mp4" {
		t.Fatalf("expected local location recorded, got %+v (%v)", list, err)
	}
}
