package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"storyloom/internal/concat"
	"storyloom/internal/generation"
	"storyloom/internal/pipeline"
	"storyloom/internal/services"
	"storyloom/internal/testsupport"
)

type recordingProgress struct {
	mu       sync.Mutex
	messages []string
	resets   []time.Duration
}

func (r *recordingProgress) Set(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recordingProgress) ResetAfter(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, d)
}

func (r *recordingProgress) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return ""
	}
	return r.messages[len(r.messages)-1]
}

type eventLog struct {
	mu     sync.Mutex
	events []pipeline.Event
}

func (l *eventLog) Observe(_ context.Context, ev pipeline.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ofType(t pipeline.EventType) []pipeline.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []pipeline.Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeConcat struct {
	refs [][]string
	out  concat.Output
	err  error
}

func (f *fakeConcat) Concat(_ context.Context, refs []string) (concat.Output, error) {
	f.refs = append(f.refs, append([]string(nil), refs...))
	if f.err != nil {
		return concat.Output{}, f.err
	}
	return f.out, nil
}

func sampleInput() pipeline.Input {
	return pipeline.Input{Description: "a fox in the snow", Lesson: "sharing is caring"}
}

func newOrchestrator(backend *testsupport.FakeBackend, opts ...pipeline.Option) (*pipeline.Orchestrator, *recordingProgress, *eventLog) {
	progress := &recordingProgress{}
	events := &eventLog{}
	base := []pipeline.Option{
		pipeline.WithReporter(progress),
		pipeline.WithObserver(events),
		pipeline.WithPollPolicy(testsupport.InstantPolls(5)),
		pipeline.WithRunID("run-test"),
	}
	return pipeline.New(backend, append(base, opts...)...), progress, events
}

func TestRunFillsEverySlot(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.SamplePlan(4, 4, 4))
	backend.PendingPolls = 2
	orch, progress, events := newOrchestrator(backend)

	result, err := orch.Run(context.Background(), sampleInput())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	snap := result.Snapshot
	if snap.CharacterModel == nil {
		t.Fatal("expected character model")
	}
	if kf, clips := snap.Filled(); kf != 4 || clips != 4 {
		t.Fatalf("expected 4/4 filled slots, got %d/%d", kf, clips)
	}
	if orch.State() != pipeline.StateClipsReady {
		t.Fatalf("expected clips_ready, got %s", orch.State())
	}
	if got := len(backend.ImageCalls()); got != 5 {
		t.Fatalf("expected 5 image calls, got %d", got)
	}
	if got := len(backend.VideoCalls()); got != 4 {
		t.Fatalf("expected 4 video calls, got %d", got)
	}
	if progress.last() != pipeline.MsgComplete {
		t.Fatalf("expected completion message, got %q", progress.last())
	}
	if len(events.ofType(pipeline.EventRunCompleted)) != 1 {
		t.Fatal("expected one run_completed event")
	}
	if got := len(events.ofType(pipeline.EventSlotFilled)); got != 9 {
		t.Fatalf("expected 9 slot_filled events, got %d", got)
	}
	for _, ev := range events.events {
		if ev.RunID != "run-test" {
			t.Fatalf("event %s missing run id", ev.Type)
		}
	}
}

func TestProgressMessagesInOrder(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.SamplePlan(2, 2, 2))
	orch, progress, _ := newOrchestrator(backend, pipeline.WithResetDelays(7*time.Second, time.Second))

	if _, err := orch.Run(context.Background(), sampleInput()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	want := []string{
		"Generating production plan...",
		"Generating character model...",
		"Generating keyframe 1/2...",
		"Generating keyframe 2/2...",
		"Animating clip 1/2...",
		"Animating clip 2/2...",
		"Your story is complete!",
	}
	if strings.Join(progress.messages, "|") != strings.Join(want, "|") {
		t.Fatalf("progress = %q, want %q", progress.messages, want)
	}
	if len(progress.resets) != 1 || progress.resets[0] != 7*time.Second {
		t.Fatalf("expected one 7s reset, got %v", progress.resets)
	}
}

func TestKeyframesUseOnlyCharacterModel(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.SamplePlan(3, 3, 3))
	ref := &generation.Image{Data: []byte("drawing"), MIMEType: "image/jpeg"}
	orch, _, _ := newOrchestrator(backend)

	in := sampleInput()
	in.Image = ref
	result, err := orch.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	calls := backend.ImageCalls()
	if calls[0].Ref != ref {
		t.Fatal("character model must be conditioned on the user drawing")
	}
	anchor := result.Snapshot.CharacterModel
	for i, call := range calls[1:] {
		if call.Ref != anchor {
			t.Fatalf("keyframe %d referenced %p, want character model %p", i+1, call.Ref, anchor)
		}
		if !bytes.Equal(call.RefData, anchor.Data) {
			t.Fatalf("keyframe %d reference bytes = %q, want %q", i+1, call.RefData, anchor.Data)
		}
		if !strings.Contains(call.Prompt, "identical to the character model") {
			t.Fatalf("keyframe %d prompt missing consistency directive: %q", i+1, call.Prompt)
		}
	}
}

func TestCharacterModelWithoutDrawingHasNoReference(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.SamplePlan(1, 1, 1))
	orch, _, _ := newOrchestrator(backend)
	if _, err := orch.Run(context.Background(), sampleInput()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	first := backend.ImageCalls()[0]
	if first.Ref != nil {
		t.Fatal("expected no reference image for the character model")
	}
	if !strings.Contains(first.Prompt, `based on this description: "a small orange fox with a blue scarf"`) {
		t.Fatalf("unexpected character prompt %q", first.Prompt)
	}
}

func TestClipsResolveKeyframeAndDialogIndependently(t *testing.T) {
	plan := testsupport.SamplePlan(3, 3, 3)
	plan.VideoGeneration.Clips[0].Input = "Static Keyframe #3"
	plan.VideoGeneration.Clips[2].Input = "Static Keyframe #1"
	plan.EpisodeScript.Scenes[1].Dialog = ""
	backend := testsupport.NewFakeBackend(plan)
	orch, _, _ := newOrchestrator(backend)

	result, err := orch.Run(context.Background(), sampleInput())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	calls := backend.VideoCalls()
	kfs := result.Snapshot.Keyframes
	if !bytes.Equal(calls[0].Source.Data, kfs[2].Data) || !bytes.Equal(calls[2].Source.Data, kfs[0].Data) {
		t.Fatal("clips did not animate their referenced keyframes")
	}
	if !strings.Contains(calls[0].Prompt, `The character Pip is speaking: "Line 1"`) {
		t.Fatalf("clip 1 must speak scene 1 dialog, got %q", calls[0].Prompt)
	}
	if strings.Contains(calls[1].Prompt, "is speaking") {
		t.Fatalf("clip 2 has empty dialog and must not speak: %q", calls[1].Prompt)
	}
	if !strings.Contains(calls[2].Prompt, `"Line 3"`) {
		t.Fatalf("clip 3 must speak scene 3 dialog, got %q", calls[2].Prompt)
	}
}

func TestMoreClipsThanScenesAnimatesWithoutDialog(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.SamplePlan(2, 2, 3))
	orch, _, _ := newOrchestrator(backend)
	if _, err := orch.Run(context.Background(), sampleInput()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	last := backend.VideoCalls()[2]
	if strings.Contains(last.Prompt, "is speaking") {
		t.Fatalf("clip without a scene must not carry dialog: %q", last.Prompt)
	}
}

func TestKeyframeFailureKeepsEarlierSlots(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.SamplePlan(4, 4, 4))
	backend.FailImageAt = 4 // character model + keyframes 1,2 succeed
	orch, progress, events := newOrchestrator(backend)

	_, err := orch.Run(context.Background(), sampleInput())
	var imgErr *pipeline.ImageGenerationError
	if !errors.As(err, &imgErr) {
		t.Fatalf("expected ImageGenerationError, got %v", err)
	}
	if imgErr.Stage != pipeline.StageKeyframe || imgErr.Index != 3 {
		t.Fatalf("expected keyframe 3 failure, got %s %d", imgErr.Stage, imgErr.Index)
	}
	snap := orch.Snapshot()
	if snap.Keyframes[0] == nil || snap.Keyframes[1] == nil || snap.Keyframes[2] != nil || snap.Keyframes[3] != nil {
		t.Fatalf("unexpected keyframe slots %v", snap.Keyframes)
	}
	if len(backend.VideoCalls()) != 0 {
		t.Fatal("clip generation must not start after a keyframe failure")
	}
	status := orch.Status()
	if status.State != pipeline.StateFailed || status.Stage != pipeline.StageKeyframe || status.Index != 3 {
		t.Fatalf("unexpected status %v", status)
	}
	if progress.last() != "Generating keyframe 3/4..." {
		t.Fatalf("expected last progress to stay, got %q", progress.last())
	}
	if len(events.ofType(pipeline.EventRunFailed)) != 1 {
		t.Fatal("expected run_failed event")
	}
}

func TestResubmitKeyframesResumesFromEmptySlot(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.SamplePlan(3, 3, 2))
	backend.FailImageAt = 3
	orch, _, _ := newOrchestrator(backend)

	if _, err := orch.Run(context.Background(), sampleInput()); err == nil {
		t.Fatal("expected failure")
	}
	backend.FailImageAt = 0
	if err := orch.GenerateKeyframes(context.Background()); err != nil {
		t.Fatalf("GenerateKeyframes returned error: %v", err)
	}
	if got := len(backend.ImageCalls()); got != 5 {
		t.Fatalf("expected only keyframes 2 and 3 regenerated (5 calls), got %d", got)
	}
	if err := orch.GenerateClips(context.Background()); err != nil {
		t.Fatalf("GenerateClips returned error: %v", err)
	}
	if orch.State() != pipeline.StateClipsReady {
		t.Fatalf("expected clips_ready, got %s", orch.State())
	}
}

func TestClipFailureWrapsAsVideoGenerationError(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.SamplePlan(2, 2, 3))
	backend.FailVideoAt = 2
	orch, _, _ := newOrchestrator(backend)

	_, err := orch.Run(context.Background(), sampleInput())
	var vidErr *pipeline.VideoGenerationError
	if !errors.As(err, &vidErr) || vidErr.Index != 2 {
		t.Fatalf("expected VideoGenerationError for clip 2, got %v", err)
	}
	snap := orch.Snapshot()
	if snap.Clips[0] == nil || snap.Clips[1] != nil || snap.Clips[2] != nil {
		t.Fatalf("unexpected clip slots %v", snap.Clips)
	}
}

func TestNeverDonePollTerminates(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.SamplePlan(1, 1, 1))
	backend.NeverDone = true
	orch, _, _ := newOrchestrator(backend, pipeline.WithPollPolicy(testsupport.InstantPolls(4)))

	_, err := orch.Run(context.Background(), sampleInput())
	var vidErr *pipeline.VideoGenerationError
	if !errors.As(err, &vidErr) {
		t.Fatalf("expected VideoGenerationError, got %v", err)
	}
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if backend.PollCalls() != 4 {
		t.Fatalf("expected 4 polls, got %d", backend.PollCalls())
	}
}

func TestUnresolvableKeyframeReference(t *testing.T) {
	plan := testsupport.SamplePlan(2, 2, 2)
	plan.VideoGeneration.Clips[1].Input = "Static Keyframe #7"
	backend := testsupport.NewFakeBackend(plan)
	orch, _, _ := newOrchestrator(backend)

	_, err := orch.Run(context.Background(), sampleInput())
	var refErr *pipeline.ReferenceResolutionError
	if !errors.As(err, &refErr) {
		t.Fatalf("expected ReferenceResolutionError, got %v", err)
	}
	if refErr.ClipNumber != 2 || refErr.KeyframeIndex != 7 || refErr.Available != 2 {
		t.Fatalf("unexpected error fields %+v", refErr)
	}
	if len(backend.VideoCalls()) != 1 {
		t.Fatalf("expected only clip 1 started, got %d", len(backend.VideoCalls()))
	}
}

func TestInvalidInputMakesNoBackendCall(t *testing.T) {
	tests := []struct {
		name  string
		in    pipeline.Input
		field string
	}{
		{"no description or image", pipeline.Input{Lesson: "be kind"}, "description"},
		{"blank lesson", pipeline.Input{Description: "fox", Lesson: "   "}, "lesson"},
		{"image without mime", pipeline.Input{Lesson: "be kind", Image: &generation.Image{Data: []byte{1}}}, "image"},
		{"non-image mime", pipeline.Input{Lesson: "be kind", Image: &generation.Image{Data: []byte{1}, MIMEType: "video/mp4"}}, "image"},
		{"bad language", pipeline.Input{Description: "fox", Lesson: "be kind", Language: "??"}, "language"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := testsupport.NewFakeBackend(testsupport.SamplePlan(1, 1, 1))
			orch, _, _ := newOrchestrator(backend)
			_, err := orch.Run(context.Background(), tt.in)
			var inErr *pipeline.InvalidInputError
			if !errors.As(err, &inErr) || inErr.Field != tt.field {
				t.Fatalf("expected InvalidInputError on %s, got %v", tt.field, err)
			}
			if !errors.Is(err, services.ErrValidation) {
				t.Fatal("expected ErrValidation marker")
			}
			if len(backend.PlanRequests()) != 0 {
				t.Fatal("backend must not be called for invalid input")
			}
			if orch.State() != pipeline.StateIdle {
				t.Fatalf("expected idle state, got %s", orch.State())
			}
		})
	}
}

func TestPlanRequestCarriesLanguageAndImage(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.SamplePlan(1, 1, 1))
	orch, _, _ := newOrchestrator(backend, pipeline.WithDefaultLanguage("Spanish"))
	img := &generation.Image{Data: []byte("drawing"), MIMEType: "image/png"}

	if _, err := orch.RequestPlan(context.Background(), pipeline.Input{Lesson: "share", Image: img}); err != nil {
		t.Fatalf("RequestPlan returned error: %v", err)
	}
	reqs := backend.PlanRequests()
	if len(reqs) != 1 || reqs[0].Language != "Spanish" || reqs[0].Image != img {
		t.Fatalf("unexpected plan request %+v", reqs)
	}
	if orch.State() != pipeline.StatePlanReady {
		t.Fatalf("expected plan_ready, got %s", orch.State())
	}
}

func TestPlanFailureIsPlanGenerationError(t *testing.T) {
	backend := testsupport.NewFakeBackend(nil)
	backend.PlanErr = services.Wrap(services.ErrExternalTool, "plan", "generate", "all models failed", nil)
	orch, _, _ := newOrchestrator(backend)

	_, err := orch.Run(context.Background(), sampleInput())
	var planErr *pipeline.PlanGenerationError
	if !errors.As(err, &planErr) {
		t.Fatalf("expected PlanGenerationError, got %v", err)
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatal("expected backend marker to be preserved")
	}
	if orch.Plan() != nil {
		t.Fatal("no partial plan may be retained")
	}
	if status := orch.Status(); status.State != pipeline.StateFailed || status.Stage != pipeline.StagePlan {
		t.Fatalf("unexpected status %v", status)
	}
}

func TestSchemaInvalidPlanIsPlanGenerationError(t *testing.T) {
	plan := testsupport.SamplePlan(1, 1, 1)
	plan.StaticKeyframes.Keyframes = nil
	orch, _, _ := newOrchestrator(testsupport.NewFakeBackend(plan))

	_, err := orch.Run(context.Background(), sampleInput())
	var planErr *pipeline.PlanGenerationError
	if !errors.As(err, &planErr) {
		t.Fatalf("expected PlanGenerationError, got %v", err)
	}
}

func TestCancellationBetweenSlots(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.SamplePlan(3, 3, 3))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend.BeforeImage = func(_ context.Context, call int) error {
		if call == 2 {
			cancel()
		}
		return nil
	}
	orch, _, _ := newOrchestrator(backend)

	_, err := orch.Run(ctx, sampleInput())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var imgErr *pipeline.ImageGenerationError
	if !errors.As(err, &imgErr) || imgErr.Stage != pipeline.StageKeyframe {
		t.Fatalf("expected keyframe stage error, got %v", err)
	}
	if orch.State() != pipeline.StateFailed {
		t.Fatalf("expected failed state, got %s", orch.State())
	}
	if got := len(backend.ImageCalls()); got != 2 {
		t.Fatalf("expected no image call after cancellation, got %d", got)
	}
}

func TestStagesRequireTheirInputs(t *testing.T) {
	orch, _, _ := newOrchestrator(testsupport.NewFakeBackend(testsupport.SamplePlan(1, 1, 1)))
	ctx := context.Background()
	var notReady *pipeline.NotReadyError
	if err := orch.GenerateCharacterModel(ctx); !errors.As(err, &notReady) {
		t.Fatalf("expected NotReadyError before plan, got %v", err)
	}
	if err := orch.GenerateKeyframes(ctx); !errors.As(err, &notReady) {
		t.Fatalf("expected NotReadyError before character model, got %v", err)
	}
	if _, err := orch.RequestPlan(ctx, sampleInput()); err != nil {
		t.Fatalf("RequestPlan returned error: %v", err)
	}
	if err := orch.GenerateClips(ctx); !errors.As(err, &notReady) {
		t.Fatalf("expected NotReadyError before keyframes, got %v", err)
	}
	if _, err := orch.Combine(ctx); !errors.As(err, &notReady) {
		t.Fatalf("expected NotReadyError before clips, got %v", err)
	}
}

func TestCombineAfterRun(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.SamplePlan(2, 2, 2))
	joiner := &fakeConcat{out: concat.Output{Location: "/videos/combined_x.mp4", Success: true, Combined: true}}
	orch, progress, events := newOrchestrator(backend,
		pipeline.WithConcatenator(joiner),
		pipeline.WithResetDelays(0, 2*time.Second),
	)

	if _, err := orch.Run(context.Background(), sampleInput()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	out, err := orch.Combine(context.Background())
	if err != nil {
		t.Fatalf("Combine returned error: %v", err)
	}
	if out.Location != "/videos/combined_x.mp4" {
		t.Fatalf("unexpected output %+v", out)
	}
	if len(joiner.refs) != 1 || len(joiner.refs[0]) != 2 || !strings.HasSuffix(joiner.refs[0][0], "video-1.mp4") {
		t.Fatalf("unexpected concat refs %v", joiner.refs)
	}
	snap := orch.Snapshot()
	if snap.Final == nil || snap.Status.State != pipeline.StateComplete {
		t.Fatalf("expected final output and complete state, got %+v", snap.Status)
	}
	msgs := progress.messages
	if msgs[len(msgs)-2] != pipeline.MsgCombining || msgs[len(msgs)-1] != pipeline.MsgCombined {
		t.Fatalf("unexpected combine progress %q", msgs[len(msgs)-2:])
	}
	if progress.resets[len(progress.resets)-1] != 2*time.Second {
		t.Fatalf("expected combine reset delay, got %v", progress.resets)
	}
	if len(events.ofType(pipeline.EventCombined)) != 1 {
		t.Fatal("expected combined event")
	}
}

func TestCombineFailureKeepsClipsReady(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.SamplePlan(1, 1, 2))
	joiner := &fakeConcat{err: &concat.ConcatenationError{Err: errors.New("ffmpeg: exit status 1")}}
	orch, _, _ := newOrchestrator(backend, pipeline.WithConcatenator(joiner))

	if _, err := orch.Run(context.Background(), sampleInput()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	_, err := orch.Combine(context.Background())
	var concatErr *pipeline.ConcatenationError
	if !errors.As(err, &concatErr) {
		t.Fatalf("expected ConcatenationError, got %v", err)
	}
	if orch.State() != pipeline.StateClipsReady {
		t.Fatalf("expected clips_ready after failed combine, got %s", orch.State())
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	backend := testsupport.NewFakeBackend(testsupport.SamplePlan(2, 2, 2))
	orch, _, _ := newOrchestrator(backend)
	if _, err := orch.RequestPlan(context.Background(), sampleInput()); err != nil {
		t.Fatalf("RequestPlan returned error: %v", err)
	}
	snap := orch.Snapshot()
	if len(snap.Keyframes) != 2 || snap.Keyframes[0] != nil {
		t.Fatalf("expected empty keyframe slots, got %v", snap.Keyframes)
	}
	snap.Keyframes[0] = &generation.Image{Data: []byte("x")}
	if orch.Snapshot().Keyframes[0] != nil {
		t.Fatal("mutating a snapshot must not affect the run")
	}
}
