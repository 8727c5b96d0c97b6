package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storyloom/internal/concat"
	"storyloom/internal/generation"
	"storyloom/internal/logging"
	"storyloom/internal/services"
	"storyloom/internal/story"
)

// RequestPlan validates in and asks the backend for a production plan. An
// earlier plan and all of its slots are discarded.
func (o *Orchestrator) RequestPlan(ctx context.Context, in Input) (*story.Plan, error) {
	if status := o.Status(); status.State.busy() {
		return nil, &NotReadyError{State: status.State, Missing: "idle orchestrator"}
	}
	lang, err := in.Validate(o.defaultLanguage)
	if err != nil {
		o.logger.Warn("story input rejected",
			logging.String(logging.FieldEventType, "input_invalid"),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
			logging.Error(err),
		)
		return nil, err
	}
	ctx = o.stageContext(ctx, StagePlan)
	logger := logging.WithContext(ctx, o.logger)

	o.mu.Lock()
	o.input = in
	o.language = lang
	o.plan = nil
	o.session = Session{}
	o.mu.Unlock()

	o.emit(ctx, Event{Type: EventRunStarted, State: StatePlanRequested, Input: &in})
	o.setStatus(ctx, Status{State: StatePlanRequested, Stage: StagePlan})
	o.report(MsgPlanning)

	if err := ctx.Err(); err != nil {
		return nil, o.fail(ctx, StagePlan, 0, &PlanGenerationError{Err: err})
	}
	start := time.Now()
	plan, err := o.backend.GeneratePlan(ctx, in.request(lang))
	if err == nil {
		if plan == nil {
			err = errors.New("backend returned no plan")
		} else {
			err = plan.Validate()
		}
	}
	if err != nil {
		return nil, o.fail(ctx, StagePlan, 0, &PlanGenerationError{Err: err})
	}

	o.mu.Lock()
	o.plan = plan
	o.session = newSession(plan)
	o.mu.Unlock()

	elapsed := time.Since(start)
	logger.Info("production plan ready",
		logging.String(logging.FieldEventType, "plan_ready"),
		logging.String("hero", plan.StoryAnalysis.Hero),
		logging.String("language", lang.Name),
		logging.Int("keyframes", len(plan.Keyframes())),
		logging.Int("clips", len(plan.Clips())),
		logging.Int("scenes", len(plan.Scenes())),
		logging.Duration("elapsed", elapsed),
	)
	if len(plan.Scenes()) != len(plan.Keyframes()) {
		logging.WarnWithContext(logger, "scene and keyframe counts differ", "plan_count_mismatch",
			logging.Int("scenes", len(plan.Scenes())),
			logging.Int("keyframes", len(plan.Keyframes())),
			logging.String(logging.FieldImpact, "clips past the last scene are animated without dialog"),
		)
	}
	o.setStatus(ctx, Status{State: StatePlanReady, Stage: StagePlan})
	o.emit(ctx, Event{Type: EventPlanReady, Stage: StagePlan, Plan: plan, Duration: elapsed})
	return plan, nil
}

// GenerateCharacterModel renders the single visual anchor. Existing keyframes
// and clips are discarded because they were drawn against the previous anchor.
func (o *Orchestrator) GenerateCharacterModel(ctx context.Context) error {
	o.mu.RLock()
	plan, in, status := o.plan, o.input, o.status
	o.mu.RUnlock()
	if status.State.busy() {
		return &NotReadyError{State: status.State, Missing: "idle orchestrator"}
	}
	if plan == nil {
		return &NotReadyError{State: status.State, Missing: "production plan"}
	}
	ctx = o.stageContext(ctx, StageCharacterModel)
	if err := ctx.Err(); err != nil {
		return o.fail(ctx, StageCharacterModel, 0, &ImageGenerationError{Stage: StageCharacterModel, Err: err})
	}

	o.mu.Lock()
	o.session = newSession(plan)
	o.mu.Unlock()

	prompt := CharacterModelPrompt(plan)
	var ref *generation.Image
	if in.HasImage() {
		ref = in.Image
	}
	o.setStatus(ctx, Status{State: StateCharacterModelGenerating, Stage: StageCharacterModel})
	o.report(MsgCharacterModel)
	o.emit(ctx, Event{Type: EventSlotStarted, Stage: StageCharacterModel, Prompt: prompt})

	start := time.Now()
	image, err := o.backend.GenerateImage(ctx, prompt, ref)
	if err == nil && image.IsZero() {
		err = errors.New("backend returned an empty image")
	}
	if err != nil {
		return o.fail(ctx, StageCharacterModel, 0, &ImageGenerationError{Stage: StageCharacterModel, Err: err})
	}

	o.mu.Lock()
	o.session.CharacterModel = &image
	o.mu.Unlock()

	elapsed := time.Since(start)
	logging.WithContext(ctx, o.logger).Info("character model generated",
		logging.String(logging.FieldEventType, "character_model_ready"),
		logging.Bool("reference_image", ref != nil),
		logging.Duration("elapsed", elapsed),
	)
	o.setStatus(ctx, Status{State: StateCharacterModelReady, Stage: StageCharacterModel})
	o.emit(ctx, Event{Type: EventSlotFilled, Stage: StageCharacterModel, Prompt: prompt, Image: &image, Duration: elapsed})
	return nil
}

// GenerateKeyframes fills every empty keyframe slot in order. Each keyframe is
// conditioned on the character model only, never on another keyframe.
func (o *Orchestrator) GenerateKeyframes(ctx context.Context) error {
	o.mu.Lock()
	plan, status, anchor := o.plan, o.status, o.session.CharacterModel
	if status.State.busy() {
		o.mu.Unlock()
		return &NotReadyError{State: status.State, Missing: "idle orchestrator"}
	}
	if plan == nil || anchor == nil {
		o.mu.Unlock()
		return &NotReadyError{State: status.State, Missing: "character model"}
	}
	if firstEmptyKeyframe(o.session.Keyframes) >= 0 {
		// clips were animated from the keyframes about to be replaced
		o.session.Clips = make([]*generation.Video, len(plan.Clips()))
		o.session.Final = nil
	}
	slots := append([]*generation.Image(nil), o.session.Keyframes...)
	o.mu.Unlock()

	ctx = o.stageContext(ctx, StageKeyframe)
	keyframes := plan.Keyframes()
	total := len(keyframes)
	for i, kf := range keyframes {
		if slots[i] != nil {
			continue
		}
		number := i + 1
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, StageKeyframe, number, &ImageGenerationError{Stage: StageKeyframe, Index: number, Err: err})
		}
		prompt := KeyframePrompt(kf)
		o.setStatus(ctx, Status{State: StateKeyframeGenerating, Stage: StageKeyframe, Index: number})
		o.report(fmt.Sprintf("Generating keyframe %d/%d...", number, total))
		o.emit(ctx, Event{Type: EventSlotStarted, Stage: StageKeyframe, Index: number, Prompt: prompt})

		start := time.Now()
		image, err := o.backend.GenerateImage(ctx, prompt, anchor)
		if err == nil && image.IsZero() {
			err = errors.New("backend returned an empty image")
		}
		if err != nil {
			return o.fail(ctx, StageKeyframe, number, &ImageGenerationError{Stage: StageKeyframe, Index: number, Err: err})
		}

		o.mu.Lock()
		o.session.Keyframes[i] = &image
		o.mu.Unlock()

		elapsed := time.Since(start)
		logging.WithContext(ctx, o.logger).Info("keyframe generated",
			logging.String(logging.FieldEventType, "keyframe_ready"),
			logging.Int(logging.FieldSlot, number),
			logging.Int(logging.FieldSlotCount, total),
			logging.Duration("elapsed", elapsed),
		)
		o.emit(ctx, Event{Type: EventSlotFilled, Stage: StageKeyframe, Index: number, Prompt: prompt, Image: &image, Duration: elapsed})
	}
	o.setStatus(ctx, Status{State: StateKeyframesReady, Stage: StageKeyframe})
	return nil
}

// GenerateClips animates every empty clip slot in order from its referenced
// keyframe, speaking the dialog of the scene at the same position.
func (o *Orchestrator) GenerateClips(ctx context.Context) error {
	o.mu.RLock()
	plan, status := o.plan, o.status
	keyframes := append([]*generation.Image(nil), o.session.Keyframes...)
	slots := append([]*generation.Video(nil), o.session.Clips...)
	o.mu.RUnlock()
	if status.State.busy() {
		return &NotReadyError{State: status.State, Missing: "idle orchestrator"}
	}
	if plan == nil {
		return &NotReadyError{State: status.State, Missing: "production plan"}
	}
	if idx := firstEmptyKeyframe(keyframes); idx >= 0 || len(keyframes) == 0 {
		return &NotReadyError{State: status.State, Missing: fmt.Sprintf("keyframe %d", idx+1)}
	}

	ctx = o.stageContext(ctx, StageClip)
	hero := plan.StoryAnalysis.Hero
	scenes := plan.Scenes()
	clips := plan.Clips()
	total := len(clips)
	for j, clip := range clips {
		if slots[j] != nil {
			continue
		}
		number := j + 1
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, StageClip, number, &VideoGenerationError{Index: number, Err: err})
		}
		o.setStatus(ctx, Status{State: StateClipGenerating, Stage: StageClip, Index: number})
		o.report(fmt.Sprintf("Animating clip %d/%d...", number, total))

		source, _, err := ResolveKeyframeForClip(clip, keyframes)
		if err != nil {
			return o.fail(ctx, StageClip, number, err)
		}
		scene, ok := ResolveSceneForClip(clip, scenes)
		if !ok {
			o.logger.Debug("no scene for clip; animating without dialog", logging.Int(logging.FieldSlot, number))
		}
		prompt := ClipPrompt(clip, hero, scene.Dialog)
		o.emit(ctx, Event{Type: EventSlotStarted, Stage: StageClip, Index: number, Prompt: prompt})

		start := time.Now()
		video, err := o.animate(ctx, prompt, *source)
		if err != nil {
			return o.fail(ctx, StageClip, number, &VideoGenerationError{Index: number, Err: err})
		}

		o.mu.Lock()
		o.session.Clips[j] = &video
		o.mu.Unlock()

		elapsed := time.Since(start)
		logging.WithContext(ctx, o.logger).Info("clip generated",
			logging.String(logging.FieldEventType, "clip_ready"),
			logging.Int(logging.FieldSlot, number),
			logging.Int(logging.FieldSlotCount, total),
			logging.Int("keyframe", KeyframeNumber(clip.Input)),
			logging.Bool("dialog", scene.Dialog != ""),
			logging.Duration("elapsed", elapsed),
		)
		o.emit(ctx, Event{Type: EventSlotFilled, Stage: StageClip, Index: number, Prompt: prompt, Video: &video, Duration: elapsed})
	}

	o.setStatus(ctx, Status{State: StateClipsReady, Stage: StageClip})
	o.report(MsgComplete)
	o.progress.ResetAfter(o.statusReset)
	o.logger.Info("story complete",
		logging.String(logging.FieldEventType, "run_completed"),
		logging.Int("clips", total),
	)
	o.emit(ctx, Event{Type: EventRunCompleted, Stage: StageClip})
	return nil
}

func (o *Orchestrator) animate(ctx context.Context, prompt string, source generation.Image) (generation.Video, error) {
	op, err := o.backend.StartVideo(ctx, prompt, source)
	if err != nil {
		return generation.Video{}, err
	}
	if op == nil {
		return generation.Video{}, errors.New("backend returned no video operation")
	}
	return generation.AwaitVideo(ctx, o.backend, op, o.poll)
}

// Combine joins the clips into one video. It requires every clip slot to be
// filled. A failed combine leaves the run in its previous state so it can be
// retried.
func (o *Orchestrator) Combine(ctx context.Context) (*concat.Output, error) {
	snap := o.Snapshot()
	state := snap.Status.State
	if state != StateClipsReady && state != StateComplete {
		return nil, &NotReadyError{State: state, Missing: "generated clips"}
	}
	for i, clip := range snap.Clips {
		if clip == nil {
			return nil, &NotReadyError{State: state, Missing: fmt.Sprintf("clip %d", i+1)}
		}
	}
	if o.concatenator == nil {
		return nil, services.Wrap(services.ErrConfiguration, string(StageCombine), "concat", "no concatenator configured", nil)
	}

	ctx = o.stageContext(ctx, StageCombine)
	o.report(MsgCombining)
	start := time.Now()
	out, err := o.concatenator.Concat(ctx, snap.ClipURIs())
	if err != nil {
		logging.ErrorWithContext(logging.WithContext(ctx, o.logger), "combine failed", "combine_failed",
			logging.String(logging.FieldErrorHint, services.Hint(err)),
			logging.Error(err),
		)
		o.emit(ctx, Event{Type: EventSlotFailed, Stage: StageCombine, Err: err})
		return nil, err
	}

	o.mu.Lock()
	o.session.Final = &out
	o.mu.Unlock()
	o.setStatus(ctx, Status{State: StateComplete, Stage: StageCombine})
	o.report(MsgCombined)
	o.progress.ResetAfter(o.combineReset)

	elapsed := time.Since(start)
	o.logger.Info("videos combined",
		logging.String(logging.FieldEventType, "combine_completed"),
		logging.String("location", out.Location),
		logging.Bool("combined", out.Combined),
		logging.Duration("elapsed", elapsed),
	)
	o.emit(ctx, Event{Type: EventCombined, Stage: StageCombine, Output: &out, Duration: elapsed})
	return &out, nil
}
