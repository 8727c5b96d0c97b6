package story

import (
	"fmt"
	"strings"
)

// Plan is the structured production plan for one story.
type Plan struct {
	CharacterModel  CharacterModel  `json:"characterModel"`
	StoryAnalysis   StoryAnalysis   `json:"storyAnalysis"`
	EpisodeScript   EpisodeScript   `json:"episodeScript"`
	StaticKeyframes StaticKeyframes `json:"staticKeyframes"`
	VideoGeneration VideoGeneration `json:"videoGeneration"`
	PostProcessing  PostProcessing  `json:"postProcessing"`
}

// CharacterModel describes the hero's canonical look.
type CharacterModel struct {
	Source string `json:"source"`
	Action string `json:"action"`
}

// StoryAnalysis carries the narrative decisions behind the plan.
type StoryAnalysis struct {
	Hero             string `json:"hero"`
	ParentPrompt     string `json:"parentPrompt"`
	CoreLesson       string `json:"coreLesson"`
	Villain          string `json:"villain"`
	CharacterArc     string `json:"characterArc"`
	CharacterPersona string `json:"characterPersona"`
}

// EpisodeScript lists the scenes in playback order.
type EpisodeScript struct {
	Action string  `json:"action"`
	Scenes []Scene `json:"scenes"`
}

// Scene is one beat of the script. Scene numbers are 1-based.
type Scene struct {
	Scene  int    `json:"scene"`
	Title  string `json:"title"`
	Dialog string `json:"dialog"`
}

// StaticKeyframes lists the still images to render.
type StaticKeyframes struct {
	Action    string     `json:"action"`
	Keyframes []Keyframe `json:"keyframes"`
}

// Keyframe is one still image prompt. Keyframe numbers are 1-based.
type Keyframe struct {
	Keyframe int    `json:"keyframe"`
	Scene    int    `json:"scene"`
	Prompt   string `json:"prompt"`
}

// VideoGeneration lists the clips to animate.
type VideoGeneration struct {
	Action string `json:"action"`
	Clips  []Clip `json:"clips"`
}

// Clip is one animated segment. Input names the source keyframe, for
// example "Static Keyframe #2".
type Clip struct {
	Clip   int    `json:"clip"`
	Input  string `json:"input"`
	Prompt string `json:"prompt"`
}

// PostProcessing is informational only.
type PostProcessing struct {
	Action string `json:"action"`
}

// ValidationError reports the first structural problem found in a plan.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("plan invalid: %s %s", e.Field, e.Reason)
}

// Validate checks the fields the pipeline cannot proceed without.
func (p *Plan) Validate() error {
	if p == nil {
		return &ValidationError{Field: "plan", Reason: "is missing"}
	}
	if strings.TrimSpace(p.CharacterModel.Source) == "" {
		return &ValidationError{Field: "characterModel.source", Reason: "is empty"}
	}
	if strings.TrimSpace(p.StoryAnalysis.Hero) == "" {
		return &ValidationError{Field: "storyAnalysis.hero", Reason: "is empty"}
	}
	if len(p.StaticKeyframes.Keyframes) == 0 {
		return &ValidationError{Field: "staticKeyframes.keyframes", Reason: "must contain at least one keyframe"}
	}
	for i, kf := range p.StaticKeyframes.Keyframes {
		if strings.TrimSpace(kf.Prompt) == "" {
			return &ValidationError{Field: fmt.Sprintf("staticKeyframes.keyframes[%d].prompt", i), Reason: "is empty"}
		}
	}
	if len(p.VideoGeneration.Clips) == 0 {
		return &ValidationError{Field: "videoGeneration.clips", Reason: "must contain at least one clip"}
	}
	for i, clip := range p.VideoGeneration.Clips {
		if strings.TrimSpace(clip.Prompt) == "" {
			return &ValidationError{Field: fmt.Sprintf("videoGeneration.clips[%d].prompt", i), Reason: "is empty"}
		}
	}
	return nil
}

// Keyframes returns the keyframe list.
func (p *Plan) Keyframes() []Keyframe {
	if p == nil {
		return nil
	}
	return p.StaticKeyframes.Keyframes
}

// Clips returns the clip list.
func (p *Plan) Clips() []Clip {
	if p == nil {
		return nil
	}
	return p.VideoGeneration.Clips
}

// Scenes returns the scene list.
func (p *Plan) Scenes() []Scene {
	if p == nil {
		return nil
	}
	return p.EpisodeScript.Scenes
}

// Persona returns the hero persona used by the companion chat.
func (p *Plan) Persona() string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p.StoryAnalysis.CharacterPersona)
}
