package testsupport

import (
	"fmt"

	"storyloom/internal/story"
)

// SamplePlan returns a valid plan with the requested counts. Clip j refers to
// "Static Keyframe #j" when that keyframe exists and to keyframe 1 otherwise.
func SamplePlan(keyframes, scenes, clips int) *story.Plan {
	plan := &story.Plan{
		CharacterModel: story.CharacterModel{
			Source: "a small orange fox with a blue scarf",
			Action: "Create a character model sheet",
		},
		StoryAnalysis: story.StoryAnalysis{
			Hero:             "Pip",
			ParentPrompt:     "sharing is caring",
			CoreLesson:       "Sharing makes play more fun",
			Villain:          "The Grumble Cloud",
			CharacterArc:     "Pip learns to share the sled",
			CharacterPersona: "Pip is a cheerful fox who loves snow.",
		},
		EpisodeScript:   story.EpisodeScript{Action: "Write the episode"},
		StaticKeyframes: story.StaticKeyframes{Action: "Draw the keyframes"},
		VideoGeneration: story.VideoGeneration{Action: "Animate the clips"},
		PostProcessing:  story.PostProcessing{Action: "Combine the clips"},
	}
	for i := 1; i <= scenes; i++ {
		plan.EpisodeScript.Scenes = append(plan.EpisodeScript.Scenes, story.Scene{
			Scene:  i,
			Title:  fmt.Sprintf("Scene %d", i),
			Dialog: fmt.Sprintf("Line %d", i),
		})
	}
	for i := 1; i <= keyframes; i++ {
		plan.StaticKeyframes.Keyframes = append(plan.StaticKeyframes.Keyframes, story.Keyframe{
			Keyframe: i,
			Scene:    i,
			Prompt:   fmt.Sprintf("Pip in scene %d", i),
		})
	}
	for j := 1; j <= clips; j++ {
		ref := j
		if ref > keyframes {
			ref = 1
		}
		plan.VideoGeneration.Clips = append(plan.VideoGeneration.Clips, story.Clip{
			Clip:   j,
			Input:  fmt.Sprintf("Static Keyframe #%d", ref),
			Prompt: fmt.Sprintf("Pip moves in clip %d", j),
		})
	}
	return plan
}

func storyEncode(plan *story.Plan) (string, error) {
	data, err := story.Encode(plan)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
