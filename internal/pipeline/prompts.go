package pipeline

import (
	"strings"

	"storyloom/internal/story"
)

// StyleDirective is appended to every image prompt.
const StyleDirective = "3D Disney Pixar animation style, high quality, vibrant colors, smooth textures, expressive features, professional animation quality."

const (
	keyframeConsistency = " Maintain EXACT character appearance consistency with the first character model image. The character's appearance, clothing, colors, and features must be identical to the character model."
	clipConsistency     = " Maintain EXACT character appearance consistency with the first character model image."
)

// CharacterModelPrompt builds the prompt for the single visual anchor.
func CharacterModelPrompt(plan *story.Plan) string {
	return trimPeriod(plan.CharacterModel.Action) +
		`. The character should be based on this description: "` + strings.TrimSpace(plan.CharacterModel.Source) +
		`". Style: ` + StyleDirective
}

// KeyframePrompt builds the prompt for one keyframe.
func KeyframePrompt(kf story.Keyframe) string {
	return trimPeriod(kf.Prompt) + ". Style: " + StyleDirective + keyframeConsistency
}

// ClipPrompt builds the prompt for one clip. The speaking sentence is left out
// when dialog is empty.
func ClipPrompt(clip story.Clip, hero, dialog string) string {
	var b strings.Builder
	b.WriteString(trimPeriod(clip.Prompt))
	b.WriteString(".")
	if dialog = strings.TrimSpace(dialog); dialog != "" {
		b.WriteString(" The character ")
		b.WriteString(strings.TrimSpace(hero))
		b.WriteString(` is speaking: "`)
		b.WriteString(dialog)
		b.WriteString(`". Show expressive mouth movements and gestures that match the dialog.`)
	}
	b.WriteString(clipConsistency)
	return b.String()
}

func trimPeriod(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), ".")
}
