package story

import (
	"fmt"
	"strings"
)

// PlanPrompt builds the instruction sent alongside the optional drawing when
// requesting a production plan.
func PlanPrompt(description, lesson, language string) string {
	description = strings.TrimSpace(description)
	if description == "" {
		description = "(none, use the attached drawing)"
	}
	var b strings.Builder
	b.WriteString("You are the 'Story Arc Engine' for a children's animation platform. ")
	b.WriteString("You receive a child's drawing (as an image) and/or a text description, plus a parent's lesson, ")
	b.WriteString("and output a complete Image-to-Video (I2V) production plan for a 32-second cartoon. ")
	b.WriteString("When a drawing is attached it is the primary source of truth for the character's appearance.\n\n")
	b.WriteString("Constraints:\n")
	b.WriteString("1. Total length: exactly 32 seconds.\n")
	b.WriteString("2. Clip structure: 4 (four) 8-second video clips, one static keyframe per scene.\n")
	b.WriteString("3. Every story has a Hero, a Villain, and a Character Arc.\n")
	b.WriteString("4. A master character model image is generated first and every keyframe places that hero into its scene. ")
	b.WriteString("Each keyframe is then animated for 8 seconds. Reference keyframes in clip inputs as \"Static Keyframe #N\".\n")
	b.WriteString("5. The hero's appearance MUST be EXACTLY consistent across all clips, using the first character model image as the strict reference.\n")
	b.WriteString("6. Each scene has \"dialog\": direct, age-appropriate first-person speech the hero says in that scene's 8-second clip. Dialog is unique per scene.\n")
	b.WriteString("7. Output a single valid JSON object that adheres to the provided schema, with no markdown or commentary.\n\n")
	fmt.Fprintf(&b, "All generated text (story, script, prompts) must be in %s.\n\n", language)
	b.WriteString("Inputs:\n")
	fmt.Fprintf(&b, "[Drawing Description]: %s\n", description)
	fmt.Fprintf(&b, "[Parent Prompt]: %s\n", strings.TrimSpace(lesson))
	return b.String()
}
