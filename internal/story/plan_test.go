package story_test

import (
	"errors"
	"strings"
	"testing"

	"storyloom/internal/story"
)

const validPlanJSON = `{
  "characterModel": {"source": "A small blue dragon with round glasses", "action": "Create the master character model"},
  "storyAnalysis": {"hero": "Pip", "parentPrompt": "sharing", "coreLesson": "Sharing makes friends", "villain": "The Grumble Cloud", "characterArc": "selfish to generous", "characterPersona": "Curious and kind"},
  "episodeScript": {"action": "Write", "scenes": [
    {"scene": 1, "title": "Meet Pip", "dialog": "Hi, I'm Pip!"},
    {"scene": 2, "title": "The Cloud", "dialog": "Oh no, the cloud!"}
  ]},
  "staticKeyframes": {"action": "Render", "keyframes": [
    {"keyframe": 1, "scene": 1, "prompt": "Pip waves in a meadow"},
    {"keyframe": 2, "scene": 2, "prompt": "Pip looks up at a dark cloud"}
  ]},
  "videoGeneration": {"action": "Animate", "clips": [
    {"clip": 1, "input": "Static Keyframe #1", "prompt": "Pip waves"},
    {"clip": 2, "input": "Static Keyframe #2", "prompt": "Pip gasps"}
  ]},
  "postProcessing": {"action": "Combine"}
}`

func TestDecodeValidPlan(t *testing.T) {
	plan, err := story.Decode(validPlanJSON)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if plan.StoryAnalysis.Hero != "Pip" {
		t.Fatalf("unexpected hero %q", plan.StoryAnalysis.Hero)
	}
	if len(plan.Keyframes()) != 2 || len(plan.Clips()) != 2 || len(plan.Scenes()) != 2 {
		t.Fatalf("unexpected counts: %d keyframes, %d clips, %d scenes", len(plan.Keyframes()), len(plan.Clips()), len(plan.Scenes()))
	}
	if plan.Clips()[1].Input != "Static Keyframe #2" {
		t.Fatalf("unexpected clip input %q", plan.Clips()[1].Input)
	}
	if plan.Persona() != "Curious and kind" {
		t.Fatalf("unexpected persona %q", plan.Persona())
	}
}

func TestDecodeToleratesCodeFences(t *testing.T) {
	fenced := "```json\n" + validPlanJSON + "\n```"
	if _, err := story.Decode(fenced); err != nil {
		t.Fatalf("Decode fenced returned error: %v", err)
	}
	prose := "Here is your plan:\n" + validPlanJSON + "\nEnjoy!"
	if _, err := story.Decode(prose); err != nil {
		t.Fatalf("Decode with prose returned error: %v", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "not json", "{\"characterModel\": "} {
		if _, err := story.Decode(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestValidateReportsMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*story.Plan)
		field  string
	}{
		{"missing source", func(p *story.Plan) { p.CharacterModel.Source = " " }, "characterModel.source"},
		{"missing hero", func(p *story.Plan) { p.StoryAnalysis.Hero = "" }, "storyAnalysis.hero"},
		{"no keyframes", func(p *story.Plan) { p.StaticKeyframes.Keyframes = nil }, "staticKeyframes.keyframes"},
		{"empty keyframe prompt", func(p *story.Plan) { p.StaticKeyframes.Keyframes[1].Prompt = "" }, "staticKeyframes.keyframes[1].prompt"},
		{"no clips", func(p *story.Plan) { p.VideoGeneration.Clips = nil }, "videoGeneration.clips"},
		{"empty clip prompt", func(p *story.Plan) { p.VideoGeneration.Clips[0].Prompt = "" }, "videoGeneration.clips[0].prompt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := story.Decode(validPlanJSON)
			if err != nil {
				t.Fatalf("Decode returned error: %v", err)
			}
			tt.mutate(plan)
			err = plan.Validate()
			var verr *story.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Fatalf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestValidateToleratesCountMismatch(t *testing.T) {
	plan, err := story.Decode(validPlanJSON)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	plan.EpisodeScript.Scenes = plan.EpisodeScript.Scenes[:1]
	plan.VideoGeneration.Clips[1].Input = "Static Keyframe #9"
	if err := plan.Validate(); err != nil {
		t.Fatalf("expected mismatched counts to validate, got %v", err)
	}
}

func TestSchemaRequiresAllSections(t *testing.T) {
	schema := story.Schema()
	if schema.Type != story.TypeObject {
		t.Fatalf("root type = %q", schema.Type)
	}
	if len(schema.Required) != 6 {
		t.Fatalf("expected 6 required sections, got %v", schema.Required)
	}
	clips := schema.Properties["videoGeneration"].Properties["clips"]
	if clips.Type != story.TypeArray || clips.Items.Properties["input"].Type != story.TypeString {
		t.Fatalf("unexpected clips schema: %+v", clips)
	}
	if schema.Properties["episodeScript"].Properties["scenes"].Items.Properties["dialog"].Description == "" {
		t.Fatal("expected dialog description")
	}
}

func TestPlanPromptIncludesInputs(t *testing.T) {
	prompt := story.PlanPrompt("a purple cat", "be brave", "Spanish")
	for _, fragment := range []string{"[Drawing Description]: a purple cat", "[Parent Prompt]: be brave", "must be in Spanish", "Static Keyframe #N"} {
		if !strings.Contains(prompt, fragment) {
			t.Fatalf("expected %q in prompt", fragment)
		}
	}
}

func TestEncodeRoundTripsWireNames(t *testing.T) {
	plan, err := story.Decode(validPlanJSON)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	data, err := story.Encode(plan)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	for _, key := range []string{"characterModel", "storyAnalysis", "characterPersona", "staticKeyframes", "videoGeneration", "postProcessing"} {
		if !strings.Contains(string(data), `"`+key+`"`) {
			t.Fatalf("expected wire key %q in %s", key, data)
		}
	}
}
