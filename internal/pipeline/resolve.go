package pipeline

import (
	"strconv"
	"strings"

	"storyloom/internal/generation"
	"storyloom/internal/story"
)

// KeyframeNumber parses the 1-based keyframe a clip input such as
// "Static Keyframe #2" refers to. Input without a usable number refers to
// keyframe 1. Signed or out-of-range numbers are returned as parsed so the
// resolver can reject them.
func KeyframeNumber(input string) int {
	_, after, found := strings.Cut(input, "#")
	if !found {
		return 1
	}
	if head, _, ok := strings.Cut(after, "#"); ok {
		after = head
	}
	text := strings.TrimSpace(after)
	end := 0
	if end < len(text) && (text[0] == '+' || text[0] == '-') {
		end++
	}
	digits := end
	for end < len(text) && text[end] >= '0' && text[end] <= '9' {
		end++
	}
	if end == digits {
		return 1
	}
	n, err := strconv.Atoi(text[:end])
	if err != nil {
		// overflow
		return 0
	}
	return n
}

// ResolveKeyframeForClip returns the keyframe image a clip animates and its
// zero-based slot.
func ResolveKeyframeForClip(clip story.Clip, keyframes []*generation.Image) (*generation.Image, int, error) {
	number := KeyframeNumber(clip.Input)
	refErr := &ReferenceResolutionError{
		ClipNumber:    clip.Clip,
		Ref:           clip.Input,
		KeyframeIndex: number,
		Available:     len(keyframes),
	}
	if number < 1 || number > len(keyframes) {
		return nil, -1, refErr
	}
	image := keyframes[number-1]
	if image == nil || image.IsZero() {
		return nil, -1, refErr
	}
	return image, number - 1, nil
}

// ResolveSceneForClip returns the scene whose dialog a clip speaks. Clips are
// matched to scenes by position (clip N speaks scene N), independent of which
// keyframe the clip animates. A missing scene is not an error.
func ResolveSceneForClip(clip story.Clip, scenes []story.Scene) (story.Scene, bool) {
	idx := clip.Clip - 1
	if idx < 0 || idx >= len(scenes) {
		return story.Scene{}, false
	}
	return scenes[idx], true
}
