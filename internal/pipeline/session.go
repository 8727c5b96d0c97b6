package pipeline

import (
	"storyloom/internal/concat"
	"storyloom/internal/generation"
	"storyloom/internal/story"
)

// Session holds the generated assets of one run. Slots are nil until filled.
type Session struct {
	CharacterModel *generation.Image
	Keyframes      []*generation.Image
	Clips          []*generation.Video
	Final          *concat.Output
}

func newSession(plan *story.Plan) Session {
	return Session{
		Keyframes: make([]*generation.Image, len(plan.Keyframes())),
		Clips:     make([]*generation.Video, len(plan.Clips())),
	}
}

// clone copies the slot arrays. Images and videos are never mutated after a
// slot is filled, so the pointers are shared.
func (s Session) clone() Session {
	out := Session{
		CharacterModel: s.CharacterModel,
		Keyframes:      append([]*generation.Image(nil), s.Keyframes...),
		Clips:          append([]*generation.Video(nil), s.Clips...),
	}
	if s.Final != nil {
		final := *s.Final
		out.Final = &final
	}
	return out
}

func firstEmptyKeyframe(slots []*generation.Image) int {
	for i, slot := range slots {
		if slot == nil {
			return i
		}
	}
	return -1
}

func firstEmptyClip(slots []*generation.Video) int {
	for i, slot := range slots {
		if slot == nil {
			return i
		}
	}
	return -1
}

// Snapshot is a point-in-time copy of a run, safe to read from any goroutine.
type Snapshot struct {
	RunID    string
	Status   Status
	Progress string
	Plan     *story.Plan
	Session
}

// Filled reports how many keyframe and clip slots hold a result.
func (s Snapshot) Filled() (keyframes, clips int) {
	for _, kf := range s.Keyframes {
		if kf != nil {
			keyframes++
		}
	}
	for _, clip := range s.Clips {
		if clip != nil {
			clips++
		}
	}
	return keyframes, clips
}

// ClipURIs returns the clip locations in order, skipping empty slots.
func (s Snapshot) ClipURIs() []string {
	uris := make([]string, 0, len(s.Clips))
	for _, clip := range s.Clips {
		if clip != nil {
			uris = append(uris, clip.URI)
		}
	}
	return uris
}

// Result is returned by a successful Run.
type Result struct {
	Plan     *story.Plan
	Snapshot Snapshot
}
