package pipeline

import "fmt"

// State is the orchestrator's position in the run.
type State string

const (
	StateIdle                     State = "idle"
	StatePlanRequested            State = "plan_requested"
	StatePlanReady                State = "plan_ready"
	StateCharacterModelGenerating State = "character_model_generating"
	StateCharacterModelReady      State = "character_model_ready"
	StateKeyframeGenerating       State = "keyframe_generating"
	StateKeyframesReady           State = "keyframes_ready"
	StateClipGenerating           State = "clip_generating"
	StateClipsReady               State = "clips_ready"
	StateComplete                 State = "complete"
	StateFailed                   State = "failed"
)

// Terminal reports whether no further stage will run without a caller
// resubmitting one.
func (s State) Terminal() bool {
	switch s {
	case StateClipsReady, StateComplete, StateFailed:
		return true
	default:
		return false
	}
}

func (s State) busy() bool {
	switch s {
	case StatePlanRequested, StateCharacterModelGenerating, StateKeyframeGenerating, StateClipGenerating:
		return true
	default:
		return false
	}
}

// Stage names the unit of work a slot or failure belongs to.
type Stage string

const (
	StagePlan           Stage = "plan"
	StageCharacterModel Stage = "character_model"
	StageKeyframe       Stage = "keyframe"
	StageClip           Stage = "clip"
	StageCombine        Stage = "combine"
)

// Status is the orchestrator state plus the slot being worked on. Index is
// 1-based for keyframes and clips and zero otherwise. Reason is set only when
// State is StateFailed.
type Status struct {
	State  State  `json:"state"`
	Stage  Stage  `json:"stage,omitempty"`
	Index  int    `json:"index,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (s Status) String() string {
	switch {
	case s.State == StateFailed && s.Index > 0:
		return fmt.Sprintf("failed(%s %d): %s", s.Stage, s.Index, s.Reason)
	case s.State == StateFailed:
		return fmt.Sprintf("failed(%s): %s", s.Stage, s.Reason)
	case s.Index > 0:
		return fmt.Sprintf("%s(%d)", s.State, s.Index)
	default:
		return string(s.State)
	}
}
