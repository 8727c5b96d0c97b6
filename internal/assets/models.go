package assets

import (
	"time"

	"storyloom/internal/story"
)

// AssetType classifies an asset row.
type AssetType string

const (
	TypeCharacterModel AssetType = "character_model"
	TypeKeyframe       AssetType = "keyframe"
	TypeVideo          AssetType = "video"
	TypeFinalVideo     AssetType = "final_video"
)

// Status is the lifecycle of one asset.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Asset is one generated image or video. Index is 1-based for keyframes and
// videos and 0 for the character model and the final video.
type Asset struct {
	ID           int64     `json:"id"`
	PlanID       string    `json:"planId"`
	Type         AssetType `json:"assetType"`
	Index        int       `json:"index"`
	URI          string    `json:"uri,omitempty"`
	MIMEType     string    `json:"mimeType,omitempty"`
	Prompt       string    `json:"prompt,omitempty"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PlanRecord is the persisted run: raw inputs, the plan and its run state.
type PlanRecord struct {
	ID              string    `json:"id"`
	Description     string    `json:"description"`
	Lesson          string    `json:"lesson"`
	Language        string    `json:"language"`
	HasImage        bool      `json:"hasImage"`
	PlanJSON        string    `json:"-"`
	State           string    `json:"state"`
	Stage           string    `json:"stage,omitempty"`
	ProgressMessage string    `json:"progressMessage,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Plan decodes the stored plan. It returns nil without error before a plan
// was produced.
func (r *PlanRecord) Plan() (*story.Plan, error) {
	if r == nil || r.PlanJSON == "" {
		return nil, nil
	}
	return story.Decode(r.PlanJSON)
}

// RunUpdate carries run state changes. Error is cleared when empty.
type RunUpdate struct {
	State string
	Stage string
	Error string
}

// ChatSession is a persisted companion conversation.
type ChatSession struct {
	ID        string    `json:"id"`
	PlanID    string    `json:"planId"`
	Persona   string    `json:"persona"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatMessage is one persisted chat turn.
type ChatMessage struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}
