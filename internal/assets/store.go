package assets

import "context"

// Store persists plan records and assets.
type Store interface {
	SavePlan(ctx context.Context, rec *PlanRecord) error
	GetPlan(ctx context.Context, id string) (*PlanRecord, error)
	ListPlans(ctx context.Context, limit int) ([]PlanRecord, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	SetPlanJSON(ctx context.Context, id, planJSON string) error
	UpdateProgress(ctx context.Context, id, message string) error
	PutAsset(ctx context.Context, asset Asset) (*Asset, error)
	ListAssets(ctx context.Context, planID string) ([]Asset, error)
	GetAsset(ctx context.Context, id int64) (*Asset, error)
	DeletePlan(ctx context.Context, id string) error
}

// ChatStore persists companion chat sessions.
type ChatStore interface {
	CreateChatSession(ctx context.Context, session ChatSession) error
	GetChatSession(ctx context.Context, id string) (*ChatSession, error)
	AppendChatMessages(ctx context.Context, sessionID string, msgs ...ChatMessage) error
	ListChatMessages(ctx context.Context, sessionID string) ([]ChatMessage, error)
	DeleteChatSession(ctx context.Context, id string) error
}

var (
	_ Store     = (*SQLiteStore)(nil)
	_ ChatStore = (*SQLiteStore)(nil)
)
