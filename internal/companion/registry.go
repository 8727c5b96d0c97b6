package companion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyloom/internal/assets"
	"storyloom/internal/generation"
	"storyloom/internal/logging"
	"storyloom/internal/services"
)

// PlanSource loads the plan a session is created for.
type PlanSource interface {
	GetPlan(ctx context.Context, id string) (*assets.PlanRecord, error)
}

// Reply is the outcome of one Send.
type Reply struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type session struct {
	mu      sync.Mutex
	planID  string
	persona string
	history []generation.ChatMessage
}

// Registry owns the live chat sessions of a process.
type Registry struct {
	plans   PlanSource
	store   assets.ChatStore
	chatter generation.Chatter
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewRegistry constructs a Registry.
func NewRegistry(plans PlanSource, store assets.ChatStore, chatter generation.Chatter, logger *slog.Logger) *Registry {
	return &Registry{
		plans:    plans,
		store:    store,
		chatter:  chatter,
		logger:   logging.NewComponentLogger(logger, "companion"),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Create opens a session with the hero of planID.
func (r *Registry) Create(ctx context.Context, planID string) (*assets.ChatSession, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return nil, services.Wrap(services.ErrValidation, "companion", "create session", "plan id is required", nil)
	}
	rec, err := r.plans.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	plan, err := rec.Plan()
	if err != nil {
		return nil, fmt.Errorf("decode plan %s: %w", planID, err)
	}
	if plan == nil || plan.Persona() == "" {
		return nil, services.Wrap(services.ErrValidation, "companion", "create session", "plan has no character persona yet", nil)
	}

	stored := assets.ChatSession{
		ID:        uuid.NewString(),
		PlanID:    planID,
		Persona:   plan.Persona(),
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.CreateChatSession(ctx, stored); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[stored.ID] = &session{planID: planID, persona: stored.Persona}
	r.mu.Unlock()

	r.logger.Info("chat session created",
		logging.String(logging.FieldEventType, "chat_session_created"),
		logging.String("session_id", stored.ID),
		logging.String(logging.FieldPlanID, planID),
	)
	return &stored, nil
}

// Send answers message in character and persists both turns.
func (r *Registry) Send(ctx context.Context, sessionID, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, services.Wrap(services.ErrValidation, "companion", "send", "message is required", nil)
	}
	s, err := r.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := append([]generation.ChatMessage(nil), s.history...)
	start := time.Now()
	text, err := r.chatter.Chat(ctx, s.persona, history, message)
	if err != nil {
		logging.WarnWithContext(r.logger, "companion reply failed", "chat_failed",
			logging.String("session_id", sessionID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the message was not answered"),
		)
		return nil, services.Wrap(services.ErrTransient, "companion", "chat", "", err)
	}

	turns := []generation.ChatMessage{
		{Role: generation.RoleUser, Text: message},
		{Role: generation.RoleModel, Text: text},
	}
	now := r.now().UTC()
	rows := make([]assets.ChatMessage, 0, len(turns))
	for _, turn := range turns {
		rows = append(rows, assets.ChatMessage{SessionID: sessionID, Role: turn.Role, Text: turn.Text, CreatedAt: now})
	}
	if err := r.store.AppendChatMessages(ctx, sessionID, rows...); err != nil {
		return nil, err
	}
	s.history = append(s.history, turns...)

	r.logger.Debug("companion replied",
		logging.String("session_id", sessionID),
		logging.Int("turns", len(s.history)),
		logging.Duration("elapsed", time.Since(start)),
	)
	return &Reply{SessionID: sessionID, Text: text}, nil
}

// History returns the persisted messages of a session.
func (r *Registry) History(ctx context.Context, sessionID string) (*assets.ChatSession, []assets.ChatMessage, error) {
	stored, err := r.store.GetChatSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := r.store.ListChatMessages(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return stored, msgs, nil
}

// Delete removes a session and its messages.
func (r *Registry) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	return r.store.DeleteChatSession(ctx, sessionID)
}

// Live reports how many sessions are held in memory.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) load(ctx context.Context, sessionID string) (*session, error) {
	stored, err := r.store.GetChatSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if ok {
		return s, nil
	}

	msgs, err := r.store.ListChatMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rebuilt := &session{planID: stored.PlanID, persona: stored.Persona}
	for _, msg := range msgs {
		rebuilt.history = append(rebuilt.history, generation.ChatMessage{Role: msg.Role, Text: msg.Text})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[sessionID]; ok {
		return existing, nil
	}
	r.sessions[sessionID] = rebuilt
	r.logger.Info("chat session restored",
		logging.String(logging.FieldEventType, "chat_session_restored"),
		logging.String("session_id", sessionID),
		logging.Int("messages", len(msgs)),
	)
	return rebuilt, nil
}
