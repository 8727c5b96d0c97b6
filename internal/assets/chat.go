package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storyloom/internal/services"
)

// CreateChatSession inserts a session. The plan must exist.
func (s *SQLiteStore) CreateChatSession(ctx context.Context, session ChatSession) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	_, err := s.execWithRetry(ctx,
		"INSERT INTO chat_sessions (id, plan_id, persona, created_at) VALUES (?, ?, ?, ?)",
		session.ID, session.PlanID, session.Persona, formatTime(session.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create chat session: %w", err)
	}
	return nil
}

// GetChatSession loads a session.
func (s *SQLiteStore) GetChatSession(ctx context.Context, id string) (*ChatSession, error) {
	var (
		session    ChatSession
		createdRaw sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, plan_id, persona, created_at FROM chat_sessions WHERE id = ?", id,
	).Scan(&session.ID, &session.PlanID, &session.Persona, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat session %s: %w", id, services.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chat session %s: %w", id, err)
	}
	session.CreatedAt = parseTime(createdRaw)
	return &session, nil
}

// AppendChatMessages stores msgs in order within one transaction.
func (s *SQLiteStore) AppendChatMessages(ctx context.Context, sessionID string, msgs ...ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin chat tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		for _, msg := range msgs {
			created := msg.CreatedAt
			if created.IsZero() {
				created = time.Now()
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO chat_messages (session_id, role, text, created_at) VALUES (?, ?, ?, ?)",
				sessionID, msg.Role, msg.Text, formatTime(created),
			); err != nil {
				return fmt.Errorf("insert chat message: %w", err)
			}
		}
		return tx.Commit()
	})
}

// ListChatMessages returns a session's messages oldest first.
func (s *SQLiteStore) ListChatMessages(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, role, text, created_at FROM chat_messages WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var (
			msg        ChatMessage
			createdRaw sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Text, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		msg.CreatedAt = parseTime(createdRaw)
		out = append(out, msg)
	}
	return out, rows.Err()
}

// DeleteChatSession removes a session and its messages.
func (s *SQLiteStore) DeleteChatSession(ctx context.Context, id string) error {
	res, err := s.execWithRetry(ctx, "DELETE FROM chat_sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete chat session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("chat session %s: %w", id, services.ErrNotFound)
	}
	return nil
}
