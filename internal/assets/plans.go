package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storyloom/internal/services"
)

const planColumns = "id, description, lesson, language, has_image, plan_json, state, stage, progress_message, error_message, created_at, updated_at"

func scanPlan(scanner interface{ Scan(dest ...any) error }) (*PlanRecord, error) {
	var (
		rec        PlanRecord
		hasImage   int
		planJSON   sql.NullString
		stage      sql.NullString
		progress   sql.NullString
		errMessage sql.NullString
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.Description,
		&rec.Lesson,
		&rec.Language,
		&hasImage,
		&planJSON,
		&rec.State,
		&stage,
		&progress,
		&errMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	rec.HasImage = hasImage != 0
	rec.PlanJSON = planJSON.String
	rec.Stage = stage.String
	rec.ProgressMessage = progress.String
	rec.ErrorMessage = errMessage.String
	rec.CreatedAt = parseTime(createdRaw)
	rec.UpdatedAt = parseTime(updatedRaw)
	return &rec, nil
}

// SavePlan inserts rec, or replaces the inputs of an existing record with the
// same id. The plan and its assets are kept until SetPlanJSON overwrites them.
func (s *SQLiteStore) SavePlan(ctx context.Context, rec *PlanRecord) error {
	if rec == nil || rec.ID == "" {
		return services.Wrap(services.ErrValidation, "assets", "save plan", "plan id is required", nil)
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.State == "" {
		rec.State = "idle"
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO plans (
            id, description, lesson, language, has_image, plan_json, state, stage,
            progress_message, error_message, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            description = excluded.description,
            lesson = excluded.lesson,
            language = excluded.language,
            has_image = excluded.has_image,
            state = excluded.state,
            stage = excluded.stage,
            error_message = excluded.error_message,
            updated_at = excluded.updated_at`,
		rec.ID,
		rec.Description,
		rec.Lesson,
		rec.Language,
		boolToInt(rec.HasImage),
		nullableString(rec.PlanJSON),
		rec.State,
		nullableString(rec.Stage),
		nullableString(rec.ProgressMessage),
		nullableString(rec.ErrorMessage),
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save plan %s: %w", rec.ID, err)
	}
	return nil
}

// GetPlan loads a plan record.
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*PlanRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+planColumns+" FROM plans WHERE id = ?", id)
	rec, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", id, services.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get plan %s: %w", id, err)
	}
	return rec, nil
}

// ListPlans returns the newest plans first. A non-positive limit returns all.
func (s *SQLiteStore) ListPlans(ctx context.Context, limit int) ([]PlanRecord, error) {
	query := "SELECT " + planColumns + " FROM plans ORDER BY created_at DESC, id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var out []PlanRecord
	for rows.Next() {
		rec, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// UpdateRun records the run state of a plan.
func (s *SQLiteStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	return s.updatePlan(ctx, id,
		"UPDATE plans SET state = ?, stage = ?, error_message = ?, updated_at = ? WHERE id = ?",
		update.State, nullableString(update.Stage), nullableString(update.Error), formatTime(time.Now()), id,
	)
}

// SetPlanJSON stores the encoded plan.
func (s *SQLiteStore) SetPlanJSON(ctx context.Context, id, planJSON string) error {
	return s.updatePlan(ctx, id,
		"UPDATE plans SET plan_json = ?, updated_at = ? WHERE id = ?",
		nullableString(planJSON), formatTime(time.Now()), id,
	)
}

// UpdateProgress stores the latest progress string.
func (s *SQLiteStore) UpdateProgress(ctx context.Context, id, message string) error {
	return s.updatePlan(ctx, id,
		"UPDATE plans SET progress_message = ?, updated_at = ? WHERE id = ?",
		nullableString(message), formatTime(time.Now()), id,
	)
}

func (s *SQLiteStore) updatePlan(ctx context.Context, id, query string, args ...any) error {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update plan %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("plan %s: %w", id, services.ErrNotFound)
	}
	return nil
}

// DeletePlan removes a plan with its assets and chat sessions.
func (s *SQLiteStore) DeletePlan(ctx context.Context, id string) error {
	res, err := s.execWithRetry(ctx, "DELETE FROM plans WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete plan %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("plan %s: %w", id, services.ErrNotFound)
	}
	return nil
}
