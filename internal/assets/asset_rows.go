package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storyloom/internal/services"
)

const assetColumns = "id, plan_id, asset_type, asset_index, uri, mime_type, prompt, status, error_message, created_at, updated_at"

func scanAsset(scanner interface{ Scan(dest ...any) error }) (*Asset, error) {
	var (
		asset      Asset
		assetType  string
		status     string
		uri        sql.NullString
		mimeType   sql.NullString
		prompt     sql.NullString
		errMessage sql.NullString
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(
		&asset.ID,
		&asset.PlanID,
		&assetType,
		&asset.Index,
		&uri,
		&mimeType,
		&prompt,
		&status,
		&errMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	asset.Type = AssetType(assetType)
	asset.Status = Status(status)
	asset.URI = uri.String
	asset.MIMEType = mimeType.String
	asset.Prompt = prompt.String
	asset.ErrorMessage = errMessage.String
	asset.CreatedAt = parseTime(createdRaw)
	asset.UpdatedAt = parseTime(updatedRaw)
	return &asset, nil
}

// PutAsset upserts asset on (plan id, type, index). An identical payload
// leaves the row untouched; any difference overwrites it. Empty URI, MIME type
// and prompt keep the stored values so a status-only update does not erase
// them.
func (s *SQLiteStore) PutAsset(ctx context.Context, asset Asset) (*Asset, error) {
	if asset.PlanID == "" || asset.Type == "" {
		return nil, services.Wrap(services.ErrValidation, "assets", "put asset", "plan id and asset type are required", nil)
	}
	if asset.Status == "" {
		asset.Status = StatusPending
	}
	now := formatTime(time.Now())
	_, err := s.execWithRetry(ctx,
		`INSERT INTO assets (
            plan_id, asset_type, asset_index, uri, mime_type, prompt, status, error_message, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(plan_id, asset_type, asset_index) DO UPDATE SET
            uri = COALESCE(excluded.uri, assets.uri),
            mime_type = COALESCE(excluded.mime_type, assets.mime_type),
            prompt = COALESCE(excluded.prompt, assets.prompt),
            status = excluded.status,
            error_message = excluded.error_message,
            updated_at = excluded.updated_at
        WHERE COALESCE(excluded.uri, assets.uri) IS NOT assets.uri
           OR COALESCE(excluded.mime_type, assets.mime_type) IS NOT assets.mime_type
           OR COALESCE(excluded.prompt, assets.prompt) IS NOT assets.prompt
           OR excluded.status IS NOT assets.status
           OR excluded.error_message IS NOT assets.error_message`,
		asset.PlanID,
		string(asset.Type),
		asset.Index,
		nullableString(asset.URI),
		nullableString(asset.MIMEType),
		nullableString(asset.Prompt),
		string(asset.Status),
		nullableString(asset.ErrorMessage),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("put asset %s/%s/%d: %w", asset.PlanID, asset.Type, asset.Index, err)
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE plan_id = ? AND asset_type = ? AND asset_index = ?",
		asset.PlanID, string(asset.Type), asset.Index,
	)
	stored, err := scanAsset(row)
	if err != nil {
		return nil, fmt.Errorf("reload asset: %w", err)
	}
	return stored, nil
}

// ListAssets returns a plan's assets ordered by type (character model,
// keyframes, videos, final video) and index.
func (s *SQLiteStore) ListAssets(ctx context.Context, planID string) ([]Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE plan_id = ?
        ORDER BY CASE asset_type
            WHEN 'character_model' THEN 0
            WHEN 'keyframe' THEN 1
            WHEN 'video' THEN 2
            WHEN 'final_video' THEN 3
            ELSE 4 END, asset_index`,
		planID,
	)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var out []Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, *asset)
	}
	return out, rows.Err()
}

// GetAsset loads one asset by row id.
func (s *SQLiteStore) GetAsset(ctx context.Context, id int64) (*Asset, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+assetColumns+" FROM assets WHERE id = ?", id)
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %d: %w", id, services.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get asset %d: %w", id, err)
	}
	return asset, nil
}
