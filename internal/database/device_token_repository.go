package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/vouse/vouse-server/internal/models"
)

// DeviceTokenRepository persists push registration tokens. A token belongs
// to exactly one user; registering an existing token rebinds it.
type DeviceTokenRepository struct {
	db *sql.DB
}

// NewDeviceTokenRepository creates a new device token repository.
func NewDeviceTokenRepository(db *sql.DB) *DeviceTokenRepository {
	return &DeviceTokenRepository{db: db}
}

// Register upserts a device token by its token value. The foreign key to
// users makes registration for an unknown user fail with ErrNotFound.
func (r *DeviceTokenRepository) Register(ctx context.Context, t *models.DeviceToken) error {
	query := `
		INSERT INTO device_tokens (id, user_id, token, platform, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (token) DO UPDATE
		SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform, updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.UserID,
		t.Token,
		string(t.Platform),
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
			return ErrNotFound
		}
		return fmt.Errorf("register device token: %w", err)
	}
	return nil
}

// Unregister deletes a token owned by the user.
func (r *DeviceTokenRepository) Unregister(ctx context.Context, userID, token string) error {
	query := `DELETE FROM device_tokens WHERE user_id = $1 AND token = $2`

	result, err := r.db.ExecContext(ctx, query, userID, token)
	if err != nil {
		return fmt.Errorf("unregister device token: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unregister device token: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByToken removes a token regardless of owner. Used to prune tokens
// the push provider reports as invalid.
func (r *DeviceTokenRepository) DeleteByToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM device_tokens WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete device token: %w", err)
	}
	return nil
}

// ListForUser returns every registered token for fan-out.
func (r *DeviceTokenRepository) ListForUser(ctx context.Context, userID string) ([]*models.DeviceToken, error) {
	query := `
		SELECT id, user_id, token, platform, created_at, updated_at
		FROM device_tokens
		WHERE user_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*models.DeviceToken
	for rows.Next() {
		var t models.DeviceToken
		var platform string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &platform, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan device token: %w", err)
		}
		t.Platform = models.DevicePlatform(platform)
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}
