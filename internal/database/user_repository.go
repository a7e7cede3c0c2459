package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vouse/vouse-server/internal/models"
)

// UserRepository persists users and their encrypted OAuth tokens.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// userRow mirrors the users table; nullable columns stay nullable here and
// are translated at the boundary.
type userRow struct {
	UserID         string
	AccessToken    sql.NullString
	RefreshToken   sql.NullString
	TokenExpiresAt sql.NullTime
	IsConnected    bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r userRow) toModel() *models.User {
	user := &models.User{
		UserID:      r.UserID,
		IsConnected: r.IsConnected,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.AccessToken.Valid {
		user.AccessTokenCiphertext = r.AccessToken.String
	}
	if r.RefreshToken.Valid {
		user.RefreshTokenCipher = r.RefreshToken.String
	}
	if r.TokenExpiresAt.Valid {
		t := r.TokenExpiresAt.Time
		user.TokenExpiresAt = &t
	}
	return user
}

const userColumns = `user_id, access_token_ciphertext, refresh_token_ciphertext, token_expires_at, is_connected, created_at, updated_at`

// Get retrieves a user by ID.
func (r *UserRepository) Get(ctx context.Context, userID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`

	var row userRow
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&row.UserID,
		&row.AccessToken,
		&row.RefreshToken,
		&row.TokenExpiresAt,
		&row.IsConnected,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	return row.toModel(), nil
}

// FindOrCreate returns the user row, creating it on first authenticated
// touch. Safe under races: the insert is a no-op when another request wins.
func (r *UserRepository) FindOrCreate(ctx context.Context, userID string) (*models.User, error) {
	query := `
		INSERT INTO users (user_id, is_connected, created_at, updated_at)
		VALUES ($1, FALSE, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return r.Get(ctx, userID)
}

// SetTokens stores a fresh encrypted token pair and flips the connection
// flag on. A nil refresh ciphertext preserves whatever refresh token is
// already stored (the client may omit it on reconnect).
func (r *UserRepository) SetTokens(ctx context.Context, userID, accessCiphertext string, refreshCiphertext *string, expiresAt *time.Time) error {
	query := `
		UPDATE users
		SET
			access_token_ciphertext = $2,
			refresh_token_ciphertext = COALESCE($3, refresh_token_ciphertext),
			token_expires_at = $4,
			is_connected = TRUE,
			updated_at = NOW()
		WHERE user_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, userID, accessCiphertext, refreshCiphertext, expiresAt)
	if err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearTokens wipes both ciphertexts and the expiry in one statement so a
// disconnect can never leave a partial token pair behind.
func (r *UserRepository) ClearTokens(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET
			access_token_ciphertext = NULL,
			refresh_token_ciphertext = NULL,
			token_expires_at = NULL,
			is_connected = FALSE,
			updated_at = NOW()
		WHERE user_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
