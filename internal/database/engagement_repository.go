package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vouse/vouse-server/internal/models"
)

// EngagementRepository persists per-post metric aggregates and their
// append-only time-series (stored as a JSONB array).
type EngagementRepository struct {
	db *sql.DB
}

// NewEngagementRepository creates a new engagement repository.
func NewEngagementRepository(db *sql.DB) *EngagementRepository {
	return &EngagementRepository{db: db}
}

const engagementColumns = `post_id_x, post_id_local, user_id, likes, retweets, quotes, replies, impressions, hourly_metrics, created_at, updated_at`

func scanEngagement(scanner interface{ Scan(...any) error }) (*models.Engagement, error) {
	var e models.Engagement
	var series []byte
	err := scanner.Scan(
		&e.PostIDX,
		&e.PostIDLocal,
		&e.UserID,
		&e.Likes,
		&e.Retweets,
		&e.Quotes,
		&e.Replies,
		&e.Impressions,
		&series,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(series) > 0 {
		if err := json.Unmarshal(series, &e.HourlyMetrics); err != nil {
			return nil, fmt.Errorf("decode time-series: %w", err)
		}
	}
	return &e, nil
}

// Create inserts the zeroed engagement row for a freshly published post.
// Idempotent: a duplicate publish finalization leaves the first row alone.
func (r *EngagementRepository) Create(ctx context.Context, e *models.Engagement) error {
	query := `
		INSERT INTO engagements (post_id_x, post_id_local, user_id, likes, retweets, quotes, replies, impressions, hourly_metrics, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (post_id_x) DO NOTHING
	`

	series, err := json.Marshal(e.HourlyMetrics)
	if err != nil {
		return fmt.Errorf("encode time-series: %w", err)
	}
	if e.HourlyMetrics == nil {
		series = []byte("[]")
	}

	_, err = r.db.ExecContext(ctx, query,
		e.PostIDX,
		e.PostIDLocal,
		e.UserID,
		e.Likes,
		e.Retweets,
		e.Quotes,
		e.Replies,
		e.Impressions,
		series,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert engagement: %w", err)
	}
	return nil
}

// GetByPostIDX retrieves one engagement row scoped to its owner.
func (r *EngagementRepository) GetByPostIDX(ctx context.Context, userID, postIDX string) (*models.Engagement, error) {
	query := `SELECT ` + engagementColumns + ` FROM engagements WHERE post_id_x = $1 AND user_id = $2`

	e, err := scanEngagement(r.db.QueryRowContext(ctx, query, postIDX, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query engagement: %w", err)
	}
	return e, nil
}

// GetByLocalID retrieves one engagement row by the client-generated post ID.
func (r *EngagementRepository) GetByLocalID(ctx context.Context, userID, postIDLocal string) (*models.Engagement, error) {
	query := `SELECT ` + engagementColumns + ` FROM engagements WHERE post_id_local = $1 AND user_id = $2`

	e, err := scanEngagement(r.db.QueryRowContext(ctx, query, postIDLocal, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query engagement: %w", err)
	}
	return e, nil
}

// ListByUser returns engagement rows for a user, newest first.
func (r *EngagementRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Engagement, error) {
	query := `SELECT ` + engagementColumns + ` FROM engagements WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list engagements: %w", err)
	}
	defer rows.Close()

	var result []*models.Engagement
	for rows.Next() {
		e, err := scanEngagement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan engagement: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// AppendSnapshot replaces the aggregates with the merged snapshot and
// appends a time-series point in a single statement.
func (r *EngagementRepository) AppendSnapshot(ctx context.Context, userID, postIDX string, snap models.EngagementSnapshot, at time.Time) (*models.Engagement, error) {
	point := models.TimeSeriesPoint{Timestamp: at, Snapshot: snap}
	encoded, err := json.Marshal(point)
	if err != nil {
		return nil, fmt.Errorf("encode time-series point: %w", err)
	}

	query := `
		UPDATE engagements
		SET
			likes = $3,
			retweets = $4,
			quotes = $5,
			replies = $6,
			impressions = $7,
			hourly_metrics = hourly_metrics || $8::jsonb,
			updated_at = $9
		WHERE post_id_x = $1 AND user_id = $2
		RETURNING ` + engagementColumns

	e, err := scanEngagement(r.db.QueryRowContext(ctx, query,
		postIDX,
		userID,
		snap.Likes,
		snap.Retweets,
		snap.Quotes,
		snap.Replies,
		snap.Impressions,
		encoded,
		at,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("append snapshot: %w", err)
	}
	return e, nil
}
