package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vouse/vouse-server/internal/models"
)

// PostRepository persists post records and owns the compare-and-set status
// transitions that serialize the state machine per post.
type PostRepository struct {
	db *sql.DB
}

// NewPostRepository creates a new post repository.
func NewPostRepository(db *sql.DB) *PostRepository {
	return &PostRepository{db: db}
}

type postRow struct {
	ID            string
	PostIDLocal   string
	PostIDX       sql.NullString
	UserID        string
	Content       string
	Title         sql.NullString
	Visibility    sql.NullString
	ImageURLs     pq.StringArray
	Latitude      sql.NullFloat64
	Longitude     sql.NullFloat64
	Address       sql.NullString
	ScheduledAt   sql.NullTime
	PublishedAt   sql.NullTime
	Status        string
	FailureReason sql.NullString
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (r postRow) toModel() *models.Post {
	post := &models.Post{
		ID:          r.ID,
		PostIDLocal: r.PostIDLocal,
		UserID:      r.UserID,
		Content:     r.Content,
		Status:      models.PostStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.PostIDX.Valid {
		post.PostIDX = r.PostIDX.String
	}
	if r.Title.Valid {
		post.Title = r.Title.String
	}
	if r.Visibility.Valid {
		post.Visibility = r.Visibility.String
	}
	if len(r.ImageURLs) > 0 {
		post.CloudImageURLs = []string(r.ImageURLs)
	}
	if r.Latitude.Valid && r.Longitude.Valid {
		post.Location = &models.Location{
			Latitude:  r.Latitude.Float64,
			Longitude: r.Longitude.Float64,
		}
		if r.Address.Valid {
			post.Location.Address = r.Address.String
		}
	}
	if r.ScheduledAt.Valid {
		t := r.ScheduledAt.Time
		post.ScheduledAt = &t
	}
	if r.PublishedAt.Valid {
		t := r.PublishedAt.Time
		post.PublishedAt = &t
	}
	if r.FailureReason.Valid {
		post.FailureReason = r.FailureReason.String
	}
	return post
}

const postColumns = `id, post_id_local, post_id_x, user_id, content, title, visibility, cloud_image_urls, latitude, longitude, address, scheduled_at, published_at, status, failure_reason, created_at, updated_at`

func scanPost(scanner interface{ Scan(...any) error }) (*models.Post, error) {
	var row postRow
	err := scanner.Scan(
		&row.ID,
		&row.PostIDLocal,
		&row.PostIDX,
		&row.UserID,
		&row.Content,
		&row.Title,
		&row.Visibility,
		&row.ImageURLs,
		&row.Latitude,
		&row.Longitude,
		&row.Address,
		&row.ScheduledAt,
		&row.PublishedAt,
		&row.Status,
		&row.FailureReason,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// Create inserts a new post row.
func (r *PostRepository) Create(ctx context.Context, post *models.Post) error {
	query := `
		INSERT INTO posts (
			id, post_id_local, user_id, content, title, visibility,
			cloud_image_urls, latitude, longitude, address,
			scheduled_at, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	var lat, lng any
	var address any
	if post.Location != nil {
		lat, lng = post.Location.Latitude, post.Location.Longitude
		if post.Location.Address != "" {
			address = post.Location.Address
		}
	}

	_, err := r.db.ExecContext(ctx, query,
		post.ID,
		post.PostIDLocal,
		post.UserID,
		post.Content,
		nullable(post.Title),
		nullable(post.Visibility),
		pq.Array(post.CloudImageURLs),
		lat,
		lng,
		address,
		post.ScheduledAt,
		string(post.Status),
		post.CreatedAt,
		post.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return ErrDuplicate
			case "foreign_key_violation":
				return ErrNotFound
			}
		}
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// GetByID retrieves a post by server ID, scoped to its owner.
func (r *PostRepository) GetByID(ctx context.Context, userID, id string) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1 AND user_id = $2`

	post, err := scanPost(r.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query post: %w", err)
	}
	return post, nil
}

// GetAnyByID retrieves a post regardless of owner. Worker-only path.
func (r *PostRepository) GetAnyByID(ctx context.Context, id string) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query post: %w", err)
	}
	return post, nil
}

// GetByLocalID retrieves a post by the client-generated UUID.
func (r *PostRepository) GetByLocalID(ctx context.Context, userID, postIDLocal string) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE post_id_local = $1 AND user_id = $2`

	post, err := scanPost(r.db.QueryRowContext(ctx, query, postIDLocal, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query post: %w", err)
	}
	return post, nil
}

// GetByPostIDX retrieves a post by its remote tweet ID.
func (r *PostRepository) GetByPostIDX(ctx context.Context, userID, postIDX string) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE post_id_x = $1 AND user_id = $2`

	post, err := scanPost(r.db.QueryRowContext(ctx, query, postIDX, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query post: %w", err)
	}
	return post, nil
}

// ListByUser returns all posts for a user, newest first.
func (r *PostRepository) ListByUser(ctx context.Context, userID string) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// ListByStatus returns all posts in the given status.
func (r *PostRepository) ListByStatus(ctx context.Context, status models.PostStatus) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE status = $1`

	rows, err := r.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list posts by status: %w", err)
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// Update rewrites the mutable content fields guarded by the expected status;
// a concurrent transition makes the write lose and return ErrConflict.
func (r *PostRepository) Update(ctx context.Context, post *models.Post, expectStatus models.PostStatus) error {
	query := `
		UPDATE posts
		SET
			content = $3,
			title = $4,
			visibility = $5,
			cloud_image_urls = $6,
			latitude = $7,
			longitude = $8,
			address = $9,
			scheduled_at = $10,
			status = $11,
			failure_reason = $12,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	var lat, lng any
	var address any
	if post.Location != nil {
		lat, lng = post.Location.Latitude, post.Location.Longitude
		if post.Location.Address != "" {
			address = post.Location.Address
		}
	}

	result, err := r.db.ExecContext(ctx, query,
		post.ID,
		string(expectStatus),
		post.Content,
		nullable(post.Title),
		nullable(post.Visibility),
		pq.Array(post.CloudImageURLs),
		lat,
		lng,
		address,
		post.ScheduledAt,
		string(post.Status),
		nullable(post.FailureReason),
	)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

// TransitionStatus performs a compare-and-set on the status column. It is
// the lock that gives each post at most one in-flight publish.
func (r *PostRepository) TransitionStatus(ctx context.Context, id string, from, to models.PostStatus) error {
	query := `UPDATE posts SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`

	result, err := r.db.ExecContext(ctx, query, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("transition post status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition post status: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

// MarkPublished finalizes a successful publish. Guarded on the publishing
// lock state so a recovered duplicate cannot double-finalize.
func (r *PostRepository) MarkPublished(ctx context.Context, id, postIDX string, publishedAt time.Time) error {
	query := `
		UPDATE posts
		SET status = 'published', post_id_x = $2, published_at = $3, failure_reason = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'publishing'
	`

	result, err := r.db.ExecContext(ctx, query, id, postIDX, publishedAt)
	if err != nil {
		return fmt.Errorf("mark post published: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark post published: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

// MarkFailed records a terminal failure with its human-readable reason.
func (r *PostRepository) MarkFailed(ctx context.Context, id, reason string) error {
	query := `
		UPDATE posts
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'publishing'
	`

	result, err := r.db.ExecContext(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("mark post failed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark post failed: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

// Reschedule moves a post back to scheduled with a new fire time. Used for
// retryable publish failures and crash recovery.
func (r *PostRepository) Reschedule(ctx context.Context, id string, from models.PostStatus, runAt time.Time) error {
	query := `
		UPDATE posts
		SET status = 'scheduled', scheduled_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.ExecContext(ctx, query, id, string(from), runAt)
	if err != nil {
		return fmt.Errorf("reschedule post: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reschedule post: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

// Delete removes a post unless it is mid-publish.
func (r *PostRepository) Delete(ctx context.Context, userID, id string) error {
	query := `DELETE FROM posts WHERE id = $1 AND user_id = $2 AND status <> 'publishing'`

	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Distinguish "missing" from "locked by the publisher".
	if _, err := r.GetByID(ctx, userID, id); err != nil {
		return err
	}
	return ErrConflict
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
