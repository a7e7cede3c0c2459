package publisher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vouse/vouse-server/internal/database"
	"github.com/vouse/vouse-server/internal/models"
	"github.com/vouse/vouse-server/internal/queue"
)

type postStore interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, userID, id string) (*models.Post, error)
	GetAnyByID(ctx context.Context, id string) (*models.Post, error)
	GetByLocalID(ctx context.Context, userID, postIDLocal string) (*models.Post, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Post, error)
	Update(ctx context.Context, post *models.Post, expectStatus models.PostStatus) error
	Delete(ctx context.Context, userID, id string) error
}

type jobQueue interface {
	Enqueue(ctx context.Context, job queue.Job) error
	Cancel(ctx context.Context, queueName, jobID string) error
}

// Service owns the post lifecycle on the API side: creation, edits, and the
// schedule bookkeeping that keeps the delayed queue in step with the rows.
type Service struct {
	posts  postStore
	jobs   jobQueue
	policy RetryPolicy
	logger *slog.Logger
}

// NewService creates a new post service.
func NewService(posts postStore, jobs jobQueue, policy RetryPolicy, logger *slog.Logger) *Service {
	return &Service{
		posts:  posts,
		jobs:   jobs,
		policy: policy,
		logger: logger,
	}
}

// Create persists a new post. A scheduledAt in the payload makes the post
// scheduled and enqueues its publish job; otherwise it lands as a draft.
// Creation is idempotent on (user, postIdLocal): a replayed request returns
// the existing row instead of erroring.
func (s *Service) Create(ctx context.Context, userID string, req models.CreatePostRequest) (*models.Post, error) {
	now := time.Now().UTC()
	if err := req.Validate(now); err != nil {
		return nil, err
	}

	status := models.PostStatusDraft
	if req.ScheduledAt != nil {
		status = models.PostStatusScheduled
	}

	post := &models.Post{
		ID:             uuid.NewString(),
		PostIDLocal:    req.PostIDLocal,
		UserID:         userID,
		Content:        req.Content,
		Title:          req.Title,
		Visibility:     req.Visibility,
		CloudImageURLs: req.CloudImageURLs,
		Location:       req.Location,
		ScheduledAt:    req.ScheduledAt,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.posts.Create(ctx, post); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return s.posts.GetByLocalID(ctx, userID, req.PostIDLocal)
		}
		return nil, err
	}

	if post.Status == models.PostStatusScheduled {
		if err := s.enqueuePublish(ctx, post); err != nil {
			return nil, err
		}
	}

	s.logger.Info("post created",
		"post_id", post.ID,
		"user_id", userID,
		"status", post.Status,
		"scheduled_at", post.ScheduledAt)
	return post, nil
}

// List returns all of the user's posts, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]*models.Post, error) {
	return s.posts.ListByUser(ctx, userID)
}

// Get retrieves a post by server ID. A hit on another owner's post is
// audited and still reads as not found.
func (s *Service) Get(ctx context.Context, userID, id string) (*models.Post, error) {
	post, err := s.posts.GetByID(ctx, userID, id)
	if errors.Is(err, database.ErrNotFound) {
		if other, lookupErr := s.posts.GetAnyByID(ctx, id); lookupErr == nil && other.UserID != userID {
			s.logger.Warn("ownership mismatch",
				"subject", userID,
				"post_id", id,
				"owner", other.UserID)
		}
		return nil, database.ErrNotFound
	}
	return post, err
}

// GetByLocalID retrieves a post by the client-generated UUID.
func (s *Service) GetByLocalID(ctx context.Context, userID, postIDLocal string) (*models.Post, error) {
	return s.posts.GetByLocalID(ctx, userID, postIDLocal)
}

// Update applies a partial edit. Scheduling fields drive the state machine:
// a new scheduledAt (re)schedules, clearScheduledAt reverts to draft, and a
// post that is publishing or published refuses edits with a conflict.
func (s *Service) Update(ctx context.Context, userID, id string, req models.UpdatePostRequest) (*models.Post, error) {
	now := time.Now().UTC()
	if err := req.Validate(now); err != nil {
		return nil, err
	}

	post, err := s.posts.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	from := post.Status
	if from == models.PostStatusPublishing || from == models.PostStatusPublished {
		return nil, database.ErrConflict
	}

	if req.Content != nil {
		post.Content = *req.Content
	}
	if req.Title != nil {
		post.Title = *req.Title
	}
	if req.Visibility != nil {
		post.Visibility = *req.Visibility
	}
	if req.CloudImageURLs != nil {
		post.CloudImageURLs = *req.CloudImageURLs
	}
	if req.Location != nil {
		post.Location = req.Location
	}

	switch {
	case req.ScheduledAt != nil:
		if !models.CanTransition(from, models.PostStatusScheduled) {
			return nil, database.ErrConflict
		}
		post.ScheduledAt = req.ScheduledAt
		post.Status = models.PostStatusScheduled
	case req.ClearScheduledAt:
		if from != models.PostStatusScheduled {
			return nil, database.ErrConflict
		}
		post.ScheduledAt = nil
		post.Status = models.PostStatusDraft
	}

	post.FailureReason = ""
	if err := s.posts.Update(ctx, post, from); err != nil {
		return nil, err
	}

	if post.Status == models.PostStatusScheduled {
		// Same job ID, so a reschedule replaces the pending fire time.
		if err := s.enqueuePublish(ctx, post); err != nil {
			return nil, err
		}
	} else if from == models.PostStatusScheduled {
		if err := s.jobs.Cancel(ctx, queue.QueuePostPublish, post.ID); err != nil {
			s.logger.Warn("failed to cancel publish job", "post_id", post.ID, "error", err)
		}
	}

	s.logger.Info("post updated", "post_id", post.ID, "user_id", userID, "status", post.Status)
	return post, nil
}

// Delete removes a post and its pending publish job. A post mid-publish
// cannot be deleted.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if err := s.posts.Delete(ctx, userID, id); err != nil {
		return err
	}

	if err := s.jobs.Cancel(ctx, queue.QueuePostPublish, id); err != nil {
		s.logger.Warn("failed to cancel publish job", "post_id", id, "error", err)
	}

	s.logger.Info("post deleted", "post_id", id, "user_id", userID)
	return nil
}

func (s *Service) enqueuePublish(ctx context.Context, post *models.Post) error {
	runAt := time.Now().UTC()
	if post.ScheduledAt != nil {
		runAt = *post.ScheduledAt
	}

	return s.jobs.Enqueue(ctx, queue.Job{
		ID:          post.ID,
		Queue:       queue.QueuePostPublish,
		UserID:      post.UserID,
		PostID:      post.ID,
		RunAt:       runAt,
		Attempt:     1,
		MaxAttempts: s.policy.MaxAttempts,
	})
}
