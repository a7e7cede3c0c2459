package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vouse/vouse-server/internal/database"
	"github.com/vouse/vouse-server/internal/models"
	"github.com/vouse/vouse-server/internal/notify"
	"github.com/vouse/vouse-server/internal/queue"
	"github.com/vouse/vouse-server/internal/twitter"
)

// tokenExpiryMargin triggers a proactive refresh when the access token is
// about to expire mid-publish.
const tokenExpiryMargin = time.Minute

type workerPostStore interface {
	GetAnyByID(ctx context.Context, id string) (*models.Post, error)
	TransitionStatus(ctx context.Context, id string, from, to models.PostStatus) error
	MarkPublished(ctx context.Context, id, postIDX string, publishedAt time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
	Reschedule(ctx context.Context, id string, from models.PostStatus, runAt time.Time) error
	ListByStatus(ctx context.Context, status models.PostStatus) ([]*models.Post, error)
}

type tokenSource interface {
	PlaintextTokens(ctx context.Context, userID string) (*models.TwitterTokens, error)
	StoreRefreshedTokens(ctx context.Context, userID string, tokens *models.TwitterTokens) error
	DisconnectTwitter(ctx context.Context, userID string) error
}

type platformClient interface {
	UploadMedia(ctx context.Context, accessToken string, image []byte) (string, error)
	CreateTweet(ctx context.Context, accessToken, text string, mediaIDs []string) (string, error)
	RefreshTokens(ctx context.Context, refreshToken string) (*models.TwitterTokens, error)
}

type imageFetcher interface {
	Fetch(ctx context.Context, imageURL string) ([]byte, error)
}

type engagementStore interface {
	Create(ctx context.Context, e *models.Engagement) error
}

type workerQueue interface {
	Enqueue(ctx context.Context, job queue.Job) error
	IsClaimed(ctx context.Context, queueName, jobID string) (bool, error)
	Pending(ctx context.Context, queueName, jobID string) (bool, error)
}

type attemptRecorder interface {
	RecordPublishAttempt(outcome string)
}

// Worker consumes publish jobs and drives a post through the publishing
// state: token load and refresh, ordered media upload, tweet creation, and
// finalization or retry.
type Worker struct {
	posts       workerPostStore
	tokens      tokenSource
	platform    platformClient
	images      imageFetcher
	engagements engagementStore
	jobs        workerQueue
	recorder    attemptRecorder
	policy      RetryPolicy
	logger      *slog.Logger
}

// NewWorker creates a new publish worker.
func NewWorker(
	posts workerPostStore,
	tokens tokenSource,
	platform platformClient,
	images imageFetcher,
	engagements engagementStore,
	jobs workerQueue,
	recorder attemptRecorder,
	policy RetryPolicy,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		posts:       posts,
		tokens:      tokens,
		platform:    platform,
		images:      images,
		engagements: engagements,
		jobs:        jobs,
		recorder:    recorder,
		policy:      policy,
		logger:      logger,
	}
}

// HandlePublishJob processes one due publish job. The scheduled→publishing
// compare-and-set is the per-post lock: a job that loses it was cancelled,
// rescheduled, or raced another worker, and is silently dropped.
func (w *Worker) HandlePublishJob(ctx context.Context, job queue.Job) error {
	post, err := w.posts.GetAnyByID(ctx, job.PostID)
	if errors.Is(err, database.ErrNotFound) {
		// Deleted between enqueue and fire.
		w.recorder.RecordPublishAttempt("skipped")
		return nil
	}
	if err != nil {
		return w.requeueSameAttempt(ctx, job, err)
	}

	if post.Status != models.PostStatusScheduled {
		w.recorder.RecordPublishAttempt("skipped")
		return nil
	}

	err = w.posts.TransitionStatus(ctx, post.ID, models.PostStatusScheduled, models.PostStatusPublishing)
	if errors.Is(err, database.ErrConflict) {
		w.recorder.RecordPublishAttempt("skipped")
		return nil
	}
	if err != nil {
		return w.requeueSameAttempt(ctx, job, err)
	}

	tweetID, err := w.publish(ctx, post)
	if err != nil {
		return w.handleFailure(ctx, post, job, err)
	}

	now := time.Now().UTC()
	if err := w.posts.MarkPublished(ctx, post.ID, tweetID, now); err != nil {
		// Finalization lost the lock; the tweet exists, so don't retry.
		w.logger.Error("failed to finalize published post",
			"post_id", post.ID, "tweet_id", tweetID, "error", err)
		w.recorder.RecordPublishAttempt("failed")
		return err
	}

	w.finalize(ctx, post, tweetID, now)
	w.recorder.RecordPublishAttempt("published")

	w.logger.Info("post published",
		"post_id", post.ID,
		"user_id", post.UserID,
		"tweet_id", tweetID,
		"attempt", job.Attempt)
	return nil
}

// publish performs the external side of one attempt and returns the tweet ID.
func (w *Worker) publish(ctx context.Context, post *models.Post) (string, error) {
	tokens, err := w.tokens.PlaintextTokens(ctx, post.UserID)
	if err != nil {
		return "", &accountError{err: err}
	}

	if tokens.RefreshToken != "" && tokens.ExpiresAt != nil && time.Until(*tokens.ExpiresAt) < tokenExpiryMargin {
		if err := w.refresh(ctx, post.UserID, tokens); err != nil {
			return "", err
		}
	}

	// Media order follows the post's image list.
	mediaIDs := make([]string, 0, len(post.CloudImageURLs))
	for _, imageURL := range post.CloudImageURLs {
		data, err := w.images.Fetch(ctx, imageURL)
		if err != nil {
			return "", &imageError{err: err}
		}

		var mediaID string
		err = w.withAuthRetry(ctx, post.UserID, tokens, func(accessToken string) error {
			var uploadErr error
			mediaID, uploadErr = w.platform.UploadMedia(ctx, accessToken, data)
			return uploadErr
		})
		if err != nil {
			return "", err
		}
		mediaIDs = append(mediaIDs, mediaID)
	}

	var tweetID string
	err = w.withAuthRetry(ctx, post.UserID, tokens, func(accessToken string) error {
		var tweetErr error
		tweetID, tweetErr = w.platform.CreateTweet(ctx, accessToken, post.Content, mediaIDs)
		return tweetErr
	})
	if err != nil {
		return "", err
	}
	return tweetID, nil
}

// refresh exchanges the refresh token and persists the rotated pair. A
// rejected grant means the stored pair is dead for good, not just this call.
func (w *Worker) refresh(ctx context.Context, userID string, tokens *models.TwitterTokens) error {
	refreshed, err := w.platform.RefreshTokens(ctx, tokens.RefreshToken)
	if twitter.IsAuthExpired(err) {
		return &refreshError{err: err}
	}
	if err != nil {
		return err
	}

	if err := w.tokens.StoreRefreshedTokens(ctx, userID, refreshed); err != nil {
		return err
	}

	tokens.AccessToken = refreshed.AccessToken
	tokens.ExpiresAt = refreshed.ExpiresAt
	if refreshed.RefreshToken != "" {
		tokens.RefreshToken = refreshed.RefreshToken
	}
	return nil
}

// withAuthRetry runs one platform call, refreshing the token pair and
// retrying exactly once when the platform rejects the credential mid-flight.
func (w *Worker) withAuthRetry(ctx context.Context, userID string, tokens *models.TwitterTokens, fn func(accessToken string) error) error {
	err := fn(tokens.AccessToken)
	if err == nil || !twitter.IsAuthExpired(err) || tokens.RefreshToken == "" {
		return err
	}

	if refreshErr := w.refresh(ctx, userID, tokens); refreshErr != nil {
		return refreshErr
	}
	return fn(tokens.AccessToken)
}

// finalize records the engagement row and follow-up jobs. All best-effort:
// the post is already published and must stay that way.
func (w *Worker) finalize(ctx context.Context, post *models.Post, tweetID string, now time.Time) {
	engagement := &models.Engagement{
		PostIDX:     tweetID,
		PostIDLocal: post.PostIDLocal,
		UserID:      post.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := w.engagements.Create(ctx, engagement); err != nil {
		w.logger.Error("failed to create engagement row", "post_id", post.ID, "error", err)
	}

	if err := w.jobs.Enqueue(ctx, queue.Job{
		ID:     post.ID,
		Queue:  queue.QueueMetricsCollector,
		UserID: post.UserID,
		PostID: post.ID,
		RunAt:  now.Add(time.Hour),
	}); err != nil {
		w.logger.Error("failed to enqueue metrics job", "post_id", post.ID, "error", err)
	}

	if err := w.jobs.Enqueue(ctx, queue.Job{
		ID:     post.ID,
		Queue:  queue.QueuePushNotify,
		UserID: post.UserID,
		PostID: post.ID,
		RunAt:  now,
	}); err != nil {
		w.logger.Error("failed to enqueue push job", "post_id", post.ID, "error", err)
	}
}

// accountError marks a post whose owner has no usable tokens. Terminal.
type accountError struct {
	err error
}

func (e *accountError) Error() string { return fmt.Sprintf("account unusable: %v", e.err) }
func (e *accountError) Unwrap() error { return e.err }

// imageError marks an attachment that could not be fetched. Terminal: a post
// must publish with all of its media or not at all.
type imageError struct {
	err error
}

func (e *imageError) Error() string { return fmt.Sprintf("image unavailable: %v", e.err) }
func (e *imageError) Unwrap() error { return e.err }

// refreshError marks a refresh grant the platform rejected. Terminal, and
// the owner's connection flag must be cleared.
type refreshError struct {
	err error
}

func (e *refreshError) Error() string { return fmt.Sprintf("token refresh failed: %v", e.err) }
func (e *refreshError) Unwrap() error { return e.err }

// handleFailure routes a failed attempt: rate limits wait out the window
// without consuming an attempt, auth, media and fatal errors finalize as
// failed, everything else retries with exponential backoff until attempts
// run out.
func (w *Worker) handleFailure(ctx context.Context, post *models.Post, job queue.Job, cause error) error {
	now := time.Now().UTC()

	var acct *accountError
	if errors.As(cause, &acct) {
		w.fail(ctx, post, "account disconnected")
		return nil
	}

	var img *imageError
	if errors.As(cause, &img) {
		w.fail(ctx, post, "image unavailable")
		return nil
	}

	var grant *refreshError
	if errors.As(cause, &grant) {
		if err := w.tokens.DisconnectTwitter(ctx, post.UserID); err != nil {
			w.logger.Error("failed to disconnect user after rejected refresh grant",
				"user_id", post.UserID, "error", err)
		}
		w.fail(ctx, post, "token refresh failed")
		return nil
	}

	if resetAt, limited := twitter.IsRateLimited(cause); limited {
		delay := w.policy.RateLimitDelay(resetAt, now)
		w.logger.Warn("publish rate limited",
			"post_id", post.ID, "retry_in", delay, "attempt", job.Attempt)

		if err := w.retryAt(ctx, post, job, job.Attempt, now.Add(delay), cause); err != nil {
			return err
		}
		w.recorder.RecordPublishAttempt("rate_limited")
		return nil
	}

	if twitter.IsAuthExpired(cause) {
		w.fail(ctx, post, "twitter authorization expired, reconnect the account")
		return nil
	}

	var fatal *twitter.FatalError
	if errors.As(cause, &fatal) {
		w.fail(ctx, post, fatal.Error())
		return nil
	}

	if w.policy.Exhausted(job.Attempt) {
		w.fail(ctx, post, fmt.Sprintf("gave up after %d attempts: %v", job.Attempt, cause))
		return nil
	}

	next := job.Attempt + 1
	delay := w.policy.Backoff(next)
	w.logger.Warn("publish attempt failed, retrying",
		"post_id", post.ID,
		"attempt", job.Attempt,
		"next_attempt", next,
		"retry_in", delay,
		"error", cause)

	if err := w.retryAt(ctx, post, job, next, now.Add(delay), cause); err != nil {
		return err
	}
	w.recorder.RecordPublishAttempt("retried")
	return nil
}

// retryAt releases the publishing lock back to scheduled and re-enqueues.
func (w *Worker) retryAt(ctx context.Context, post *models.Post, job queue.Job, attempt int, runAt time.Time, cause error) error {
	if err := w.posts.Reschedule(ctx, post.ID, models.PostStatusPublishing, runAt); err != nil {
		return fmt.Errorf("reschedule post %s: %w", post.ID, err)
	}

	job.Attempt = attempt
	job.RunAt = runAt
	job.LastError = cause.Error()
	if err := w.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("re-enqueue publish job %s: %w", job.ID, err)
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, post *models.Post, reason string) {
	if err := w.posts.MarkFailed(ctx, post.ID, reason); err != nil {
		w.logger.Error("failed to mark post failed", "post_id", post.ID, "error", err)
	}
	w.recorder.RecordPublishAttempt("failed")
	w.logger.Error("post publish failed", "post_id", post.ID, "user_id", post.UserID, "reason", reason)
}

// requeueSameAttempt retries infrastructure faults without consuming one of
// the post's publish attempts.
func (w *Worker) requeueSameAttempt(ctx context.Context, job queue.Job, cause error) error {
	job.RunAt = time.Now().UTC().Add(w.policy.MinRetryDelay)
	job.LastError = cause.Error()
	if err := w.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("re-enqueue after infrastructure fault: %w (original: %v)", err, cause)
	}
	return nil
}

type pushDispatcher interface {
	Send(ctx context.Context, userID string, n notify.Notification) error
}

// NewPushHandler returns the push-notify queue handler: it delivers the
// "post published" notification once the post has actually landed.
func NewPushHandler(posts workerPostStore, dispatcher pushDispatcher) queue.Handler {
	return func(ctx context.Context, job queue.Job) error {
		post, err := posts.GetAnyByID(ctx, job.PostID)
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if post.Status != models.PostStatusPublished {
			return nil
		}

		title := "Post published"
		if post.Title != "" {
			title = post.Title
		}
		return dispatcher.Send(ctx, post.UserID, notify.Notification{
			Title: title,
			Body:  truncate(post.Content, 120),
			Data: map[string]string{
				"postId":  post.ID,
				"postIdX": post.PostIDX,
			},
		})
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
