package engagement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vouse/vouse-server/internal/database"
	"github.com/vouse/vouse-server/internal/models"
	"github.com/vouse/vouse-server/internal/queue"
	"github.com/vouse/vouse-server/internal/twitter"
)

// collectInterval is the cadence of background metric snapshots per post.
const collectInterval = time.Hour

// ErrNotPublished marks a refresh request against a post that has no remote
// counterpart yet.
var ErrNotPublished = errors.New("post is not published")

type engagementStore interface {
	GetByPostIDX(ctx context.Context, userID, postIDX string) (*models.Engagement, error)
	GetByLocalID(ctx context.Context, userID, postIDLocal string) (*models.Engagement, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Engagement, error)
	AppendSnapshot(ctx context.Context, userID, postIDX string, snap models.EngagementSnapshot, at time.Time) (*models.Engagement, error)
}

type postSource interface {
	GetAnyByID(ctx context.Context, id string) (*models.Post, error)
}

type tokenSource interface {
	PlaintextTokens(ctx context.Context, userID string) (*models.TwitterTokens, error)
}

type metricsClient interface {
	GetTweetMetrics(ctx context.Context, accessToken, tweetID string) (models.EngagementSnapshot, error)
}

type jobQueue interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

type jobRecorder interface {
	RecordQueueJob(queue, result string)
}

// Collector serves engagement reads and refreshes, both on demand through
// the API and hourly through the metrics-collector queue.
type Collector struct {
	engagements engagementStore
	posts       postSource
	tokens      tokenSource
	platform    metricsClient
	jobs        jobQueue
	recorder    jobRecorder
	logger      *slog.Logger
}

// NewCollector creates a new engagement collector.
func NewCollector(
	engagements engagementStore,
	posts postSource,
	tokens tokenSource,
	platform metricsClient,
	jobs jobQueue,
	recorder jobRecorder,
	logger *slog.Logger,
) *Collector {
	return &Collector{
		engagements: engagements,
		posts:       posts,
		tokens:      tokens,
		platform:    platform,
		jobs:        jobs,
		recorder:    recorder,
		logger:      logger,
	}
}

// List returns the user's engagement rows, newest first.
func (c *Collector) List(ctx context.Context, userID string, limit, offset int) ([]*models.Engagement, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return c.engagements.ListByUser(ctx, userID, limit, offset)
}

// Get retrieves one engagement row by remote tweet ID.
func (c *Collector) Get(ctx context.Context, userID, postIDX string) (*models.Engagement, error) {
	return c.engagements.GetByPostIDX(ctx, userID, postIDX)
}

// GetByLocalID retrieves one engagement row by the client-generated post ID.
func (c *Collector) GetByLocalID(ctx context.Context, userID, postIDLocal string) (*models.Engagement, error) {
	return c.engagements.GetByLocalID(ctx, userID, postIDLocal)
}

// Refresh pulls fresh counters from the platform and appends a time-series
// point. Rate-limit errors pass through untouched so the API layer can
// surface the reset hint.
func (c *Collector) Refresh(ctx context.Context, userID, postIDX string) (*models.Engagement, error) {
	if _, err := c.engagements.GetByPostIDX(ctx, userID, postIDX); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotPublished
		}
		return nil, err
	}

	tokens, err := c.tokens.PlaintextTokens(ctx, userID)
	if err != nil {
		return nil, err
	}

	snap, err := c.platform.GetTweetMetrics(ctx, tokens.AccessToken, postIDX)
	if err != nil {
		return nil, err
	}

	updated, err := c.engagements.AppendSnapshot(ctx, userID, postIDX, snap, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	c.logger.Debug("engagement refreshed", "post_id_x", postIDX, "likes", snap.Likes, "impressions", snap.Impressions)
	return updated, nil
}

// RefreshByLocalID resolves the client-generated post ID to its remote
// counterpart and refreshes that.
func (c *Collector) RefreshByLocalID(ctx context.Context, userID, postIDLocal string) (*models.Engagement, error) {
	row, err := c.engagements.GetByLocalID(ctx, userID, postIDLocal)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotPublished
		}
		return nil, err
	}
	return c.Refresh(ctx, userID, row.PostIDX)
}

// RefreshBatch refreshes several posts, collecting per-post outcomes instead
// of failing the whole batch. A rate limit aborts the remainder: every
// further call would hit the same window.
func (c *Collector) RefreshBatch(ctx context.Context, userID string, postIDXs []string) []models.RefreshOutcome {
	outcomes := make([]models.RefreshOutcome, 0, len(postIDXs))
	for i, postIDX := range postIDXs {
		_, err := c.Refresh(ctx, userID, postIDX)
		if err == nil {
			outcomes = append(outcomes, models.RefreshOutcome{PostIDX: postIDX, Success: true})
			continue
		}

		outcomes = append(outcomes, models.RefreshOutcome{PostIDX: postIDX, Success: false, Message: err.Error()})

		if _, limited := twitter.IsRateLimited(err); limited {
			for _, skipped := range postIDXs[i+1:] {
				outcomes = append(outcomes, models.RefreshOutcome{
					PostIDX: skipped,
					Success: false,
					Message: "skipped: rate limited",
				})
			}
			break
		}
	}
	return outcomes
}

// RefreshAll refreshes every engagement row the user owns.
func (c *Collector) RefreshAll(ctx context.Context, userID string) ([]models.RefreshOutcome, error) {
	rows, err := c.engagements.ListByUser(ctx, userID, 100, 0)
	if err != nil {
		return nil, err
	}

	postIDXs := make([]string, 0, len(rows))
	for _, row := range rows {
		postIDXs = append(postIDXs, row.PostIDX)
	}
	return c.RefreshBatch(ctx, userID, postIDXs), nil
}

// HandleCollectJob is the metrics-collector queue handler: it snapshots one
// post's counters and re-arms itself for the next hour. The chain stops when
// the post disappears or loses its remote ID.
func (c *Collector) HandleCollectJob(ctx context.Context, job queue.Job) error {
	post, err := c.posts.GetAnyByID(ctx, job.PostID)
	if errors.Is(err, database.ErrNotFound) {
		c.recorder.RecordQueueJob(queue.QueueMetricsCollector, "skipped")
		return nil
	}
	if err != nil {
		return err
	}
	if post.Status != models.PostStatusPublished || post.PostIDX == "" {
		c.recorder.RecordQueueJob(queue.QueueMetricsCollector, "skipped")
		return nil
	}

	if _, err := c.Refresh(ctx, post.UserID, post.PostIDX); err != nil {
		// Collection is best-effort; the next tick tries again.
		c.logger.Warn("scheduled metrics collection failed",
			"post_id", post.ID, "post_id_x", post.PostIDX, "error", err)
		c.recorder.RecordQueueJob(queue.QueueMetricsCollector, "error")
	} else {
		c.recorder.RecordQueueJob(queue.QueueMetricsCollector, "ok")
	}

	job.RunAt = time.Now().UTC().Add(collectInterval)
	if err := c.jobs.Enqueue(ctx, job); err != nil {
		return err
	}
	return nil
}
