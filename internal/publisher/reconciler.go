package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vouse/vouse-server/internal/models"
	"github.com/vouse/vouse-server/internal/queue"
)

// reconcileInterval is how often the sweep re-checks for stranded posts.
const reconcileInterval = 5 * time.Minute

// Reconciler repairs the queue/database pairing after crashes: posts stuck
// in publishing with no live claim go back to scheduled, and scheduled posts
// whose jobs were lost get re-enqueued.
type Reconciler struct {
	posts  workerPostStore
	jobs   workerQueue
	policy RetryPolicy
	logger *slog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReconciler creates a new reconciler.
func NewReconciler(posts workerPostStore, jobs workerQueue, policy RetryPolicy, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		posts:    posts,
		jobs:     jobs,
		policy:   policy,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start runs one immediate pass, then sweeps on a fixed interval.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		if err := r.Reconcile(ctx); err != nil {
			r.logger.Error("startup reconciliation failed", "error", err)
		}

		ticker := time.NewTicker(reconcileInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stopChan:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Reconcile(ctx); err != nil {
					r.logger.Error("reconciliation sweep failed", "error", err)
				}
			}
		}
	}()

	r.logger.Info("publish reconciler started", "interval", reconcileInterval)
}

// Stop halts the sweep loop.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
	r.logger.Info("publish reconciler stopped")
}

// Reconcile runs one repair pass.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	if err := r.recoverStuckPublishing(ctx); err != nil {
		return err
	}
	return r.restoreMissingJobs(ctx)
}

// recoverStuckPublishing returns crash-orphaned posts to scheduled. A post
// whose claim marker is still alive belongs to a running worker and is left
// alone; the marker's TTL bounds how long that benefit of the doubt lasts.
func (r *Reconciler) recoverStuckPublishing(ctx context.Context) error {
	stuck, err := r.posts.ListByStatus(ctx, models.PostStatusPublishing)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	recovered := 0
	for _, post := range stuck {
		claimed, err := r.jobs.IsClaimed(ctx, queue.QueuePostPublish, post.ID)
		if err != nil {
			return err
		}
		if claimed {
			continue
		}

		if err := r.posts.Reschedule(ctx, post.ID, models.PostStatusPublishing, now); err != nil {
			r.logger.Warn("failed to recover stuck post", "post_id", post.ID, "error", err)
			continue
		}

		if err := r.jobs.Enqueue(ctx, queue.Job{
			ID:          post.ID,
			Queue:       queue.QueuePostPublish,
			UserID:      post.UserID,
			PostID:      post.ID,
			RunAt:       now,
			Attempt:     1,
			MaxAttempts: r.policy.MaxAttempts,
		}); err != nil {
			r.logger.Warn("failed to re-enqueue recovered post", "post_id", post.ID, "error", err)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		r.logger.Info("recovered stuck publishing posts", "count", recovered)
	}
	return nil
}

// restoreMissingJobs re-enqueues scheduled posts that have no pending job,
// which happens when the broker loses state independently of the database.
// Posts with a pending job keep it, preserving their retry attempt counter.
func (r *Reconciler) restoreMissingJobs(ctx context.Context) error {
	scheduled, err := r.posts.ListByStatus(ctx, models.PostStatusScheduled)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	restored := 0
	for _, post := range scheduled {
		pending, err := r.jobs.Pending(ctx, queue.QueuePostPublish, post.ID)
		if err != nil {
			return err
		}
		if pending {
			continue
		}
		claimed, err := r.jobs.IsClaimed(ctx, queue.QueuePostPublish, post.ID)
		if err != nil {
			return err
		}
		if claimed {
			continue
		}

		runAt := now
		if post.ScheduledAt != nil && post.ScheduledAt.After(now) {
			runAt = *post.ScheduledAt
		}

		if err := r.jobs.Enqueue(ctx, queue.Job{
			ID:          post.ID,
			Queue:       queue.QueuePostPublish,
			UserID:      post.UserID,
			PostID:      post.ID,
			RunAt:       runAt,
			Attempt:     1,
			MaxAttempts: r.policy.MaxAttempts,
		}); err != nil {
			r.logger.Warn("failed to restore publish job", "post_id", post.ID, "error", err)
			continue
		}
		restored++
	}

	if restored > 0 {
		r.logger.Info("restored missing publish jobs", "count", restored)
	}
	return nil
}
