package publisher

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/vouse/vouse-server/internal/database"
	"github.com/vouse/vouse-server/internal/models"
	"github.com/vouse/vouse-server/internal/queue"
)

func newServiceFixture(posts ...*models.Post) (*Service, *fakePostStore, *fakeQueue) {
	store := newFakePostStore(posts...)
	jobs := newFakeQueue()
	policy := DefaultRetryPolicy()
	policy.Jitter = false
	return NewService(store, jobs, policy, discardLogger()), store, jobs
}

func TestCreateDraftDoesNotEnqueue(t *testing.T) {
	svc, _, jobs := newServiceFixture()

	post, err := svc.Create(context.Background(), "user-1", models.CreatePostRequest{
		PostIDLocal: "local-1",
		Content:     "a draft",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if post.Status != models.PostStatusDraft {
		t.Errorf("expected draft, got %s", post.Status)
	}
	if len(jobs.enqueued) != 0 {
		t.Errorf("draft must not enqueue a job, got %d", len(jobs.enqueued))
	}
}

func TestCreateScheduledEnqueuesPublishJob(t *testing.T) {
	svc, _, jobs := newServiceFixture()
	at := time.Now().Add(time.Hour)

	post, err := svc.Create(context.Background(), "user-1", models.CreatePostRequest{
		PostIDLocal: "local-1",
		Content:     "scheduled",
		ScheduledAt: &at,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if post.Status != models.PostStatusScheduled {
		t.Errorf("expected scheduled, got %s", post.Status)
	}

	enqueued := jobs.jobsFor(queue.QueuePostPublish)
	if len(enqueued) != 1 {
		t.Fatalf("expected 1 publish job, got %d", len(enqueued))
	}
	if !enqueued[0].RunAt.Equal(at) {
		t.Errorf("job should fire at scheduledAt, got %v", enqueued[0].RunAt)
	}
	if enqueued[0].ID != post.ID {
		t.Errorf("job id should be the post id for de-duplication, got %s", enqueued[0].ID)
	}
}

func TestCreateIsIdempotentOnLocalID(t *testing.T) {
	svc, _, _ := newServiceFixture()
	ctx := context.Background()

	first, err := svc.Create(ctx, "user-1", models.CreatePostRequest{PostIDLocal: "local-1", Content: "once"})
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	second, err := svc.Create(ctx, "user-1", models.CreatePostRequest{PostIDLocal: "local-1", Content: "twice"})
	if err != nil {
		t.Fatalf("replayed create failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("replay should return the existing post, got %s and %s", first.ID, second.ID)
	}
	if second.Content != "once" {
		t.Errorf("replay must not overwrite content, got %q", second.Content)
	}
}

func TestCreateRejectsPastSchedule(t *testing.T) {
	svc, _, _ := newServiceFixture()
	past := time.Now().Add(-time.Minute)

	_, err := svc.Create(context.Background(), "user-1", models.CreatePostRequest{
		PostIDLocal: "local-1",
		Content:     "late",
		ScheduledAt: &past,
	})
	if err == nil {
		t.Fatal("expected validation error for past scheduledAt")
	}
}

func TestUpdateRescheduleReplacesJob(t *testing.T) {
	at := time.Now().Add(time.Hour)
	post := scheduledPost()
	post.ScheduledAt = &at
	svc, _, jobs := newServiceFixture(post)

	later := time.Now().Add(2 * time.Hour)
	updated, err := svc.Update(context.Background(), "user-1", "post-1", models.UpdatePostRequest{
		ScheduledAt: &later,
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Status != models.PostStatusScheduled {
		t.Errorf("expected scheduled, got %s", updated.Status)
	}

	enqueued := jobs.jobsFor(queue.QueuePostPublish)
	if len(enqueued) != 1 || !enqueued[0].RunAt.Equal(later) {
		t.Errorf("expected job at new fire time, got %+v", enqueued)
	}
}

func TestUpdateClearScheduleCancelsJob(t *testing.T) {
	at := time.Now().Add(time.Hour)
	post := scheduledPost()
	post.ScheduledAt = &at
	svc, _, jobs := newServiceFixture(post)

	updated, err := svc.Update(context.Background(), "user-1", "post-1", models.UpdatePostRequest{
		ClearScheduledAt: true,
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Status != models.PostStatusDraft {
		t.Errorf("expected draft, got %s", updated.Status)
	}
	if updated.ScheduledAt != nil {
		t.Error("expected scheduledAt cleared")
	}
	if len(jobs.canceled) != 1 {
		t.Errorf("expected pending job canceled, got %v", jobs.canceled)
	}
}

func TestUpdateRejectsMidPublish(t *testing.T) {
	post := scheduledPost()
	post.Status = models.PostStatusPublishing
	svc, _, _ := newServiceFixture(post)

	content := "edited"
	_, err := svc.Update(context.Background(), "user-1", "post-1", models.UpdatePostRequest{Content: &content})
	if !errors.Is(err, database.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUpdateFailedPostReschedules(t *testing.T) {
	post := scheduledPost()
	post.Status = models.PostStatusFailed
	post.FailureReason = "gave up"
	svc, _, jobs := newServiceFixture(post)

	at := time.Now().Add(time.Hour)
	updated, err := svc.Update(context.Background(), "user-1", "post-1", models.UpdatePostRequest{ScheduledAt: &at})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Status != models.PostStatusScheduled {
		t.Errorf("expected failed post rescheduled, got %s", updated.Status)
	}
	if updated.FailureReason != "" {
		t.Error("expected failure reason cleared on reschedule")
	}
	if len(jobs.jobsFor(queue.QueuePostPublish)) != 1 {
		t.Error("expected publish job enqueued")
	}
}

func TestDeleteCancelsPendingJob(t *testing.T) {
	svc, store, jobs := newServiceFixture(scheduledPost())

	if err := svc.Delete(context.Background(), "user-1", "post-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.GetAnyByID(context.Background(), "post-1"); !errors.Is(err, database.ErrNotFound) {
		t.Error("expected post removed")
	}
	if len(jobs.canceled) != 1 {
		t.Errorf("expected publish job canceled, got %v", jobs.canceled)
	}
}

func TestDeleteMidPublishConflicts(t *testing.T) {
	post := scheduledPost()
	post.Status = models.PostStatusPublishing
	svc, _, jobs := newServiceFixture(post)

	err := svc.Delete(context.Background(), "user-1", "post-1")
	if !errors.Is(err, database.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if len(jobs.canceled) != 0 {
		t.Error("conflicted delete must not cancel the job")
	}
}

func TestDeleteUnknownPost(t *testing.T) {
	svc, _, _ := newServiceFixture()
	if err := svc.Delete(context.Background(), "user-1", "nope"); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetScopedToOwner(t *testing.T) {
	svc, _, _ := newServiceFixture(scheduledPost())

	if _, err := svc.Get(context.Background(), "someone-else", "post-1"); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
	if _, err := svc.Get(context.Background(), "user-1", "post-1"); err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}
}

func TestGetForeignPostIsAudited(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	store := newFakePostStore(scheduledPost())
	policy := DefaultRetryPolicy()
	policy.Jitter = false
	svc := NewService(store, newFakeQueue(), policy, logger)

	if _, err := svc.Get(context.Background(), "someone-else", "post-1"); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(buf.String(), "ownership mismatch") {
		t.Errorf("expected audit log entry, got %q", buf.String())
	}

	buf.Reset()
	if _, err := svc.Get(context.Background(), "user-1", "missing"); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if strings.Contains(buf.String(), "ownership mismatch") {
		t.Error("absent post must not be audited as a mismatch")
	}
}
