package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vouse/vouse-server/internal/database"
	"github.com/vouse/vouse-server/internal/models"
	"github.com/vouse/vouse-server/internal/notify"
	"github.com/vouse/vouse-server/internal/queue"
	"github.com/vouse/vouse-server/internal/twitter"
)

type fakePostStore struct {
	mu    sync.Mutex
	posts map[string]*models.Post
}

func newFakePostStore(posts ...*models.Post) *fakePostStore {
	store := &fakePostStore{posts: make(map[string]*models.Post)}
	for _, p := range posts {
		store.posts[p.ID] = p
	}
	return store
}

func (f *fakePostStore) Create(ctx context.Context, post *models.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.posts {
		if existing.UserID == post.UserID && existing.PostIDLocal == post.PostIDLocal {
			return database.ErrDuplicate
		}
	}
	copied := *post
	f.posts[post.ID] = &copied
	return nil
}

func (f *fakePostStore) get(id string) (*models.Post, error) {
	post, ok := f.posts[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *post
	return &copied, nil
}

func (f *fakePostStore) GetByID(ctx context.Context, userID, id string) (*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	post, err := f.get(id)
	if err != nil {
		return nil, err
	}
	if post.UserID != userID {
		return nil, database.ErrNotFound
	}
	return post, nil
}

func (f *fakePostStore) GetAnyByID(ctx context.Context, id string) (*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.get(id)
}

func (f *fakePostStore) GetByLocalID(ctx context.Context, userID, postIDLocal string) (*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, post := range f.posts {
		if post.UserID == userID && post.PostIDLocal == postIDLocal {
			copied := *post
			return &copied, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakePostStore) ListByUser(ctx context.Context, userID string) ([]*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Post
	for _, post := range f.posts {
		if post.UserID == userID {
			copied := *post
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakePostStore) ListByStatus(ctx context.Context, status models.PostStatus) ([]*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Post
	for _, post := range f.posts {
		if post.Status == status {
			copied := *post
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakePostStore) Update(ctx context.Context, post *models.Post, expectStatus models.PostStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.posts[post.ID]
	if !ok || existing.Status != expectStatus {
		return database.ErrConflict
	}
	copied := *post
	f.posts[post.ID] = &copied
	return nil
}

func (f *fakePostStore) TransitionStatus(ctx context.Context, id string, from, to models.PostStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	post, ok := f.posts[id]
	if !ok || post.Status != from {
		return database.ErrConflict
	}
	post.Status = to
	return nil
}

func (f *fakePostStore) MarkPublished(ctx context.Context, id, postIDX string, publishedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	post, ok := f.posts[id]
	if !ok || post.Status != models.PostStatusPublishing {
		return database.ErrConflict
	}
	post.Status = models.PostStatusPublished
	post.PostIDX = postIDX
	post.PublishedAt = &publishedAt
	post.FailureReason = ""
	return nil
}

func (f *fakePostStore) MarkFailed(ctx context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	post, ok := f.posts[id]
	if !ok || post.Status != models.PostStatusPublishing {
		return database.ErrConflict
	}
	post.Status = models.PostStatusFailed
	post.FailureReason = reason
	return nil
}

func (f *fakePostStore) Reschedule(ctx context.Context, id string, from models.PostStatus, runAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	post, ok := f.posts[id]
	if !ok || post.Status != from {
		return database.ErrConflict
	}
	post.Status = models.PostStatusScheduled
	post.ScheduledAt = &runAt
	return nil
}

func (f *fakePostStore) Delete(ctx context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	post, ok := f.posts[id]
	if !ok || post.UserID != userID {
		return database.ErrNotFound
	}
	if post.Status == models.PostStatusPublishing {
		return database.ErrConflict
	}
	delete(f.posts, id)
	return nil
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []queue.Job
	canceled []string
	claimed  map[string]bool
	pending  map[string]bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{claimed: make(map[string]bool), pending: make(map[string]bool)}
}

func (f *fakeQueue) Enqueue(ctx context.Context, job queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, job)
	f.pending[job.Queue+"/"+job.ID] = true
	return nil
}

func (f *fakeQueue) Cancel(ctx context.Context, queueName, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, queueName+"/"+jobID)
	delete(f.pending, queueName+"/"+jobID)
	return nil
}

func (f *fakeQueue) IsClaimed(ctx context.Context, queueName, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claimed[queueName+"/"+jobID], nil
}

func (f *fakeQueue) Pending(ctx context.Context, queueName, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[queueName+"/"+jobID], nil
}

func (f *fakeQueue) jobsFor(queueName string) []queue.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []queue.Job
	for _, job := range f.enqueued {
		if job.Queue == queueName {
			out = append(out, job)
		}
	}
	return out
}

type fakeTokenSource struct {
	mu           sync.Mutex
	tokens       map[string]*models.TwitterTokens
	stored       []*models.TwitterTokens
	disconnected []string
	err          error
}

func (f *fakeTokenSource) PlaintextTokens(ctx context.Context, userID string) (*models.TwitterTokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	tokens, ok := f.tokens[userID]
	if !ok {
		return nil, errors.New("no tokens")
	}
	copied := *tokens
	return &copied, nil
}

func (f *fakeTokenSource) StoreRefreshedTokens(ctx context.Context, userID string, tokens *models.TwitterTokens) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *tokens
	f.stored = append(f.stored, &copied)
	return nil
}

func (f *fakeTokenSource) DisconnectTwitter(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, userID)
	delete(f.tokens, userID)
	return nil
}

type fakePlatform struct {
	mu sync.Mutex

	tweetID   string
	tweetErrs []error
	tweeted   []string
	mediaIDs  []string
	uploadErr error

	refreshed     *models.TwitterTokens
	refreshErr    error
	refreshCalls  int
	acceptedToken string
}

func (f *fakePlatform) UploadMedia(ctx context.Context, accessToken string, image []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	id := fmt.Sprintf("media-%d", len(f.mediaIDs)+1)
	f.mediaIDs = append(f.mediaIDs, id)
	return id, nil
}

func (f *fakePlatform) CreateTweet(ctx context.Context, accessToken, text string, mediaIDs []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tweetErrs) > 0 {
		err := f.tweetErrs[0]
		f.tweetErrs = f.tweetErrs[1:]
		if err != nil {
			return "", err
		}
	}
	if f.acceptedToken != "" && accessToken != f.acceptedToken {
		return "", &twitter.AuthExpiredError{Detail: "bad token"}
	}
	f.tweeted = append(f.tweeted, text)
	if f.tweetID == "" {
		return "tweet-1", nil
	}
	return f.tweetID, nil
}

func (f *fakePlatform) RefreshTokens(ctx context.Context, refreshToken string) (*models.TwitterTokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if f.refreshed == nil {
		return nil, errors.New("no refresh configured")
	}
	copied := *f.refreshed
	return &copied, nil
}

type fakeFetcher struct {
	err   error
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, imageURL string) ([]byte, error) {
	f.calls = append(f.calls, imageURL)
	if f.err != nil {
		return nil, f.err
	}
	return []byte{0x01}, nil
}

type fakeEngagements struct {
	mu      sync.Mutex
	created []*models.Engagement
}

func (f *fakeEngagements) Create(ctx context.Context, e *models.Engagement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *e
	f.created = append(f.created, &copied)
	return nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (f *fakeRecorder) RecordPublishAttempt(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakeRecorder) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.outcomes) == 0 {
		return ""
	}
	return f.outcomes[len(f.outcomes)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scheduledPost(imageURLs ...string) *models.Post {
	at := time.Now().Add(-time.Second)
	return &models.Post{
		ID:             "post-1",
		PostIDLocal:    "local-1",
		UserID:         "user-1",
		Content:        "hello world",
		CloudImageURLs: imageURLs,
		ScheduledAt:    &at,
		Status:         models.PostStatusScheduled,
	}
}

func publishJob() queue.Job {
	return queue.Job{
		ID:          "post-1",
		Queue:       queue.QueuePostPublish,
		UserID:      "user-1",
		PostID:      "post-1",
		Attempt:     1,
		MaxAttempts: 5,
	}
}

type workerFixture struct {
	worker      *Worker
	posts       *fakePostStore
	tokens      *fakeTokenSource
	platform    *fakePlatform
	fetcher     *fakeFetcher
	engagements *fakeEngagements
	jobs        *fakeQueue
	recorder    *fakeRecorder
}

func newWorkerFixture(post *models.Post) *workerFixture {
	f := &workerFixture{
		posts: newFakePostStore(post),
		tokens: &fakeTokenSource{tokens: map[string]*models.TwitterTokens{
			"user-1": {AccessToken: "access-1", RefreshToken: "refresh-1"},
		}},
		platform:    &fakePlatform{},
		fetcher:     &fakeFetcher{},
		engagements: &fakeEngagements{},
		jobs:        newFakeQueue(),
		recorder:    &fakeRecorder{},
	}
	policy := DefaultRetryPolicy()
	policy.Jitter = false
	f.worker = NewWorker(f.posts, f.tokens, f.platform, f.fetcher, f.engagements, f.jobs, f.recorder, policy, discardLogger())
	return f
}

func TestPublishHappyPathWithMedia(t *testing.T) {
	f := newWorkerFixture(scheduledPost("https://img/1.jpg", "https://img/2.jpg"))

	if err := f.worker.HandlePublishJob(context.Background(), publishJob()); err != nil {
		t.Fatalf("HandlePublishJob failed: %v", err)
	}

	post, _ := f.posts.GetAnyByID(context.Background(), "post-1")
	if post.Status != models.PostStatusPublished {
		t.Fatalf("expected published, got %s (reason %q)", post.Status, post.FailureReason)
	}
	if post.PostIDX != "tweet-1" {
		t.Errorf("expected tweet id recorded, got %q", post.PostIDX)
	}
	if post.PublishedAt == nil {
		t.Error("expected publishedAt set")
	}

	if len(f.fetcher.calls) != 2 || f.fetcher.calls[0] != "https://img/1.jpg" {
		t.Errorf("expected ordered image fetches, got %v", f.fetcher.calls)
	}
	if len(f.engagements.created) != 1 || f.engagements.created[0].PostIDX != "tweet-1" {
		t.Errorf("expected engagement row for tweet-1, got %+v", f.engagements.created)
	}
	if len(f.jobs.jobsFor(queue.QueueMetricsCollector)) != 1 {
		t.Error("expected metrics collection job enqueued")
	}
	if len(f.jobs.jobsFor(queue.QueuePushNotify)) != 1 {
		t.Error("expected push notification job enqueued")
	}
	if f.recorder.last() != "published" {
		t.Errorf("expected published outcome, got %s", f.recorder.last())
	}
}

func TestPublishSkipsNonScheduledPost(t *testing.T) {
	post := scheduledPost()
	post.Status = models.PostStatusDraft
	f := newWorkerFixture(post)

	if err := f.worker.HandlePublishJob(context.Background(), publishJob()); err != nil {
		t.Fatalf("HandlePublishJob failed: %v", err)
	}

	if len(f.platform.tweeted) != 0 {
		t.Error("draft post must not be tweeted")
	}
	if f.recorder.last() != "skipped" {
		t.Errorf("expected skipped outcome, got %s", f.recorder.last())
	}
}

func TestPublishSkipsDeletedPost(t *testing.T) {
	f := newWorkerFixture(scheduledPost())
	job := publishJob()
	job.PostID = "gone"
	job.ID = "gone"

	if err := f.worker.HandlePublishJob(context.Background(), job); err != nil {
		t.Fatalf("HandlePublishJob failed: %v", err)
	}
	if f.recorder.last() != "skipped" {
		t.Errorf("expected skipped outcome, got %s", f.recorder.last())
	}
}

func TestPublishRateLimitedKeepsAttempt(t *testing.T) {
	f := newWorkerFixture(scheduledPost())
	resetAt := time.Now().Add(10 * time.Minute)
	f.platform.tweetErrs = []error{&twitter.RateLimitError{ResetAt: resetAt}}

	if err := f.worker.HandlePublishJob(context.Background(), publishJob()); err != nil {
		t.Fatalf("HandlePublishJob failed: %v", err)
	}

	post, _ := f.posts.GetAnyByID(context.Background(), "post-1")
	if post.Status != models.PostStatusScheduled {
		t.Fatalf("expected rescheduled, got %s", post.Status)
	}

	requeued := f.jobs.jobsFor(queue.QueuePostPublish)
	if len(requeued) != 1 {
		t.Fatalf("expected 1 requeued job, got %d", len(requeued))
	}
	if requeued[0].Attempt != 1 {
		t.Errorf("rate limit must not consume an attempt, got attempt %d", requeued[0].Attempt)
	}
	if requeued[0].RunAt.Before(resetAt.Add(-time.Second)) {
		t.Errorf("retry should wait for the reset window, got %v", requeued[0].RunAt)
	}
	if f.recorder.last() != "rate_limited" {
		t.Errorf("expected rate_limited outcome, got %s", f.recorder.last())
	}
}

func TestPublishTransientRetriesWithBackoff(t *testing.T) {
	f := newWorkerFixture(scheduledPost())
	f.platform.tweetErrs = []error{&twitter.TransientError{Detail: "status 503"}}

	if err := f.worker.HandlePublishJob(context.Background(), publishJob()); err != nil {
		t.Fatalf("HandlePublishJob failed: %v", err)
	}

	post, _ := f.posts.GetAnyByID(context.Background(), "post-1")
	if post.Status != models.PostStatusScheduled {
		t.Fatalf("expected rescheduled, got %s", post.Status)
	}

	requeued := f.jobs.jobsFor(queue.QueuePostPublish)
	if len(requeued) != 1 || requeued[0].Attempt != 2 {
		t.Fatalf("expected attempt 2 requeued, got %+v", requeued)
	}
	if requeued[0].LastError == "" {
		t.Error("expected last error recorded on job")
	}
}

func TestPublishExhaustedAttemptsFails(t *testing.T) {
	f := newWorkerFixture(scheduledPost())
	f.platform.tweetErrs = []error{&twitter.TransientError{Detail: "status 500"}}

	job := publishJob()
	job.Attempt = 5

	if err := f.worker.HandlePublishJob(context.Background(), job); err != nil {
		t.Fatalf("HandlePublishJob failed: %v", err)
	}

	post, _ := f.posts.GetAnyByID(context.Background(), "post-1")
	if post.Status != models.PostStatusFailed {
		t.Fatalf("expected failed, got %s", post.Status)
	}
	if post.FailureReason == "" {
		t.Error("expected failure reason recorded")
	}
	if len(f.jobs.jobsFor(queue.QueuePostPublish)) != 0 {
		t.Error("exhausted post must not be requeued")
	}
}

func TestPublishFatalErrorFailsImmediately(t *testing.T) {
	f := newWorkerFixture(scheduledPost())
	f.platform.tweetErrs = []error{&twitter.FatalError{Status: 403, Detail: "duplicate content"}}

	if err := f.worker.HandlePublishJob(context.Background(), publishJob()); err != nil {
		t.Fatalf("HandlePublishJob failed: %v", err)
	}

	post, _ := f.posts.GetAnyByID(context.Background(), "post-1")
	if post.Status != models.PostStatusFailed {
		t.Fatalf("expected failed, got %s", post.Status)
	}
	if len(f.jobs.jobsFor(queue.QueuePostPublish)) != 0 {
		t.Error("fatal error must not be requeued")
	}
}

func TestPublishInlineTokenRefreshOnExpiredAuth(t *testing.T) {
	f := newWorkerFixture(scheduledPost())
	f.platform.acceptedToken = "access-2"
	f.platform.refreshed = &models.TwitterTokens{AccessToken: "access-2", RefreshToken: "refresh-2"}

	if err := f.worker.HandlePublishJob(context.Background(), publishJob()); err != nil {
		t.Fatalf("HandlePublishJob failed: %v", err)
	}

	post, _ := f.posts.GetAnyByID(context.Background(), "post-1")
	if post.Status != models.PostStatusPublished {
		t.Fatalf("expected published after inline refresh, got %s (%s)", post.Status, post.FailureReason)
	}
	if f.platform.refreshCalls != 1 {
		t.Errorf("expected exactly one refresh, got %d", f.platform.refreshCalls)
	}
	if len(f.tokens.stored) != 1 || f.tokens.stored[0].AccessToken != "access-2" {
		t.Errorf("expected refreshed tokens persisted, got %+v", f.tokens.stored)
	}
}

func TestPublishDeadGrantFails(t *testing.T) {
	f := newWorkerFixture(scheduledPost())
	f.platform.acceptedToken = "never-valid"
	f.platform.refreshErr = &twitter.AuthExpiredError{Detail: "invalid_grant"}

	if err := f.worker.HandlePublishJob(context.Background(), publishJob()); err != nil {
		t.Fatalf("HandlePublishJob failed: %v", err)
	}

	post, _ := f.posts.GetAnyByID(context.Background(), "post-1")
	if post.Status != models.PostStatusFailed {
		t.Fatalf("expected failed for dead grant, got %s", post.Status)
	}
	if post.FailureReason != "token refresh failed" {
		t.Errorf("expected token refresh failure reason, got %q", post.FailureReason)
	}
	if len(f.tokens.disconnected) != 1 || f.tokens.disconnected[0] != "user-1" {
		t.Errorf("dead grant must disconnect the user, got %v", f.tokens.disconnected)
	}
}

func TestPublishRejectedProactiveRefreshDisconnects(t *testing.T) {
	f := newWorkerFixture(scheduledPost())
	soon := time.Now().Add(10 * time.Second)
	f.tokens.tokens["user-1"].ExpiresAt = &soon
	f.platform.refreshErr = &twitter.AuthExpiredError{Detail: "invalid_grant"}

	if err := f.worker.HandlePublishJob(context.Background(), publishJob()); err != nil {
		t.Fatalf("HandlePublishJob failed: %v", err)
	}

	post, _ := f.posts.GetAnyByID(context.Background(), "post-1")
	if post.Status != models.PostStatusFailed {
		t.Fatalf("expected failed, got %s", post.Status)
	}
	if post.FailureReason != "token refresh failed" {
		t.Errorf("expected token refresh failure reason, got %q", post.FailureReason)
	}
	if len(f.tokens.disconnected) != 1 || f.tokens.disconnected[0] != "user-1" {
		t.Errorf("rejected grant must disconnect the user, got %v", f.tokens.disconnected)
	}
	if len(f.platform.tweeted) != 0 {
		t.Error("post must not be tweeted after a rejected refresh")
	}
	if len(f.jobs.jobsFor(queue.QueuePostPublish)) != 0 {
		t.Error("rejected grant must not be retried")
	}
}

func TestPublishTransientRefreshFaultRetries(t *testing.T) {
	f := newWorkerFixture(scheduledPost())
	soon := time.Now().Add(10 * time.Second)
	f.tokens.tokens["user-1"].ExpiresAt = &soon
	f.platform.refreshErr = &twitter.TransientError{Detail: "status 503"}

	if err := f.worker.HandlePublishJob(context.Background(), publishJob()); err != nil {
		t.Fatalf("HandlePublishJob failed: %v", err)
	}

	post, _ := f.posts.GetAnyByID(context.Background(), "post-1")
	if post.Status != models.PostStatusScheduled {
		t.Fatalf("transient refresh fault should retry, got %s", post.Status)
	}
	if len(f.tokens.disconnected) != 0 {
		t.Errorf("transient refresh fault must not disconnect, got %v", f.tokens.disconnected)
	}
}

func TestPublishUnfetchableImageFailsImmediately(t *testing.T) {
	f := newWorkerFixture(scheduledPost("https://img/1.jpg"))
	f.fetcher.err = errors.New("storage returned 404")

	if err := f.worker.HandlePublishJob(context.Background(), publishJob()); err != nil {
		t.Fatalf("HandlePublishJob failed: %v", err)
	}

	post, _ := f.posts.GetAnyByID(context.Background(), "post-1")
	if post.Status != models.PostStatusFailed {
		t.Fatalf("expected failed, got %s", post.Status)
	}
	if post.FailureReason != "image unavailable" {
		t.Errorf("expected image unavailable reason, got %q", post.FailureReason)
	}
	if len(f.jobs.jobsFor(queue.QueuePostPublish)) != 0 {
		t.Error("missing image must not be retried")
	}
	if f.recorder.last() != "failed" {
		t.Errorf("expected failed outcome, got %s", f.recorder.last())
	}
}

func TestPublishProactiveRefreshNearExpiry(t *testing.T) {
	f := newWorkerFixture(scheduledPost())
	soon := time.Now().Add(10 * time.Second)
	f.tokens.tokens["user-1"].ExpiresAt = &soon
	f.platform.refreshed = &models.TwitterTokens{AccessToken: "access-2", RefreshToken: "refresh-2"}

	if err := f.worker.HandlePublishJob(context.Background(), publishJob()); err != nil {
		t.Fatalf("HandlePublishJob failed: %v", err)
	}

	if f.platform.refreshCalls != 1 {
		t.Errorf("expected proactive refresh, got %d calls", f.platform.refreshCalls)
	}
	post, _ := f.posts.GetAnyByID(context.Background(), "post-1")
	if post.Status != models.PostStatusPublished {
		t.Fatalf("expected published, got %s", post.Status)
	}
}

func TestPublishDisconnectedAccountFails(t *testing.T) {
	f := newWorkerFixture(scheduledPost())
	f.tokens.err = errors.New("user has no connected account")

	if err := f.worker.HandlePublishJob(context.Background(), publishJob()); err != nil {
		t.Fatalf("HandlePublishJob failed: %v", err)
	}

	post, _ := f.posts.GetAnyByID(context.Background(), "post-1")
	if post.Status != models.PostStatusFailed {
		t.Fatalf("expected failed, got %s", post.Status)
	}
	if f.recorder.last() != "failed" {
		t.Errorf("expected failed outcome, got %s", f.recorder.last())
	}
}

func TestReconcilerRecoversStuckPublishing(t *testing.T) {
	post := scheduledPost()
	post.Status = models.PostStatusPublishing
	posts := newFakePostStore(post)
	jobs := newFakeQueue()

	policy := DefaultRetryPolicy()
	policy.Jitter = false
	r := NewReconciler(posts, jobs, policy, discardLogger())

	if err := r.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	recovered, _ := posts.GetAnyByID(context.Background(), "post-1")
	if recovered.Status != models.PostStatusScheduled {
		t.Fatalf("expected stuck post rescheduled, got %s", recovered.Status)
	}
	if len(jobs.jobsFor(queue.QueuePostPublish)) != 1 {
		t.Error("expected recovered post re-enqueued")
	}
}

func TestReconcilerLeavesClaimedPostsAlone(t *testing.T) {
	post := scheduledPost()
	post.Status = models.PostStatusPublishing
	posts := newFakePostStore(post)
	jobs := newFakeQueue()
	jobs.claimed[queue.QueuePostPublish+"/post-1"] = true

	r := NewReconciler(posts, jobs, DefaultRetryPolicy(), discardLogger())
	if err := r.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	untouched, _ := posts.GetAnyByID(context.Background(), "post-1")
	if untouched.Status != models.PostStatusPublishing {
		t.Fatalf("claimed post must stay publishing, got %s", untouched.Status)
	}
}

func TestReconcilerRestoresMissingJobs(t *testing.T) {
	post := scheduledPost()
	posts := newFakePostStore(post)
	jobs := newFakeQueue()

	r := NewReconciler(posts, jobs, DefaultRetryPolicy(), discardLogger())
	if err := r.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	restored := jobs.jobsFor(queue.QueuePostPublish)
	if len(restored) != 1 {
		t.Fatalf("expected 1 restored job, got %d", len(restored))
	}
}

func TestReconcilerKeepsPendingJobs(t *testing.T) {
	post := scheduledPost()
	posts := newFakePostStore(post)
	jobs := newFakeQueue()
	jobs.pending[queue.QueuePostPublish+"/post-1"] = true

	r := NewReconciler(posts, jobs, DefaultRetryPolicy(), discardLogger())
	if err := r.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if len(jobs.enqueued) != 0 {
		t.Errorf("pending job must not be replaced, got %d enqueues", len(jobs.enqueued))
	}
}

type fakePush struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (f *fakePush) Send(ctx context.Context, userID string, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func TestPushHandlerSendsForPublishedPost(t *testing.T) {
	post := scheduledPost()
	post.Status = models.PostStatusPublished
	post.PostIDX = "tweet-1"
	posts := newFakePostStore(post)
	push := &fakePush{}

	handler := NewPushHandler(posts, push)
	if err := handler(context.Background(), publishJob()); err != nil {
		t.Fatalf("push handler failed: %v", err)
	}

	if len(push.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(push.sent))
	}
	if push.sent[0].Data["postIdX"] != "tweet-1" {
		t.Errorf("expected tweet id in payload, got %+v", push.sent[0].Data)
	}
}

func TestPushHandlerSkipsUnpublishedPost(t *testing.T) {
	posts := newFakePostStore(scheduledPost())
	push := &fakePush{}

	handler := NewPushHandler(posts, push)
	if err := handler(context.Background(), publishJob()); err != nil {
		t.Fatalf("push handler failed: %v", err)
	}
	if len(push.sent) != 0 {
		t.Errorf("unpublished post must not notify, got %d", len(push.sent))
	}
}
