package queue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vouse/vouse-server/internal/config"
)

const (
	// Queue names
	QueuePostPublish      = "post-publish"
	QueueMetricsCollector = "metrics-collector"
	QueuePushNotify       = "push-notify"
)

// Job is the durable record for one unit of delayed work. The ID doubles as
// the de-duplication key: enqueueing an ID already present replaces the
// prior entry, so a rescheduled post never fires twice.
type Job struct {
	ID          string    `json:"id"`
	Queue       string    `json:"queue"`
	UserID      string    `json:"userId"`
	PostID      string    `json:"postId,omitempty"`
	RunAt       time.Time `json:"runAt"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"maxAttempts"`
	LastError   string    `json:"lastError,omitempty"`
}

// Redis is a durable delayed-job broker on a Redis sorted set per queue:
// member = job ID, score = fire time in unix milliseconds, payloads in a
// companion hash. Delivery state survives process restarts.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis connects to the broker and verifies the connection.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 2,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{client: client}, nil
}

// Close releases the broker connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Health reports broker reachability.
func (r *Redis) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func zsetKey(queue string) string  { return "queue:" + queue }
func jobsKey(queue string) string  { return "queue:" + queue + ":jobs" }
func claimKey(queue string) string { return "queue:" + queue + ":claim:" }

// claimTTL bounds how long a claimed job is considered in-flight before the
// startup reconciler may recover its post.
const claimTTL = 60 * time.Second

// claimDueScript atomically pops due members with their payloads and marks
// each as claimed so concurrent workers never double-deliver.
var claimDueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local out = {}
for i, id in ipairs(due) do
	redis.call('ZREM', KEYS[1], id)
	local payload = redis.call('HGET', KEYS[2], id)
	redis.call('HDEL', KEYS[2], id)
	if payload then
		redis.call('SET', KEYS[3] .. id, '1', 'PX', ARGV[3])
		out[#out+1] = payload
	end
end
return out
`)

// Enqueue schedules a job at job.RunAt. Re-enqueueing an existing job ID
// overwrites both the fire time and the payload.
func (r *Redis) Enqueue(ctx context.Context, job Job) error {
	if job.Queue == "" || job.ID == "" {
		return fmt.Errorf("job queue and id are required")
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, zsetKey(job.Queue), redis.Z{
		Score:  float64(job.RunAt.UnixMilli()),
		Member: job.ID,
	})
	pipe.HSet(ctx, jobsKey(job.Queue), job.ID, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Cancel removes a pending job. Cancellation is best-effort: a job already
// claimed by a worker is not recalled, so handlers re-check state.
func (r *Redis) Cancel(ctx context.Context, queue, jobID string) error {
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, zsetKey(queue), jobID)
	pipe.HDel(ctx, jobsKey(queue), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	return nil
}

// ClaimDue pops up to limit jobs whose fire time has passed.
func (r *Redis) ClaimDue(ctx context.Context, queue string, limit int) ([]Job, error) {
	now := time.Now().UnixMilli()
	keys := []string{zsetKey(queue), jobsKey(queue), claimKey(queue)}
	raw, err := claimDueScript.Run(ctx, r.client, keys, now, limit, claimTTL.Milliseconds()).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}

	jobs := make([]Job, 0, len(raw))
	for _, payload := range raw {
		var job Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Release drops the claim marker once a job has been handled.
func (r *Redis) Release(ctx context.Context, queue, jobID string) error {
	return r.client.Del(ctx, claimKey(queue)+jobID).Err()
}

// IsClaimed reports whether a job is currently held by a worker. Used by
// crash recovery to skip posts whose publish is genuinely in flight.
func (r *Redis) IsClaimed(ctx context.Context, queue, jobID string) (bool, error) {
	n, err := r.client.Exists(ctx, claimKey(queue)+jobID).Result()
	if err != nil {
		return false, fmt.Errorf("check claim: %w", err)
	}
	return n > 0, nil
}

// Pending reports whether a job is still waiting on the queue.
func (r *Redis) Pending(ctx context.Context, queue, jobID string) (bool, error) {
	ok, err := r.client.HExists(ctx, jobsKey(queue), jobID).Result()
	if err != nil {
		return false, fmt.Errorf("check pending: %w", err)
	}
	return ok, nil
}

// Depth returns the number of pending jobs on a queue.
func (r *Redis) Depth(ctx context.Context, queue string) (int64, error) {
	return r.client.ZCard(ctx, zsetKey(queue)).Result()
}
