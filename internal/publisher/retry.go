package publisher

import (
	"math"
	"math/rand"
	"time"

	"github.com/vouse/vouse-server/internal/config"
)

// RetryPolicy defines how failed publish attempts are rescheduled. Delays
// are served through the delayed queue rather than in-process sleeps, so a
// restart never loses a pending retry.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MinRetryDelay  time.Duration
	BackoffFactor  float64
	Jitter         bool
}

// DefaultRetryPolicy returns a sensible default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     5 * time.Minute,
		MinRetryDelay:  5 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

// PolicyFromConfig builds the retry policy from runtime configuration.
func PolicyFromConfig(cfg config.PublisherConfig) RetryPolicy {
	policy := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoff > 0 {
		policy.InitialBackoff = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		policy.MaxBackoff = cfg.MaxBackoff
	}
	if cfg.MinRetryDelay > 0 {
		policy.MinRetryDelay = cfg.MinRetryDelay
	}
	return policy
}

// Backoff computes the delay before the given attempt number (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	backoff := float64(p.InitialBackoff) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	duration := time.Duration(backoff)

	// Jitter prevents a thundering herd when many posts fail together.
	if p.Jitter {
		jitter := time.Duration(float64(duration) * 0.1 * (2*rand.Float64() - 1))
		duration += jitter
	}

	if duration < p.MinRetryDelay {
		duration = p.MinRetryDelay
	}
	return duration
}

// RateLimitDelay converts a platform reset hint into a wait, never shorter
// than the minimum retry delay.
func (p RetryPolicy) RateLimitDelay(resetAt, now time.Time) time.Duration {
	delay := resetAt.Sub(now)
	if delay < p.MinRetryDelay {
		delay = p.MinRetryDelay
	}
	return delay
}

// Exhausted reports whether the attempt counter has run out.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
