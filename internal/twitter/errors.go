package twitter

import (
	"errors"
	"fmt"
	"time"
)

// AuthExpiredError marks a rejected credential. The caller may refresh the
// token pair once and retry the same call.
type AuthExpiredError struct {
	Detail string
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("twitter auth expired: %s", e.Detail)
}

// RateLimitError carries the platform's reset hint so retries can wait
// until the window reopens instead of burning attempts.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("twitter rate limited until %s", e.ResetAt.Format(time.RFC3339))
}

// TransientError covers server-side failures and network faults that are
// worth retrying with backoff.
type TransientError struct {
	Detail string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("twitter transient failure: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("twitter transient failure: %s", e.Detail)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError covers client-side rejections that no retry can fix, such as
// malformed or duplicate content.
type FatalError struct {
	Status int
	Detail string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("twitter rejected request (status %d): %s", e.Status, e.Detail)
}

// IsAuthExpired reports whether err is a credential rejection.
func IsAuthExpired(err error) bool {
	var target *AuthExpiredError
	return errors.As(err, &target)
}

// IsRateLimited extracts the reset time from a rate-limit error.
func IsRateLimited(err error) (time.Time, bool) {
	var target *RateLimitError
	if errors.As(err, &target) {
		return target.ResetAt, true
	}
	return time.Time{}, false
}

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}
