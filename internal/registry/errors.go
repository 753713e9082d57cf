package registry

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means the record id no longer exists in the registry.
	ErrNotFound = errors.New("record not found")
	// ErrRateLimited means the registry asked us to back off.
	ErrRateLimited = errors.New("registry rate limited")
)

// RateLimitError carries the server-suggested wait from a 429 response.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("registry rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// DelayHint satisfies retry.DelayHinter so the backoff loop honors
// Retry-After.
func (e *RateLimitError) DelayHint() time.Duration {
	return e.RetryAfter
}

// StatusError is any non-2xx response that is not a 404 or 429.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry returned status %d", e.Code)
}

// Retryable reports whether an error is worth another attempt: rate
// limits and server-side failures are, client-side mistakes are not.
func Retryable(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	// Network-level failures (timeouts, resets) arrive as transport
	// errors and are retryable.
	return true
}
