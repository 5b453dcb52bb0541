package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLimiterUnavailable reports that the shared rate limiter store could not
// be reached. The limiter fails closed in that case, so callers must treat the
// request as not allowed.
var ErrLimiterUnavailable = errors.New("rate limiter unavailable")

// TransientError wraps a failure worth retrying with backoff (timeouts, 5xx,
// exhausted limiter wait budget).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// ThrottleError is the external API's reactive throttling signal, distinct
// from the client's own proactive limiter.
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled by external api, retry after %s", e.RetryAfter)
}

// PermanentError is a non-retryable client failure (4xx other than 429).
type PermanentError struct {
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("permanent: status %d", e.StatusCode)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a task attempt that failed with err should be
// rescheduled rather than abandoned. Context cancellation and permanent
// client errors are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	return true
}
