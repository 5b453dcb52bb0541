package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShouldRetryTransient(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, 10*time.Millisecond, 100*time.Millisecond)

	err := &TransientError{Err: errors.New("upstream 503")}
	require.True(t, p.ShouldRetry(err, 0))
	require.True(t, p.ShouldRetry(err, 2))
	require.False(t, p.ShouldRetry(err, 3), "attempts exhausted")
}

func TestShouldRetryRejectsPermanent(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, 10*time.Millisecond, 100*time.Millisecond)

	require.False(t, p.ShouldRetry(&PermanentError{StatusCode: 404}, 0))
	require.False(t, p.ShouldRetry(nil, 0))
	require.False(t, p.ShouldRetry(context.Canceled, 0))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 0))
}

func TestShouldRetryExcludesThrottle(t *testing.T) {
	t.Parallel()

	// Throttling is handled by the client's dedicated wait path, not the
	// generic backoff loop.
	p := NewExponentialRetryPolicy(3, 10*time.Millisecond, 100*time.Millisecond)
	require.False(t, p.ShouldRetry(&ThrottleError{RetryAfter: time.Second}, 0))
}

func TestBackoffGrowsAndStaysBounded(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	max := time.Second
	p := NewExponentialRetryPolicy(5, base, max)

	for attempt := 0; attempt < 5; attempt++ {
		d := p.Backoff(attempt)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, max)
	}
}

func TestIsRetryableClassification(t *testing.T) {
	t.Parallel()

	require.False(t, IsRetryable(nil))
	require.False(t, IsRetryable(context.Canceled))
	require.False(t, IsRetryable(&PermanentError{StatusCode: 403}))
	require.True(t, IsRetryable(&TransientError{Err: errors.New("boom")}))
	require.True(t, IsRetryable(&ThrottleError{RetryAfter: time.Second}))
	require.True(t, IsRetryable(errors.New("unclassified")))
}
