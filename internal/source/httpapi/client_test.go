package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andr-235/keywatch/internal/scanner"
)

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(context.Context, string, int, time.Duration) (bool, time.Duration, error) {
	return true, 0, nil
}

type scriptedLimiter struct {
	mu      sync.Mutex
	replies []limiterReply
	calls   int
}

type limiterReply struct {
	allowed    bool
	retryAfter time.Duration
	err        error
}

func (l *scriptedLimiter) Allow(context.Context, string, int, time.Duration) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	reply := l.replies[l.calls]
	if l.calls < len(l.replies)-1 {
		l.calls++
	}
	return reply.allowed, reply.retryAfter, reply.err
}

func testClient(t *testing.T, baseURL string, limiter scanner.RateLimiter) *Client {
	t.Helper()
	return New(Config{
		BaseURL:        baseURL,
		AuthToken:      "test-token",
		PageSize:       2,
		RateLimit:      100,
		RateWindow:     time.Second,
		MaxLimiterWait: 100 * time.Millisecond,
		MaxRetries:     2,
		BackoffBase:    time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}, limiter, zap.NewNop())
}

func itemsPage(items []scanner.ExternalItem, next string) []byte {
	body, _ := json.Marshal(map[string]any{"items": items, "next_cursor": next})
	return body
}

func TestFetchPageReturnsItems(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/items", r.URL.Path)
		require.Equal(t, "ext-1", r.URL.Query().Get("source"))
		require.Equal(t, "2", r.URL.Query().Get("count"))
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_, _ = w.Write(itemsPage([]scanner.ExternalItem{
			{ID: "a", Text: "hello"},
			{ID: "b", Text: "world"},
		}, "cursor-2"))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, allowAllLimiter{})
	items, next, err := c.FetchPage(context.Background(), "ext-1", "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "a", items[0].ID)
	require.Equal(t, "cursor-2", next)
}

func TestFetchPagePassesCursor(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "cursor-2", r.URL.Query().Get("cursor"))
		_, _ = w.Write(itemsPage(nil, ""))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, allowAllLimiter{})
	items, next, err := c.FetchPage(context.Background(), "ext-1", "cursor-2")
	require.NoError(t, err)
	require.Empty(t, items)
	require.Empty(t, next)
}

func TestThrottleRetriesExactlyOnce(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write(itemsPage([]scanner.ExternalItem{{ID: "a"}}, ""))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, allowAllLimiter{})
	items, _, err := c.FetchPage(context.Background(), "ext-1", "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 2, calls)
}

func TestPersistentThrottleGivesUp(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, allowAllLimiter{})
	_, _, err := c.FetchPage(context.Background(), "ext-1", "")

	var thr *scanner.ThrottleError
	require.ErrorAs(t, err, &thr)
	require.Equal(t, 2, calls, "only one extra attempt after a throttle response")
}

func TestServerErrorRetriesWithBackoff(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(itemsPage([]scanner.ExternalItem{{ID: "a"}}, ""))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, allowAllLimiter{})
	items, _, err := c.FetchPage(context.Background(), "ext-1", "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 3, calls)
}

func TestClientErrorDoesNotRetry(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, allowAllLimiter{})
	_, _, err := c.FetchPage(context.Background(), "ext-1", "")

	var perm *scanner.PermanentError
	require.ErrorAs(t, err, &perm)
	require.Equal(t, http.StatusNotFound, perm.StatusCode)
	require.Equal(t, 1, calls)
}

func TestLimiterDenialWaitsThenProceeds(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(itemsPage([]scanner.ExternalItem{{ID: "a"}}, ""))
	}))
	defer srv.Close()

	limiter := &scriptedLimiter{replies: []limiterReply{
		{allowed: false, retryAfter: 5 * time.Millisecond},
		{allowed: true},
	}}
	c := testClient(t, srv.URL, limiter)
	items, _, err := c.FetchPage(context.Background(), "ext-1", "")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestLimiterWaitBudgetExhausted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		t.Errorf("no request should reach the server, got %s", r.URL)
	}))
	defer srv.Close()

	limiter := &scriptedLimiter{replies: []limiterReply{
		{allowed: false, retryAfter: time.Minute},
	}}
	c := testClient(t, srv.URL, limiter)
	_, _, err := c.FetchPage(context.Background(), "ext-1", "")

	var transient *scanner.TransientError
	require.ErrorAs(t, err, &transient)
}

func TestLimiterUnavailableFailsClosed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		t.Errorf("no request should reach the server, got %s", r.URL)
	}))
	defer srv.Close()

	limiter := &scriptedLimiter{replies: []limiterReply{
		{err: scanner.ErrLimiterUnavailable},
	}}
	c := testClient(t, srv.URL, limiter)
	_, _, err := c.FetchPage(context.Background(), "ext-1", "")
	require.ErrorIs(t, err, scanner.ErrLimiterUnavailable)
}

func TestParseRetryAfterForms(t *testing.T) {
	t.Parallel()

	withHeader := func(value string) *http.Response {
		resp := &http.Response{Header: http.Header{}}
		if value != "" {
			resp.Header.Set("Retry-After", value)
		}
		return resp
	}

	require.Zero(t, parseRetryAfter(withHeader("")))
	require.Zero(t, parseRetryAfter(withHeader("soon")))
	require.Zero(t, parseRetryAfter(withHeader("-5")))
	require.Equal(t, 7*time.Second, parseRetryAfter(withHeader("7")))

	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(withHeader(future))
	require.Greater(t, d, 25*time.Second)
	require.LessOrEqual(t, d, 30*time.Second)

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	require.Zero(t, parseRetryAfter(withHeader(past)))
}

func TestMalformedBodyIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, allowAllLimiter{})
	_, _, err := c.FetchPage(context.Background(), "ext-1", "")

	var perm *scanner.PermanentError
	require.ErrorAs(t, err, &perm)
}

func TestContextCancellationAborts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := testClient(t, srv.URL, allowAllLimiter{})
	_, _, err := c.FetchPage(ctx, "ext-1", "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, scanner.IsRetryable(err))
}
