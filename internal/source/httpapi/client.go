// Package httpapi implements the external API client: rate-limited, cursor
// paginated, with bounded retries for transient and throttling failures.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/andr-235/keywatch/internal/metrics"
	"github.com/andr-235/keywatch/internal/scanner"
)

const maxBodyBytes = 5 * 1024 * 1024

// Config controls client behavior.
type Config struct {
	BaseURL   string
	AuthToken string
	UserAgent string
	Timeout   time.Duration
	PageSize  int

	// Proactive limiter settings, shared across all workers via the limiter
	// store.
	LimiterKey     string
	RateLimit      int
	RateWindow     time.Duration
	MaxLimiterWait time.Duration

	// Retry settings for transient failures.
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Client fetches item pages from the external API, gating every network call
// through the shared rate limiter.
type Client struct {
	http    *http.Client
	limiter scanner.RateLimiter
	retry   *scanner.ExponentialRetryPolicy
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Client.
func New(cfg Config, limiter scanner.RateLimiter, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.LimiterKey == "" {
		cfg.LimiterKey = "external-api"
	}
	if cfg.MaxLimiterWait <= 0 {
		cfg.MaxLimiterWait = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "keywatch/1.0"
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		retry:   scanner.NewExponentialRetryPolicy(cfg.MaxRetries, cfg.BackoffBase, cfg.BackoffMax),
		cfg:     cfg,
		logger:  logger,
	}
}

type pageResponse struct {
	Items      []scanner.ExternalItem `json:"items"`
	NextCursor string                 `json:"next_cursor"`
}

// FetchPage returns one page of items for externalID starting at cursor. An
// empty next cursor means the final page was reached.
func (c *Client) FetchPage(
	ctx context.Context,
	externalID, cursor string,
) ([]scanner.ExternalItem, string, error) {
	if err := c.waitForBudget(ctx); err != nil {
		return nil, "", err
	}
	return c.fetchWithRetry(ctx, externalID, cursor)
}

// waitForBudget blocks until the proactive limiter admits one call. Waiting
// beyond MaxLimiterWait aborts the attempt with a transient error so the task
// gets rescheduled instead of camping on a worker slot.
func (c *Client) waitForBudget(ctx context.Context) error {
	var waited time.Duration
	for {
		allowed, retryAfter, err := c.limiter.Allow(ctx, c.cfg.LimiterKey, c.cfg.RateLimit, c.cfg.RateWindow)
		if err != nil {
			metrics.ObserveAPIError("limiter_unavailable")
			return fmt.Errorf("limiter gate: %w", err)
		}
		if allowed {
			return nil
		}

		metrics.ObserveLimiterRejection()
		waited += retryAfter
		if waited > c.cfg.MaxLimiterWait {
			return &scanner.TransientError{
				Err: fmt.Errorf("rate budget exhausted after waiting %s", waited),
			}
		}
		c.logger.Debug("rate limited, backing off",
			zap.Duration("retry_after", retryAfter),
			zap.Duration("waited", waited))
		if err := sleepCtx(ctx, retryAfter); err != nil {
			return err
		}
	}
}

// fetchWithRetry retries transient failures with exponential backoff and
// performs exactly one extra retry when the API signals throttling itself.
func (c *Client) fetchWithRetry(
	ctx context.Context,
	externalID, cursor string,
) ([]scanner.ExternalItem, string, error) {
	attempt := 0
	throttleRetried := false
	for {
		items, next, err := c.doFetch(ctx, externalID, cursor)
		if err == nil {
			return items, next, nil
		}

		var thr *scanner.ThrottleError
		if errors.As(err, &thr) {
			metrics.ObserveAPIError("throttled")
			if throttleRetried {
				return nil, "", err
			}
			throttleRetried = true
			wait := thr.RetryAfter
			if wait <= 0 {
				wait = c.retry.Backoff(attempt)
			}
			c.logger.Warn("throttled by external api, retrying once",
				zap.String("external_id", externalID),
				zap.Duration("wait", wait))
			if serr := sleepCtx(ctx, wait); serr != nil {
				return nil, "", serr
			}
			continue
		}

		metrics.ObserveAPIError(errorKind(err))
		if !c.retry.ShouldRetry(err, attempt) {
			return nil, "", err
		}
		backoff := c.retry.Backoff(attempt)
		c.logger.Warn("fetch failed, retrying",
			zap.String("external_id", externalID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if serr := sleepCtx(ctx, backoff); serr != nil {
			return nil, "", serr
		}
		attempt++
	}
}

func (c *Client) doFetch(
	ctx context.Context,
	externalID, cursor string,
) ([]scanner.ExternalItem, string, error) {
	u, err := url.Parse(c.cfg.BaseURL + "/items")
	if err != nil {
		return nil, "", &scanner.PermanentError{Err: fmt.Errorf("parse base url: %w", err)}
	}
	q := u.Query()
	q.Set("source", externalID)
	q.Set("count", strconv.Itoa(c.cfg.PageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", &scanner.PermanentError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", fmt.Errorf("fetch aborted: %w", ctx.Err())
		}
		return nil, "", &scanner.TransientError{Err: fmt.Errorf("http get: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Decoded below.
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", &scanner.ThrottleError{RetryAfter: parseRetryAfter(resp)}
	case resp.StatusCode >= 500:
		return nil, "", &scanner.TransientError{Err: fmt.Errorf("server error %d", resp.StatusCode)}
	default:
		return nil, "", &scanner.PermanentError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", &scanner.TransientError{Err: fmt.Errorf("read body: %w", err)}
	}
	var page pageResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, "", &scanner.PermanentError{Err: fmt.Errorf("decode page: %w", err)}
	}
	return page.Items, page.NextCursor, nil
}

// parseRetryAfter handles both Retry-After forms: delta-seconds and HTTP-date.
// Anything unparseable (or already in the past) yields 0, deferring to the
// client's own backoff.
func parseRetryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func errorKind(err error) string {
	var perm *scanner.PermanentError
	if errors.As(err, &perm) {
		return "permanent"
	}
	return "transient"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
