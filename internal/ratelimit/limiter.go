// Package ratelimit implements a Redis-backed sliding window rate limiter
// shared across worker processes.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/andr-235/keywatch/internal/scanner"
)

// allowScript trims expired entries, counts the window, and either records the
// new call or reports how long until the oldest entry expires. Running it as a
// single script keeps the check-and-increment atomic, so two concurrent
// callers can never both consume the last slot.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
redis.call("ZREMRANGEBYSCORE", key, 0, now - window)
local count = redis.call("ZCARD", key)
if count < limit then
	redis.call("ZADD", key, now, member)
	redis.call("PEXPIRE", key, math.ceil(window / 1000))
	return {1, 0}
end
local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
return {0, tonumber(oldest[2]) + window - now}
`)

// SlidingWindowLimiter counts calls per key in a rolling window stored in a
// Redis sorted set. When the store is unreachable it fails closed and reports
// scanner.ErrLimiterUnavailable.
type SlidingWindowLimiter struct {
	client *redis.Client
	clock  scanner.Clock
}

// New creates a SlidingWindowLimiter on the given client.
func New(client *redis.Client, clock scanner.Clock) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{client: client, clock: clock}
}

// Allow reports whether one more call under key fits within limit calls per
// window. When denied, retryAfter is the time until the oldest in-window entry
// expires.
func (l *SlidingWindowLimiter) Allow(
	ctx context.Context,
	key string,
	limit int,
	window time.Duration,
) (bool, time.Duration, error) {
	now := l.clock.Now().UnixMicro()
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())

	vals, err := allowScript.Run(
		ctx,
		l.client,
		[]string{"ratelimit:" + key},
		now,
		window.Microseconds(),
		limit,
		member,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", scanner.ErrLimiterUnavailable, err)
	}
	if len(vals) != 2 {
		return false, 0, fmt.Errorf("%w: unexpected script reply", scanner.ErrLimiterUnavailable)
	}

	if vals[0] == 1 {
		return true, 0, nil
	}
	retryAfter := time.Duration(vals[1]) * time.Microsecond
	if retryAfter <= 0 {
		retryAfter = time.Millisecond
	}
	return false, retryAfter, nil
}
