// Package dedup implements the Redis-backed seen-item cache.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker records processed item keys with a TTL. It is a fast-path filter:
// entries expiring early only cost redundant downstream work, never duplicate
// persistence, because the match store enforces uniqueness.
type Tracker struct {
	client *redis.Client
}

// NewTracker creates a Tracker on the given client.
func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

// Seen reports whether key was marked within its TTL.
func (t *Tracker) Seen(ctx context.Context, key string) (bool, error) {
	n, err := t.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("dedup exists: %w", err)
	}
	return n == 1, nil
}

// MarkSeen records key for ttl, refreshing the expiry if it already exists.
func (t *Tracker) MarkSeen(ctx context.Context, key string, ttl time.Duration) error {
	if err := t.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("dedup set: %w", err)
	}
	return nil
}
