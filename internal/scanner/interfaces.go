package scanner

import (
	"context"
	"time"
)

// RateLimiter enforces a maximum call rate against a shared external quota.
// Implementations must serialize the count check and increment atomically so
// concurrent callers cannot both observe capacity and exceed the limit.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration, err error)
}

// DedupStore is a fast-path cache of already-processed item keys. False
// negatives after TTL expiry are acceptable; the persisted uniqueness
// constraint on MatchRecord is the correctness backstop.
type DedupStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	MarkSeen(ctx context.Context, key string, ttl time.Duration) error
}

// Lease is a held per-target lock token. The holder refreshes the TTL at each
// attempt boundary so the lease spans the task's whole lifetime; Release frees
// it at a terminal state, and the TTL recovers from crashed holders.
type Lease interface {
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// TargetLocker hands out at-most-one lease per target at a time.
type TargetLocker interface {
	TryAcquire(ctx context.Context, targetID int64, ttl time.Duration) (lease Lease, acquired bool, err error)
}

// ItemSource fetches one page of items for a target from the external API.
// An empty next cursor ends pagination.
type ItemSource interface {
	FetchPage(ctx context.Context, externalID, cursor string) (items []ExternalItem, nextCursor string, err error)
}

// MatchSink persists match candidates. A duplicate insert reports
// created=false with a nil error, making persistence idempotent under retries.
type MatchSink interface {
	Persist(ctx context.Context, rec MatchRecord) (created bool, err error)
}

// TargetStore reads scheduling state and records scan completion.
type TargetStore interface {
	ListDue(ctx context.Context, now time.Time) ([]Target, error)
	UpdateLastScanned(ctx context.Context, targetID int64, at time.Time) error
}

// Queue provides enqueue/dequeue semantics for scan tasks.
type Queue interface {
	Enqueue(ctx context.Context, task *ScanTask) error
	Dequeue(ctx context.Context) (*ScanTask, error)
}

// Publisher pushes match events to downstream consumers (Pub/Sub or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
