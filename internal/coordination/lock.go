// Package coordination provides the per-target scan lock using Redis.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/andr-235/keywatch/internal/scanner"
)

// ErrLeaseNotHeld is returned when releasing a lease another holder owns (or
// one that already expired).
var ErrLeaseNotHeld = errors.New("lease not held")

// releaseScript atomically deletes the lock key only if it still carries this
// lease's token, so an expired lease can never release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// refreshScript extends the TTL under the same token check, so a stale lease
// can never prolong a successor's lock.
var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// TargetLocker hands out at-most-one scan lease per target. The lease TTL
// auto-expires so a crashed worker cannot block a target forever.
type TargetLocker struct {
	client *redis.Client
}

// NewTargetLocker creates a TargetLocker on the given client.
func NewTargetLocker(client *redis.Client) *TargetLocker {
	return &TargetLocker{client: client}
}

func lockKey(targetID int64) string {
	return fmt.Sprintf("scanlock:target:%d", targetID)
}

// TryAcquire attempts to take the target's lease without blocking. It returns
// acquired=false when another scan for the target is still in flight.
func (l *TargetLocker) TryAcquire(
	ctx context.Context,
	targetID int64,
	ttl time.Duration,
) (scanner.Lease, bool, error) {
	key := lockKey(targetID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire target lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &lease{client: l.client, key: key, token: token}, true, nil
}

type lease struct {
	client *redis.Client
	key    string
	token  string
}

// Refresh extends the lease TTL if this holder still owns it. Workers call it
// at each attempt boundary so the lease outlives queue waits and retries.
func (l *lease) Refresh(ctx context.Context, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh target lock: %w", err)
	}
	if n == 0 {
		return ErrLeaseNotHeld
	}
	return nil
}

// Release frees the lease if this holder still owns it.
func (l *lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release target lock: %w", err)
	}
	if n == 0 {
		return ErrLeaseNotHeld
	}
	return nil
}
