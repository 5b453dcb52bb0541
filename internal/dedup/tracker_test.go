package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTracker(client), srv
}

func TestSeenAfterMark(t *testing.T) {
	t.Parallel()

	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	seen, err := tracker.Seen(ctx, "seen:1:abc")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, tracker.MarkSeen(ctx, "seen:1:abc", time.Hour))

	seen, err = tracker.Seen(ctx, "seen:1:abc")
	require.NoError(t, err)
	require.True(t, seen)
}

func TestEntriesExpire(t *testing.T) {
	t.Parallel()

	tracker, srv := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.MarkSeen(ctx, "seen:1:abc", time.Minute))

	srv.FastForward(2 * time.Minute)

	seen, err := tracker.Seen(ctx, "seen:1:abc")
	require.NoError(t, err)
	require.False(t, seen, "entry must expire after its TTL")
}

func TestSeenReportsStoreErrors(t *testing.T) {
	t.Parallel()

	tracker, srv := newTestTracker(t)
	srv.Close()

	_, err := tracker.Seen(context.Background(), "seen:1:abc")
	require.Error(t, err)

	err = tracker.MarkSeen(context.Background(), "seen:1:abc", time.Minute)
	require.Error(t, err)
}
