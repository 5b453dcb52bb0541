package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/andr-235/keywatch/internal/scanner"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	ctx := context.Background()

	first := &scanner.ScanTask{ID: uuid.New()}
	second := &scanner.ScanTask{ID: uuid.New()}

	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ID)

	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, second.ID, got.ID)
}

func TestEnqueueBlocksWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), &scanner.ScanTask{ID: uuid.New()}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := q.Enqueue(ctx, &scanner.ScanTask{ID: uuid.New()})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDequeueAfterCloseDrainsThenErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	ctx := context.Background()

	task := &scanner.ScanTask{ID: uuid.New()}
	require.NoError(t, q.Enqueue(ctx, task))
	q.Close()

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, task.ID, got.ID)

	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, ErrClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	require.NotPanics(t, q.Close)
}
