package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishRecordsEvents(t *testing.T) {
	t.Parallel()

	p := New()
	id, err := p.Publish(context.Background(), "matches", map[string]any{"item_id": "a"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	events := p.Events()
	require.Len(t, events, 1)
	require.Equal(t, "matches", events[0].Topic)
}

func TestEventsForFiltersByTopic(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.Publish(context.Background(), "matches", nil)
	require.NoError(t, err)
	_, err = p.Publish(context.Background(), "audit", nil)
	require.NoError(t, err)

	require.Len(t, p.EventsFor("matches"), 1)
	require.Len(t, p.EventsFor("audit"), 1)
	require.Empty(t, p.EventsFor("other"))
}

func TestResetDiscardsEvents(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.Publish(context.Background(), "matches", nil)
	require.NoError(t, err)

	p.Reset()
	require.Empty(t, p.Events())
}

func TestPublishIsConcurrencySafe(t *testing.T) {
	t.Parallel()

	p := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Publish(context.Background(), "matches", nil)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Len(t, p.Events(), 20)
}
