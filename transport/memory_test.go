package transport_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orepool/operator/shared"
	"github.com/orepool/operator/transport"
)

func TestQueueDeliversInOrder(t *testing.T) {
	t.Parallel()
	q := transport.NewInMemory()
	for i := 0; i < 100; i++ {
		require.True(t, q.Publish(shared.Contribution{Score: uint64(i)}))
	}
	require.Equal(t, 100, q.Len())

	for i := 0; i < 100; i++ {
		c, err := q.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, uint64(i), c.Score)
	}
	require.Zero(t, q.Len())
}

func TestQueueNextWaitsForPublish(t *testing.T) {
	t.Parallel()
	q := transport.NewInMemory()

	got := make(chan shared.Contribution, 1)
	go func() {
		c, err := q.Next(context.Background())
		if err == nil {
			got <- c
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Publish(shared.Contribution{Score: 7})
	select {
	case c := <-got:
		require.Equal(t, uint64(7), c.Score)
	case <-time.After(time.Second):
		require.Fail(t, "contribution not delivered")
	}
}

func TestQueueNextCanceled(t *testing.T) {
	t.Parallel()
	q := transport.NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueConcurrentPublishers(t *testing.T) {
	t.Parallel()
	q := transport.NewInMemory()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				q.Publish(shared.Contribution{Score: 1})
			}
		}()
	}
	wg.Wait()

	var total uint64
	for q.Len() > 0 {
		c, err := q.Next(context.Background())
		require.NoError(t, err)
		total += c.Score
	}
	require.Equal(t, uint64(8*500), total)
}

func TestQueueClosed(t *testing.T) {
	t.Parallel()
	q := transport.NewInMemory()
	require.True(t, q.Publish(shared.Contribution{Score: 1}))
	q.Close()
	require.False(t, q.Publish(shared.Contribution{Score: 2}))

	c, err := q.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), c.Score)
}
