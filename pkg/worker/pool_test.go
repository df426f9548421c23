package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Lifecycle(t *testing.T) {
	pool := NewPool(2, 10, func(_ context.Context, _ int) error { return nil })

	err := pool.SubmitKeyed("k", 1)
	assert.ErrorIs(t, err, ErrPoolNotStarted)

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	assert.ErrorIs(t, pool.Start(ctx), ErrPoolAlreadyStarted)

	require.NoError(t, pool.SubmitKeyed("k", 1))
	require.NoError(t, pool.Stop(time.Second))

	err = pool.SubmitKeyed("k", 2)
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestPool_ProcessesWork(t *testing.T) {
	var mu sync.Mutex
	seen := make([]int, 0)

	pool := NewPool(4, 100, func(_ context.Context, n int) error {
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
		return nil
	})

	require.NoError(t, pool.Start(context.Background()))
	for i := 0; i < 50; i++ {
		require.NoError(t, pool.SubmitKeyed(fmt.Sprintf("key-%d", i), i))
	}
	require.NoError(t, pool.Stop(time.Second))

	assert.Len(t, seen, 50)
	stats := pool.Stats()
	assert.Equal(t, int64(50), stats.Submitted)
	assert.Equal(t, int64(50), stats.Processed)
}

func TestPool_KeyOrdering(t *testing.T) {
	// All work for one key must be processed in submission order, even
	// with many workers running.
	var mu sync.Mutex
	order := make(map[string][]int)

	pool := NewPool(8, 100, func(_ context.Context, w [2]any) error {
		key := w[0].(string)
		seq := w[1].(int)
		mu.Lock()
		order[key] = append(order[key], seq)
		mu.Unlock()
		return nil
	})

	require.NoError(t, pool.Start(context.Background()))
	keys := []string{"alpha", "beta", "gamma"}
	for seq := 0; seq < 30; seq++ {
		for _, key := range keys {
			require.NoError(t, pool.SubmitKeyed(key, [2]any{key, seq}))
		}
	}
	require.NoError(t, pool.Stop(time.Second))

	for _, key := range keys {
		require.Len(t, order[key], 30)
		for i, seq := range order[key] {
			assert.Equal(t, i, seq, "key %s processed out of order", key)
		}
	}
}

func TestPool_QueueFull(t *testing.T) {
	block := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ int) error {
		<-block
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	// First item occupies the worker, second fills the queue
	require.NoError(t, pool.SubmitKeyed("k", 1))
	// The worker may or may not have picked up the first item yet, so
	// fill until the shard rejects.
	var err error
	for i := 0; i < 3; i++ {
		err = pool.SubmitKeyed("k", i)
		if err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Greater(t, pool.Stats().Dropped, int64(0))

	close(block)
	_ = pool.Stop(time.Second)
}

func TestPool_FailedWorkCounted(t *testing.T) {
	pool := NewPool(1, 10, func(_ context.Context, n int) error {
		if n%2 == 1 {
			return fmt.Errorf("odd work %d", n)
		}
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.SubmitKeyed("k", i))
	}
	require.NoError(t, pool.Stop(time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(10), stats.Processed)
	assert.Equal(t, int64(5), stats.Failed)
}

func TestNewPool_NilProcessorPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewPool[int](1, 1, nil)
	})
}
