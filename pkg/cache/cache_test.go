package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTTL(t *testing.T, ttl time.Duration) Cache[string] {
	t.Helper()
	c, err := NewTTL[string](context.Background(), ttl, 10*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestTTL_SetGet(t *testing.T) {
	c := newTestTTL(t, time.Minute)

	created, err := c.Set("a", "one")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = c.Set("a", "two")
	require.NoError(t, err)
	assert.False(t, created, "overwrite should not count as create")

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "two", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestTTL_Expiry(t *testing.T) {
	c := newTestTTL(t, 30*time.Millisecond)

	_, err := c.Set("k", "v")
	require.NoError(t, err)

	_, ok := c.Get("k")
	assert.True(t, ok)

	time.Sleep(50 * time.Millisecond)

	_, ok = c.Get("k")
	assert.False(t, ok, "entry should expire after ttl")

	// Re-inserting after expiry counts as a fresh entry
	created, err := c.Set("k", "v2")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestTTL_BackgroundCleanup(t *testing.T) {
	c := newTestTTL(t, 20*time.Millisecond)

	for _, k := range []string{"a", "b", "c"} {
		_, err := c.Set(k, k)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, c.Size())

	// Cleanup goroutine runs every 10ms, entries live 20ms
	assert.Eventually(t, func() bool { return c.Size() == 0 },
		time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, c.Stats().Evictions(), int64(3))
}

func TestTTL_DeleteAndClear(t *testing.T) {
	c := newTestTTL(t, time.Minute)

	_, err := c.Set("a", "one")
	require.NoError(t, err)

	deleted, err := c.Delete("a")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.Delete("a")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, _ = c.Set("b", "two")
	_, _ = c.Set("c", "three")
	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Size())
}

func TestTTL_EvictionCallback(t *testing.T) {
	var evicted []string
	c, err := NewTTL[string](context.Background(), time.Minute, time.Minute,
		WithEvictionCallback[string](func(key string, _ string) {
			evicted = append(evicted, key)
		}))
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	_, _ = c.Set("gone", "v")
	_, _ = c.Delete("gone")
	assert.Equal(t, []string{"gone"}, evicted)
}

func TestTTL_InvalidInputs(t *testing.T) {
	_, err := NewTTL[string](context.Background(), 0, time.Second)
	assert.Error(t, err)

	c := newTestTTL(t, time.Minute)
	_, err = c.Set("", "v")
	assert.Error(t, err, "empty key should be rejected")
}

func TestTTL_Keys(t *testing.T) {
	c := newTestTTL(t, time.Minute)
	_, _ = c.Set("x", "1")
	_, _ = c.Set("y", "2")
	assert.ElementsMatch(t, []string{"x", "y"}, c.Keys())
}

func TestNoop(t *testing.T) {
	c := NewNoop[int]()

	created, err := c.Set("k", 1)
	require.NoError(t, err)
	assert.True(t, created)

	_, ok := c.Get("k")
	assert.False(t, ok, "noop cache never stores")
	assert.Equal(t, 0, c.Size())
	assert.NoError(t, c.Close())
}

func TestStatistics(t *testing.T) {
	c := newTestTTL(t, time.Minute)
	_, _ = c.Set("a", "1")
	_, _ = c.Get("a")
	_, _ = c.Get("nope")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits())
	assert.Equal(t, int64(1), stats.Misses())
	assert.Equal(t, int64(1), stats.Sets())
	assert.InDelta(t, 0.5, stats.HitRatio(), 0.001)
}
