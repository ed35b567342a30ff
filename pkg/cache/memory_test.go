package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache(10, time.Minute)
	ctx := context.Background()

	stored := payload{Name: "vector", Values: []float32{0.5}}
	require.NoError(t, c.Set(ctx, "key1", stored, time.Minute))

	var got payload
	require.NoError(t, c.Get(ctx, "key1", &got))
	assert.Equal(t, stored, got)
}

func TestMemoryCacheMissing(t *testing.T) {
	c := NewMemoryCache(10, time.Minute)

	var got payload
	assert.ErrorIs(t, c.Get(context.Background(), "absent", &got), ErrNotFound)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(10, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key1", payload{Name: "x"}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var got payload
	assert.ErrorIs(t, c.Get(ctx, "key1", &got), ErrNotFound)

	exists, err := c.Exists(ctx, "key1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryCacheZeroTTLUsesDefault(t *testing.T) {
	c := NewMemoryCache(10, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key1", payload{Name: "x"}, 0))

	var got payload
	assert.NoError(t, c.Get(ctx, "key1", &got))
}

func TestMemoryCacheBoundedSize(t *testing.T) {
	c := NewMemoryCache(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		// Staggered TTLs make eviction order deterministic
		ttl := time.Duration(i+1) * time.Minute
		require.NoError(t, c.Set(ctx, fmt.Sprintf("key%d", i), payload{}, ttl))
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.LessOrEqual(t, len(c.items), 3)
}

func TestMemoryCacheDeleteAndFlush(t *testing.T) {
	c := NewMemoryCache(10, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", payload{}, time.Minute))
	require.NoError(t, c.Set(ctx, "b", payload{}, time.Minute))

	require.NoError(t, c.Delete(ctx, "a"))
	var got payload
	assert.ErrorIs(t, c.Get(ctx, "a", &got), ErrNotFound)
	assert.NoError(t, c.Get(ctx, "b", &got))

	require.NoError(t, c.Flush(ctx))
	assert.ErrorIs(t, c.Get(ctx, "b", &got), ErrNotFound)
}
