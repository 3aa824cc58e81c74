package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemory(t *testing.T, maxSize int) *MemoryClient {
	t.Helper()
	c := NewMemoryClient(maxSize)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestMemoryClientRoundTrip(t *testing.T) {
	c := newMemory(t, 100)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("värde"), time.Minute))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("värde"), got)
}

func TestMemoryClientMiss(t *testing.T) {
	c := newMemory(t, 100)

	_, err := c.Get(context.Background(), "saknas")

	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientDelete(t *testing.T) {
	c := newMemory(t, 100)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientExpiry(t *testing.T) {
	c := newMemory(t, 100)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 5*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientEvictsOldest(t *testing.T) {
	c := newMemory(t, 2)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "först", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "sen", []byte("2"), 2*time.Minute))
	require.NoError(t, c.Set(ctx, "sist", []byte("3"), 3*time.Minute))

	_, err := c.Get(ctx, "först")
	assert.ErrorIs(t, err, ErrCacheMiss, "earliest-expiring entry is evicted")

	_, err = c.Get(ctx, "sen")
	assert.NoError(t, err)
	_, err = c.Get(ctx, "sist")
	assert.NoError(t, err)
}

func TestMemoryClientCloseIdempotent(t *testing.T) {
	c := NewMemoryClient(10)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "a:b:c", Key("a", "b", "c"))
	assert.Equal(t, "ensam", Key("ensam"))
}
