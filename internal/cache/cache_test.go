package cache

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryReplayCacheExpires(t *testing.T) {
	c := NewMemoryReplayCache()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "own-a:sale:k1", []byte(`{"ok":true}`), time.Minute))

	got, ok, err := c.Get(ctx, "own-a:sale:k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"ok":true}`, string(got))

	now = now.Add(time.Minute)
	_, ok, err = c.Get(ctx, "own-a:sale:k1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryReplayCacheCopiesValue(t *testing.T) {
	c := NewMemoryReplayCache()
	ctx := context.Background()
	buf := []byte("first")

	require.NoError(t, c.Set(ctx, "k", buf, time.Hour))
	buf[0] = 'X'

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "first", string(got))
}

func TestNoopReplayCacheNeverHits(t *testing.T) {
	var c ReplayCache = NoopReplayCache{}
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Hour))
	_, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryReplayCacheReserveIsExclusive(t *testing.T) {
	c := NewMemoryReplayCache()
	ctx := context.Background()

	won, err := c.Reserve(ctx, "own-a:sale:k1", time.Minute)
	require.NoError(t, err)
	require.True(t, won)

	won, err = c.Reserve(ctx, "own-a:sale:k1", time.Minute)
	require.NoError(t, err)
	require.False(t, won)

	_, ok, err := c.Get(ctx, "own-a:sale:k1")
	require.NoError(t, err)
	require.False(t, ok, "a pending reservation is not a stored result")

	require.NoError(t, c.Set(ctx, "own-a:sale:k1", []byte(`{}`), time.Hour))
	require.NoError(t, c.Release(ctx, "own-a:sale:k1"))
	got, ok, err := c.Get(ctx, "own-a:sale:k1")
	require.NoError(t, err)
	require.True(t, ok, "release keeps a stored result")
	require.Equal(t, "{}", string(got))
}

func TestMemoryReplayCacheReleaseFreesKey(t *testing.T) {
	c := NewMemoryReplayCache()
	ctx := context.Background()

	won, err := c.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, won)
	require.NoError(t, c.Release(ctx, "k"))

	won, err = c.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, won)
}

func TestMemoryReplayCacheReservationExpires(t *testing.T) {
	c := NewMemoryReplayCache()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	won, err := c.Reserve(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	require.True(t, won)

	now = now.Add(30 * time.Second)
	won, err = c.Reserve(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	require.True(t, won)
}

func TestMemoryReplayCacheConcurrentReserveHasOneWinner(t *testing.T) {
	c := NewMemoryReplayCache()
	ctx := context.Background()

	var wg sync.WaitGroup
	var winners atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := c.Reserve(ctx, "k", time.Minute)
			if err == nil && won {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), winners.Load())
}

func TestRedisReplayCacheReserve(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("set REDIS_TEST_ADDR to run redis replay cache test")
	}
	c := NewRedisReplayCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()
	key := "test:" + time.Now().Format(time.RFC3339Nano)

	won, err := c.Reserve(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, won)
	won, err = c.Reserve(ctx, key, time.Minute)
	require.NoError(t, err)
	require.False(t, won)

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, key, []byte(`{"ok":true}`), time.Minute))
	require.NoError(t, c.Release(ctx, key))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"ok":true}`, string(got))
}
