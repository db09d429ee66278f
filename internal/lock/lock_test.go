package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLocker(rdb), mr
}

func TestRedisLocker_Exclusive(t *testing.T) {
	l, _ := newRedisLocker(t)
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "order-1", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "order-1", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	other, err := l.Acquire(ctx, "order-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	again, err := l.Acquire(ctx, "order-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedisLocker_StaleReleaseKeepsNewHolder(t *testing.T) {
	l, mr := newRedisLocker(t)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "order-1", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := l.Acquire(ctx, "order-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	_, err = l.Acquire(ctx, "order-1", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired, "expired lease must not delete the new holder's key")

	require.NoError(t, fresh.Release(ctx))
}

func TestRedisLocker_Concurrent(t *testing.T) {
	l, _ := newRedisLocker(t)
	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(context.Background(), "order-x", time.Minute); err == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())
}

func TestMemoryLocker(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Unix(1700000000, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := l.Acquire(ctx, "order-1", time.Minute)
	require.NoError(t, err)
	_, err = l.Acquire(ctx, "order-1", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	now = now.Add(2 * time.Minute)
	second, err := l.Acquire(ctx, "order-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, first.Release(ctx))
	_, err = l.Acquire(ctx, "order-1", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, second.Release(ctx))
	_, err = l.Acquire(ctx, "order-1", time.Minute)
	assert.NoError(t, err)
}
