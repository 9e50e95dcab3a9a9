package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisLocker(client, "pppoe:import:"), mr
}

func TestRedisLocker_Exclusive(t *testing.T) {
	t.Parallel()

	l, mr := newRedisLocker(t)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "dev-1", time.Minute)
	require.NoError(t, err)
	require.True(t, mr.Exists("pppoe:import:dev-1"))

	_, err = l.Acquire(ctx, "dev-1", time.Minute)
	require.ErrorIs(t, err, ErrLocked)

	other, err := l.Acquire(ctx, "dev-2", time.Minute)
	require.NoError(t, err)
	other()

	release()
	require.False(t, mr.Exists("pppoe:import:dev-1"))

	release, err = l.Acquire(ctx, "dev-1", time.Minute)
	require.NoError(t, err)
	release()
}

func TestRedisLocker_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	t.Parallel()

	l, mr := newRedisLocker(t)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "dev-1", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	fresh, err := l.Acquire(ctx, "dev-1", time.Minute)
	require.NoError(t, err)

	stale()
	require.True(t, mr.Exists("pppoe:import:dev-1"))

	fresh()
	require.False(t, mr.Exists("pppoe:import:dev-1"))
}

func TestLocalLocker(t *testing.T) {
	t.Parallel()

	now := time.Now()
	l := NewLocalLocker()
	l.nowFn = func() time.Time { return now }

	release, err := l.Acquire(context.Background(), "dev-1", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), "dev-1", time.Minute)
	require.ErrorIs(t, err, ErrLocked)

	release()
	release, err = l.Acquire(context.Background(), "dev-1", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = l.Acquire(context.Background(), "dev-1", time.Minute)
	require.NoError(t, err, "expired lock can be taken over")

	release()
	_, err = l.Acquire(context.Background(), "dev-1", time.Minute)
	require.ErrorIs(t, err, ErrLocked, "stale release must not free the new holder")
}
