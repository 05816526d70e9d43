package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-rewards/internal/domain/membership"
)

func setupLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "pos:"), mr
}

func TestLocker_TryLock(t *testing.T) {
	l, mr := setupLocker(t)
	ctx := context.Background()

	unlock, err := l.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("pos:job"))

	_, err = l.TryLock(ctx, "job", time.Minute)
	require.ErrorIs(t, err, membership.ErrLocked)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("pos:job"))

	unlock, err = l.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}

func TestLocker_ExpiredLockNotReleasedByOldHolder(t *testing.T) {
	l, mr := setupLocker(t)
	ctx := context.Background()

	stale, err := l.TryLock(ctx, "job", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = l.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	assert.True(t, mr.Exists("pos:job"))
}

func TestLocker_BackendError(t *testing.T) {
	l, mr := setupLocker(t)
	mr.Close()

	_, err := l.TryLock(context.Background(), "job", time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, membership.ErrLocked)
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = NewClient(context.Background(), "not a url")
	require.Error(t, err)
}
