package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, time.Second), mr
}

func TestRedisLocker_ExclusiveUntilReleased(t *testing.T) {
	ctx := context.Background()
	l, _ := newLocker(t)

	release, err := l.Acquire(ctx, "owner:1")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "owner:1")
	assert.ErrorIs(t, err, ErrNotAcquired)

	other, err := l.Acquire(ctx, "owner:2")
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	again, err := l.Acquire(ctx, "owner:1")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestRedisLocker_ExpiredLockIsNotStolenBack(t *testing.T) {
	ctx := context.Background()
	l, mr := newLocker(t)

	stale, err := l.Acquire(ctx, "owner:1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := l.Acquire(ctx, "owner:1")
	require.NoError(t, err)

	// The stale holder's release must not delete the new holder's key.
	require.NoError(t, stale(ctx))
	assert.True(t, mr.Exists("billing:lock:owner:1"))

	require.NoError(t, fresh(ctx))
	assert.False(t, mr.Exists("billing:lock:owner:1"))
}

func TestConnect_BadURL(t *testing.T) {
	_, err := Connect(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	release, err := Noop{}.Acquire(context.Background(), "x")
	require.NoError(t, err)
	assert.NoError(t, release(context.Background()))
}
