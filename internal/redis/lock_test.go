package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockerExcludesSecondHolder(t *testing.T) {
	client, mr := newTestClient(t)
	locker := NewRedisLocker(client, time.Minute)
	ctx := context.Background()

	err := locker.WithLock(ctx, "reconcile", func(ctx context.Context) error {
		assert.True(t, mr.Exists("lock:reconcile"))
		inner := locker.WithLock(ctx, "reconcile", func(context.Context) error { return nil })
		require.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)

	assert.False(t, mr.Exists("lock:reconcile"), "lock must be released after fn returns")
}

func TestLockerKeepsForeignToken(t *testing.T) {
	client, mr := newTestClient(t)
	locker := NewRedisLocker(client, time.Minute)

	err := locker.WithLock(context.Background(), "reconcile", func(context.Context) error {
		// simulate the lock expiring and another replica taking it over
		require.NoError(t, mr.Set("lock:reconcile", "someone-else"))
		return nil
	})
	require.NoError(t, err)

	got, err := mr.Get("lock:reconcile")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}
