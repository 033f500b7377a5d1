package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/hackgods/slot-booking/internal/config"
	redisclient "github.com/hackgods/slot-booking/internal/redis"
	"github.com/hackgods/slot-booking/internal/slot"
)

func TestNewSlotStorePicksBackend(t *testing.T) {
	assert.IsType(t, &redisclient.SlotStore{}, newSlotStore(config.SlotBackendRedis, nil, nil))
	assert.IsType(t, &slot.PgStore{}, newSlotStore(config.SlotBackendPostgres, nil, nil))
}

type busyLocker struct{ calls int }

func (l *busyLocker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	l.calls++
	return redisclient.ErrLockNotAcquired
}

func TestRunOnceSkipsWhenLockHeldElsewhere(t *testing.T) {
	locker := &busyLocker{}
	// the sweeper is never reached while another replica holds the lock
	runOnce(context.Background(), locker, nil, time.Second, zerolog.Nop())
	assert.Equal(t, 1, locker.calls)
}
