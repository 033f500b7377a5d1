package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hackgods/slot-booking/internal/config"
	redisclient "github.com/hackgods/slot-booking/internal/redis"
	"github.com/hackgods/slot-booking/internal/slot"
)

func TestNewSlotStorePicksBackend(t *testing.T) {
	assert.IsType(t, &redisclient.SlotStore{}, newSlotStore(config.SlotBackendRedis, nil, nil))
	assert.IsType(t, &slot.PgStore{}, newSlotStore(config.SlotBackendPostgres, nil, nil))
}
