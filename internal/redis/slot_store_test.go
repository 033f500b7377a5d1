package redisclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/slot-booking/internal/slot"
)

const testDate = "2025-01-10"

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func publishMorning(t *testing.T, ledger *slot.Ledger, doctorID uuid.UUID) {
	t.Helper()
	_, err := ledger.Publish(context.Background(), doctorID, testDate, []slot.Slot{
		{SlotID: "0900", StartTime: "09:00", EndTime: "09:30"},
		{SlotID: "0930", StartTime: "09:30", EndTime: "10:00"},
		{SlotID: "1000", StartTime: "10:00", EndTime: "10:30", Status: slot.StatusBreak},
	})
	require.NoError(t, err)
}

func TestSlotStoreReserveAndRelease(t *testing.T) {
	client, _ := newTestClient(t)
	ledger := slot.NewLedger(NewSlotStore(client), nil, zerolog.Nop())
	ctx := context.Background()
	doctorID := uuid.New()
	publishMorning(t, ledger, doctorID)

	key := slot.Key{DoctorID: doctorID, Date: testDate, SlotID: "0900"}
	apptID := uuid.New()

	require.NoError(t, ledger.Reserve(ctx, key, apptID))
	// same appointment retrying is fine
	require.NoError(t, ledger.Reserve(ctx, key, apptID))
	require.ErrorIs(t, ledger.Reserve(ctx, key, uuid.New()), slot.ErrAlreadyReserved)

	got, err := ledger.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.HeldBy(apptID))
	require.NotNil(t, got.ReservedAt)

	free, err := ledger.ListFree(ctx, doctorID, testDate)
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, "0930", free[0].SlotID)

	require.NoError(t, ledger.ReleaseFor(ctx, key, uuid.New()))
	got, err = ledger.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, slot.StatusReserved, got.Status, "release guarded by another appointment must not free the slot")

	require.NoError(t, ledger.ReleaseFor(ctx, key, apptID))
	require.NoError(t, ledger.Release(ctx, key))

	got, err = ledger.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, slot.StatusFree, got.Status)
	assert.Nil(t, got.AppointmentID)
	assert.Nil(t, got.ReservedAt)
}

func TestSlotStoreMissingSlot(t *testing.T) {
	client, _ := newTestClient(t)
	ledger := slot.NewLedger(NewSlotStore(client), nil, zerolog.Nop())

	key := slot.Key{DoctorID: uuid.New(), Date: testDate, SlotID: "0900"}
	require.ErrorIs(t, ledger.Reserve(context.Background(), key, uuid.New()), slot.ErrSlotNotFound)
	require.ErrorIs(t, ledger.Release(context.Background(), key), slot.ErrSlotNotFound)
}

func TestSlotStoreBreakIsNotBookable(t *testing.T) {
	client, _ := newTestClient(t)
	ledger := slot.NewLedger(NewSlotStore(client), nil, zerolog.Nop())
	doctorID := uuid.New()
	publishMorning(t, ledger, doctorID)

	key := slot.Key{DoctorID: doctorID, Date: testDate, SlotID: "1000"}
	require.ErrorIs(t, ledger.Reserve(context.Background(), key, uuid.New()), slot.ErrAlreadyReserved)
}

func TestSlotStoreConcurrentReserveHasOneWinner(t *testing.T) {
	client, _ := newTestClient(t)
	ledger := slot.NewLedger(NewSlotStore(client), nil, zerolog.Nop())
	doctorID := uuid.New()
	publishMorning(t, ledger, doctorID)

	key := slot.Key{DoctorID: doctorID, Date: testDate, SlotID: "0930"}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.Reserve(context.Background(), key, uuid.New()); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestSlotStoreRepublishKeepsReservations(t *testing.T) {
	client, _ := newTestClient(t)
	ledger := slot.NewLedger(NewSlotStore(client), nil, zerolog.Nop())
	ctx := context.Background()
	doctorID := uuid.New()
	publishMorning(t, ledger, doctorID)

	key := slot.Key{DoctorID: doctorID, Date: testDate, SlotID: "0900"}
	apptID := uuid.New()
	require.NoError(t, ledger.Reserve(ctx, key, apptID))

	slots, err := ledger.Publish(ctx, doctorID, testDate, []slot.Slot{
		{SlotID: "0900", StartTime: "09:00", EndTime: "09:20"},
		{SlotID: "1400", StartTime: "14:00", EndTime: "14:30"},
	})
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.True(t, slots[0].HeldBy(apptID))
	assert.Equal(t, "09:30", slots[0].EndTime)
	assert.Equal(t, "1400", slots[1].SlotID)
	assert.Equal(t, slot.SessionAfternoon, slots[1].Session)

	require.ErrorIs(t, ledger.DeleteDay(ctx, doctorID, testDate), slot.ErrDayHasReservations)

	require.NoError(t, ledger.ReleaseFor(ctx, key, apptID))
	require.NoError(t, ledger.DeleteDay(ctx, doctorID, testDate))

	slots, err = ledger.List(ctx, doctorID, testDate)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestSlotStoreListReservedUsesIndex(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewSlotStore(client)
	ledger := slot.NewLedger(store, nil, zerolog.Nop())
	ctx := context.Background()
	doctorID := uuid.New()
	publishMorning(t, ledger, doctorID)

	reserved := slot.Key{DoctorID: doctorID, Date: testDate, SlotID: "0900"}
	released := slot.Key{DoctorID: doctorID, Date: testDate, SlotID: "0930"}
	require.NoError(t, ledger.Reserve(ctx, reserved, uuid.New()))
	require.NoError(t, ledger.Reserve(ctx, released, uuid.New()))
	require.NoError(t, ledger.Release(ctx, released))

	got, err := ledger.ListReserved(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0900", got[0].SlotID)

	got, err = ledger.ListReserved(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSlotStoreAvailabilityRange(t *testing.T) {
	client, _ := newTestClient(t)
	ledger := slot.NewLedger(NewSlotStore(client), nil, zerolog.Nop())
	doctorID := uuid.New()
	publishMorning(t, ledger, doctorID)

	days, err := ledger.AvailabilityRange(context.Background(), doctorID, "2025-01-09", "2025-01-11")
	require.NoError(t, err)
	require.Len(t, days, 3)
	assert.False(t, days[0].HasFree)
	assert.Equal(t, 2, days[1].FreeCount)
	assert.Equal(t, 1, days[1].BreakCount)
	assert.False(t, days[2].IsDayOff)
}
