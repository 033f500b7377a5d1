package slot

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PgStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgStore(mock), mock
}

func TestPgCompareAndSwapReportsSwap(t *testing.T) {
	store, mock := newMockStore(t)
	key := Key{DoctorID: uuid.New(), Date: testDate, SlotID: "0900"}
	apptID := uuid.New()

	mock.ExpectExec("UPDATE slots").
		WithArgs(key.DoctorID, key.Date, key.SlotID, "reserved", pgxmock.AnyArg(), pgxmock.AnyArg(), "free", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	swapped, err := store.CompareAndSwap(context.Background(), key,
		Expectation{Status: StatusFree},
		Change{Status: StatusReserved, AppointmentID: &apptID, At: time.Now()},
	)
	require.NoError(t, err)
	assert.True(t, swapped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCompareAndSwapLosesRace(t *testing.T) {
	store, mock := newMockStore(t)
	key := Key{DoctorID: uuid.New(), Date: testDate, SlotID: "0900"}
	apptID := uuid.New()

	mock.ExpectExec("UPDATE slots").
		WithArgs(key.DoctorID, key.Date, key.SlotID, "free", pgxmock.AnyArg(), pgxmock.AnyArg(), "reserved", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	swapped, err := store.CompareAndSwap(context.Background(), key,
		Expectation{Status: StatusReserved, AppointmentID: &apptID},
		Change{Status: StatusFree, At: time.Now()},
	)
	require.NoError(t, err)
	assert.False(t, swapped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetMapsNoRows(t *testing.T) {
	store, mock := newMockStore(t)
	key := Key{DoctorID: uuid.New(), Date: testDate, SlotID: "0900"}

	mock.ExpectQuery("SELECT (.+) FROM slots").
		WithArgs(key.DoctorID, key.Date, key.SlotID).
		WillReturnRows(pgxmock.NewRows([]string{"doctor_id"}))

	_, err := store.Get(context.Background(), key)
	require.ErrorIs(t, err, ErrSlotNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetScansReservedSlot(t *testing.T) {
	store, mock := newMockStore(t)
	key := Key{DoctorID: uuid.New(), Date: testDate, SlotID: "0900"}
	apptID := uuid.New()
	reservedAt := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM slots").
		WithArgs(key.DoctorID, key.Date, key.SlotID).
		WillReturnRows(pgxmock.NewRows([]string{
			"doctor_id", "date", "slot_id", "time_label", "start_time", "end_time",
			"session", "status", "appointment_id", "reserved_at", "updated_at",
		}).AddRow(key.DoctorID, key.Date, key.SlotID, "09:00", "09:00", "09:30",
			SessionMorning, "reserved", &apptID, &reservedAt, reservedAt))

	got, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, StatusReserved, got.Status)
	assert.True(t, got.HeldBy(apptID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgReplaceDayKeepsReservedRows(t *testing.T) {
	store, mock := newMockStore(t)
	doctorID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM slots").
		WithArgs(doctorID, testDate).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("INSERT INTO slots").
		WithArgs(doctorID, testDate, "0900", "09:00", "09:00", "09:30", SessionMorning, "free").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.ReplaceDay(context.Background(), doctorID, testDate, []Slot{
		{SlotID: "0900", Time: "09:00", StartTime: "09:00", EndTime: "09:30", Session: SessionMorning, Status: StatusFree},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgDeleteDayRefusesReservedDay(t *testing.T) {
	store, mock := newMockStore(t)
	doctorID := uuid.New()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(doctorID, testDate).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	err := store.DeleteDay(context.Background(), doctorID, testDate)
	require.ErrorIs(t, err, ErrDayHasReservations)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgDeleteDay(t *testing.T) {
	store, mock := newMockStore(t)
	doctorID := uuid.New()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(doctorID, testDate).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("DELETE FROM slots").
		WithArgs(doctorID, testDate).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	require.NoError(t, store.DeleteDay(context.Background(), doctorID, testDate))
	require.NoError(t, mock.ExpectationsWereMet())
}
