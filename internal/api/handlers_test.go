package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/slot-booking/internal/appointment"
	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/events"
	"github.com/hackgods/slot-booking/internal/identity"
	"github.com/hackgods/slot-booking/internal/slot"
)

const testDate = "2025-01-10"

type fakeBus struct {
	mu   sync.Mutex
	subs map[string][]chan events.Event
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[string][]chan events.Event)}
}

func (b *fakeBus) Publish(ctx context.Context, channel string, ev events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan events.Event, error) {
	ch := make(chan events.Event, 8)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()
	return ch, nil
}

type testEnv struct {
	handler  http.Handler
	slots    *slot.Ledger
	bus      *fakeBus
	doctorID uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.Nop()
	bus := newFakeBus()
	slots := slot.NewLedger(slot.NewMemoryStore(), bus, log)
	appts := appointment.NewLedger(appointment.NewMemoryRepository(), log)
	coord := booking.NewCoordinator(booking.Deps{
		Slots:        slots,
		Appointments: appts,
		Log:          log,
	}, booking.Options{ReserveMaxElapsed: 100 * time.Millisecond, CompensationMaxElapsed: 100 * time.Millisecond})

	env := &testEnv{
		handler: NewRouter(RouterConfig{
			Slots:        slots,
			Appointments: appts,
			Booking:      coord,
			Bus:          bus,
			Log:          log,
			Env:          "test",
			Version:      "test",
		}),
		slots:    slots,
		bus:      bus,
		doctorID: uuid.New(),
	}
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, as uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if as != uuid.Nil {
		req.Header.Set(identity.UserHeader, as.String())
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) dayPath(suffix string) string {
	return "/doctors/" + e.doctorID.String() + "/days/" + testDate + suffix
}

func (e *testEnv) publishMorning(t *testing.T) {
	t.Helper()
	rec := e.do(t, http.MethodPut, e.dayPath("/slots"), e.doctorID, PublishSlotsRequest{Slots: []SlotInput{
		{SlotID: "0900", StartTime: "09:00", EndTime: "09:30"},
		{SlotID: "0930", StartTime: "09:30", EndTime: "10:00"},
		{SlotID: "1000", StartTime: "10:00", EndTime: "10:30", Status: "break"},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (e *testEnv) book(t *testing.T, patientID uuid.UUID, slotID string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/appointments", patientID, CreateAppointmentRequest{
		DoctorID: e.doctorID.String(),
		Date:     testDate,
		SlotID:   slotID,
		Fee:      500,
	})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestPublishRequiresOwningDoctor(t *testing.T) {
	env := newTestEnv(t)
	body := PublishSlotsRequest{Slots: []SlotInput{{SlotID: "0900", StartTime: "09:00", EndTime: "09:30"}}}

	rec := env.do(t, http.MethodPut, env.dayPath("/slots"), uuid.Nil, body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPut, env.dayPath("/slots"), uuid.New(), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPut, env.dayPath("/slots"), env.doctorID, body)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublishRejectsInvalidSlots(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPut, env.dayPath("/slots"), env.doctorID, PublishSlotsRequest{Slots: []SlotInput{
		{SlotID: "0900", StartTime: "09:30", EndTime: "09:00"},
	}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode[ErrorResponse](t, rec).Error)
}

func TestInvalidDateIsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/doctors/"+env.doctorID.String()+"/days/10-01-2025/slots", uuid.Nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookingFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.publishMorning(t)
	patientA, patientB := uuid.New(), uuid.New()

	rec := env.book(t, patientA, "0900")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[CreateAppointmentResponse](t, rec).ID

	rec = env.book(t, patientB, "0900")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_unavailable", decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodGet, env.dayPath("/slots?status=free"), uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	free := decode[SlotsResponse](t, rec).Slots
	require.Len(t, free, 1)
	assert.Equal(t, "0930", free[0].SlotID)

	rec = env.do(t, http.MethodGet, "/appointments/"+id.String(), patientA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, "09:00", got.StartTime)

	rec = env.do(t, http.MethodGet, "/appointments/"+id.String(), patientB, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBookingBreakSlotIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.publishMorning(t)

	rec := env.book(t, uuid.New(), "1000")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBookingForSomeoneElseIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	env.publishMorning(t)

	rec := env.do(t, http.MethodPost, "/appointments", uuid.New(), CreateAppointmentRequest{
		DoctorID:  env.doctorID.String(),
		PatientID: uuid.NewString(),
		Date:      testDate,
		SlotID:    "0900",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCancelFreesSlotAndIsFinal(t *testing.T) {
	env := newTestEnv(t)
	env.publishMorning(t)
	patient := uuid.New()

	rec := env.book(t, patient, "0900")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[CreateAppointmentResponse](t, rec).ID

	rec = env.do(t, http.MethodPost, "/appointments/"+id.String()+"/cancel", patient, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode[AppointmentResponse](t, rec).Status)

	sl, err := env.slots.Get(context.Background(), slot.Key{DoctorID: env.doctorID, Date: testDate, SlotID: "0900"})
	require.NoError(t, err)
	assert.Equal(t, slot.StatusFree, sl.Status)

	rec = env.do(t, http.MethodPost, "/appointments/"+id.String()+"/cancel", patient, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_final", decode[ErrorResponse](t, rec).Error)
}

func TestStatusTransitionsAreDoctorOnly(t *testing.T) {
	env := newTestEnv(t)
	env.publishMorning(t)
	patient := uuid.New()

	rec := env.book(t, patient, "0930")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[CreateAppointmentResponse](t, rec).ID

	rec = env.do(t, http.MethodPost, "/appointments/"+id.String()+"/confirm", patient, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// completing a pending appointment skips confirmation
	rec = env.do(t, http.MethodPost, "/appointments/"+id.String()+"/status", env.doctorID, SetStatusRequest{Status: "completed"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/appointments/"+id.String()+"/confirm", env.doctorID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", decode[AppointmentResponse](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/appointments/"+id.String()+"/status", env.doctorID, SetStatusRequest{Status: "completed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode[AppointmentResponse](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/appointments/"+id.String()+"/status", env.doctorID, SetStatusRequest{Status: "done"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownAppointmentIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/appointments/"+uuid.NewString()+"/cancel", uuid.New(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAppointments(t *testing.T) {
	env := newTestEnv(t)
	env.publishMorning(t)
	patient := uuid.New()
	require.Equal(t, http.StatusCreated, env.book(t, patient, "0900").Code)
	require.Equal(t, http.StatusCreated, env.book(t, patient, "0930").Code)

	rec := env.do(t, http.MethodGet, "/appointments?patient_id="+patient.String(), patient, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[AppointmentListResponse](t, rec).Appointments, 2)

	rec = env.do(t, http.MethodGet, "/appointments?doctor_id="+env.doctorID.String()+"&date="+testDate, env.doctorID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[AppointmentListResponse](t, rec).Appointments, 2)

	rec = env.do(t, http.MethodGet, "/appointments?patient_id="+patient.String(), env.doctorID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/appointments?doctor_id="+env.doctorID.String()+"&date=10-01-2025", env.doctorID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_date", decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodGet, "/appointments", patient, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteDayWithReservationConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.publishMorning(t)
	require.Equal(t, http.StatusCreated, env.book(t, uuid.New(), "0900").Code)

	rec := env.do(t, http.MethodDelete, env.dayPath("/slots"), env.doctorID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "day_has_reservations", decode[ErrorResponse](t, rec).Error)
}

func TestDeleteAppointmentOnlyWhenTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.publishMorning(t)
	patient := uuid.New()
	rec := env.book(t, patient, "0900")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[CreateAppointmentResponse](t, rec).ID

	rec = env.do(t, http.MethodDelete, "/appointments/"+id.String(), patient, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/appointments/"+id.String()+"/cancel", patient, nil).Code)

	rec = env.do(t, http.MethodDelete, "/appointments/"+id.String(), patient, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAvailabilityEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.publishMorning(t)
	require.Equal(t, http.StatusCreated, env.book(t, uuid.New(), "0900").Code)

	rec := env.do(t, http.MethodGet, env.dayPath("/availability"), uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	day := decode[slot.AvailabilityDay](t, rec)
	assert.Equal(t, 1, day.FreeCount)
	assert.Equal(t, 1, day.ReservedCount)
	assert.Equal(t, 1, day.BreakCount)

	rec = env.do(t, http.MethodGet, "/doctors/"+env.doctorID.String()+"/availability?from=2025-01-09&to=2025-01-11", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	days := decode[AvailabilityRangeResponse](t, rec).Days
	require.Len(t, days, 3)
	assert.True(t, days[1].HasFree)
	assert.False(t, days[0].HasFree)

	rec = env.do(t, http.MethodGet, "/doctors/"+env.doctorID.String()+"/availability", uuid.Nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	h := NewRouter(RouterConfig{
		Postgres: PingFunc(func(ctx context.Context) error { return nil }),
		Redis:    PingFunc(func(ctx context.Context) error { return context.DeadlineExceeded }),
		Log:      zerolog.Nop(),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Dependencies["postgres"])
	assert.Equal(t, "down", resp.Dependencies["redis"])
}

func TestSlotStreamDeliversReservations(t *testing.T) {
	env := newTestEnv(t)
	env.publishMorning(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+env.dayPath("/slots/stream"), nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	nextEvent := func() string {
		for lines.Scan() {
			if name, ok := strings.CutPrefix(lines.Text(), "event: "); ok {
				return name
			}
		}
		return ""
	}

	require.Equal(t, "connected", nextEvent())

	require.Equal(t, http.StatusCreated, env.book(t, uuid.New(), "0930").Code)
	assert.Equal(t, events.TypeSlotReserved, nextEvent())
}
