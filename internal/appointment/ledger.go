package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EventAppointmentCreated = "APPOINTMENT_CREATED"
	EventAppointmentDeleted = "APPOINTMENT_DELETED"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyFinal      = errors.New("appointment is already in a final state")
	ErrTransitionRace    = errors.New("appointment status kept changing, please retry")
)

// maxTransitionAttempts bounds re-reads after losing a conditional update.
const maxTransitionAttempts = 3

// TransitionError describes a rejected status change. It matches
// ErrInvalidTransition, and ErrAlreadyFinal as well when From is terminal.
type TransitionError struct {
	ID   uuid.UUID
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("appointment %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	switch target {
	case ErrInvalidTransition:
		return true
	case ErrAlreadyFinal:
		return e.From.Terminal()
	}
	return false
}

// StatusChange is the outcome of a committed transition.
type StatusChange struct {
	Appointment *Appointment
	From        Status
}

// Ledger owns the appointment lifecycle. It never writes a status that is not
// an edge of the transition table.
type Ledger struct {
	repo Repository
	log  zerolog.Logger
	now  func() time.Time
}

func NewLedger(repo Repository, log zerolog.Logger) *Ledger {
	return &Ledger{
		repo: repo,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func validate(a Appointment) error {
	switch {
	case a.ID == uuid.Nil:
		return fmt.Errorf("%w: id is required", ErrInvalidAppointment)
	case a.DoctorID == uuid.Nil:
		return fmt.Errorf("%w: doctor_id is required", ErrInvalidAppointment)
	case a.PatientID == uuid.Nil:
		return fmt.Errorf("%w: patient_id is required", ErrInvalidAppointment)
	case a.Date == "" || a.SlotID == "":
		return fmt.Errorf("%w: date and slot_id are required", ErrInvalidAppointment)
	case a.StartTime == "" || a.EndTime == "":
		return fmt.Errorf("%w: start_time and end_time are required", ErrInvalidAppointment)
	case a.Fee < 0:
		return fmt.Errorf("%w: fee cannot be negative", ErrInvalidAppointment)
	}
	return nil
}

// Create stores a new pending appointment under the caller-chosen id.
func (l *Ledger) Create(ctx context.Context, a Appointment) (*Appointment, error) {
	a.Status = StatusPending
	if err := validate(a); err != nil {
		return nil, err
	}

	created, err := l.repo.Create(ctx, a)
	if err != nil {
		if errors.Is(err, ErrDuplicateBooking) {
			return nil, err
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	l.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"doctor_id":  created.DoctorID.String(),
		"patient_id": created.PatientID.String(),
		"date":       created.Date,
		"slot_id":    created.SlotID,
	})

	return created, nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := l.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (l *Ledger) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	out, err := l.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return out, nil
}

func (l *Ledger) ListByDoctor(ctx context.Context, doctorID uuid.UUID, date string, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	out, err := l.repo.ListByDoctor(ctx, doctorID, date, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return out, nil
}

// ListLive returns pending and confirmed appointments created before the cutoff.
func (l *Ledger) ListLive(ctx context.Context, createdBefore time.Time, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 500
	}
	out, err := l.repo.ListLive(ctx, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list live appointments: %w", err)
	}
	return out, nil
}

// Transition moves an appointment to status to. The write is conditional on
// the status that was validated; losing that race re-reads and re-validates.
func (l *Ledger) Transition(ctx context.Context, id uuid.UUID, to Status) (*StatusChange, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		current, err := l.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !CanTransition(current.Status, to) {
			return nil, &TransitionError{ID: id, From: current.Status, To: to}
		}

		updated, err := l.repo.UpdateStatus(ctx, id, current.Status, to)
		if errors.Is(err, ErrAppointmentNotFound) {
			l.log.Debug().
				Str("appointment_id", id.String()).
				Int("attempt", attempt+1).
				Msg("status changed underneath transition, re-reading")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update appointment status: %w", err)
		}

		l.logEvent(ctx, id, transitionEvent(to), map[string]any{
			"from": string(current.Status),
			"to":   string(to),
		})

		return &StatusChange{Appointment: updated, From: current.Status}, nil
	}

	return nil, ErrTransitionRace
}

func transitionEvent(to Status) string {
	return "APPOINTMENT_" + strings.ToUpper(string(to))
}

// Delete removes a terminal appointment. Callers check slot references first.
func (l *Ledger) Delete(ctx context.Context, id uuid.UUID) error {
	current, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if !current.Status.Terminal() {
		return ErrAppointmentLive
	}

	if err := l.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return err
		}
		return fmt.Errorf("delete appointment: %w", err)
	}

	l.logEvent(ctx, id, EventAppointmentDeleted, map[string]any{"status": string(current.Status)})
	return nil
}

func (l *Ledger) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		l.log.Warn().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     l.now(),
	}

	if err := l.repo.InsertEvent(ctx, ev); err != nil {
		l.log.Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
