package reconcile

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-booking/internal/appointment"
	"github.com/hackgods/slot-booking/internal/metrics"
	"github.com/hackgods/slot-booking/internal/slot"
)

type Kind string

const (
	// reserved slot whose appointment does not exist
	KindOrphanedReservation Kind = "orphaned_reservation"
	// reserved slot whose appointment no longer holds it
	KindStaleReservation Kind = "stale_reservation"
	// reserved slot whose appointment points at another slot
	KindMismatchedReservation Kind = "mismatched_reservation"
	// live appointment whose slot is free
	KindMissingReservation Kind = "missing_reservation"
	// live appointment whose slot is gone or held by someone else
	KindSlotConflict Kind = "slot_conflict"
	// booking could not undo its reservation
	KindCompensationFailed Kind = "compensation_failed"
	// cancellation or no-show could not free the slot
	KindReleaseFailed Kind = "release_failed"
)

// Issue is one detected inconsistency between slots and appointments.
type Issue struct {
	Kind          Kind
	AppointmentID *uuid.UUID
	Slot          slot.Key
	Detail        string
	Repaired      bool
}

type eventWriter interface {
	InsertEvent(ctx context.Context, ev appointment.EventLog) error
}

// Reporter records issues in the event log, logs them and counts them.
type Reporter struct {
	events  eventWriter
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewReporter(events eventWriter, m *metrics.Metrics, log zerolog.Logger) *Reporter {
	return &Reporter{events: events, metrics: m, log: log}
}

func (r *Reporter) Report(ctx context.Context, issue Issue) {
	r.metrics.ObserveViolation(string(issue.Kind))

	evt := r.log.Error()
	if issue.Repaired {
		evt = r.log.Warn()
	}
	if issue.AppointmentID != nil {
		evt = evt.Str("appointment_id", issue.AppointmentID.String())
	}
	evt.Str("kind", string(issue.Kind)).
		Str("slot", issue.Slot.String()).
		Bool("repaired", issue.Repaired).
		Msg(issue.Detail)

	payload, err := json.Marshal(map[string]any{
		"doctor_id": issue.Slot.DoctorID.String(),
		"date":      issue.Slot.Date,
		"slot_id":   issue.Slot.SlotID,
		"detail":    issue.Detail,
		"repaired":  issue.Repaired,
	})
	if err != nil {
		payload = nil
	}

	err = r.events.InsertEvent(ctx, appointment.EventLog{
		EventType:     "RECONCILE_" + strings.ToUpper(string(issue.Kind)),
		AppointmentID: issue.AppointmentID,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		r.log.Error().Err(err).Str("kind", string(issue.Kind)).Msg("failed to record reconcile issue")
	}
}
