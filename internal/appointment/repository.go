package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound   = errors.New("appointment not found")
	ErrDuplicateBooking      = errors.New("doctor already has a live appointment at that time")
	ErrAppointmentReferenced = errors.New("appointment is still referenced by a slot")
	ErrAppointmentLive       = errors.New("appointment is not in a terminal state")
	ErrInvalidAppointment    = errors.New("invalid appointment")
)

// Repository contains all DB interactions needed by the ledger.
type Repository interface {
	Create(ctx context.Context, a Appointment) (*Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateStatus writes to only while the stored status is still from.
	// It returns ErrAppointmentNotFound when no row matched.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	// ListByDoctor filters on date unless it is empty.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, date string, limit, offset int) ([]Appointment, error)

	// Reconcile sweep
	ListLive(ctx context.Context, createdBefore time.Time, limit int) ([]Appointment, error)

	Delete(ctx context.Context, id uuid.UUID) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
