package slot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSlotNotFound       = errors.New("slot not found")
	ErrAlreadyReserved    = errors.New("slot already reserved")
	ErrDayHasReservations = errors.New("day has reserved slots")
)

// Expectation is the predicate a compare-and-swap checks against the stored slot.
// A nil AppointmentID matches any holder.
type Expectation struct {
	Status        Status
	AppointmentID *uuid.UUID
}

// Change is the state written when the expectation holds. Reserving sets
// AppointmentID and stamps At as the reservation time; freeing clears both.
type Change struct {
	Status        Status
	AppointmentID *uuid.UUID
	At            time.Time
}

// Store is the persistence contract behind the slot ledger. CompareAndSwap is
// the only operation that must be atomic; it reports swapped=false without an
// error when the slot is missing or does not match the expectation.
type Store interface {
	Get(ctx context.Context, key Key) (*Slot, error)
	ListDay(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, error)
	ListDays(ctx context.Context, doctorID uuid.UUID, from, to string) ([]Slot, error)

	// ReplaceDay drops every non-reserved slot of the day and inserts slots.
	// Reserved slots survive and an incoming slot sharing a reserved slot's id is skipped.
	ReplaceDay(ctx context.Context, doctorID uuid.UUID, date string, slots []Slot) error

	// DeleteDay removes the day's slots and fails with ErrDayHasReservations
	// while any of them is reserved.
	DeleteDay(ctx context.Context, doctorID uuid.UUID, date string) error

	CompareAndSwap(ctx context.Context, key Key, expect Expectation, change Change) (bool, error)

	// ListReserved returns reserved slots whose reservation predates before.
	ListReserved(ctx context.Context, before time.Time, limit int) ([]Slot, error)
}
