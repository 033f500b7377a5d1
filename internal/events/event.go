package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TypeSlotReserved   = "slot.reserved"
	TypeSlotReleased   = "slot.released"
	TypeSlotsPublished = "slots.published"
	TypeSlotsDeleted   = "slots.deleted"
)

// Event describes a change to a doctor's slot inventory for one date.
type Event struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	Date          string     `json:"date"`
	SlotID        string     `json:"slot_id,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// Bus fans slot change events out to live subscribers.
type Bus interface {
	Publish(ctx context.Context, channel string, event Event) error
	Subscribe(ctx context.Context, channel string) (<-chan Event, error)
}

// SlotChannel is the pub/sub channel carrying changes for one doctor day.
func SlotChannel(doctorID uuid.UUID, date string) string {
	return fmt.Sprintf("slot-events:%s:%s", doctorID, date)
}
