package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindAppointmentBooked    Kind = "appointment.booked"
	KindAppointmentConfirmed Kind = "appointment.confirmed"
	KindAppointmentCancelled Kind = "appointment.cancelled"
	KindAppointmentCompleted Kind = "appointment.completed"
	KindAppointmentNoShow    Kind = "appointment.no_show"
)

// Gateway delivers one notification to one user.
type Gateway interface {
	Notify(ctx context.Context, userID uuid.UUID, kind Kind, payload map[string]any) error
}

// Message is the wire shape every gateway serialises.
type Message struct {
	ID        string         `json:"id"`
	UserID    uuid.UUID      `json:"user_id"`
	Kind      Kind           `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func newMessage(userID uuid.UUID, kind Kind, payload map[string]any) Message {
	return Message{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Multi fans a notification out to several gateways and joins their errors.
type Multi []Gateway

func (m Multi) Notify(ctx context.Context, userID uuid.UUID, kind Kind, payload map[string]any) error {
	var errs []error
	for _, g := range m {
		if err := g.Notify(ctx, userID, kind, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
