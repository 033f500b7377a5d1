package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-booking/internal/events"
)

const maxAvailabilityRangeDays = 62

// Ledger is the only writer of slot state. Every mutation of a single slot
// goes through Store.CompareAndSwap; the ledger itself holds no locks.
type Ledger struct {
	store Store
	bus   events.Bus
	log   zerolog.Logger
	now   func() time.Time
}

// NewLedger builds a ledger. bus may be nil when no live stream is wanted.
func NewLedger(store Store, bus events.Bus, log zerolog.Logger) *Ledger {
	return &Ledger{
		store: store,
		bus:   bus,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Publish replaces the free and break slots of a doctor day. Reserved slots are
// kept even when omitted, and incoming slots colliding with them are dropped.
func (l *Ledger) Publish(ctx context.Context, doctorID uuid.UUID, date string, slots []Slot) ([]Slot, error) {
	if doctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctor_id is required", ErrInvalidSlot)
	}
	if _, err := ParseDate(date); err != nil {
		return nil, err
	}

	incoming := make([]Slot, 0, len(slots))
	seen := make(map[string]struct{}, len(slots))
	for _, s := range slots {
		n, err := normalize(doctorID, date, s)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[n.SlotID]; dup {
			return nil, fmt.Errorf("%w: duplicate slot_id %s", ErrInvalidSlot, n.SlotID)
		}
		for _, other := range incoming {
			if overlaps(n, other) {
				return nil, fmt.Errorf("%w: slots %s and %s overlap", ErrInvalidSlot, other.SlotID, n.SlotID)
			}
		}
		seen[n.SlotID] = struct{}{}
		n.UpdatedAt = l.now()
		incoming = append(incoming, n)
	}

	existing, err := l.store.ListDay(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load existing slots: %w", err)
	}

	kept := incoming[:0]
	for _, n := range incoming {
		if collidesWithReservation(n, existing) {
			l.log.Info().
				Str("doctor_id", doctorID.String()).
				Str("date", date).
				Str("slot_id", n.SlotID).
				Msg("keeping reserved slot over republished one")
			continue
		}
		kept = append(kept, n)
	}

	if err := l.store.ReplaceDay(ctx, doctorID, date, kept); err != nil {
		return nil, fmt.Errorf("replace slots: %w", err)
	}

	l.emit(ctx, events.Event{Type: events.TypeSlotsPublished, DoctorID: doctorID, Date: date})

	return l.List(ctx, doctorID, date)
}

func collidesWithReservation(s Slot, existing []Slot) bool {
	for _, e := range existing {
		if e.Status != StatusReserved {
			continue
		}
		if e.SlotID == s.SlotID || overlaps(e, s) {
			return true
		}
	}
	return false
}

// List returns every slot of the day ordered by start time.
func (l *Ledger) List(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, error) {
	if _, err := ParseDate(date); err != nil {
		return nil, err
	}
	slots, err := l.store.ListDay(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	sortByStart(slots)
	return slots, nil
}

// ListFree returns the bookable slots of the day ordered by start time.
func (l *Ledger) ListFree(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, error) {
	slots, err := l.List(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	free := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if s.Status == StatusFree {
			free = append(free, s)
		}
	}
	return free, nil
}

func (l *Ledger) Get(ctx context.Context, key Key) (*Slot, error) {
	return l.store.Get(ctx, key)
}

// Reserve atomically moves a free slot to reserved for appointmentID.
// Reserving a slot already held by the same appointment succeeds, so callers
// may retry after an ambiguous failure with the same id.
func (l *Ledger) Reserve(ctx context.Context, key Key, appointmentID uuid.UUID) error {
	if appointmentID == uuid.Nil {
		return fmt.Errorf("%w: appointment id is required", ErrInvalidSlot)
	}

	id := appointmentID
	swapped, err := l.store.CompareAndSwap(ctx, key,
		Expectation{Status: StatusFree},
		Change{Status: StatusReserved, AppointmentID: &id, At: l.now()},
	)
	if err != nil {
		return fmt.Errorf("reserve slot %s: %w", key, err)
	}
	if swapped {
		l.emit(ctx, events.Event{Type: events.TypeSlotReserved, DoctorID: key.DoctorID, Date: key.Date, SlotID: key.SlotID, AppointmentID: &id})
		return nil
	}

	current, err := l.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if current.HeldBy(appointmentID) {
		return nil
	}
	return ErrAlreadyReserved
}

// Release frees a reserved slot whoever holds it. Free and break slots are left as they are.
func (l *Ledger) Release(ctx context.Context, key Key) error {
	return l.release(ctx, key, Expectation{Status: StatusReserved})
}

// ReleaseFor frees the slot only while it is still held by appointmentID, so a
// retried compensation never unbooks a later reservation.
func (l *Ledger) ReleaseFor(ctx context.Context, key Key, appointmentID uuid.UUID) error {
	id := appointmentID
	return l.release(ctx, key, Expectation{Status: StatusReserved, AppointmentID: &id})
}

func (l *Ledger) release(ctx context.Context, key Key, expect Expectation) error {
	swapped, err := l.store.CompareAndSwap(ctx, key, expect, Change{Status: StatusFree, At: l.now()})
	if err != nil {
		return fmt.Errorf("release slot %s: %w", key, err)
	}
	if swapped {
		l.emit(ctx, events.Event{Type: events.TypeSlotReleased, DoctorID: key.DoctorID, Date: key.Date, SlotID: key.SlotID, AppointmentID: expect.AppointmentID})
		return nil
	}

	if _, err := l.store.Get(ctx, key); err != nil {
		return err
	}
	return nil
}

// DeleteDay removes a day's slots when none of them is reserved.
func (l *Ledger) DeleteDay(ctx context.Context, doctorID uuid.UUID, date string) error {
	if _, err := ParseDate(date); err != nil {
		return err
	}
	if err := l.store.DeleteDay(ctx, doctorID, date); err != nil {
		if errors.Is(err, ErrDayHasReservations) {
			return err
		}
		return fmt.Errorf("delete slots: %w", err)
	}
	l.emit(ctx, events.Event{Type: events.TypeSlotsDeleted, DoctorID: doctorID, Date: date})
	return nil
}

func (l *Ledger) Availability(ctx context.Context, doctorID uuid.UUID, date string) (AvailabilityDay, error) {
	slots, err := l.List(ctx, doctorID, date)
	if err != nil {
		return AvailabilityDay{}, err
	}
	return summarize(doctorID, date, slots), nil
}

// AvailabilityRange summarises every date in [from, to].
func (l *Ledger) AvailabilityRange(ctx context.Context, doctorID uuid.UUID, from, to string) ([]AvailabilityDay, error) {
	start, err := ParseDate(from)
	if err != nil {
		return nil, err
	}
	end, err := ParseDate(to)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: range ends before it starts", ErrInvalidSlot)
	}
	if end.Sub(start) > maxAvailabilityRangeDays*24*time.Hour {
		return nil, fmt.Errorf("%w: range exceeds %d days", ErrInvalidSlot, maxAvailabilityRangeDays)
	}

	slots, err := l.store.ListDays(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	byDate := make(map[string][]Slot)
	for _, s := range slots {
		byDate[s.Date] = append(byDate[s.Date], s)
	}

	var days []AvailabilityDay
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format(DateLayout)
		days = append(days, summarize(doctorID, date, byDate[date]))
	}
	return days, nil
}

// ListReserved feeds the reconciliation sweep.
func (l *Ledger) ListReserved(ctx context.Context, before time.Time, limit int) ([]Slot, error) {
	if limit <= 0 {
		limit = 500
	}
	return l.store.ListReserved(ctx, before, limit)
}

func (l *Ledger) emit(ctx context.Context, ev events.Event) {
	if l.bus == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.OccurredAt = l.now()
	if err := l.bus.Publish(ctx, events.SlotChannel(ev.DoctorID, ev.Date), ev); err != nil {
		l.log.Warn().Err(err).Str("event_type", ev.Type).Msg("failed to publish slot event")
	}
}
