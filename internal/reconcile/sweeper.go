package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-booking/internal/appointment"
	"github.com/hackgods/slot-booking/internal/slot"
)

const batchSize = 500

type slotLedger interface {
	Get(ctx context.Context, key slot.Key) (*slot.Slot, error)
	Reserve(ctx context.Context, key slot.Key, appointmentID uuid.UUID) error
	ReleaseFor(ctx context.Context, key slot.Key, appointmentID uuid.UUID) error
	ListReserved(ctx context.Context, before time.Time, limit int) ([]slot.Slot, error)
}

type appointmentLedger interface {
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListLive(ctx context.Context, createdBefore time.Time, limit int) ([]appointment.Appointment, error)
}

type SweeperOptions struct {
	// Grace skips reservations and appointments younger than this, so a
	// booking still between reserve and create is not mistaken for an orphan.
	Grace           time.Duration
	ReleaseOnNoShow bool
}

// Sweeper finds reservations and appointments that disagree and repairs what
// it safely can. Every repair goes through the guarded ledger operations.
type Sweeper struct {
	slots    slotLedger
	appts    appointmentLedger
	reporter *Reporter
	opts     SweeperOptions
	log      zerolog.Logger
	now      func() time.Time
}

func NewSweeper(slots slotLedger, appts appointmentLedger, reporter *Reporter, opts SweeperOptions, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		slots:    slots,
		appts:    appts,
		reporter: reporter,
		opts:     opts,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type Result struct {
	SlotsChecked        int
	AppointmentsChecked int
	Repaired            int
	Unresolved          int
}

func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	var res Result
	cutoff := s.now().Add(-s.opts.Grace)

	reserved, err := s.slots.ListReserved(ctx, cutoff, batchSize)
	if err != nil {
		return res, fmt.Errorf("list reserved slots: %w", err)
	}
	for _, sl := range reserved {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.SlotsChecked++
		s.checkSlot(ctx, sl, &res)
	}

	live, err := s.appts.ListLive(ctx, cutoff, batchSize)
	if err != nil {
		return res, fmt.Errorf("list live appointments: %w", err)
	}
	for _, a := range live {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.AppointmentsChecked++
		s.checkAppointment(ctx, a, &res)
	}

	s.log.Info().
		Int("slots_checked", res.SlotsChecked).
		Int("appointments_checked", res.AppointmentsChecked).
		Int("repaired", res.Repaired).
		Int("unresolved", res.Unresolved).
		Msg("reconcile sweep finished")

	return res, nil
}

func (s *Sweeper) checkSlot(ctx context.Context, sl slot.Slot, res *Result) {
	if sl.AppointmentID == nil {
		return
	}
	apptID := *sl.AppointmentID
	key := sl.Key()

	var kind Kind
	var detail string

	a, err := s.appts.Get(ctx, apptID)
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		kind, detail = KindOrphanedReservation, "reserved slot has no appointment"
	case err != nil:
		s.log.Warn().Err(err).Str("slot", key.String()).Msg("load appointment for reserved slot")
		return
	case a.Status == appointment.StatusCancelled:
		kind, detail = KindStaleReservation, "slot still reserved by a cancelled appointment"
	case a.Status == appointment.StatusNoShow && s.opts.ReleaseOnNoShow:
		kind, detail = KindStaleReservation, "slot still reserved by a no-show appointment"
	case a.DoctorID != key.DoctorID || a.Date != key.Date || a.SlotID != key.SlotID:
		kind, detail = KindMismatchedReservation, "slot reserved by an appointment booked elsewhere"
	default:
		return
	}

	s.repairWithRelease(ctx, key, apptID, kind, detail, res)
}

func (s *Sweeper) repairWithRelease(ctx context.Context, key slot.Key, apptID uuid.UUID, kind Kind, detail string, res *Result) {
	issue := Issue{Kind: kind, AppointmentID: &apptID, Slot: key, Detail: detail}
	if err := s.slots.ReleaseFor(ctx, key, apptID); err != nil {
		issue.Detail = fmt.Sprintf("%s; release failed: %v", detail, err)
		res.Unresolved++
	} else {
		issue.Repaired = true
		res.Repaired++
	}
	s.reporter.Report(ctx, issue)
}

func (s *Sweeper) checkAppointment(ctx context.Context, a appointment.Appointment, res *Result) {
	key := slot.Key{DoctorID: a.DoctorID, Date: a.Date, SlotID: a.SlotID}
	apptID := a.ID

	sl, err := s.slots.Get(ctx, key)
	if errors.Is(err, slot.ErrSlotNotFound) {
		res.Unresolved++
		s.reporter.Report(ctx, Issue{Kind: KindSlotConflict, AppointmentID: &apptID, Slot: key, Detail: "live appointment references a missing slot"})
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("load slot for live appointment")
		return
	}
	if sl.HeldBy(a.ID) {
		return
	}

	if sl.Status == slot.StatusFree {
		issue := Issue{Kind: KindMissingReservation, AppointmentID: &apptID, Slot: key, Detail: "live appointment's slot was free, re-reserved"}
		if err := s.slots.Reserve(ctx, key, a.ID); err != nil {
			issue.Kind = KindSlotConflict
			issue.Detail = fmt.Sprintf("live appointment's slot was free but re-reserve failed: %v", err)
			res.Unresolved++
		} else if detail, ok := s.confirmHolder(ctx, key, a.ID); !ok {
			issue.Detail = detail
			res.Unresolved++
		} else {
			issue.Repaired = true
			res.Repaired++
		}
		s.reporter.Report(ctx, issue)
		return
	}

	res.Unresolved++
	s.reporter.Report(ctx, Issue{Kind: KindSlotConflict, AppointmentID: &apptID, Slot: key, Detail: "live appointment's slot is held by another booking"})
}

// confirmHolder re-reads the appointment after a re-reserve. The live list is a
// snapshot, so a cancel may have committed and freed the slot in between; in
// that case the reservation is undone.
func (s *Sweeper) confirmHolder(ctx context.Context, key slot.Key, apptID uuid.UUID) (string, bool) {
	a, err := s.appts.Get(ctx, apptID)
	if err == nil && s.holdsSlot(a.Status) {
		return "", true
	}

	detail := "appointment left the live set while its slot was re-reserved"
	if err != nil && !errors.Is(err, appointment.ErrAppointmentNotFound) {
		// unknown state: keep the hold, the next sweep looks again
		return fmt.Sprintf("re-reserved slot but could not re-check appointment: %v", err), false
	}
	if relErr := s.slots.ReleaseFor(ctx, key, apptID); relErr != nil {
		detail = fmt.Sprintf("%s; release failed: %v", detail, relErr)
	} else {
		detail += ", released again"
	}
	return detail, false
}

func (s *Sweeper) holdsSlot(status appointment.Status) bool {
	if status == appointment.StatusNoShow {
		return !s.opts.ReleaseOnNoShow
	}
	return status.HoldsSlot()
}
