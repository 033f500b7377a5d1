package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/slot-booking/internal/appointment"
	"github.com/hackgods/slot-booking/internal/metrics"
	"github.com/hackgods/slot-booking/internal/notify"
	"github.com/hackgods/slot-booking/internal/reconcile"
	"github.com/hackgods/slot-booking/internal/slot"
)

var tracer = otel.Tracer("slotbooking.internal.booking")

var (
	ErrInvalidRequest            = errors.New("invalid booking request")
	ErrSlotUnavailable           = errors.New("slot unavailable")
	ErrAppointmentCreationFailed = errors.New("appointment could not be created")
)

type SlotLedger interface {
	Get(ctx context.Context, key slot.Key) (*slot.Slot, error)
	Reserve(ctx context.Context, key slot.Key, appointmentID uuid.UUID) error
	ReleaseFor(ctx context.Context, key slot.Key, appointmentID uuid.UUID) error
}

type AppointmentLedger interface {
	Create(ctx context.Context, a appointment.Appointment) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Transition(ctx context.Context, id uuid.UUID, to appointment.Status) (*appointment.StatusChange, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Notifier queues a notification without waiting for delivery.
type Notifier interface {
	Send(ctx context.Context, userID uuid.UUID, kind notify.Kind, payload map[string]any)
}

type Counters interface {
	RecordCompleted(ctx context.Context, doctorID, patientID uuid.UUID) error
}

type IssueReporter interface {
	Report(ctx context.Context, issue reconcile.Issue)
}

type Options struct {
	ReserveMaxElapsed      time.Duration
	CompensationMaxElapsed time.Duration
	ReleaseSlotOnNoShow    bool
}

// Coordinator runs the multi-step flows that touch both ledgers: booking,
// cancellation and status changes with side effects.
type Coordinator struct {
	slots    SlotLedger
	appts    AppointmentLedger
	notifier Notifier
	counters Counters
	reporter IssueReporter
	metrics  *metrics.Metrics
	opts     Options
	log      zerolog.Logger
	newID    func() uuid.UUID
}

type Deps struct {
	Slots        SlotLedger
	Appointments AppointmentLedger
	Notifier     Notifier
	Counters     Counters // optional
	Reporter     IssueReporter
	Metrics      *metrics.Metrics // optional
	Log          zerolog.Logger
}

func NewCoordinator(deps Deps, opts Options) *Coordinator {
	if opts.ReserveMaxElapsed <= 0 {
		opts.ReserveMaxElapsed = 3 * time.Second
	}
	if opts.CompensationMaxElapsed <= 0 {
		opts.CompensationMaxElapsed = 30 * time.Second
	}
	return &Coordinator{
		slots:    deps.Slots,
		appts:    deps.Appointments,
		notifier: deps.Notifier,
		counters: deps.Counters,
		reporter: deps.Reporter,
		metrics:  deps.Metrics,
		opts:     opts,
		log:      deps.Log,
		newID:    uuid.New,
	}
}

type BookRequest struct {
	DoctorID    uuid.UUID
	DoctorName  string
	PatientID   uuid.UUID
	PatientName string
	Date        string
	SlotID      string
	Fee         int64
	Symptoms    string
}

func (r BookRequest) validate() error {
	var problems []string
	if r.DoctorID == uuid.Nil {
		problems = append(problems, "doctor_id is required")
	}
	if r.PatientID == uuid.Nil {
		problems = append(problems, "patient_id is required")
	}
	if _, err := slot.ParseDate(r.Date); err != nil {
		problems = append(problems, "date must be YYYY-MM-DD")
	}
	if strings.TrimSpace(r.SlotID) == "" {
		problems = append(problems, "slot_id is required")
	}
	if r.Fee < 0 {
		problems = append(problems, "fee cannot be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

func newBackOff(ctx context.Context, maxElapsed time.Duration) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = maxElapsed
	return backoff.WithContext(b, ctx)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Book reserves the slot first and only then creates the appointment. A
// failed create is undone by releasing the reservation it made.
func (c *Coordinator) Book(ctx context.Context, req BookRequest) (id uuid.UUID, err error) {
	ctx, span := tracer.Start(ctx, "booking.book")
	span.SetAttributes(
		attribute.String("booking.doctor_id", req.DoctorID.String()),
		attribute.String("booking.date", req.Date),
		attribute.String("booking.slot_id", req.SlotID),
	)
	defer func() { endSpan(span, err) }()

	started := time.Now()
	id, err = c.book(ctx, req)
	c.metrics.ObserveBooking(bookingOutcome(err), time.Since(started))
	return id, err
}

func bookingOutcome(err error) string {
	switch {
	case err == nil:
		return "booked"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrAppointmentCreationFailed):
		return "creation_failed"
	}
	return "error"
}

func (c *Coordinator) book(ctx context.Context, req BookRequest) (uuid.UUID, error) {
	if err := req.validate(); err != nil {
		return uuid.Nil, err
	}

	apptID := c.newID()
	key := slot.Key{DoctorID: req.DoctorID, Date: req.Date, SlotID: req.SlotID}
	log := c.log.With().
		Str("appointment_id", apptID.String()).
		Str("slot", key.String()).
		Logger()

	// Reserving again with the same id is idempotent, so a retry after an
	// ambiguous failure cannot take the slot twice.
	err := backoff.Retry(func() error {
		err := c.slots.Reserve(ctx, key, apptID)
		if errors.Is(err, slot.ErrAlreadyReserved) || errors.Is(err, slot.ErrSlotNotFound) || errors.Is(err, slot.ErrInvalidSlot) {
			return backoff.Permanent(err)
		}
		return err
	}, newBackOff(ctx, c.opts.ReserveMaxElapsed))
	if err != nil {
		if errors.Is(err, slot.ErrAlreadyReserved) || errors.Is(err, slot.ErrSlotNotFound) {
			return uuid.Nil, fmt.Errorf("%w: %v", ErrSlotUnavailable, err)
		}
		if errors.Is(err, slot.ErrInvalidSlot) {
			return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		// the last attempt may still have committed
		log.Warn().Err(err).Msg("reserve failed, releasing any reservation it left")
		c.compensate(ctx, key, apptID, reconcile.KindCompensationFailed)
		return uuid.Nil, fmt.Errorf("%w: reserve slot: %v", ErrAppointmentCreationFailed, err)
	}

	reserved, err := c.slots.Get(ctx, key)
	if err != nil || !reserved.HeldBy(apptID) {
		if err == nil {
			err = errors.New("reservation not visible after reserve")
		}
		log.Error().Err(err).Msg("load reserved slot")
		c.compensate(ctx, key, apptID, reconcile.KindCompensationFailed)
		return uuid.Nil, fmt.Errorf("%w: %v", ErrAppointmentCreationFailed, err)
	}

	created, err := c.appts.Create(ctx, appointment.Appointment{
		ID:          apptID,
		DoctorID:    req.DoctorID,
		DoctorName:  req.DoctorName,
		PatientID:   req.PatientID,
		PatientName: req.PatientName,
		Date:        req.Date,
		SlotID:      req.SlotID,
		StartTime:   reserved.StartTime,
		EndTime:     reserved.EndTime,
		Fee:         req.Fee,
		Symptoms:    req.Symptoms,
	})
	if err != nil {
		created = c.recoverCreate(ctx, apptID, err)
	}
	if created == nil {
		log.Warn().Err(err).Msg("appointment create failed, compensating")
		c.compensate(ctx, key, apptID, reconcile.KindCompensationFailed)

		switch {
		case errors.Is(err, appointment.ErrInvalidAppointment):
			return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		case errors.Is(err, appointment.ErrDuplicateBooking):
			return uuid.Nil, fmt.Errorf("%w: %v", ErrSlotUnavailable, err)
		}
		return uuid.Nil, fmt.Errorf("%w: %v", ErrAppointmentCreationFailed, err)
	}

	log.Info().Str("patient_id", req.PatientID.String()).Msg("appointment booked")

	payload := appointmentPayload(created)
	c.send(ctx, created.PatientID, notify.KindAppointmentBooked, payload)
	c.send(ctx, created.DoctorID, notify.KindAppointmentBooked, payload)

	return created.ID, nil
}

// recoverCreate checks whether a create that reported an error committed anyway.
func (c *Coordinator) recoverCreate(ctx context.Context, apptID uuid.UUID, createErr error) *appointment.Appointment {
	if errors.Is(createErr, appointment.ErrInvalidAppointment) || errors.Is(createErr, appointment.ErrDuplicateBooking) {
		return nil
	}
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	existing, err := c.appts.Get(lookupCtx, apptID)
	if err != nil {
		return nil
	}
	c.log.Info().Str("appointment_id", apptID.String()).Msg("create reported an error but the appointment exists")
	return existing
}

// compensate releases the reservation held by apptID, retrying with backoff.
// It runs detached from the caller's cancellation so an abandoned request
// still cleans up. Exhaustion is reported for the reconcile sweep.
func (c *Coordinator) compensate(ctx context.Context, key slot.Key, apptID uuid.UUID, kind reconcile.Kind) {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CompensationMaxElapsed+5*time.Second)
	defer cancel()

	err := backoff.Retry(func() error {
		err := c.slots.ReleaseFor(detached, key, apptID)
		if errors.Is(err, slot.ErrSlotNotFound) {
			return nil
		}
		return err
	}, newBackOff(detached, c.opts.CompensationMaxElapsed))
	if err == nil {
		c.metrics.ObserveCompensation("released")
		return
	}

	c.metrics.ObserveCompensation("exhausted")
	c.log.Error().Err(err).
		Str("appointment_id", apptID.String()).
		Str("slot", key.String()).
		Msg("could not release slot, leaving it for reconciliation")

	if c.reporter == nil {
		return
	}
	id := apptID
	c.reporter.Report(detached, reconcile.Issue{
		Kind:          kind,
		AppointmentID: &id,
		Slot:          key,
		Detail:        fmt.Sprintf("release retries exhausted: %v", err),
	})
}

// Cancel invalidates the appointment before releasing its slot, so a slot is
// never free while a live appointment still claims it.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID, actorID uuid.UUID) (a *appointment.Appointment, err error) {
	ctx, span := tracer.Start(ctx, "booking.cancel")
	span.SetAttributes(attribute.String("booking.appointment_id", id.String()))
	defer func() { endSpan(span, err) }()

	change, err := c.appts.Transition(ctx, id, appointment.StatusCancelled)
	if err != nil {
		return nil, err
	}
	a = change.Appointment
	c.metrics.ObserveTransition(string(change.From), string(a.Status))

	c.compensate(ctx, slotKey(a), a.ID, reconcile.KindReleaseFailed)

	payload := appointmentPayload(a)
	switch actorID {
	case a.PatientID:
		c.send(ctx, a.DoctorID, notify.KindAppointmentCancelled, payload)
	case a.DoctorID:
		c.send(ctx, a.PatientID, notify.KindAppointmentCancelled, payload)
	default:
		c.send(ctx, a.PatientID, notify.KindAppointmentCancelled, payload)
		c.send(ctx, a.DoctorID, notify.KindAppointmentCancelled, payload)
	}

	return a, nil
}

// SetStatus applies a lifecycle transition and its side effects.
// Cancellation is routed through Cancel.
func (c *Coordinator) SetStatus(ctx context.Context, id uuid.UUID, to appointment.Status, actorID uuid.UUID) (a *appointment.Appointment, err error) {
	if to == appointment.StatusCancelled {
		return c.Cancel(ctx, id, actorID)
	}

	ctx, span := tracer.Start(ctx, "booking.set_status")
	span.SetAttributes(
		attribute.String("booking.appointment_id", id.String()),
		attribute.String("booking.to", string(to)),
	)
	defer func() { endSpan(span, err) }()

	change, err := c.appts.Transition(ctx, id, to)
	if err != nil {
		return nil, err
	}
	a = change.Appointment
	c.metrics.ObserveTransition(string(change.From), string(a.Status))

	payload := appointmentPayload(a)
	switch to {
	case appointment.StatusConfirmed:
		c.send(ctx, a.PatientID, notify.KindAppointmentConfirmed, payload)
	case appointment.StatusCompleted:
		if c.counters != nil {
			if err := c.counters.RecordCompleted(ctx, a.DoctorID, a.PatientID); err != nil {
				c.log.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("failed to update visit counters")
			}
		}
		c.send(ctx, a.PatientID, notify.KindAppointmentCompleted, payload)
	case appointment.StatusNoShow:
		if c.opts.ReleaseSlotOnNoShow {
			c.compensate(ctx, slotKey(a), a.ID, reconcile.KindReleaseFailed)
		}
		c.send(ctx, a.DoctorID, notify.KindAppointmentNoShow, payload)
	}

	return a, nil
}

// DeleteAppointment removes a terminal appointment that no slot still points at.
func (c *Coordinator) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	a, err := c.appts.Get(ctx, id)
	if err != nil {
		return err
	}

	sl, err := c.slots.Get(ctx, slotKey(a))
	switch {
	case err == nil && sl.HeldBy(a.ID):
		return appointment.ErrAppointmentReferenced
	case err != nil && !errors.Is(err, slot.ErrSlotNotFound):
		return fmt.Errorf("load slot: %w", err)
	}

	return c.appts.Delete(ctx, id)
}

func (c *Coordinator) send(ctx context.Context, userID uuid.UUID, kind notify.Kind, payload map[string]any) {
	if c.notifier == nil {
		return
	}
	c.notifier.Send(ctx, userID, kind, payload)
}

func slotKey(a *appointment.Appointment) slot.Key {
	return slot.Key{DoctorID: a.DoctorID, Date: a.Date, SlotID: a.SlotID}
}

func appointmentPayload(a *appointment.Appointment) map[string]any {
	return map[string]any{
		"appointment_id": a.ID.String(),
		"doctor_id":      a.DoctorID.String(),
		"doctor_name":    a.DoctorName,
		"patient_id":     a.PatientID.String(),
		"patient_name":   a.PatientName,
		"date":           a.Date,
		"start_time":     a.StartTime,
		"end_time":       a.EndTime,
		"status":         string(a.Status),
	}
}
