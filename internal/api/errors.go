package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/hackgods/slot-booking/internal/appointment"
	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/slot"
)

var (
	errForbidden       = errors.New("caller may not act on this resource")
	errUnauthenticated = errors.New("authentication required")
)

func handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
	case errors.Is(err, errForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())

	case errors.Is(err, booking.ErrInvalidRequest),
		errors.Is(err, slot.ErrInvalidSlot),
		errors.Is(err, appointment.ErrInvalidAppointment):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, booking.ErrAppointmentCreationFailed):
		writeError(w, http.StatusServiceUnavailable, "appointment_creation_failed", err.Error())

	case errors.Is(err, slot.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, slot.ErrDayHasReservations):
		writeError(w, http.StatusConflict, "day_has_reservations", err.Error())

	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrAlreadyFinal):
		writeError(w, http.StatusConflict, "already_final", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrAppointmentLive),
		errors.Is(err, appointment.ErrAppointmentReferenced):
		writeError(w, http.StatusConflict, "appointment_in_use", err.Error())
	case errors.Is(err, appointment.ErrTransitionRace):
		writeError(w, http.StatusConflict, "concurrent_update", err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
