package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/slot-booking/internal/identity"
	"github.com/hackgods/slot-booking/internal/slot"
)

type SlotService interface {
	Publish(ctx context.Context, doctorID uuid.UUID, date string, slots []slot.Slot) ([]slot.Slot, error)
	List(ctx context.Context, doctorID uuid.UUID, date string) ([]slot.Slot, error)
	ListFree(ctx context.Context, doctorID uuid.UUID, date string) ([]slot.Slot, error)
	DeleteDay(ctx context.Context, doctorID uuid.UUID, date string) error
	Availability(ctx context.Context, doctorID uuid.UUID, date string) (slot.AvailabilityDay, error)
	AvailabilityRange(ctx context.Context, doctorID uuid.UUID, from, to string) ([]slot.AvailabilityDay, error)
}

func doctorDay(r *http.Request) (uuid.UUID, string, error) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: doctor id must be a valid UUID", slot.ErrInvalidSlot)
	}
	date := chi.URLParam(r, "date")
	if _, err := slot.ParseDate(date); err != nil {
		return uuid.Nil, "", err
	}
	return doctorID, date, nil
}

// requireDoctor lets only the doctor who owns the schedule change it.
func requireDoctor(r *http.Request, doctorID uuid.UUID) error {
	caller, ok := identity.CurrentUserID(r.Context())
	if !ok {
		return errUnauthenticated
	}
	if caller != doctorID {
		return errForbidden
	}
	return nil
}

func publishSlotsHandler(svc SlotService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, date, err := doctorDay(r)
		if err != nil {
			handleError(w, err)
			return
		}
		if err := requireDoctor(r, doctorID); err != nil {
			handleError(w, err)
			return
		}

		var req PublishSlotsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slots, err := svc.Publish(r.Context(), doctorID, date, toSlots(req.Slots))
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: doctorID, Date: date, Slots: slots})
	}
}

func listSlotsHandler(svc SlotService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, date, err := doctorDay(r)
		if err != nil {
			handleError(w, err)
			return
		}

		var slots []slot.Slot
		switch r.URL.Query().Get("status") {
		case "":
			slots, err = svc.List(r.Context(), doctorID, date)
		case string(slot.StatusFree):
			slots, err = svc.ListFree(r.Context(), doctorID, date)
		default:
			writeError(w, http.StatusBadRequest, "invalid_status", "status filter supports only \"free\"")
			return
		}
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: doctorID, Date: date, Slots: nonNil(slots)})
	}
}

func listFreeSlotsHandler(svc SlotService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, date, err := doctorDay(r)
		if err != nil {
			handleError(w, err)
			return
		}

		slots, err := svc.ListFree(r.Context(), doctorID, date)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: doctorID, Date: date, Slots: nonNil(slots)})
	}
}

func deleteSlotsHandler(svc SlotService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, date, err := doctorDay(r)
		if err != nil {
			handleError(w, err)
			return
		}
		if err := requireDoctor(r, doctorID); err != nil {
			handleError(w, err)
			return
		}

		if err := svc.DeleteDay(r.Context(), doctorID, date); err != nil {
			handleError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func dayAvailabilityHandler(svc SlotService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, date, err := doctorDay(r)
		if err != nil {
			handleError(w, err)
			return
		}

		day, err := svc.Availability(r.Context(), doctorID, date)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, day)
	}
}

func availabilityRangeHandler(svc SlotService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor id must be a valid UUID")
			return
		}
		from := r.URL.Query().Get("from")
		to := r.URL.Query().Get("to")
		if from == "" || to == "" {
			writeError(w, http.StatusBadRequest, "invalid_range", "from and to are required")
			return
		}

		days, err := svc.AvailabilityRange(r.Context(), doctorID, from, to)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, AvailabilityRangeResponse{DoctorID: doctorID, From: from, To: to, Days: days})
	}
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
