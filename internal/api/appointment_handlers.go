package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/slot-booking/internal/appointment"
	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/identity"
	"github.com/hackgods/slot-booking/internal/slot"
)

type AppointmentReader interface {
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, date string, limit, offset int) ([]appointment.Appointment, error)
}

type BookingService interface {
	Book(ctx context.Context, req booking.BookRequest) (uuid.UUID, error)
	Cancel(ctx context.Context, id uuid.UUID, actorID uuid.UUID) (*appointment.Appointment, error)
	SetStatus(ctx context.Context, id uuid.UUID, to appointment.Status, actorID uuid.UUID) (*appointment.Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
}

func caller(r *http.Request) (uuid.UUID, error) {
	id, ok := identity.CurrentUserID(r.Context())
	if !ok {
		return uuid.Nil, errUnauthenticated
	}
	return id, nil
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// loadForParty returns the appointment when the caller is its patient or doctor.
func loadForParty(r *http.Request, appts AppointmentReader, id uuid.UUID) (*appointment.Appointment, uuid.UUID, error) {
	actor, err := caller(r)
	if err != nil {
		return nil, uuid.Nil, err
	}
	a, err := appts.Get(r.Context(), id)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if actor != a.PatientID && actor != a.DoctorID {
		return nil, uuid.Nil, errForbidden
	}
	return a, actor, nil
}

func createAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := caller(r)
		if err != nil {
			handleError(w, err)
			return
		}

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		// patients book for themselves; patient_id may be omitted
		patientID := actor
		if req.PatientID != "" {
			patientID, err = uuid.Parse(req.PatientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			if patientID != actor {
				handleError(w, errForbidden)
				return
			}
		}

		id, err := svc.Book(r.Context(), booking.BookRequest{
			DoctorID:    doctorID,
			DoctorName:  req.DoctorName,
			PatientID:   patientID,
			PatientName: req.PatientName,
			Date:        req.Date,
			SlotID:      req.SlotID,
			Fee:         req.Fee,
			Symptoms:    req.Symptoms,
		})
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, CreateAppointmentResponse{ID: id})
	}
}

func getAppointmentHandler(appts AppointmentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		a, _, err := loadForParty(r, appts, id)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(a))
	}
}

func pageParams(r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, false
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

// listAppointmentsHandler serves ?patient_id= or ?doctor_id=[&date=]. Callers
// can only list their own appointments.
func listAppointmentsHandler(appts AppointmentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := caller(r)
		if err != nil {
			handleError(w, err)
			return
		}
		limit, offset, ok := pageParams(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_pagination", "limit and offset must be non-negative integers")
			return
		}

		q := r.URL.Query()
		var list []appointment.Appointment
		switch {
		case q.Get("patient_id") != "":
			patientID, err := uuid.Parse(q.Get("patient_id"))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			if patientID != actor {
				handleError(w, errForbidden)
				return
			}
			list, err = appts.ListByPatient(r.Context(), patientID, limit, offset)
			if err != nil {
				handleError(w, err)
				return
			}
		case q.Get("doctor_id") != "":
			doctorID, err := uuid.Parse(q.Get("doctor_id"))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			if doctorID != actor {
				handleError(w, errForbidden)
				return
			}
			date := q.Get("date")
			if date != "" {
				if _, err := slot.ParseDate(date); err != nil {
					writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
					return
				}
			}
			list, err = appts.ListByDoctor(r.Context(), doctorID, date, limit, offset)
			if err != nil {
				handleError(w, err)
				return
			}
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "patient_id or doctor_id is required")
			return
		}

		resp := AppointmentListResponse{
			Appointments: make([]AppointmentResponse, 0, len(list)),
			Limit:        limit,
			Offset:       offset,
		}
		for i := range list {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func cancelAppointmentHandler(appts AppointmentReader, svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		_, actor, err := loadForParty(r, appts, id)
		if err != nil {
			handleError(w, err)
			return
		}

		a, err := svc.Cancel(r.Context(), id, actor)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(a))
	}
}

func confirmAppointmentHandler(appts AppointmentReader, svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		applyStatus(w, r, appts, svc, id, appointment.StatusConfirmed)
	}
}

func setStatusHandler(appts AppointmentReader, svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req SetStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		to := appointment.Status(req.Status)
		if !to.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status", "unknown status "+strconv.Quote(req.Status))
			return
		}
		applyStatus(w, r, appts, svc, id, to)
	}
}

// applyStatus lets either party cancel. Every other transition is the doctor's.
func applyStatus(w http.ResponseWriter, r *http.Request, appts AppointmentReader, svc BookingService, id uuid.UUID, to appointment.Status) {
	current, actor, err := loadForParty(r, appts, id)
	if err != nil {
		handleError(w, err)
		return
	}
	if to != appointment.StatusCancelled && actor != current.DoctorID {
		handleError(w, errForbidden)
		return
	}

	a, err := svc.SetStatus(r.Context(), id, to, actor)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(a))
}

func deleteAppointmentHandler(appts AppointmentReader, svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		if _, _, err := loadForParty(r, appts, id); err != nil {
			handleError(w, err)
			return
		}

		if err := svc.DeleteAppointment(r.Context(), id); err != nil {
			handleError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
