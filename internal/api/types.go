package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-booking/internal/appointment"
	"github.com/hackgods/slot-booking/internal/slot"
)

type SlotInput struct {
	SlotID    string `json:"slot_id"`
	Time      string `json:"time,omitempty"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Session   string `json:"session,omitempty"`
	Status    string `json:"status,omitempty"`
}

type PublishSlotsRequest struct {
	Slots []SlotInput `json:"slots"`
}

type SlotsResponse struct {
	DoctorID uuid.UUID   `json:"doctor_id"`
	Date     string      `json:"date"`
	Slots    []slot.Slot `json:"slots"`
}

type AvailabilityRangeResponse struct {
	DoctorID uuid.UUID              `json:"doctor_id"`
	From     string                 `json:"from"`
	To       string                 `json:"to"`
	Days     []slot.AvailabilityDay `json:"days"`
}

type CreateAppointmentRequest struct {
	DoctorID    string `json:"doctor_id"`
	DoctorName  string `json:"doctor_name"`
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name"`
	Date        string `json:"date"`
	SlotID      string `json:"slot_id"`
	Fee         int64  `json:"fee"`
	Symptoms    string `json:"symptoms"`
}

type CreateAppointmentResponse struct {
	ID uuid.UUID `json:"id"`
}

type SetStatusRequest struct {
	Status string `json:"status"`
}

type AppointmentResponse struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	DoctorName  string    `json:"doctor_name,omitempty"`
	PatientID   uuid.UUID `json:"patient_id"`
	PatientName string    `json:"patient_name,omitempty"`
	Date        string    `json:"date"`
	SlotID      string    `json:"slot_id"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	Fee         int64     `json:"fee"`
	Status      string    `json:"status"`
	Symptoms    string    `json:"symptoms,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		DoctorID:    a.DoctorID,
		DoctorName:  a.DoctorName,
		PatientID:   a.PatientID,
		PatientName: a.PatientName,
		Date:        a.Date,
		SlotID:      a.SlotID,
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		Fee:         a.Fee,
		Status:      string(a.Status),
		Symptoms:    a.Symptoms,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func toSlots(in []SlotInput) []slot.Slot {
	out := make([]slot.Slot, 0, len(in))
	for _, s := range in {
		out = append(out, slot.Slot{
			SlotID:    s.SlotID,
			Time:      s.Time,
			StartTime: s.StartTime,
			EndTime:   s.EndTime,
			Session:   s.Session,
			Status:    slot.Status(s.Status),
		})
	}
	return out
}
