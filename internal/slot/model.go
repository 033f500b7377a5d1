package slot

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusFree     Status = "free"
	StatusReserved Status = "reserved"
	StatusBreak    Status = "break"
)

func (s Status) Valid() bool {
	switch s {
	case StatusFree, StatusReserved, StatusBreak:
		return true
	}
	return false
}

const DateLayout = "2006-01-02"

const (
	SessionMorning   = "morning"
	SessionAfternoon = "afternoon"
	SessionEvening   = "evening"
)

var ErrInvalidSlot = errors.New("invalid slot")

// Key identifies one slot in a doctor's schedule.
type Key struct {
	DoctorID uuid.UUID
	Date     string
	SlotID   string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.DoctorID, k.Date, k.SlotID)
}

type Slot struct {
	DoctorID      uuid.UUID  `json:"doctor_id"`
	Date          string     `json:"date"`
	SlotID        string     `json:"slot_id"`
	Time          string     `json:"time"`
	StartTime     string     `json:"start_time"`
	EndTime       string     `json:"end_time"`
	Session       string     `json:"session"`
	Status        Status     `json:"status"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	ReservedAt    *time.Time `json:"reserved_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (s Slot) Key() Key {
	return Key{DoctorID: s.DoctorID, Date: s.Date, SlotID: s.SlotID}
}

// HeldBy reports whether the slot is reserved for the given appointment.
func (s Slot) HeldBy(appointmentID uuid.UUID) bool {
	return s.Status == StatusReserved && s.AppointmentID != nil && *s.AppointmentID == appointmentID
}

// AvailabilityDay summarises one doctor day for calendar views. It is always
// computed from the stored slots and never written back.
type AvailabilityDay struct {
	DoctorID      uuid.UUID `json:"doctor_id"`
	Date          string    `json:"date"`
	IsDayOff      bool      `json:"is_day_off"`
	HasFree       bool      `json:"has_free"`
	HasReserved   bool      `json:"has_reserved"`
	FreeCount     int       `json:"free_count"`
	ReservedCount int       `json:"reserved_count"`
	BreakCount    int       `json:"break_count"`
}

func summarize(doctorID uuid.UUID, date string, slots []Slot) AvailabilityDay {
	day := AvailabilityDay{DoctorID: doctorID, Date: date}
	for _, s := range slots {
		switch s.Status {
		case StatusFree:
			day.FreeCount++
		case StatusReserved:
			day.ReservedCount++
		case StatusBreak:
			day.BreakCount++
		}
	}
	day.HasFree = day.FreeCount > 0
	day.HasReserved = day.ReservedCount > 0
	day.IsDayOff = len(slots) > 0 && day.BreakCount == len(slots)
	return day
}

// ParseDate validates a YYYY-MM-DD calendar date.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidSlot, date)
	}
	return t, nil
}

// clockMinutes parses an HH:MM wall clock time into minutes after midnight.
func clockMinutes(v string) (int, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidSlot, v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: time %q has an invalid hour", ErrInvalidSlot, v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: time %q has invalid minutes", ErrInvalidSlot, v)
	}
	return h*60 + m, nil
}

func sessionFor(startMinutes int) string {
	switch {
	case startMinutes < 12*60:
		return SessionMorning
	case startMinutes < 17*60:
		return SessionAfternoon
	default:
		return SessionEvening
	}
}

// normalize validates a slot submitted for publication and fills derived fields.
func normalize(doctorID uuid.UUID, date string, s Slot) (Slot, error) {
	if strings.TrimSpace(s.SlotID) == "" {
		return Slot{}, fmt.Errorf("%w: slot_id is required", ErrInvalidSlot)
	}
	start, err := clockMinutes(s.StartTime)
	if err != nil {
		return Slot{}, err
	}
	end, err := clockMinutes(s.EndTime)
	if err != nil {
		return Slot{}, err
	}
	if start >= end {
		return Slot{}, fmt.Errorf("%w: slot %s starts at or after its end", ErrInvalidSlot, s.SlotID)
	}

	switch s.Status {
	case "":
		s.Status = StatusFree
	case StatusFree, StatusBreak:
	default:
		return Slot{}, fmt.Errorf("%w: slot %s cannot be published as %q", ErrInvalidSlot, s.SlotID, s.Status)
	}

	s.DoctorID = doctorID
	s.Date = date
	s.AppointmentID = nil
	s.ReservedAt = nil
	if s.Time == "" {
		s.Time = s.StartTime
	}
	if s.Session == "" {
		s.Session = sessionFor(start)
	}
	return s, nil
}

func overlaps(a, b Slot) bool {
	aStart, err1 := clockMinutes(a.StartTime)
	aEnd, err2 := clockMinutes(a.EndTime)
	bStart, err3 := clockMinutes(b.StartTime)
	bEnd, err4 := clockMinutes(b.EndTime)
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return false
	}
	return aStart < bEnd && bStart < aEnd
}

func sortByStart(slots []Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].StartTime == slots[j].StartTime {
			return slots[i].SlotID < slots[j].SlotID
		}
		return slots[i].StartTime < slots[j].StartTime
	})
}
