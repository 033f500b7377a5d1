package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository for tests and local runs. It
// enforces the same live-booking uniqueness as the Postgres partial index.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]Appointment
	events []EventLog
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID: make(map[uuid.UUID]Appointment),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// countsForUniqueness mirrors the WHERE clause of the partial unique index.
func countsForUniqueness(s Status) bool {
	return s != StatusCancelled && s != StatusNoShow
}

func (r *MemoryRepository) Create(ctx context.Context, a Appointment) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[a.ID]; exists {
		return nil, ErrDuplicateBooking
	}
	for _, other := range r.byID {
		if other.DoctorID == a.DoctorID && other.Date == a.Date && other.StartTime == a.StartTime &&
			countsForUniqueness(other.Status) {
			return nil, ErrDuplicateBooking
		}
	}

	now := r.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	r.byID[a.ID] = a
	return &a, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = r.now()
	r.byID[id] = a
	return &a, nil
}

func (r *MemoryRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.filter(func(a Appointment) bool { return a.PatientID == patientID }, true, limit, offset), nil
}

func (r *MemoryRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, date string, limit, offset int) ([]Appointment, error) {
	return r.filter(func(a Appointment) bool {
		return a.DoctorID == doctorID && (date == "" || a.Date == date)
	}, false, limit, offset), nil
}

func (r *MemoryRepository) ListLive(ctx context.Context, createdBefore time.Time, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, a := range r.byID {
		if !a.Status.Terminal() && a.CreatedAt.Before(createdBefore) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok || !a.Status.Terminal() {
		return ErrAppointmentNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventLog(nil), r.events...)
}

func (r *MemoryRepository) filter(keep func(Appointment) bool, newestFirst bool, limit, offset int) []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, a := range r.byID {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if newestFirst {
			a, b = b, a
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.StartTime < b.StartTime
	})

	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
