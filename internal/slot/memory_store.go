package slot

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps slots in process memory. The mutex is the storage engine's
// own critical section; it is never held across calls into other components.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[Key]Slot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[Key]Slot)}
}

func (s *MemoryStore) Get(ctx context.Context, key Key) (*Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[key]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &sl, nil
}

func (s *MemoryStore) ListDay(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Slot
	for k, sl := range s.slots {
		if k.DoctorID == doctorID && k.Date == date {
			out = append(out, sl)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListDays(ctx context.Context, doctorID uuid.UUID, from, to string) ([]Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Slot
	for k, sl := range s.slots {
		// YYYY-MM-DD compares correctly as a string
		if k.DoctorID == doctorID && k.Date >= from && k.Date <= to {
			out = append(out, sl)
		}
	}
	return out, nil
}

func (s *MemoryStore) ReplaceDay(ctx context.Context, doctorID uuid.UUID, date string, slots []Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, sl := range s.slots {
		if k.DoctorID == doctorID && k.Date == date && sl.Status != StatusReserved {
			delete(s.slots, k)
		}
	}
	for _, sl := range slots {
		k := sl.Key()
		if _, held := s.slots[k]; held {
			continue
		}
		s.slots[k] = sl
	}
	return nil
}

func (s *MemoryStore) DeleteDay(ctx context.Context, doctorID uuid.UUID, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, sl := range s.slots {
		if k.DoctorID == doctorID && k.Date == date && sl.Status == StatusReserved {
			return ErrDayHasReservations
		}
	}
	for k := range s.slots {
		if k.DoctorID == doctorID && k.Date == date {
			delete(s.slots, k)
		}
	}
	return nil
}

func (s *MemoryStore) CompareAndSwap(ctx context.Context, key Key, expect Expectation, change Change) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[key]
	if !ok || !matches(sl, expect) {
		return false, nil
	}

	sl = apply(sl, change)
	s.slots[key] = sl
	return true, nil
}

func (s *MemoryStore) ListReserved(ctx context.Context, before time.Time, limit int) ([]Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Slot
	for _, sl := range s.slots {
		if sl.Status == StatusReserved && sl.ReservedAt != nil && sl.ReservedAt.Before(before) {
			out = append(out, sl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReservedAt.Before(*out[j].ReservedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matches(sl Slot, expect Expectation) bool {
	if sl.Status != expect.Status {
		return false
	}
	if expect.AppointmentID != nil {
		return sl.AppointmentID != nil && *sl.AppointmentID == *expect.AppointmentID
	}
	return true
}

func apply(sl Slot, change Change) Slot {
	sl.Status = change.Status
	sl.UpdatedAt = change.At
	if change.Status == StatusReserved && change.AppointmentID != nil {
		id := *change.AppointmentID
		at := change.At
		sl.AppointmentID = &id
		sl.ReservedAt = &at
	} else {
		sl.AppointmentID = nil
		sl.ReservedAt = nil
	}
	return sl
}
