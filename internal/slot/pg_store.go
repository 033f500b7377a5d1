package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgxIface is the subset of pgxpool.Pool the store needs; pgxmock satisfies it too.
type pgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	pool pgxIface
}

func NewPgStore(pool pgxIface) *PgStore {
	return &PgStore{pool: pool}
}

const slotColumns = `doctor_id, to_char(date, 'YYYY-MM-DD'), slot_id, time_label, start_time, end_time,
		       session, status, appointment_id, reserved_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var status string

	err := row.Scan(
		&s.DoctorID,
		&s.Date,
		&s.SlotID,
		&s.Time,
		&s.StartTime,
		&s.EndTime,
		&s.Session,
		&status,
		&s.AppointmentID,
		&s.ReservedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Status = Status(status)
	return &s, nil
}

func scanSlots(rows pgx.Rows) ([]Slot, error) {
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *PgStore) Get(ctx context.Context, key Key) (*Slot, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE doctor_id = $1 AND date = $2::date AND slot_id = $3
	`, key.DoctorID, key.Date, key.SlotID)
	return scanSlot(row)
}

func (p *PgStore) ListDay(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE doctor_id = $1 AND date = $2::date
		ORDER BY start_time, slot_id
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	return scanSlots(rows)
}

func (p *PgStore) ListDays(ctx context.Context, doctorID uuid.UUID, from, to string) ([]Slot, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE doctor_id = $1 AND date BETWEEN $2::date AND $3::date
		ORDER BY date, start_time, slot_id
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	return scanSlots(rows)
}

// ReplaceDay runs in one transaction. The status predicate on the DELETE is
// re-checked against concurrently committed reservations, so a slot reserved
// while the publish is in flight is never removed.
func (p *PgStore) ReplaceDay(ctx context.Context, doctorID uuid.UUID, date string, slots []Slot) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM slots
		WHERE doctor_id = $1 AND date = $2::date AND status <> 'reserved'
	`, doctorID, date); err != nil {
		return fmt.Errorf("clear day: %w", err)
	}

	for _, s := range slots {
		_, err := tx.Exec(ctx, `
			INSERT INTO slots (doctor_id, date, slot_id, time_label, start_time, end_time, session, status, created_at, updated_at)
			VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, now(), now())
			ON CONFLICT (doctor_id, date, slot_id) DO NOTHING
		`, doctorID, date, s.SlotID, s.Time, s.StartTime, s.EndTime, s.Session, string(s.Status))
		if err != nil {
			return fmt.Errorf("insert slot %s: %w", s.SlotID, err)
		}
	}

	return tx.Commit(ctx)
}

func (p *PgStore) DeleteDay(ctx context.Context, doctorID uuid.UUID, date string) error {
	var reserved bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM slots
			WHERE doctor_id = $1 AND date = $2::date AND status = 'reserved'
		)
	`, doctorID, date).Scan(&reserved)
	if err != nil {
		return err
	}
	if reserved {
		return ErrDayHasReservations
	}

	if _, err := p.pool.Exec(ctx, `
		DELETE FROM slots
		WHERE doctor_id = $1 AND date = $2::date AND status <> 'reserved'
	`, doctorID, date); err != nil {
		return err
	}
	return nil
}

// CompareAndSwap is a single conditional UPDATE; the row lock taken by
// Postgres makes concurrent swaps on one slot serialize, and only the first
// one still matching the predicate changes a row.
func (p *PgStore) CompareAndSwap(ctx context.Context, key Key, expect Expectation, change Change) (bool, error) {
	var apptID *uuid.UUID
	var reservedAt *time.Time
	if change.Status == StatusReserved {
		apptID = change.AppointmentID
		at := change.At
		reservedAt = &at
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE slots
		SET status = $4,
		    appointment_id = $5,
		    reserved_at = $6,
		    updated_at = now()
		WHERE doctor_id = $1
		  AND date = $2::date
		  AND slot_id = $3
		  AND status = $7
		  AND ($8::uuid IS NULL OR appointment_id = $8::uuid)
	`, key.DoctorID, key.Date, key.SlotID, string(change.Status), apptID, reservedAt, string(expect.Status), expect.AppointmentID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PgStore) ListReserved(ctx context.Context, before time.Time, limit int) ([]Slot, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE status = 'reserved' AND reserved_at < $1
		ORDER BY reserved_at
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	return scanSlots(rows)
}
