package redisclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// VisitCounters tracks completed visits per patient and per doctor.
type VisitCounters struct {
	client *redis.Client
}

func NewVisitCounters(client *redis.Client) *VisitCounters {
	return &VisitCounters{client: client}
}

func patientStatsKey(id uuid.UUID) string { return fmt.Sprintf("stats:patient:%s", id) }
func doctorStatsKey(id uuid.UUID) string  { return fmt.Sprintf("stats:doctor:%s", id) }

// RecordCompleted bumps both counters in one round trip.
func (c *VisitCounters) RecordCompleted(ctx context.Context, doctorID, patientID uuid.UUID) error {
	pipe := c.client.TxPipeline()
	pipe.HIncrBy(ctx, patientStatsKey(patientID), "visits", 1)
	pipe.HIncrBy(ctx, doctorStatsKey(doctorID), "patients_seen", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record completed visit: %w", err)
	}
	return nil
}

func (c *VisitCounters) PatientVisits(ctx context.Context, patientID uuid.UUID) (int64, error) {
	return c.read(ctx, patientStatsKey(patientID), "visits")
}

func (c *VisitCounters) DoctorPatientsSeen(ctx context.Context, doctorID uuid.UUID) (int64, error) {
	return c.read(ctx, doctorStatsKey(doctorID), "patients_seen")
}

func (c *VisitCounters) read(ctx context.Context, key, field string) (int64, error) {
	n, err := c.client.HGet(ctx, key, field).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
