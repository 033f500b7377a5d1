package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveBooking("booked", 20*time.Millisecond)
	m.ObserveBooking("booked", 30*time.Millisecond)
	m.ObserveBooking("slot_unavailable", time.Millisecond)
	m.ObserveCompensation("released")
	m.ObserveTransition("pending", "confirmed")
	m.ObserveViolation("orphaned_reservation")
	m.ObserveNotification("dropped")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookingAttempts.WithLabelValues("booked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compensations.WithLabelValues("released")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.statusTransitions.WithLabelValues("pending", "confirmed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.bookingDuration))
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveBooking("booked", time.Second)
	m.ObserveCompensation("exhausted")
	m.ObserveTransition("confirmed", "completed")
	m.ObserveViolation("slot_missing")
	m.ObserveNotification("delivered")
}
