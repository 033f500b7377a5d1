package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "slotbooking"

// Metrics exposes counters and histograms for booking flows. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	bookingAttempts     *prometheus.CounterVec
	bookingDuration     prometheus.Histogram
	compensations       *prometheus.CounterVec
	statusTransitions   *prometheus.CounterVec
	reconcileViolations *prometheus.CounterVec
	notifications       *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookingAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		bookingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "booking_duration_seconds",
			Help:      "End to end latency of a booking attempt",
			Buckets:   prometheus.DefBuckets,
		}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Slot releases issued to undo or finish a partial booking",
		}, []string{"result"}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Committed appointment status transitions",
		}, []string{"from", "to"}),
		reconcileViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_violations_total",
			Help:      "Inconsistencies found by the reconcile sweep",
		}, []string{"kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification requests by delivery result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.bookingAttempts,
		m.bookingDuration,
		m.compensations,
		m.statusTransitions,
		m.reconcileViolations,
		m.notifications,
	)
	return m
}

func (m *Metrics) ObserveBooking(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.bookingAttempts.WithLabelValues(outcome).Inc()
	m.bookingDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveCompensation(result string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveViolation(kind string) {
	if m == nil {
		return
	}
	m.reconcileViolations.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}
