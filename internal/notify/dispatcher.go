package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-booking/internal/metrics"
)

const deliveryTimeout = 5 * time.Second

type request struct {
	userID  uuid.UUID
	kind    Kind
	payload map[string]any
}

// Dispatcher decouples callers from delivery. Send never blocks and never
// fails the caller; a full queue drops the request.
type Dispatcher struct {
	gateway Gateway
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan request
	done   chan struct{}
}

func NewDispatcher(gateway Gateway, size int, log zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	if size <= 0 {
		size = 256
	}
	d := &Dispatcher{
		gateway: gateway,
		log:     log,
		metrics: m,
		queue:   make(chan request, size),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Send(ctx context.Context, userID uuid.UUID, kind Kind, payload map[string]any) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.metrics.ObserveNotification("dropped")
		return
	}

	select {
	case d.queue <- request{userID: userID, kind: kind, payload: payload}:
	default:
		d.metrics.ObserveNotification("dropped")
		d.log.Warn().
			Str("user_id", userID.String()).
			Str("kind", string(kind)).
			Msg("notification queue full, dropping")
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for req := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err := d.gateway.Notify(ctx, req.userID, req.kind, req.payload)
		cancel()

		if err != nil {
			d.metrics.ObserveNotification("failed")
			d.log.Warn().Err(err).
				Str("user_id", req.userID.String()).
				Str("kind", string(req.kind)).
				Msg("notification delivery failed")
			continue
		}
		d.metrics.ObserveNotification("delivered")
	}
}

// Close stops accepting requests and waits for the queue to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
