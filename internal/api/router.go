package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-booking/internal/events"
	"github.com/hackgods/slot-booking/internal/identity"
)

type RouterConfig struct {
	Slots        SlotService
	Appointments AppointmentReader
	Booking      BookingService
	Bus          events.Bus // optional; the stream route is omitted without it
	JWTSecret    string
	Postgres     Pinger
	Redis        Pinger
	Metrics      http.Handler // optional
	Log          zerolog.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.JWTSecret))

		r.Route("/doctors/{doctorID}", func(r chi.Router) {
			r.Get("/availability", availabilityRangeHandler(cfg.Slots))

			r.Route("/days/{date}", func(r chi.Router) {
				r.Get("/availability", dayAvailabilityHandler(cfg.Slots))
				r.Put("/slots", publishSlotsHandler(cfg.Slots))
				r.Get("/slots", listSlotsHandler(cfg.Slots))
				r.Delete("/slots", deleteSlotsHandler(cfg.Slots))
				r.Get("/slots/free", listFreeSlotsHandler(cfg.Slots))
				if cfg.Bus != nil {
					r.Get("/slots/stream", NewStreamHandler(cfg.Bus, cfg.Log).StreamSlots)
				}
			})
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", createAppointmentHandler(cfg.Booking))
			r.Get("/", listAppointmentsHandler(cfg.Appointments))
			r.Get("/{id}", getAppointmentHandler(cfg.Appointments))
			r.Delete("/{id}", deleteAppointmentHandler(cfg.Appointments, cfg.Booking))
			r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Appointments, cfg.Booking))
			r.Post("/{id}/confirm", confirmAppointmentHandler(cfg.Appointments, cfg.Booking))
			r.Post("/{id}/status", setStatusHandler(cfg.Appointments, cfg.Booking))
		})
	})

	return r
}
