package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/slot-booking/internal/api"
	"github.com/hackgods/slot-booking/internal/appointment"
	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/db"
	"github.com/hackgods/slot-booking/internal/events"
	"github.com/hackgods/slot-booking/internal/logging"
	"github.com/hackgods/slot-booking/internal/metrics"
	"github.com/hackgods/slot-booking/internal/notify"
	"github.com/hackgods/slot-booking/internal/reconcile"
	redisclient "github.com/hackgods/slot-booking/internal/redis"
	"github.com/hackgods/slot-booking/internal/slot"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.Init("api-server", "dev", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.Init("api-server", cfg.Env, cfg.LogLevel)
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("slot_backend", cfg.SlotBackend).
		Str("version", cfg.Version).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 20)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, 20)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	bus := events.NewRedisBus(rdb, log.With().Str("component", "events").Logger())
	defer bus.Close()

	slotStore := newSlotStore(cfg.SlotBackend, pgPool, rdb)
	slots := slot.NewLedger(slotStore, bus, log.With().Str("component", "slots").Logger())

	apptRepo := appointment.NewPgRepository(pgPool)
	appts := appointment.NewLedger(apptRepo, log.With().Str("component", "appointments").Logger())

	gateways := notify.Multi{
		notify.NewLogGateway(log.With().Str("component", "notify").Logger()),
		notify.NewRedisGateway(rdb),
	}
	var amqpGateway *notify.AMQPGateway
	if cfg.AMQPURL != "" {
		amqpGateway, err = notify.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("amqp connection error")
		}
		gateways = append(gateways, amqpGateway)
		log.Info().Str("exchange", cfg.AMQPExchange).Msg("connected to AMQP")
	}
	defer func() {
		if err := amqpGateway.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing amqp")
		}
	}()
	dispatcher := notify.NewDispatcher(gateways, cfg.NotifyQueueSize, log.With().Str("component", "dispatcher").Logger(), m)

	reporter := reconcile.NewReporter(apptRepo, m, log.With().Str("component", "reconcile").Logger())

	coord := booking.NewCoordinator(booking.Deps{
		Slots:        slots,
		Appointments: appts,
		Notifier:     dispatcher,
		Counters:     redisclient.NewVisitCounters(rdb),
		Reporter:     reporter,
		Metrics:      m,
		Log:          log.With().Str("component", "booking").Logger(),
	}, booking.Options{
		ReserveMaxElapsed:      cfg.ReserveMaxElapsed,
		CompensationMaxElapsed: cfg.CompensationMaxElapsed,
		ReleaseSlotOnNoShow:    cfg.ReleaseSlotOnNoShow,
	})

	router := api.NewRouter(api.RouterConfig{
		Slots:        slots,
		Appointments: appts,
		Booking:      coord,
		Bus:          bus,
		JWTSecret:    cfg.AuthJWTSecret,
		Postgres:     pgPool,
		Redis:        api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Log:          log,
		Env:          cfg.Env,
		Version:      cfg.Version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("notifications still queued at shutdown were dropped")
	}
}

func newSlotStore(backend string, pgPool *pgxpool.Pool, rdb *redis.Client) slot.Store {
	if backend == config.SlotBackendRedis {
		return redisclient.NewSlotStore(rdb)
	}
	return slot.NewPgStore(pgPool)
}
