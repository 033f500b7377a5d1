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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-booking/internal/appointment"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/db"
	"github.com/hackgods/slot-booking/internal/events"
	"github.com/hackgods/slot-booking/internal/logging"
	"github.com/hackgods/slot-booking/internal/metrics"
	"github.com/hackgods/slot-booking/internal/reconcile"
	redisclient "github.com/hackgods/slot-booking/internal/redis"
	"github.com/hackgods/slot-booking/internal/slot"
)

const sweepLockName = "reconcile-sweep"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.Init("reconcile-worker", "dev", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.Init("reconcile-worker", cfg.Env, cfg.LogLevel)
	log.Info().
		Dur("interval", cfg.ReconcileInterval).
		Dur("grace", cfg.ReconcileGrace).
		Str("slot_backend", cfg.SlotBackend).
		Msg("reconcile-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 4)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, 4)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	defer metricsSrv.Close()

	// repairs publish slot events so open streams see released slots
	bus := events.NewRedisBus(rdb, log.With().Str("component", "events").Logger())
	defer bus.Close()

	slots := slot.NewLedger(newSlotStore(cfg.SlotBackend, pgPool, rdb), bus, log.With().Str("component", "slots").Logger())
	apptRepo := appointment.NewPgRepository(pgPool)
	appts := appointment.NewLedger(apptRepo, log.With().Str("component", "appointments").Logger())
	reporter := reconcile.NewReporter(apptRepo, m, log.With().Str("component", "reconcile").Logger())

	sweeper := reconcile.NewSweeper(slots, appts, reporter, reconcile.SweeperOptions{
		Grace:           cfg.ReconcileGrace,
		ReleaseOnNoShow: cfg.ReleaseSlotOnNoShow,
	}, log.With().Str("component", "sweeper").Logger())

	// WithLock bounds the sweep by the TTL, so a hung replica cannot keep the lock
	locker := redisclient.NewRedisLocker(rdb, cfg.ReconcileInterval)

	runOnce(rootCtx, locker, sweeper, cfg.ReconcileInterval, log)

	ticker := time.NewTicker(cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping reconcile worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, locker, sweeper, cfg.ReconcileInterval, log)
		}
	}
}

func runOnce(ctx context.Context, locker redisclient.Locker, sweeper *reconcile.Sweeper, budget time.Duration, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	err := locker.WithLock(runCtx, sweepLockName, func(ctx context.Context) error {
		_, err := sweeper.Run(ctx)
		return err
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		log.Debug().Msg("another replica holds the sweep lock, skipping")
	case err != nil:
		log.Error().Err(err).Msg("reconcile run error")
	default:
		log.Info().Dur("elapsed", time.Since(start)).Msg("reconcile run complete")
	}
}

func newSlotStore(backend string, pgPool *pgxpool.Pool, rdb *redis.Client) slot.Store {
	if backend == config.SlotBackendRedis {
		return redisclient.NewSlotStore(rdb)
	}
	return slot.NewPgStore(pgPool)
}
