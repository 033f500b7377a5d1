package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/db/migrations"
	"github.com/hackgods/slot-booking/internal/logging"
)

// Usage: migrate [up | down | force <version>]
func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.Init("migrate", "dev", "info")
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	log := logging.Init("migrate", cfg.Env, cfg.LogLevel)

	sqlDB, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer func() { _ = sqlDB.Close() }()

	if err := sqlDB.Ping(); err != nil {
		log.Fatal().Err(err).Msg("ping db")
	}

	dbDriver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("db driver")
	}

	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		log.Fatal().Err(err).Msg("source driver")
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		log.Fatal().Err(err).Msg("create migrator")
	}
	defer func() { _, _ = m.Close() }()

	cmd, err := run(m, os.Args[1:])
	if errors.Is(err, errUsage) {
		log.Fatal().Err(err).Str("command", cmd).Msg("want up, down or force <version>")
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatal().Err(err).Str("command", cmd).Msg("migration failed")
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		log.Warn().Err(verr).Msg("could not read schema version")
	}
	log.Info().Str("command", cmd).Uint("version", version).Bool("dirty", dirty).Msg("migrations complete")
}

var errUsage = errors.New("usage")

type migrator interface {
	Up() error
	Steps(n int) error
	Force(version int) error
}

func run(m migrator, args []string) (string, error) {
	cmd := "up"
	if len(args) >= 1 {
		cmd = args[0]
	}

	switch cmd {
	case "up":
		return cmd, m.Up()
	case "down":
		return cmd, m.Steps(-1)
	case "force":
		if len(args) < 2 {
			return cmd, fmt.Errorf("%w: force needs a version", errUsage)
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return cmd, fmt.Errorf("%w: invalid version %q", errUsage, args[1])
		}
		return cmd, m.Force(version)
	default:
		return cmd, fmt.Errorf("%w: unknown command", errUsage)
	}
}
