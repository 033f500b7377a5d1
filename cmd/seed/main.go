package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/db"
	"github.com/hackgods/slot-booking/internal/identity"
	"github.com/hackgods/slot-booking/internal/logging"
	redisclient "github.com/hackgods/slot-booking/internal/redis"
	"github.com/hackgods/slot-booking/internal/seeddata"
	"github.com/hackgods/slot-booking/internal/slot"
)

const tokenTTL = 7 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.Init("seed", "dev", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.Init("seed", cfg.Env, cfg.LogLevel)

	doctors := getInt("SEED_DOCTORS", 20)
	patients := getInt("SEED_PATIENTS", 500)
	days := getInt("SEED_DAYS", 7)
	out := getEnv("SEED_MANIFEST", "seed.json")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var store slot.Store
	if cfg.SlotBackend == config.SlotBackendRedis {
		rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, 4)
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer rdb.Close()
		store = redisclient.NewSlotStore(rdb)
	} else {
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 4)
		if err != nil {
			log.Fatal().Err(err).Msg("connect postgres")
		}
		defer pool.Close()
		store = slot.NewPgStore(pool)
	}
	ledger := slot.NewLedger(store, nil, log)

	var dates []string
	start := time.Now().UTC().AddDate(0, 0, 1)
	for i := 0; i < days; i++ {
		dates = append(dates, start.AddDate(0, 0, i).Format(slot.DateLayout))
	}

	manifest := seeddata.Manifest{Dates: dates}

	log.Info().Int("doctors", doctors).Int("days", days).Msg("publishing doctor schedules")
	for i := 0; i < doctors; i++ {
		doc, err := newPerson("Dr. "+gofakeit.LastName(), cfg.AuthJWTSecret)
		if err != nil {
			log.Fatal().Err(err).Msg("issue doctor token")
		}
		for _, date := range dates {
			if _, err := ledger.Publish(ctx, doc.ID, date, daySchedule()); err != nil {
				log.Fatal().Err(err).Str("doctor_id", doc.ID.String()).Str("date", date).Msg("publish slots")
			}
		}
		manifest.Doctors = append(manifest.Doctors, doc)
	}

	for i := 0; i < patients; i++ {
		p, err := newPerson(gofakeit.Name(), cfg.AuthJWTSecret)
		if err != nil {
			log.Fatal().Err(err).Msg("issue patient token")
		}
		manifest.Patients = append(manifest.Patients, p)
	}

	if err := seeddata.Write(out, manifest); err != nil {
		log.Fatal().Err(err).Msg("write manifest")
	}
	log.Info().Str("manifest", out).Int("patients", patients).Msg("seed complete")
}

func newPerson(name, secret string) (seeddata.Person, error) {
	p := seeddata.Person{ID: uuid.New(), Name: name}
	if secret == "" {
		return p, nil
	}
	token, err := identity.IssueToken(secret, p.ID, tokenTTL)
	if err != nil {
		return p, err
	}
	p.Token = token
	return p, nil
}

// daySchedule is 09:00-17:00 in 30 minute slots with a lunch break at 13:00.
// Roughly one day in seven is published as a day off.
func daySchedule() []slot.Slot {
	dayOff := gofakeit.Number(1, 7) == 1
	var slots []slot.Slot
	for m := 9 * 60; m < 17*60; m += 30 {
		status := slot.StatusFree
		if dayOff || m == 13*60 || m == 13*60+30 {
			status = slot.StatusBreak
		}
		slots = append(slots, slot.Slot{
			SlotID:    fmt.Sprintf("%02d%02d", m/60, m%60),
			StartTime: fmt.Sprintf("%02d:%02d", m/60, m%60),
			EndTime:   fmt.Sprintf("%02d:%02d", (m+30)/60, (m+30)%60),
			Status:    status,
		})
	}
	return slots
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
