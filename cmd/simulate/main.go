package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-booking/internal/identity"
	"github.com/hackgods/slot-booking/internal/logging"
	"github.com/hackgods/slot-booking/internal/seeddata"
)

type SimConfig struct {
	APIBaseURL   string
	Manifest     string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ConfirmRatio float64
	ReadRatio    float64
}

type booked struct {
	ID      uuid.UUID
	Patient seeddata.Person
	Doctor  seeddata.Person
}

type DataPool struct {
	seeddata.Manifest
	mu           sync.RWMutex
	appointments []booked
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	percentile := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return sum / time.Duration(len(latencies)), percentile(50), percentile(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Booking   OperationMetrics
	Cancel    OperationMetrics
	Confirm   OperationMetrics
	ReadByID  OperationMetrics
	ListFree  OperationMetrics
	ListByPat OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	log := logging.Init("simulate", getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"))

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	manifest, err := seeddata.Read(cfg.Manifest)
	if err != nil {
		log.Fatal().Err(err).Msg("load seed manifest")
	}
	pool := &DataPool{Manifest: manifest}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("doctors", len(manifest.Doctors)).
		Int("patients", len(manifest.Patients)).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		pool:   pool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.PrintReport()

	violations := sim.Verify(context.Background())
	if violations > 0 {
		log.Error().Int("violations", violations).Msg("slot and appointment state disagree")
		os.Exit(1)
	}
	log.Info().Msg("no double bookings or orphaned reservations found")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Manifest:     getEnv("SEED_MANIFEST", "seed.json"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.45),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.15),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ConfirmRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ConfirmRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < c.BookingRatio:
			s.doBooking(ctx, rng)
		case r < c.BookingRatio+c.CancelRatio:
			s.doCancel(ctx, rng)
		case r < c.BookingRatio+c.CancelRatio+c.ConfirmRatio:
			s.doConfirm(ctx, rng)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doReadByID(ctx, rng)
			case 1:
				s.doListFree(ctx, rng)
			case 2:
				s.doListByPatient(ctx, rng)
			}
		}
	}
}

// send issues a request as who and returns the status and body. Transport
// failures are reported as status 0.
func (s *Simulator) send(ctx context.Context, who seeddata.Person, method, path string, body any) (int, []byte) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, nil
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if who.Token != "" {
		req.Header.Set("Authorization", "Bearer "+who.Token)
	} else if who.ID != uuid.Nil {
		req.Header.Set(identity.UserHeader, who.ID.String())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func (s *Simulator) randomDay(rng *rand.Rand) (seeddata.Person, string) {
	return s.pool.Doctors[rng.Intn(len(s.pool.Doctors))], s.pool.Dates[rng.Intn(len(s.pool.Dates))]
}

// doBooking targets a few popular slots on purpose so patients race each other.
func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	doctor, date := s.randomDay(rng)
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	slotID := []string{"0900", "0930", "1000", "1030", "1100", "1400", "1430", "1500"}[rng.Intn(8)]

	start := time.Now()
	status, body := s.send(ctx, patient, http.MethodPost, "/appointments", map[string]any{
		"doctor_id":    doctor.ID,
		"doctor_name":  doctor.Name,
		"patient_name": patient.Name,
		"date":         date,
		"slot_id":      slotID,
		"fee":          rng.Intn(50) * 100,
	})
	s.metrics.Booking.Record(time.Since(start), status)

	if status == http.StatusCreated {
		var resp struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.Unmarshal(body, &resp); err == nil && resp.ID != uuid.Nil {
			s.pool.AddAppointment(booked{ID: resp.ID, Patient: patient, Doctor: doctor})
		}
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	actor := b.Patient
	if rng.Intn(2) == 0 {
		actor = b.Doctor
	}

	start := time.Now()
	status, _ := s.send(ctx, actor, http.MethodPost, "/appointments/"+b.ID.String()+"/cancel", nil)
	s.metrics.Cancel.Record(time.Since(start), status)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _ := s.send(ctx, b.Doctor, http.MethodPost, "/appointments/"+b.ID.String()+"/confirm", nil)
	s.metrics.Confirm.Record(time.Since(start), status)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _ := s.send(ctx, b.Patient, http.MethodGet, "/appointments/"+b.ID.String(), nil)
	s.metrics.ReadByID.Record(time.Since(start), status)
}

func (s *Simulator) doListFree(ctx context.Context, rng *rand.Rand) {
	doctor, date := s.randomDay(rng)

	start := time.Now()
	status, _ := s.send(ctx, seeddata.Person{}, http.MethodGet,
		fmt.Sprintf("/doctors/%s/days/%s/slots/free", doctor.ID, date), nil)
	s.metrics.ListFree.Record(time.Since(start), status)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	status, _ := s.send(ctx, patient, http.MethodGet,
		fmt.Sprintf("/appointments?patient_id=%s&limit=20&offset=0", patient.ID), nil)
	s.metrics.ListByPat.Record(time.Since(start), status)
}

type slotView struct {
	SlotID        string     `json:"slot_id"`
	StartTime     string     `json:"start_time"`
	Status        string     `json:"status"`
	AppointmentID *uuid.UUID `json:"appointment_id"`
}

type appointmentView struct {
	ID        uuid.UUID `json:"id"`
	SlotID    string    `json:"slot_id"`
	StartTime string    `json:"start_time"`
	Status    string    `json:"status"`
}

// Verify walks every seeded doctor day and checks that reserved slots and
// slot-holding appointments point at each other one to one.
func (s *Simulator) Verify(ctx context.Context) int {
	violations := 0
	report := func(doctor seeddata.Person, date, msg string, args ...any) {
		violations++
		s.log.Error().Str("doctor_id", doctor.ID.String()).Str("date", date).Msgf(msg, args...)
	}

	for _, doctor := range s.pool.Doctors {
		for _, date := range s.pool.Dates {
			status, body := s.send(ctx, doctor, http.MethodGet,
				fmt.Sprintf("/doctors/%s/days/%s/slots", doctor.ID, date), nil)
			var slots struct {
				Slots []slotView `json:"slots"`
			}
			if status != http.StatusOK || json.Unmarshal(body, &slots) != nil {
				report(doctor, date, "could not list slots (status %d)", status)
				continue
			}

			holders := make(map[uuid.UUID]string)
			for _, sl := range slots.Slots {
				if sl.Status == "reserved" && sl.AppointmentID != nil {
					holders[*sl.AppointmentID] = sl.SlotID
				}
			}

			live := make(map[uuid.UUID]appointmentView)
			starts := make(map[string]uuid.UUID)
			for offset := 0; ; offset += 100 {
				status, body = s.send(ctx, doctor, http.MethodGet,
					fmt.Sprintf("/appointments?doctor_id=%s&date=%s&limit=100&offset=%d", doctor.ID, date, offset), nil)
				var page struct {
					Appointments []appointmentView `json:"appointments"`
				}
				if status != http.StatusOK || json.Unmarshal(body, &page) != nil {
					report(doctor, date, "could not list appointments (status %d)", status)
					break
				}
				for _, a := range page.Appointments {
					if a.Status != "pending" && a.Status != "confirmed" {
						continue
					}
					live[a.ID] = a
					if other, dup := starts[a.StartTime]; dup {
						report(doctor, date, "appointments %s and %s both hold %s", other, a.ID, a.StartTime)
					}
					starts[a.StartTime] = a.ID
				}
				if len(page.Appointments) < 100 {
					break
				}
			}

			for id, a := range live {
				if holders[id] != a.SlotID {
					report(doctor, date, "appointment %s is %s but slot %s is not reserved for it", id, a.Status, a.SlotID)
				}
			}
			for id, slotID := range holders {
				if _, ok := live[id]; !ok {
					// completed appointments keep their slot, and so do no-shows unless released
					status, body := s.send(ctx, doctor, http.MethodGet, "/appointments/"+id.String(), nil)
					var a appointmentView
					if status == http.StatusOK && json.Unmarshal(body, &a) == nil && (a.Status == "completed" || a.Status == "no_show") {
						continue
					}
					report(doctor, date, "slot %s is reserved for %s which holds no live appointment", slotID, id)
				}
			}
		}
	}
	return violations
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n\n", s.config.Workers)

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List free slots", &s.metrics.ListFree)
	printOperationReport("List by patient", &s.metrics.ListByPat)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
