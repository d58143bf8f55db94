package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibook/booking-service/internal/booking"
	"github.com/medibook/booking-service/internal/db"
)

// simulate drives concurrent slot listings and bookings against a running
// api-server and reports the success/conflict split. With many workers
// aimed at few doctors it doubles as an end-to-end check of the
// no-double-booking guarantee: at the end it asserts the store holds at
// most one active appointment per slot.

type simConfig struct {
	apiBaseURL  string
	postgresDSN string
	jwtSecret   string
	workers     int
	duration    time.Duration
	doctorLimit int
}

type opMetrics struct {
	total     int64
	success   int64
	conflict  int64
	errors    int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (m *opMetrics) record(latency time.Duration, status int) {
	atomic.AddInt64(&m.total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&m.success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&m.conflict, 1)
	default:
		atomic.AddInt64(&m.errors, 1)
	}
	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *opMetrics) percentile(p float64) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func loadConfig() simConfig {
	cfg := simConfig{
		apiBaseURL:  envOr("SIM_API_URL", "http://127.0.0.1:8080"),
		postgresDSN: os.Getenv("POSTGRES_DSN"),
		jwtSecret:   os.Getenv("JWT_SECRET"),
		workers:     envIntOr("SIM_WORKERS", 20),
		duration:    envDurationOr("SIM_DURATION", 30*time.Second),
		doctorLimit: envIntOr("SIM_DOCTOR_LIMIT", 3),
	}
	if cfg.postgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	if cfg.jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func main() {
	log.SetFlags(log.LstdFlags)
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.postgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	doctors, err := loadIDs(pool, `SELECT id FROM doctors WHERE is_available ORDER BY random() LIMIT $1`, cfg.doctorLimit)
	if err != nil {
		log.Fatalf("load doctors: %v", err)
	}
	patients, err := loadIDs(pool, `SELECT id FROM patients ORDER BY random() LIMIT $1`, 500)
	if err != nil {
		log.Fatalf("load patients: %v", err)
	}
	if len(doctors) == 0 || len(patients) == 0 {
		log.Fatal("run cmd/seed first: no doctors or patients found")
	}

	log.Printf("simulating: workers=%d duration=%s doctors=%d patients=%d",
		cfg.workers, cfg.duration, len(doctors), len(patients))

	var bookings, listings opMetrics
	deadline := time.Now().Add(cfg.duration)

	var wg sync.WaitGroup
	for w := 0; w < cfg.workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			client := &http.Client{Timeout: 10 * time.Second}

			for time.Now().Before(deadline) {
				doctorID := doctors[rng.Intn(len(doctors))]
				patientID := patients[rng.Intn(len(patients))]

				if rng.Float64() < 0.4 {
					listSlots(client, cfg.apiBaseURL, doctorID, &listings)
					continue
				}
				bookRandomSlot(client, cfg, rng, doctorID, patientID, &bookings)
			}
		}(int64(w) + time.Now().UnixNano())
	}
	wg.Wait()

	report("listings", &listings)
	report("bookings", &bookings)

	if err := verifyNoDoubleBookings(pool); err != nil {
		log.Fatalf("INVARIANT VIOLATION: %v", err)
	}
	log.Println("invariant holds: no slot has more than one active appointment")
}

func loadIDs(pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(context.Background(), query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func listSlots(client *http.Client, baseURL string, doctorID uuid.UUID, m *opMetrics) {
	start := time.Now()
	resp, err := client.Get(baseURL + "/doctors/" + doctorID.String() + "/slots")
	if err != nil {
		m.record(time.Since(start), 0)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	m.record(time.Since(start), resp.StatusCode)
}

func bookRandomSlot(client *http.Client, cfg simConfig, rng *rand.Rand, doctorID, patientID uuid.UUID, m *opMetrics) {
	// A narrow slot range keeps contention high so conflicts actually occur.
	date := booking.DateOf(time.Now()).AddDate(0, 0, 1+rng.Intn(2))
	slotTime := booking.NewTimeOfDay(10+rng.Intn(4), 30*rng.Intn(2))

	body, _ := json.Marshal(map[string]string{
		"doctor_id": doctorID.String(),
		"slot_date": date.Format(booking.DateLayout),
		"slot_time": slotTime.String(),
	})

	token, err := patientToken(cfg.jwtSecret, patientID)
	if err != nil {
		m.record(0, 0)
		return
	}

	req, err := http.NewRequest(http.MethodPost, cfg.apiBaseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		m.record(0, 0)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		m.record(time.Since(start), 0)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	m.record(time.Since(start), resp.StatusCode)
}

func patientToken(secret string, patientID uuid.UUID) (string, error) {
	claims := jwt.MapClaims{
		"sub":  patientID.String(),
		"role": "patient",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func report(name string, m *opMetrics) {
	fmt.Printf("%-10s total=%d success=%d conflict=%d errors=%d p50=%s p95=%s\n",
		name,
		atomic.LoadInt64(&m.total),
		atomic.LoadInt64(&m.success),
		atomic.LoadInt64(&m.conflict),
		atomic.LoadInt64(&m.errors),
		m.percentile(0.50),
		m.percentile(0.95),
	)
}

func verifyNoDoubleBookings(pool *pgxpool.Pool) error {
	var violations int
	err := pool.QueryRow(context.Background(), `
		SELECT count(*) FROM (
			SELECT doctor_id, slot_date, slot_time
			FROM appointments
			WHERE status <> 'CANCELED'
			GROUP BY doctor_id, slot_date, slot_time
			HAVING count(*) > 1
		) dup
	`).Scan(&violations)
	if err != nil {
		return err
	}
	if violations > 0 {
		return fmt.Errorf("%d slots hold more than one active appointment", violations)
	}
	return nil
}
