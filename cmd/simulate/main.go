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

	"github.com/google/uuid"

	"github.com/clinicops/appointment-scheduling/internal/db"
)

// simulate hammers POST /appointments with deliberately colliding
// (doctor, slot) pairs and checks that every contested slot produced exactly
// one created appointment, the rest conflicts.

type SimConfig struct {
	APIBaseURL  string
	Workers     int
	Slots       int
	Contenders  int // concurrent booking attempts per slot
	PostgresDSN string
}

type DataPool struct {
	Patients []uuid.UUID
	Doctors  []uuid.UUID
}

type Metrics struct {
	Total     int64
	Created   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&m.Total, 1)
	switch {
	case status == http.StatusCreated:
		atomic.AddInt64(&m.Created, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&m.Conflict, 1)
	default:
		atomic.AddInt64(&m.Error, 1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *Metrics) Percentile(p int) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := loadSimConfig()

	pool, err := loadDataPool(cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	if len(pool.Patients) < cfg.Contenders || len(pool.Doctors) == 0 {
		log.Fatal("not enough seeded patients/doctors, run cmd/seed first")
	}

	log.Printf("simulating %d contested slots with %d contenders each against %s",
		cfg.Slots, cfg.Contenders, cfg.APIBaseURL)

	client := &http.Client{Timeout: 10 * time.Second}
	metrics := &Metrics{}
	base := time.Now().Add(48 * time.Hour).Truncate(time.Hour)

	var badSlots int64
	sem := make(chan struct{}, cfg.Workers)
	var wg sync.WaitGroup

	for i := 0; i < cfg.Slots; i++ {
		doctor := pool.Doctors[rand.Intn(len(pool.Doctors))]
		slot := base.Add(time.Duration(i) * 15 * time.Minute)

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			created := contestSlot(client, cfg, pool, doctor, slot, metrics)
			if created != 1 {
				atomic.AddInt64(&badSlots, 1)
				log.Printf("SLOT VIOLATION: doctor=%s slot=%s created=%d",
					doctor, slot.Format("2006-01-02T15:04"), created)
			}
		}()
	}

	wg.Wait()

	fmt.Println("---- results ----")
	fmt.Printf("requests:  %d\n", atomic.LoadInt64(&metrics.Total))
	fmt.Printf("created:   %d\n", atomic.LoadInt64(&metrics.Created))
	fmt.Printf("conflict:  %d\n", atomic.LoadInt64(&metrics.Conflict))
	fmt.Printf("errors:    %d\n", atomic.LoadInt64(&metrics.Error))
	fmt.Printf("p50=%s p95=%s\n", metrics.Percentile(50), metrics.Percentile(95))
	fmt.Printf("contested slots with exactly one booking: %d/%d\n",
		int64(cfg.Slots)-atomic.LoadInt64(&badSlots), cfg.Slots)

	if badSlots > 0 {
		os.Exit(1)
	}
}

// contestSlot fires Contenders concurrent booking requests for one slot and
// returns how many got 201.
func contestSlot(client *http.Client, cfg SimConfig, pool *DataPool, doctor uuid.UUID, slot time.Time, metrics *Metrics) int64 {
	var created int64
	var wg sync.WaitGroup

	for c := 0; c < cfg.Contenders; c++ {
		patient := pool.Patients[rand.Intn(len(pool.Patients))]

		wg.Add(1)
		go func() {
			defer wg.Done()

			body, _ := json.Marshal(map[string]string{
				"patient_id":    patient.String(),
				"doctor_id":     doctor.String(),
				"scheduled_for": slot.Format("2006-01-02T15:04"),
				"reason":        "load-test booking",
			})

			start := time.Now()
			resp, err := client.Post(cfg.APIBaseURL+"/appointments", "application/json", bytes.NewReader(body))
			if err != nil {
				metrics.Record(time.Since(start), 0)
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			metrics.Record(time.Since(start), resp.StatusCode)
			if resp.StatusCode == http.StatusCreated {
				atomic.AddInt64(&created, 1)
			}
		}()
	}

	wg.Wait()
	return atomic.LoadInt64(&created)
}

func loadSimConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:  getEnv("SIM_API_URL", "http://localhost:8080"),
		Workers:     getEnvInt("SIM_WORKERS", 8),
		Slots:       getEnvInt("SIM_SLOTS", 50),
		Contenders:  getEnvInt("SIM_CONTENDERS", 10),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	return cfg
}

func loadDataPool(cfg SimConfig) (*DataPool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	defer pgPool.Close()

	pool := &DataPool{}

	rows, err := pgPool.Query(ctx, `SELECT id FROM patients LIMIT 1000`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		pool.Patients = append(pool.Patients, id)
	}

	docRows, err := pgPool.Query(ctx, `SELECT id FROM doctors WHERE available LIMIT 100`)
	if err != nil {
		return nil, err
	}
	defer docRows.Close()
	for docRows.Next() {
		var id uuid.UUID
		if err := docRows.Scan(&id); err != nil {
			return nil, err
		}
		pool.Doctors = append(pool.Doctors, id)
	}

	return pool, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
