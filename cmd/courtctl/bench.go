package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/courtledger/internal/api"
	"github.com/punchamoorthee/courtledger/internal/models"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(benchCmd)
	f := benchCmd.Flags()
	f.String("url", "http://localhost:8080", "API base URL")
	f.Int("workers", 10, "Number of concurrent workers")
	f.Duration("duration", 30*time.Second, "Test duration")
	f.String("workload", "uniform", "Workload type: uniform | hotspot")
	f.String("token", "", "Bearer token shared by every worker")
	f.String("secret", "", "JWT secret used to sign a token per seeded account (instead of --token)")
	f.Int("accounts", 1000, "Seeded account ids to spread load over (1..N)")
	f.Int("courts", 10, "Seeded court ids to spread load over (1..N)")
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Load-test booking confirmation against a running server",
	Long: `bench fires concurrent confirm requests at /api/v1/bookings and reports
throughput and the share of requests rejected because the slot was taken.
The hotspot workload aims 90% of requests at one court and slot.`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

type benchStats struct {
	total     atomic.Uint64
	created   atomic.Uint64
	conflicts atomic.Uint64
	rejected  atomic.Uint64
	failed    atomic.Uint64
}

type benchConfig struct {
	url      string
	workload string
	duration time.Duration
	accounts int
	courts   int
	tokens   func(accountID int64) string
	base     time.Time
}

func runBench(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	url, _ := f.GetString("url")
	workers, _ := f.GetInt("workers")
	duration, _ := f.GetDuration("duration")
	workload, _ := f.GetString("workload")
	token, _ := f.GetString("token")
	secret, _ := f.GetString("secret")
	accounts, _ := f.GetInt("accounts")
	courts, _ := f.GetInt("courts")

	if workload != "uniform" && workload != "hotspot" {
		return fmt.Errorf("unknown workload %q", workload)
	}
	if accounts < 1 || courts < 1 || workers < 1 {
		return errors.New("accounts, courts and workers must be positive")
	}

	cfg := benchConfig{
		url:      url,
		workload: workload,
		duration: duration,
		accounts: accounts,
		courts:   courts,
		base:     time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour),
	}
	switch {
	case secret != "":
		signed, err := signTokens(api.NewAuthenticator(secret), accounts, duration+time.Minute)
		if err != nil {
			return err
		}
		cfg.tokens = func(id int64) string { return signed[id-1] }
	case token != "":
		cfg.tokens = func(int64) string { return token }
	default:
		return errors.New("either --token or --secret is required")
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Starting Benchmark: %s | Workers: %d | Duration: %s\n", workload, workers, duration)

	var stats benchStats
	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go benchWorker(&wg, cfg, &stats, start)
	}
	wg.Wait()

	return printBenchResults(cmd, workload, &stats, time.Since(start))
}

func signTokens(auth *api.Authenticator, accounts int, ttl time.Duration) ([]string, error) {
	out := make([]string, accounts)
	for i := range out {
		tok, err := auth.Sign(int64(i+1), "", ttl)
		if err != nil {
			return nil, err
		}
		out[i] = tok
	}
	return out, nil
}

func benchWorker(wg *sync.WaitGroup, cfg benchConfig, stats *benchStats, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < cfg.duration {
		accountID := int64(rand.Intn(cfg.accounts) + 1)
		body, _ := json.Marshal(nextSlot(cfg))

		req, _ := http.NewRequest(http.MethodPost, cfg.url+"/api/v1/bookings", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+cfg.tokens(accountID))
		req.Header.Set("Idempotency-Key", uuid.NewString())

		resp, err := client.Do(req)
		if err != nil {
			stats.failed.Add(1)
			continue
		}

		stats.total.Add(1)
		switch resp.StatusCode {
		case http.StatusCreated:
			stats.created.Add(1)
		case http.StatusConflict:
			stats.conflicts.Add(1)
		case http.StatusUnprocessableEntity:
			stats.rejected.Add(1)
		default:
			stats.failed.Add(1)
		}
		resp.Body.Close()
	}
}

// nextSlot picks a one-hour slot in the next 30 days between 06:00 and 22:00.
func nextSlot(cfg benchConfig) models.SlotRequest {
	if cfg.workload == "hotspot" && rand.Float32() < 0.90 {
		start := cfg.base.Add(18 * time.Hour)
		return models.SlotRequest{CourtID: 1, StartTime: start, EndTime: start.Add(time.Hour)}
	}
	start := cfg.base.AddDate(0, 0, rand.Intn(30)).Add(time.Duration(6+rand.Intn(16)) * time.Hour)
	return models.SlotRequest{
		CourtID:   int64(rand.Intn(cfg.courts) + 1),
		StartTime: start,
		EndTime:   start.Add(time.Hour),
	}
}

func printBenchResults(cmd *cobra.Command, workload string, stats *benchStats, d time.Duration) error {
	total := stats.total.Load()
	conflicts := stats.conflicts.Load()

	var conflictRate float64
	if total > 0 {
		conflictRate = float64(conflicts) / float64(total) * 100
	}
	results := map[string]any{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    float64(total) / d.Seconds(),
		"confirmed":         stats.created.Load(),
		"slot_conflicts":    conflicts,
		"conflict_rate_pct": conflictRate,
		"rejected":          stats.rejected.Load(),
		"errors":            stats.failed.Load(),
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}

	file, err := os.Create(fmt.Sprintf("results_%s.json", workload))
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewEncoder(file).Encode(results)
}
