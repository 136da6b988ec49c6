// Package bench provides the synthetic benchmark harness behind
// `reel bench`.
//
// The harness generates a deterministic catalog, serves it through the
// offline bundle backend, and measures three phases against a throwaway
// store:
//  1. Cold sync: full import into an empty store
//  2. Warm sync: an immediate re-run, which the smart strategy should
//     turn into checksum skips
//  3. Queries: concurrent readers fetching scenes by id
package bench

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mwheeler/reelsync/internal/engine"
	"github.com/mwheeler/reelsync/internal/remote"
	"github.com/mwheeler/reelsync/internal/store"
)

// Config holds benchmark parameters.
type Config struct {
	// Catalog shape.
	Scenes     int
	Performers int
	Tags       int
	Studios    int

	// Engine tuning for the measured runs.
	BatchSize int
	Strategy  engine.Strategy
	Policy    engine.ConflictPolicy

	// Query phase: Readers concurrent readers, each issuing
	// QueriesPerReader scene lookups.
	Readers          int
	QueriesPerReader int

	// Seed drives the catalog generator. The same seed always yields
	// the same catalog, so runs are comparable.
	Seed int64

	Logger *log.Logger
}

// DefaultConfig returns the catalog shape and load used by `reel bench`
// with no flags.
func DefaultConfig() *Config {
	return &Config{
		Scenes:           1000,
		Performers:       100,
		Tags:             50,
		Studios:          20,
		BatchSize:        engine.DefaultBatchSize,
		Readers:          10,
		QueriesPerReader: 50,
		Seed:             42,
		Logger:           log.New(os.Stderr, "[bench] ", log.LstdFlags),
	}
}

// LatencyStats captures query-phase performance metrics.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
	Durations    []time.Duration
}

// Result aggregates the three benchmark phases.
type Result struct {
	Config *Config

	Cold         *engine.SyncResult
	ColdDuration time.Duration

	Warm         *engine.SyncResult
	WarmDuration time.Duration

	Queries *LatencyStats
}

// ScenesPerSecond reports cold-sync scene throughput.
func (r *Result) ScenesPerSecond() float64 {
	if r.ColdDuration <= 0 {
		return 0
	}
	return float64(r.Config.Scenes) / r.ColdDuration.Seconds()
}

// Report renders a human-readable account of the run.
func (r *Result) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Catalog:   %d scenes, %d performers, %d tags, %d studios (seed %d)\n",
		r.Config.Scenes, r.Config.Performers, r.Config.Tags, r.Config.Studios, r.Config.Seed)
	fmt.Fprintf(&b, "Cold sync: %v (%d created, %.0f scenes/sec)\n",
		r.ColdDuration.Round(time.Millisecond), r.Cold.Created, r.ScenesPerSecond())
	fmt.Fprintf(&b, "Warm sync: %v (%d skipped, %d updated)\n",
		r.WarmDuration.Round(time.Millisecond), r.Warm.Skipped, r.Warm.Updated)
	fmt.Fprintf(&b, "Queries:   %d across %d readers, %d errors\n",
		r.Queries.TotalQueries, r.Config.Readers, r.Queries.Errors)
	fmt.Fprintf(&b, "  Min: %v  P50: %v  Mean: %v  P95: %v  P99: %v  Max: %v\n",
		r.Queries.Min, r.Queries.P50, r.Queries.Mean, r.Queries.P95, r.Queries.P99, r.Queries.Max)
	return b.String()
}

// Run executes the full benchmark. Everything it touches lives in a
// temporary directory that is removed before returning.
func Run(ctx context.Context, cfg *Config) (*Result, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[bench] ", log.LstdFlags)
	}
	if cfg.Scenes <= 0 {
		return nil, fmt.Errorf("benchmark needs at least one scene")
	}

	workDir, err := os.MkdirTemp("", "reelsync-bench-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	catalog := GenerateCatalog(cfg)
	bundleDir := filepath.Join(workDir, "catalog")
	if err := remote.WriteBundle(bundleDir, catalog.Scenes, catalog.Entities); err != nil {
		return nil, fmt.Errorf("failed to write catalog bundle: %w", err)
	}

	client, err := remote.ConnectScheme("bundle", bundleDir, remote.Options{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog bundle: %w", err)
	}

	st, err := store.Open(filepath.Join(workDir, "bench.db"), store.Options{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open benchmark store: %w", err)
	}
	defer st.Close()
	if err := st.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize benchmark store: %w", err)
	}
	// Default pool sizing assumes a CLI, not a reader swarm.
	st.RawDB().SetMaxOpenConns(cfg.Readers + 10)

	engCfg := engine.DefaultConfig()
	if cfg.BatchSize > 0 {
		engCfg.BatchSize = cfg.BatchSize
	}
	if cfg.Strategy != nil {
		engCfg.Strategy = cfg.Strategy
	}
	if cfg.Policy != "" {
		engCfg.ConflictPolicy = cfg.Policy
	}
	eng := engine.New(st, client, engCfg, cfg.Logger)

	result := &Result{Config: cfg}

	cfg.Logger.Printf("Cold sync: %d scenes in batches of %d", cfg.Scenes, engCfg.BatchSize)
	start := time.Now()
	cold, err := eng.SyncAll(ctx, "bench-cold", false)
	if err != nil {
		return nil, fmt.Errorf("cold sync failed: %w", err)
	}
	result.Cold, result.ColdDuration = cold, time.Since(start)

	cfg.Logger.Printf("Warm sync")
	start = time.Now()
	warm, err := eng.SyncAll(ctx, "bench-warm", false)
	if err != nil {
		return nil, fmt.Errorf("warm sync failed: %w", err)
	}
	result.Warm, result.WarmDuration = warm, time.Since(start)

	ids := make([]string, 0, len(catalog.Scenes))
	for _, s := range catalog.Scenes {
		ids = append(ids, s.ID)
	}
	cfg.Logger.Printf("Query phase: %d readers x %d queries", cfg.Readers, cfg.QueriesPerReader)
	queries, err := runConcurrentQueries(ctx, st, ids, cfg)
	if err != nil {
		return nil, err
	}
	result.Queries = queries

	return result, nil
}

// runConcurrentQueries launches Readers goroutines, each fetching
// QueriesPerReader randomly chosen scenes by id, and aggregates the
// observed latencies.
func runConcurrentQueries(ctx context.Context, st *store.Store, ids []string, cfg *Config) (*LatencyStats, error) {
	if len(ids) == 0 || cfg.Readers <= 0 || cfg.QueriesPerReader <= 0 {
		return &LatencyStats{}, nil
	}

	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, cfg.Readers)
	errorsChan := make(chan error, cfg.Readers)

	for i := 0; i < cfg.Readers; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			// Per-reader seed keeps the id sequence reproducible
			// without sharing one locked rng across readers.
			rng := rand.New(rand.NewSource(cfg.Seed + int64(readerID)))
			durations := make([]time.Duration, 0, cfg.QueriesPerReader)

			for j := 0; j < cfg.QueriesPerReader; j++ {
				id := ids[rng.Intn(len(ids))]
				start := time.Now()
				_, err := st.GetSceneByID(ctx, id)
				durations = append(durations, time.Since(start))
				if err != nil {
					errorsChan <- fmt.Errorf("reader %d query %d (%s): %w", readerID, j, id, err)
					return
				}
			}

			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	errorCount := 0
	for err := range errorsChan {
		errorCount++
		cfg.Logger.Printf("Query error: %v", err)
	}

	var all []time.Duration
	for durations := range resultsChan {
		all = append(all, durations...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no successful queries completed")
	}

	stats := computeLatencyStats(all)
	stats.Errors = errorCount
	return stats, nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(durations),
		Durations:    sorted,
	}
}
