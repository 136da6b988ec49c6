package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mwheeler/reelsync/internal/bench"
	"github.com/mwheeler/reelsync/internal/engine"
	"github.com/mwheeler/reelsync/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "advanced",
	Short:   "Benchmark sync throughput on a generated catalog",
	Long: `Bench generates a synthetic catalog into a temporary bundle, syncs
it twice, and then hammers the mirror with concurrent reads.

Phases:
  1. Cold sync   ingest throughput into an empty mirror
  2. Warm sync   how fast unchanged items skip
  3. Queries     read latency percentiles under concurrency

Nothing touches your configured database or remote; the whole run uses
a throwaway directory. The same --seed always generates the same
catalog, so numbers are comparable across runs.

Examples:
  reel bench
  reel bench --scenes 5000 --readers 20
  reel bench --seed 7 --json`,
	Run: func(cmd *cobra.Command, args []string) {
		jsonOut, _ := cmd.Flags().GetBool("json")

		bc := bench.DefaultConfig()
		if n, _ := cmd.Flags().GetInt("scenes"); n > 0 {
			bc.Scenes = n
		}
		if n, _ := cmd.Flags().GetInt("performers"); n > 0 {
			bc.Performers = n
		}
		if n, _ := cmd.Flags().GetInt("tags"); n > 0 {
			bc.Tags = n
		}
		if n, _ := cmd.Flags().GetInt("studios"); n > 0 {
			bc.Studios = n
		}
		if n, _ := cmd.Flags().GetInt("batch-size"); n > 0 {
			bc.BatchSize = n
		}
		if n, _ := cmd.Flags().GetInt("readers"); n > 0 {
			bc.Readers = n
		}
		if n, _ := cmd.Flags().GetInt("queries"); n > 0 {
			bc.QueriesPerReader = n
		}
		if cmd.Flags().Changed("seed") {
			bc.Seed, _ = cmd.Flags().GetInt64("seed")
		}
		if name, _ := cmd.Flags().GetString("strategy"); name != "" {
			strategy, err := engine.ParseStrategy(name)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			bc.Strategy = strategy
		}
		bc.Logger = cliLogger(cmd)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !jsonOut {
			fmt.Printf("%s Benchmarking %d scenes (%d readers × %d queries)\n\n",
				ui.RenderAccent("🚀"), bc.Scenes, bc.Readers, bc.QueriesPerReader)
		}

		result, err := bench.Run(ctx, bc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.Encode(benchReport(result))
			return
		}
		fmt.Print(result.Report())
		fmt.Printf("\n%s %.0f scenes/sec cold\n", ui.RenderPass("✓"), result.ScenesPerSecond())
	},
}

// benchReport flattens a result into stable JSON. The internal Result
// carries interfaces and loggers that don't belong on the wire.
func benchReport(r *bench.Result) interface{} {
	return struct {
		Scenes          int     `json:"scenes"`
		Performers      int     `json:"performers"`
		Tags            int     `json:"tags"`
		Studios         int     `json:"studios"`
		Seed            int64   `json:"seed"`
		ColdSeconds     float64 `json:"cold_seconds"`
		ColdCreated     int     `json:"cold_created"`
		ColdFailed      int     `json:"cold_failed"`
		ScenesPerSecond float64 `json:"scenes_per_second"`
		WarmSeconds     float64 `json:"warm_seconds"`
		WarmSkipped     int     `json:"warm_skipped"`
		Queries         int     `json:"queries"`
		QueryErrors     int     `json:"query_errors"`
		P50Micros       int64   `json:"p50_us"`
		P95Micros       int64   `json:"p95_us"`
		P99Micros       int64   `json:"p99_us"`
	}{
		Scenes:          r.Config.Scenes,
		Performers:      r.Config.Performers,
		Tags:            r.Config.Tags,
		Studios:         r.Config.Studios,
		Seed:            r.Config.Seed,
		ColdSeconds:     r.ColdDuration.Seconds(),
		ColdCreated:     r.Cold.Created,
		ColdFailed:      r.Cold.Failed,
		ScenesPerSecond: r.ScenesPerSecond(),
		WarmSeconds:     r.WarmDuration.Seconds(),
		WarmSkipped:     r.Warm.Skipped,
		Queries:         r.Queries.TotalQueries,
		QueryErrors:     r.Queries.Errors,
		P50Micros:       r.Queries.P50.Microseconds(),
		P95Micros:       r.Queries.P95.Microseconds(),
		P99Micros:       r.Queries.P99.Microseconds(),
	}
}

func init() {
	benchCmd.Flags().Int("scenes", 0, "Scenes to generate (default 1000)")
	benchCmd.Flags().Int("performers", 0, "Performers to generate (default 100)")
	benchCmd.Flags().Int("tags", 0, "Tags to generate (default 50)")
	benchCmd.Flags().Int("studios", 0, "Studios to generate (default 20)")
	benchCmd.Flags().Int("batch-size", 0, "Items per upsert batch")
	benchCmd.Flags().Int("readers", 0, "Concurrent readers in the query phase (default 10)")
	benchCmd.Flags().Int("queries", 0, "Queries per reader (default 50)")
	benchCmd.Flags().Int64("seed", 0, "Catalog generator seed (default 42)")
	benchCmd.Flags().String("strategy", "", "Sync strategy for the measured runs")
	benchCmd.Flags().Bool("json", false, "Emit results as JSON")
	rootCmd.AddCommand(benchCmd)
}
