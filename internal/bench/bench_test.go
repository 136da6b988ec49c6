package bench

import (
	"context"
	"io"
	"log"
	"reflect"
	"strings"
	"testing"
	"time"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func smallConfig() *Config {
	cfg := DefaultConfig()
	cfg.Scenes = 25
	cfg.Performers = 5
	cfg.Tags = 5
	cfg.Studios = 2
	cfg.BatchSize = 10
	cfg.Readers = 4
	cfg.QueriesPerReader = 10
	cfg.Seed = 7
	cfg.Logger = discardLogger()
	return cfg
}

func TestGenerateCatalogDeterminism(t *testing.T) {
	cfg := smallConfig()

	first := GenerateCatalog(cfg)
	second := GenerateCatalog(cfg)

	if !reflect.DeepEqual(first.Scenes, second.Scenes) {
		t.Error("same seed produced different scenes")
	}
	if !reflect.DeepEqual(first.Entities, second.Entities) {
		t.Error("same seed produced different entities")
	}

	cfg.Seed = 8
	other := GenerateCatalog(cfg)
	if reflect.DeepEqual(first.Scenes, other.Scenes) {
		t.Error("different seed produced identical scenes")
	}
}

func TestGenerateCatalogShape(t *testing.T) {
	cfg := smallConfig()
	catalog := GenerateCatalog(cfg)

	if len(catalog.Scenes) != cfg.Scenes {
		t.Fatalf("scenes = %d, want %d", len(catalog.Scenes), cfg.Scenes)
	}

	studioIDs := make(map[string]bool)
	for _, s := range catalog.Entities["studio"] {
		studioIDs[s.ID] = true
	}

	for _, scene := range catalog.Scenes {
		if scene.ID == "" || scene.Title == "" {
			t.Fatalf("scene missing identity: %+v", scene)
		}
		if scene.Studio != nil && !studioIDs[scene.Studio.ID] {
			t.Errorf("scene %s references unknown studio %s", scene.ID, scene.Studio.ID)
		}
		if len(scene.Files) != 1 || !scene.Files[0].Primary {
			t.Errorf("scene %s should carry one primary file", scene.ID)
		}
		if scene.Rating100 != nil && (*scene.Rating100 < 5 || *scene.Rating100 > 100) {
			t.Errorf("scene %s rating %d out of range", scene.ID, *scene.Rating100)
		}
	}
}

func TestComputeLatencyStats(t *testing.T) {
	durations := make([]time.Duration, 100)
	for i := range durations {
		durations[i] = time.Duration(i+1) * time.Millisecond
	}

	stats := computeLatencyStats(durations)

	if stats.Min != 1*time.Millisecond {
		t.Errorf("Min = %v, want 1ms", stats.Min)
	}
	if stats.Max != 100*time.Millisecond {
		t.Errorf("Max = %v, want 100ms", stats.Max)
	}
	if stats.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, want 50.5ms", stats.Mean)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", stats.P50)
	}
	if stats.P95 != 96*time.Millisecond {
		t.Errorf("P95 = %v, want 96ms", stats.P95)
	}
	if stats.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v, want 100ms", stats.P99)
	}
	if stats.TotalQueries != 100 {
		t.Errorf("TotalQueries = %d, want 100", stats.TotalQueries)
	}
}

func TestComputeLatencyStatsEmpty(t *testing.T) {
	stats := computeLatencyStats(nil)
	if stats.TotalQueries != 0 || stats.Max != 0 {
		t.Errorf("empty input should yield zero stats, got %+v", stats)
	}
}

func TestRunSmallBenchmark(t *testing.T) {
	cfg := smallConfig()
	total := cfg.Scenes + cfg.Performers + cfg.Tags + cfg.Studios

	result, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if result.Cold.Failed != 0 {
		t.Errorf("cold sync failed items = %d, want 0", result.Cold.Failed)
	}
	if result.Cold.Created != total {
		t.Errorf("cold sync created = %d, want %d", result.Cold.Created, total)
	}

	// The warm run sees an unchanged catalog: the entity watermark
	// filters reference kinds to nothing and the smart strategy skips
	// every scene.
	if result.Warm.Created != 0 {
		t.Errorf("warm sync created = %d, want 0", result.Warm.Created)
	}
	if result.Warm.Updated != 0 {
		t.Errorf("warm sync updated = %d, want 0", result.Warm.Updated)
	}
	if result.Warm.Skipped != cfg.Scenes {
		t.Errorf("warm sync skipped = %d, want %d", result.Warm.Skipped, cfg.Scenes)
	}

	wantQueries := cfg.Readers * cfg.QueriesPerReader
	if result.Queries.TotalQueries != wantQueries {
		t.Errorf("queries = %d, want %d", result.Queries.TotalQueries, wantQueries)
	}
	if result.Queries.Errors != 0 {
		t.Errorf("query errors = %d, want 0", result.Queries.Errors)
	}

	report := result.Report()
	for _, want := range []string{"Cold sync", "Warm sync", "P95"} {
		if !strings.Contains(report, want) {
			t.Errorf("Report() missing %q:\n%s", want, report)
		}
	}
}

func TestRunRejectsEmptyCatalog(t *testing.T) {
	cfg := smallConfig()
	cfg.Scenes = 0
	if _, err := Run(context.Background(), cfg); err == nil {
		t.Error("Run() with zero scenes succeeded, want error")
	}
}
