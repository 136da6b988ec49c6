// Package daemon provides the background sync loop behind `reel watch`.
//
// The daemon:
// 1. Runs incremental syncs against the configured remote on an interval
// 2. Watches a spool directory for dropped bundle exports and ingests them
// 3. Guards against concurrent daemons with a lock file
// 4. Handles graceful shutdown
//
// Bundles should be moved into the spool directory with mv (or another
// atomic rename) so they appear complete; a bundle still being copied
// when its debounce window expires is skipped with a warning.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mwheeler/reelsync/internal/engine"
	"github.com/mwheeler/reelsync/internal/remote"
	"github.com/mwheeler/reelsync/internal/store"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to run a periodic incremental sync.
	// Zero disables the periodic loop; spool ingestion still runs.
	SyncInterval time.Duration

	// DebounceInterval is how long a spool entry must sit quiet before
	// ingestion. This batches rapid drops together.
	DebounceInterval time.Duration

	// SpoolDir receives dropped bundle directories. Empty disables
	// spool watching.
	SpoolDir string

	// LockFile guards against concurrent daemons. Empty disables the
	// guard.
	LockFile string

	// SyncOnStart runs one incremental sync immediately at startup.
	SyncOnStart bool

	// Engine tunes the sync runs the daemon executes.
	Engine engine.Config

	// OnEngine, when set, is invoked for every engine the daemon
	// builds, before it runs. The dashboard uses it to attach progress
	// sinks and conflict callbacks.
	OnEngine func(*engine.Engine)

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     10 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		SyncOnStart:      true,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Stats is a snapshot of daemon activity.
type Stats struct {
	StartedAt       time.Time `json:"started_at"`
	LastRunAt       time.Time `json:"last_run_at,omitzero"`
	LastRunStatus   string    `json:"last_run_status,omitempty"`
	Runs            int       `json:"runs"`
	FailedRuns      int       `json:"failed_runs"`
	BundlesIngested int       `json:"bundles_ingested"`
}

// Daemon runs periodic syncs and spool ingestion until stopped.
type Daemon struct {
	store  *store.Store
	client remote.Client
	engine *engine.Engine
	config *Config

	watcher      *fsnotify.Watcher // nil when spool watching is disabled
	spoolQueue   map[string]time.Time
	spoolQueueMu sync.Mutex

	lock *os.File

	// runMu serializes sync runs: one periodic or ingest run at a time.
	runMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon syncing the given store from the given remote.
// Use Start() to begin the loops.
func New(st *store.Store, client remote.Client, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		store:      st,
		client:     client,
		config:     config,
		spoolQueue: make(map[string]time.Time),
		ctx:        ctx,
		cancel:     cancel,
	}
	d.engine = d.buildEngine(client)
	return d, nil
}

// buildEngine constructs an engine wired the way the daemon config asks.
func (d *Daemon) buildEngine(client remote.Client) *engine.Engine {
	eng := engine.New(d.store, client, d.config.Engine, d.config.Logger)
	if d.config.OnEngine != nil {
		d.config.OnEngine(eng)
	}
	return eng
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Acquire the lock file, failing fast if another daemon holds it
// 2. Optionally run one incremental sync immediately
// 3. Watch the spool directory and ingest dropped bundles
// 4. Run incremental syncs on the configured interval
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")
	d.statsMu.Lock()
	d.stats.StartedAt = time.Now()
	d.statsMu.Unlock()

	// Propagate caller cancellation to in-flight runs, including the
	// startup sync that runs before the select below.
	stop := context.AfterFunc(ctx, d.cancel)
	defer stop()

	if d.config.LockFile != "" {
		lock, err := acquireLock(d.config.LockFile)
		if err != nil {
			return err
		}
		d.lock = lock
	}

	if d.config.SpoolDir != "" {
		if err := os.MkdirAll(d.config.SpoolDir, 0o755); err != nil {
			return fmt.Errorf("failed to create spool directory: %w", err)
		}
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		if err := watcher.Add(d.config.SpoolDir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch spool directory: %w", err)
		}
		d.watcher = watcher
		d.config.Logger.Printf("Watching spool: %s", d.config.SpoolDir)

		// Bundles dropped while the daemon was down are still waiting.
		d.scanSpool()

		d.wg.Add(2)
		go d.watchSpoolEvents()
		go d.processSpoolQueue()
	}

	if d.config.SyncOnStart {
		d.runIncremental("startup")
	}

	if d.config.SyncInterval > 0 {
		d.wg.Add(1)
		go d.periodicSync()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	// Signal shutdown; an in-flight run aborts at its next batch.
	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}

	d.wg.Wait()

	releaseLock(d.lock)
	d.lock = nil

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// GetStats returns a snapshot of daemon activity.
func (d *Daemon) GetStats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// periodicSync runs incremental syncs on the configured interval.
func (d *Daemon) periodicSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.runIncremental("interval")
		}
	}
}

// runIncremental executes one incremental sync against the main remote.
func (d *Daemon) runIncremental(reason string) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.ctx.Err() != nil {
		return
	}

	d.config.Logger.Printf("Incremental sync (%s)", reason)
	result, err := d.engine.SyncIncremental(d.ctx, "")
	d.recordRun(result, err)
}

// recordRun folds one run outcome into the daemon stats.
func (d *Daemon) recordRun(result *engine.SyncResult, err error) {
	d.statsMu.Lock()
	d.stats.Runs++
	d.stats.LastRunAt = time.Now()
	if result != nil {
		d.stats.LastRunStatus = string(result.Status)
	}
	if err != nil {
		d.stats.FailedRuns++
	}
	d.statsMu.Unlock()

	if err != nil {
		d.config.Logger.Printf("Sync failed: %v", err)
	}
}
