package daemon

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mwheeler/reelsync/internal/remote"
)

// ingestedSuffix marks spool entries that have already been imported.
// Renaming keeps the original bytes around for inspection while making
// re-ingestion impossible.
const ingestedSuffix = ".done"

// skipSpoolName reports whether a spool directory entry should be
// ignored (already ingested, temp files, hidden files).
func skipSpoolName(name string) bool {
	return strings.HasSuffix(name, ingestedSuffix) ||
		strings.HasSuffix(name, ".tmp") ||
		strings.HasPrefix(name, ".")
}

// scanSpool queues entries already sitting in the spool directory, so
// bundles dropped while the daemon was down are still picked up.
func (d *Daemon) scanSpool() {
	entries, err := os.ReadDir(d.config.SpoolDir)
	if err != nil {
		d.config.Logger.Printf("Spool scan failed: %v", err)
		return
	}
	for _, entry := range entries {
		if skipSpoolName(entry.Name()) {
			continue
		}
		d.queueSpoolEntry(filepath.Join(d.config.SpoolDir, entry.Name()))
	}
}

// queueSpoolEntry records (or refreshes) a pending spool entry.
func (d *Daemon) queueSpoolEntry(path string) {
	d.spoolQueueMu.Lock()
	d.spoolQueue[path] = time.Now()
	d.spoolQueueMu.Unlock()
}

// watchSpoolEvents converts file system events on the spool directory
// into queued entries.
func (d *Daemon) watchSpoolEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if skipSpoolName(filepath.Base(event.Name)) {
				continue
			}
			d.queueSpoolEntry(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// processSpoolQueue periodically ingests entries that have sat quiet
// for at least the debounce interval.
func (d *Daemon) processSpoolQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.ingestReady()
		}
	}
}

// ingestReady drains queue entries past their debounce window.
func (d *Daemon) ingestReady() {
	var ready []string
	d.spoolQueueMu.Lock()
	for path, queued := range d.spoolQueue {
		if time.Since(queued) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.spoolQueue, path)
	}
	d.spoolQueueMu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		if d.ctx.Err() != nil {
			return
		}
		if err := d.ingestSpoolEntry(path); err != nil {
			d.config.Logger.Printf("Spool ingest %s failed: %v", filepath.Base(path), err)
		}
	}
}

// ingestSpoolEntry imports one dropped bundle into the store and marks
// it done. Entries that are not bundle directories are skipped with a
// warning and left in place.
func (d *Daemon) ingestSpoolEntry(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Removed while queued.
			return nil
		}
		return err
	}
	if !info.IsDir() || !remote.IsBundleDir(path) {
		d.config.Logger.Printf("Skipping %s: not a bundle directory", filepath.Base(path))
		return nil
	}

	d.config.Logger.Printf("Ingesting bundle %s", filepath.Base(path))
	client, err := remote.ConnectScheme("bundle", path, remote.Options{Logger: d.config.Logger})
	if err != nil {
		return err
	}
	eng := d.buildEngine(client)

	d.runMu.Lock()
	result, err := eng.SyncAll(d.ctx, "", false)
	d.runMu.Unlock()
	d.recordRun(result, err)
	if err != nil {
		return err
	}

	d.statsMu.Lock()
	d.stats.BundlesIngested++
	d.statsMu.Unlock()

	if err := os.Rename(path, path+ingestedSuffix); err != nil {
		d.config.Logger.Printf("Could not mark %s ingested: %v", filepath.Base(path), err)
	}
	d.config.Logger.Printf("Bundle %s ingested, %s", filepath.Base(path), result.Summary())
	return nil
}
