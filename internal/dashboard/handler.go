package dashboard

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/mwheeler/reelsync/internal/engine"
)

// Handler bridges engine events onto the WebSocket server. It satisfies
// engine.Events and engine.Sink, and its ConflictDetected method plugs
// into Resolver.OnConflict, so one handler wires a whole engine:
//
//	h := dashboard.NewHandler(server, logger)
//	eng := engine.New(st, client, engine.Config{Events: h}, logger)
//	eng.Tracker().AddSink(h)
//	eng.Resolver().OnConflict(h.ConflictDetected)
type Handler struct {
	server *Server
	logger *log.Logger

	// Statistics tracking
	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server: server,
		logger: logger,
	}
}

// SyncStarted handles run start events
func (h *Handler) SyncStarted(jobID, mode string) {
	h.logger.Printf("Sync started: job %s (%s)", jobID, mode)

	h.broadcastData(MessageTypeSyncStarted, SyncStartedData{
		JobID: jobID,
		Mode:  mode,
	})
}

// SceneSynced handles per-scene persistence events
func (h *Handler) SceneSynced(id, title string) {
	h.mu.Lock()
	h.stats.ScenesSynced++
	h.mu.Unlock()

	h.broadcastData(MessageTypeSceneUpdate, SceneUpdateData{
		SceneID: id,
		Title:   title,
	})
}

// SyncCompleted handles run completion events
func (h *Handler) SyncCompleted(result *engine.SyncResult) {
	h.logger.Printf("Sync complete: job %s %s (%d processed, %d failed)",
		result.JobID, result.Status, result.Processed, result.Failed)

	h.mu.Lock()
	h.stats.Runs++
	h.mu.Unlock()

	h.broadcastData(MessageTypeSyncComplete, SyncCompleteData{
		JobID:     result.JobID,
		Status:    string(result.Status),
		Processed: result.Processed,
		Created:   result.Created,
		Updated:   result.Updated,
		Skipped:   result.Skipped,
		Failed:    result.Failed,
		Duration:  result.Duration(),
	})
	h.broadcastStats()
}

// ProgressUpdate handles throttled progress updates from the tracker
func (h *Handler) ProgressUpdate(u engine.Update) {
	h.broadcastData(MessageTypeProgress, ProgressData{
		JobID:      u.JobID,
		EntityType: string(u.Kind),
		Processed:  u.Processed,
		Total:      u.Total,
		Percent:    u.Percent(),
		Message:    u.Message,
		Final:      u.Final,
	})
}

// ConflictDetected handles conflict audit entries from the resolver
func (h *Handler) ConflictDetected(entry engine.ConflictEntry) {
	h.logger.Printf("Conflict on %s %s: %d change(s), policy %s",
		entry.Kind, entry.EntityID, len(entry.Changes), entry.Policy)

	h.mu.Lock()
	h.stats.Conflicts++
	if !entry.Resolved {
		h.stats.PendingConflicts++
	}
	h.mu.Unlock()

	fields := make([]string, 0, len(entry.Changes))
	for field := range entry.Changes {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	h.broadcastData(MessageTypeConflict, ConflictData{
		EntityType: string(entry.Kind),
		EntityID:   entry.EntityID,
		Policy:     string(entry.Policy),
		Resolved:   entry.Resolved,
		Fields:     fields,
	})
}

// SetCatalogCounts seeds the library-size counters, typically from the
// store at startup, and broadcasts the refreshed stats.
func (h *Handler) SetCatalogCounts(scenes, performers, tags, studios, pendingConflicts int) {
	h.mu.Lock()
	h.stats.Scenes = scenes
	h.stats.Performers = performers
	h.stats.Tags = tags
	h.stats.Studios = studios
	h.stats.PendingConflicts = pendingConflicts
	h.mu.Unlock()

	h.broadcastStats()
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// broadcastStats sends current statistics to all clients
func (h *Handler) broadcastStats() {
	h.mu.Lock()
	stats := h.stats
	h.mu.Unlock()

	h.broadcastData(MessageTypeStats, stats)
}

// broadcastData marshals a payload and broadcasts it under a type
func (h *Handler) broadcastData(typ MessageType, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
