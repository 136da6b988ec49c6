package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/mwheeler/reelsync/internal/remote"
	"github.com/mwheeler/reelsync/internal/store"
)

const (
	// DefaultBatchSize is the scene page size for paged runs.
	DefaultBatchSize = 100

	// DefaultIncrementalWindow bounds the lookback when no completed
	// run exists to anchor an incremental sync.
	DefaultIncrementalWindow = 24 * time.Hour

	// historyCloseTimeout bounds the audit write that finalizes a
	// history row after the run context is already dead.
	historyCloseTimeout = 5 * time.Second
)

// Events receives run lifecycle notifications. The dashboard implements
// it; a nil Events in the config falls back to no-ops.
type Events interface {
	// SyncStarted fires once per run with its mode ("full",
	// "incremental", "scenes", "scene").
	SyncStarted(jobID, mode string)
	// SceneSynced fires once per persisted scene row.
	SceneSynced(id, title string)
	// SyncCompleted fires once per run, after the result is final.
	SyncCompleted(result *SyncResult)
}

type noopEvents struct{}

func (noopEvents) SyncStarted(string, string) {}
func (noopEvents) SceneSynced(string, string) {}
func (noopEvents) SyncCompleted(*SyncResult) {}

// Config tunes an engine. Zero values take defaults in New.
type Config struct {
	// Strategy decides per item whether and how remote data merges.
	Strategy Strategy

	// ConflictPolicy handles scenes whose local row carries manual
	// edits or a pending conflict.
	ConflictPolicy ConflictPolicy

	// BatchSize is the scene page size for paged runs.
	BatchSize int

	// ProgressInterval throttles progress broadcasts per job.
	ProgressInterval time.Duration

	// MinServerVersion gates runs on the version the remote reports.
	// Empty skips the gate; so does a backend that reports no version.
	MinServerVersion string

	// Progress, when set, receives throttled progress updates. Errors
	// it returns are logged and ignored.
	Progress Callback

	// Events, when set, receives run lifecycle notifications.
	Events Events
}

// DefaultConfig returns the defaults commands start from: smart
// strategy, manual conflict policy.
func DefaultConfig() Config {
	return Config{
		Strategy:         Smart{},
		ConflictPolicy:   PolicyManual,
		BatchSize:        DefaultBatchSize,
		ProgressInterval: DefaultProgressInterval,
	}
}

// Engine orchestrates sync runs against one store and one remote
// backend. One engine executes one run at a time; callers serialize.
type Engine struct {
	store    *store.Store
	client   remote.Client
	cfg      Config
	resolver *Resolver
	tracker  *Tracker
	events   Events
	logger   *log.Logger
}

// New creates an engine. Zero-valued config fields take defaults; a nil
// logger defaults to stderr.
func New(st *store.Store, client remote.Client, cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if cfg.Strategy == nil {
		cfg.Strategy = Smart{}
	}
	if cfg.ConflictPolicy == "" {
		cfg.ConflictPolicy = PolicyManual
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	events := cfg.Events
	if events == nil {
		events = noopEvents{}
	}
	return &Engine{
		store:    st,
		client:   client,
		cfg:      cfg,
		resolver: NewResolver(logger),
		tracker:  NewTracker(cfg.ProgressInterval, logger),
		events:   events,
		logger:   logger,
	}
}

// Resolver exposes the conflict audit log.
func (e *Engine) Resolver() *Resolver { return e.resolver }

// Tracker exposes the progress tracker for sink registration.
func (e *Engine) Tracker() *Tracker { return e.tracker }

// ===== Run entry points =====

// SyncAll synchronizes every reference entity kind and then the whole
// scene catalog. With force set, entity fetches ignore the last-run
// watermark; scene coverage is always the full catalog, the strategy
// deciding per item.
func (e *Engine) SyncAll(ctx context.Context, jobID string, force bool) (*SyncResult, error) {
	jobID = orJobID(jobID)
	result := NewResult(jobID)
	e.events.SyncStarted(jobID, "full")
	e.logger.Printf("job %s: full sync from %s starting (strategy %s)",
		jobID, e.client.Name(), e.cfg.Strategy.Name())

	if err := e.checkVersion(ctx); err != nil {
		return e.abort(result, err)
	}

	for _, kind := range remote.ReferenceKinds() {
		var since *time.Time
		if !force {
			last, err := e.store.GetLastSyncTime(ctx, storeKind(kind))
			if err != nil {
				return e.abort(result, fmt.Errorf("failed to resolve last %s sync: %w", kind, err))
			}
			since = last
		}
		if err := e.syncEntityKind(ctx, result, kind, since); err != nil {
			return e.abort(result, err)
		}
	}

	if err := e.syncScenesPaged(ctx, result, nil); err != nil {
		return e.abort(result, err)
	}
	return e.finish(result), nil
}

// SyncIncremental syncs reference entities and scenes the remote
// modified since the last successful scene run, defaulting to a 24-hour
// window when no run has completed yet.
func (e *Engine) SyncIncremental(ctx context.Context, jobID string) (*SyncResult, error) {
	jobID = orJobID(jobID)
	result := NewResult(jobID)
	e.events.SyncStarted(jobID, "incremental")

	if err := e.checkVersion(ctx); err != nil {
		return e.abort(result, err)
	}

	since, err := e.sinceFor(ctx, store.KindScene)
	if err != nil {
		return e.abort(result, err)
	}
	e.logger.Printf("job %s: incremental sync from %s since %s",
		jobID, e.client.Name(), since.Format(time.RFC3339))

	for _, kind := range remote.ReferenceKinds() {
		if err := e.syncEntityKind(ctx, result, kind, &since); err != nil {
			return e.abort(result, err)
		}
	}

	filter := &remote.SceneFilter{UpdatedSince: &since}
	if err := e.syncScenesPaged(ctx, result, filter); err != nil {
		return e.abort(result, err)
	}
	return e.finish(result), nil
}

// SyncSince runs an incremental sync anchored on an explicit instant
// instead of the last-run watermark.
func (e *Engine) SyncSince(ctx context.Context, jobID string, since time.Time) (*SyncResult, error) {
	jobID = orJobID(jobID)
	result := NewResult(jobID)
	e.events.SyncStarted(jobID, "incremental")

	if err := e.checkVersion(ctx); err != nil {
		return e.abort(result, err)
	}

	since = since.UTC()
	e.logger.Printf("job %s: incremental sync from %s since %s",
		jobID, e.client.Name(), since.Format(time.RFC3339))

	for _, kind := range remote.ReferenceKinds() {
		if err := e.syncEntityKind(ctx, result, kind, &since); err != nil {
			return e.abort(result, err)
		}
	}

	filter := &remote.SceneFilter{UpdatedSince: &since}
	if err := e.syncScenesPaged(ctx, result, filter); err != nil {
		return e.abort(result, err)
	}
	return e.finish(result), nil
}

// ScenesRequest selects which scenes a targeted run covers. Exactly one
// selector applies, checked in order: IDs, Filter, Full.
type ScenesRequest struct {
	// JobID correlates the run; empty generates one.
	JobID string

	// IDs fetches each scene individually. A missing remote id is a
	// per-item error, not an abort.
	IDs []string

	// Filter pages through the remote's query surface.
	Filter *remote.SceneFilter

	// Full sweeps the entire catalog.
	Full bool
}

// SyncScenes runs a targeted scene sync without touching reference
// entities beyond what persisted scenes need as placeholders.
func (e *Engine) SyncScenes(ctx context.Context, req ScenesRequest) (*SyncResult, error) {
	jobID := orJobID(req.JobID)
	result := NewResult(jobID)
	e.events.SyncStarted(jobID, "scenes")
	e.logger.Printf("job %s: scene sync from %s starting", jobID, e.client.Name())

	if err := e.checkVersion(ctx); err != nil {
		return e.abort(result, err)
	}

	switch {
	case len(req.IDs) > 0:
		if err := e.syncSceneIDs(ctx, result, req.IDs); err != nil {
			return e.abort(result, err)
		}
	case req.Filter != nil:
		if err := e.syncScenesPaged(ctx, result, req.Filter); err != nil {
			return e.abort(result, err)
		}
	case req.Full:
		if err := e.syncScenesPaged(ctx, result, nil); err != nil {
			return e.abort(result, err)
		}
	default:
		return e.abort(result, fmt.Errorf("scene sync request selects nothing: set IDs, Filter, or Full"))
	}
	return e.finish(result), nil
}

// SyncSceneByID fetches one scene and runs it through the normal merge
// and persist path. A scene unknown to the remote fails the run.
func (e *Engine) SyncSceneByID(ctx context.Context, id string) (*SyncResult, error) {
	jobID := orJobID("")
	result := NewResult(jobID)
	e.events.SyncStarted(jobID, "scene")

	if err := e.checkVersion(ctx); err != nil {
		return e.abort(result, err)
	}

	p, err := e.client.Scene(ctx, id)
	if err != nil {
		return e.abort(result, fmt.Errorf("failed to fetch scene %s: %w", id, err))
	}

	histID, err := e.store.CreateSyncHistory(ctx, jobID, store.KindScene)
	if err != nil {
		return e.abort(result, fmt.Errorf("failed to open scene history: %w", err))
	}
	result.Total = 1

	var delta Delta
	perr := e.processSceneBatch(ctx, &delta, []*remote.ScenePayload{p})
	result.Fold(delta)
	e.closeHistory(histID, perr, delta)
	if perr != nil {
		return e.abort(result, perr)
	}
	return e.finish(result), nil
}

// ===== Run steps =====

// syncEntityKind pulls one reference kind and upserts it. A nil since
// fetches everything; otherwise only entities the remote modified after
// that instant.
func (e *Engine) syncEntityKind(ctx context.Context, result *SyncResult, kind remote.EntityKind, since *time.Time) (err error) {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("sync canceled before %s sync: %w", kind, cerr)
	}

	histID, err := e.store.CreateSyncHistory(ctx, result.JobID, storeKind(kind))
	if err != nil {
		return fmt.Errorf("failed to open %s history: %w", kind, err)
	}

	var delta Delta
	defer func() {
		result.Fold(delta)
		e.closeHistory(histID, err, delta)
	}()

	var payloads []*remote.EntityPayload
	if since != nil {
		payloads, err = e.client.EntitiesSince(ctx, kind, *since)
	} else {
		payloads, err = e.client.Entities(ctx, kind)
	}
	if err != nil {
		return fmt.Errorf("failed to fetch %s list: %w", kind, err)
	}
	result.Total += len(payloads)

	reporter := e.tracker.Start(result.JobID, kind, e.cfg.Progress)
	reporter.SetTotal(len(payloads))

	ids := make([]string, 0, len(payloads))
	for _, p := range payloads {
		if p != nil && p.ID != "" {
			ids = append(ids, p.ID)
		}
	}
	locals, err := e.store.GetEntitiesByIDs(ctx, storeKind(kind), ids)
	if err != nil {
		return fmt.Errorf("failed to load local %s rows: %w", kind, err)
	}

	rows := make([]*store.Entity, 0, len(payloads))
	freshRow := make(map[string]bool, len(payloads))
	for _, p := range payloads {
		if p == nil || p.ID == "" {
			delta.Skipped++
			delta.Processed++
			continue
		}
		local := locals[p.ID]
		syncNeeded, serr := e.cfg.Strategy.ShouldSync(p, entityTarget(local))
		if serr != nil {
			delta.AddError(kind, p.ID, serr.Error())
			continue
		}
		if !syncNeeded {
			delta.Skipped++
			delta.Processed++
			continue
		}
		isNew := local == nil
		if isNew {
			local = &store.Entity{ID: p.ID}
		}
		if merr := e.cfg.Strategy.MergeData(p, local); merr != nil {
			delta.AddError(kind, p.ID, merr.Error())
			continue
		}
		rows = append(rows, local)
		freshRow[p.ID] = isNew
	}

	count, rowErrs, err := e.store.BulkUpsertEntities(ctx, storeKind(kind), rows)
	if err != nil {
		return fmt.Errorf("failed to persist %s rows: %w", kind, err)
	}
	failed := make(map[string]bool, len(rowErrs))
	for _, re := range rowErrs {
		delta.AddError(kind, re.ID, re.Err.Error())
		failed[re.ID] = true
	}
	for _, row := range rows {
		if failed[row.ID] {
			continue
		}
		delta.Processed++
		if freshRow[row.ID] {
			delta.Created++
		} else {
			delta.Updated++
		}
	}

	e.logger.Printf("job %s: %s sync: %d persisted, %d skipped, %d failed",
		result.JobID, kind, count, delta.Skipped, delta.Failed)
	reporter.Finish(delta.Processed, fmt.Sprintf("%s sync complete", kind))
	return nil
}

// syncScenesPaged sweeps the remote scene catalog page by page. A nil
// filter covers everything. Cancellation is checked once per batch;
// batches already persisted stay persisted.
func (e *Engine) syncScenesPaged(ctx context.Context, result *SyncResult, filter *remote.SceneFilter) (err error) {
	histID, err := e.store.CreateSyncHistory(ctx, result.JobID, store.KindScene)
	if err != nil {
		return fmt.Errorf("failed to open scene history: %w", err)
	}

	var delta Delta
	defer func() {
		result.Fold(delta)
		e.closeHistory(histID, err, delta)
	}()

	reporter := e.tracker.Start(result.JobID, remote.KindScene, e.cfg.Progress)

	total := 0
	for page := 1; ; page++ {
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("sync canceled at batch %d: %w", page, cerr)
		}

		payloads, matched, ferr := e.client.Scenes(ctx, filter, page, e.cfg.BatchSize)
		if ferr != nil {
			return fmt.Errorf("failed to fetch scene page %d: %w", page, ferr)
		}
		if page == 1 {
			total = matched
			result.Total += matched
			reporter.SetTotal(matched)
		}
		if len(payloads) == 0 {
			break
		}

		if perr := e.processSceneBatch(ctx, &delta, payloads); perr != nil {
			return perr
		}
		reporter.Force(delta.Processed, fmt.Sprintf("scenes %d/%d", delta.Processed, total))

		if len(payloads) < e.cfg.BatchSize {
			break
		}
	}

	reporter.Finish(delta.Processed, "scene sync complete")
	return nil
}

// syncSceneIDs fetches an explicit id list one scene at a time, then
// persists the hits as a single batch. Ids the remote does not know are
// per-item errors.
func (e *Engine) syncSceneIDs(ctx context.Context, result *SyncResult, ids []string) (err error) {
	histID, err := e.store.CreateSyncHistory(ctx, result.JobID, store.KindScene)
	if err != nil {
		return fmt.Errorf("failed to open scene history: %w", err)
	}

	var delta Delta
	defer func() {
		result.Fold(delta)
		e.closeHistory(histID, err, delta)
	}()

	result.Total += len(ids)
	reporter := e.tracker.Start(result.JobID, remote.KindScene, e.cfg.Progress)
	reporter.SetTotal(len(ids))

	payloads := make([]*remote.ScenePayload, 0, len(ids))
	for i, id := range ids {
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("sync canceled at item %d: %w", i+1, cerr)
		}
		p, ferr := e.client.Scene(ctx, id)
		if ferr != nil {
			if remote.IsNotFound(ferr) {
				delta.AddError(remote.KindScene, id, "scene not found on remote")
				continue
			}
			return fmt.Errorf("failed to fetch scene %s: %w", id, ferr)
		}
		payloads = append(payloads, p)
		reporter.Update(len(payloads), fmt.Sprintf("fetched scene %s", id))
	}

	if perr := e.processSceneBatch(ctx, &delta, payloads); perr != nil {
		return perr
	}
	reporter.Finish(delta.Processed, "scene sync complete")
	return nil
}

// processSceneBatch maps one batch of payloads onto local rows and
// persists them. Reference placeholders go in first so scene rows never
// hit a missing foreign key.
func (e *Engine) processSceneBatch(ctx context.Context, delta *Delta, payloads []*remote.ScenePayload) error {
	ids := make([]string, 0, len(payloads))
	for _, p := range payloads {
		if p != nil && p.ID != "" {
			ids = append(ids, p.ID)
		}
	}
	locals, err := e.store.GetScenesByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load local scenes: %w", err)
	}

	rows := make([]*store.Scene, 0, len(payloads))
	freshRow := make(map[string]bool, len(payloads))
	titles := make(map[string]string, len(payloads))
	for _, p := range payloads {
		if p == nil || p.ID == "" {
			delta.Skipped++
			delta.Processed++
			continue
		}
		row, isNew, merr := e.mapScene(p, locals[p.ID])
		if merr != nil {
			delta.AddError(remote.KindScene, p.ID, merr.Error())
			continue
		}
		if row == nil {
			delta.Skipped++
			delta.Processed++
			continue
		}
		rows = append(rows, row)
		freshRow[p.ID] = isNew
		titles[p.ID] = p.Title
	}

	if err := e.ensureReferences(ctx, payloads); err != nil {
		return err
	}

	persisted, rowErrs, err := e.store.BulkUpsertScenes(ctx, rows)
	if err != nil {
		return fmt.Errorf("failed to persist scenes: %w", err)
	}
	for _, re := range rowErrs {
		delta.AddError(remote.KindScene, re.ID, re.Err.Error())
	}
	for _, sc := range persisted {
		delta.Processed++
		if freshRow[sc.ID] {
			delta.Created++
		} else {
			delta.Updated++
		}
		e.events.SceneSynced(sc.ID, titles[sc.ID])
	}
	return nil
}

// mapScene routes one payload through the strategy or, for rows with
// manual edits or a pending conflict, through the resolver. A nil row
// with nil error means skip.
func (e *Engine) mapScene(p *remote.ScenePayload, local *store.Scene) (*store.Scene, bool, error) {
	syncNeeded, err := e.cfg.Strategy.ShouldSync(p, sceneTarget(local))
	if err != nil {
		return nil, false, err
	}
	if !syncNeeded {
		return nil, false, nil
	}

	if local == nil {
		row := &store.Scene{ID: p.ID}
		if err := e.cfg.Strategy.MergeData(p, row); err != nil {
			return nil, false, err
		}
		return row, true, nil
	}

	if local.ManualEdit || local.SyncConflict {
		if _, err := e.resolver.ResolveSceneConflict(local, p, e.cfg.ConflictPolicy); err != nil {
			return nil, false, err
		}
		// Remote timestamps advance under every policy, LOCAL_WINS
		// included.
		local.RemoteCreatedAt = p.CreatedTime()
		local.RemoteUpdatedAt = p.UpdatedTime()
		return local, false, nil
	}

	if err := e.cfg.Strategy.MergeData(p, local); err != nil {
		return nil, false, err
	}
	return local, false, nil
}

// ensureReferences creates placeholder rows for every studio, performer,
// and tag a scene batch references. Existing rows are never touched.
func (e *Engine) ensureReferences(ctx context.Context, payloads []*remote.ScenePayload) error {
	kinds := []remote.EntityKind{remote.KindPerformer, remote.KindTag, remote.KindStudio}
	byKind := make(map[remote.EntityKind]map[string]*store.Entity, len(kinds))
	for _, kind := range kinds {
		byKind[kind] = make(map[string]*store.Entity)
	}
	add := func(kind remote.EntityKind, ep *remote.EntityPayload) {
		if ep == nil || ep.ID == "" {
			return
		}
		if _, ok := byKind[kind][ep.ID]; ok {
			return
		}
		byKind[kind][ep.ID] = &store.Entity{
			ID:              ep.ID,
			Name:            ep.Name,
			Aliases:         slices.Clone(ep.Aliases),
			URL:             ep.URL,
			RemoteUpdatedAt: ep.UpdatedTime(),
		}
	}
	for _, p := range payloads {
		if p == nil || p.ID == "" {
			continue
		}
		add(remote.KindStudio, p.Studio)
		for i := range p.Performers {
			add(remote.KindPerformer, &p.Performers[i])
		}
		for i := range p.Tags {
			add(remote.KindTag, &p.Tags[i])
		}
	}
	for _, kind := range kinds {
		m := byKind[kind]
		if len(m) == 0 {
			continue
		}
		rows := make([]*store.Entity, 0, len(m))
		for _, ent := range m {
			rows = append(rows, ent)
		}
		if err := e.store.EnsureEntities(ctx, storeKind(kind), rows); err != nil {
			return fmt.Errorf("failed to ensure %s references: %w", kind, err)
		}
	}
	return nil
}

// ===== Run plumbing =====

// checkVersion gates the run on the configured minimum server version.
func (e *Engine) checkVersion(ctx context.Context) error {
	return remote.CheckVersion(ctx, e.client, e.cfg.MinServerVersion)
}

// sinceFor anchors an incremental run on the last completed sync of a
// kind, defaulting to DefaultIncrementalWindow ago.
func (e *Engine) sinceFor(ctx context.Context, kind store.EntityKind) (time.Time, error) {
	last, err := e.store.GetLastSyncTime(ctx, kind)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to resolve last sync time: %w", err)
	}
	if last != nil {
		return *last, nil
	}
	return time.Now().UTC().Add(-DefaultIncrementalWindow), nil
}

// closeHistory finalizes one history row. It runs on a background
// context so audit rows still close when the run context is canceled.
func (e *Engine) closeHistory(histID int64, runErr error, delta Delta) {
	status := store.HistoryCompleted
	if runErr != nil {
		status = store.HistoryFailed
	}
	stats := store.SyncStats{
		Synced:  delta.Processed,
		Created: delta.Created,
		Updated: delta.Updated,
		Failed:  delta.Failed,
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyCloseTimeout)
	defer cancel()
	if err := e.store.UpdateSyncHistory(ctx, histID, status, stats, toSyncErrors(delta.Errors)); err != nil {
		e.logger.Printf("WARNING: failed to close sync history %d: %v", histID, err)
	}
}

// finish completes a run that covered its whole item set.
func (e *Engine) finish(result *SyncResult) *SyncResult {
	result.Complete()
	e.logger.Printf("job %s: %s", result.JobID, result.Summary())
	e.events.SyncCompleted(result)
	return result
}

// abort finalizes a run that stopped early. The run error is returned
// alongside the failed result.
func (e *Engine) abort(result *SyncResult, err error) (*SyncResult, error) {
	result.Fail(err.Error())
	e.logger.Printf("job %s: aborted: %v", result.JobID, err)
	e.events.SyncCompleted(result)
	return result, err
}

// orJobID returns the id unchanged, generating one for empty ids.
func orJobID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// storeKind maps a remote entity kind to its repository kind. The two
// packages share kind names.
func storeKind(kind remote.EntityKind) store.EntityKind {
	return store.EntityKind(kind)
}

func toSyncErrors(errs []ItemError) []store.SyncError {
	if len(errs) == 0 {
		return nil
	}
	out := make([]store.SyncError, 0, len(errs))
	for _, ie := range errs {
		out = append(out, store.SyncError{
			EntityType: string(ie.Kind),
			EntityID:   ie.ID,
			Message:    ie.Message,
		})
	}
	return out
}
