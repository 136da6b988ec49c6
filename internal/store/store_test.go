package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

// testStore opens an initialized store on a temporary database.
func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return st
}

// seedEntities inserts reference entities so scene foreign keys resolve.
func seedEntities(t *testing.T, st *Store, kind EntityKind, ids ...string) {
	t.Helper()
	entities := make([]*Entity, len(ids))
	for i, id := range ids {
		entities[i] = &Entity{ID: id, Name: "entity " + id}
	}
	count, rowErrs, err := st.BulkUpsertEntities(context.Background(), kind, entities)
	if err != nil {
		t.Fatalf("BulkUpsertEntities(%s) failed: %v", kind, err)
	}
	if len(rowErrs) > 0 {
		t.Fatalf("BulkUpsertEntities(%s) row errors: %v", kind, rowErrs)
	}
	if count != len(ids) {
		t.Fatalf("BulkUpsertEntities(%s) = %d, want %d", kind, count, len(ids))
	}
}

// TestOpen_Success tests database creation and initialization
func TestOpen_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer st.Close()

	if st.Path() != path {
		t.Errorf("Path() = %q, want %q", st.Path(), path)
	}
	if st.RawDB() == nil {
		t.Error("RawDB() returned nil")
	}
}

// TestInitSchema_Success tests schema creation
func TestInitSchema_Success(t *testing.T) {
	st := testStore(t)

	tables := []string{
		"scenes", "scene_files", "scene_performers", "scene_tags",
		"performers", "tags", "studios", "sync_history",
	}
	for _, table := range tables {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := st.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

// TestInitSchema_Idempotent tests that schema initialization is idempotent
func TestInitSchema_Idempotent(t *testing.T) {
	st := testStore(t)

	if err := st.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

// TestBulkUpsertScenes_Insert tests inserting a scene with files and relations
func TestBulkUpsertScenes_Insert(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedEntities(t, st, KindStudio, "st1")
	seedEntities(t, st, KindPerformer, "p1", "p2")
	seedEntities(t, st, KindTag, "t1")

	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	rating := 4
	scene := &Scene{
		ID:        "s1",
		Title:     "First Scene",
		Details:   "details here",
		URL:       "https://example.com/s1",
		Date:      &date,
		Rating:    &rating,
		Organized: true,
		Files: []SceneFile{
			{Duration: 1800.5, Size: 1 << 30, Width: 1920, Height: 1080, FrameRate: 29.97, BitRate: 6_000_000, VideoCodec: "h264", AudioCodec: "aac", Primary: true},
			{Duration: 1800.5, Size: 1 << 28, Width: 1280, Height: 720, VideoCodec: "h264"},
		},
		StudioID:        "st1",
		PerformerIDs:    []string{"p2", "p1"},
		TagIDs:          []string{"t1"},
		ContentChecksum: "abc123",
	}

	persisted, rowErrs, err := st.BulkUpsertScenes(ctx, []*Scene{scene})
	if err != nil {
		t.Fatalf("BulkUpsertScenes() failed: %v", err)
	}
	if len(rowErrs) > 0 {
		t.Fatalf("BulkUpsertScenes() row errors: %v", rowErrs)
	}
	if len(persisted) != 1 {
		t.Fatalf("persisted %d scenes, want 1", len(persisted))
	}
	if persisted[0].LastSynced.IsZero() {
		t.Error("LastSynced not stamped on persisted scene")
	}

	got, err := st.GetSceneByID(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSceneByID() failed: %v", err)
	}
	if got.Title != "First Scene" {
		t.Errorf("Title = %q, want 'First Scene'", got.Title)
	}
	if got.Rating == nil || *got.Rating != 4 {
		t.Errorf("Rating = %v, want 4", got.Rating)
	}
	if got.Date == nil || !got.Date.Equal(date) {
		t.Errorf("Date = %v, want %v", got.Date, date)
	}
	if !got.Organized {
		t.Error("Organized = false, want true")
	}
	if got.StudioID != "st1" {
		t.Errorf("StudioID = %q, want 'st1'", got.StudioID)
	}
	if len(got.Files) != 2 {
		t.Fatalf("Files length = %d, want 2", len(got.Files))
	}
	pf := got.PrimaryFile()
	if pf == nil || pf.Width != 1920 {
		t.Errorf("PrimaryFile width = %v, want 1920", pf)
	}
	// Relationship ids come back sorted.
	if len(got.PerformerIDs) != 2 || got.PerformerIDs[0] != "p1" || got.PerformerIDs[1] != "p2" {
		t.Errorf("PerformerIDs = %v, want [p1 p2]", got.PerformerIDs)
	}
	if len(got.TagIDs) != 1 || got.TagIDs[0] != "t1" {
		t.Errorf("TagIDs = %v, want [t1]", got.TagIDs)
	}
	if got.ContentChecksum != "abc123" {
		t.Errorf("ContentChecksum = %q, want 'abc123'", got.ContentChecksum)
	}
}

// TestBulkUpsertScenes_Update tests that a second upsert replaces fields and relations
func TestBulkUpsertScenes_Update(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedEntities(t, st, KindPerformer, "p1", "p2", "p3")

	scene := &Scene{
		ID:           "s1",
		Title:        "Original",
		PerformerIDs: []string{"p1", "p2"},
	}
	if _, _, err := st.BulkUpsertScenes(ctx, []*Scene{scene}); err != nil {
		t.Fatalf("First BulkUpsertScenes() failed: %v", err)
	}

	scene.Title = "Updated"
	scene.PerformerIDs = []string{"p2", "p3"}
	if _, _, err := st.BulkUpsertScenes(ctx, []*Scene{scene}); err != nil {
		t.Fatalf("Second BulkUpsertScenes() failed: %v", err)
	}

	got, err := st.GetSceneByID(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSceneByID() failed: %v", err)
	}
	if got.Title != "Updated" {
		t.Errorf("Title = %q, want 'Updated'", got.Title)
	}
	// Relations are replaced, not unioned: p1 must be gone.
	if len(got.PerformerIDs) != 2 || got.PerformerIDs[0] != "p2" || got.PerformerIDs[1] != "p3" {
		t.Errorf("PerformerIDs = %v, want [p2 p3]", got.PerformerIDs)
	}

	count, err := st.SceneCount(ctx)
	if err != nil {
		t.Fatalf("SceneCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("SceneCount() = %d, want 1", count)
	}
}

// TestBulkUpsertScenes_SkipsEmptyID tests that scenes missing an id are
// skipped while valid scenes in the same batch persist
func TestBulkUpsertScenes_SkipsEmptyID(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	scenes := []*Scene{
		{ID: "s1", Title: "Valid"},
		{ID: "", Title: "No ID"},
		nil,
	}

	persisted, rowErrs, err := st.BulkUpsertScenes(ctx, scenes)
	if err != nil {
		t.Fatalf("BulkUpsertScenes() failed: %v", err)
	}
	if len(rowErrs) > 0 {
		t.Fatalf("expected no row errors, got %v", rowErrs)
	}
	if len(persisted) != 1 || persisted[0].ID != "s1" {
		t.Fatalf("persisted = %v, want only s1", persisted)
	}

	count, err := st.SceneCount(ctx)
	if err != nil {
		t.Fatalf("SceneCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("SceneCount() = %d, want 1", count)
	}
}

// TestBulkUpsertScenes_RowIsolation tests that one failing row does not
// poison the rest of the batch
func TestBulkUpsertScenes_RowIsolation(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedEntities(t, st, KindStudio, "st1")

	scenes := []*Scene{
		{ID: "s1", Title: "A", StudioID: "st1"},
		{ID: "s2", Title: "B", StudioID: "missing-studio"}, // FK violation
		{ID: "s3", Title: "C"},
	}

	persisted, rowErrs, err := st.BulkUpsertScenes(ctx, scenes)
	if err != nil {
		t.Fatalf("BulkUpsertScenes() failed: %v", err)
	}
	if len(persisted) != 2 {
		t.Fatalf("persisted %d scenes, want 2", len(persisted))
	}
	if len(rowErrs) != 1 {
		t.Fatalf("row errors = %v, want exactly 1", rowErrs)
	}
	if rowErrs[0].ID != "s2" {
		t.Errorf("failing row id = %q, want 's2'", rowErrs[0].ID)
	}
	if rowErrs[0].Unwrap() == nil {
		t.Error("RowError.Unwrap() = nil, want wrapped error")
	}

	for _, id := range []string{"s1", "s3"} {
		if _, err := st.GetSceneByID(ctx, id); err != nil {
			t.Errorf("GetSceneByID(%s) failed: %v", id, err)
		}
	}
	if _, err := st.GetSceneByID(ctx, "s2"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetSceneByID(s2) = %v, want sql.ErrNoRows", err)
	}
}

// TestBulkUpsertScenes_Empty tests that an empty batch is a no-op
func TestBulkUpsertScenes_Empty(t *testing.T) {
	st := testStore(t)

	persisted, rowErrs, err := st.BulkUpsertScenes(context.Background(), nil)
	if err != nil {
		t.Fatalf("BulkUpsertScenes(nil) failed: %v", err)
	}
	if len(persisted) != 0 || len(rowErrs) != 0 {
		t.Errorf("persisted = %v, rowErrs = %v, want empty", persisted, rowErrs)
	}
}

// TestGetSceneByID_NotFound tests error handling for missing scene
func TestGetSceneByID_NotFound(t *testing.T) {
	st := testStore(t)

	_, err := st.GetSceneByID(context.Background(), "nope")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetSceneByID() = %v, want sql.ErrNoRows", err)
	}
}

// TestGetScenesByIDs tests batch retrieval keyed by id
func TestGetScenesByIDs(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	scenes := []*Scene{
		{ID: "s1", Title: "A"},
		{ID: "s2", Title: "B"},
	}
	if _, _, err := st.BulkUpsertScenes(ctx, scenes); err != nil {
		t.Fatalf("BulkUpsertScenes() failed: %v", err)
	}

	got, err := st.GetScenesByIDs(ctx, []string{"s1", "s2", "s3"})
	if err != nil {
		t.Fatalf("GetScenesByIDs() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d scenes, want 2", len(got))
	}
	if got["s1"] == nil || got["s1"].Title != "A" {
		t.Errorf("s1 = %v, want Title 'A'", got["s1"])
	}
	if _, ok := got["s3"]; ok {
		t.Error("s3 present in result, want absent")
	}

	empty, err := st.GetScenesByIDs(ctx, nil)
	if err != nil {
		t.Fatalf("GetScenesByIDs(nil) failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("GetScenesByIDs(nil) = %v, want empty map", empty)
	}
}

// TestListScenes_Filters tests the conflict filter and limit
func TestListScenes_Filters(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	scenes := []*Scene{
		{ID: "s1", Title: "A"},
		{ID: "s2", Title: "B"},
		{ID: "s3", Title: "C"},
	}
	if _, _, err := st.BulkUpsertScenes(ctx, scenes); err != nil {
		t.Fatalf("BulkUpsertScenes() failed: %v", err)
	}
	if err := st.SetSceneConflict(ctx, "s2", `{"changes":[]}`); err != nil {
		t.Fatalf("SetSceneConflict() failed: %v", err)
	}

	conflicted, err := st.ListScenes(ctx, SceneQuery{ConflictOnly: true})
	if err != nil {
		t.Fatalf("ListScenes(ConflictOnly) failed: %v", err)
	}
	if len(conflicted) != 1 || conflicted[0].ID != "s2" {
		t.Fatalf("ListScenes(ConflictOnly) = %v, want [s2]", conflicted)
	}
	if !conflicted[0].SyncConflict {
		t.Error("SyncConflict = false, want true")
	}

	limited, err := st.ListScenes(ctx, SceneQuery{Limit: 2})
	if err != nil {
		t.Fatalf("ListScenes(Limit) failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("ListScenes(Limit: 2) returned %d scenes", len(limited))
	}
}

// TestSceneConflictRoundTrip tests flagging, decoding, and clearing a conflict
func TestSceneConflictRoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if _, _, err := st.BulkUpsertScenes(ctx, []*Scene{{ID: "s1", Title: "A"}}); err != nil {
		t.Fatalf("BulkUpsertScenes() failed: %v", err)
	}

	type payload struct {
		Field string `json:"field"`
	}
	if err := st.SetSceneConflict(ctx, "s1", `{"field":"title"}`); err != nil {
		t.Fatalf("SetSceneConflict() failed: %v", err)
	}

	got, err := st.GetSceneByID(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSceneByID() failed: %v", err)
	}
	if !got.SyncConflict {
		t.Error("SyncConflict = false after SetSceneConflict")
	}

	var p payload
	ok, err := got.DecodeConflictData(&p)
	if err != nil {
		t.Fatalf("DecodeConflictData() failed: %v", err)
	}
	if !ok || p.Field != "title" {
		t.Errorf("DecodeConflictData() = (%v, %+v), want (true, field 'title')", ok, p)
	}

	if err := st.ClearSceneConflict(ctx, "s1"); err != nil {
		t.Fatalf("ClearSceneConflict() failed: %v", err)
	}
	got, err = st.GetSceneByID(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSceneByID() failed: %v", err)
	}
	if got.SyncConflict {
		t.Error("SyncConflict = true after ClearSceneConflict")
	}
	ok, err = got.DecodeConflictData(&p)
	if err != nil {
		t.Fatalf("DecodeConflictData() after clear failed: %v", err)
	}
	if ok {
		t.Error("DecodeConflictData() = true after clear, want false")
	}
}

// TestSetManualEdit tests the manual-edit flag setter
func TestSetManualEdit(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if _, _, err := st.BulkUpsertScenes(ctx, []*Scene{{ID: "s1"}}); err != nil {
		t.Fatalf("BulkUpsertScenes() failed: %v", err)
	}

	if err := st.SetManualEdit(ctx, "s1", true); err != nil {
		t.Fatalf("SetManualEdit() failed: %v", err)
	}
	got, err := st.GetSceneByID(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSceneByID() failed: %v", err)
	}
	if !got.ManualEdit {
		t.Error("ManualEdit = false, want true")
	}

	if err := st.SetManualEdit(ctx, "s1", false); err != nil {
		t.Fatalf("SetManualEdit(false) failed: %v", err)
	}
	got, err = st.GetSceneByID(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSceneByID() failed: %v", err)
	}
	if got.ManualEdit {
		t.Error("ManualEdit = true, want false")
	}
}

// TestBulkUpsertEntities_InsertAndUpdate tests reference-entity upserts
func TestBulkUpsertEntities_InsertAndUpdate(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	entities := []*Entity{
		{ID: "p1", Name: "Alice", Aliases: []string{"Al"}},
		{ID: "p2", Name: "Bob", URL: "https://example.com/bob"},
	}
	count, rowErrs, err := st.BulkUpsertEntities(ctx, KindPerformer, entities)
	if err != nil {
		t.Fatalf("BulkUpsertEntities() failed: %v", err)
	}
	if len(rowErrs) > 0 {
		t.Fatalf("row errors: %v", rowErrs)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	entities[0].Name = "Alice Updated"
	count, _, err = st.BulkUpsertEntities(ctx, KindPerformer, entities[:1])
	if err != nil {
		t.Fatalf("Second BulkUpsertEntities() failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	got, err := st.GetEntityByID(ctx, KindPerformer, "p1")
	if err != nil {
		t.Fatalf("GetEntityByID() failed: %v", err)
	}
	if got.Name != "Alice Updated" {
		t.Errorf("Name = %q, want 'Alice Updated'", got.Name)
	}
	if len(got.Aliases) != 1 || got.Aliases[0] != "Al" {
		t.Errorf("Aliases = %v, want [Al]", got.Aliases)
	}
	if got.LastSynced.IsZero() {
		t.Error("LastSynced not stamped")
	}

	total, err := st.EntityCount(ctx, KindPerformer)
	if err != nil {
		t.Fatalf("EntityCount() failed: %v", err)
	}
	if total != 2 {
		t.Errorf("EntityCount() = %d, want 2", total)
	}
}

// TestBulkUpsertEntities_UnsupportedKind tests kind validation
func TestBulkUpsertEntities_UnsupportedKind(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	// Non-empty input with an unsupported kind fails immediately.
	_, _, err := st.BulkUpsertEntities(ctx, KindScene, []*Entity{{ID: "x"}})
	if !errors.Is(err, ErrUnsupportedEntity) {
		t.Errorf("BulkUpsertEntities(scene) = %v, want ErrUnsupportedEntity", err)
	}

	// Empty input is a no-op regardless of kind.
	count, rowErrs, err := st.BulkUpsertEntities(ctx, KindScene, nil)
	if err != nil {
		t.Errorf("BulkUpsertEntities(scene, nil) = %v, want nil error", err)
	}
	if count != 0 || len(rowErrs) != 0 {
		t.Errorf("count = %d, rowErrs = %v, want 0 and empty", count, rowErrs)
	}
}

// TestBulkUpsertEntities_SkipsEmptyID tests empty-id skipping
func TestBulkUpsertEntities_SkipsEmptyID(t *testing.T) {
	st := testStore(t)

	count, rowErrs, err := st.BulkUpsertEntities(context.Background(), KindTag, []*Entity{
		{ID: "t1", Name: "Tag"},
		{ID: ""},
		nil,
	})
	if err != nil {
		t.Fatalf("BulkUpsertEntities() failed: %v", err)
	}
	if len(rowErrs) > 0 {
		t.Fatalf("row errors: %v", rowErrs)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

// TestEnsureEntities tests that ensure inserts new rows but never overwrites
func TestEnsureEntities(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if _, _, err := st.BulkUpsertEntities(ctx, KindStudio, []*Entity{{ID: "st1", Name: "Full Name"}}); err != nil {
		t.Fatalf("BulkUpsertEntities() failed: %v", err)
	}

	err := st.EnsureEntities(ctx, KindStudio, []*Entity{
		{ID: "st1", Name: "Placeholder"}, // exists, must not overwrite
		{ID: "st2", Name: "New Studio"},
	})
	if err != nil {
		t.Fatalf("EnsureEntities() failed: %v", err)
	}

	got, err := st.GetEntityByID(ctx, KindStudio, "st1")
	if err != nil {
		t.Fatalf("GetEntityByID(st1) failed: %v", err)
	}
	if got.Name != "Full Name" {
		t.Errorf("st1 Name = %q, want 'Full Name' (ensure must not overwrite)", got.Name)
	}

	got, err = st.GetEntityByID(ctx, KindStudio, "st2")
	if err != nil {
		t.Fatalf("GetEntityByID(st2) failed: %v", err)
	}
	if got.Name != "New Studio" {
		t.Errorf("st2 Name = %q, want 'New Studio'", got.Name)
	}
}

// TestGetEntitiesNeedingSync tests the staleness query ordering and cutoff
func TestGetEntitiesNeedingSync(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	seedEntities(t, st, KindPerformer, "p1", "p2", "p3")

	// Backdate p1 and p2; p3 stays fresh.
	old := time.Now().UTC().Add(-48 * time.Hour)
	older := time.Now().UTC().Add(-72 * time.Hour)
	backdate := func(id string, ts time.Time) {
		t.Helper()
		_, err := st.conn.Exec(`UPDATE performers SET last_synced = ? WHERE id = ?`,
			ts.Format(time.RFC3339), id)
		if err != nil {
			t.Fatalf("Failed to backdate %s: %v", id, err)
		}
	}
	backdate("p1", old)
	backdate("p2", older)

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	stale, err := st.GetEntitiesNeedingSync(ctx, KindPerformer, cutoff, 0)
	if err != nil {
		t.Fatalf("GetEntitiesNeedingSync() failed: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("got %d stale entities, want 2", len(stale))
	}
	// Oldest first.
	if stale[0].ID != "p2" || stale[1].ID != "p1" {
		t.Errorf("order = [%s %s], want [p2 p1]", stale[0].ID, stale[1].ID)
	}

	limited, err := st.GetEntitiesNeedingSync(ctx, KindPerformer, cutoff, 1)
	if err != nil {
		t.Fatalf("GetEntitiesNeedingSync(limit) failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "p2" {
		t.Errorf("limited = %v, want [p2]", limited)
	}

	// A cutoff in the distant past matches nothing: the comparison is strict.
	none, err := st.GetEntitiesNeedingSync(ctx, KindPerformer, older.Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("GetEntitiesNeedingSync(past cutoff) failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("got %d entities for past cutoff, want 0", len(none))
	}
}

// TestSyncHistoryLifecycle tests create, update, list, and last-sync queries
func TestSyncHistoryLifecycle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	id, err := st.CreateSyncHistory(ctx, "job-1", KindScene)
	if err != nil {
		t.Fatalf("CreateSyncHistory() failed: %v", err)
	}
	if id == 0 {
		t.Fatal("CreateSyncHistory() returned id 0")
	}

	// Freshly created rows are in_progress and carry no completion time.
	last, err := st.GetLastSyncTime(ctx, KindScene)
	if err != nil {
		t.Fatalf("GetLastSyncTime() failed: %v", err)
	}
	if last != nil {
		t.Errorf("GetLastSyncTime() = %v before completion, want nil", last)
	}

	stats := SyncStats{Synced: 10, Created: 3, Updated: 7, Failed: 1}
	syncErrs := []SyncError{{EntityType: "scene", EntityID: "s9", Message: "boom"}}
	if err := st.UpdateSyncHistory(ctx, id, HistoryCompleted, stats, syncErrs); err != nil {
		t.Fatalf("UpdateSyncHistory() failed: %v", err)
	}

	history, err := st.ListSyncHistory(ctx, 10)
	if err != nil {
		t.Fatalf("ListSyncHistory() failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	h := history[0]
	if h.JobID != "job-1" {
		t.Errorf("JobID = %q, want 'job-1'", h.JobID)
	}
	if h.EntityType != KindScene {
		t.Errorf("EntityType = %q, want scene", h.EntityType)
	}
	if h.Status != HistoryCompleted {
		t.Errorf("Status = %q, want completed", h.Status)
	}
	if h.Stats != stats {
		t.Errorf("Stats = %+v, want %+v", h.Stats, stats)
	}
	if h.CompletedAt == nil {
		t.Error("CompletedAt = nil after completion")
	}
	if len(h.Errors) != 1 || h.Errors[0].EntityID != "s9" {
		t.Errorf("Errors = %v, want one entry for s9", h.Errors)
	}

	last, err = st.GetLastSyncTime(ctx, KindScene)
	if err != nil {
		t.Fatalf("GetLastSyncTime() failed: %v", err)
	}
	if last == nil {
		t.Fatal("GetLastSyncTime() = nil after completion")
	}

	// Failed runs must not advance the incremental cutoff.
	id2, err := st.CreateSyncHistory(ctx, "job-2", KindScene)
	if err != nil {
		t.Fatalf("CreateSyncHistory(job-2) failed: %v", err)
	}
	if err := st.UpdateSyncHistory(ctx, id2, HistoryFailed, SyncStats{Failed: 5}, nil); err != nil {
		t.Fatalf("UpdateSyncHistory(failed) failed: %v", err)
	}
	last2, err := st.GetLastSyncTime(ctx, KindScene)
	if err != nil {
		t.Fatalf("GetLastSyncTime() failed: %v", err)
	}
	if last2 == nil || !last2.Equal(*last) {
		t.Errorf("GetLastSyncTime() = %v after failed run, want unchanged %v", last2, last)
	}
}

// TestUpdateSyncHistory_MissingID tests that updating an unknown row is a no-op
func TestUpdateSyncHistory_MissingID(t *testing.T) {
	st := testStore(t)

	err := st.UpdateSyncHistory(context.Background(), 9999, HistoryCompleted, SyncStats{}, nil)
	if err != nil {
		t.Errorf("UpdateSyncHistory(missing id) = %v, want nil", err)
	}
}

// TestGetLastSyncTime_PerKind tests that last-sync times are tracked per entity kind
func TestGetLastSyncTime_PerKind(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	id, err := st.CreateSyncHistory(ctx, "job-1", KindPerformer)
	if err != nil {
		t.Fatalf("CreateSyncHistory() failed: %v", err)
	}
	if err := st.UpdateSyncHistory(ctx, id, HistoryCompleted, SyncStats{Synced: 1}, nil); err != nil {
		t.Fatalf("UpdateSyncHistory() failed: %v", err)
	}

	last, err := st.GetLastSyncTime(ctx, KindScene)
	if err != nil {
		t.Fatalf("GetLastSyncTime(scene) failed: %v", err)
	}
	if last != nil {
		t.Errorf("GetLastSyncTime(scene) = %v, want nil (only performers completed)", last)
	}
}

// TestClose tests database cleanup
func TestClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if err := st.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}

	// Calling Close() again should be safe
	if err := st.Close(); err != nil {
		t.Errorf("Second Close() failed: %v", err)
	}
}

// BenchmarkBulkUpsertScenes benchmarks batch persistence
func BenchmarkBulkUpsertScenes(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench.db")
	st, err := Open(path, Options{})
	if err != nil {
		b.Fatalf("Open() failed: %v", err)
	}
	defer st.Close()

	if err := st.InitSchema(); err != nil {
		b.Fatalf("InitSchema() failed: %v", err)
	}

	ctx := context.Background()
	scenes := make([]*Scene, 100)
	for i := range scenes {
		rating := i % 5
		scenes[i] = &Scene{
			ID:     fmt.Sprintf("bench-%d", i),
			Title:  fmt.Sprintf("Benchmark Scene %d", i),
			Rating: &rating,
			Files:  []SceneFile{{Duration: 60, Size: 1 << 20, Primary: true}},
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := st.BulkUpsertScenes(ctx, scenes); err != nil {
			b.Fatalf("BulkUpsertScenes() failed: %v", err)
		}
	}
}
