package remote

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// writeTestBundle lays down a three-scene bundle with one entity of each
// reference kind plus a second performer without a timestamp.
func writeTestBundle(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	scenes := []*ScenePayload{
		{
			ID:         "s1",
			Title:      "First Light",
			Organized:  true,
			Rating100:  intPtr(80),
			Studio:     &EntityPayload{ID: "st1", Name: "Acme"},
			Performers: []EntityPayload{{ID: "p1", Name: "Alice"}},
			Tags:       []EntityPayload{{ID: "t1", Name: "outdoor"}},
			UpdatedAt:  "2024-03-01T10:00:00Z",
		},
		{ID: "s2", Title: "Second Wind", UpdatedAt: "2024-01-15T08:00:00"},
		{ID: "s3", Title: "Third Rail"},
	}
	entities := map[EntityKind][]*EntityPayload{
		KindPerformer: {
			{ID: "p1", Name: "Alice", UpdatedAt: "2024-02-01T00:00:00Z"},
			{ID: "p2", Name: "Bob"},
		},
		KindTag:    {{ID: "t1", Name: "outdoor"}},
		KindStudio: {{ID: "st1", Name: "Acme"}},
	}
	if err := WriteBundle(dir, scenes, entities); err != nil {
		t.Fatalf("WriteBundle() failed: %v", err)
	}
	return dir
}

func TestBundleRoundTrip(t *testing.T) {
	dir := writeTestBundle(t)
	ctx := context.Background()

	client, err := Connect(dir, Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	if client.Name() != "bundle" {
		t.Errorf("Name() = %q, want bundle", client.Name())
	}

	stats, err := client.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.SceneCount != 3 || stats.PerformerCount != 2 || stats.TagCount != 1 || stats.StudioCount != 1 {
		t.Errorf("Stats() = %+v, want 3/2/1/1", stats)
	}
	if stats.Version != "" {
		t.Errorf("Stats().Version = %q, want empty for bundles", stats.Version)
	}

	scene, err := client.Scene(ctx, "s2")
	if err != nil {
		t.Fatalf("Scene(s2) failed: %v", err)
	}
	if scene.Title != "Second Wind" {
		t.Errorf("Scene(s2).Title = %q", scene.Title)
	}

	if _, err := client.Scene(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Scene(nope) error = %v, want ErrNotFound", err)
	}
}

func TestBundlePaging(t *testing.T) {
	dir := writeTestBundle(t)
	ctx := context.Background()
	client, err := Connect(dir, Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	page1, total, err := client.Scenes(ctx, nil, 1, 2)
	if err != nil {
		t.Fatalf("Scenes(page 1) failed: %v", err)
	}
	if total != 3 || len(page1) != 2 {
		t.Fatalf("page 1 = %d items, total %d, want 2 and 3", len(page1), total)
	}
	if page1[0].ID != "s1" || page1[1].ID != "s2" {
		t.Errorf("page 1 ids = %s, %s, want s1, s2", page1[0].ID, page1[1].ID)
	}

	page2, _, err := client.Scenes(ctx, nil, 2, 2)
	if err != nil {
		t.Fatalf("Scenes(page 2) failed: %v", err)
	}
	if len(page2) != 1 || page2[0].ID != "s3" {
		t.Errorf("page 2 = %v, want just s3", page2)
	}

	empty, total, err := client.Scenes(ctx, nil, 3, 2)
	if err != nil {
		t.Fatalf("Scenes(page past end) failed: %v", err)
	}
	if len(empty) != 0 || total != 3 {
		t.Errorf("page past end = %d items, total %d, want 0 and 3", len(empty), total)
	}

	// perPage < 1 means everything on one page.
	all, _, err := client.Scenes(ctx, nil, 1, 0)
	if err != nil {
		t.Fatalf("Scenes(perPage 0) failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("perPage 0 returned %d items, want 3", len(all))
	}
}

func TestBundleFilteredScenes(t *testing.T) {
	dir := writeTestBundle(t)
	ctx := context.Background()
	client, err := Connect(dir, Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	tests := []struct {
		name   string
		expr   string
		wantID string
	}{
		{"by studio", "studio:st1", "s1"},
		{"by performer", "performer:p1", "s1"},
		{"by rating", "rating>=4", "s1"},
		{"free text", "wind", "s2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := ParseQuery(tt.expr)
			if err != nil {
				t.Fatalf("ParseQuery(%q) failed: %v", tt.expr, err)
			}
			matched, total, err := client.Scenes(ctx, filter, 1, 10)
			if err != nil {
				t.Fatalf("Scenes() failed: %v", err)
			}
			if total != 1 || len(matched) != 1 || matched[0].ID != tt.wantID {
				t.Errorf("Scenes(%q) = %d matches, want one (%s)", tt.expr, total, tt.wantID)
			}
		})
	}
}

func TestBundleEntitiesSince(t *testing.T) {
	dir := writeTestBundle(t)
	ctx := context.Background()
	client, err := Connect(dir, Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	// p1 changed 2024-02-01; p2 carries no timestamp and must always be
	// over-reported.
	since := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	got, err := client.EntitiesSince(ctx, KindPerformer, since)
	if err != nil {
		t.Fatalf("EntitiesSince() failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "p2" {
		t.Errorf("EntitiesSince(feb 15) = %v, want just p2", got)
	}

	earlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err = client.EntitiesSince(ctx, KindPerformer, earlier)
	if err != nil {
		t.Fatalf("EntitiesSince() failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("EntitiesSince(jan 1) = %d entities, want 2", len(got))
	}
}

func TestBundleMissingFiles(t *testing.T) {
	dir := t.TempDir()
	line := `{"id":"p1","name":"Solo"}` + "\n"
	if err := os.WriteFile(filepath.Join(dir, "performers.jsonl"), []byte(line), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	ctx := context.Background()
	client, err := ConnectScheme("bundle", dir, Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("ConnectScheme() failed: %v", err)
	}

	performers, err := client.Entities(ctx, KindPerformer)
	if err != nil {
		t.Fatalf("Entities(performer) failed: %v", err)
	}
	if len(performers) != 1 {
		t.Errorf("Entities(performer) = %d, want 1", len(performers))
	}

	tags, err := client.Entities(ctx, KindTag)
	if err != nil {
		t.Fatalf("Entities(tag) failed: %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("Entities(tag) = %d from absent file, want 0", len(tags))
	}

	scenes, total, err := client.Scenes(ctx, nil, 1, 10)
	if err != nil {
		t.Fatalf("Scenes() failed: %v", err)
	}
	if len(scenes) != 0 || total != 0 {
		t.Errorf("Scenes() = %d items, total %d from absent file, want 0", len(scenes), total)
	}

	if _, err := client.Entities(ctx, KindScene); err == nil {
		t.Error("Entities(scene) succeeded, want unsupported-kind error")
	}
}

func TestBundleSkipsUndecodableEntries(t *testing.T) {
	dir := t.TempDir()
	lines := `{"id":"s1","title":"Good"}
{"id":123}
{"id":"s2","title":"Also Good"}
`
	if err := os.WriteFile(filepath.Join(dir, "scenes.jsonl"), []byte(lines), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	client, err := ConnectScheme("bundle", dir, Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("ConnectScheme() failed: %v", err)
	}
	scenes, total, err := client.Scenes(context.Background(), nil, 1, 10)
	if err != nil {
		t.Fatalf("Scenes() failed: %v", err)
	}
	if total != 2 || len(scenes) != 2 {
		t.Errorf("Scenes() = %d items, want the 2 decodable entries", len(scenes))
	}
}

func TestBundleTargetValidation(t *testing.T) {
	if _, err := Connect(filepath.Join(t.TempDir(), "missing"), Options{Logger: discardLogger()}); err == nil {
		t.Error("Connect(missing dir) succeeded, want error")
	}

	file := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if _, err := Connect(file, Options{Logger: discardLogger()}); err == nil {
		t.Error("Connect(regular file) succeeded, want error")
	}
}

func TestIsBundleDir(t *testing.T) {
	empty := t.TempDir()
	if IsBundleDir(empty) {
		t.Error("IsBundleDir(empty) = true")
	}
	if IsBundleDir(filepath.Join(empty, "missing")) {
		t.Error("IsBundleDir(missing) = true")
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tags.jsonl"), nil, 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if !IsBundleDir(dir) {
		t.Error("IsBundleDir(dir with tags.jsonl) = false")
	}
}
