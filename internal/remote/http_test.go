package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestHTTPScenes(t *testing.T) {
	var gotPath, gotAPIKey, gotAccept string
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		gotAPIKey = r.Header.Get("ApiKey")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[{"id":"s1","title":"First"}],"total":41}`)
	}))
	defer srv.Close()

	client, err := Connect(srv.URL, Options{APIKey: "sekrit", Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	if client.Name() != "http" {
		t.Errorf("Name() = %q, want http", client.Name())
	}

	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	filter := &SceneFilter{
		Query:        "beach",
		StudioID:     "st9",
		Organized:    boolPtr(true),
		MinRating:    intPtr(3),
		UpdatedSince: &since,
	}
	scenes, total, err := client.Scenes(context.Background(), filter, 2, 25)
	if err != nil {
		t.Fatalf("Scenes() failed: %v", err)
	}
	if total != 41 || len(scenes) != 1 || scenes[0].ID != "s1" {
		t.Errorf("Scenes() = %d items, total %d", len(scenes), total)
	}

	if gotPath != "/api/v1/scenes" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAPIKey != "sekrit" {
		t.Errorf("ApiKey header = %q", gotAPIKey)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept header = %q", gotAccept)
	}
	wantParams := map[string]string{
		"page":          "2",
		"per_page":      "25",
		"q":             "beach",
		"studio_id":     "st9",
		"organized":     "true",
		"min_rating":    "3",
		"updated_since": "2024-05-01T00:00:00Z",
	}
	for key, want := range wantParams {
		if got := gotQuery.Get(key); got != want {
			t.Errorf("param %s = %q, want %q", key, got, want)
		}
	}
}

func TestHTTPScene(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/scenes/s%2F1" && r.URL.Path != "/api/v1/scenes/s/1" {
			// PathEscape keeps ids with separators unambiguous.
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"id":"s/1","title":"Escaped"}`)
	}))
	defer srv.Close()

	client, err := Connect(srv.URL, Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	scene, err := client.Scene(context.Background(), "s/1")
	if err != nil {
		t.Fatalf("Scene() failed: %v", err)
	}
	if scene.Title != "Escaped" {
		t.Errorf("Scene().Title = %q", scene.Title)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
		{"bad gateway", http.StatusBadGateway, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client, err := Connect(srv.URL, Options{Logger: discardLogger()})
			if err != nil {
				t.Fatalf("Connect() failed: %v", err)
			}
			_, err = client.Scene(context.Background(), "s1")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Scene() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := srv.URL
	srv.Close()

	client, err := Connect(target, Options{Timeout: time.Second, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	if _, err := client.Stats(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Stats() error = %v, want ErrUnavailable", err)
	}
}

func TestHTTPStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/stats" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"scene_count":100,"performer_count":20,"tag_count":30,"studio_count":5,"version":"0.28.1"}`)
	}))
	defer srv.Close()

	client, err := Connect(srv.URL, Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	stats, err := client.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.SceneCount != 100 || stats.Version != "0.28.1" {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestHTTPEntitiesSince(t *testing.T) {
	var gotPath string
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `{"items":[{"id":"p1","name":"Alice"}]}`)
	}))
	defer srv.Close()

	client, err := Connect(srv.URL, Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	since := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	got, err := client.EntitiesSince(context.Background(), KindPerformer, since)
	if err != nil {
		t.Fatalf("EntitiesSince() failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Alice" {
		t.Errorf("EntitiesSince() = %v", got)
	}
	if gotPath != "/api/v1/performers" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery.Get("updated_since") != "2024-06-01T12:00:00Z" {
		t.Errorf("updated_since = %q", gotQuery.Get("updated_since"))
	}
}

func TestHTTPEntityPaths(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"items":[]}`)
	}))
	defer srv.Close()

	client, err := Connect(srv.URL, Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	ctx := context.Background()

	wantPaths := map[EntityKind]string{
		KindPerformer: "/api/v1/performers",
		KindTag:       "/api/v1/tags",
		KindStudio:    "/api/v1/studios",
	}
	for kind, want := range wantPaths {
		if _, err := client.Entities(ctx, kind); err != nil {
			t.Fatalf("Entities(%s) failed: %v", kind, err)
		}
		if gotPath != want {
			t.Errorf("Entities(%s) path = %q, want %q", kind, gotPath, want)
		}
	}

	if _, err := client.Entities(ctx, KindScene); err == nil {
		t.Error("Entities(scene) succeeded, want unsupported-kind error")
	}
}

func TestHTTPTargetValidation(t *testing.T) {
	if _, err := Connect("http://", Options{Logger: discardLogger()}); err == nil {
		t.Error("Connect(http://) succeeded, want missing-host error")
	}
}
