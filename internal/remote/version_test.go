package remote

import (
	"context"
	"errors"
	"testing"
	"time"
)

// versionedClient is a stub that only answers Stats.
type versionedClient struct {
	version string
}

func (c versionedClient) Name() string { return "stub" }
func (c versionedClient) Stats(context.Context) (*Stats, error) {
	return &Stats{Version: c.version}, nil
}
func (c versionedClient) Scenes(context.Context, *SceneFilter, int, int) ([]*ScenePayload, int, error) {
	return nil, 0, nil
}
func (c versionedClient) Scene(context.Context, string) (*ScenePayload, error) {
	return nil, ErrNotFound
}
func (c versionedClient) Entities(context.Context, EntityKind) ([]*EntityPayload, error) {
	return nil, nil
}
func (c versionedClient) EntitiesSince(context.Context, EntityKind, time.Time) ([]*EntityPayload, error) {
	return nil, nil
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name    string
		server  string
		min     string
		wantErr error
		anyErr  bool
	}{
		{name: "no minimum", server: "0.1.0", min: ""},
		{name: "server newer", server: "0.28.1", min: "0.20.0"},
		{name: "server equal", server: "0.28.1", min: "0.28.1"},
		{name: "server older", server: "0.27.0", min: "0.28.1", wantErr: ErrVersionTooOld},
		{name: "v-prefixed forms", server: "v0.6.0", min: "0.5.0"},
		{name: "no server version passes", server: "", min: "1.0.0"},
		{name: "garbage server version", server: "trunk-build", min: "1.0.0", anyErr: true},
		{name: "garbage minimum", server: "1.0.0", min: "not-a-version", anyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckVersion(context.Background(), versionedClient{version: tt.server}, tt.min)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("CheckVersion() error = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil {
					t.Error("CheckVersion() succeeded, want error")
				}
				if errors.Is(err, ErrVersionTooOld) {
					t.Errorf("CheckVersion() error = %v, want a parse error, not ErrVersionTooOld", err)
				}
			default:
				if err != nil {
					t.Errorf("CheckVersion() failed: %v", err)
				}
			}
		})
	}
}
