package remote

import (
	"errors"
	"testing"
)

func TestDetectBackend(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"http://localhost:9999", "http"},
		{"https://catalog.example.com", "http"},
		{"/var/exports/bundle", "bundle"},
		{"./relative/dir", "bundle"},
		{"", "bundle"},
	}
	for _, tt := range tests {
		if got := DetectBackend(tt.target); got != tt.want {
			t.Errorf("DetectBackend(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	for _, scheme := range []string{"http", "bundle"} {
		if !IsRegistered(scheme) {
			t.Errorf("IsRegistered(%q) = false", scheme)
		}
	}
	if IsRegistered("carrier-pigeon") {
		t.Error("IsRegistered(carrier-pigeon) = true")
	}

	backends := RegisteredBackends()
	if len(backends) < 2 {
		t.Errorf("RegisteredBackends() = %v, want at least http and bundle", backends)
	}
}

func TestConnectSchemeUnknown(t *testing.T) {
	_, err := ConnectScheme("carrier-pigeon", "coop", Options{})
	if !errors.Is(err, ErrUnsupportedTarget) {
		t.Errorf("ConnectScheme() error = %v, want ErrUnsupportedTarget", err)
	}
}
