// Package config loads reel's configuration surface.
//
// Three files live under the data directory (~/.reelsync by default,
// REELSYNC_HOME overrides):
//
//   - config.yaml    — main configuration, every key overridable through
//     REELSYNC_* environment variables
//   - profiles.toml  — named connection profiles
//   - filters.yaml   — saved scene filter expressions
//
// All three are optional; a missing file yields defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved main configuration.
type Config struct {
	// Target is the remote to sync from: an http(s) URL or a bundle
	// directory path. Profiles and the --target flag override it.
	Target string `mapstructure:"target"`

	// APIKey authenticates HTTP requests. Ignored by bundle targets.
	APIKey string `mapstructure:"api_key"`

	// Database is the SQLite file path.
	Database string `mapstructure:"database"`

	Sync      SyncConfig      `mapstructure:"sync"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// SyncConfig tunes sync runs.
type SyncConfig struct {
	// Strategy is the default merge strategy: full, incremental, or smart.
	Strategy string `mapstructure:"strategy"`

	// ConflictPolicy is the default policy for diverged rows:
	// remote_wins, local_wins, merge, or manual.
	ConflictPolicy string `mapstructure:"conflict_policy"`

	// BatchSize is the scene page size for paged runs.
	BatchSize int `mapstructure:"batch_size"`

	// ProgressInterval throttles progress output per job.
	ProgressInterval time.Duration `mapstructure:"progress_interval"`

	// MinServerVersion aborts runs against older remotes. Empty skips
	// the gate.
	MinServerVersion string `mapstructure:"min_server_version"`
}

// DaemonConfig tunes the watch daemon.
type DaemonConfig struct {
	// Interval spaces periodic incremental syncs.
	Interval time.Duration `mapstructure:"interval"`

	// SpoolDir is watched for dropped bundles.
	SpoolDir string `mapstructure:"spool_dir"`

	// LogFile, when set, routes daemon logs to a rotated file instead
	// of stderr.
	LogFile string `mapstructure:"log_file"`
}

// DashboardConfig tunes the dashboard server.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// Dir returns the data directory, honoring REELSYNC_HOME.
func Dir() (string, error) {
	if d := os.Getenv("REELSYNC_HOME"); d != "" {
		return d, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".reelsync"), nil
}

// EnsureDir creates the data directory if needed and returns it.
func EnsureDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}

// DefaultProfilesPath returns the profiles.toml location.
func DefaultProfilesPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profiles.toml"), nil
}

// DefaultFiltersPath returns the filters.yaml location.
func DefaultFiltersPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "filters.yaml"), nil
}

// Load reads config.yaml, layering environment variables over file
// values over defaults. An empty path searches the data directory; a
// missing file there is fine, a missing explicit path is an error.
func Load(path string) (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("REELSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, dir)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("target", "")
	v.SetDefault("api_key", "")
	v.SetDefault("database", filepath.Join(dir, "reelsync.db"))

	v.SetDefault("sync.strategy", "smart")
	v.SetDefault("sync.conflict_policy", "manual")
	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.progress_interval", time.Second)
	v.SetDefault("sync.min_server_version", "")

	v.SetDefault("daemon.interval", 10*time.Minute)
	v.SetDefault("daemon.spool_dir", filepath.Join(dir, "spool"))
	v.SetDefault("daemon.log_file", "")

	v.SetDefault("dashboard.port", 8080)
}
