package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/mwheeler/reelsync/internal/config"
	"github.com/mwheeler/reelsync/internal/engine"
	"github.com/mwheeler/reelsync/internal/remote"
	"github.com/mwheeler/reelsync/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "reel",
	Short: "Mirror a media catalog server into a local database",
	Long: `reel keeps a local mirror of a media catalog server.

Scenes, performers, tags, and studios sync into an embedded SQLite
database that stays useful offline. Syncs run full or incremental,
conflicts with local edits resolve by policy, and a background daemon
keeps the mirror warm.

Getting started:

  1. Point reel at a server (or an exported bundle directory):
       reel profile add home --target http://localhost:9999

  2. Pull the catalog:
       reel sync

  3. See what you have:
       reel status

Configuration lives in ~/.reelsync (override with REELSYNC_HOME).
Every setting can also come from REELSYNC_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "query", Title: "Query Commands:"},
		&cobra.Group{ID: "maint", Title: "Maintenance Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)

	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.reelsync/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "Connection profile to use")
	rootCmd.PersistentFlags().String("target", "", "Remote server URL or bundle directory (overrides config)")
	rootCmd.PersistentFlags().String("api-key", "", "API key for the remote server (overrides config)")
	rootCmd.PersistentFlags().String("db", "", "Local database path (overrides config)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log engine activity to stderr")
}

// cliLogger keeps one-shot commands quiet unless --verbose asks for the
// engine's log stream.
func cliLogger(cmd *cobra.Command) *log.Logger {
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		return log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

// loadConfig resolves the effective configuration for a command: config
// file, then profile, then flag overrides. Profiles apply when --profile
// names one, or as a fallback default when the config carries no target.
func loadConfig(cmd *cobra.Command) *config.Config {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	name, _ := cmd.Flags().GetString("profile")
	if name != "" || cfg.Target == "" {
		applyProfile(cfg, name)
	}

	if target, _ := cmd.Flags().GetString("target"); target != "" {
		cfg.Target = target
	}
	if key, _ := cmd.Flags().GetString("api-key"); key != "" {
		cfg.APIKey = key
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Database = db
	}
	return cfg
}

// applyProfile overlays a named profile onto cfg. An explicit name that
// doesn't resolve is fatal; a missing default profile is not.
func applyProfile(cfg *config.Config, name string) {
	path, err := config.DefaultProfilesPath()
	if err != nil {
		if name == "" {
			return
		}
		fmt.Fprintf(os.Stderr, "Error locating profiles: %v\n", err)
		os.Exit(1)
	}

	profiles, err := config.LoadProfiles(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading profiles: %v\n", err)
		os.Exit(1)
	}

	prof, _, err := profiles.Resolve(name)
	if err != nil {
		if name == "" {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg.Target = prof.Target
	if prof.APIKey != "" {
		cfg.APIKey = prof.APIKey
	}
	if prof.MinServerVersion != "" {
		cfg.Sync.MinServerVersion = prof.MinServerVersion
	}
}

func openStore(cfg *config.Config) *store.Store {
	st, err := store.Open(cfg.Database, store.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	if err := st.InitSchema(); err != nil {
		st.Close()
		fmt.Fprintf(os.Stderr, "Error initializing database: %v\n", err)
		os.Exit(1)
	}
	return st
}

func connectClient(cfg *config.Config) remote.Client {
	if cfg.Target == "" {
		fmt.Fprintf(os.Stderr, "Error: no remote target configured\n")
		fmt.Fprintf(os.Stderr, "Set one with 'reel profile add', --target, or REELSYNC_TARGET\n")
		os.Exit(1)
	}
	client, err := remote.Connect(cfg.Target, remote.Options{APIKey: cfg.APIKey})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to %s: %v\n", cfg.Target, err)
		os.Exit(1)
	}
	return client
}

// engineConfig builds an engine.Config from the resolved configuration,
// letting per-command --strategy, --conflict-policy, and --batch-size
// flags override it when the command registers them.
func engineConfig(cmd *cobra.Command, cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()

	strategyName := cfg.Sync.Strategy
	if f := cmd.Flags().Lookup("strategy"); f != nil && f.Changed {
		strategyName = f.Value.String()
	}
	if strategyName != "" {
		strategy, err := engine.ParseStrategy(strategyName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		ec.Strategy = strategy
	}

	policyName := cfg.Sync.ConflictPolicy
	if f := cmd.Flags().Lookup("conflict-policy"); f != nil && f.Changed {
		policyName = f.Value.String()
	}
	if policyName != "" {
		policy, err := engine.ParseConflictPolicy(policyName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		ec.ConflictPolicy = policy
	}

	if cfg.Sync.BatchSize > 0 {
		ec.BatchSize = cfg.Sync.BatchSize
	}
	if f := cmd.Flags().Lookup("batch-size"); f != nil && f.Changed {
		if n, err := cmd.Flags().GetInt("batch-size"); err == nil && n > 0 {
			ec.BatchSize = n
		}
	}

	if cfg.Sync.ProgressInterval > 0 {
		ec.ProgressInterval = cfg.Sync.ProgressInterval
	}
	ec.MinServerVersion = cfg.Sync.MinServerVersion
	return ec
}
