package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mwheeler/reelsync/internal/config"
	"github.com/mwheeler/reelsync/internal/daemon"
	"github.com/mwheeler/reelsync/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Run the sync daemon in the foreground",
	Long: `Watch keeps the mirror warm. The daemon runs an incremental sync
on a timer and watches a spool directory where dropped bundle exports
get ingested automatically.

Drop bundles into the spool with an atomic rename (mv), never a slow
copy, so the watcher only sees complete exports. Ingested bundles are
renamed with a .done suffix and stay in the spool until you clean up.

A lock file prevents two daemons from syncing the same mirror.

Examples:
  reel watch
  reel watch --interval 5m
  reel watch --spool ~/.reelsync/spool --log-file ~/.reelsync/daemon.log`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()
		client := connectClient(cfg)

		dc := daemonConfig(cmd, cfg)

		d, err := daemon.New(st, client, dc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("%s Watching %s\n", ui.RenderAccent("🔄"), client.Name())
		fmt.Printf("   Database:      %s\n", st.Path())
		fmt.Printf("   Sync interval: %s\n", dc.SyncInterval)
		if dc.SpoolDir != "" {
			fmt.Printf("   Spool:         %s\n", dc.SpoolDir)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// daemonConfig merges daemon settings from config with command flags.
// Watch and serve share it.
func daemonConfig(cmd *cobra.Command, cfg *config.Config) *daemon.Config {
	dc := daemon.DefaultConfig()
	dc.Engine = engineConfig(cmd, cfg)

	if cfg.Daemon.Interval > 0 {
		dc.SyncInterval = cfg.Daemon.Interval
	}
	if f := cmd.Flags().Lookup("interval"); f != nil && f.Changed {
		if v, err := cmd.Flags().GetDuration("interval"); err == nil {
			dc.SyncInterval = v
		}
	}

	dc.SpoolDir = cfg.Daemon.SpoolDir
	if f := cmd.Flags().Lookup("spool"); f != nil && f.Changed {
		dc.SpoolDir, _ = cmd.Flags().GetString("spool")
	}

	if noStart, _ := cmd.Flags().GetBool("no-startup-sync"); noStart {
		dc.SyncOnStart = false
	}

	logFile := cfg.Daemon.LogFile
	if f := cmd.Flags().Lookup("log-file"); f != nil && f.Changed {
		logFile, _ = cmd.Flags().GetString("log-file")
	}
	if logFile != "" {
		dc.Logger = daemon.FileLogger(logFile)
	}

	if dir, err := config.EnsureDir(); err == nil {
		dc.LockFile = filepath.Join(dir, "daemon.lock")
	}
	return dc
}

func init() {
	watchCmd.Flags().Duration("interval", 0, "Periodic incremental sync interval (0 uses config)")
	watchCmd.Flags().String("spool", "", "Spool directory for dropped bundles (empty uses config)")
	watchCmd.Flags().String("log-file", "", "Route daemon logs to a rotated file")
	watchCmd.Flags().Bool("no-startup-sync", false, "Skip the incremental sync at startup")
	watchCmd.Flags().String("strategy", "", "Sync strategy: full, incremental, smart")
	watchCmd.Flags().String("conflict-policy", "", "Conflict policy: remote_wins, local_wins, merge, manual")
	rootCmd.AddCommand(watchCmd)
}
