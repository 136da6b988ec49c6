package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mwheeler/reelsync/internal/config"
	"github.com/mwheeler/reelsync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Show the resolved configuration",
	Long: `Config prints the effective settings after merging the config
file, REELSYNC_* environment variables, the active profile, and
command-line flags. API keys are redacted.

Examples:
  reel config
  reel config --profile work
  reel config --json`,
	Run: func(cmd *cobra.Command, args []string) {
		jsonOut, _ := cmd.Flags().GetBool("json")
		cfg := loadConfig(cmd)
		dir, _ := config.Dir()

		if jsonOut {
			report := struct {
				Home             string        `json:"home"`
				Target           string        `json:"target,omitempty"`
				APIKeySet        bool          `json:"api_key_set"`
				Database         string        `json:"database"`
				Strategy         string        `json:"strategy"`
				ConflictPolicy   string        `json:"conflict_policy"`
				BatchSize        int           `json:"batch_size"`
				ProgressInterval time.Duration `json:"progress_interval"`
				MinServerVersion string        `json:"min_server_version,omitempty"`
				DaemonInterval   time.Duration `json:"daemon_interval"`
				SpoolDir         string        `json:"spool_dir,omitempty"`
				LogFile          string        `json:"log_file,omitempty"`
				DashboardPort    int           `json:"dashboard_port"`
			}{
				Home:             dir,
				Target:           cfg.Target,
				APIKeySet:        cfg.APIKey != "",
				Database:         cfg.Database,
				Strategy:         cfg.Sync.Strategy,
				ConflictPolicy:   cfg.Sync.ConflictPolicy,
				BatchSize:        cfg.Sync.BatchSize,
				ProgressInterval: cfg.Sync.ProgressInterval,
				MinServerVersion: cfg.Sync.MinServerVersion,
				DaemonInterval:   cfg.Daemon.Interval,
				SpoolDir:         cfg.Daemon.SpoolDir,
				LogFile:          cfg.Daemon.LogFile,
				DashboardPort:    cfg.Dashboard.Port,
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.Encode(report)
			return
		}

		target := cfg.Target
		if target == "" {
			target = "(not set)"
		}
		apiKey := "(not set)"
		if cfg.APIKey != "" {
			apiKey = "(set, redacted)"
		}

		fmt.Printf("%s Configuration\n\n", ui.RenderAccent("⚙️"))
		fmt.Printf("   Home:              %s\n", dir)
		fmt.Printf("   Target:            %s\n", target)
		fmt.Printf("   API key:           %s\n", apiKey)
		fmt.Printf("   Database:          %s\n", cfg.Database)
		fmt.Println()
		fmt.Printf("   Strategy:          %s\n", cfg.Sync.Strategy)
		fmt.Printf("   Conflict policy:   %s\n", cfg.Sync.ConflictPolicy)
		fmt.Printf("   Batch size:        %d\n", cfg.Sync.BatchSize)
		fmt.Printf("   Progress interval: %s\n", cfg.Sync.ProgressInterval)
		if cfg.Sync.MinServerVersion != "" {
			fmt.Printf("   Min server:        %s\n", cfg.Sync.MinServerVersion)
		}
		fmt.Println()
		fmt.Printf("   Daemon interval:   %s\n", cfg.Daemon.Interval)
		if cfg.Daemon.SpoolDir != "" {
			fmt.Printf("   Spool:             %s\n", cfg.Daemon.SpoolDir)
		}
		if cfg.Daemon.LogFile != "" {
			fmt.Printf("   Daemon log:        %s\n", cfg.Daemon.LogFile)
		}
		fmt.Printf("   Dashboard port:    %d\n", cfg.Dashboard.Port)
	},
}

func init() {
	configCmd.Flags().Bool("json", false, "Emit configuration as JSON")
	rootCmd.AddCommand(configCmd)
}
