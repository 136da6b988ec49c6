package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/mwheeler/reelsync/internal/config"
	"github.com/mwheeler/reelsync/internal/engine"
	"github.com/mwheeler/reelsync/internal/remote"
	"github.com/mwheeler/reelsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Sync the catalog from the remote",
	Long: `Sync pulls scenes, performers, tags, and studios from the remote
into the local mirror.

The default strategy comes from config (smart unless overridden):
  full         re-examine everything
  incremental  only items changed since the last completed sync
  smart        incremental when history exists, full otherwise

Conflicts between remote changes and local edits resolve by policy
(remote_wins, local_wins, merge, manual). Under manual, conflicting
scenes are flagged and left untouched; inspect them with
'reel conflicts' and settle them with 'reel resolve'.

Examples:
  reel sync
  reel sync --incremental
  reel sync --since "2 days ago"
  reel sync --strategy full --force
  reel sync --conflict-policy merge`,
	Run: func(cmd *cobra.Command, args []string) {
		incremental, _ := cmd.Flags().GetBool("incremental")
		sinceExpr, _ := cmd.Flags().GetString("since")
		force, _ := cmd.Flags().GetBool("force")
		jsonOut, _ := cmd.Flags().GetBool("json")

		if incremental && sinceExpr != "" {
			fmt.Fprintf(os.Stderr, "Error: --incremental and --since are mutually exclusive\n")
			os.Exit(1)
		}

		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()
		client := connectClient(cfg)

		ec := engineConfig(cmd, cfg)
		if !jsonOut {
			ec.Progress = progressPrinter()
		}
		eng := engine.New(st, client, ec, cliLogger(cmd))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var (
			result *engine.SyncResult
			err    error
		)
		switch {
		case sinceExpr != "":
			since := parseSince(sinceExpr)
			if !jsonOut {
				fmt.Printf("%s Syncing changes since %s from %s\n", ui.RenderAccent("🔄"), since.Format(time.RFC3339), client.Name())
			}
			result, err = eng.SyncSince(ctx, "", since)
		case incremental:
			if !jsonOut {
				fmt.Printf("%s Incremental sync from %s\n", ui.RenderAccent("🔄"), client.Name())
			}
			result, err = eng.SyncIncremental(ctx, "")
		default:
			if !jsonOut {
				fmt.Printf("%s Syncing from %s\n", ui.RenderAccent("🔄"), client.Name())
			}
			result, err = eng.SyncAll(ctx, "", force)
		}

		finishRun(result, err, jsonOut)
	},
}

var syncScenesCmd = &cobra.Command{
	Use:   "scenes [id...]",
	Short: "Sync a subset of scenes by id or filter",
	Long: `Sync scenes pulls a chosen slice of the scene catalog.

Selection, in order of precedence:
  ids          positional arguments fetch each scene individually
  --filter     a query expression pages through matching scenes
  --saved      a saved filter by name (see 'reel filter')
  --all        the entire scene catalog

Query expressions combine free text with qualifiers:
  studio:<id> performer:<id> tag:<id> organized:<bool> rating>=<n>

Examples:
  reel sync scenes 42 67 105
  reel sync scenes --filter "studio:12 rating>=4"
  reel sync scenes --saved favorites
  reel sync scenes --all`,
	Run: func(cmd *cobra.Command, args []string) {
		filterExpr, _ := cmd.Flags().GetString("filter")
		savedName, _ := cmd.Flags().GetString("saved")
		all, _ := cmd.Flags().GetBool("all")
		jsonOut, _ := cmd.Flags().GetBool("json")

		if filterExpr != "" && savedName != "" {
			fmt.Fprintf(os.Stderr, "Error: --filter and --saved are mutually exclusive\n")
			os.Exit(1)
		}
		if savedName != "" {
			filterExpr = lookupSavedFilter(savedName)
		}

		var filter *remote.SceneFilter
		if filterExpr != "" {
			f, err := remote.ParseQuery(filterExpr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			filter = f
		}

		if len(args) == 0 && filter == nil && !all {
			fmt.Fprintf(os.Stderr, "Error: nothing selected; pass scene ids, --filter, --saved, or --all\n")
			os.Exit(1)
		}

		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()
		client := connectClient(cfg)

		ec := engineConfig(cmd, cfg)
		if !jsonOut {
			ec.Progress = progressPrinter()
		}
		eng := engine.New(st, client, ec, cliLogger(cmd))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := eng.SyncScenes(ctx, engine.ScenesRequest{
			IDs:    args,
			Filter: filter,
			Full:   all,
		})
		finishRun(result, err, jsonOut)
	},
}

var syncSceneCmd = &cobra.Command{
	Use:   "scene <id>",
	Short: "Sync a single scene by id",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jsonOut, _ := cmd.Flags().GetBool("json")

		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()
		client := connectClient(cfg)

		eng := engine.New(st, client, engineConfig(cmd, cfg), cliLogger(cmd))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := eng.SyncSceneByID(ctx, args[0])
		finishRun(result, err, jsonOut)
	},
}

func init() {
	syncCmd.Flags().Bool("incremental", false, "Only sync items changed since the last completed sync")
	syncCmd.Flags().String("since", "", "Sync items changed since a time (\"2024-01-02\", \"yesterday\", \"3 hours ago\")")
	syncCmd.Flags().Bool("force", false, "Re-process items even when checksums match")
	syncCmd.Flags().String("strategy", "", "Sync strategy: full, incremental, smart")
	syncCmd.Flags().String("conflict-policy", "", "Conflict policy: remote_wins, local_wins, merge, manual")
	syncCmd.Flags().Int("batch-size", 0, "Items per upsert batch")
	syncCmd.Flags().Bool("json", false, "Emit the run result as JSON")

	syncScenesCmd.Flags().String("filter", "", "Query expression selecting scenes")
	syncScenesCmd.Flags().String("saved", "", "Saved filter name")
	syncScenesCmd.Flags().Bool("all", false, "Sync every scene in the catalog")
	syncScenesCmd.Flags().String("conflict-policy", "", "Conflict policy: remote_wins, local_wins, merge, manual")
	syncScenesCmd.Flags().Int("batch-size", 0, "Items per upsert batch")
	syncScenesCmd.Flags().Bool("json", false, "Emit the run result as JSON")

	syncSceneCmd.Flags().String("conflict-policy", "", "Conflict policy: remote_wins, local_wins, merge, manual")
	syncSceneCmd.Flags().Bool("json", false, "Emit the run result as JSON")

	syncCmd.AddCommand(syncScenesCmd)
	syncCmd.AddCommand(syncSceneCmd)
	rootCmd.AddCommand(syncCmd)
}

// progressPrinter renders engine progress as one self-overwriting line.
func progressPrinter() engine.Callback {
	return func(processed int, message string) error {
		fmt.Printf("\r   %-72s", message)
		return nil
	}
}

func clearProgressLine() {
	fmt.Printf("\r%-76s\r", "")
}

// finishRun reports a sync outcome and exits non-zero when the run
// never completed.
func finishRun(result *engine.SyncResult, err error, jsonOut bool) {
	if !jsonOut {
		clearProgressLine()
	}
	if result != nil {
		printResult(result, jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printResult(result *engine.SyncResult, jsonOut bool) {
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(result)
		return
	}

	switch result.Status {
	case engine.StatusSuccess:
		fmt.Printf("%s %s\n", ui.RenderPass("✓"), result.Summary())
	case engine.StatusPartial:
		fmt.Printf("%s %s\n", ui.RenderWarn("⚠"), result.Summary())
	default:
		fmt.Printf("%s %s\n", ui.RenderFail("✗"), result.Summary())
	}

	if len(result.Errors) > 0 {
		const maxShown = 10
		fmt.Printf("\n   Errors (%d):\n", len(result.Errors))
		for i, e := range result.Errors {
			if i == maxShown {
				fmt.Printf("   ... and %d more\n", len(result.Errors)-maxShown)
				break
			}
			fmt.Printf("   - %s\n", e.Error())
		}
	}
}

// parseSince accepts timestamps in the remote's wire formats plus
// natural language like "yesterday" or "2 hours ago".
func parseSince(expr string) time.Time {
	if ts := remote.ParseTimestamp(expr); ts != nil {
		return *ts
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(expr, time.Now())
	if err != nil || r == nil {
		fmt.Fprintf(os.Stderr, "Error: cannot parse --since value %q\n", expr)
		os.Exit(1)
	}
	return r.Time
}

func lookupSavedFilter(name string) string {
	path, err := config.DefaultFiltersPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error locating saved filters: %v\n", err)
		os.Exit(1)
	}
	filters, err := config.LoadFilters(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading saved filters: %v\n", err)
		os.Exit(1)
	}
	expr, ok := filters.Get(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: no saved filter named %q\n", name)
		if names := filters.Names(); len(names) > 0 {
			fmt.Fprintf(os.Stderr, "Available: %v\n", names)
		}
		os.Exit(1)
	}
	return expr
}
