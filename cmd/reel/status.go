package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mwheeler/reelsync/internal/store"
	"github.com/mwheeler/reelsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "query",
	Short:   "Show the state of the local mirror",
	Long: `Status summarizes the local mirror: entity counts, pending
conflicts, local edits, and the most recent sync run.

With --remote it also pings the configured server and compares its
counts against the mirror.

Examples:
  reel status
  reel status --remote
  reel status --json`,
	Run: func(cmd *cobra.Command, args []string) {
		jsonOut, _ := cmd.Flags().GetBool("json")
		checkRemote, _ := cmd.Flags().GetBool("remote")

		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()
		ctx := context.Background()

		scenes, err := st.SceneCount(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		performers, _ := st.EntityCount(ctx, store.KindPerformer)
		tags, _ := st.EntityCount(ctx, store.KindTag)
		studios, _ := st.EntityCount(ctx, store.KindStudio)

		conflicted, _ := st.ListScenes(ctx, store.SceneQuery{ConflictOnly: true})
		edited, _ := st.ListScenes(ctx, store.SceneQuery{ManualEditOnly: true})
		lastSync, _ := st.GetLastSyncTime(ctx, store.KindScene)
		recent, _ := st.ListSyncHistory(ctx, 1)

		var sizeBytes int64
		if info, err := os.Stat(st.Path()); err == nil {
			sizeBytes = info.Size()
		}

		if jsonOut {
			report := struct {
				Database   string     `json:"database"`
				SizeBytes  int64      `json:"size_bytes"`
				Target     string     `json:"target,omitempty"`
				Scenes     int        `json:"scenes"`
				Performers int        `json:"performers"`
				Tags       int        `json:"tags"`
				Studios    int        `json:"studios"`
				Conflicts  int        `json:"pending_conflicts"`
				LocalEdits int        `json:"local_edits"`
				LastSync   *time.Time `json:"last_sync,omitempty"`
			}{
				Database:   st.Path(),
				SizeBytes:  sizeBytes,
				Target:     cfg.Target,
				Scenes:     scenes,
				Performers: performers,
				Tags:       tags,
				Studios:    studios,
				Conflicts:  len(conflicted),
				LocalEdits: len(edited),
				LastSync:   lastSync,
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.Encode(report)
			return
		}

		fmt.Printf("%s Mirror status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("   Database:   %s (%s)\n", st.Path(), humanBytes(sizeBytes))
		if cfg.Target != "" {
			fmt.Printf("   Target:     %s\n", cfg.Target)
		}
		fmt.Println()
		fmt.Printf("   Scenes:     %d\n", scenes)
		fmt.Printf("   Performers: %d\n", performers)
		fmt.Printf("   Tags:       %d\n", tags)
		fmt.Printf("   Studios:    %d\n", studios)
		fmt.Println()
		if len(conflicted) > 0 {
			fmt.Printf("   %s Pending conflicts: %d (inspect with 'reel conflicts')\n", ui.RenderWarn("⚠"), len(conflicted))
		}
		if len(edited) > 0 {
			fmt.Printf("   Local edits: %d\n", len(edited))
		}
		if lastSync != nil {
			fmt.Printf("   Last sync:  %s\n", timeAgo(*lastSync))
		} else {
			fmt.Printf("   Last sync:  never (run 'reel sync')\n")
		}
		if len(recent) > 0 {
			h := recent[0]
			at := h.StartedAt
			if h.CompletedAt != nil {
				at = *h.CompletedAt
			}
			fmt.Printf("   Last run:   %s %s %s\n", h.Status, timeAgo(at), ui.RenderMuted(h.JobID))
		}

		if checkRemote {
			client := connectClient(cfg)
			stats, err := client.Stats(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reaching remote: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("\n%s Remote %s\n\n", ui.RenderAccent("🌐"), client.Name())
			if stats.Version != "" {
				fmt.Printf("   Version:    %s\n", stats.Version)
			}
			fmt.Printf("   Scenes:     %d (%+d vs local)\n", stats.SceneCount, stats.SceneCount-scenes)
			fmt.Printf("   Performers: %d (%+d vs local)\n", stats.PerformerCount, stats.PerformerCount-performers)
			fmt.Printf("   Tags:       %d (%+d vs local)\n", stats.TagCount, stats.TagCount-tags)
			fmt.Printf("   Studios:    %d (%+d vs local)\n", stats.StudioCount, stats.StudioCount-studios)
		}
	},
}

func init() {
	statusCmd.Flags().Bool("remote", false, "Also ping the remote and compare counts")
	statusCmd.Flags().Bool("json", false, "Emit status as JSON")
	rootCmd.AddCommand(statusCmd)
}
