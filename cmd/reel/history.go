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

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "query",
	Short:   "List recent sync runs",
	Long: `History lists sync runs newest first, one row per entity type
per run. Pass --errors to include the per-item failures a run recorded.

Examples:
  reel history
  reel history --limit 50
  reel history --errors`,
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		showErrors, _ := cmd.Flags().GetBool("errors")
		jsonOut, _ := cmd.Flags().GetBool("json")

		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()

		rows, err := st.ListSyncHistory(context.Background(), limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.Encode(rows)
			return
		}

		if len(rows) == 0 {
			fmt.Println("No sync runs recorded yet. Run 'reel sync' to start one.")
			return
		}

		fmt.Printf("%s Sync history\n\n", ui.RenderAccent("🕘"))
		for _, h := range rows {
			at := h.StartedAt
			if h.CompletedAt != nil {
				at = *h.CompletedAt
			}
			dur := ""
			if h.CompletedAt != nil {
				dur = h.CompletedAt.Sub(h.StartedAt).Round(time.Millisecond).String()
			}
			fmt.Printf("   %s %-10s %-11s %-9s synced %d (created %d, updated %d, failed %d)",
				historyIcon(h), h.EntityType, h.Status, timeAgo(at),
				h.Stats.Synced, h.Stats.Created, h.Stats.Updated, h.Stats.Failed)
			if dur != "" {
				fmt.Printf(" in %s", dur)
			}
			fmt.Printf("  %s\n", ui.RenderMuted(h.JobID))

			if showErrors && len(h.Errors) > 0 {
				for _, e := range h.Errors {
					fmt.Printf("       - %s %s: %s\n", e.EntityType, e.EntityID, e.Message)
				}
			}
		}
	},
}

func historyIcon(h *store.SyncHistory) string {
	switch {
	case h.Status == store.HistoryFailed:
		return ui.RenderFail("✗")
	case h.Status == store.HistoryInProgress:
		return ui.RenderAccent("…")
	case h.Stats.Failed > 0:
		return ui.RenderWarn("⚠")
	default:
		return ui.RenderPass("✓")
	}
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Maximum runs to list")
	historyCmd.Flags().Bool("errors", false, "Include per-item errors")
	historyCmd.Flags().Bool("json", false, "Emit history as JSON")
	rootCmd.AddCommand(historyCmd)
}
