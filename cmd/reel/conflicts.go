package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mwheeler/reelsync/internal/engine"
	"github.com/mwheeler/reelsync/internal/store"
	"github.com/mwheeler/reelsync/internal/ui"
)

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	GroupID: "query",
	Short:   "List scenes with pending conflicts",
	Long: `Conflicts lists scenes the manual conflict policy flagged: the
remote changed a field you also edited locally, so the sync left the
row untouched and recorded both sides.

Each entry shows the differing fields with their local and remote
values. Settle them one at a time or in bulk with 'reel resolve'.

Examples:
  reel conflicts
  reel conflicts --limit 5
  reel conflicts --json`,
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOut, _ := cmd.Flags().GetBool("json")

		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()

		scenes, err := st.ListScenes(context.Background(), store.SceneQuery{ConflictOnly: true, Limit: limit})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOut {
			type entry struct {
				ID      string                   `json:"id"`
				Title   string                   `json:"title,omitempty"`
				Changes map[string]engine.Change `json:"changes,omitempty"`
			}
			entries := make([]entry, 0, len(scenes))
			for _, sc := range scenes {
				e := entry{ID: sc.ID, Title: sc.Title}
				var changes map[string]engine.Change
				if ok, err := sc.DecodeConflictData(&changes); err == nil && ok {
					e.Changes = changes
				}
				entries = append(entries, e)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.Encode(entries)
			return
		}

		if len(scenes) == 0 {
			fmt.Printf("%s No pending conflicts\n", ui.RenderPass("✓"))
			return
		}

		fmt.Printf("%s Pending conflicts (%d)\n", ui.RenderWarn("⚠"), len(scenes))
		for _, sc := range scenes {
			title := sc.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("\n   %s  %s\n", ui.RenderAccent(sc.ID), title)
			printChanges(sc)
		}
		fmt.Printf("\nResolve with 'reel resolve <id> --take local|remote' or 'reel resolve --all --take <side>'\n")
	},
}

func printChanges(sc *store.Scene) {
	var changes map[string]engine.Change
	ok, err := sc.DecodeConflictData(&changes)
	if err != nil {
		fmt.Printf("      %s\n", ui.RenderMuted(err.Error()))
		return
	}
	if !ok {
		return
	}

	fields := make([]string, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, f := range fields {
		ch := changes[f]
		if ch.Type == engine.ChangeRelationship {
			fmt.Printf("      %-12s +%v -%v\n", f, ch.Added, ch.Removed)
			continue
		}
		fmt.Printf("      %-12s local %s %s remote %s\n",
			f, conflictValue(ch.Local), ui.RenderMuted("|"), conflictValue(ch.Remote))
	}
}

func conflictValue(v interface{}) string {
	if v == nil {
		return "(unset)"
	}
	s := fmt.Sprintf("%v", v)
	if s == "" {
		return `""`
	}
	if r := []rune(s); len(r) > 40 {
		s = string(r[:37]) + "..."
	}
	return s
}

func init() {
	conflictsCmd.Flags().Int("limit", 0, "Maximum scenes to list (0 for all)")
	conflictsCmd.Flags().Bool("json", false, "Emit conflicts as JSON")
	rootCmd.AddCommand(conflictsCmd)
}
