package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mwheeler/reelsync/internal/engine"
	"github.com/mwheeler/reelsync/internal/store"
	"github.com/mwheeler/reelsync/internal/ui"
)

var resolveCmd = &cobra.Command{
	Use:     "resolve [scene-id]",
	GroupID: "sync",
	Short:   "Settle pending conflicts",
	Long: `Resolve settles conflicts the manual policy left pending.

Taking local keeps your edits and marks the scene as locally edited so
later merges keep protecting those fields. Taking remote applies the
server's values and drops the local-edit protection.

Without --take, resolve prompts interactively for the named scene.

Examples:
  reel resolve 42 --take remote
  reel resolve 42                  (interactive)
  reel resolve --all --take local`,
	Run: func(cmd *cobra.Command, args []string) {
		takeName, _ := cmd.Flags().GetString("take")
		all, _ := cmd.Flags().GetBool("all")

		switch {
		case all && len(args) > 0:
			fmt.Fprintf(os.Stderr, "Error: --all does not take scene ids\n")
			os.Exit(1)
		case all && takeName == "":
			fmt.Fprintf(os.Stderr, "Error: --all requires --take local or --take remote\n")
			os.Exit(1)
		case !all && len(args) != 1:
			fmt.Fprintf(os.Stderr, "Error: pass one scene id, or --all\n")
			os.Exit(1)
		}

		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()
		ctx := context.Background()

		if all {
			resolveAll(ctx, st, takeName)
			return
		}
		resolveOne(ctx, st, args[0], takeName)
	},
}

func resolveOne(ctx context.Context, st *store.Store, id, takeName string) {
	sc, err := st.GetSceneByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		fmt.Fprintf(os.Stderr, "Error: no scene %s in the local mirror\n", id)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if takeName == "" {
		takeName = promptResolution(sc)
	}
	take, err := engine.ParseResolution(takeName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := engine.ResolveStored(sc, take); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	persistResolved(ctx, st, []*store.Scene{sc})
	fmt.Printf("%s Resolved scene %s (took %s)\n", ui.RenderPass("✓"), sc.ID, take)
}

func resolveAll(ctx context.Context, st *store.Store, takeName string) {
	take, err := engine.ParseResolution(takeName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	scenes, err := st.ListScenes(ctx, store.SceneQuery{ConflictOnly: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(scenes) == 0 {
		fmt.Printf("%s No pending conflicts\n", ui.RenderPass("✓"))
		return
	}

	resolved := make([]*store.Scene, 0, len(scenes))
	for _, sc := range scenes {
		if err := engine.ResolveStored(sc, take); err != nil {
			fmt.Printf("%s scene %s: %v\n", ui.RenderWarn("⚠"), sc.ID, err)
			continue
		}
		resolved = append(resolved, sc)
	}
	persistResolved(ctx, st, resolved)
	fmt.Printf("%s Resolved %d scenes (took %s)\n", ui.RenderPass("✓"), len(resolved), take)
}

// promptResolution shows the conflicted fields and asks which side wins.
func promptResolution(sc *store.Scene) string {
	title := sc.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Printf("%s Conflict on scene %s  %s\n", ui.RenderWarn("⚠"), sc.ID, title)
	printChanges(sc)
	fmt.Println()

	var choice string
	err := huh.NewSelect[string]().
		Title("Which side wins?").
		Description("Local keeps your edits; remote applies the server's values.").
		Options(
			huh.NewOption("Keep local edits", string(engine.TakeLocal)),
			huh.NewOption("Apply remote values", string(engine.TakeRemote)),
		).
		Value(&choice).
		Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return choice
}

func persistResolved(ctx context.Context, st *store.Store, scenes []*store.Scene) {
	if len(scenes) == 0 {
		return
	}
	_, rowErrs, err := st.BulkUpsertScenes(ctx, scenes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error persisting resolution: %v\n", err)
		os.Exit(1)
	}
	for _, re := range rowErrs {
		fmt.Printf("%s %v\n", ui.RenderWarn("⚠"), re)
	}
}

func init() {
	resolveCmd.Flags().String("take", "", "Which side wins: local or remote")
	resolveCmd.Flags().Bool("all", false, "Resolve every pending conflict the same way")
	rootCmd.AddCommand(resolveCmd)
}
