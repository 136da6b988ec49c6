package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mwheeler/reelsync/internal/engine"
	"github.com/mwheeler/reelsync/internal/remote"
	"github.com/mwheeler/reelsync/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <dir>",
	GroupID: "sync",
	Short:   "Import an exported bundle directory",
	Long: `Import syncs from a bundle directory instead of a live server.

A bundle is a directory of JSON Lines exports (scenes.jsonl,
performers.jsonl, tags.jsonl, studios.jsonl); any file may be absent.
Import runs the same sync pipeline as 'reel sync', so checksums,
conflict policies, and history all apply.

Examples:
  reel import ./export-2024-06-01
  reel import /mnt/backups/catalog --conflict-policy remote_wins`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := args[0]
		force, _ := cmd.Flags().GetBool("force")
		jsonOut, _ := cmd.Flags().GetBool("json")

		if !remote.IsBundleDir(dir) {
			fmt.Fprintf(os.Stderr, "Error: %s does not look like a bundle directory (no .jsonl exports found)\n", dir)
			os.Exit(1)
		}

		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()

		client, err := remote.ConnectScheme("bundle", dir, remote.Options{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening bundle: %v\n", err)
			os.Exit(1)
		}

		ec := engineConfig(cmd, cfg)
		if !jsonOut {
			ec.Progress = progressPrinter()
		}
		eng := engine.New(st, client, ec, cliLogger(cmd))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !jsonOut {
			fmt.Printf("%s Importing bundle %s\n", ui.RenderAccent("📦"), dir)
		}
		result, err := eng.SyncAll(ctx, "", force)
		finishRun(result, err, jsonOut)
	},
}

func init() {
	importCmd.Flags().Bool("force", false, "Re-process items even when checksums match")
	importCmd.Flags().String("conflict-policy", "", "Conflict policy: remote_wins, local_wins, merge, manual")
	importCmd.Flags().Int("batch-size", 0, "Items per upsert batch")
	importCmd.Flags().Bool("json", false, "Emit the run result as JSON")
	rootCmd.AddCommand(importCmd)
}
