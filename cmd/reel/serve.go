package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mwheeler/reelsync/internal/daemon"
	"github.com/mwheeler/reelsync/internal/dashboard"
	"github.com/mwheeler/reelsync/internal/engine"
	"github.com/mwheeler/reelsync/internal/store"
	"github.com/mwheeler/reelsync/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Run the sync daemon with a live dashboard",
	Long: `Serve runs the sync daemon and a WebSocket dashboard in one
process. Connected clients see runs start, scenes land, conflicts
surface, and library counts move in real time.

Endpoints:
  /        server info page
  /ws      WebSocket event stream
  /health  liveness check

Message types on the stream: sync_started, progress, scene_update,
conflict, sync_complete, stats.

Examples:
  reel serve
  reel serve --port 9090 --interval 2m`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)

		port := cfg.Dashboard.Port
		if f := cmd.Flags().Lookup("port"); f != nil && f.Changed {
			port, _ = cmd.Flags().GetInt("port")
		}
		if port <= 0 || port > 65535 {
			fmt.Fprintf(os.Stderr, "Error: invalid port %d\n", port)
			os.Exit(1)
		}

		st := openStore(cfg)
		defer st.Close()
		client := connectClient(cfg)

		logger := log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
		server := dashboard.NewServer(&dashboard.Config{Port: port, Logger: logger})
		handler := dashboard.NewHandler(server, logger)

		dc := daemonConfig(cmd, cfg)
		dc.Engine.Events = &serveEvents{Handler: handler, st: st}
		dc.OnEngine = func(eng *engine.Engine) {
			eng.Tracker().AddSink(handler)
			eng.Resolver().OnConflict(handler.ConflictDetected)
		}

		d, err := daemon.New(st, client, dc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
			os.Exit(1)
		}
		refreshCatalogCounts(st, handler)

		fmt.Printf("%s Dashboard running\n\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Dashboard: http://localhost:%d\n", port)
		fmt.Printf("   WebSocket: ws://localhost:%d/ws\n", port)
		fmt.Printf("   Syncing:   %s every %s\n", client.Name(), dc.SyncInterval)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runErr := d.Start(ctx)
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping dashboard: %v\n", err)
		}
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
			os.Exit(1)
		}
	},
}

// serveEvents refreshes the dashboard's catalog counters from the store
// after each run, then delegates to the regular handler. The refresh
// runs first so the completion broadcast carries fresh counts.
type serveEvents struct {
	*dashboard.Handler
	st *store.Store
}

func (e *serveEvents) SyncCompleted(result *engine.SyncResult) {
	refreshCatalogCounts(e.st, e.Handler)
	e.Handler.SyncCompleted(result)
}

func refreshCatalogCounts(st *store.Store, h *dashboard.Handler) {
	ctx := context.Background()
	scenes, _ := st.SceneCount(ctx)
	performers, _ := st.EntityCount(ctx, store.KindPerformer)
	tags, _ := st.EntityCount(ctx, store.KindTag)
	studios, _ := st.EntityCount(ctx, store.KindStudio)
	conflicted, _ := st.ListScenes(ctx, store.SceneQuery{ConflictOnly: true})
	h.SetCatalogCounts(scenes, performers, tags, studios, len(conflicted))
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "Dashboard port (0 uses config, default 8080)")
	serveCmd.Flags().Duration("interval", 0, "Periodic incremental sync interval (0 uses config)")
	serveCmd.Flags().String("spool", "", "Spool directory for dropped bundles (empty uses config)")
	serveCmd.Flags().String("log-file", "", "Route daemon logs to a rotated file")
	serveCmd.Flags().Bool("no-startup-sync", false, "Skip the incremental sync at startup")
	serveCmd.Flags().String("strategy", "", "Sync strategy: full, incremental, smart")
	serveCmd.Flags().String("conflict-policy", "", "Conflict policy: remote_wins, local_wins, merge, manual")
	rootCmd.AddCommand(serveCmd)
}
