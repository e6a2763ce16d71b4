package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/falcon/restaurants/internal/cache/daemon"
	"github.com/falcon/restaurants/internal/cache/dashboard"
	cachesync "github.com/falcon/restaurants/internal/cache/sync"
	"github.com/falcon/restaurants/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the sync daemon with a live WebSocket dashboard",
	Long: `Run the sync daemon and a WebSocket server that pushes live cache views.

WebSocket messages include:
- snapshot: the records under the client's parent_id, after every write
- sync_complete: a sync cycle finished
- stats: record counts and live query totals

Connect with a WebSocket client:
  ws://localhost:8080/ws?parent_id=0`,
	Run: func(cmd *cobra.Command, args []string) {
		port := cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		database := openCache()
		defer database.Close()

		server := dashboard.NewServer(database, &dashboard.Config{
			Port:   port,
			Logger: logs.Logger("[dashboard] "),
		})
		handler := dashboard.NewHandler(server, nil)

		engine := newEngine(ctx, database, cachesync.WithObserver(handler))
		d, err := daemon.NewWithConfig(engine, daemonConfig())
		if err != nil {
			fatalf("creating daemon: %v", err)
		}

		if err := server.Start(); err != nil {
			fatalf("failed to start dashboard: %v", err)
		}

		fmt.Printf("%s Dashboard server started on http://%s\n", ui.RenderAccent("🚀"), server.GetAddr())
		fmt.Printf("   %s\n", ui.RenderField("WebSocket", fmt.Sprintf("ws://localhost:%d/ws?parent_id=0", port)))
		fmt.Printf("   %s\n", ui.RenderField("Health", fmt.Sprintf("http://localhost:%d/health", port)))
		fmt.Println("\nPress Ctrl+C to stop...")

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return d.Start(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			return server.Stop()
		})

		if err := g.Wait(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			database.Close()
			os.Exit(1)
		}

		fmt.Println("Dashboard server stopped")
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on (default: dashboard.port)")
	rootCmd.AddCommand(serveCmd)
}
