package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/falcon/restaurants/internal/cache/daemon"
	"github.com/falcon/restaurants/internal/remote"
	"github.com/falcon/restaurants/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Keep the cache in sync (foreground)",
	Long: `Run sync cycles until interrupted.

The daemon will:
  1. Sync once on startup
  2. Sync again every daemon.interval
  3. For the file source, sync shortly after fixture files change

A failed cycle is logged and retried on the next trigger.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		database := openCache()
		defer database.Close()

		d, err := daemon.NewWithConfig(newEngine(ctx, database), daemonConfig())
		if err != nil {
			fatalf("creating daemon: %v", err)
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   %s\n", ui.RenderField("Source", cfg.Source.Kind))
		fmt.Printf("   %s\n", ui.RenderField("Interval", cfg.Daemon.Interval))
		fmt.Printf("   %s\n", ui.RenderField("Cache", cfg.DBPath))
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			database.Close()
			os.Exit(1)
		}

		stats := d.Stats()
		fmt.Printf("\n%s Daemon stopped after %d cycles (%d failed)\n",
			ui.RenderPass("✓"), stats.Runs, stats.Failures)
	},
}

// daemonConfig maps the loaded settings onto the daemon's Config.
func daemonConfig() *daemon.Config {
	dc := &daemon.Config{
		SyncInterval:     cfg.Daemon.Interval,
		DebounceInterval: cfg.Daemon.Debounce,
		Logger:           logs.Logger("[daemon] "),
	}
	if cfg.Source.Kind == remote.KindFile {
		dc.WatchDir = cfg.Source.Dir
	}
	return dc
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
