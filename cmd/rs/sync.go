package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cachesync "github.com/falcon/restaurants/internal/cache/sync"
	"github.com/falcon/restaurants/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Pull changes from the remote source into the cache",
	Long: `Run one incremental sync cycle.

The cycle:
  1. Reads the newest updated_at in the cache (the watermark)
  2. Fetches every remote record changed at or after it
  3. Inserts new records and overwrites existing ones, in order

Use --since to pin the watermark, e.g. --since "2 hours ago" or
--since "1970-01-01 00:00:00" to refetch everything.`,
	Run: func(cmd *cobra.Command, args []string) {
		sinceFlag, _ := cmd.Flags().GetString("since")
		since, err := parseSince(sinceFlag, time.Now())
		if err != nil {
			fatalf("%v", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		database := openCache()
		defer database.Close()

		var opts []cachesync.Option
		if since != "" {
			opts = append(opts, cachesync.WithSince(since))
		}
		engine := newEngine(ctx, database, opts...)

		fmt.Printf("%s Syncing from %s source...\n", ui.RenderAccent("🔄"), cfg.Source.Kind)

		res, err := engine.Run(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s Sync failed after %d of %d records: %v\n",
				ui.RenderFail("✗"), res.Applied, res.Fetched, err)
			database.Close()
			os.Exit(1)
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), res.Duration.Round(time.Millisecond))
		fmt.Printf("   %s\n", ui.RenderField("Watermark", res.Watermark))
		fmt.Printf("   %s\n", ui.RenderField("Fetched", res.Fetched))
		fmt.Printf("   %s\n", ui.RenderField("Inserted", res.Inserted))
		fmt.Printf("   %s\n", ui.RenderField("Updated", res.Updated))
		fmt.Printf("   %s\n", ui.RenderField("Cache", cfg.DBPath))
	},
}

func init() {
	syncCmd.Flags().String("since", "", `Override the watermark ("yesterday", "2 hours ago", a timestamp)`)
	rootCmd.AddCommand(syncCmd)
}
