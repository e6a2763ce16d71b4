package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/falcon/restaurants/internal/cache/db"
	"github.com/falcon/restaurants/internal/cache/schema"
	"github.com/falcon/restaurants/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show cache status",
	Long: `Display the current status of the local cache.

Shows:
  - Cache file location and size
  - Number of records and root restaurants
  - Current watermark
  - Outcome of the last sync cycle`,
	Run: func(cmd *cobra.Command, args []string) {
		info, err := os.Stat(cfg.DBPath)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Cache not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'rs sync' to create the cache\n\n")
			return
		}
		if err != nil {
			fatalf("checking cache: %v", err)
		}

		database := openCache()
		defer database.Close()

		ctx := context.Background()

		total, err := database.Count(ctx)
		if err != nil {
			fatalf("counting records: %v", err)
		}
		roots, err := database.CountByParentID(ctx, schema.RootParentID)
		if err != nil {
			fatalf("counting restaurants: %v", err)
		}
		watermark, err := database.GetMaxUpdatedAtContext(ctx, cfg.Epoch)
		if err != nil {
			fatalf("reading watermark: %v", err)
		}

		fmt.Printf("\n%s Cache Status\n\n", ui.RenderAccent("📊"))
		fmt.Println(ui.RenderField("Location", cfg.DBPath))
		fmt.Println(ui.RenderField("Size", formatSize(info.Size())))
		fmt.Println(ui.RenderField("Records", total))
		fmt.Println(ui.RenderField("Restaurants", roots))
		fmt.Println(ui.RenderField("Watermark", watermark))
		fmt.Println(ui.RenderField("Source", cfg.Source.Kind))
		fmt.Println(ui.RenderRule())

		run, err := database.LastSyncRun(ctx)
		switch {
		case errors.Is(err, db.ErrNotFound):
			fmt.Printf("%s No sync has run yet\n", ui.RenderMuted("·"))
		case err != nil:
			fatalf("reading sync log: %v", err)
		case run.Succeeded():
			fmt.Printf("%s Last sync %s: %d fetched, %d applied\n",
				ui.RenderPass("✓"), run.FinishedAt, run.Fetched, run.Applied)
		default:
			fmt.Printf("%s Last sync %s failed after %d of %d: %s\n",
				ui.RenderFail("✗"), run.FinishedAt, run.Applied, run.Fetched, run.Error)
		}
		fmt.Println()
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
