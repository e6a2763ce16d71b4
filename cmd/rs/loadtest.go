package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/falcon/restaurants/internal/cache/loadtest"
	"github.com/falcon/restaurants/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Measure cache latency under concurrent readers",
	Long: `Build a throwaway hierarchy in a temporary database and hammer it.

The run:
  1. Creates restaurants, branches and meals
  2. Runs concurrent readers that list a level and resolve a selection
  3. Opens live queries on the root while new restaurants are written

The configured cache is not touched.`,
	Run: func(cmd *cobra.Command, args []string) {
		restaurants, _ := cmd.Flags().GetInt("restaurants")
		readers, _ := cmd.Flags().GetInt("readers")
		queries, _ := cmd.Flags().GetInt("queries")
		subscribers, _ := cmd.Flags().GetInt("subscribers")

		dir, err := os.MkdirTemp("", "rs-loadtest-")
		if err != nil {
			fatalf("creating temp dir: %v", err)
		}
		defer os.RemoveAll(dir)

		fmt.Printf("%s Creating %d restaurants...\n", ui.RenderAccent("🔧"), restaurants)
		td, err := loadtest.CreateTestDatabase(filepath.Join(dir, "loadtest.db"), restaurants, 5, 5)
		if err != nil {
			fatalf("%v", err)
		}
		defer td.Close()

		fmt.Printf("%s Running %d readers x %d queries...\n", ui.RenderAccent("🏃"), readers, queries)
		stats, err := td.RunConcurrentQueries(readers, queries)
		if err != nil {
			fatalf("%v", err)
		}
		stats.PrintStats(os.Stdout)

		fmt.Printf("\n%s Checking %d live queries under writes...\n", ui.RenderAccent("📡"), subscribers)
		if err := td.VerifyLiveConsistency(subscribers, 50, time.Minute); err != nil {
			fmt.Printf("%s %v\n", ui.RenderFail("✗"), err)
			return
		}
		fmt.Printf("%s Live queries consistent\n", ui.RenderPass("✓"))
	},
}

func init() {
	loadtestCmd.Flags().Int("restaurants", 200, "Number of root restaurants")
	loadtestCmd.Flags().Int("readers", 50, "Concurrent readers")
	loadtestCmd.Flags().Int("queries", 20, "Queries per reader")
	loadtestCmd.Flags().Int("subscribers", 10, "Concurrent live queries")
	rootCmd.AddCommand(loadtestCmd)
}
