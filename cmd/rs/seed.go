package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/falcon/restaurants/internal/cache/schema"
	"github.com/falcon/restaurants/internal/ui"
)

var seedCmd = &cobra.Command{
	Use:     "seed FILE",
	GroupID: "setup",
	Short:   "Load records from a fixture file into the cache",
	Long: `Upsert every record in FILE (.json, .jsonl, .yaml or .yml) into the
cache, in file order. Loading stops at the first record that fails;
records before it stay written.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		records, err := schema.ReadRecordsFile(args[0])
		if err != nil {
			fatalf("%v", err)
		}

		database := openCache()
		defer database.Close()

		applied, err := database.UpsertAll(context.Background(), records)
		if err != nil {
			database.Close()
			fatalf("seeded %d of %d records: %v", applied, len(records), err)
		}

		fmt.Printf("%s Seeded %d records from %s\n", ui.RenderPass("✓"), applied, args[0])
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
