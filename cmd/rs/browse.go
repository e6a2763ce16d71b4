package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/falcon/restaurants/internal/browse"
	"github.com/falcon/restaurants/internal/cache/schema"
	"github.com/falcon/restaurants/internal/ui"
)

var browseCmd = &cobra.Command{
	Use:     "browse",
	GroupID: "browse",
	Short:   "Walk the cached hierarchy interactively",
	Long: `Browse restaurants level by level.

Selecting a restaurant with sub-restaurants opens them; selecting one
without children shows it as a meal. The list refreshes with the cache,
so a running daemon's writes show up on the next prompt.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !ui.IsTerminal() {
			fatalf("browse needs an interactive terminal")
		}
		parent, _ := cmd.Flags().GetString("parent")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		database := openCache()
		defer database.Close()

		b := browse.New(database, browse.HuhPrompter{}, os.Stdout, parent)
		if err := b.Run(ctx); err != nil && !errors.Is(err, browse.ErrQuit) && !errors.Is(err, context.Canceled) {
			database.Close()
			fatalf("%v", err)
		}
	},
}

func init() {
	browseCmd.Flags().String("parent", schema.RootParentID, "Parent id to start from")
	rootCmd.AddCommand(browseCmd)
}
