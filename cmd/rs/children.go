package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/falcon/restaurants/internal/navigation"
	"github.com/falcon/restaurants/internal/ui"
)

var childrenCmd = &cobra.Command{
	Use:     "children ID",
	GroupID: "browse",
	Short:   "Show where selecting a record leads",
	Long: `Check whether a record has children in the cache.

Prints "restaurants" when selecting ID would list sub-restaurants and
"meals" when ID is a leaf.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		database := openCache()
		defer database.Close()

		id := args[0]
		dest, err := navigation.NewDecider(database).Decide(context.Background(), id)
		if err != nil {
			database.Close()
			fatalf("%v", err)
		}

		if dest == navigation.DestinationRestaurants {
			fmt.Printf("%s %s\n", ui.RenderAccent(id), dest)
			return
		}
		fmt.Printf("%s %s\n", ui.RenderMuted(id), dest)
	},
}

func init() {
	rootCmd.AddCommand(childrenCmd)
}
