package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/falcon/restaurants/internal/config"
	"github.com/falcon/restaurants/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage the rs config file",
	// Config commands must work even when the current file is invalid.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
}

var configInitCmd = &cobra.Command{
	Use:   "init [PATH]",
	Short: "Write a config file with the default settings",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := config.FileName
		if configPath != "" {
			path = configPath
		}
		if len(args) == 1 {
			path = args[0]
		}

		if err := config.WriteDefault(path); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
