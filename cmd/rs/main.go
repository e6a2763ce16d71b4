// Command rs keeps a local cache of the restaurant hierarchy in sync with a
// remote source and lets you browse it.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/falcon/restaurants/internal/cache/db"
	cachesync "github.com/falcon/restaurants/internal/cache/sync"
	"github.com/falcon/restaurants/internal/config"
	"github.com/falcon/restaurants/internal/logging"
	"github.com/falcon/restaurants/internal/remote"
)

var (
	configPath string
	cfg        *config.Config
	logs       *logging.Set
)

var rootCmd = &cobra.Command{
	Use:   "rs",
	Short: "Restaurant hierarchy cache with incremental sync",
	Long: `rs keeps a local SQLite cache of restaurants, their sub-restaurants and
meals, pulling only records changed since the newest one it already holds.

Configuration is read from --config, ./rs.toml or ~/.config/rs/rs.toml and
can be overridden with RS_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logs = logging.NewSet(cfg.Log)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./rs.toml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "browse", Title: "Browse Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// fatalf prints an error and exits.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// openCache opens the configured database and makes sure the schema exists.
func openCache() *db.DB {
	database, err := db.OpenWithLogger(cfg.DBPath, logs.Logger("[store] "))
	if err != nil {
		fatalf("opening cache %s: %v", cfg.DBPath, err)
	}

	if err := database.InitSchema(); err != nil {
		database.Close()
		fatalf("initializing schema: %v", err)
	}
	return database
}

// newEngine builds a sync engine for the configured source.
func newEngine(ctx context.Context, database *db.DB, opts ...cachesync.Option) cachesync.Engine {
	src, err := remote.NewSource(ctx, cfg.RemoteOptions())
	if err != nil {
		fatalf("creating %s source: %v", cfg.Source.Kind, err)
	}

	opts = append([]cachesync.Option{cachesync.WithEpoch(cfg.Epoch)}, opts...)
	return cachesync.New(database, src, logs.Logger("[sync] "), opts...)
}
