// Package cli provides the photoctl administration commands.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"snapshelf/internal/server/config"
	"snapshelf/internal/server/database"
)

// Global flags
var (
	databaseURL string
	storagePath string
	stagingPath string
	jsonOutput  bool
	verbose     bool
)

// cfg is loaded from the environment before any command runs and then
// overridden by explicit flags.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "photoctl",
	Short: "Manage the photo library",
	Long: `photoctl administers a photo library outside the HTTP server.

It reads the same environment (and .env file) as the server; flags
override individual settings.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database", "", "Database URL (default: $DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&storagePath, "storage", "", "Photo store directory (default: $STORAGE_PATH)")
	rootCmd.PersistentFlags().StringVar(&stagingPath, "staging", "", "Staging directory (default: $STAGING_PATH)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

	cfg = config.Load()
	if databaseURL != "" {
		cfg.DatabaseURL = databaseURL
	}
	if storagePath != "" {
		cfg.StoragePath = storagePath
	}
	if stagingPath != "" {
		cfg.StagingPath = stagingPath
	}
	return nil
}

// openRepository connects to the configured database and applies pending
// migrations.
func openRepository(ctx context.Context) (database.Repository, error) {
	repo, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := repo.RunMigrations(ctx); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}
