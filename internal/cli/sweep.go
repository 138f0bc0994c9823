package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"snapshelf/internal/server/storage"
)

var sweepTTL time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove abandoned upload sessions from staging",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepTTL, "ttl", 0, "Remove sessions idle longer than this (default: $STAGING_TTL_HOURS)")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ttl := cfg.StagingTTL
	if sweepTTL > 0 {
		ttl = sweepTTL
	}

	sweeper := storage.NewStagingSweeper(cfg.StagingPath, ttl, cfg.CleanupInterval)
	removed, err := sweeper.Sweep(time.Now())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale session(s)\n", removed)
	return nil
}
