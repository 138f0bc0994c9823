package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"snapshelf/internal/server/session"
	"snapshelf/internal/server/storage"
)

var importComment string

var importCmd = &cobra.Command{
	Use:   "import FILE...",
	Short: "Ingest photos from local files",
	Long: `Ingest photos from local files into the library.

Files go through the same staging, thumbnailing and deduplication as
uploads. Photos whose content is already in the library are reported and
skipped.

Examples:
  photoctl import ~/Pictures/2014/*.jpg
  photoctl import --comment "Lisbon trip" IMG_0001.jpg IMG_0002.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importComment, "comment", "", "Comment attached to every imported photo")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	repo, err := openRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	store := storage.NewPhotoStore(cfg.StoragePath, cfg.ThumbWidth)
	if err := store.EnsureDir(); err != nil {
		return err
	}

	sess, err := session.Create(session.Config{
		StagingRoot: cfg.StagingPath,
		ThumbWidth:  cfg.ThumbWidth,
		Workers:     cfg.UploadWorkers,
	}, "import-"+uuid.NewString())
	if err != nil {
		return err
	}

	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(out, "skip  %s: %v\n", path, err)
			continue
		}
		if err := sess.Submit(f, filepath.Base(path)); err != nil {
			return err
		}
	}

	var failed int
	for _, r := range sess.Wait() {
		if r.Err != nil {
			failed++
			fmt.Fprintf(out, "skip  %s: %v\n", r.Filename, r.Err)
		}
	}

	if importComment != "" {
		for sum := range sess.Images() {
			if err := sess.SetComment(sum, importComment); err != nil {
				return err
			}
		}
	}

	report, err := sess.Commit(ctx, store, repo)
	if err != nil {
		if cerr := sess.Clear(); cerr != nil {
			slog.Error("failed to clear import session", "session", sess.Key(), "error", cerr)
		}
		return err
	}
	for sum, cerr := range report.Failed {
		failed++
		fmt.Fprintf(out, "fail  %s: %v\n", sum, cerr)
	}
	for _, sum := range report.Committed {
		fmt.Fprintf(out, "added %s\n", sum)
	}

	// Photos that failed to commit stay staged, like failed uploads.
	if len(report.Failed) == 0 {
		if err := sess.Clear(); err != nil {
			slog.Error("failed to clear import session", "session", sess.Key(), "error", err)
		}
	} else {
		fmt.Fprintf(out, "uncommitted photos kept in session %s\n", sess.Key())
	}

	fmt.Fprintf(out, "imported %d photo(s), %d skipped\n", len(report.Committed), failed)
	return nil
}
