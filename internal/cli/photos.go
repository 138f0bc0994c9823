package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	photosLimit  int
	photosOffset int
)

var photosCmd = &cobra.Command{
	Use:   "photos",
	Short: "List photos in the library",
	Long: `List committed photos, newest capture date first.

Examples:
  photoctl photos
  photoctl photos --limit 20 --offset 40
  photoctl photos --json`,
	Args: cobra.NoArgs,
	RunE: runPhotos,
}

func init() {
	photosCmd.Flags().IntVar(&photosLimit, "limit", 100, "Maximum number of photos to list")
	photosCmd.Flags().IntVar(&photosOffset, "offset", 0, "Number of photos to skip")
	rootCmd.AddCommand(photosCmd)
}

type photoRow struct {
	Checksum   string    `json:"checksum"`
	MimeType   string    `json:"mime_type"`
	CapturedAt time.Time `json:"captured_at"`
	IngestedAt time.Time `json:"ingested_at"`
	Comment    string    `json:"comment"`
}

func runPhotos(cmd *cobra.Command, args []string) error {
	repo, err := openRepository(cmd.Context())
	if err != nil {
		return err
	}
	defer repo.Close()

	photos, err := repo.List(cmd.Context(), photosLimit, photosOffset)
	if err != nil {
		return fmt.Errorf("failed to list photos: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		rows := make([]photoRow, 0, len(photos))
		for _, p := range photos {
			rows = append(rows, photoRow{
				Checksum:   p.Checksum,
				MimeType:   p.MimeType,
				CapturedAt: p.CapturedAt,
				IngestedAt: p.IngestedAt,
				Comment:    p.Comment,
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(photos) == 0 {
		fmt.Fprintln(out, "no photos")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECKSUM\tCAPTURED\tINGESTED\tCOMMENT")
	for _, p := range photos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			p.Checksum[:12],
			p.CapturedAt.Format(time.DateTime),
			p.IngestedAt.Format(time.DateTime),
			p.Comment,
		)
	}
	return tw.Flush()
}
