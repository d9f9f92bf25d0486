package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

const exportFilePerm = 0o644

func newExportCommand(logFn func() *slog.Logger) *cobra.Command {
	var (
		src    source
		bucket int
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the interval CSV of a session to --output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logFn()
			sess, err := src.load(cmd.Context(), log)
			if err != nil {
				return err
			}
			out, err := sess.Export(bucket, time.Now())
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			path := filepath.Join(outDir, out.Filename)
			if err := os.WriteFile(path, []byte(out.CSV), exportFilePerm); err != nil {
				return fmt.Errorf("write export: %w", err)
			}

			log.Debug("export written", "path", path, "events", out.Events, "intervals", len(out.Entries))
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	src.register(cmd)
	cmd.Flags().IntVar(&bucket, bucketFlag, defaultBucketSeconds, "interval size in seconds")
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "directory the CSV is written to")

	return cmd
}
