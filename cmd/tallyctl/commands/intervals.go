package commands

import (
	"fmt"
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"movement-tally/internal/tally"
)

const defaultBucketSeconds = 60

func newIntervalsCommand(logFn func() *slog.Logger) *cobra.Command {
	var (
		src    source
		bucket int
	)

	cmd := &cobra.Command{
		Use:   "intervals",
		Short: "Print the gap-filled interval table of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := src.load(cmd.Context(), logFn())
			if err != nil {
				return err
			}
			entries, err := sess.Intervals(bucket)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderIntervals(entries, sess.Registry().Tags()))
			return nil
		},
	}
	src.register(cmd)
	cmd.Flags().IntVar(&bucket, bucketFlag, defaultBucketSeconds, "interval size in seconds")

	return cmd
}

func renderIntervals(entries []tally.IntervalEntry, tags []tally.Tag) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)

	header := make(table.Row, 0, len(tags)+2)
	header = append(header, tally.CSVHeaderFirstColumn)
	for _, t := range tags {
		header = append(header, t.Column())
	}
	header = append(header, "Total")
	tbl.AppendHeader(header)

	for _, e := range entries {
		row := make(table.Row, 0, len(tags)+2)
		row = append(row, e.Label)
		for _, t := range tags {
			row = append(row, e.Counts[t])
		}
		row = append(row, e.Total)
		tbl.AppendRow(row)
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("%d intervals", len(entries))})

	return tbl.Render()
}
