package commands

import (
	"fmt"
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"movement-tally/internal/tally"
)

func newCountsCommand(logFn func() *slog.Logger) *cobra.Command {
	var src source

	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Print per-column totals of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := src.load(cmd.Context(), logFn())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderCounts(sess.CountList(), lastEvent(sess)))
			return nil
		},
	}
	src.register(cmd)

	return cmd
}

func lastEvent(sess *tally.Session) *tally.Event {
	if ev, ok := sess.Last(); ok {
		return &ev
	}
	return nil
}

func renderCounts(counts []tally.TagCount, last *tally.Event) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Column", "Label", "Count"})

	total := 0
	for _, c := range counts {
		total += c.Count
		tbl.AppendRow(table.Row{c.Tag.Column(), c.Tag.Label(), c.Count})
	}
	tbl.AppendFooter(table.Row{"", "Total", total})

	out := tbl.Render()
	if last != nil {
		out += fmt.Sprintf("\nLast: %s at %.2fs (video %d)", last.Tag.Label(), last.Timestamp, last.Segment+1)
	}
	return out
}
