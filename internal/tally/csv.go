package tally

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrEmptyInput is returned by BuildCSV when there are no entries to render.
var ErrEmptyInput = errors.New("no interval entries to serialize")

// CSVHeaderFirstColumn is the header of the label column.
const CSVHeaderFirstColumn = "Time interval"

// BuildCSV renders entries as CSV text. The header is "Time interval" followed by
// one column per tag in tagOrder; each entry becomes one row in the given order.
// Rows are separated by "\n" with no trailing newline. Labels never contain
// commas, so no field is quoted.
func BuildCSV(entries []IntervalEntry, tagOrder []Tag) (string, error) {
	if len(entries) == 0 {
		return "", ErrEmptyInput
	}

	var b strings.Builder

	b.WriteString(CSVHeaderFirstColumn)
	for _, t := range tagOrder {
		b.WriteByte(',')
		b.WriteString(t.Column())
	}

	for _, e := range entries {
		b.WriteByte('\n')
		b.WriteString(e.Label)
		for _, t := range tagOrder {
			b.WriteByte(',')
			b.WriteString(strconv.Itoa(e.Counts[t]))
		}
	}

	return b.String(), nil
}

// ExportFilename builds the download filename for an export:
// <prefix>_<YYYY-MM-DD>_<timestamp>.csv when the first segment is anchored,
// <prefix>_<timestamp>.csv otherwise. The timestamp is now in UTC with ':' replaced by '-'.
func ExportFilename(prefix string, firstAnchor *time.Time, now time.Time) string {
	stamp := strings.ReplaceAll(now.UTC().Format("2006-01-02T15:04:05"), ":", "-")
	if firstAnchor != nil {
		return prefix + "_" + firstAnchor.UTC().Format("2006-01-02") + "_" + stamp + ".csv"
	}
	return prefix + "_" + stamp + ".csv"
}

// ExportPrefix returns the filename prefix used for a registry's exports.
func ExportPrefix(reg Registry) string {
	return reg.Name() + "_counts"
}
