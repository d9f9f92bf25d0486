package tally

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	// ErrEmptyLog is returned when aggregation or export is attempted with no events.
	ErrEmptyLog = errors.New("event log is empty")

	// ErrInvalidBucket is returned for non-positive bucket sizes.
	ErrInvalidBucket = errors.New("bucket size must be positive")

	// ErrTooManyIntervals is returned when gap filling would emit more than
	// MaxIntervals entries.
	ErrTooManyIntervals = errors.New("too many intervals")
)

// MaxIntervals caps the number of entries a single aggregation may emit.
const MaxIntervals = 100_000

// Anchors maps a segment index to the wall-clock time its second zero corresponds to.
type Anchors map[int]time.Time

// First returns the anchor of segment 0, which dates export filenames, or nil.
func (a Anchors) First() *time.Time {
	if t, ok := a[0]; ok {
		return &t
	}
	return nil
}

// Aggregate partitions events into fixed-size buckets per segment. Every bucket
// between a segment's first and last occupied bucket is emitted, empty or not,
// and every bucket carries a count for each tag reg declares. Entries are ordered
// by segment, then by interval start. Append order is irrelevant: events are
// bucketed by timestamp.
func Aggregate(reg Registry, events []Event, bucketSeconds int, anchors Anchors) ([]IntervalEntry, error) {
	if bucketSeconds <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBucket, bucketSeconds)
	}
	if len(events) == 0 {
		return nil, ErrEmptyLog
	}

	bySegment := make(map[int][]Event)
	for _, e := range events {
		bySegment[e.Segment] = append(bySegment[e.Segment], e)
	}

	segments := make([]int, 0, len(bySegment))
	for seg := range bySegment {
		segments = append(segments, seg)
	}
	sort.Ints(segments)

	tags := reg.Tags()
	size := int64(bucketSeconds)

	// Size every segment's range before allocating anything.
	type span struct{ first, last int64 }
	spans := make([]span, len(segments))
	total := int64(0)
	for i, seg := range segments {
		segEvents := bySegment[seg]
		minTime, maxTime := segEvents[0].Timestamp, segEvents[0].Timestamp
		for _, e := range segEvents {
			if !validTimestamp(e.Timestamp) {
				return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, e.Timestamp)
			}
			minTime = math.Min(minTime, e.Timestamp)
			maxTime = math.Max(maxTime, e.Timestamp)
		}
		spans[i] = span{first: bucketStart(minTime, size), last: bucketStart(maxTime, size)}
		total += (spans[i].last-spans[i].first)/size + 1
		if total > MaxIntervals {
			return nil, fmt.Errorf("%w: more than %d buckets of %ds", ErrTooManyIntervals, MaxIntervals, bucketSeconds)
		}
	}

	out := make([]IntervalEntry, 0, total)
	for i, seg := range segments {
		first, last := spans[i].first, spans[i].last
		anchor, anchored := anchors[seg]

		base := len(out)
		for start := first; start <= last; start += size {
			out = append(out, newIntervalEntry(seg, start, start+size, size, tags, anchor, anchored))
		}

		for _, e := range bySegment[seg] {
			idx := base + int((bucketStart(e.Timestamp, size)-first)/size)
			out[idx].Counts[e.Tag]++
			out[idx].Total++
		}
	}

	return out, nil
}

// bucketStart returns floor(ts / size) * size.
func bucketStart(ts float64, size int64) int64 {
	return int64(math.Floor(ts/float64(size))) * size
}

func newIntervalEntry(seg int, start, end, size int64, tags []Tag, anchor time.Time, anchored bool) IntervalEntry {
	entry := IntervalEntry{
		Segment: seg,
		Start:   start,
		End:     end,
		Counts:  make(map[Tag]int, len(tags)),
	}
	for _, t := range tags {
		entry.Counts[t] = 0
	}

	if anchored {
		as := anchor.Add(time.Duration(start) * time.Second)
		ae := anchor.Add(time.Duration(end) * time.Second)
		entry.AnchoredStart = &as
		entry.AnchoredEnd = &ae
		entry.Label = fmt.Sprintf("Video %d: %s", seg+1, wallClockRange(as, ae))
	} else {
		entry.Label = fmt.Sprintf("Video %d: %s", seg+1, relativeRange(start, end, size))
	}
	return entry
}

// relativeRange renders M:SS-M:SS for buckets of a minute or more, Ns-Ns otherwise.
func relativeRange(start, end, size int64) string {
	if size >= 60 {
		return fmt.Sprintf("%d:%02d-%d:%02d", start/60, start%60, end/60, end%60)
	}
	return fmt.Sprintf("%ds-%ds", start, end)
}

// wallClockRange renders a 24-hour HH:MM - HH:MM range in the anchor's location.
func wallClockRange(start, end time.Time) string {
	return start.Format("15:04") + " - " + end.Format("15:04")
}
