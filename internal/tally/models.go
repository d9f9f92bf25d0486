package tally

import "time"

// Event is a single tagging action. Timestamp is seconds into the video
// segment identified by Segment, not wall-clock time.
type Event struct {
	Tag       Tag
	Timestamp float64
	Segment   int
}

// IntervalEntry is one fixed-size time bucket of a segment with full per-tag counts.
// Entries are produced fresh by Aggregate and never mutated afterwards.
type IntervalEntry struct {
	Segment int
	// Start and End are segment-relative seconds; End = Start + bucket size.
	Start int64
	End   int64

	Counts map[Tag]int
	Total  int
	Label  string

	// AnchoredStart and AnchoredEnd are set when the segment has a recording start time.
	AnchoredStart *time.Time
	AnchoredEnd   *time.Time
}

// TagCount pairs a tag with its running count, used for ordered count listings.
type TagCount struct {
	Tag   Tag
	Count int
}
