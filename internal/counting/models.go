package counting

import (
	"time"

	"movement-tally/internal/tally"
)

// SessionID uniquely identifies a counting session.
type SessionID string

// Record is what a Store persists for one session.
type Record struct {
	ID        SessionID
	Kind      string // registry name, e.g. "pedestrian"
	State     tally.State
	UpdatedAt time.Time
}

// createSessionRequest is the body of POST /sessions.
type createSessionRequest struct {
	Kind string `json:"kind"`
}

type sessionResponse struct {
	ID      SessionID `json:"id"`
	Kind    string    `json:"kind"`
	Version string    `json:"tag_registry_version"`
}

// tagRequest is the body of POST /sessions/{session_id}/events.
// Body: { "key": "1", "timestamp": 12.4, "segment": 0 }.
type tagRequest struct {
	Key       string   `json:"key"`
	Timestamp *float64 `json:"timestamp"`
	Segment   int      `json:"segment"`
}

type eventResponse struct {
	Key       string  `json:"key"`
	Column    string  `json:"column"`
	Label     string  `json:"label"`
	Timestamp float64 `json:"timestamp"`
	Segment   int     `json:"segment"`
}

func newEventResponse(e tally.Event) eventResponse {
	return eventResponse{
		Key:       e.Tag.Key,
		Column:    e.Tag.Column(),
		Label:     e.Tag.Label(),
		Timestamp: e.Timestamp,
		Segment:   e.Segment,
	}
}

type countResponse struct {
	Key    string `json:"key"`
	Column string `json:"column"`
	Label  string `json:"label"`
	Count  int    `json:"count"`
}

type countsResponse struct {
	Total  int             `json:"total"`
	Counts []countResponse `json:"counts"`
	Last   *eventResponse  `json:"last,omitempty"`
}

// anchorRequest is the body of PUT /sessions/{session_id}/segments/{segment}/anchor.
type anchorRequest struct {
	RecordingStart time.Time `json:"recording_start"`
}

type intervalResponse struct {
	Segment       int        `json:"segment"`
	Start         int64      `json:"start"`
	End           int64      `json:"end"`
	Label         string     `json:"label"`
	Total         int        `json:"total"`
	Counts        []int      `json:"counts"`
	AnchoredStart *time.Time `json:"anchored_start,omitempty"`
	AnchoredEnd   *time.Time `json:"anchored_end,omitempty"`
}

// intervalsResponse carries counts as arrays aligned with Columns.
type intervalsResponse struct {
	BucketSeconds int                `json:"bucket_seconds"`
	Columns       []string           `json:"columns"`
	Entries       []intervalResponse `json:"entries"`
}

func newIntervalsResponse(bucket int, tags []tally.Tag, entries []tally.IntervalEntry) intervalsResponse {
	resp := intervalsResponse{
		BucketSeconds: bucket,
		Columns:       make([]string, 0, len(tags)),
		Entries:       make([]intervalResponse, 0, len(entries)),
	}
	for _, t := range tags {
		resp.Columns = append(resp.Columns, t.Column())
	}
	for _, e := range entries {
		counts := make([]int, 0, len(tags))
		for _, t := range tags {
			counts = append(counts, e.Counts[t])
		}
		resp.Entries = append(resp.Entries, intervalResponse{
			Segment:       e.Segment,
			Start:         e.Start,
			End:           e.End,
			Label:         e.Label,
			Total:         e.Total,
			Counts:        counts,
			AnchoredStart: e.AnchoredStart,
			AnchoredEnd:   e.AnchoredEnd,
		})
	}
	return resp
}

type registryResponse struct {
	Name    string          `json:"name"`
	Version string          `json:"version"`
	Tags    []countResponse `json:"tags"`
}

type errorResponse struct {
	Error string `json:"error"`
}
