package tally

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrRegistryMismatch is returned when persisted state was written against a
// different registry than the one it is restored into.
var ErrRegistryMismatch = errors.New("tag registry version mismatch")

// Session owns the event log, its aggregate counts and per-segment anchors for
// one counting session. Mutations and snapshots are serialized so aggregation
// never observes a torn log.
type Session struct {
	mu      sync.RWMutex
	log     *EventLog
	anchors Anchors
}

// NewSession returns an empty session counting tags from reg.
func NewSession(reg Registry) *Session {
	return &Session{
		log:     NewEventLog(reg),
		anchors: make(Anchors),
	}
}

// Registry returns the session's active registry.
func (s *Session) Registry() Registry {
	return s.log.Registry()
}

// Tag resolves selector and appends the resulting event. Unknown selectors are
// rejected with ErrInvalidTag and leave the session unchanged.
func (s *Session) Tag(selector string, timestamp float64, segment int) (Event, error) {
	tag, err := s.log.Registry().Resolve(selector)
	if err != nil {
		return Event{}, err
	}
	return s.Append(tag, timestamp, segment)
}

// Append records an already resolved tag.
func (s *Session) Append(tag Tag, timestamp float64, segment int) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.log.Append(tag, timestamp, segment); err != nil {
		return Event{}, err
	}
	return Event{Tag: tag, Timestamp: timestamp, Segment: segment}, nil
}

// Undo removes the most recent event. It is a no-op returning false on an empty session.
func (s *Session) Undo() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.UndoLast()
}

// Last returns the most recent event, which drives the "last pressed" indicator.
func (s *Session) Last() (Event, bool) {
	return s.log.Last()
}

// ClearEvents empties the log and resets counts, keeping segment anchors.
func (s *Session) ClearEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Clear()
}

// Clear empties the log, resets counts and forgets every anchor.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Clear()
	s.anchors = make(Anchors)
}

// SetAnchor records the wall-clock time that segment's second zero corresponds to.
func (s *Session) SetAnchor(segment int, recordingStart time.Time) error {
	if segment < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSegment, segment)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchors[segment] = recordingStart
	return nil
}

// RemoveAnchor forgets segment's anchor so its labels fall back to relative time.
func (s *Session) RemoveAnchor(segment int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.anchors, segment)
}

// Anchors returns a copy of the segment anchors.
func (s *Session) Anchors() Anchors {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anchorsLocked()
}

func (s *Session) anchorsLocked() Anchors {
	out := make(Anchors, len(s.anchors))
	for k, v := range s.anchors {
		out[k] = v
	}
	return out
}

// Len returns the number of events.
func (s *Session) Len() int {
	return s.log.Len()
}

// Events returns a copy of the log in append order.
func (s *Session) Events() []Event {
	return s.log.Snapshot()
}

// Counts returns the live aggregate counts.
func (s *Session) Counts() map[Tag]int {
	return s.log.Counts()
}

// CountList returns the live counts in registry column order.
func (s *Session) CountList() []TagCount {
	counts := s.log.Counts()
	tags := s.log.Registry().Tags()
	out := make([]TagCount, 0, len(tags))
	for _, t := range tags {
		out = append(out, TagCount{Tag: t, Count: counts[t]})
	}
	return out
}

// snapshot takes the events and anchors together under the session lock.
func (s *Session) snapshot() ([]Event, Anchors) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log.Snapshot(), s.anchorsLocked()
}

// Intervals aggregates the current log into buckets of bucketSeconds.
func (s *Session) Intervals(bucketSeconds int) ([]IntervalEntry, error) {
	events, anchors := s.snapshot()
	return Aggregate(s.log.Registry(), events, bucketSeconds, anchors)
}

// Export is a rendered CSV export of a session.
type Export struct {
	Filename string
	CSV      string
	Entries  []IntervalEntry
	Events   int
}

// Export aggregates and serializes the session. It does not clear the session;
// callers decide whether a successful export ends it.
func (s *Session) Export(bucketSeconds int, now time.Time) (Export, error) {
	events, anchors := s.snapshot()
	return s.render(events, anchors, bucketSeconds, now)
}

// ExportAndClear exports the session and, only if the export succeeded,
// clears events and anchors. Both happen under one lock so no event can land
// between the snapshot and the clear.
func (s *Session) ExportAndClear(bucketSeconds int, now time.Time) (Export, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.render(s.log.Snapshot(), s.anchorsLocked(), bucketSeconds, now)
	if err != nil {
		return Export{}, err
	}
	s.log.Clear()
	s.anchors = make(Anchors)
	return out, nil
}

func (s *Session) render(events []Event, anchors Anchors, bucketSeconds int, now time.Time) (Export, error) {
	reg := s.log.Registry()
	entries, err := Aggregate(reg, events, bucketSeconds, anchors)
	if err != nil {
		return Export{}, err
	}
	csv, err := BuildCSV(entries, reg.Tags())
	if err != nil {
		return Export{}, err
	}

	return Export{
		Filename: ExportFilename(ExportPrefix(reg), anchors.First(), now),
		CSV:      csv,
		Entries:  entries,
		Events:   len(events),
	}, nil
}

// Clone returns an independent copy of the session. Counts are rebuilt from
// the copied log.
func (s *Session) Clone() *Session {
	events, anchors := s.snapshot()

	c := NewSession(s.log.Registry())
	c.log.events = events
	for _, e := range events {
		c.log.counts.Inc(e.Tag)
	}
	c.anchors = anchors
	return c
}

// EventRecord is the persisted form of an Event: the tag is stored by selector key.
type EventRecord struct {
	Key       string  `json:"key"`
	Timestamp float64 `json:"timestamp"`
	Segment   int     `json:"segment"`
}

// State is the complete persisted shape of a session.
type State struct {
	Events             []EventRecord      `json:"events"`
	SegmentAnchors     map[int]*time.Time `json:"segment_anchors"`
	TagRegistryVersion string             `json:"tag_registry_version"`
}

// State returns the session in its persisted shape.
func (s *Session) State() State {
	events, anchors := s.snapshot()

	st := State{
		Events:             make([]EventRecord, 0, len(events)),
		SegmentAnchors:     make(map[int]*time.Time, len(anchors)),
		TagRegistryVersion: s.log.Registry().Version(),
	}
	for _, e := range events {
		st.Events = append(st.Events, EventRecord{Key: e.Tag.Key, Timestamp: e.Timestamp, Segment: e.Segment})
	}
	for seg, a := range anchors {
		st.SegmentAnchors[seg] = &a
	}
	return st
}

// Restore rebuilds a session from persisted state. Events are re-appended in
// order so counts are derived from the log, never copied.
func Restore(st State) (*Session, error) {
	reg, err := RegistryForVersion(st.TagRegistryVersion)
	if err != nil {
		return nil, err
	}
	return RestoreInto(reg, st)
}

// RestoreInto rebuilds a session from st using reg, which must match the
// version st was written against.
func RestoreInto(reg Registry, st State) (*Session, error) {
	if st.TagRegistryVersion != "" && st.TagRegistryVersion != reg.Version() {
		return nil, fmt.Errorf("%w: state %q, registry %q", ErrRegistryMismatch, st.TagRegistryVersion, reg.Version())
	}

	s := NewSession(reg)
	for i, rec := range st.Events {
		if _, err := s.Tag(rec.Key, rec.Timestamp, rec.Segment); err != nil {
			return nil, fmt.Errorf("restore event %d: %w", i, err)
		}
	}

	segs := make([]int, 0, len(st.SegmentAnchors))
	for seg := range st.SegmentAnchors {
		segs = append(segs, seg)
	}
	sort.Ints(segs)
	for _, seg := range segs {
		a := st.SegmentAnchors[seg]
		if a == nil {
			continue
		}
		if err := s.SetAnchor(seg, *a); err != nil {
			return nil, fmt.Errorf("restore anchor %d: %w", seg, err)
		}
	}
	return s, nil
}
