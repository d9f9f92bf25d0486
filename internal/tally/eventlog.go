package tally

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	// ErrInvalidTimestamp is returned for negative, NaN, infinite or
	// out-of-range timestamps.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrInvalidSegment is returned for negative segment indexes.
	ErrInvalidSegment = errors.New("invalid segment index")
)

// MaxTimestamp is the exclusive upper bound on event timestamps, in seconds
// (roughly 68 years of video).
const MaxTimestamp = float64(math.MaxInt32)

// validTimestamp reports whether ts is finite and within [0, MaxTimestamp).
func validTimestamp(ts float64) bool {
	return ts >= 0 && ts < MaxTimestamp
}

// EventLog is an append-only, LIFO-undo sequence of events together with the
// aggregate counts derived from it. All methods are safe for concurrent use;
// append, undo and clear update the log and counts under one lock.
type EventLog struct {
	mu       sync.Mutex
	registry Registry
	events   []Event
	counts   *Counter
}

// NewEventLog returns an empty log that accepts only tags declared by reg.
func NewEventLog(reg Registry) *EventLog {
	return &EventLog{
		registry: reg,
		counts:   NewCounter(reg.Tags()),
	}
}

// Registry returns the active registry.
func (l *EventLog) Registry() Registry {
	return l.registry
}

// Append records a tagging event and returns its position in the log.
// Tags the registry does not declare are rejected with ErrInvalidTag and leave
// the log and counts untouched.
func (l *EventLog) Append(tag Tag, timestamp float64, segment int) (int, error) {
	if !l.registry.Contains(tag) {
		return -1, fmt.Errorf("%w: %q", ErrInvalidTag, tag.Key)
	}
	if !validTimestamp(timestamp) {
		return -1, fmt.Errorf("%w: %v", ErrInvalidTimestamp, timestamp)
	}
	if segment < 0 {
		return -1, fmt.Errorf("%w: %d", ErrInvalidSegment, segment)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, Event{Tag: tag, Timestamp: timestamp, Segment: segment})
	l.counts.Inc(tag)
	return len(l.events) - 1, nil
}

// UndoLast removes and returns the most recent event. On an empty log it
// returns false and changes nothing.
func (l *EventLog) UndoLast() (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) == 0 {
		return Event{}, false
	}
	last := l.events[len(l.events)-1]
	l.events = l.events[:len(l.events)-1]
	l.counts.Dec(last.Tag)
	return last, true
}

// Last returns the most recent event without removing it.
func (l *EventLog) Last() (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) == 0 {
		return Event{}, false
	}
	return l.events[len(l.events)-1], true
}

// Snapshot returns a copy of the events in append order.
func (l *EventLog) Snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Clear empties the log and resets every count to zero.
func (l *EventLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = nil
	l.counts.Reset()
}

// Len returns the number of events in the log.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Empty reports whether the log has no events (no undo or export possible).
func (l *EventLog) Empty() bool {
	return l.Len() == 0
}

// Counts returns a copy of the aggregate counts, including zero entries for
// every declared tag.
func (l *EventLog) Counts() map[Tag]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts.Snapshot()
}

// Count returns the aggregate count for one tag.
func (l *EventLog) Count(tag Tag) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts.Get(tag)
}
