package tally

// Counter is a running tag -> count mapping kept in step with an EventLog.
// It is not safe for concurrent use; EventLog guards it.
type Counter struct {
	counts map[Tag]int
}

// NewCounter returns a counter with every declared tag at zero.
func NewCounter(tags []Tag) *Counter {
	c := &Counter{counts: make(map[Tag]int, len(tags))}
	for _, t := range tags {
		c.counts[t] = 0
	}
	return c
}

// Inc increments tag by one.
func (c *Counter) Inc(tag Tag) {
	c.counts[tag]++
}

// Dec decrements tag by one, floored at zero.
func (c *Counter) Dec(tag Tag) {
	if c.counts[tag] > 0 {
		c.counts[tag]--
		return
	}
	c.counts[tag] = 0
}

// Get returns the count for tag.
func (c *Counter) Get(tag Tag) int {
	return c.counts[tag]
}

// Reset sets every known tag back to zero.
func (c *Counter) Reset() {
	for t := range c.counts {
		c.counts[t] = 0
	}
}

// Snapshot returns a copy of the mapping.
func (c *Counter) Snapshot() map[Tag]int {
	out := make(map[Tag]int, len(c.counts))
	for t, n := range c.counts {
		out[t] = n
	}
	return out
}

// CountEvents recomputes tag counts from scratch. Every tag in tags is present in
// the result; tags that never occur map to zero.
func CountEvents(events []Event, tags []Tag) map[Tag]int {
	out := make(map[Tag]int, len(tags))
	for _, t := range tags {
		out[t] = 0
	}
	for _, e := range events {
		out[e.Tag]++
	}
	return out
}
