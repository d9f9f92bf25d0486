// Package tally is the event-logging and interval-aggregation engine behind a
// video counting session.
//
// A Session records tagging events (a Tag at a segment-relative timestamp in a
// given video segment) in an append-only EventLog with LIFO undo, keeps a
// running Counter per tag, and on export groups the log into fixed-size,
// gap-filled time buckets per segment (Aggregate) that BuildCSV renders with a
// fixed column order taken from the session's Registry.
//
// Everything in this package is synchronous and free of I/O. Persistence goes
// through State and Restore.
package tally
