package counting

import (
	"context"
	"time"

	"movement-tally/internal/tally"
)

// DefaultBucketSeconds is the interval size used when none is configured.
const DefaultBucketSeconds = 60

// Service applies counting-session business logic and delegates storage to Repository.
// Every mutation goes through Repository.Update, so a failed save leaves the
// live session untouched.
type Service struct {
	repo          Repository
	bucketSeconds int
	now           func() time.Time
}

// NewService returns a Service that uses repo and aggregates into buckets of
// bucketSeconds unless a caller asks for another size. If bucketSeconds <= 0,
// DefaultBucketSeconds is used.
func NewService(repo Repository, bucketSeconds int) *Service {
	if bucketSeconds <= 0 {
		bucketSeconds = DefaultBucketSeconds
	}
	return &Service{repo: repo, bucketSeconds: bucketSeconds, now: time.Now}
}

// BucketSeconds returns the default bucket size.
func (s *Service) BucketSeconds() int {
	return s.bucketSeconds
}

// CreateSession starts a session for the registry named kind.
func (s *Service) CreateSession(ctx context.Context, kind string) (SessionID, tally.Registry, error) {
	reg, err := tally.RegistryByName(kind)
	if err != nil {
		return "", nil, err
	}
	id, _, err := s.repo.Create(ctx, reg)
	if err != nil {
		return "", nil, err
	}
	return id, reg, nil
}

// DeleteSession ends a session and removes its stored state.
func (s *Service) DeleteSession(ctx context.Context, id SessionID) error {
	return s.repo.Delete(ctx, id)
}

// Session returns the live session for id.
func (s *Service) Session(ctx context.Context, id SessionID) (*tally.Session, error) {
	return s.repo.Get(ctx, id)
}

// Tag records a tagging event. Unknown keys return tally.ErrInvalidTag and
// nothing is recorded or persisted.
func (s *Service) Tag(ctx context.Context, id SessionID, key string, timestamp float64, segment int) (tally.Event, error) {
	var ev tally.Event
	_, err := s.repo.Update(ctx, id, func(sess *tally.Session) (bool, error) {
		var err error
		ev, err = sess.Tag(key, timestamp, segment)
		return err == nil, err
	})
	if err != nil {
		return tally.Event{}, err
	}
	return ev, nil
}

// Undo removes the most recent event. ok is false when the log was already empty.
func (s *Service) Undo(ctx context.Context, id SessionID) (ev tally.Event, ok bool, err error) {
	_, err = s.repo.Update(ctx, id, func(sess *tally.Session) (bool, error) {
		ev, ok = sess.Undo()
		return ok, nil
	})
	if err != nil || !ok {
		return tally.Event{}, false, err
	}
	return ev, true, nil
}

// ClearEvents empties the session's log, keeping segment anchors.
func (s *Service) ClearEvents(ctx context.Context, id SessionID) error {
	_, err := s.repo.Update(ctx, id, func(sess *tally.Session) (bool, error) {
		sess.ClearEvents()
		return true, nil
	})
	return err
}

// ClearSession empties the log and forgets every anchor ("clear video").
func (s *Service) ClearSession(ctx context.Context, id SessionID) error {
	_, err := s.repo.Update(ctx, id, func(sess *tally.Session) (bool, error) {
		sess.Clear()
		return true, nil
	})
	return err
}

// Counts returns live counts in column order and the most recent event, if any.
func (s *Service) Counts(ctx context.Context, id SessionID) ([]tally.TagCount, *tally.Event, error) {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	var last *tally.Event
	if ev, ok := sess.Last(); ok {
		last = &ev
	}
	return sess.CountList(), last, nil
}

// SetAnchor records the recording start time of a segment.
func (s *Service) SetAnchor(ctx context.Context, id SessionID, segment int, recordingStart time.Time) error {
	_, err := s.repo.Update(ctx, id, func(sess *tally.Session) (bool, error) {
		if err := sess.SetAnchor(segment, recordingStart); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}

// RemoveAnchor forgets the recording start time of a segment.
func (s *Service) RemoveAnchor(ctx context.Context, id SessionID, segment int) error {
	_, err := s.repo.Update(ctx, id, func(sess *tally.Session) (bool, error) {
		sess.RemoveAnchor(segment)
		return true, nil
	})
	return err
}

// Intervals aggregates the session. bucketSeconds <= 0 selects the default size.
func (s *Service) Intervals(ctx context.Context, id SessionID, bucketSeconds int) ([]tally.IntervalEntry, tally.Registry, error) {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	entries, err := sess.Intervals(s.bucket(bucketSeconds))
	if err != nil {
		return nil, nil, err
	}
	return entries, sess.Registry(), nil
}

// Export renders the session as CSV. A successful export ends the counting
// run: the session is cleared unless keep is set. An empty log returns
// tally.ErrEmptyLog and nothing is produced. Events tagged while the export
// runs are never dropped: they land either in the CSV or in the session.
// If the cleared state cannot be saved, the error is returned and the session
// keeps its events.
func (s *Service) Export(ctx context.Context, id SessionID, bucketSeconds int, keep bool) (tally.Export, error) {
	bucket := s.bucket(bucketSeconds)
	if keep {
		sess, err := s.repo.Get(ctx, id)
		if err != nil {
			return tally.Export{}, err
		}
		return sess.Export(bucket, s.now())
	}

	var out tally.Export
	_, err := s.repo.Update(ctx, id, func(sess *tally.Session) (bool, error) {
		var err error
		out, err = sess.ExportAndClear(bucket, s.now())
		return err == nil, err
	})
	if err != nil {
		return tally.Export{}, err
	}
	return out, nil
}

// State returns the persisted shape of a session.
func (s *Service) State(ctx context.Context, id SessionID) (tally.State, error) {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return tally.State{}, err
	}
	return sess.State(), nil
}

func (s *Service) bucket(requested int) int {
	if requested > 0 {
		return requested
	}
	return s.bucketSeconds
}
