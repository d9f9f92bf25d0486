package counting

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"movement-tally/internal/tally"
)

func newTestService(t *testing.T) (*Service, *InMemoryStore) {
	t.Helper()
	store := NewInMemoryStore()
	svc := NewService(NewInMemoryRepositoryWithStore(store), 60)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, store
}

func TestNewService_defaultBucket(t *testing.T) {
	svc := NewService(NewInMemoryRepository(), 0)
	if svc.BucketSeconds() != DefaultBucketSeconds {
		t.Errorf("BucketSeconds = %d, want %d", svc.BucketSeconds(), DefaultBucketSeconds)
	}
}

func TestService_CreateSession_unknown_kind(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.CreateSession(t.Context(), "tram")
	if !errors.Is(err, tally.ErrUnknownRegistry) {
		t.Errorf("expected ErrUnknownRegistry, got %v", err)
	}
}

func TestService_Tag_persists(t *testing.T) {
	svc, store := newTestService(t)
	ctx := t.Context()
	id, _, err := svc.CreateSession(ctx, "pedestrian")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Tag(ctx, id, "4", 30.5, 0); err != nil {
		t.Fatalf("Tag: %v", err)
	}
	rec, ok, _ := store.Load(ctx, id)
	if !ok || len(rec.State.Events) != 1 || rec.State.Events[0].Key != "4" {
		t.Errorf("tag was not written through: ok=%v rec=%+v", ok, rec)
	}
	if rec.Kind != "pedestrian" || rec.UpdatedAt.IsZero() {
		t.Errorf("unexpected record metadata %+v", rec)
	}
}

func TestService_Tag_invalid_not_persisted(t *testing.T) {
	svc, store := newTestService(t)
	ctx := t.Context()
	id, _, _ := svc.CreateSession(ctx, "vehicle")

	_, err := svc.Tag(ctx, id, "7/Tank/North", 1, 0)
	if !errors.Is(err, tally.ErrInvalidTag) {
		t.Fatalf("expected ErrInvalidTag, got %v", err)
	}
	rec, _, _ := store.Load(ctx, id)
	if len(rec.State.Events) != 0 {
		t.Errorf("invalid tag must not be stored, got %+v", rec.State.Events)
	}
}

func TestService_Undo(t *testing.T) {
	svc, store := newTestService(t)
	ctx := t.Context()
	id, _, _ := svc.CreateSession(ctx, "pedestrian")

	if _, ok, err := svc.Undo(ctx, id); ok || err != nil {
		t.Fatalf("undo on empty: ok=%v err=%v", ok, err)
	}

	svc.Tag(ctx, id, "1", 1, 0)
	svc.Tag(ctx, id, "1", 2, 0)
	ev, ok, err := svc.Undo(ctx, id)
	if err != nil || !ok || ev.Timestamp != 2 {
		t.Fatalf("Undo = %+v %v %v", ev, ok, err)
	}

	counts, last, err := svc.Counts(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if counts[0].Count != 1 || last == nil || last.Timestamp != 1 {
		t.Errorf("after undo: counts[0]=%d last=%+v", counts[0].Count, last)
	}
	rec, _, _ := store.Load(ctx, id)
	if len(rec.State.Events) != 1 {
		t.Errorf("undo not persisted, stored %d events", len(rec.State.Events))
	}
}

func TestService_Export(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	id, _, _ := svc.CreateSession(ctx, "vehicle")

	if _, err := svc.Export(ctx, id, 0, false); !errors.Is(err, tally.ErrEmptyLog) {
		t.Fatalf("expected ErrEmptyLog, got %v", err)
	}

	svc.Tag(ctx, id, tally.VehicleSelector(2, "SUV", "East"), 5, 0)
	out, err := svc.Export(ctx, id, 30, false)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if out.Filename != "vehicle_counts_2024-03-01T12-00-00.csv" {
		t.Errorf("Filename = %q", out.Filename)
	}
	lines := strings.Split(out.CSV, "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "Video 1: 0s-30s,") {
		t.Errorf("unexpected csv %q", out.CSV)
	}
	if !strings.Contains(lines[0], "Class 2 SUV East") {
		t.Errorf("header missing vehicle column: %q", lines[0])
	}

	if n := mustSession(t, svc, id).Len(); n != 0 {
		t.Errorf("export should clear session, %d events remain", n)
	}
}

func TestService_Intervals_bucket(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	id, _, _ := svc.CreateSession(ctx, "pedestrian")
	svc.Tag(ctx, id, "1", 0, 0)
	svc.Tag(ctx, id, "1", 119, 0)

	entries, reg, err := svc.Intervals(ctx, id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if reg.Name() != "pedestrian" || len(entries) != 2 {
		t.Errorf("default bucket: %d entries", len(entries))
	}
	entries, _, _ = svc.Intervals(ctx, id, 10)
	if len(entries) != 12 {
		t.Errorf("bucket 10: got %d entries, want 12", len(entries))
	}
}

func TestService_Anchor_negative_segment(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	id, _, _ := svc.CreateSession(ctx, "pedestrian")
	err := svc.SetAnchor(ctx, id, -1, time.Now())
	if !errors.Is(err, tally.ErrInvalidSegment) {
		t.Errorf("expected ErrInvalidSegment, got %v", err)
	}
}

func TestService_unknown_session(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Tag(t.Context(), "missing", "1", 1, 0); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestService_save_failure_keeps_live_state(t *testing.T) {
	store := &failingStore{InMemoryStore: NewInMemoryStore()}
	svc := NewService(NewInMemoryRepositoryWithStore(store), 60)
	ctx := t.Context()
	id, _, err := svc.CreateSession(ctx, "pedestrian")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Tag(ctx, id, "1", 5, 0); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("disk full")
	store.err = boom
	if _, err := svc.Tag(ctx, id, "2", 6, 0); !errors.Is(err, boom) {
		t.Fatalf("Tag: expected store error, got %v", err)
	}
	if _, _, err := svc.Undo(ctx, id); !errors.Is(err, boom) {
		t.Fatalf("Undo: expected store error, got %v", err)
	}
	if err := svc.SetAnchor(ctx, id, 0, time.Now()); !errors.Is(err, boom) {
		t.Fatalf("SetAnchor: expected store error, got %v", err)
	}
	if _, err := svc.Export(ctx, id, 0, false); !errors.Is(err, boom) {
		t.Fatalf("Export: expected store error, got %v", err)
	}

	// Memory still matches the last successful save.
	sess := mustSession(t, svc, id)
	if sess.Len() != 1 || len(sess.Anchors()) != 0 {
		t.Errorf("live session diverged: %d events, %d anchors", sess.Len(), len(sess.Anchors()))
	}
	rec, _, _ := store.Load(ctx, id)
	if len(rec.State.Events) != 1 {
		t.Errorf("stored %d events, want 1", len(rec.State.Events))
	}

	store.err = nil
	out, err := svc.Export(ctx, id, 0, false)
	if err != nil || out.Events != 1 {
		t.Fatalf("retry Export = %d events, %v", out.Events, err)
	}
}

func TestService_Export_concurrent_tagging(t *testing.T) {
	svc, store := newTestService(t)
	ctx := t.Context()
	id, _, _ := svc.CreateSession(ctx, "pedestrian")
	if _, err := svc.Tag(ctx, id, "1", 0, 0); err != nil {
		t.Fatal(err)
	}

	const taggers, perTagger = 4, 200
	var wg sync.WaitGroup
	for g := range taggers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perTagger {
				if _, err := svc.Tag(ctx, id, "3", float64(g*perTagger+i), 0); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}

	exported := 0
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		out, err := svc.Export(ctx, id, 0, false)
		if errors.Is(err, tally.ErrEmptyLog) {
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		exported += out.Events
	}

	remaining := mustSession(t, svc, id).Len()
	if got, want := exported+remaining, taggers*perTagger+1; got != want {
		t.Errorf("exported %d + remaining %d = %d events, want %d", exported, remaining, got, want)
	}
	rec, _, _ := store.Load(ctx, id)
	if len(rec.State.Events) != remaining {
		t.Errorf("stored %d events, live %d", len(rec.State.Events), remaining)
	}
}

func mustSession(t *testing.T, svc *Service, id SessionID) *tally.Session {
	t.Helper()
	s, err := svc.Session(t.Context(), id)
	if err != nil {
		t.Fatal(err)
	}
	return s
}
