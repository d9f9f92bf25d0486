package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movement-tally/internal/counting"
	"movement-tally/internal/tally"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "tally.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpen_CreatesSchema(t *testing.T) {
	s, _ := openTestStore(t)

	for _, table := range []string{"sessions", "_migrations"} {
		var name string
		err := s.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}

	var mode string
	require.NoError(t, s.Conn().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpen_MigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.db")
	first, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path, nil)
	require.NoError(t, err)
	defer second.Close()

	var n int
	require.NoError(t, second.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestStore_SaveLoad(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := t.Context()

	_, ok, err := s.Load(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	anchor := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	rec := counting.Record{
		ID:   "s1",
		Kind: tally.PedestrianName,
		State: tally.State{
			Events: []tally.EventRecord{
				{Key: "1", Timestamp: 3.5, Segment: 0},
				{Key: "6", Timestamp: 61, Segment: 1},
			},
			SegmentAnchors:     map[int]*time.Time{0: &anchor, 1: nil},
			TagRegistryVersion: tally.PedestrianVersion,
		},
		UpdatedAt: time.Date(2024, 3, 1, 9, 0, 0, 123, time.UTC),
	}
	require.NoError(t, s.Save(ctx, rec))

	got, ok, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	rec.State.Events = rec.State.Events[:1]
	require.NoError(t, s.Save(ctx, rec))
	got, _, err = s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got.State.Events, 1, "save must upsert")
}

func TestStore_ListDelete(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := t.Context()

	for _, id := range []counting.SessionID{"b", "a", "c"} {
		require.NoError(t, s.Save(ctx, counting.Record{ID: id, Kind: tally.VehicleName, UpdatedAt: time.Now()}))
	}
	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []counting.SessionID{"a", "b", "c"}, ids)

	require.NoError(t, s.Delete(ctx, "b"))
	require.NoError(t, s.Delete(ctx, "never"))
	ids, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []counting.SessionID{"a", "c"}, ids)
}

func TestStore_backs_repository_across_restart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.db")
	ctx := t.Context()

	s1, err := Open(path, nil)
	require.NoError(t, err)
	svc := counting.NewService(counting.NewInMemoryRepositoryWithStore(s1), 60)
	id, _, err := svc.CreateSession(ctx, "vehicle")
	require.NoError(t, err)
	_, err = svc.Tag(ctx, id, tally.VehicleSelector(4, "School Bus", "West"), 42, 0)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path, nil)
	require.NoError(t, err)
	defer s2.Close()
	svc = counting.NewService(counting.NewInMemoryRepositoryWithStore(s2), 60)

	counts, last, err := svc.Counts(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "4/School Bus/West", last.Tag.Key)

	total := 0
	for _, c := range counts {
		total += c.Count
	}
	assert.Equal(t, 1, total)
}
