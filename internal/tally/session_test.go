package tally

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_TagRejectsUnknownKey(t *testing.T) {
	t.Parallel()
	s := NewSession(NewPedestrianRegistry())

	_, err := s.Tag("9", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidTag)
	assert.Equal(t, 0, s.Len())
	for _, tc := range s.CountList() {
		assert.Zero(t, tc.Count)
	}
}

func TestSession_TagUndoLast(t *testing.T) {
	t.Parallel()
	s := NewSession(NewPedestrianRegistry())

	_, err := s.Tag("1", 1, 0)
	require.NoError(t, err)
	_, err = s.Tag("6", 2, 0)
	require.NoError(t, err)

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, "6", last.Tag.Key)

	undone, ok := s.Undo()
	require.True(t, ok)
	assert.Equal(t, "6", undone.Tag.Key)

	last, ok = s.Last()
	require.True(t, ok)
	assert.Equal(t, "1", last.Tag.Key, "last indicator is recomputed from the log")

	_, _ = s.Undo()
	_, ok = s.Last()
	assert.False(t, ok)
	_, ok = s.Undo()
	assert.False(t, ok)
}

func TestSession_CountListOrder(t *testing.T) {
	t.Parallel()
	s := NewSession(NewPedestrianRegistry())
	_, _ = s.Tag("3", 1, 0)
	_, _ = s.Tag("3", 2, 0)

	list := s.CountList()
	require.Len(t, list, 8)
	assert.Equal(t, "1", list[0].Tag.Key)
	assert.Equal(t, 2, list[2].Count)
}

func TestSession_ClearVariants(t *testing.T) {
	t.Parallel()
	s := NewSession(NewPedestrianRegistry())
	_, _ = s.Tag("1", 1, 0)
	require.NoError(t, s.SetAnchor(0, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)))

	s.ClearEvents()
	assert.Equal(t, 0, s.Len())
	assert.Len(t, s.Anchors(), 1)

	_, _ = s.Tag("1", 1, 0)
	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Anchors())
	assert.Nil(t, s.Anchors().First())
}

func TestSession_Anchors(t *testing.T) {
	t.Parallel()
	s := NewSession(NewPedestrianRegistry())

	assert.ErrorIs(t, s.SetAnchor(-1, time.Now()), ErrInvalidSegment)

	a := time.Date(2024, 3, 9, 6, 30, 0, 0, time.UTC)
	require.NoError(t, s.SetAnchor(0, a))
	require.NotNil(t, s.Anchors().First())
	assert.True(t, s.Anchors().First().Equal(a))

	s.RemoveAnchor(0)
	assert.Nil(t, s.Anchors().First())
}

func TestSession_ExportEmpty(t *testing.T) {
	t.Parallel()
	s := NewSession(NewPedestrianRegistry())

	_, err := s.Export(60, time.Now())
	assert.ErrorIs(t, err, ErrEmptyLog)
	_, err = s.Intervals(60)
	assert.ErrorIs(t, err, ErrEmptyLog)
}

func TestSession_Export(t *testing.T) {
	t.Parallel()
	s := NewSession(NewPedestrianRegistry())
	require.NoError(t, s.SetAnchor(0, time.Date(2024, 6, 3, 7, 45, 0, 0, time.UTC)))
	_, _ = s.Tag("2", 10, 0)
	_, _ = s.Tag("2", 70, 0)

	out, err := s.Export(60, time.Date(2024, 6, 4, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, "pedestrian_counts_2024-06-03_2024-06-04T10-00-00.csv", out.Filename)
	assert.Equal(t, 2, out.Events)
	require.Len(t, out.Entries, 2)
	assert.Equal(t,
		"Time interval,1,2,3,4,5,6,7,8\n"+
			"Video 1: 07:45 - 07:46,0,1,0,0,0,0,0,0\n"+
			"Video 1: 07:46 - 07:47,0,1,0,0,0,0,0,0",
		out.CSV)
	assert.Equal(t, 2, s.Len(), "export does not clear the session")
}

func TestSession_ExportAndClear(t *testing.T) {
	t.Parallel()
	s := NewSession(NewPedestrianRegistry())

	_, err := s.ExportAndClear(60, time.Now())
	assert.ErrorIs(t, err, ErrEmptyLog)

	require.NoError(t, s.SetAnchor(0, time.Date(2024, 6, 3, 7, 45, 0, 0, time.UTC)))
	_, err = s.ExportAndClear(60, time.Now())
	assert.ErrorIs(t, err, ErrEmptyLog)
	assert.Len(t, s.Anchors(), 1, "a failed export leaves the session untouched")

	_, _ = s.Tag("3", 5, 0)
	out, err := s.ExportAndClear(60, time.Date(2024, 6, 4, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "pedestrian_counts_2024-06-03_2024-06-04T10-00-00.csv", out.Filename)
	assert.Equal(t, 1, out.Events)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Anchors())
}

func TestSession_ExportAndClear_ConcurrentTagging(t *testing.T) {
	t.Parallel()
	s := NewSession(NewPedestrianRegistry())

	const taggers, perTagger = 4, 250
	var wg sync.WaitGroup
	for w := 0; w < taggers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perTagger; i++ {
				_, _ = s.Tag("1", float64(i), 0)
			}
		}()
	}

	exported := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		if out, err := s.ExportAndClear(60, time.Now()); err == nil {
			exported += out.Events
		}
	}

	assert.Equal(t, taggers*perTagger, exported+s.Len(), "every appended event is either exported or still in the log")
}

func TestSession_Clone(t *testing.T) {
	t.Parallel()
	s := NewSession(NewPedestrianRegistry())
	require.NoError(t, s.SetAnchor(0, time.Date(2024, 6, 3, 7, 45, 0, 0, time.UTC)))
	_, _ = s.Tag("2", 10, 0)

	c := s.Clone()
	_, _ = c.Tag("2", 20, 0)
	c.RemoveAnchor(0)

	assert.Equal(t, 1, s.Len())
	assert.Len(t, s.Anchors(), 1)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 2, c.Counts()[mustResolve(t, s.Registry(), "2")])
	assert.Empty(t, c.Anchors())
}

func TestSession_StateRoundTrip(t *testing.T) {
	t.Parallel()
	s := NewSession(NewVehicleRegistry())
	_, err := s.Tag("2/Sedan/North", 12.5, 0)
	require.NoError(t, err)
	_, err = s.Tag("4/Coach Bus/West", 80, 1)
	require.NoError(t, err)
	_, err = s.Tag("2/Sedan/North", 5, 0)
	require.NoError(t, err)
	require.NoError(t, s.SetAnchor(1, time.Date(2024, 2, 2, 15, 0, 0, 0, time.UTC)))

	raw, err := json.Marshal(s.State())
	require.NoError(t, err)

	var st State
	require.NoError(t, json.Unmarshal(raw, &st))
	assert.Equal(t, VehicleVersion, st.TagRegistryVersion)

	restored, err := Restore(st)
	require.NoError(t, err)

	if diff := cmp.Diff(s.Events(), restored.Events()); diff != "" {
		t.Errorf("events differ after restore (-orig +restored):\n%s", diff)
	}
	if diff := cmp.Diff(s.Counts(), restored.Counts()); diff != "" {
		t.Errorf("counts differ after restore (-orig +restored):\n%s", diff)
	}
	if diff := cmp.Diff(s.Anchors(), restored.Anchors()); diff != "" {
		t.Errorf("anchors differ after restore (-orig +restored):\n%s", diff)
	}

	undone, ok := restored.Undo()
	require.True(t, ok)
	assert.Equal(t, 5.0, undone.Timestamp)
	tag, _ := restored.Registry().Resolve("2/Sedan/North")
	assert.Equal(t, 1, restored.Counts()[tag])
}

func TestRestore_NullAnchorIgnored(t *testing.T) {
	t.Parallel()
	raw := `{"events":[{"key":"1","timestamp":3,"segment":0}],` +
		`"segment_anchors":{"0":null,"1":"2024-05-01T08:00:00Z"},` +
		`"tag_registry_version":"pedestrian/v1"}`

	var st State
	require.NoError(t, json.Unmarshal([]byte(raw), &st))
	s, err := Restore(st)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
	assert.Nil(t, s.Anchors().First())
	assert.Len(t, s.Anchors(), 1)
}

func TestRestore_Errors(t *testing.T) {
	t.Parallel()

	_, err := Restore(State{TagRegistryVersion: "bikes/v1"})
	assert.ErrorIs(t, err, ErrUnknownRegistry)

	_, err = Restore(State{
		TagRegistryVersion: PedestrianVersion,
		Events:             []EventRecord{{Key: "1", Timestamp: 1}, {Key: "12", Timestamp: 2}},
	})
	assert.ErrorIs(t, err, ErrInvalidTag)

	_, err = RestoreInto(NewVehicleRegistry(), State{TagRegistryVersion: PedestrianVersion})
	assert.ErrorIs(t, err, ErrRegistryMismatch)

	s, err := RestoreInto(NewPedestrianRegistry(), State{Events: []EventRecord{{Key: "2", Timestamp: 1}}})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestSession_ConcurrentTagging(t *testing.T) {
	t.Parallel()
	s := NewSession(NewPedestrianRegistry())

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			key := string(rune('1' + w))
			for i := 0; i < 100; i++ {
				_, _ = s.Tag(key, float64(i), 0)
				if i%10 == 0 {
					_, _ = s.Intervals(15)
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 800, s.Len())
	if diff := cmp.Diff(CountEvents(s.Events(), s.Registry().Tags()), s.Counts()); diff != "" {
		t.Errorf("counts diverged (-want +got):\n%s", diff)
	}
}
