package replay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seawatch/seawatch-go/internal/datastore"
)

// memSource is an in-memory EventSource keyed by mission id.
type memSource struct {
	mu     sync.Mutex
	byMiss map[string][]datastore.TelemetryEvent
	err    error
}

func (m *memSource) GetMissionEvents(missionID string) ([]datastore.TelemetryEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.byMiss[missionID], nil
}

// fakeClock is a manually advanced clock for driving Manager.Tick.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestManager(t *testing.T, events []datastore.TelemetryEvent) (*Manager, *fakeClock) {
	t.Helper()
	source := &memSource{byMiss: map[string][]datastore.TelemetryEvent{"M1": events}}
	clock := &fakeClock{now: t0}
	m := NewManager(source, 1.0, nil)
	m.SetClock(clock.Now)
	return m, clock
}

func TestOpenAndCloseSession(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, evenEvents(5, time.Minute))

	state, err := m.Open("M1")
	require.NoError(t, err)
	assert.NotEmpty(t, state.SessionID)
	assert.Equal(t, "M1", state.MissionID)
	assert.Equal(t, "stopped", state.State)
	assert.Equal(t, 5, state.EventCount)
	assert.Equal(t, 1, m.SessionCount())

	require.NoError(t, m.Close(state.SessionID))
	assert.Equal(t, 0, m.SessionCount())

	assert.ErrorIs(t, m.Close(state.SessionID), ErrSessionNotFound)
}

func TestOpenPropagatesSourceError(t *testing.T) {
	t.Parallel()
	source := &memSource{err: assert.AnError}
	m := NewManager(source, 1.0, nil)

	_, err := m.Open("M1")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, evenEvents(5, time.Minute))

	_, err := m.Start("no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.State("no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPlaybackThroughManager(t *testing.T) {
	t.Parallel()
	m, clock := newTestManager(t, evenEvents(10, time.Minute))

	opened, err := m.Open("M1")
	require.NoError(t, err)
	id := opened.SessionID

	state, err := m.Start(id)
	require.NoError(t, err)
	assert.True(t, state.Playing)
	assert.Equal(t, 0, state.PositionIndex)

	clock.Advance(3*time.Minute + 30*time.Second)
	state, err = m.State(id)
	require.NoError(t, err)
	assert.Equal(t, 3, state.PositionIndex)
	require.NotNil(t, state.Event)
	assert.EqualValues(t, 4, state.Event.ID)

	// Pause, advance, verify frozen.
	_, err = m.Pause(id)
	require.NoError(t, err)
	clock.Advance(time.Hour)
	state, err = m.State(id)
	require.NoError(t, err)
	assert.Equal(t, 3, state.PositionIndex)
	assert.Equal(t, "paused", state.State)

	// Resume continues from the frozen position.
	_, err = m.Resume(id)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	state, err = m.State(id)
	require.NoError(t, err)
	assert.Equal(t, 5, state.PositionIndex)
	assert.True(t, state.Playing)
}

func TestSeekAndSpeedThroughManager(t *testing.T) {
	t.Parallel()
	m, clock := newTestManager(t, evenEvents(60, time.Minute))

	opened, err := m.Open("M1")
	require.NoError(t, err)
	id := opened.SessionID

	_, err = m.Start(id)
	require.NoError(t, err)

	state, err := m.Seek(id, 30)
	require.NoError(t, err)
	assert.Equal(t, 30, state.PositionIndex)

	state, err = m.SetSpeed(id, 4.0)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, state.Speed, 1e-9)

	_, err = m.SetSpeed(id, 0)
	assert.ErrorIs(t, err, ErrInvalidSpeed)

	clock.Advance(time.Minute)
	state, err = m.State(id)
	require.NoError(t, err)
	assert.Equal(t, 34, state.PositionIndex, "one wall minute at 4x advances four events")
}

func TestFiltersThroughManager(t *testing.T) {
	t.Parallel()
	events := evenEvents(5, time.Minute)
	events[2].Violations = []datastore.Violation{{Kind: "zone_breach", Zone: "restricted-a"}}
	m, clock := newTestManager(t, events)

	opened, err := m.Open("M1")
	require.NoError(t, err)
	id := opened.SessionID

	state, err := m.SetFilters(id, []string{datastore.CategoryViolation})
	require.NoError(t, err)
	assert.Equal(t, []string{datastore.CategoryViolation}, state.Filters)

	_, err = m.Start(id)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	state, err = m.State(id)
	require.NoError(t, err)
	assert.Equal(t, 1, state.PositionIndex)
	assert.Nil(t, state.Event, "filtered-out events are hidden, not skipped")

	clock.Advance(time.Minute)
	state, err = m.State(id)
	require.NoError(t, err)
	assert.Equal(t, 2, state.PositionIndex)
	require.NotNil(t, state.Event)
	assert.Equal(t, "zone_breach", state.Event.Violations[0].Kind)
}

func TestPlaybackEndThroughManager(t *testing.T) {
	t.Parallel()
	m, clock := newTestManager(t, evenEvents(3, time.Second))

	opened, err := m.Open("M1")
	require.NoError(t, err)
	id := opened.SessionID

	_, err = m.Start(id)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	state, err := m.State(id)
	require.NoError(t, err)
	assert.True(t, state.Finished)
	assert.Equal(t, "stopped", state.State)
	assert.Equal(t, 2, state.PositionIndex)

	// A second poll does not re-report the end.
	state, err = m.State(id)
	require.NoError(t, err)
	assert.False(t, state.Finished)
}

func TestMissionDeletionInvalidatesPlayingSession(t *testing.T) {
	t.Parallel()
	m, clock := newTestManager(t, evenEvents(10, time.Minute))

	opened, err := m.Open("M1")
	require.NoError(t, err)
	id := opened.SessionID

	_, err = m.Start(id)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	m.InvalidateMission("M1")

	_, err = m.State(id)
	assert.ErrorIs(t, err, ErrSessionInvalid)
	_, err = m.Pause(id)
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestInvalidateMissionLeavesOtherSessionsAlone(t *testing.T) {
	t.Parallel()
	source := &memSource{byMiss: map[string][]datastore.TelemetryEvent{
		"M1": evenEvents(3, time.Minute),
		"M2": evenEvents(3, time.Minute),
	}}
	m := NewManager(source, 1.0, nil)
	clock := &fakeClock{now: t0}
	m.SetClock(clock.Now)

	s1, err := m.Open("M1")
	require.NoError(t, err)
	s2, err := m.Open("M2")
	require.NoError(t, err)

	m.InvalidateMission("M1")

	_, err = m.State(s1.SessionID)
	assert.ErrorIs(t, err, ErrSessionInvalid)
	_, err = m.State(s2.SessionID)
	assert.NoError(t, err)
}

func TestEvictIdleSessions(t *testing.T) {
	t.Parallel()
	m, clock := newTestManager(t, evenEvents(5, time.Minute))

	stale, err := m.Open("M1")
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)

	active, err := m.Open("M1")
	require.NoError(t, err)
	_, err = m.Start(active.SessionID)
	require.NoError(t, err)

	evicted := m.EvictIdle(15 * time.Minute)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, m.SessionCount())

	_, err = m.State(stale.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.State(active.SessionID)
	assert.NoError(t, err)
}

func TestPlaybackReportsPassedEventsToObserver(t *testing.T) {
	t.Parallel()
	events := evenEvents(5, time.Minute)
	events[2].Detections = []datastore.Detection{{ScientificName: "Orcinus orca", Confidence: 0.9}}
	m, clock := newTestManager(t, events)

	var mu sync.Mutex
	var seen []uint
	m.SetObserver(func(ev *datastore.TelemetryEvent) {
		mu.Lock()
		seen = append(seen, ev.ID)
		mu.Unlock()
	})

	opened, err := m.Open("M1")
	require.NoError(t, err)
	id := opened.SessionID

	_, err = m.Start(id)
	require.NoError(t, err)

	// Jump past the detection in one tick; every passed event is reported
	// in order, the detection included.
	clock.Advance(3 * time.Minute)
	_, err = m.Tick(id)
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []uint{1, 2, 3, 4}, seen)
	mu.Unlock()

	// A tick with no advance reports nothing new.
	_, err = m.Tick(id)
	require.NoError(t, err)
	mu.Lock()
	assert.Len(t, seen, 4)
	mu.Unlock()

	// Running to the end reports the remaining event exactly once.
	clock.Advance(10 * time.Minute)
	_, err = m.Tick(id)
	require.NoError(t, err)
	_, err = m.Tick(id)
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, []uint{1, 2, 3, 4, 5}, seen)
	mu.Unlock()
}

func TestSeekDoesNotReplaySkippedEventsToObserver(t *testing.T) {
	t.Parallel()
	m, clock := newTestManager(t, evenEvents(10, time.Minute))

	var mu sync.Mutex
	var seen []uint
	m.SetObserver(func(ev *datastore.TelemetryEvent) {
		mu.Lock()
		seen = append(seen, ev.ID)
		mu.Unlock()
	})

	opened, err := m.Open("M1")
	require.NoError(t, err)
	id := opened.SessionID

	_, err = m.Start(id)
	require.NoError(t, err)
	_, err = m.Seek(id, 6)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = m.Tick(id)
	require.NoError(t, err)

	// Only the landing event and the one reached afterwards; nothing from
	// the jumped-over range.
	mu.Lock()
	assert.Equal(t, []uint{7, 8}, seen)
	mu.Unlock()
}

func TestObserverHonorsSessionFilters(t *testing.T) {
	t.Parallel()
	events := evenEvents(4, time.Minute)
	events[1].Violations = []datastore.Violation{{Kind: "zone_breach", Zone: "restricted-a"}}
	m, clock := newTestManager(t, events)

	var mu sync.Mutex
	var seen []uint
	m.SetObserver(func(ev *datastore.TelemetryEvent) {
		mu.Lock()
		seen = append(seen, ev.ID)
		mu.Unlock()
	})

	opened, err := m.Open("M1")
	require.NoError(t, err)
	id := opened.SessionID

	_, err = m.SetFilters(id, []string{datastore.CategoryViolation})
	require.NoError(t, err)
	_, err = m.Start(id)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	_, err = m.Tick(id)
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []uint{2}, seen, "only the violation-bearing event is exposed")
	mu.Unlock()
}
