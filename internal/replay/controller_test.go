package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seawatch/seawatch-go/internal/datastore"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// evenEvents builds n events spaced interval apart, starting at t0.
func evenEvents(n int, interval time.Duration) []datastore.TelemetryEvent {
	events := make([]datastore.TelemetryEvent, n)
	for i := range events {
		events[i] = datastore.TelemetryEvent{
			ID:        uint(i + 1),
			MissionID: "M1",
			VehicleID: "auv-1",
			Timestamp: t0.Add(time.Duration(i) * interval),
		}
	}
	return events
}

func TestStartOnEmptyListIsNoOp(t *testing.T) {
	t.Parallel()
	c := NewController(nil, 1.0)

	c.Start(t0)
	assert.Equal(t, Stopped, c.State())

	res := c.Tick(t0.Add(time.Minute))
	assert.Equal(t, 0, res.Index)
	assert.Nil(t, res.Event)
	assert.False(t, res.Finished)
}

func TestTickMapsElapsedTimeToIndex(t *testing.T) {
	t.Parallel()
	c := NewController(evenEvents(10, time.Minute), 1.0)

	c.Start(t0)

	// Before the second event's offset the index stays at 0.
	res := c.Tick(t0.Add(59 * time.Second))
	assert.Equal(t, 0, res.Index)

	// Nearest event at or before the virtual position.
	res = c.Tick(t0.Add(61 * time.Second))
	assert.Equal(t, 1, res.Index)

	res = c.Tick(t0.Add(5*time.Minute + 30*time.Second))
	assert.Equal(t, 5, res.Index)
}

func TestTickIsIdempotentWithoutTimeAdvance(t *testing.T) {
	t.Parallel()
	c := NewController(evenEvents(10, time.Minute), 1.0)
	c.Start(t0)

	at := t0.Add(3*time.Minute + 10*time.Second)
	first := c.Tick(at)
	second := c.Tick(at)
	assert.Equal(t, first.Index, second.Index)
	assert.Equal(t, first.Playing, second.Playing)
}

func TestSpeedScalesAdvancement(t *testing.T) {
	t.Parallel()
	c := NewController(evenEvents(10, time.Minute), 4.0)
	c.Start(t0)

	// One wall minute at 4x covers four virtual minutes.
	res := c.Tick(t0.Add(time.Minute))
	assert.Equal(t, 4, res.Index)
}

func TestSetSpeedWhilePlayingHasNoJump(t *testing.T) {
	t.Parallel()
	c := NewController(evenEvents(60, time.Minute), 1.0)
	c.Start(t0)

	// Play 10 wall minutes at 1x, virtual position 10m.
	mid := t0.Add(10 * time.Minute)
	res := c.Tick(mid)
	require.Equal(t, 10, res.Index)

	require.NoError(t, c.SetSpeed(2.0, mid))
	res = c.Tick(mid)
	assert.Equal(t, 10, res.Index, "changing speed must not move the position")

	// 5 more wall minutes at 2x adds 10 virtual minutes.
	res = c.Tick(mid.Add(5 * time.Minute))
	assert.Equal(t, 20, res.Index)
}

func TestSetSpeedRejectsNonPositive(t *testing.T) {
	t.Parallel()
	c := NewController(evenEvents(3, time.Minute), 1.0)
	assert.ErrorIs(t, c.SetSpeed(0, t0), ErrInvalidSpeed)
	assert.ErrorIs(t, c.SetSpeed(-1.5, t0), ErrInvalidSpeed)
}

func TestPauseResumeContinuity(t *testing.T) {
	t.Parallel()

	// Continuous reference run from index 20.
	ref := NewController(evenEvents(60, time.Minute), 1.0)
	ref.Start(t0)
	ref.Seek(20, t0)

	// Run with a pause in the middle.
	c := NewController(evenEvents(60, time.Minute), 1.0)
	c.Start(t0)
	c.Seek(20, t0)

	pauseAt := t0.Add(3 * time.Minute)
	c.Pause(pauseAt)

	// Paused ticks do not advance.
	res := c.Tick(pauseAt.Add(time.Hour))
	assert.Equal(t, 23, res.Index)

	// Resume after a one-hour gap; the gap must not count as elapsed.
	resumeAt := pauseAt.Add(time.Hour)
	c.Resume(resumeAt)

	for _, dt := range []time.Duration{time.Minute, 5 * time.Minute, 12 * time.Minute} {
		want := ref.Tick(t0.Add(3*time.Minute + dt)).Index
		got := c.Tick(resumeAt.Add(dt)).Index
		assert.Equal(t, want, got, "pause/resume must match a continuous run (dt=%v)", dt)
	}
}

func TestSeekClampsAndReanchors(t *testing.T) {
	t.Parallel()
	c := NewController(evenEvents(10, time.Minute), 1.0)
	c.Start(t0)

	c.Seek(-5, t0)
	assert.Equal(t, 0, c.Index())

	c.Seek(500, t0)
	assert.Equal(t, 9, c.Index())
	assert.Equal(t, Playing, c.State(), "seek past end must not auto-stop")

	// Natural advancement past the end does stop.
	res := c.Tick(t0.Add(time.Second))
	assert.True(t, res.Finished)
	assert.Equal(t, Stopped, c.State())
}

func TestEndOfSequenceReportedExactlyOnce(t *testing.T) {
	t.Parallel()
	c := NewController(evenEvents(3, time.Second), 1.0)
	c.Start(t0)

	res := c.Tick(t0.Add(time.Minute))
	assert.True(t, res.Finished)
	assert.Equal(t, 2, res.Index, "playback parks on the last index")

	res = c.Tick(t0.Add(2 * time.Minute))
	assert.False(t, res.Finished, "end of sequence is reported once, not per tick")
	assert.False(t, res.Playing)
}

func TestSingleEventReachesEndImmediately(t *testing.T) {
	t.Parallel()
	c := NewController(evenEvents(1, time.Minute), 1.0)
	c.Start(t0)

	res := c.Tick(t0.Add(time.Millisecond))
	assert.True(t, res.Finished)
	assert.Equal(t, 0, res.Index)
}

func TestStopResetsPosition(t *testing.T) {
	t.Parallel()
	c := NewController(evenEvents(10, time.Minute), 1.0)
	c.Start(t0)
	c.Tick(t0.Add(5 * time.Minute))
	require.Equal(t, 5, c.Index())

	c.Stop()
	assert.Equal(t, 0, c.Index())
	assert.Equal(t, Stopped, c.State())
}

func TestIndexMonotonicWhilePlaying(t *testing.T) {
	t.Parallel()
	c := NewController(evenEvents(30, 7*time.Second), 1.3)
	c.Start(t0)

	prev := 0
	for i := 1; i <= 200; i++ {
		res := c.Tick(t0.Add(time.Duration(i) * time.Second))
		assert.GreaterOrEqual(t, res.Index, prev, "index must be non-decreasing while playing")
		prev = res.Index
		if !res.Playing {
			break
		}
	}
}

func TestFilteringHidesEventsWithoutDesyncingTime(t *testing.T) {
	t.Parallel()
	events := evenEvents(10, time.Minute)
	events[4].Detections = []datastore.Detection{{ScientificName: "Orcinus orca", Confidence: 0.9}}

	c := NewController(events, 1.0)
	c.SetFilters([]string{datastore.CategoryDetection})
	c.Start(t0)

	// Index 2 carries no detection: hidden, but the index still advances.
	res := c.Tick(t0.Add(2 * time.Minute))
	assert.Equal(t, 2, res.Index)
	assert.Nil(t, res.Event)

	res = c.Tick(t0.Add(4 * time.Minute))
	assert.Equal(t, 4, res.Index)
	require.NotNil(t, res.Event)
	assert.Equal(t, "Orcinus orca", res.Event.Detections[0].ScientificName)

	// Clearing filters exposes everything again.
	c.SetFilters(nil)
	res = c.Tick(t0.Add(4 * time.Minute))
	require.NotNil(t, res.Event)
}

// Mirrors a mission of 60 events over one simulated hour with a detection at
// index 55: at 4x speed the detection must be reached after roughly
// (55/60)*3600/4 seconds of wall time.
func TestHourLongMissionAtQuadSpeed(t *testing.T) {
	t.Parallel()
	events := evenEvents(60, time.Minute)
	for _, idx := range []int{15, 35, 55} {
		events[idx].Detections = []datastore.Detection{{ScientificName: "Phocoena phocoena", Confidence: 0.8}}
	}

	c := NewController(events, 1.0)
	require.NoError(t, c.SetSpeed(4.0, t0))
	c.Start(t0)

	const tick = time.Second
	var reachedAt time.Duration = -1
	for elapsed := time.Duration(0); elapsed < time.Hour; elapsed += tick {
		res := c.Tick(t0.Add(elapsed))
		if res.Index >= 55 {
			reachedAt = elapsed
			break
		}
	}

	require.NotEqual(t, time.Duration(-1), reachedAt, "detection at index 55 never reached")
	expected := 825 * time.Second // (55/60)*3600/4
	assert.InDelta(t, expected.Seconds(), reachedAt.Seconds(), tick.Seconds(),
		"index 55 must be reached within one tick of the expected wall time")
}
