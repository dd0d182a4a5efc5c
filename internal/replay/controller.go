// Package replay implements mission playback: a deterministic mapping from
// scaled wall-clock time to an index into a mission's stored event sequence,
// with transport-style controls.
//
// The controller runs no timer of its own. Every operation takes the
// caller's notion of "now", so the host drives advancement and tests never
// need a real clock.
package replay

import (
	"sort"
	"time"

	"github.com/seawatch/seawatch-go/internal/datastore"
	"github.com/seawatch/seawatch-go/internal/errors"
)

// State is the playback state of a controller.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// ErrInvalidSpeed is returned when a non-positive speed multiplier is set.
var ErrInvalidSpeed = errors.Newf("speed multiplier must be greater than zero").
	Component("replay").
	Category(errors.CategoryValidation).
	Build()

// Controller maps elapsed, speed-scaled wall time onto a mission's ordered
// event list. It is not safe for concurrent use; Session serializes access.
type Controller struct {
	events  []datastore.TelemetryEvent
	offsets []time.Duration // event times relative to the first event

	state State
	index int
	speed float64

	anchor       time.Time     // wall-clock instant the current play leg started
	anchorOffset time.Duration // virtual position at the anchor

	filters     map[string]bool // empty means expose everything
	endReported bool
}

// NewController creates a controller over a mission's event sequence. The
// events must already be in timestamp order; the store guarantees that.
func NewController(events []datastore.TelemetryEvent, speed float64) *Controller {
	if speed <= 0 {
		speed = 1.0
	}
	c := &Controller{
		events:  events,
		speed:   speed,
		filters: make(map[string]bool),
	}
	if len(events) > 0 {
		c.offsets = make([]time.Duration, len(events))
		first := events[0].Timestamp
		for i := range events {
			c.offsets[i] = events[i].Timestamp.Sub(first)
		}
	}
	return c
}

// State returns the current playback state.
func (c *Controller) State() State { return c.state }

// Index returns the current event index.
func (c *Controller) Index() int { return c.index }

// Speed returns the current speed multiplier.
func (c *Controller) Speed() float64 { return c.speed }

// Len returns the number of events under playback.
func (c *Controller) Len() int { return len(c.events) }

// Start begins playback from index 0. On an empty event list it is a no-op
// and the controller stays Stopped.
func (c *Controller) Start(now time.Time) {
	if len(c.events) == 0 {
		return
	}
	c.state = Playing
	c.index = 0
	c.anchor = now
	c.anchorOffset = 0
	c.endReported = false
}

// Pause freezes the position at its current computed value.
func (c *Controller) Pause(now time.Time) {
	if c.state != Playing {
		return
	}
	c.anchorOffset = c.virtualPosition(now)
	c.index = c.indexAt(c.anchorOffset)
	c.state = Paused
}

// Resume re-anchors the wall clock so elapsed time continues from the
// frozen position rather than restarting.
func (c *Controller) Resume(now time.Time) {
	if c.state != Paused {
		return
	}
	c.anchor = now
	c.state = Playing
}

// Stop resets the position to 0 and discards the anchor.
func (c *Controller) Stop() {
	c.state = Stopped
	c.index = 0
	c.anchor = time.Time{}
	c.anchorOffset = 0
	c.endReported = false
}

// Seek moves to the given index, clamped to the valid range. While Playing
// the anchor is reset so playback continues forward from the new index.
// Seeking past the end clamps to the last index and does not auto-stop.
func (c *Controller) Seek(index int, now time.Time) {
	if len(c.events) == 0 {
		return
	}
	if index < 0 {
		index = 0
	}
	if index > len(c.events)-1 {
		index = len(c.events) - 1
	}
	c.index = index
	c.anchorOffset = c.offsets[index]
	c.anchor = now
	c.endReported = false
}

// SetSpeed changes the speed multiplier. While Playing the anchor is reset
// from the current computed position so no discontinuity occurs.
func (c *Controller) SetSpeed(multiplier float64, now time.Time) error {
	if multiplier <= 0 {
		return ErrInvalidSpeed
	}
	if c.state == Playing {
		c.anchorOffset = c.virtualPosition(now)
		c.index = c.indexAt(c.anchorOffset)
		c.anchor = now
	}
	c.speed = multiplier
	return nil
}

// SetFilters replaces the active category filter set. An empty set exposes
// every event. Filtering affects only what CurrentEvent returns; the index
// always advances over the full list so playback time stays aligned with
// wall time.
func (c *Controller) SetFilters(categories []string) {
	c.filters = make(map[string]bool, len(categories))
	for _, cat := range categories {
		c.filters[cat] = true
	}
}

// Filters returns the active filter categories.
func (c *Controller) Filters() []string {
	out := make([]string, 0, len(c.filters))
	for cat := range c.filters {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// TickResult describes the playback position after a tick.
type TickResult struct {
	Index    int
	Event    *datastore.TelemetryEvent // nil when filtered out or list empty
	Playing  bool
	Finished bool // true exactly once, when playback reaches the end
}

// Tick recomputes the position for the given instant. Repeated ticks with
// no time advance are idempotent. When the virtual position passes the last
// event the controller transitions to Stopped, parked on the last index,
// and Finished is reported exactly once.
func (c *Controller) Tick(now time.Time) TickResult {
	if c.state != Playing {
		return c.result(false)
	}

	v := c.virtualPosition(now)
	last := len(c.events) - 1
	if v > c.offsets[last] {
		c.index = last
		c.state = Stopped
		finished := !c.endReported
		c.endReported = true
		return c.result(finished)
	}

	c.index = c.indexAt(v)
	return c.result(false)
}

// CurrentEvent returns the event at the current index, or nil when the
// active filters hide it.
func (c *Controller) CurrentEvent() *datastore.TelemetryEvent {
	if len(c.events) == 0 {
		return nil
	}
	ev := &c.events[c.index]
	if !c.exposed(ev) {
		return nil
	}
	return ev
}

// EventAt returns the event at the given index, or nil when the index is
// out of range or the active filters hide the event.
func (c *Controller) EventAt(i int) *datastore.TelemetryEvent {
	if i < 0 || i >= len(c.events) {
		return nil
	}
	ev := &c.events[i]
	if !c.exposed(ev) {
		return nil
	}
	return ev
}

func (c *Controller) exposed(ev *datastore.TelemetryEvent) bool {
	if len(c.filters) == 0 {
		return true
	}
	for cat := range c.filters {
		if ev.HasCategory(cat) {
			return true
		}
	}
	return false
}

func (c *Controller) result(finished bool) TickResult {
	return TickResult{
		Index:    c.index,
		Event:    c.CurrentEvent(),
		Playing:  c.state == Playing,
		Finished: finished,
	}
}

// virtualPosition returns the speed-scaled virtual offset for the instant.
func (c *Controller) virtualPosition(now time.Time) time.Duration {
	elapsed := now.Sub(c.anchor)
	if elapsed < 0 {
		elapsed = 0
	}
	return c.anchorOffset + time.Duration(float64(elapsed)*c.speed)
}

// indexAt returns the index of the nearest event at or before the virtual
// offset. O(log n).
func (c *Controller) indexAt(v time.Duration) int {
	// First offset past v; the event before it is current.
	i := sort.Search(len(c.offsets), func(i int) bool { return c.offsets[i] > v })
	if i == 0 {
		return 0
	}
	return i - 1
}
