// Package replay implements the timer-driven playback engine that walks
// a frozen timeline of collaboration events at a configurable speed.
//
// All emission delays are computed against a fixed (wall-clock,
// event-time) anchor pair, so scheduling drift never accumulates across
// a run segment. Every state transition bumps a generation counter;
// a timer firing with a stale generation is ignored.
package replay

import (
	"sort"
	"sync"
	"time"

	"github.com/agentops/netview/internal/event"
)

// Status is the playback state machine position.
type Status int

const (
	Stopped Status = iota
	Playing
	Paused
)

func (s Status) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Speed multiplier bounds. Values outside are clamped, keeping timer
// granularity meaningful at the top end.
const (
	MinSpeed = 1.0
	MaxSpeed = 50.0
)

// Progress is the scrubber tuple reported to the presentation layer.
type Progress struct {
	CursorIndex int
	TotalEvents int
	Elapsed     time.Duration // event time from timeline start to the playhead
	Total       time.Duration // event time spanned by the whole timeline
}

// Timeline is an immutable, timestamp-sorted snapshot of events. The
// position mapping places event markers on a 0-100 scrubber track and
// interprets scrubber clicks.
type Timeline []event.Event

// Start returns the first event's timestamp, or zero for an empty timeline.
func (t Timeline) Start() time.Time {
	if len(t) == 0 {
		return time.Time{}
	}
	return t[0].Timestamp
}

// End returns the last event's timestamp, or zero for an empty timeline.
func (t Timeline) End() time.Time {
	if len(t) == 0 {
		return time.Time{}
	}
	return t[len(t)-1].Timestamp
}

// Duration is the event time spanned by the timeline.
func (t Timeline) Duration() time.Duration {
	return t.End().Sub(t.Start())
}

// TimeAt maps a scrubber position in [0,100] onto an event timestamp.
// Positions outside the range clamp.
func (t Timeline) TimeAt(positionPercent float64) time.Time {
	positionPercent = clampPercent(positionPercent)
	return t.Start().Add(time.Duration(positionPercent / 100 * float64(t.Duration())))
}

// PositionOf maps an event timestamp onto a scrubber position in
// [0,100]. A zero-duration timeline maps everything to 0.
func (t Timeline) PositionOf(ts time.Time) float64 {
	d := t.Duration()
	if d <= 0 {
		return 0
	}
	return clampPercent(float64(ts.Sub(t.Start())) / float64(d) * 100)
}

// IndexAt returns the index of the first event at or after the
// timestamp implied by a scrubber position. A pure function of the
// position and the timeline: seeking twice to the same position always
// lands on the same index.
func (t Timeline) IndexAt(positionPercent float64) int {
	target := t.TimeAt(positionPercent)
	return sort.Search(len(t), func(i int) bool {
		return !t[i].Timestamp.Before(target)
	})
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Clock schedules emission of a frozen timeline's events at scaled
// inter-event intervals.
type Clock struct {
	mu       sync.Mutex
	timeline Timeline
	status   Status
	speed    float64
	cursor   int // next event not yet emitted

	// Anchor pair for the current run segment. Delays are computed as
	// (event time - anchorEvent)/speed relative to anchorWall, never
	// relative to the previous fire.
	anchorWall  time.Time
	anchorEvent time.Time

	gen   uint64 // bumped on every transition; stale timers check it
	timer *time.Timer

	onEmit   func(event.Event)
	onClear  func()
	onReseek func(replayed []event.Event)
	onDone   func()
}

// NewClock creates a stopped clock over the given frozen timeline at
// speed 1. The timeline must already be timestamp-sorted (store
// snapshots are).
func NewClock(timeline Timeline) *Clock {
	return &Clock{
		timeline: timeline,
		speed:    1,
	}
}

// OnEmit sets the handler invoked for each event as its scheduled time
// arrives.
func (c *Clock) OnEmit(fn func(event.Event)) {
	c.mu.Lock()
	c.onEmit = fn
	c.mu.Unlock()
}

// OnClear sets the handler invoked when Stop discards all previously
// emitted replay events.
func (c *Clock) OnClear(fn func()) {
	c.mu.Lock()
	c.onClear = fn
	c.mu.Unlock()
}

// OnReseek sets the handler invoked after a seek with the events before
// the new cursor, which the presentation layer should treat as already
// happened.
func (c *Clock) OnReseek(fn func(replayed []event.Event)) {
	c.mu.Lock()
	c.onReseek = fn
	c.mu.Unlock()
}

// OnDone sets the handler invoked once when the cursor reaches the end
// of the timeline.
func (c *Clock) OnDone(fn func()) {
	c.mu.Lock()
	c.onDone = fn
	c.mu.Unlock()
}

// Status returns the current playback status.
func (c *Clock) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Speed returns the current speed multiplier.
func (c *Clock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// Timeline returns the frozen timeline this clock walks.
func (c *Clock) Timeline() Timeline {
	return c.timeline
}

// Play starts from the cursor (the first event when stopped fresh) or
// resumes a paused run. A no-op on an empty timeline or while already
// playing.
func (c *Clock) Play() {
	c.mu.Lock()
	if len(c.timeline) == 0 || c.status == Playing || c.cursor >= len(c.timeline) {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.status = Playing
	c.anchorWall = time.Now()
	c.anchorEvent = c.timeline[c.cursor].Timestamp
	c.scheduleLocked()
	c.mu.Unlock()
}

// Pause cancels the pending emission. Valid only while playing; the
// cursor stays at the next unemitted event. Resume re-anchors at that
// event's timestamp, so it fires immediately rather than re-waiting
// its original gap.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != Playing {
		return
	}
	c.gen++
	c.cancelTimerLocked()
	c.status = Paused
}

// Stop cancels any pending emission from any state, resets the cursor,
// and tells the presentation layer to clear emitted replay events.
func (c *Clock) Stop() {
	c.mu.Lock()
	c.gen++
	c.cancelTimerLocked()
	c.status = Stopped
	c.cursor = 0
	clear := c.onClear
	c.mu.Unlock()

	if clear != nil {
		clear()
	}
}

// Seek moves the cursor to the first event at or after the timestamp
// implied by positionPercent (clamped to [0,100]). Events before the
// cursor are handed to the reseek handler as already happened. If
// playing, the run re-anchors at the target time and reschedules.
func (c *Clock) Seek(positionPercent float64) {
	c.mu.Lock()
	if len(c.timeline) == 0 {
		c.mu.Unlock()
		return
	}
	positionPercent = clampPercent(positionPercent)
	target := c.timeline.TimeAt(positionPercent)
	c.gen++
	c.cancelTimerLocked()
	c.cursor = c.timeline.IndexAt(positionPercent)

	replayed := make([]event.Event, c.cursor)
	copy(replayed, c.timeline[:c.cursor])

	if c.status == Playing {
		if c.cursor >= len(c.timeline) {
			c.status = Stopped
		} else {
			c.anchorWall = time.Now()
			c.anchorEvent = target
			c.scheduleLocked()
		}
	}
	reseek := c.onReseek
	c.mu.Unlock()

	if reseek != nil {
		reseek(replayed)
	}
}

// SetSpeed updates the multiplier, clamped to [MinSpeed, MaxSpeed]. If
// playing, the run re-anchors at the event time implied by progress so
// far, so the playhead does not jump, and the pending emission is
// rescheduled under the new multiplier.
func (c *Clock) SetSpeed(multiplier float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if multiplier < MinSpeed {
		multiplier = MinSpeed
	} else if multiplier > MaxSpeed {
		multiplier = MaxSpeed
	}
	if c.status != Playing {
		c.speed = multiplier
		return
	}

	now := time.Now()
	implied := c.anchorEvent.Add(time.Duration(float64(now.Sub(c.anchorWall)) * c.speed))
	c.gen++
	c.cancelTimerLocked()
	c.speed = multiplier
	c.anchorWall = now
	c.anchorEvent = implied
	c.scheduleLocked()
}

// Progress reports the scrubber tuple. While playing, the playhead is
// the event time implied by the anchors and elapsed wall clock; while
// paused or stopped it sits at the cursor's event.
func (c *Clock) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := Progress{
		CursorIndex: c.cursor,
		TotalEvents: len(c.timeline),
		Total:       c.timeline.Duration(),
	}
	if len(c.timeline) == 0 {
		return p
	}

	switch c.status {
	case Playing:
		implied := time.Duration(float64(time.Since(c.anchorWall))*c.speed) + c.anchorEvent.Sub(c.timeline.Start())
		if implied > p.Total {
			implied = p.Total
		}
		p.Elapsed = implied
	default:
		if c.cursor >= len(c.timeline) {
			p.Elapsed = p.Total
		} else {
			p.Elapsed = c.timeline[c.cursor].Timestamp.Sub(c.timeline.Start())
		}
	}
	if p.Elapsed < 0 {
		p.Elapsed = 0
	}
	return p
}

// scheduleLocked arms a one-shot timer for the cursor's event. Caller
// holds the lock; cursor is in range and status is Playing.
func (c *Clock) scheduleLocked() {
	next := c.timeline[c.cursor]
	delay := time.Duration(float64(next.Timestamp.Sub(c.anchorEvent)) / c.speed)
	if delay < 0 {
		delay = 0
	}
	gen := c.gen
	c.timer = time.AfterFunc(delay, func() {
		c.fire(gen)
	})
}

// fire emits the cursor's event if the generation still matches, then
// arms the successor's timer against the same anchors. The emission
// completes before the next timer exists: with a zero delay (tied
// timestamps, or high speed shrinking gaps below timer granularity) an
// already-armed successor could deliver first and invert the order the
// sink observes.
func (c *Clock) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.status != Playing || c.cursor >= len(c.timeline) {
		c.mu.Unlock()
		return
	}
	e := c.timeline[c.cursor]
	c.cursor++
	emit := c.onEmit
	c.mu.Unlock()

	if emit != nil {
		emit(e)
	}

	c.mu.Lock()
	// A transition during the emission (pause, stop, seek, speed
	// change) owns the schedule now.
	if gen != c.gen || c.status != Playing {
		c.mu.Unlock()
		return
	}
	var done func()
	if c.cursor < len(c.timeline) {
		// Same anchor pair, so delays never compound drift.
		c.scheduleLocked()
	} else {
		c.timer = nil
		c.status = Stopped
		done = c.onDone
	}
	c.mu.Unlock()

	if done != nil {
		done()
	}
}

func (c *Clock) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
