// Package coordinator owns the Live/Replay mode state machine and
// routes engine output to the presentation layer.
//
// In Live mode every store append raised by the stream is forwarded
// immediately. Entering Replay freezes the store into an immutable
// timeline for a replay clock; the stream keeps buffering into the
// store in the background, but its notifications are suppressed until
// mode returns to Live, at which point the presentation is
// resynchronized to the current store contents in one shot.
package coordinator

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentops/netview/internal/event"
	"github.com/agentops/netview/internal/replay"
	"github.com/agentops/netview/internal/store"
)

// Mode selects which producer drives the visible event feed.
type Mode int

const (
	Live Mode = iota
	Replay
)

func (m Mode) String() string {
	switch m {
	case Live:
		return "live"
	case Replay:
		return "replay"
	default:
		return "unknown"
	}
}

// Sink is the presentation layer's view of the engine. Implementations
// must be safe to call from timer and stream goroutines.
type Sink interface {
	// LiveEvent reports one newly appended event while in Live mode.
	LiveEvent(e event.Event)
	// ReplayEvent reports one event emitted on the replay schedule.
	ReplayEvent(e event.Event)
	// ReplaySkipped reports, after a seek, the events before the new
	// cursor; they should be shown as already happened.
	ReplaySkipped(events []event.Event)
	// ReplayCleared tells the presentation to drop all previously
	// emitted replay events.
	ReplayCleared()
	// Resync replaces the presentation state with the full current
	// feed in one shot, on return to Live mode.
	Resync(events []event.Event)
}

// Coordinator is the top-level engine state machine.
type Coordinator struct {
	store *store.Store
	sink  Sink
	log   zerolog.Logger

	mu    sync.Mutex
	mode  Mode
	clock *replay.Clock
}

// New creates a coordinator in Live mode.
func New(s *store.Store, sink Sink, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store: s,
		sink:  sink,
		log:   logger.With().Str("component", "coordinator").Logger(),
	}
}

// Mode returns the current mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Clock returns the active replay clock, or nil in Live mode.
func (c *Coordinator) Clock() *replay.Clock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock
}

// HandleLiveEvent is wired as the live channel's event handler. Outside
// Live mode the event is already buffered in the store and surfaces
// later via Resync, so it is suppressed here.
func (c *Coordinator) HandleLiveEvent(e event.Event) {
	c.mu.Lock()
	suppressed := c.mode != Live
	c.mu.Unlock()
	if suppressed {
		return
	}
	c.sink.LiveEvent(e)
}

// EnterReplay snapshots the current store contents into a frozen
// timeline and hands it to a fresh stopped clock. Re-entering while
// already in Replay (a time-range change) stops the old session and
// re-snapshots. The store pins the timeline's range so eviction cannot
// invalidate the session. Returns the new clock.
func (c *Coordinator) EnterReplay() *replay.Clock {
	c.mu.Lock()
	old := c.clock
	c.mu.Unlock()

	// Cancel any pending timer before the timeline is replaced.
	if old != nil {
		old.Stop()
	}
	c.store.Unpin()

	timeline := replay.Timeline(c.store.Snapshot())
	if len(timeline) > 0 {
		c.store.Pin(timeline.Start())
	}

	clock := replay.NewClock(timeline)
	clock.OnEmit(c.sink.ReplayEvent)
	clock.OnClear(c.sink.ReplayCleared)
	clock.OnReseek(c.sink.ReplaySkipped)

	c.mu.Lock()
	c.mode = Replay
	c.clock = clock
	c.mu.Unlock()

	c.log.Info().Int("timeline_events", len(timeline)).Msg("entered replay mode")
	return clock
}

// ExitReplay discards the playback session, releases the eviction pin,
// and resynchronizes the presentation to the current store contents,
// including anything the stream buffered while replay was active, in
// one shot. A no-op when already in Live mode.
func (c *Coordinator) ExitReplay() {
	c.mu.Lock()
	if c.mode != Replay {
		c.mu.Unlock()
		return
	}
	clock := c.clock
	c.clock = nil
	c.mode = Live
	c.mu.Unlock()

	if clock != nil {
		clock.Stop()
	}
	c.store.Unpin()
	c.sink.Resync(c.store.Snapshot())
	c.log.Info().Msg("returned to live mode")
}
