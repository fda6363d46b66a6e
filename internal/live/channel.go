// Package live manages the streaming websocket connection that feeds
// collaboration events into the store as they happen.
package live

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentops/netview/internal/event"
	"github.com/agentops/netview/internal/store"
)

// State tracks the stream connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Reconnect policy defaults. A connection held longer than the grace
// period resets the backoff, so a flappy link does not inflate it
// permanently.
const (
	DefaultBackoffBase  = time.Second
	DefaultBackoffCap   = 30 * time.Second
	DefaultBackoffGrace = 10 * time.Second
	DefaultDialTimeout  = 10 * time.Second
)

// Options configures a Channel. URL and Store are required; zero
// durations take the package defaults.
type Options struct {
	URL          string
	Store        *store.Store
	Logger       zerolog.Logger
	DialTimeout  time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	BackoffGrace time.Duration
}

// Channel owns one streaming connection. Every successfully parsed
// frame is inserted into the store; inserts that actually add an event
// are reported to the OnEvent handler (the coordinator suppresses them
// outside Live mode). Disconnection never clears the store.
type Channel struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	onEvent func(event.Event)
	onState func(State)
	done    chan struct{}
	started bool
}

// New creates a channel; Connect starts it.
func New(opts Options) *Channel {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = DefaultBackoffCap
	}
	if opts.BackoffGrace <= 0 {
		opts.BackoffGrace = DefaultBackoffGrace
	}
	return &Channel{
		opts: opts,
		log:  opts.Logger.With().Str("component", "live").Logger(),
		done: make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnEvent sets the handler raised for each event the stream actually
// added to the store.
func (c *Channel) OnEvent(fn func(event.Event)) {
	c.mu.Lock()
	c.onEvent = fn
	c.mu.Unlock()
}

// OnStateChange sets the handler raised on connection state changes.
func (c *Channel) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	cb := c.onState
	c.mu.Unlock()
	if changed && cb != nil {
		cb(s)
	}
}

// Connect starts the connect/read/reconnect loop in the background.
// Calling it twice is a no-op.
func (c *Channel) Connect() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.run()
}

// Close tears down the connection and stops reconnecting.
func (c *Channel) Close() {
	c.mu.Lock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
	c.setState(StateDisconnected)
}

// run dials, reads until disconnect, and retries with exponential
// backoff until Close.
func (c *Channel) run() {
	backoff := c.opts.BackoffBase
	for {
		select {
		case <-c.done:
			return
		default:
		}

		connID := uuid.NewString()[:8]
		c.setState(StateConnecting)

		dialer := websocket.Dialer{HandshakeTimeout: c.opts.DialTimeout}
		conn, _, err := dialer.Dial(c.opts.URL, nil)
		if err != nil {
			c.log.Warn().Str("conn", connID).Err(err).
				Dur("retry_in", backoff).Msg("stream dial failed")
			c.setState(StateDisconnected)
			if !c.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.opts.BackoffCap)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected)
		c.log.Info().Str("conn", connID).Str("url", c.opts.URL).Msg("stream connected")

		held := c.readFrames(conn, connID)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
		c.setState(StateDisconnected)

		select {
		case <-c.done:
			return
		default:
		}

		if held >= c.opts.BackoffGrace {
			backoff = c.opts.BackoffBase
		}
		c.log.Warn().Str("conn", connID).Dur("held", held).
			Dur("retry_in", backoff).Msg("stream disconnected")
		if !c.sleep(backoff) {
			return
		}
		backoff = nextBackoff(backoff, c.opts.BackoffCap)
	}
}

// readFrames consumes frames until the connection drops and returns
// how long it was held. A malformed frame is dropped and logged, never
// fatal to the connection.
func (c *Channel) readFrames(conn *websocket.Conn, connID string) time.Duration {
	start := time.Now()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Str("conn", connID).Err(err).Msg("stream read error")
			}
			return time.Since(start)
		}

		e, err := event.Decode(data)
		if err != nil {
			c.log.Warn().Str("conn", connID).Err(err).Msg("dropping malformed frame")
			continue
		}

		if !c.opts.Store.Insert(e) {
			// Duplicate of a history-loaded or re-delivered event.
			continue
		}

		c.mu.Lock()
		cb := c.onEvent
		c.mu.Unlock()
		if cb != nil {
			cb(e)
		}
	}
}

// sleep waits for d or until Close; reports false when closed.
func (c *Channel) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.done:
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next > limit {
		return limit
	}
	return next
}
