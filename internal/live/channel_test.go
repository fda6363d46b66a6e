package live

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentops/netview/internal/event"
	"github.com/agentops/netview/internal/store"
)

var upgrader = websocket.Upgrader{}

// streamServer is a test websocket endpoint that pushes whatever frames
// are queued on its channel to every connection it accepts.
type streamServer struct {
	srv    *httptest.Server
	frames chan string

	mu        sync.Mutex
	accepted  int
	times     []time.Time
	dropFirst int           // close this many leading connections immediately
	holdFor   time.Duration // hold the first surviving connection this long, then drop it
}

func newStreamServer(t *testing.T) *streamServer {
	t.Helper()
	ss := &streamServer{frames: make(chan string, 32)}
	ss.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ss.mu.Lock()
		ss.accepted++
		n := ss.accepted
		ss.times = append(ss.times, time.Now())
		drop := n <= ss.dropFirst
		hold := ss.holdFor > 0 && n == ss.dropFirst+1
		ss.mu.Unlock()
		defer conn.Close()
		if drop {
			return
		}
		if hold {
			time.Sleep(ss.holdFor)
			return
		}
		for frame := range ss.frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ss.srv.Close)
	return ss
}

func (ss *streamServer) acceptTimes() []time.Time {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return append([]time.Time(nil), ss.times...)
}

func (ss *streamServer) url() string {
	return "ws" + strings.TrimPrefix(ss.srv.URL, "http")
}

func (ss *streamServer) connections() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.accepted
}

// frame renders a minimal wire frame.
func frame(id, source, target string, ms int64) string {
	return fmt.Sprintf(`{"id":%q,"source_agent":%q,"target_agent":%q,"timestamp":%d}`,
		id, source, target, ms)
}

// newTestChannel builds a channel with fast backoff against the server.
func newTestChannel(t *testing.T, ss *streamServer, s *store.Store) *Channel {
	t.Helper()
	c := New(Options{
		URL:          ss.url(),
		Store:        s,
		Logger:       zerolog.Nop(),
		BackoffBase:  20 * time.Millisecond,
		BackoffCap:   100 * time.Millisecond,
		BackoffGrace: 50 * time.Millisecond,
	})
	t.Cleanup(c.Close)
	return c
}

func waitState(t *testing.T, c *Channel, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("channel never reached state %v (now %v)", want, c.State())
}

func TestChannelIngestsFrames(t *testing.T) {
	ss := newStreamServer(t)
	s := store.New(0)
	c := newTestChannel(t, ss, s)

	added := make(chan event.Event, 8)
	c.OnEvent(func(e event.Event) { added <- e })

	c.Connect()
	waitState(t, c, StateConnected)

	ss.frames <- frame("ev-1", "alice", "bob", 1000)
	ss.frames <- frame("ev-2", "bob", "carol", 2000)

	for _, want := range []string{"ev-1", "ev-2"} {
		select {
		case e := <-added:
			if e.ID != want {
				t.Errorf("expected %s, got %s", want, e.ID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	if s.Len() != 2 {
		t.Errorf("store should hold 2 events, got %d", s.Len())
	}
}

func TestChannelSuppressesDuplicates(t *testing.T) {
	ss := newStreamServer(t)
	s := store.New(0)
	c := newTestChannel(t, ss, s)

	added := make(chan event.Event, 8)
	c.OnEvent(func(e event.Event) { added <- e })

	c.Connect()
	waitState(t, c, StateConnected)

	ss.frames <- frame("ev-1", "alice", "bob", 1000)
	ss.frames <- frame("ev-1", "alice", "bob", 1000) // re-delivered
	ss.frames <- frame("ev-2", "bob", "carol", 2000)

	var seen []string
	for len(seen) < 2 {
		select {
		case e := <-added:
			seen = append(seen, e.ID)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	if seen[0] != "ev-1" || seen[1] != "ev-2" {
		t.Errorf("duplicate was notified: %v", seen)
	}
	if s.Len() != 2 {
		t.Errorf("store should hold 2 events, got %d", s.Len())
	}
}

func TestChannelDropsMalformedFrames(t *testing.T) {
	ss := newStreamServer(t)
	s := store.New(0)
	c := newTestChannel(t, ss, s)

	added := make(chan event.Event, 8)
	c.OnEvent(func(e event.Event) { added <- e })

	c.Connect()
	waitState(t, c, StateConnected)

	ss.frames <- `not json at all`
	ss.frames <- `{"source_agent":"a"}`
	ss.frames <- frame("ev-ok", "alice", "bob", 1000)

	// The malformed frames are dropped without killing the connection.
	select {
	case e := <-added:
		if e.ID != "ev-ok" {
			t.Errorf("expected ev-ok, got %s", e.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame after malformed ones never arrived")
	}
	if s.Len() != 1 {
		t.Errorf("store should hold only the valid event, got %d", s.Len())
	}
}

func TestChannelReconnects(t *testing.T) {
	ss := newStreamServer(t)
	ss.dropFirst = 1 // server kills the first connection immediately
	s := store.New(0)
	c := newTestChannel(t, ss, s)

	added := make(chan event.Event, 8)
	c.OnEvent(func(e event.Event) { added <- e })

	c.Connect()

	// The second connection sticks and still delivers frames.
	deadline := time.Now().Add(3 * time.Second)
	for ss.connections() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := ss.connections(); got < 2 {
		t.Fatalf("expected a reconnect, server accepted %d connections", got)
	}
	waitState(t, c, StateConnected)

	ss.frames <- frame("ev-after", "alice", "bob", 1000)
	select {
	case e := <-added:
		if e.ID != "ev-after" {
			t.Errorf("expected ev-after, got %s", e.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event after reconnect")
	}
}

func TestNextBackoffDoublesToCap(t *testing.T) {
	want := []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	cur := time.Second
	for i, w := range want {
		cur = nextBackoff(cur, 30*time.Second)
		if cur != w {
			t.Fatalf("step %d: backoff %v, want %v", i, cur, w)
		}
	}
}

func TestBackoffResetsAfterGracePeriodHeld(t *testing.T) {
	// Three immediate drops inflate the backoff; the fourth connection
	// is held past the grace period before the server drops it, so the
	// fifth attempt must come after the base delay, not the inflated one.
	ss := newStreamServer(t)
	ss.dropFirst = 3
	ss.holdFor = 150 * time.Millisecond
	s := store.New(0)
	c := New(Options{
		URL:          ss.url(),
		Store:        s,
		Logger:       zerolog.Nop(),
		BackoffBase:  30 * time.Millisecond,
		BackoffCap:   480 * time.Millisecond,
		BackoffGrace: 60 * time.Millisecond,
	})
	t.Cleanup(c.Close)

	c.Connect()
	deadline := time.Now().Add(5 * time.Second)
	for ss.connections() < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := ss.connections(); got < 5 {
		t.Fatalf("expected 5 connection attempts, server saw %d", got)
	}

	times := ss.acceptTimes()
	// Attempts 1-3 drop instantly, doubling the wait each round: the
	// gap before the held connection reflects the inflated backoff
	// (30 -> 60 -> 120ms).
	if gap := times[3].Sub(times[2]); gap < 90*time.Millisecond {
		t.Errorf("backoff did not grow across drops: gap %v before held connection", gap)
	}
	// After the 150ms held connection (past the 60ms grace), the retry
	// reverts to the base delay. Without the reset it would wait 240ms.
	if gap := times[4].Sub(times[3]) - ss.holdFor; gap > 120*time.Millisecond {
		t.Errorf("backoff not reset after grace-held connection: post-hold delay %v", gap)
	}

	// The fifth connection sticks.
	waitState(t, c, StateConnected)
}

func TestChannelKeepsStoreOnDisconnect(t *testing.T) {
	ss := newStreamServer(t)
	s := store.New(0)
	c := newTestChannel(t, ss, s)

	added := make(chan event.Event, 8)
	c.OnEvent(func(e event.Event) { added <- e })

	c.Connect()
	waitState(t, c, StateConnected)
	ss.frames <- frame("ev-1", "alice", "bob", 1000)
	select {
	case <-added:
	case <-time.After(2 * time.Second):
		t.Fatal("event never arrived")
	}

	close(ss.frames)
	waitState(t, c, StateDisconnected)

	if s.Len() != 1 {
		t.Errorf("disconnect cleared the store: %d events", s.Len())
	}
}

func TestChannelCloseStopsReconnecting(t *testing.T) {
	s := store.New(0)
	c := New(Options{
		URL:         "ws://127.0.0.1:1/ws", // nothing listens here
		Store:       s,
		Logger:      zerolog.Nop(),
		BackoffBase: 10 * time.Millisecond,
	})

	states := make(chan State, 32)
	c.OnStateChange(func(st State) { states <- st })

	c.Connect()
	// Let it fail at least once.
	time.Sleep(50 * time.Millisecond)
	c.Close()

	// Drain, then verify no further connecting attempts arrive.
	time.Sleep(50 * time.Millisecond)
	for len(states) > 0 {
		<-states
	}
	select {
	case st := <-states:
		t.Errorf("state change after Close: %v", st)
	case <-time.After(100 * time.Millisecond):
	}
}
