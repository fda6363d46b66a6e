package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func testSimulator(t *testing.T) *simulator {
	t.Helper()
	return newSimulator([]string{"planner", "coder", "tester"}, 1, zerolog.Nop())
}

func testServer(t *testing.T, sim *simulator) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/api/collaboration/history", sim.handleHistory)
	r.Get("/ws/collaboration", sim.handleStream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestNextEventShape(t *testing.T) {
	sim := testSimulator(t)
	ts := time.Now()
	e := sim.next(ts)

	if e.ID == "" {
		t.Error("event missing id")
	}
	if e.SourceAgent == e.TargetAgent {
		t.Errorf("self-addressed event: %s -> %s", e.SourceAgent, e.TargetAgent)
	}
	if _, err := time.Parse(time.RFC3339Nano, e.Timestamp); err != nil {
		t.Errorf("timestamp not RFC3339Nano: %q", e.Timestamp)
	}
	if e.Seq != 1 {
		t.Errorf("seq = %d, want 1", e.Seq)
	}
}

func TestNextEventDeterministicWithSeed(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	a := newSimulator([]string{"planner", "coder"}, 7, zerolog.Nop()).next(ts)
	b := newSimulator([]string{"planner", "coder"}, 7, zerolog.Nop()).next(ts)
	if a.ID != b.ID || a.SourceAgent != b.SourceAgent || a.Kind != b.Kind {
		t.Errorf("same seed should generate the same event: %+v vs %+v", a, b)
	}
}

func TestBackfillOrdered(t *testing.T) {
	sim := testSimulator(t)
	sim.backfill(10 * time.Minute)

	if sim.eventCount() == 0 {
		t.Fatal("backfill generated nothing")
	}
	for i := 1; i < len(sim.times); i++ {
		if sim.times[i].Before(sim.times[i-1]) {
			t.Fatalf("backfill out of order at %d", i)
		}
	}
}

func TestHistoryWindowFilter(t *testing.T) {
	sim := testSimulator(t)
	now := time.Now()
	// One event well outside a 1h window, one inside.
	sim.mu.Lock()
	for _, age := range []time.Duration{3 * time.Hour, 10 * time.Minute} {
		ts := now.Add(-age)
		e := sim.next(ts)
		sim.events = append(sim.events, e)
		sim.times = append(sim.times, ts)
	}
	sim.mu.Unlock()

	srv := testServer(t, sim)
	resp, err := http.Get(srv.URL + "/api/collaboration/history?hours=1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var got []wireEvent
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event inside window, got %d", len(got))
	}
}

func TestHistoryRejectsBadHours(t *testing.T) {
	srv := testServer(t, testSimulator(t))
	for _, q := range []string{"hours=abc", "hours=-2", "hours=0"} {
		resp, err := http.Get(srv.URL + "/api/collaboration/history?" + q)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestStreamBroadcast(t *testing.T) {
	sim := testSimulator(t)
	srv := testServer(t, sim)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/collaboration"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the client to register before emitting.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sim.mu.Lock()
		n := len(sim.clients)
		sim.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	sim.emit(time.Now())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var e wireEvent
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.SourceAgent == "" || e.TargetAgent == "" {
		t.Errorf("broadcast event incomplete: %+v", e)
	}
}
