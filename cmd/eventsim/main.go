// eventsim is a synthetic collaboration backend for driving netview
// without a real agent deployment. It serves the historical query
// endpoint and the live websocket stream, generating inter-agent
// message events at a configurable rate.
//
// Usage:
//
//	eventsim                     # :8700, 4 agents, 2 events/s
//	eventsim --addr :9000 --agents 8 --rate 5
//	eventsim --seed 42           # deterministic event sequence
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

var agentNames = []string{
	"planner", "coder", "reviewer", "tester",
	"scout", "archivist", "router", "critic",
}

var eventKinds = []string{
	"task_update", "handoff", "review_request", "status_ping",
}

func main() {
	addr := flag.String("addr", ":8700", "listen address")
	agents := flag.Int("agents", 4, "number of simulated agents (max 8)")
	rate := flag.Float64("rate", 2, "events per second")
	seed := flag.Int64("seed", 0, "random seed (0 = time-based)")
	backfill := flag.Duration("backfill", time.Hour, "history generated before startup")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	if *agents < 2 {
		*agents = 2
	}
	if *agents > len(agentNames) {
		*agents = len(agentNames)
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	sim := newSimulator(agentNames[:*agents], *seed, logger)
	sim.backfill(*backfill)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","events":%d}`, sim.eventCount())
	})
	r.Get("/api/collaboration/history", sim.handleHistory)
	r.Get("/ws/collaboration", sim.handleStream)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go sim.run(ctx, *rate)

	go func() {
		logger.Info().
			Str("addr", *addr).
			Int("agents", *agents).
			Float64("rate", *rate).
			Int64("seed", *seed).
			Msg("starting event simulator")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
}

// wireEvent is the over-the-wire event shape netview consumes.
type wireEvent struct {
	ID          string `json:"id"`
	SourceAgent string `json:"source_agent"`
	TargetAgent string `json:"target_agent"`
	Timestamp   string `json:"timestamp"`
	Kind        string `json:"kind"`
	Seq         int    `json:"seq"`
}

// simulator generates events, retains them for history queries, and
// broadcasts them to connected stream clients.
type simulator struct {
	agents []string
	rng    *rand.Rand
	log    zerolog.Logger

	mu      sync.Mutex
	events  []wireEvent // ordered by timestamp
	times   []time.Time
	seq     int
	clients map[*websocket.Conn]chan []byte

	upgrader websocket.Upgrader
}

func newSimulator(agents []string, seed int64, logger zerolog.Logger) *simulator {
	return &simulator{
		agents:  agents,
		rng:     rand.New(rand.NewSource(seed)),
		log:     logger,
		clients: make(map[*websocket.Conn]chan []byte),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// next fabricates one event at the given time.
func (s *simulator) next(ts time.Time) wireEvent {
	src := s.rng.Intn(len(s.agents))
	dst := s.rng.Intn(len(s.agents) - 1)
	if dst >= src {
		dst++
	}
	s.seq++
	return wireEvent{
		ID:          ulid.MustNew(ulid.Timestamp(ts), s.rng).String(),
		SourceAgent: s.agents[src],
		TargetAgent: s.agents[dst],
		Timestamp:   ts.UTC().Format(time.RFC3339Nano),
		Kind:        eventKinds[s.rng.Intn(len(eventKinds))],
		Seq:         s.seq,
	}
}

// backfill seeds the retained history with events spread over the
// trailing span, so a fresh netview has something to show.
func (s *simulator) backfill(span time.Duration) {
	if span <= 0 {
		return
	}
	now := time.Now()
	n := int(span / (30 * time.Second))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		jitter := time.Duration(s.rng.Int63n(int64(20 * time.Second)))
		ts := now.Add(-span + time.Duration(i)*30*time.Second + jitter)
		e := s.next(ts)
		s.events = append(s.events, e)
		s.times = append(s.times, ts)
	}
	s.log.Info().Int("events", n).Dur("span", span).Msg("history backfilled")
}

// run emits events at the configured rate until the context ends.
func (s *simulator) run(ctx context.Context, perSecond float64) {
	if perSecond <= 0 {
		perSecond = 1
	}
	interval := time.Duration(float64(time.Second) / perSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ts := <-ticker.C:
			s.emit(ts)
		}
	}
}

func (s *simulator) emit(ts time.Time) {
	s.mu.Lock()
	e := s.next(ts)
	s.events = append(s.events, e)
	s.times = append(s.times, ts)

	data, err := json.Marshal(e)
	if err != nil {
		s.mu.Unlock()
		return
	}
	for conn, ch := range s.clients {
		select {
		case ch <- data:
		default:
			// Slow client: drop it rather than stall the generator.
			close(ch)
			delete(s.clients, conn)
		}
	}
	s.mu.Unlock()
}

func (s *simulator) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// handleHistory serves the trailing window as a JSON array.
func (s *simulator) handleHistory(w http.ResponseWriter, r *http.Request) {
	hours := 6
	if h := r.URL.Query().Get("hours"); h != "" {
		parsed, err := strconv.Atoi(h)
		if err != nil || parsed <= 0 {
			http.Error(w, `{"error":"invalid hours parameter"}`, http.StatusBadRequest)
			return
		}
		hours = parsed
	}
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)

	s.mu.Lock()
	idx := sort.Search(len(s.times), func(i int) bool {
		return !s.times[i].Before(cutoff)
	})
	window := make([]wireEvent, len(s.events)-idx)
	copy(window, s.events[idx:])
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(window); err != nil {
		s.log.Error().Err(err).Msg("history encode failed")
	}
}

// handleStream upgrades to a websocket and pushes every generated
// event until the client goes away.
func (s *simulator) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ch := make(chan []byte, 64)
	s.mu.Lock()
	s.clients[conn] = ch
	n := len(s.clients)
	s.mu.Unlock()
	s.log.Info().Str("remote", r.RemoteAddr).Int("clients", n).Msg("stream client connected")

	// Reader: only there to notice the close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.dropClient(conn)
				return
			}
		}
	}()

	for data := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.dropClient(conn)
			return
		}
	}
	conn.Close()
}

func (s *simulator) dropClient(conn *websocket.Conn) {
	s.mu.Lock()
	if ch, ok := s.clients[conn]; ok {
		close(ch)
		delete(s.clients, conn)
	}
	n := len(s.clients)
	s.mu.Unlock()
	conn.Close()
	s.log.Info().Int("clients", n).Msg("stream client disconnected")
}
