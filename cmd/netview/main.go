// netview is a real-time TUI for the agent-collaboration network feed.
//
// It follows a live stream of inter-agent message events, loads a
// trailing historical window on demand, and can replay the buffered
// window at variable speed with deterministic ordering.
//
// Usage:
//
//	netview                      # Live feed against the configured backend
//	netview --config <path>      # Use a specific config file
//	netview --stream <url>       # Override the websocket stream URL
//	netview --history <url>      # Override the history endpoint base URL
//	netview --hours 24           # Trailing history window in hours
//	netview --json               # Dump one history window as JSON and exit
//	netview --version            # Print version and exit
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/agentops/netview/internal/config"
	"github.com/agentops/netview/internal/coordinator"
	"github.com/agentops/netview/internal/event"
	"github.com/agentops/netview/internal/history"
	"github.com/agentops/netview/internal/live"
	"github.com/agentops/netview/internal/replay"
	"github.com/agentops/netview/internal/roster"
	"github.com/agentops/netview/internal/store"
)

// Version is set via ldflags at build time (e.g. -X main.Version=v0.1.0).
var Version = "dev"

// speedSteps are the supported replay multipliers, cycled by +/-.
var speedSteps = []float64{1, 2, 5, 10, 25, 50}

// windowSteps are the selectable history windows in hours.
var windowSteps = []int{1, 6, 12, 24, 72}

func main() {
	cfgPath := flag.String("config", "", "path to netview.yaml (default: auto-discover)")
	streamURL := flag.String("stream", "", "websocket stream URL (overrides config)")
	historyURL := flag.String("history", "", "history endpoint base URL (overrides config)")
	hours := flag.Int("hours", 0, "trailing history window in hours (overrides config)")
	jsonMode := flag.Bool("json", false, "dump one history window as JSON and exit (no TUI)")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("netview %s\n", Version)
		os.Exit(0)
	}

	path := *cfgPath
	if path == "" {
		var err error
		path, err = config.Discover()
		if err != nil {
			fmt.Fprintf(os.Stderr, "netview: %v\n", err)
			os.Exit(1)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netview: %v\n", err)
		os.Exit(1)
	}
	if *streamURL != "" {
		cfg.StreamURL = *streamURL
	}
	if *historyURL != "" {
		cfg.HistoryURL = *historyURL
	}
	if *hours > 0 {
		cfg.WindowHours = *hours
	}

	logger := zerolog.Nop()
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "netview: open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logger = zerolog.New(f).With().Timestamp().Logger()
	}

	st := store.New(cfg.Capacity)
	loader := history.New(history.Options{
		BaseURL: cfg.HistoryURL,
		Store:   st,
		Logger:  logger,
	})

	// --json mode: load one window, print it, exit.
	if *jsonMode {
		events, err := loader.Load(context.Background(), cfg.WindowHours)
		if err != nil {
			fmt.Fprintf(os.Stderr, "netview: history: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(buildJSONOutput(events)); err != nil {
			fmt.Fprintf(os.Stderr, "netview: json: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	sink := newUISink()
	coord := coordinator.New(st, sink, logger)

	channel := live.New(live.Options{
		URL:    cfg.StreamURL,
		Store:  st,
		Logger: logger,
	})
	channel.OnEvent(coord.HandleLiveEvent)
	channel.OnStateChange(func(s live.State) {
		sink.post(connStateMsg{state: s})
	})

	m := newModel(cfg, path, st, coord, channel, loader)
	p := tea.NewProgram(m, tea.WithAltScreen())
	sink.bind(p.Send)

	channel.Connect()

	// Config hot reload: signal the TUI when the file changes.
	if path != "" {
		if w, err := config.NewWatcher(path); err == nil {
			defer w.Close()
			go func() {
				for range w.Changes() {
					p.Send(configChangedMsg{})
				}
			}()
		} else {
			logger.Warn().Err(err).Msg("config watch unavailable")
		}
	}

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "netview: %v\n", err)
		os.Exit(1)
	}
}

// --- JSON output (one history window) ---

type jsonEvent struct {
	ID          string         `json:"id"`
	SourceAgent string         `json:"source_agent"`
	TargetAgent string         `json:"target_agent"`
	Timestamp   string         `json:"timestamp"`
	Payload     map[string]any `json:"payload,omitempty"`
}

type jsonOutput struct {
	Events []jsonEvent `json:"events"`
	Agents []string    `json:"agents"`
	Total  int         `json:"total"`
}

func buildJSONOutput(events []event.Event) jsonOutput {
	out := jsonOutput{Events: make([]jsonEvent, len(events)), Total: len(events)}
	for i, e := range events {
		out.Events[i] = jsonEvent{
			ID:          e.ID,
			SourceAgent: e.SourceAgent,
			TargetAgent: e.TargetAgent,
			Timestamp:   e.Timestamp.Format(time.RFC3339Nano),
			Payload:     e.Payload,
		}
	}
	for _, a := range roster.Build(events).Agents {
		out.Agents = append(out.Agents, a.ID)
	}
	return out
}

// --- Presentation sink ---

// uiSink bridges engine callbacks (raised on stream and timer
// goroutines) into the bubbletea update loop. Messages posted before
// the program starts are queued and flushed on bind.
type uiSink struct {
	ch   chan tea.Msg
	done chan struct{}
}

func newUISink() *uiSink {
	return &uiSink{
		ch:   make(chan tea.Msg, 256),
		done: make(chan struct{}),
	}
}

// bind starts forwarding posted messages into the program.
func (s *uiSink) bind(send func(tea.Msg)) {
	go func() {
		for {
			select {
			case <-s.done:
				return
			case msg := <-s.ch:
				send(msg)
			}
		}
	}()
}

func (s *uiSink) post(msg tea.Msg) {
	select {
	case s.ch <- msg:
	default: // drop rather than block the engine on a stalled UI
	}
}

func (s *uiSink) LiveEvent(e event.Event)              { s.post(liveEventMsg{e: e}) }
func (s *uiSink) ReplayEvent(e event.Event)            { s.post(replayEventMsg{e: e}) }
func (s *uiSink) ReplaySkipped(events []event.Event)   { s.post(replaySkippedMsg{events: events}) }
func (s *uiSink) ReplayCleared()                       { s.post(replayClearedMsg{}) }
func (s *uiSink) Resync(events []event.Event)          { s.post(resyncMsg{events: events}) }

// --- Messages ---

type liveEventMsg struct{ e event.Event }

type replayEventMsg struct{ e event.Event }

type replaySkippedMsg struct{ events []event.Event }

type replayClearedMsg struct{}

type resyncMsg struct{ events []event.Event }

type connStateMsg struct{ state live.State }

type historyLoadedMsg struct {
	events []event.Event
	err    error
}

type configChangedMsg struct{}

type tickMsg struct{}

// --- Key bindings ---

type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
	Mode    key.Binding
	Play    key.Binding
	Stop    key.Binding
	SeekBk  key.Binding
	SeekFwd key.Binding
	Faster  key.Binding
	Slower  key.Binding
	Window  key.Binding
	Up      key.Binding
	Down    key.Binding
	Help    key.Binding
}

var keys = keyMap{
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh history")),
	Mode:    key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "live/replay")),
	Play:    key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/pause")),
	Stop:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop replay")),
	SeekBk:  key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("h/left", "seek -5%")),
	SeekFwd: key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("l/right", "seek +5%")),
	Faster:  key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "faster")),
	Slower:  key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "slower")),
	Window:  key.NewBinding(key.WithKeys("w"), key.WithHelp("w", "cycle window")),
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("k/up", "scroll up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("j/down", "scroll down")),
	Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Mode, k.Play, k.Refresh, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Mode, k.Play, k.Stop, k.SeekBk, k.SeekFwd},
		{k.Faster, k.Slower, k.Window, k.Refresh, k.Quit},
	}
}

// --- Model ---

type uiModel struct {
	cfg     config.Config
	cfgPath string

	st      *store.Store
	coord   *coordinator.Coordinator
	channel *live.Channel
	loader  *history.Loader

	// feed is what the presentation currently shows: live appends in
	// Live mode, emitted-so-far events in Replay mode.
	feed      []event.Event
	ros       *roster.Roster
	connState live.State
	prog      replay.Progress
	speedIdx  int

	scrub progress.Model

	width     int
	height    int
	scrollPos int

	banner   string
	bannerAt time.Time

	help     help.Model
	showHelp bool

	lastRefresh time.Time
	loading     bool
}

func newModel(cfg config.Config, cfgPath string, st *store.Store, coord *coordinator.Coordinator, channel *live.Channel, loader *history.Loader) uiModel {
	return uiModel{
		cfg:     cfg,
		cfgPath: cfgPath,
		st:      st,
		coord:   coord,
		channel: channel,
		loader:  loader,
		ros:     roster.Build(nil),
		scrub:   progress.New(progress.WithDefaultGradient()),
		help:    help.New(),
	}
}

func (m uiModel) Init() tea.Cmd {
	return tea.Batch(m.loadHistory(), tickEvery())
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// loadHistory fetches the configured trailing window off the update loop.
func (m uiModel) loadHistory() tea.Cmd {
	loader := m.loader
	hours := m.cfg.WindowHours
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), history.DefaultTimeout)
		defer cancel()
		events, err := loader.Load(ctx, hours)
		return historyLoadedMsg{events: events, err: err}
	}
}

// currentPosition maps the replay playhead onto the 0-100 scrubber scale.
func (m uiModel) currentPosition() float64 {
	if m.prog.Total <= 0 {
		return 0
	}
	return float64(m.prog.Elapsed) / float64(m.prog.Total) * 100
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.updateKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.scrub.Width = max(10, msg.Width-30)

	case liveEventMsg:
		m.feed = append(m.feed, msg.e)
		m.trimFeed()
		m.ros = roster.Build(m.feed)

	case replayEventMsg:
		m.feed = append(m.feed, msg.e)
		if clock := m.coord.Clock(); clock != nil {
			m.prog = clock.Progress()
		}

	case replaySkippedMsg:
		// Seek: everything before the cursor is already history.
		m.feed = append([]event.Event(nil), msg.events...)
		if clock := m.coord.Clock(); clock != nil {
			m.prog = clock.Progress()
		}

	case replayClearedMsg:
		m.feed = nil
		if clock := m.coord.Clock(); clock != nil {
			m.prog = clock.Progress()
		}

	case resyncMsg:
		m.feed = msg.events
		m.trimFeed()
		m.ros = roster.Build(m.feed)

	case connStateMsg:
		m.connState = msg.state

	case historyLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.setBanner(fmt.Sprintf("history load failed: %v", msg.err))
			break
		}
		m.lastRefresh = time.Now()
		if m.coord.Mode() == coordinator.Live {
			m.feed = msg.events
			m.trimFeed()
			m.ros = roster.Build(m.feed)
		} else {
			// A window change or refresh during replay re-snapshots the
			// frozen timeline; the old session would silently go stale.
			clock := m.coord.EnterReplay()
			m.feed = nil
			m.prog = clock.Progress()
			m.speedIdx = 0
		}

	case configChangedMsg:
		cfg, err := config.Load(m.cfgPath)
		if err != nil {
			m.setBanner(fmt.Sprintf("config reload failed: %v", err))
			break
		}
		changed := cfg.WindowHours != m.cfg.WindowHours
		m.cfg = cfg
		m.setBanner("config reloaded")
		if changed {
			m.loading = true
			return m, m.loadHistory()
		}

	case tickMsg:
		if m.coord.Mode() == coordinator.Replay {
			if clock := m.coord.Clock(); clock != nil {
				m.prog = clock.Progress()
			}
		}
		return m, tickEvery()
	}

	return m, nil
}

func (m uiModel) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.channel.Close()
		return m, tea.Quit

	case key.Matches(msg, keys.Refresh):
		m.loading = true
		return m, m.loadHistory()

	case key.Matches(msg, keys.Mode):
		if m.coord.Mode() == coordinator.Live {
			clock := m.coord.EnterReplay()
			m.feed = nil
			m.prog = clock.Progress()
			m.speedIdx = 0
		} else {
			m.coord.ExitReplay()
			m.prog = replay.Progress{}
		}

	case key.Matches(msg, keys.Play):
		if clock := m.coord.Clock(); clock != nil {
			if clock.Status() == replay.Playing {
				clock.Pause()
			} else {
				clock.Play()
			}
			m.prog = clock.Progress()
		}

	case key.Matches(msg, keys.Stop):
		if clock := m.coord.Clock(); clock != nil {
			clock.Stop()
			m.prog = clock.Progress()
		}

	case key.Matches(msg, keys.SeekBk):
		if clock := m.coord.Clock(); clock != nil {
			clock.Seek(m.currentPosition() - 5)
			m.prog = clock.Progress()
		}

	case key.Matches(msg, keys.SeekFwd):
		if clock := m.coord.Clock(); clock != nil {
			clock.Seek(m.currentPosition() + 5)
			m.prog = clock.Progress()
		}

	case key.Matches(msg, keys.Faster):
		if clock := m.coord.Clock(); clock != nil {
			if m.speedIdx < len(speedSteps)-1 {
				m.speedIdx++
			}
			clock.SetSpeed(speedSteps[m.speedIdx])
		}

	case key.Matches(msg, keys.Slower):
		if clock := m.coord.Clock(); clock != nil {
			if m.speedIdx > 0 {
				m.speedIdx--
			}
			clock.SetSpeed(speedSteps[m.speedIdx])
		}

	case key.Matches(msg, keys.Window):
		m.cfg.WindowHours = nextWindow(m.cfg.WindowHours)
		m.loading = true
		return m, m.loadHistory()

	case key.Matches(msg, keys.Up):
		if m.scrollPos > 0 {
			m.scrollPos--
		}

	case key.Matches(msg, keys.Down):
		if m.scrollPos < len(m.feed) {
			m.scrollPos++
		}

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp
	}

	return m, nil
}

// trimFeed caps the visible feed to the store capacity so the TUI's
// working set tracks the engine's.
func (m *uiModel) trimFeed() {
	if over := len(m.feed) - m.cfg.Capacity; over > 0 {
		m.feed = m.feed[over:]
	}
}

func (m *uiModel) setBanner(s string) {
	m.banner = s
	m.bannerAt = time.Now()
}

// nextWindow cycles through the supported history windows.
func nextWindow(cur int) int {
	for i, w := range windowSteps {
		if w == cur {
			return windowSteps[(i+1)%len(windowSteps)]
		}
	}
	return windowSteps[0]
}
