package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/agentops/netview/internal/coordinator"
	"github.com/agentops/netview/internal/event"
	"github.com/agentops/netview/internal/live"
)

// --- Styles ---

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Background(lipgloss.Color("#1E1E2E")).
			Padding(0, 1)

	modeLiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#1E1E2E")).
			Background(lipgloss.Color("#A6E3A1")).
			Padding(0, 1)

	modeReplayStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#1E1E2E")).
			Background(lipgloss.Color("#F9E2AF")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#89B4FA"))

	agentActiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#A6E3A1"))

	agentStaleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F38BA8"))

	connOKStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E3A1")).
			Bold(true)

	connBadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F38BA8")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086"))

	msgFromStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#89B4FA")).
			Bold(true)

	msgToStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E3A1"))

	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1E1E2E")).
			Background(lipgloss.Color("#F9E2AF")).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CDD6F4")).
			Background(lipgloss.Color("#1E1E2E"))
)

// bannerTTL is how long a transient notice stays on screen.
const bannerTTL = 5 * time.Second

// --- View rendering ---

func (m uiModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(m.renderTitleBar())
	b.WriteRune('\n')
	b.WriteString(m.renderModeBar())
	b.WriteRune('\n')
	b.WriteRune('\n')

	contentHeight := m.height - 5 // title + mode + status + padding
	if m.coord.Mode() == coordinator.Replay {
		contentHeight -= 2 // scrubber block
	}
	if m.showHelp {
		contentHeight -= 3
	}

	var content string
	// Split-pane: feed left, roster right on wide terminals.
	if m.width >= 110 && len(m.ros.Agents) > 0 {
		leftWidth := m.width - 36
		content = renderSplitPane(m.renderFeed(), m.renderRoster(), leftWidth, 33, contentHeight)
	} else {
		content = m.renderFeed()

		// Apply scroll using a local variable; View() is a value receiver.
		lines := strings.Split(content, "\n")
		scrollPos := m.scrollPos
		if scrollPos >= len(lines) {
			scrollPos = max(0, len(lines)-1)
		}
		if scrollPos > 0 && scrollPos < len(lines) {
			lines = lines[scrollPos:]
		}
		if len(lines) > contentHeight {
			lines = lines[:contentHeight]
		}
		content = strings.Join(lines, "\n")
	}

	// Truncate each line so content doesn't wrap on resize.
	content = truncateLines(content, m.width)
	b.WriteString(content)

	// Pad to fill the screen.
	rendered := strings.Count(b.String(), "\n")
	target := m.height - 2
	if m.coord.Mode() == coordinator.Replay {
		target -= 2
	}
	for rendered < target {
		b.WriteRune('\n')
		rendered++
	}

	if m.coord.Mode() == coordinator.Replay {
		b.WriteString(m.renderReplayBar())
		b.WriteRune('\n')
	}

	if m.showHelp {
		b.WriteString(m.help.View(keys))
	} else {
		b.WriteString(m.renderStatusBar())
	}

	return b.String()
}

func (m uiModel) renderTitleBar() string {
	title := titleStyle.Render("netview")
	active, stale := m.ros.Active(time.Now())
	stats := dimStyle.Render(fmt.Sprintf(
		"%d agents (%d stale) | %s events | window %dh",
		active+stale, stale,
		humanize.Comma(int64(m.st.Len())),
		m.cfg.WindowHours,
	))
	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(title)-lipgloss.Width(stats)-2))
	return title + gap + stats
}

func (m uiModel) renderModeBar() string {
	var mode string
	if m.coord.Mode() == coordinator.Live {
		mode = modeLiveStyle.Render("LIVE")
	} else {
		mode = modeReplayStyle.Render("REPLAY " + m.replayStatus())
	}

	var conn string
	switch m.connState {
	case live.StateConnected:
		conn = connOKStyle.Render("● connected")
	case live.StateConnecting:
		conn = dimStyle.Render("◌ connecting...")
	default:
		conn = connBadStyle.Render("○ disconnected")
	}

	line := mode + " " + conn
	if m.loading {
		line += dimStyle.Render("  loading history...")
	}
	if m.banner != "" && time.Since(m.bannerAt) < bannerTTL {
		line += "  " + bannerStyle.Render(m.banner)
	}
	return line
}

func (m uiModel) replayStatus() string {
	clock := m.coord.Clock()
	if clock == nil {
		return ""
	}
	return strings.ToUpper(clock.Status().String())
}

// --- Feed ---

func (m uiModel) renderFeed() string {
	var b strings.Builder
	if m.coord.Mode() == coordinator.Replay {
		b.WriteString(headerStyle.Render("Replayed Events"))
	} else {
		b.WriteString(headerStyle.Render("Event Feed"))
	}
	b.WriteRune('\n')

	if len(m.feed) == 0 {
		if m.coord.Mode() == coordinator.Replay {
			b.WriteString(dimStyle.Render("  (press space to start playback)"))
		} else {
			b.WriteString(dimStyle.Render("  (no events in window)"))
		}
		b.WriteRune('\n')
		return b.String()
	}

	// Newest first.
	for i := len(m.feed) - 1; i >= 0; i-- {
		b.WriteString(renderEventLine(m.feed[i]))
		b.WriteRune('\n')
	}
	return b.String()
}

func renderEventLine(e event.Event) string {
	ts := dimStyle.Render(e.Timestamp.Format("15:04:05.000"))
	from := msgFromStyle.Render(e.SourceAgent)
	to := msgToStyle.Render(e.TargetAgent)
	return fmt.Sprintf("  %s %s -> %s %s", ts, from, to, dimStyle.Render(payloadSummary(e)))
}

// payloadSummary compacts the payload into a one-line hint: the kind
// field when present, plus the encoded size.
func payloadSummary(e event.Event) string {
	if len(e.Payload) == 0 {
		return ""
	}
	size := 0
	if raw, err := json.Marshal(e.Payload); err == nil {
		size = len(raw)
	}
	if kind, ok := e.Payload["kind"].(string); ok {
		return fmt.Sprintf("[%s %s]", kind, humanize.Bytes(uint64(size)))
	}
	return fmt.Sprintf("[%s]", humanize.Bytes(uint64(size)))
}

// --- Roster panel ---

func (m uiModel) renderRoster() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Agents"))
	b.WriteRune('\n')
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %-12s %5s %5s %s", "ID", "sent", "recv", "seen")))
	b.WriteRune('\n')

	now := time.Now()
	for _, ag := range m.ros.Agents {
		style := agentActiveStyle
		if ag.Stale(now) {
			style = agentStaleStyle
		}
		line := fmt.Sprintf("  %-12s %5d %5d %s",
			truncate(ag.ID, 12), ag.Sent, ag.Received, shortDuration(now.Sub(ag.LastSeen)))
		b.WriteString(style.Render(line))
		b.WriteRune('\n')
	}
	return b.String()
}

// --- Replay scrubber ---

func (m uiModel) renderReplayBar() string {
	clock := m.coord.Clock()
	if clock == nil {
		return ""
	}
	p := m.prog

	frac := 0.0
	if p.Total > 0 {
		frac = float64(p.Elapsed) / float64(p.Total)
	}
	bar := m.scrub.ViewAs(frac)

	tl := clock.Timeline()
	var span string
	if len(tl) > 0 {
		span = fmt.Sprintf("%s .. %s",
			tl.Start().Format("15:04:05"), tl.End().Format("15:04:05"))
	}
	info := dimStyle.Render(fmt.Sprintf(" %d/%d events | %s/%s | %gx | %s",
		p.CursorIndex, p.TotalEvents,
		shortDuration(p.Elapsed), shortDuration(p.Total),
		clock.Speed(), span))

	return bar + "\n" + info
}

func (m uiModel) renderStatusBar() string {
	var left string
	if m.coord.Mode() == coordinator.Replay {
		left = " space play/pause | s stop | h/l seek | +/- speed | m live | ? help"
	} else {
		left = " m replay | r refresh | w window | ? help | q quit"
	}
	right := ""
	if !m.lastRefresh.IsZero() {
		right = fmt.Sprintf("refreshed %s ", humanize.Time(m.lastRefresh))
	}
	gap := strings.Repeat(" ", max(0, m.width-len(left)-len(right)))
	return statusBarStyle.Render(left + gap + right)
}

// --- Helpers ---

// renderSplitPane lays out two content blocks side by side, each
// truncated to its column width, joined with a separator.
func renderSplitPane(left, right string, leftWidth, rightWidth, maxHeight int) string {
	leftLines := strings.Split(left, "\n")
	rightLines := strings.Split(right, "\n")

	n := max(len(leftLines), len(rightLines))
	if n > maxHeight {
		n = maxHeight
	}

	var b strings.Builder
	for i := 0; i < n; i++ {
		var l, r string
		if i < len(leftLines) {
			l = leftLines[i]
		}
		if i < len(rightLines) {
			r = rightLines[i]
		}
		l = ansi.Truncate(l, leftWidth, "")
		pad := strings.Repeat(" ", max(0, leftWidth-lipgloss.Width(l)))
		b.WriteString(l + pad + dimStyle.Render(" │ ") + ansi.Truncate(r, rightWidth, ""))
		if i < n-1 {
			b.WriteRune('\n')
		}
	}
	return b.String()
}

// truncateLines truncates each line to at most width visible
// characters, preserving ANSI escape codes.
func truncateLines(content string, width int) string {
	if width <= 0 {
		return content
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if lipgloss.Width(line) > width {
			lines[i] = ansi.Truncate(line, width, "")
		}
	}
	return strings.Join(lines, "\n")
}

// truncate shortens s to at most n display cells, never splitting a
// rune mid-sequence.
func truncate(s string, n int) string {
	return ansi.Truncate(s, n, "…")
}

func shortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
