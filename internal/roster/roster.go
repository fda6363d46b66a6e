// Package roster derives the per-agent read model shown in the TUI
// sidebar from a slice of collaboration events.
//
// A Roster is immutable: it is rebuilt when the feed changes and
// swapped atomically into the UI model.
package roster

import (
	"sort"
	"time"

	"github.com/agentops/netview/internal/event"
)

// StaleAfter marks an agent stale when its last event is older than this.
const StaleAfter = 10 * time.Minute

// Agent summarizes one agent's presence in the current feed.
type Agent struct {
	ID       string
	Sent     int
	Received int
	LastSeen time.Time
}

// Stale reports whether the agent has been quiet past the threshold.
func (a Agent) Stale(now time.Time) bool {
	return now.Sub(a.LastSeen) > StaleAfter
}

// Roster is an immutable summary of all agents seen in a feed.
type Roster struct {
	Agents      []Agent // sorted by id
	TotalEvents int
	BuiltAt     time.Time
}

// Build scans the events and returns a complete roster.
func Build(events []event.Event) *Roster {
	byID := make(map[string]*Agent)
	touch := func(id string, ts time.Time) *Agent {
		a, ok := byID[id]
		if !ok {
			a = &Agent{ID: id}
			byID[id] = a
		}
		if ts.After(a.LastSeen) {
			a.LastSeen = ts
		}
		return a
	}

	for _, e := range events {
		touch(e.SourceAgent, e.Timestamp).Sent++
		touch(e.TargetAgent, e.Timestamp).Received++
	}

	agents := make([]Agent, 0, len(byID))
	for _, a := range byID {
		agents = append(agents, *a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })

	return &Roster{
		Agents:      agents,
		TotalEvents: len(events),
		BuiltAt:     time.Now(),
	}
}

// Active splits the roster into active and stale counts at the given
// instant.
func (r *Roster) Active(now time.Time) (active, stale int) {
	for _, a := range r.Agents {
		if a.Stale(now) {
			stale++
		} else {
			active++
		}
	}
	return active, stale
}
