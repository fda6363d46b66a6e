package roster

import (
	"testing"
	"time"

	"github.com/agentops/netview/internal/event"
)

func makeEvent(source, target string, ts time.Time) event.Event {
	return event.Event{
		ID:          event.DeriveID(source, target, ts),
		SourceAgent: source,
		TargetAgent: target,
		Timestamp:   ts,
	}
}

func TestBuildEmpty(t *testing.T) {
	r := Build(nil)
	if len(r.Agents) != 0 {
		t.Errorf("expected no agents, got %d", len(r.Agents))
	}
	if r.TotalEvents != 0 {
		t.Errorf("expected 0 events, got %d", r.TotalEvents)
	}
	if r.BuiltAt.IsZero() {
		t.Error("BuiltAt should not be zero")
	}
}

func TestBuildCounts(t *testing.T) {
	now := time.Now()
	events := []event.Event{
		makeEvent("alice", "bob", now.Add(-3*time.Minute)),
		makeEvent("alice", "carol", now.Add(-2*time.Minute)),
		makeEvent("bob", "alice", now.Add(-time.Minute)),
	}

	r := Build(events)
	if len(r.Agents) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(r.Agents))
	}
	// Sorted by id: alice, bob, carol.
	if r.Agents[0].ID != "alice" || r.Agents[1].ID != "bob" || r.Agents[2].ID != "carol" {
		t.Fatalf("wrong order: %s %s %s", r.Agents[0].ID, r.Agents[1].ID, r.Agents[2].ID)
	}

	alice := r.Agents[0]
	if alice.Sent != 2 || alice.Received != 1 {
		t.Errorf("alice sent/received = %d/%d, want 2/1", alice.Sent, alice.Received)
	}
	if !alice.LastSeen.Equal(now.Add(-time.Minute)) {
		t.Errorf("alice last seen %v, want latest involvement", alice.LastSeen)
	}

	carol := r.Agents[2]
	if carol.Sent != 0 || carol.Received != 1 {
		t.Errorf("carol sent/received = %d/%d, want 0/1", carol.Sent, carol.Received)
	}
}

func TestActiveStaleSplit(t *testing.T) {
	now := time.Now()
	events := []event.Event{
		makeEvent("fresh", "fresh2", now.Add(-time.Minute)),
		makeEvent("old", "old2", now.Add(-time.Hour)),
	}

	r := Build(events)
	active, stale := r.Active(now)
	if active != 2 || stale != 2 {
		t.Errorf("active/stale = %d/%d, want 2/2", active, stale)
	}
}
