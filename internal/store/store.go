// Package store implements the ordered, deduplicated event buffer that
// both the live channel and the history loader write into.
//
// Events are kept sorted by timestamp (ties preserve insertion order)
// and bounded by a capacity; the oldest events are evicted first, except
// while a replay session has pinned the tail it is anchored in.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/agentops/netview/internal/event"
)

// DefaultCapacity bounds the in-memory working set when no explicit
// capacity is configured.
const DefaultCapacity = 5000

// Store is the shared event buffer. Reads hand out copies, so a slice
// obtained from Range or Snapshot is never mutated by later inserts.
type Store struct {
	mu       sync.RWMutex
	events   []event.Event
	ids      map[string]struct{}
	capacity int

	// Eviction floor. While pinned, events at or after pinFloor are
	// protected so an in-flight replay cursor stays valid.
	pinned   bool
	pinFloor time.Time
}

// New creates a store holding at most capacity events. capacity <= 0
// falls back to DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		ids:      make(map[string]struct{}),
		capacity: capacity,
	}
}

// Insert adds e in timestamp order and reports whether it was actually
// added. A duplicate id is a no-op returning false. Equal timestamps
// keep insertion order.
func (s *Store) Insert(e event.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.ids[e.ID]; dup {
		return false
	}

	// First index strictly after e.Timestamp; equal timestamps sort
	// before it, preserving arrival order among ties.
	i := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].Timestamp.After(e.Timestamp)
	})
	s.events = append(s.events, event.Event{})
	copy(s.events[i+1:], s.events[i:])
	s.events[i] = e
	s.ids[e.ID] = struct{}{}

	s.evictLocked()
	return true
}

// evictLocked drops the oldest events until the buffer fits the
// capacity, stopping early at the pin floor.
func (s *Store) evictLocked() {
	for len(s.events) > s.capacity {
		oldest := s.events[0]
		if s.pinned && !oldest.Timestamp.Before(s.pinFloor) {
			return
		}
		delete(s.ids, oldest.ID)
		s.events = s.events[1:]
	}
}

// Pin suspends eviction of events at or after floor. Called when a
// replay session freezes its timeline; Unpin releases it.
func (s *Store) Pin(floor time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned = true
	s.pinFloor = floor
}

// Unpin releases the eviction floor and applies any deferred eviction.
func (s *Store) Unpin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned = false
	s.pinFloor = time.Time{}
	s.evictLocked()
}

// Len returns the number of buffered events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Contains reports whether an event with the given id is buffered.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Range returns a copy of the events whose timestamp falls in
// [from, to], in timestamp order.
func (s *Store) Range(from, to time.Time) []event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo := sort.Search(len(s.events), func(i int) bool {
		return !s.events[i].Timestamp.Before(from)
	})
	hi := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].Timestamp.After(to)
	})
	if lo >= hi {
		return nil
	}
	out := make([]event.Event, hi-lo)
	copy(out, s.events[lo:hi])
	return out
}

// Snapshot returns a copy of the full buffer in timestamp order. The
// copy is the replay engine's frozen timeline: later inserts never
// reorder it.
func (s *Store) Snapshot() []event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return nil
	}
	out := make([]event.Event, len(s.events))
	copy(out, s.events)
	return out
}
