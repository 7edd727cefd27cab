// Package dedupe tracks recently handled message identifiers so repeated polls of
// the same time window do not trigger duplicate responses.
package dedupe

import "sync"

// DefaultCapacity is the number of identifiers remembered by the Teams poller.
const DefaultCapacity = 1000

// Set is a bounded set of identifiers with FIFO eviction. Once full, recording a
// new id evicts the oldest one, so the size never exceeds the capacity.
type Set struct {
	mu    sync.Mutex
	ring  []string
	next  int
	count int
	index map[string]struct{}
}

// New creates a Set that remembers at most capacity ids.
func New(capacity int) *Set {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Set{
		ring:  make([]string, capacity),
		index: make(map[string]struct{}, capacity),
	}
}

// Seen reports whether id is currently remembered.
func (s *Set) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok
}

// Record remembers id. Recording an id that is already present is a no-op and
// does not refresh its position.
func (s *Set) Record(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked(id)
}

// CheckAndRecord records id and reports whether it had already been seen. The
// check and the record are one step, so concurrent callers claim an id once.
func (s *Set) CheckAndRecord(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.recordLocked(id)
}

// recordLocked reports whether id was newly added.
func (s *Set) recordLocked(id string) bool {
	if _, ok := s.index[id]; ok {
		return false
	}
	if s.count == len(s.ring) {
		delete(s.index, s.ring[s.next])
	} else {
		s.count++
	}
	s.ring[s.next] = id
	s.index[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
	return true
}

// Len returns the number of remembered ids.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Cap returns the maximum number of remembered ids.
func (s *Set) Cap() int { return len(s.ring) }
