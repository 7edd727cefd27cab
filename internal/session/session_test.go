package session

import (
	"fmt"
	"testing"
)

func TestStoreDisabledKeepsNothing(t *testing.T) {
	s := NewStore(0)
	s.Append("C1", "hi", "hello")
	if h := s.History("C1"); len(h) != 0 {
		t.Fatalf("expected no history, got %v", h)
	}
	if s.Len() != 0 {
		t.Fatalf("expected no sessions, got %d", s.Len())
	}
}

func TestStoreKeepsLastExchanges(t *testing.T) {
	s := NewStore(2)
	for i := 1; i <= 3; i++ {
		s.Append("C1", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}
	h := s.History("C1")
	if len(h) != 4 {
		t.Fatalf("history len=%d, want 4", len(h))
	}
	want := []string{"q2", "a2", "q3", "a3"}
	for i, m := range h {
		if m.Content != want[i] {
			t.Fatalf("history[%d]=%q, want %q", i, m.Content, want[i])
		}
	}
	if h[0].Role != RoleUser || h[1].Role != RoleAssistant {
		t.Fatalf("unexpected roles: %s, %s", h[0].Role, h[1].Role)
	}
}

func TestStoreSeparatesChats(t *testing.T) {
	s := NewStore(1)
	s.Append("C1", "q", "a")
	if h := s.History("C2"); len(h) != 0 {
		t.Fatalf("C2 should have no history, got %v", h)
	}
}

func TestStoreEvictsOldestSession(t *testing.T) {
	s := NewStore(1)
	s.maxSessions = 2
	s.Append("C1", "q", "a")
	s.Append("C2", "q", "a")
	s.Append("C3", "q", "a")
	if s.Len() != 2 {
		t.Fatalf("len=%d, want 2", s.Len())
	}
	if h := s.History("C1"); len(h) != 0 {
		t.Fatal("C1 should have been evicted")
	}
}
