// Package session keeps a short in-memory conversation history per chat so recent
// exchanges can be handed to the CLI as context. Nothing is persisted.
package session

import (
	"sync"
	"time"
)

// Roles used in Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// defaultMaxSessions bounds how many chats are remembered at once.
const defaultMaxSessions = 256

// Message represents a chat message in a session.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Session represents the recent exchanges of one chat.
type Session struct {
	Key       string
	Messages  []Message
	UpdatedAt time.Time
	mu        sync.RWMutex
}

// NewSession creates a new session with the given key.
func NewSession(key string) *Session {
	return &Session{Key: key, UpdatedAt: time.Now()}
}

// AddMessage adds a message to the session, keeping at most limit messages.
func (s *Session) AddMessage(role, content string, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if limit > 0 && len(s.Messages) > limit {
		s.Messages = append([]Message(nil), s.Messages[len(s.Messages)-limit:]...)
	}
	s.UpdatedAt = time.Now()
}

// GetHistory returns the recent message history.
func (s *Session) GetHistory(maxMessages int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if maxMessages <= 0 || len(s.Messages) <= maxMessages {
		result := make([]Message, len(s.Messages))
		copy(result, s.Messages)
		return result
	}
	result := make([]Message, maxMessages)
	copy(result, s.Messages[len(s.Messages)-maxMessages:])
	return result
}

// Store holds sessions keyed by chat. A zero exchange limit disables history.
type Store struct {
	exchanges   int
	maxSessions int
	cache       map[string]*Session
	mu          sync.Mutex
}

// NewStore creates a store that remembers the last exchanges prompt/reply pairs per chat.
func NewStore(exchanges int) *Store {
	return &Store{
		exchanges:   exchanges,
		maxSessions: defaultMaxSessions,
		cache:       make(map[string]*Session),
	}
}

// Enabled reports whether history is being kept.
func (m *Store) Enabled() bool { return m != nil && m.exchanges > 0 }

// History returns the remembered messages for key, oldest first.
func (m *Store) History(key string) []Message {
	if !m.Enabled() {
		return nil
	}
	m.mu.Lock()
	s, ok := m.cache[key]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.GetHistory(m.exchanges * 2)
}

// Append records one prompt/reply exchange for key.
func (m *Store) Append(key, prompt, reply string) {
	if !m.Enabled() {
		return
	}
	m.mu.Lock()
	s, ok := m.cache[key]
	if !ok {
		m.evictLocked()
		s = NewSession(key)
		m.cache[key] = s
	}
	m.mu.Unlock()

	s.AddMessage(RoleUser, prompt, m.exchanges*2)
	s.AddMessage(RoleAssistant, reply, m.exchanges*2)
}

// Len returns the number of chats with history.
func (m *Store) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}

func (m *Store) evictLocked() {
	if len(m.cache) < m.maxSessions {
		return
	}
	var oldestKey string
	var oldest time.Time
	for k, s := range m.cache {
		s.mu.RLock()
		at := s.UpdatedAt
		s.mu.RUnlock()
		if oldestKey == "" || at.Before(oldest) {
			oldestKey, oldest = k, at
		}
	}
	delete(m.cache, oldestKey)
}
