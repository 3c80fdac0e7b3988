package chat

import (
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/moodtune/backend/internal/metrics"
	"github.com/zhouzirui/moodtune/backend/internal/model/chat"
)

// Service keeps the live sessions in process memory, one per connection id.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*chat.Session
	metrics  *metrics.Metrics
}

// NewService bootstraps the in-memory session store.
func NewService(m *metrics.Metrics) *Service {
	return &Service{
		sessions: make(map[string]*chat.Session),
		metrics:  m,
	}
}

// NewID returns a fresh connection identifier.
func (s *Service) NewID() string {
	return uuid.NewString()
}

// Open creates an empty session for id. A session already registered under the
// same id is replaced and detached; its owner notices through Close returning
// false.
func (s *Service) Open(id string) *chat.Session {
	session := chat.NewSession(id)

	s.mu.Lock()
	previous := s.sessions[id]
	s.sessions[id] = session
	count := len(s.sessions)
	s.mu.Unlock()

	if previous != nil {
		previous.Detach()
	}
	s.metrics.SetSessions(count)
	return session
}

// Get retrieves the live session for id.
func (s *Service) Get(id string) (*chat.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

// Close discards the session if it is still the one registered under id.
func (s *Service) Close(id string, session *chat.Session) bool {
	s.mu.Lock()
	current, ok := s.sessions[id]
	if !ok || current != session {
		s.mu.Unlock()
		return false
	}
	delete(s.sessions, id)
	count := len(s.sessions)
	s.mu.Unlock()

	session.Detach()
	s.metrics.SetSessions(count)
	return true
}

// Count returns the number of live sessions.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
