package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/zhouzirui/moodtune/backend/internal/model/emotion"
)

// ErrSessionDetached is returned when work targets a session that was replaced
// by a reconnect or closed.
var ErrSessionDetached = errors.New("chat: session was replaced or closed")

// Session is the mutable state of one live connection.
//
// Conversational fields (history, emotion, last route) are written by the turn
// path. The generating flag is written only by the job supervisor, which also
// appends the completion turn from its own goroutine, so every accessor locks.
type Session struct {
	ID        string
	CreatedAt time.Time

	// pubMu orders outbound updates; it is never held together with mu.
	pubMu sync.Mutex

	mu         sync.RWMutex
	history    []Turn
	emotion    emotion.Label
	generating bool
	lastRoute  Route
	detached   bool
}

// NewSession returns an empty session.
func NewSession(id string) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		history:   make([]Turn, 0, 16),
	}
}

// Append adds a turn to the end of the history.
func (s *Session) Append(role Role, text string) {
	s.mu.Lock()
	s.history = append(s.history, Turn{Role: role, Text: text})
	s.mu.Unlock()
}

// Len returns the number of turns so far.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// History returns a copy of the turns in insertion order.
func (s *Session) History() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Turn(nil), s.history...)
}

// Emotion returns the confirmed emotion or emotion.Unset.
func (s *Session) Emotion() emotion.Label {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emotion
}

// SetEmotion stores label if it belongs to the vocabulary and reports whether
// it did. Anything else leaves the stored emotion untouched.
func (s *Session) SetEmotion(label emotion.Label) bool {
	if !emotion.Valid(label) {
		return false
	}
	s.mu.Lock()
	s.emotion = label
	s.mu.Unlock()
	return true
}

// Generating reports whether a background job is registered for the session.
func (s *Session) Generating() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generating
}

// SetGenerating is reserved for the job supervisor.
func (s *Session) SetGenerating(v bool) {
	s.mu.Lock()
	s.generating = v
	s.mu.Unlock()
}

// LastRoute returns the most recent routing decision.
func (s *Session) LastRoute() Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRoute
}

// SetLastRoute records a routing decision.
func (s *Session) SetLastRoute(r Route) {
	s.mu.Lock()
	s.lastRoute = r
	s.mu.Unlock()
}

// Snapshot is a consistent value copy of a session.
type Snapshot struct {
	ID         string
	History    []Turn
	Emotion    emotion.Label
	Generating bool
	LastRoute  Route
}

// Snapshot copies the session under a single lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:         s.ID,
		History:    append([]Turn(nil), s.history...),
		Emotion:    s.emotion,
		Generating: s.generating,
		LastRoute:  s.lastRoute,
	}
}

// Detach marks the session as no longer owned by a live connection. It waits
// for an in-flight Publish, and every later Publish is dropped.
func (s *Session) Detach() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()
}

// Detached reports whether Detach was called.
func (s *Session) Detached() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detached
}

// Publish snapshots the session and hands the resulting update to send.
// Publish calls on one session are serialized and each snapshot is taken after
// the previous send returned, so the last update delivered always reflects the
// latest state. A detached session publishes nothing.
func (s *Session) Publish(event string, send func(Update)) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if s.Detached() {
		return
	}
	send(s.Snapshot().Update(event))
}
