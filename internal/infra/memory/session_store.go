package memory

import (
	"sync"

	"buzzer-quiz-service/internal/app"
)

// SessionStore is the in-process session registry. The lock covers the map
// only; session state is guarded by each session's own mutex.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.Session),
	}
}

// Add registers a session. It returns false if the id is already taken.
func (s *SessionStore) Add(session *app.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID()]; exists {
		return false
	}
	s.sessions[session.ID()] = session
	return true
}

func (s *SessionStore) Get(sessionID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

// DeleteIfIdle drops a completed session once nobody is connected to it.
func (s *SessionStore) DeleteIfIdle(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	if session.Idle() {
		delete(s.sessions, sessionID)
	}
}

func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// List returns the registered sessions in no particular order.
func (s *SessionStore) List() []*app.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*app.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}
