package redis

import (
	"context"
	"sync"
	"time"

	"buzzer-quiz-service/internal/app"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SessionStore is the session registry backed by a local map, with Redis
// holding a claim per session code. The claim keeps codes unique across
// instances sharing one Redis and lets operators see which sessions are live:
//
//	SET  buzzer:session:{id}:claim 1 EX ttl
//	HSET buzzer:session:{id} quiz_id .. host_id .. created_at ..
//
// Lookups never touch Redis and the map lock is never held across a Redis
// call; KeepAlive refreshes the TTLs of local sessions in the background.
// Live state never leaves the process that owns the session.
type SessionStore struct {
	client    *redis.Client
	ttl       time.Duration
	opTimeout time.Duration
	log       zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration, log zerolog.Logger) *SessionStore {
	return &SessionStore{
		client:    client,
		ttl:       ttl,
		opTimeout: 2 * time.Second,
		log:       log.With().Str("component", "redis_session_store").Logger(),
		sessions:  make(map[string]*app.Session),
	}
}

// Add claims the session code in Redis and registers the session locally.
// A code already claimed by any instance is refused. When Redis is
// unreachable the local map stays authoritative for this process.
func (s *SessionStore) Add(session *app.Session) bool {
	id := session.ID()
	s.mu.RLock()
	_, exists := s.sessions[id]
	s.mu.RUnlock()
	if exists {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	claimed, err := s.client.SetNX(ctx, s.claimKey(id), "1", s.ttl).Result()
	switch {
	case err != nil:
		s.log.Warn().Err(err).Str("session_id", id).Msg("claim session code")
	case !claimed:
		return false
	default:
		rec := session.Record()
		pipe := s.client.Pipeline()
		pipe.HSet(ctx, s.key(id), map[string]interface{}{
			"quiz_id":    rec.QuizID,
			"host_id":    rec.HostID,
			"created_at": rec.CreatedAt.UTC().Format(time.RFC3339),
		})
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key(id), s.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			s.log.Warn().Err(err).Str("session_id", id).Msg("mark session")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; exists {
		return false
	}
	s.sessions[id] = session
	return true
}

// Get is a pure map read; it sits on the buzz path.
func (s *SessionStore) Get(sessionID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

func (s *SessionStore) DeleteIfIdle(sessionID string) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok || !session.Idle() {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()
	if err := s.client.Del(ctx, s.key(sessionID), s.claimKey(sessionID)).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("clear session keys")
	}
}

func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// List returns the sessions owned by this process in no particular order.
func (s *SessionStore) List() []*app.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*app.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}

// KeepAlive refreshes the claim TTL of every local session each interval
// until ctx is done.
func (s *SessionStore) KeepAlive(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = s.ttl / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.refresh(ctx); err != nil {
				s.log.Warn().Err(err).Msg("refresh session claims")
			}
		}
	}
}

func (s *SessionStore) refresh(ctx context.Context) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	pipe := s.client.Pipeline()
	for _, id := range ids {
		pipe.Expire(ctx, s.key(id), s.ttl)
		pipe.Expire(ctx, s.claimKey(id), s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *SessionStore) key(sessionID string) string {
	return "buzzer:session:" + sessionID
}

func (s *SessionStore) claimKey(sessionID string) string {
	return "buzzer:session:" + sessionID + ":claim"
}
