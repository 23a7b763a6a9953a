package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"buzzer-quiz-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const defaultTimeLimit = 30

// sessionDeps are the collaborators a live session reaches outside its lock.
type sessionDeps struct {
	clock        clockwork.Clock
	tick         time.Duration
	clampAtZero  bool
	buffer       int
	defaultLimit int
	writer       *AsyncWriter
	results      ResultStore
	sink         EventSink
	log          zerolog.Logger
	onEnded      func(sessionID string)
}

func defaultSessionDeps() sessionDeps {
	return sessionDeps{
		clock:        clockwork.NewRealClock(),
		tick:         time.Second,
		buffer:       64,
		defaultLimit: defaultTimeLimit,
		log:          zerolog.Nop(),
	}
}

// Session is one live game. Every field below mu is guarded by it; a session
// never holds another session's lock, and the registry never holds this one.
type Session struct {
	id        string
	quiz      domain.Quiz
	hostID    string
	createdAt time.Time
	deps      sessionDeps

	mu           sync.Mutex
	phase        domain.Phase
	index        int
	winner       string
	winnerRecord int
	records      []domain.BuzzRecord
	participants map[string]*domain.Participant
	seq          uint64
	timeLeft     int
	timerGen     uint64
	timer        *countdown
	hub          *hub
}

// NewSession builds a session with a real clock and no persistence. It is
// exported for infrastructure layers and tests that need to seed sessions.
func NewSession(id string, quiz domain.Quiz, hostID string) *Session {
	return newSession(id, quiz, hostID, defaultSessionDeps())
}

func newSession(id string, quiz domain.Quiz, hostID string, deps sessionDeps) *Session {
	if deps.clock == nil {
		deps.clock = clockwork.NewRealClock()
	}
	if deps.defaultLimit <= 0 {
		deps.defaultLimit = defaultTimeLimit
	}
	deps.log = deps.log.With().Str("session_id", id).Logger()
	return &Session{
		id:           id,
		quiz:         quiz,
		hostID:       hostID,
		createdAt:    deps.clock.Now(),
		deps:         deps,
		phase:        domain.PhaseWaiting,
		index:        -1,
		winnerRecord: -1,
		participants: make(map[string]*domain.Participant),
		hub:          newHub(deps.buffer),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) QuestionIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Winner returns the locked-in buzz winner of the current question, if any.
func (s *Session) Winner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.winner
}

// BuzzRecords returns a copy of the audit trail.
func (s *Session) BuzzRecords() []domain.BuzzRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BuzzRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Idle reports whether a completed session has nobody left to serve.
func (s *Session) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == domain.PhaseEnded && s.hub.len() == 0
}

func (s *Session) Record() domain.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked()
}

// Join attaches a connection for who. The participant's score survives
// reconnects because it is keyed by user id; only the channel is replaced.
// The returned channel starts with a joined_session snapshot.
func (s *Session) Join(who domain.Identity) (*Subscription, domain.Snapshot, error) {
	if who.UserID == "" {
		return nil, domain.Snapshot{}, fmt.Errorf("%w: missing user id", domain.ErrUnauthorized)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.participants[who.UserID]; ok {
		if who.DisplayName != "" {
			p.DisplayName = who.DisplayName
		}
		p.Role = who.Role
	} else {
		s.seq++
		s.participants[who.UserID] = &domain.Participant{
			UserID:      who.UserID,
			DisplayName: displayName(who),
			Role:        who.Role,
			LastEvent:   s.seq,
			JoinedAt:    s.deps.clock.Now(),
		}
	}

	before := s.hub.roster()
	sub := &subscriber{
		id:     uuid.NewString(),
		userID: who.UserID,
		name:   s.participants[who.UserID].DisplayName,
		role:   who.Role,
		ch:     make(chan Event, s.hub.buffer),
	}
	if prev := s.hub.add(sub); prev != nil {
		s.deps.log.Debug().Str("user_id", who.UserID).Str("replaced", prev.id).Msg("connection replaced")
	}

	snap := s.snapshotLocked(who.Role)
	s.hub.sendTo(sub.id, Event{Type: EventJoinedSession, Payload: snap})

	if after := s.hub.roster(); !sameRoster(before, after) {
		s.emitLocked(Event{Type: EventPlayersUpdate, Payload: PlayersPayload{Players: after}})
	}

	return &Subscription{ID: sub.id, SessionID: s.id, UserID: who.UserID, Events: sub.ch}, snap, nil
}

// Leave detaches one connection. Scores and buzz state are untouched.
func (s *Session) Leave(subscriptionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.hub.roster()
	if _, ok := s.hub.remove(subscriptionID); !ok {
		return
	}
	if after := s.hub.roster(); !sameRoster(before, after) {
		s.emitLocked(Event{Type: EventPlayersUpdate, Payload: PlayersPayload{Players: after}})
	}
}

// ApplyDelta adds delta to a participant's live score and broadcasts the
// resulting leaderboard.
func (s *Session) ApplyDelta(userID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[userID]
	if !ok {
		return 0, domain.ErrParticipantNotFound
	}
	s.applyDeltaLocked(p, delta)
	s.emitLocked(Event{Type: EventLeaderboardUpdate, Payload: LeaderboardPayload{Leaderboard: s.leaderboardLocked()}})
	return p.Score, nil
}

func (s *Session) Leaderboard() []domain.LeaderboardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderboardLocked()
}

// Snapshot returns the re-sync view as seen by the given role.
func (s *Session) Snapshot(viewer domain.Role) domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(viewer)
}

func (s *Session) applyDeltaLocked(p *domain.Participant, delta int) {
	p.Score += delta
	if s.deps.clampAtZero && p.Score < 0 {
		p.Score = 0
	}
	s.seq++
	p.LastEvent = s.seq
}

// leaderboardLocked ranks players by score, then by who reached it first,
// then by user id.
func (s *Session) leaderboardLocked() []domain.LeaderboardEntry {
	players := make([]*domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		if p.Role == domain.RoleAdmin {
			continue
		}
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		if players[i].LastEvent != players[j].LastEvent {
			return players[i].LastEvent < players[j].LastEvent
		}
		return players[i].UserID < players[j].UserID
	})

	entries := make([]domain.LeaderboardEntry, len(players))
	for i, p := range players {
		entries[i] = domain.LeaderboardEntry{UserID: p.UserID, DisplayName: p.DisplayName, Score: p.Score}
	}
	return entries
}

func (s *Session) snapshotLocked(viewer domain.Role) domain.Snapshot {
	snap := domain.Snapshot{
		SessionID:     s.id,
		Quiz:          s.quiz.Summary(),
		HostID:        s.hostID,
		Status:        s.phase.Status(),
		Phase:         s.phase,
		QuestionIndex: s.index,
		TimeLeft:      s.timeLeft,
		Winner:        s.winner,
		Players:       s.hub.roster(),
		Leaderboard:   s.leaderboardLocked(),
		CreatedAt:     s.createdAt,
	}
	if s.phase != domain.PhaseWaiting && s.phase != domain.PhaseEnded && s.index >= 0 && s.index < len(s.quiz.Questions) {
		q := s.quiz.Questions[s.index]
		if viewer != domain.RoleAdmin {
			q = q.Public()
		}
		snap.Question = &q
	}
	return snap
}

func (s *Session) recordLocked() domain.SessionRecord {
	return domain.SessionRecord{
		ID:              s.id,
		QuizID:          s.quiz.ID,
		HostID:          s.hostID,
		Status:          s.phase.Status(),
		CurrentQuestion: s.index,
		CreatedAt:       s.createdAt,
	}
}

// emitLocked hands evt to the session's subscribers and mirrors it to the
// event sink. The caller holds s.mu, so subscribers see events in exactly the
// order they were produced.
func (s *Session) emitLocked(evt Event) {
	for _, sub := range s.hub.publish(evt) {
		s.deps.log.Warn().Str("user_id", sub.userID).Str("event", string(evt.Type)).Msg("evicting slow subscriber")
	}

	// timer ticks are transient; player-only events always have an admin twin.
	if s.deps.sink == nil || evt.Type == EventTimerUpdate || evt.Audience == AudiencePlayers {
		return
	}
	sink, id := s.deps.sink, s.id
	s.enqueueLocked("publish_"+string(evt.Type), func(ctx context.Context) error {
		return sink.Publish(ctx, id, evt)
	})
}

// replyLocked sends evt to the user's current connection only.
func (s *Session) replyLocked(userID string, evt Event) {
	if sub, ok := s.hub.byUser[userID]; ok {
		s.hub.sendTo(sub.id, evt)
	}
}

func (s *Session) enqueueLocked(name string, fn func(ctx context.Context) error) {
	if s.deps.writer == nil {
		return
	}
	s.deps.writer.Enqueue(s.id, name, fn)
}

func (s *Session) saveLocked() {
	results := s.deps.results
	if results == nil {
		return
	}
	rec := s.recordLocked()
	s.enqueueLocked("save_session", func(ctx context.Context) error {
		return results.SaveSession(ctx, rec)
	})
}

func (s *Session) persist() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveLocked()
}

func displayName(who domain.Identity) string {
	if who.DisplayName != "" {
		return who.DisplayName
	}
	return who.UserID
}

func sameRoster(a, b []domain.PlayerPresence) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
