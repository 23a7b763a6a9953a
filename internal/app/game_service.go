package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"buzzer-quiz-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Config holds the game tunables.
type Config struct {
	TickInterval     time.Duration
	ClampScoreAtZero bool
	SubscriberBuffer int
	DefaultTimeLimit int
}

// Stats is a point-in-time view of the engine for the admin dashboard.
// LiveSessions counts every session held in this process; ActiveSessions
// only those with a question flow under way.
type Stats struct {
	LiveSessions   int `json:"liveSessions"`
	ActiveSessions int `json:"active_sessions"`
	TotalQuizzes   int `json:"total_quizzes"`
	TotalPlayers   int `json:"total_players"`
}

// Option customises a GameService.
type Option func(*GameService)

func WithClock(clock clockwork.Clock) Option {
	return func(s *GameService) { s.clock = clock }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *GameService) { s.log = log }
}

func WithEventSink(sink EventSink) Option {
	return func(s *GameService) { s.sink = sink }
}

func WithConfig(cfg Config) Option {
	return func(s *GameService) { s.cfg = cfg }
}

// WithCatalog enables quiz listing and authoring.
func WithCatalog(catalog QuizCatalog) Option {
	return func(s *GameService) { s.catalog = catalog }
}

// WithLeaderboardReader serves standings of sessions no longer held in
// process, such as ended sessions or sessions owned by another instance.
func WithLeaderboardReader(reader LeaderboardReader) Option {
	return func(s *GameService) { s.standings = reader }
}

// GameService contains the live game use cases. It looks sessions up in the
// registry and delegates to them; it never holds a lock across sessions.
type GameService struct {
	sessions  SessionRepository
	quizzes   QuizRepository
	catalog   QuizCatalog
	results   ResultStore
	writer    *AsyncWriter
	sink      EventSink
	standings LeaderboardReader
	clock     clockwork.Clock
	cfg       Config
	log       zerolog.Logger
}

// NewGameService wires the engine. results and writer may be nil, in which
// case nothing is persisted.
func NewGameService(store SessionRepository, quizzes QuizRepository, results ResultStore, writer *AsyncWriter, opts ...Option) *GameService {
	s := &GameService{
		sessions: store,
		quizzes:  quizzes,
		results:  results,
		writer:   writer,
		clock:    clockwork.NewRealClock(),
		cfg:      Config{TickInterval: time.Second, SubscriberBuffer: 64, DefaultTimeLimit: defaultTimeLimit},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "game_service").Logger()
	return s
}

func (s *GameService) sessionDeps() sessionDeps {
	return sessionDeps{
		clock:        s.clock,
		tick:         s.cfg.TickInterval,
		clampAtZero:  s.cfg.ClampScoreAtZero,
		buffer:       s.cfg.SubscriberBuffer,
		defaultLimit: s.cfg.DefaultTimeLimit,
		writer:       s.writer,
		results:      s.results,
		sink:         s.sink,
		log:          s.log,
		onEnded:      s.sessions.DeleteIfIdle,
	}
}

// CreateSession freezes the quiz content for a new session hosted by host.
func (s *GameService) CreateSession(ctx context.Context, host domain.Identity, quizID string) (domain.Snapshot, error) {
	if !host.IsAdmin() {
		return domain.Snapshot{}, fmt.Errorf("%w: only admins create sessions", domain.ErrUnauthorized)
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if len(quiz.Questions) == 0 {
		return domain.Snapshot{}, domain.ErrEmptyQuiz
	}

	for attempt := 0; attempt < 5; attempt++ {
		session := newSession(newSessionCode(), quiz, host.UserID, s.sessionDeps())
		if !s.sessions.Add(session) {
			continue
		}
		session.persist()
		s.log.Info().Str("session_id", session.ID()).Str("quiz_id", quiz.ID).Str("host_id", host.UserID).Msg("session created")
		return session.Snapshot(domain.RoleAdmin), nil
	}
	return domain.Snapshot{}, errors.New("could not allocate a session code")
}

// Join subscribes who to a session channel.
func (s *GameService) Join(_ context.Context, sessionID string, who domain.Identity) (*Subscription, domain.Snapshot, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, domain.Snapshot{}, err
	}
	return session.Join(who)
}

// Leave drops one connection and tears the session down if it is finished
// and nobody is left.
func (s *GameService) Leave(_ context.Context, sessionID, subscriptionID string) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}
	session.Leave(subscriptionID)
	s.sessions.DeleteIfIdle(sessionID)
}

func (s *GameService) Start(_ context.Context, sessionID string, who domain.Identity) error {
	session, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	return session.Start(who)
}

// Buzz stamps the attempt with the server receive time when the caller did
// not, and hands it to the arbiter.
func (s *GameService) Buzz(_ context.Context, sessionID string, who domain.Identity, questionIndex int, receivedAt time.Time) (BuzzResult, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return BuzzResult{}, err
	}
	if receivedAt.IsZero() {
		receivedAt = s.clock.Now()
	}
	return session.AttemptBuzz(who.UserID, questionIndex, receivedAt)
}

func (s *GameService) SubmitAnswer(_ context.Context, sessionID string, who domain.Identity, answer string) error {
	session, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	return session.SubmitAnswer(who.UserID, answer)
}

func (s *GameService) Resolve(_ context.Context, sessionID string, who domain.Identity, isCorrect bool) error {
	session, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	return session.Resolve(who, isCorrect)
}

func (s *GameService) Next(_ context.Context, sessionID string, who domain.Identity) error {
	session, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	return session.Next(who)
}

func (s *GameService) End(_ context.Context, sessionID string, who domain.Identity) error {
	session, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	return session.End(who)
}

func (s *GameService) Snapshot(_ context.Context, sessionID string, viewer domain.Role) (domain.Snapshot, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return session.Snapshot(viewer), nil
}

// Leaderboard ranks a live session. Sessions this process no longer holds
// are served from the leaderboard reader when one is configured.
func (s *GameService) Leaderboard(ctx context.Context, sessionID string) ([]domain.LeaderboardEntry, error) {
	session, err := s.lookup(sessionID)
	if err == nil {
		return session.Leaderboard(), nil
	}
	if s.standings == nil {
		return nil, err
	}
	entries, rerr := s.standings.Top(ctx, sessionID, 0)
	if rerr != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, rerr)
	}
	if len(entries) == 0 {
		return nil, err
	}
	return entries, nil
}

// ParticipantTotals reads lifetime totals straight from the result store.
func (s *GameService) ParticipantTotals(ctx context.Context, userID string) (domain.ParticipantTotals, error) {
	if s.results == nil {
		return domain.ParticipantTotals{UserID: userID}, nil
	}
	totals, err := s.results.GetParticipantTotals(ctx, userID)
	if err != nil {
		return domain.ParticipantTotals{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return totals, nil
}

func (s *GameService) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{LiveSessions: s.sessions.Count()}
	for _, session := range s.sessions.List() {
		if session.Phase().Status() == domain.StatusActive {
			stats.ActiveSessions++
		}
	}
	if s.catalog != nil {
		quizzes, err := s.catalog.ListQuizzes(ctx)
		if err != nil {
			return Stats{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
		stats.TotalQuizzes = len(quizzes)
	}
	if counter, ok := s.results.(PlayerCounter); ok {
		n, err := counter.CountPlayers(ctx)
		if err != nil {
			return Stats{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
		stats.TotalPlayers = n
	}
	return stats, nil
}

func (s *GameService) lookup(sessionID string) (*Session, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// newSessionCode returns an 8 character upper-case hex code.
func newSessionCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
