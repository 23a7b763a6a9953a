package app

import (
	"context"
	"errors"

	"buzzer-quiz-service/internal/domain"
)

// SessionRepository abstracts where live sessions are registered (in-memory, Redis-marked, etc).
// Implementations guard only the map itself; session contents are guarded by the session.
type SessionRepository interface {
	Add(session *Session) bool
	Get(sessionID string) (*Session, bool)
	DeleteIfIdle(sessionID string)
	Count() int
	List() []*Session
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizCatalog is the authoring side of quiz content: listing, reading and
// saving quizzes in the backing store.
type QuizCatalog interface {
	ListQuizzes(ctx context.Context) ([]domain.QuizSummary, error)
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
}

// QuizInvalidator is implemented by quiz caches that can forget an entry.
type QuizInvalidator interface {
	Invalidate(ctx context.Context, quizID string) error
}

// PlayerCounter is implemented by result stores that can count known players.
type PlayerCounter interface {
	CountPlayers(ctx context.Context) (int, error)
}

// ResultStore is the persistence collaborator for buzz audit, sessions and score totals.
type ResultStore interface {
	RecordBuzz(ctx context.Context, record domain.BuzzRecord) error
	SaveSession(ctx context.Context, record domain.SessionRecord) error
	PersistFinalScores(ctx context.Context, sessionID string, scores []domain.ScoreDelta) error
	GetParticipantTotals(ctx context.Context, userID string) (domain.ParticipantTotals, error)
}

// LeaderboardReader reads mirrored standings, best first. limit <= 0 means all.
type LeaderboardReader interface {
	Top(ctx context.Context, sessionID string, limit int) ([]domain.LeaderboardEntry, error)
}

// EventSink mirrors session events to an external consumer.
type EventSink interface {
	Publish(ctx context.Context, sessionID string, event Event) error
}

// MultiSink fans one event out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, sessionID string, event Event) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Publish(ctx, sessionID, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
