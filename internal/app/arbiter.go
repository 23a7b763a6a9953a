package app

import (
	"context"
	"fmt"
	"time"

	"buzzer-quiz-service/internal/domain"
	"github.com/google/uuid"
)

// CurrentQuestion targets whatever question is open when the buzz is serialized.
const CurrentQuestion = -1

// BuzzResult is the arbiter's answer to one attempt.
type BuzzResult struct {
	Accepted bool   `json:"accepted"`
	Winner   string `json:"winner"`
}

// AttemptBuzz races userID for the winner slot of questionIndex.
//
// The session lock is the serialization point: whoever acquires it first
// while the question is open wins. receivedAt is only recorded for audit and
// never used for ordering. A repeat call by the winner is a no-op returning
// the original acceptance. Attempts after the slot is taken are recorded as
// late and answered with buzz_rejected on the caller's connection.
func (s *Session) AttemptBuzz(userID string, questionIndex int, receivedAt time.Time) (BuzzResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[userID]
	if !ok || p.Role == domain.RoleAdmin {
		return BuzzResult{}, fmt.Errorf("%w: %s may not buzz", domain.ErrUnauthorized, userID)
	}

	if questionIndex == CurrentQuestion {
		questionIndex = s.index
	}
	if s.phase.Status() != domain.StatusActive || questionIndex != s.index {
		return BuzzResult{}, domain.ErrStaleBuzz
	}

	if s.winner != "" {
		if s.winner == userID {
			return BuzzResult{Accepted: true, Winner: userID}, nil
		}
		s.appendRecordLocked(userID, receivedAt, domain.OutcomeLate)
		s.replyLocked(userID, Event{Type: EventBuzzRejected, Payload: BuzzRejectedPayload{Winner: s.winner}})
		return BuzzResult{Accepted: false, Winner: s.winner}, nil
	}

	// slot empty but the question already timed out or was skipped
	if s.phase != domain.PhaseQuestionActive {
		return BuzzResult{}, domain.ErrStaleBuzz
	}

	s.winner = userID
	s.winnerRecord = s.appendRecordLocked(userID, receivedAt, domain.OutcomeWinner)
	s.stopTimerLocked()
	s.phase = domain.PhaseBuzzed
	s.emitLocked(Event{Type: EventPlayerBuzzed, Payload: PlayerBuzzedPayload{UserID: userID}})

	return BuzzResult{Accepted: true, Winner: userID}, nil
}

func (s *Session) appendRecordLocked(userID string, receivedAt time.Time, outcome domain.BuzzOutcome) int {
	if receivedAt.IsZero() {
		receivedAt = s.deps.clock.Now()
	}
	rec := domain.BuzzRecord{
		ID:            uuid.NewString(),
		SessionID:     s.id,
		QuestionIndex: s.index,
		UserID:        userID,
		ReceivedAt:    receivedAt,
		Outcome:       outcome,
	}
	s.records = append(s.records, rec)
	s.recordBuzzLocked(rec)
	return len(s.records) - 1
}

func (s *Session) recordBuzzLocked(rec domain.BuzzRecord) {
	results := s.deps.results
	if results == nil {
		return
	}
	s.enqueueLocked("record_buzz", func(ctx context.Context) error {
		return results.RecordBuzz(ctx, rec)
	})
}
