package app

import (
	"context"
	"fmt"
	"strings"

	"buzzer-quiz-service/internal/domain"
)

// Start opens question 0. Host only, from waiting.
func (s *Session) Start(who domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorizeLocked(who); err != nil {
		return err
	}
	if s.phase != domain.PhaseWaiting {
		return invalidTransition("start", s.phase)
	}
	if len(s.quiz.Questions) == 0 {
		return domain.ErrEmptyQuiz
	}

	s.emitLocked(Event{Type: EventGameStarted, Payload: GameStartedPayload{Quiz: s.quiz.Summary()}})
	s.openQuestionLocked(0)
	s.saveLocked()
	return nil
}

// Next skips an open question or advances from a scored one. A buzzed
// question must be resolved first.
func (s *Session) Next(who domain.Identity) error {
	ended, err := s.next(who)
	if ended {
		s.notifyEnded()
	}
	return err
}

func (s *Session) next(who domain.Identity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorizeLocked(who); err != nil {
		return false, err
	}
	switch s.phase {
	case domain.PhaseQuestionActive:
		s.stopTimerLocked()
		s.phase = domain.PhaseScored
	case domain.PhaseScored:
	default:
		return false, invalidTransition("next", s.phase)
	}
	s.advanceLocked()
	return s.phase == domain.PhaseEnded, nil
}

// End terminates the game early from any non-terminal phase.
func (s *Session) End(who domain.Identity) error {
	s.mu.Lock()
	if err := s.authorizeLocked(who); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.phase == domain.PhaseEnded {
		phase := s.phase
		s.mu.Unlock()
		return invalidTransition("end", phase)
	}
	s.stopTimerLocked()
	s.endLocked()
	s.mu.Unlock()

	s.notifyEnded()
	return nil
}

// SubmitAnswer takes the buzz winner's answer. Multiple-choice questions
// resolve immediately; open-ended answers are forwarded to admins.
func (s *Session) SubmitAnswer(userID, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != domain.PhaseBuzzed {
		return invalidTransition("submit_answer", s.phase)
	}
	if userID != s.winner {
		return domain.ErrNotBuzzWinner
	}

	q := s.quiz.Questions[s.index]
	if q.Kind == domain.KindMultipleChoice {
		correct := strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(q.CorrectKey))
		s.resolveLocked(correct)
		return nil
	}

	s.emitLocked(Event{
		Type:     EventAnswerSubmitted,
		Payload:  AnswerSubmittedPayload{UserID: userID, Answer: answer},
		Audience: AudienceAdmins,
	})
	return nil
}

// Resolve is the admin's verdict on the buzz winner's answer.
func (s *Session) Resolve(who domain.Identity, isCorrect bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorizeLocked(who); err != nil {
		return err
	}
	if s.phase != domain.PhaseBuzzed {
		return invalidTransition("resolve", s.phase)
	}
	s.resolveLocked(isCorrect)
	return nil
}

func (s *Session) authorizeLocked(who domain.Identity) error {
	if !who.IsAdmin() {
		return fmt.Errorf("%w: admin role required", domain.ErrUnauthorized)
	}
	if s.hostID != "" && who.UserID != s.hostID {
		return fmt.Errorf("%w: only the host controls session %s", domain.ErrUnauthorized, s.id)
	}
	return nil
}

func (s *Session) openQuestionLocked(index int) {
	s.index = index
	s.winner = ""
	s.winnerRecord = -1
	s.phase = domain.PhaseQuestionActive

	limit := s.quiz.TimePerQuestion
	if limit <= 0 {
		limit = s.deps.defaultLimit
	}
	s.timeLeft = limit

	// the ticker must exist before anyone can observe the new question
	s.timerGen++
	gen := s.timerGen
	s.timer = startCountdown(s.deps.clock, s.deps.tick, limit, func(left int) {
		s.onTick(gen, left)
	})

	q := s.quiz.Questions[index]
	s.emitLocked(Event{
		Type:     EventQuestionUpdate,
		Payload:  QuestionUpdatePayload{Question: q.Public(), QuestionIndex: index, TimeLimit: limit},
		Audience: AudiencePlayers,
	})
	s.emitLocked(Event{
		Type:     EventQuestionUpdate,
		Payload:  QuestionUpdatePayload{Question: q, QuestionIndex: index, TimeLimit: limit},
		Audience: AudienceAdmins,
	})
}

// onTick runs on the countdown goroutine. A tick from a cancelled countdown
// can still arrive after the transition that cancelled it; the generation
// check drops it.
func (s *Session) onTick(gen uint64, left int) {
	s.mu.Lock()
	if gen != s.timerGen || s.phase != domain.PhaseQuestionActive {
		s.mu.Unlock()
		return
	}
	s.timeLeft = left
	s.emitLocked(Event{Type: EventTimerUpdate, Payload: TimerUpdatePayload{TimeLeft: left}})
	if left > 0 {
		s.mu.Unlock()
		return
	}

	s.expireLocked()
	ended := s.phase == domain.PhaseEnded
	s.mu.Unlock()

	if ended {
		s.notifyEnded()
	}
}

func (s *Session) expireLocked() {
	s.stopTimerLocked()
	s.phase = domain.PhaseScored
	s.emitLocked(Event{Type: EventTimeUp, Payload: TimeUpPayload{QuestionIndex: s.index}})
	s.deps.log.Debug().Int("question", s.index).Msg("question timed out")
	s.advanceLocked()
}

func (s *Session) advanceLocked() {
	if s.index+1 < len(s.quiz.Questions) {
		s.openQuestionLocked(s.index + 1)
		s.saveLocked()
		return
	}
	s.endLocked()
}

func (s *Session) stopTimerLocked() {
	s.timerGen++
	s.timer.stop()
	s.timer = nil
}

func (s *Session) resolveLocked(correct bool) {
	rule := s.quiz.Scoring
	delta := -rule.WrongPoints
	if correct {
		delta = rule.CorrectPoints
	}

	if p, ok := s.participants[s.winner]; ok {
		s.applyDeltaLocked(p, delta)
	}
	if s.winnerRecord >= 0 && s.winnerRecord < len(s.records) {
		rec := &s.records[s.winnerRecord]
		c, pts := correct, delta
		rec.Correct = &c
		rec.Points = &pts
		s.recordBuzzLocked(*rec)
	}

	s.phase = domain.PhaseScored
	s.emitLocked(Event{Type: EventAnswerResult, Payload: AnswerResultPayload{UserID: s.winner, IsCorrect: correct, Points: delta}})
	s.emitLocked(Event{Type: EventLeaderboardUpdate, Payload: LeaderboardPayload{Leaderboard: s.leaderboardLocked()}})
}

func (s *Session) endLocked() {
	s.phase = domain.PhaseEnded
	s.timeLeft = 0
	board := s.leaderboardLocked()
	s.emitLocked(Event{Type: EventGameEnded, Payload: GameEndedPayload{FinalLeaderboard: board}})

	if results := s.deps.results; results != nil && s.index >= 0 {
		scores := make([]domain.ScoreDelta, len(board))
		for i, e := range board {
			scores[i] = domain.ScoreDelta{UserID: e.UserID, DisplayName: e.DisplayName, Delta: e.Score}
		}
		id := s.id
		s.enqueueLocked("persist_final_scores", func(ctx context.Context) error {
			return results.PersistFinalScores(ctx, id, scores)
		})
	}
	s.saveLocked()
	s.deps.log.Info().Int("players", len(board)).Msg("game ended")
}

func (s *Session) notifyEnded() {
	if s.deps.onEnded != nil {
		s.deps.onEnded(s.id)
	}
}

func invalidTransition(event string, phase domain.Phase) error {
	return fmt.Errorf("%w: %s from %s", domain.ErrInvalidTransition, event, phase)
}
