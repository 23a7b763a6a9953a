package memory

import (
	"context"
	"sync"

	"buzzer-quiz-service/internal/domain"
)

// ResultStore keeps buzz audit, session rows and lifetime totals in process.
// It is the fallback when Postgres is not configured.
type ResultStore struct {
	mu       sync.RWMutex
	buzzes   map[string]domain.BuzzRecord
	order    []string
	sessions map[string]domain.SessionRecord
	totals   map[string]domain.ParticipantTotals
	finals   map[string]bool
}

func NewResultStore() *ResultStore {
	return &ResultStore{
		buzzes:   make(map[string]domain.BuzzRecord),
		sessions: make(map[string]domain.SessionRecord),
		totals:   make(map[string]domain.ParticipantTotals),
		finals:   make(map[string]bool),
	}
}

// RecordBuzz upserts by record id, so a resolved winner overwrites its
// unresolved first write.
func (s *ResultStore) RecordBuzz(_ context.Context, record domain.BuzzRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buzzes[record.ID]; !ok {
		s.order = append(s.order, record.ID)
	}
	s.buzzes[record.ID] = record
	return nil
}

func (s *ResultStore) SaveSession(_ context.Context, record domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[record.ID] = record
	return nil
}

// PersistFinalScores folds a finished session into lifetime totals once.
func (s *ResultStore) PersistFinalScores(_ context.Context, sessionID string, scores []domain.ScoreDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finals[sessionID] {
		return nil
	}
	for _, sc := range scores {
		t := s.totals[sc.UserID]
		t.UserID = sc.UserID
		t.TotalScore += sc.Delta
		t.GamesPlayed++
		s.totals[sc.UserID] = t
	}
	s.finals[sessionID] = true
	return nil
}

func (s *ResultStore) GetParticipantTotals(_ context.Context, userID string) (domain.ParticipantTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.totals[userID]
	if !ok {
		return domain.ParticipantTotals{UserID: userID}, nil
	}
	return t, nil
}

// CountPlayers reports how many users have finished at least one game.
func (s *ResultStore) CountPlayers(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.totals), nil
}

// Buzzes returns the recorded buzz log in first-write order.
func (s *ResultStore) Buzzes() []domain.BuzzRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.BuzzRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.buzzes[id])
	}
	return out
}

func (s *ResultStore) Session(sessionID string) (domain.SessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	return rec, ok
}
