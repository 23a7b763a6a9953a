package app

import (
	"context"
	"errors"
	"fmt"

	"buzzer-quiz-service/internal/domain"
	"github.com/google/uuid"
)

var errNoCatalog = errors.New("no quiz catalog configured")

// ListQuizzes returns a summary per quiz in the catalog.
func (s *GameService) ListQuizzes(ctx context.Context) ([]domain.QuizSummary, error) {
	if s.catalog == nil {
		return []domain.QuizSummary{}, nil
	}
	list, err := s.catalog.ListQuizzes(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if list == nil {
		list = []domain.QuizSummary{}
	}
	return list, nil
}

// QuizDetail returns the full quiz to admins and the answer-free questions to
// everyone else.
func (s *GameService) QuizDetail(ctx context.Context, who domain.Identity, quizID string) (domain.Quiz, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if who.IsAdmin() {
		return quiz, nil
	}
	public := quiz
	public.Questions = make([]domain.Question, len(quiz.Questions))
	for i, q := range quiz.Questions {
		public.Questions[i] = q.Public()
	}
	return public, nil
}

// CreateQuiz validates and stores a quiz authored by an admin. Missing quiz
// and question ids are generated. Sessions already running keep the content
// they were created with.
func (s *GameService) CreateQuiz(ctx context.Context, who domain.Identity, quiz domain.Quiz) (domain.Quiz, error) {
	if !who.IsAdmin() {
		return domain.Quiz{}, fmt.Errorf("%w: only admins author quizzes", domain.ErrUnauthorized)
	}
	if s.catalog == nil {
		return domain.Quiz{}, fmt.Errorf("%w: %v", domain.ErrPersistence, errNoCatalog)
	}

	if quiz.ID == "" {
		quiz.ID = uuid.NewString()
	}
	quiz.Questions = append([]domain.Question(nil), quiz.Questions...)
	for i := range quiz.Questions {
		if quiz.Questions[i].ID == "" {
			quiz.Questions[i].ID = fmt.Sprintf("q%d", i+1)
		}
	}
	if err := quiz.Validate(); err != nil {
		return domain.Quiz{}, err
	}

	if err := s.catalog.SaveQuiz(ctx, quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("%w: save quiz %s: %v", domain.ErrPersistence, quiz.ID, err)
	}
	if cache, ok := s.quizzes.(QuizInvalidator); ok {
		if err := cache.Invalidate(ctx, quiz.ID); err != nil {
			s.log.Warn().Err(err).Str("quiz_id", quiz.ID).Msg("cache invalidation failed")
		}
	}
	s.log.Info().Str("quiz_id", quiz.ID).Str("author", who.UserID).Int("questions", len(quiz.Questions)).Msg("quiz saved")
	return quiz, nil
}
