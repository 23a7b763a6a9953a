package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"buzzer-quiz-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuizLoader reads quizzes and their ordered questions from Postgres.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	quiz := domain.Quiz{ID: quizID}
	err := l.pool.QueryRow(ctx,
		`SELECT title, correct_points, wrong_points, time_per_question FROM quizzes WHERE id=$1`, quizID,
	).Scan(&quiz.Title, &quiz.Scoring.CorrectPoints, &quiz.Scoring.WrongPoints, &quiz.TimePerQuestion)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}

	rows, err := l.pool.Query(ctx,
		`SELECT id, text, kind, options, correct_key, reference_answer
		   FROM questions WHERE quiz_id=$1 ORDER BY position`, quizID)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			q       domain.Question
			kind    string
			options []byte
		)
		if err := rows.Scan(&q.ID, &q.Text, &kind, &options, &q.CorrectKey, &q.ReferenceAnswer); err != nil {
			return domain.Quiz{}, fmt.Errorf("scan question: %w", err)
		}
		q.Kind = domain.QuestionKind(kind)
		if len(options) > 0 {
			if err := json.Unmarshal(options, &q.Options); err != nil {
				return domain.Quiz{}, fmt.Errorf("unmarshal options of %s: %w", q.ID, err)
			}
		}
		quiz.Questions = append(quiz.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return domain.Quiz{}, fmt.Errorf("load questions: %w", err)
	}
	return quiz, nil
}

// ListQuizzes returns every quiz with its question count, newest first.
func (l *QuizLoader) ListQuizzes(ctx context.Context) ([]domain.QuizSummary, error) {
	rows, err := l.pool.Query(ctx, `
SELECT q.id, q.title, q.correct_points, q.wrong_points, q.time_per_question, count(qs.id)
  FROM quizzes q
  LEFT JOIN questions qs ON qs.quiz_id = q.id
 GROUP BY q.id
 ORDER BY q.created_at DESC, q.id`)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	var out []domain.QuizSummary
	for rows.Next() {
		var sum domain.QuizSummary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Scoring.CorrectPoints, &sum.Scoring.WrongPoints, &sum.TimePerQuestion, &sum.QuestionCount); err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	return out, nil
}

// SaveQuiz replaces a quiz and its questions in one transaction.
func (l *QuizLoader) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	return l.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO quizzes (id, title, correct_points, wrong_points, time_per_question)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    title = EXCLUDED.title,
    correct_points = EXCLUDED.correct_points,
    wrong_points = EXCLUDED.wrong_points,
    time_per_question = EXCLUDED.time_per_question`,
			quiz.ID, quiz.Title, quiz.Scoring.CorrectPoints, quiz.Scoring.WrongPoints, quiz.TimePerQuestion,
		); err != nil {
			return fmt.Errorf("upsert quiz: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE quiz_id=$1`, quiz.ID); err != nil {
			return fmt.Errorf("clear questions: %w", err)
		}

		batch := &pgx.Batch{}
		for i, q := range quiz.Questions {
			options, err := json.Marshal(q.Options)
			if err != nil {
				return fmt.Errorf("marshal options of %s: %w", q.ID, err)
			}
			if q.Options == nil {
				options = []byte("[]")
			}
			batch.Queue(`
INSERT INTO questions (quiz_id, id, position, text, kind, options, correct_key, reference_answer)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				quiz.ID, q.ID, i, q.Text, string(q.Kind), options, q.CorrectKey, q.ReferenceAnswer)
		}
		br := tx.SendBatch(ctx, batch)
		for range quiz.Questions {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert question: %w", err)
			}
		}
		return br.Close()
	})
}
