package postgres

import (
	"context"
	"errors"
	"fmt"

	"buzzer-quiz-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ResultStore persists the buzz audit log, session rows and lifetime totals.
// Every write is an upsert so the async writer can safely retry it.
type ResultStore struct {
	pool *pgxpool.Pool
}

func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

func (s *ResultStore) RecordBuzz(ctx context.Context, rec domain.BuzzRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO buzz_log (id, session_id, question_index, user_id, received_at, outcome, was_correct, points_awarded)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    was_correct = EXCLUDED.was_correct,
    points_awarded = EXCLUDED.points_awarded`,
		rec.ID, rec.SessionID, rec.QuestionIndex, rec.UserID, rec.ReceivedAt, string(rec.Outcome), rec.Correct, rec.Points,
	)
	if err != nil {
		return fmt.Errorf("record buzz: %w", err)
	}
	return nil
}

func (s *ResultStore) SaveSession(ctx context.Context, rec domain.SessionRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO game_sessions (id, quiz_id, host_id, status, current_question, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    current_question = EXCLUDED.current_question,
    updated_at = now()`,
		rec.ID, rec.QuizID, rec.HostID, string(rec.Status), rec.CurrentQuestion, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// PersistFinalScores records each participant's result and folds it into
// their lifetime totals. A participant row that already exists means an
// earlier attempt got through, so totals are not bumped twice.
func (s *ResultStore) PersistFinalScores(ctx context.Context, sessionID string, scores []domain.ScoreDelta) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		for _, sc := range scores {
			tag, err := tx.Exec(ctx, `
INSERT INTO game_participants (session_id, user_id, display_name, final_score)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id, user_id) DO NOTHING`,
				sessionID, sc.UserID, sc.DisplayName, sc.Delta)
			if err != nil {
				return fmt.Errorf("insert participant %s: %w", sc.UserID, err)
			}
			if tag.RowsAffected() == 0 {
				continue
			}
			if _, err := tx.Exec(ctx, `
INSERT INTO users (id, display_name, total_score, games_played)
VALUES ($1, $2, $3, 1)
ON CONFLICT (id) DO UPDATE SET
    display_name = CASE WHEN EXCLUDED.display_name = '' THEN users.display_name ELSE EXCLUDED.display_name END,
    total_score = users.total_score + EXCLUDED.total_score,
    games_played = users.games_played + 1,
    updated_at = now()`,
				sc.UserID, sc.DisplayName, sc.Delta); err != nil {
				return fmt.Errorf("update totals %s: %w", sc.UserID, err)
			}
		}
		return nil
	})
}

func (s *ResultStore) GetParticipantTotals(ctx context.Context, userID string) (domain.ParticipantTotals, error) {
	totals := domain.ParticipantTotals{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT total_score, games_played FROM users WHERE id=$1`, userID,
	).Scan(&totals.TotalScore, &totals.GamesPlayed)
	if errors.Is(err, pgx.ErrNoRows) {
		return totals, nil
	}
	if err != nil {
		return domain.ParticipantTotals{}, fmt.Errorf("participant totals: %w", err)
	}
	return totals, nil
}

// CountPlayers reports how many users have a totals row.
func (s *ResultStore) CountPlayers(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count players: %w", err)
	}
	return n, nil
}
