package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"buzzer-quiz-service/internal/config"
	"buzzer-quiz-service/internal/domain"
	pgstore "buzzer-quiz-service/internal/infra/postgres"
	redisstore "buzzer-quiz-service/internal/infra/redis"
	"buzzer-quiz-service/internal/logger"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewImportQuizCmd loads quizzes from a JSON file into Postgres and drops
// any cached copy so new sessions pick up the edit.
func NewImportQuizCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import-quiz <file.json>",
		Short: "Import or replace quizzes from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			quizzes, err := readQuizFile(args[0])
			if err != nil {
				return err
			}
			return importQuizzes(cmd.Context(), cfg, quizzes, logger.Setup(cfg.Log.Level, cfg.Log.Format))
		},
	}
}

// readQuizFile accepts either a single quiz object or an array of quizzes.
func readQuizFile(path string) ([]domain.Quiz, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var many []domain.Quiz
	if err := json.Unmarshal(data, &many); err == nil {
		return validateQuizzes(many)
	}
	var one domain.Quiz
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return validateQuizzes([]domain.Quiz{one})
}

func validateQuizzes(quizzes []domain.Quiz) ([]domain.Quiz, error) {
	for _, q := range quizzes {
		if err := q.Validate(); err != nil {
			return nil, err
		}
	}
	return quizzes, nil
}

func importQuizzes(ctx context.Context, cfg config.Config, quizzes []domain.Quiz, log zerolog.Logger) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	if err := runMigrations(ctx, cfg, log); err != nil {
		return err
	}
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	loader := pgstore.NewQuizLoader(pool)

	var cache *redisstore.QuizRepository
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB, ContextTimeoutEnabled: true})
		defer client.Close()
		cache = redisstore.NewQuizRepository(client, loader, config.TTLDuration(cfg.Quiz.TTL, 0), log)
	}

	for _, quiz := range quizzes {
		if err := loader.SaveQuiz(ctx, quiz); err != nil {
			return fmt.Errorf("save quiz %s: %w", quiz.ID, err)
		}
		if cache != nil {
			if err := cache.Invalidate(ctx, quiz.ID); err != nil {
				log.Warn().Err(err).Str("quiz_id", quiz.ID).Msg("cache invalidation failed")
			}
		}
		log.Info().Str("quiz_id", quiz.ID).Int("questions", len(quiz.Questions)).Msg("quiz imported")
	}
	return nil
}
