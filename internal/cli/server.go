package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/config"
	"buzzer-quiz-service/internal/domain"
	"buzzer-quiz-service/internal/infra/memory"
	"buzzer-quiz-service/internal/infra/natsbus"
	pgstore "buzzer-quiz-service/internal/infra/postgres"
	redisstore "buzzer-quiz-service/internal/infra/redis"
	"buzzer-quiz-service/internal/logger"
	transport "buzzer-quiz-service/internal/transport/http"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:                  cfg.Redis.Addr,
			Password:              cfg.Redis.Password,
			DB:                    cfg.Redis.DB,
			ContextTimeoutEnabled: true,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 2*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	static := memory.NewStaticQuizLoader(sampleQuizzes())
	var (
		loader  memory.QuizLoader = static
		catalog app.QuizCatalog   = static
		results app.ResultStore   = memory.NewResultStore()
	)
	if pool != nil {
		pgLoader := pgstore.NewQuizLoader(pool)
		loader, catalog = pgLoader, pgLoader
		results = pgstore.NewResultStore(pool)
	} else {
		log.Warn().Msg("postgres not configured, using in-memory quizzes and results")
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	var store app.SessionRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL, log)
		sessions := redisstore.NewSessionStore(redisClient, redisTTL, log)
		keepAliveCtx, stopKeepAlive := context.WithCancel(ctx)
		defer stopKeepAlive()
		go sessions.KeepAlive(keepAliveCtx, redisTTL/3)
		store = sessions
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
		store = memory.NewSessionStore()
	}

	var (
		sinks  app.MultiSink
		mirror *redisstore.LeaderboardMirror
	)
	if redisClient != nil {
		mirror = redisstore.NewLeaderboardMirror(redisClient, redisTTL)
		sinks = append(sinks, mirror)
	}
	if cfg.NATS.URL != "" {
		publisher, err := natsbus.NewPublisher(natsbus.Config{URL: cfg.NATS.URL, SubjectPrefix: cfg.NATS.SubjectPrefix}, log)
		if err != nil {
			return err
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
	}

	writer := app.NewAsyncWriter(app.WriterConfig{
		QueueSize: cfg.Game.PersistQueueSize,
		Retries:   cfg.Game.PersistRetries,
		Backoff:   config.TTLDuration(cfg.Game.PersistBackoff, 200*time.Millisecond),
	}, nil, log)
	writer.Start()
	// stopped after the HTTP server so in-flight sessions can still enqueue
	defer writer.Stop()

	opts := []app.Option{
		app.WithLogger(log),
		app.WithCatalog(catalog),
		app.WithConfig(app.Config{
			TickInterval:     config.TTLDuration(cfg.Game.TickInterval, time.Second),
			ClampScoreAtZero: cfg.Game.ClampScoreAtZero,
			SubscriberBuffer: cfg.Game.SubscriberBuffer,
			DefaultTimeLimit: cfg.Game.DefaultTimeLimit,
		}),
	}
	if len(sinks) > 0 {
		opts = append(opts, app.WithEventSink(sinks))
	}
	if mirror != nil {
		opts = append(opts, app.WithLeaderboardReader(mirror))
	}
	service := app.NewGameService(store, quizRepo, results, writer, opts...)

	router := transport.NewRouter(service, identityResolver(cfg, log), transport.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, log)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting quiz service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func identityResolver(cfg config.Config, log zerolog.Logger) transport.IdentityResolver {
	if cfg.Auth.JWTSecret != "" {
		return transport.NewJWTResolver(cfg.Auth.JWTSecret)
	}
	log.Warn().Msg("auth.jwt_secret not set, trusting identity query parameters")
	return transport.QueryResolver{}
}

// sampleQuizzes backs local runs without Postgres.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"demo": {
			ID:              "demo",
			Title:           "Warm-up",
			Scoring:         domain.ScoringRule{CorrectPoints: 10, WrongPoints: 5},
			TimePerQuestion: 20,
			Questions: []domain.Question{
				{
					ID:   "q1",
					Text: "What is 2 + 2?",
					Kind: domain.KindMultipleChoice,
					Options: []domain.Option{
						{Key: "a", Text: "3"},
						{Key: "b", Text: "4"},
						{Key: "c", Text: "5"},
					},
					CorrectKey: "b",
				},
				{
					ID:              "q2",
					Text:            "Name the largest planet in the solar system.",
					Kind:            domain.KindOpenEnded,
					ReferenceAnswer: "Jupiter",
				},
			},
		},
	}
}
