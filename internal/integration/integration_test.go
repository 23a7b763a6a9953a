package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	pgstore "buzzer-quiz-service/internal/infra/postgres"
	pgmigrations "buzzer-quiz-service/internal/infra/postgres/migrations"
	infraredis "buzzer-quiz-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

var (
	host   = domain.Identity{UserID: "host", DisplayName: "Host", Role: domain.RoleAdmin}
	alice  = domain.Identity{UserID: "u1", DisplayName: "Alice", Role: domain.RolePlayer}
	bob    = domain.Identity{UserID: "u2", DisplayName: "Bob", Role: domain.RolePlayer}
	noTime time.Time
)

func TestGameEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateSchema(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgstore.NewQuizLoader(pool)
	if err := loader.SaveQuiz(ctx, sampleQuiz()); err != nil {
		t.Fatalf("save quiz: %v", err)
	}
	loaded, err := loader.LoadQuiz(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("load quiz: %v", err)
	}
	if len(loaded.Questions) != 2 || loaded.Questions[0].CorrectKey != "b" || loaded.Questions[1].Kind != domain.KindOpenEnded {
		t.Fatalf("quiz did not round trip: %+v", loaded)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	log := zerolog.Nop()
	results := pgstore.NewResultStore(pool)
	mirror := infraredis.NewLeaderboardMirror(redisClient, 5*time.Minute)
	writer := app.NewAsyncWriter(app.WriterConfig{Retries: 2, Backoff: 10 * time.Millisecond}, nil, log)
	writer.Start()

	service := app.NewGameService(
		infraredis.NewSessionStore(redisClient, 5*time.Minute, log),
		infraredis.NewQuizRepository(redisClient, loader, 5*time.Minute, log),
		results,
		writer,
		app.WithEventSink(mirror),
	)

	snap, err := service.CreateSession(ctx, host, "quiz-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	id := snap.SessionID
	for _, who := range []domain.Identity{host, alice, bob} {
		if _, _, err := service.Join(ctx, id, who); err != nil {
			t.Fatalf("join %s: %v", who.UserID, err)
		}
	}

	mustOK(t, service.Start(ctx, id, host))
	if res, err := service.Buzz(ctx, id, bob, 0, noTime); err != nil || !res.Accepted {
		t.Fatalf("bob should win the first buzz: %+v %v", res, err)
	}
	if res, _ := service.Buzz(ctx, id, alice, 0, noTime); res.Accepted {
		t.Fatalf("alice was late")
	}
	mustOK(t, service.SubmitAnswer(ctx, id, bob, "b"))
	mustOK(t, service.Next(ctx, id, host))

	if res, err := service.Buzz(ctx, id, alice, 1, noTime); err != nil || !res.Accepted {
		t.Fatalf("alice should win the second buzz: %+v %v", res, err)
	}
	mustOK(t, service.SubmitAnswer(ctx, id, alice, "Mars"))
	mustOK(t, service.Resolve(ctx, id, host, false))
	mustOK(t, service.End(ctx, id, host))

	// drain the persistence queue before reading back
	writer.Stop()

	bobTotals, err := results.GetParticipantTotals(ctx, "u2")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if bobTotals.TotalScore != 10 || bobTotals.GamesPlayed != 1 {
		t.Fatalf("unexpected bob totals %+v", bobTotals)
	}
	aliceTotals, _ := results.GetParticipantTotals(ctx, "u1")
	if aliceTotals.TotalScore != -5 || aliceTotals.GamesPlayed != 1 {
		t.Fatalf("unexpected alice totals %+v", aliceTotals)
	}

	// replaying the final write must not double count
	final := []domain.ScoreDelta{{UserID: "u2", DisplayName: "Bob", Delta: 10}, {UserID: "u1", DisplayName: "Alice", Delta: -5}}
	if err := results.PersistFinalScores(ctx, id, final); err != nil {
		t.Fatalf("replay final scores: %v", err)
	}
	if again, _ := results.GetParticipantTotals(ctx, "u2"); again != bobTotals {
		t.Fatalf("final scores applied twice: %+v", again)
	}

	var buzzes, winners int
	if err := pool.QueryRow(ctx, `SELECT count(*), count(*) FILTER (WHERE outcome='winner') FROM buzz_log WHERE session_id=$1`, id).Scan(&buzzes, &winners); err != nil {
		t.Fatalf("count buzzes: %v", err)
	}
	if buzzes != 3 || winners != 2 {
		t.Fatalf("expected 3 buzzes with 2 winners, got %d/%d", buzzes, winners)
	}

	var status string
	if err := pool.QueryRow(ctx, `SELECT status FROM game_sessions WHERE id=$1`, id).Scan(&status); err != nil {
		t.Fatalf("session row: %v", err)
	}
	if status != string(domain.StatusCompleted) {
		t.Fatalf("expected completed session row, got %s", status)
	}

	top, err := mirror.Top(ctx, id, 10)
	if err != nil {
		t.Fatalf("mirror top: %v", err)
	}
	if len(top) != 2 || top[0].UserID != "u2" || top[0].DisplayName != "Bob" {
		t.Fatalf("expected bob on top of the mirrored leaderboard, got %+v", top)
	}

	quizzes, err := loader.ListQuizzes(ctx)
	if err != nil {
		t.Fatalf("list quizzes: %v", err)
	}
	if len(quizzes) != 1 || quizzes[0].ID != "quiz-1" || quizzes[0].QuestionCount != 2 {
		t.Fatalf("unexpected quiz list %+v", quizzes)
	}
	if players, err := results.CountPlayers(ctx); err != nil || players != 2 {
		t.Fatalf("expected 2 players, got %d %v", players, err)
	}
}

func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:              "quiz-1",
		Title:           "Mixed",
		Scoring:         domain.ScoringRule{CorrectPoints: 10, WrongPoints: 5},
		TimePerQuestion: 30,
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
				Text:            "Which planet is known as the red planet?",
				Kind:            domain.KindOpenEnded,
				ReferenceAnswer: "Mars",
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
