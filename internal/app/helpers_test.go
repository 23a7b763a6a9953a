package app_test

import (
	"context"
	"testing"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"buzzer-quiz-service/internal/infra/memory"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

var (
	host = domain.Identity{UserID: "host", DisplayName: "Host", Role: domain.RoleAdmin}
	p1   = domain.Identity{UserID: "p1", DisplayName: "Alice", Role: domain.RolePlayer}
	p2   = domain.Identity{UserID: "p2", DisplayName: "Bob", Role: domain.RolePlayer}
)

const waitTimeout = 2 * time.Second

type harness struct {
	service *app.GameService
	clock   *clockwork.FakeClock
	results *memory.ResultStore
	writer  *app.AsyncWriter
	store   *memory.SessionStore
}

func newHarness(t *testing.T, opts ...app.Option) *harness {
	t.Helper()
	clock := clockwork.NewFakeClock()
	results := memory.NewResultStore()
	writer := app.NewAsyncWriter(app.WriterConfig{QueueSize: 1024, Retries: 1, Backoff: time.Millisecond}, clockwork.NewRealClock(), zerolog.Nop())
	writer.Start()
	t.Cleanup(writer.Stop)

	store := memory.NewSessionStore()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(testQuizzes()), time.Minute)
	base := []app.Option{
		app.WithClock(clock),
		app.WithConfig(app.Config{TickInterval: time.Second, SubscriberBuffer: 256}),
	}
	service := app.NewGameService(store, quizzes, results, writer, append(base, opts...)...)
	return &harness{service: service, clock: clock, results: results, writer: writer, store: store}
}

func testQuizzes() map[string]domain.Quiz {
	mc := func(id, correct string) domain.Question {
		return domain.Question{
			ID:   id,
			Text: "Pick " + correct,
			Kind: domain.KindMultipleChoice,
			Options: []domain.Option{
				{Key: "a", Text: "A"},
				{Key: "b", Text: "B"},
			},
			CorrectKey: correct,
		}
	}
	return map[string]domain.Quiz{
		"two-mc": {
			ID:              "two-mc",
			Title:           "Two questions",
			Scoring:         domain.ScoringRule{CorrectPoints: 10, WrongPoints: 5},
			TimePerQuestion: 30,
			Questions:       []domain.Question{mc("q1", "b"), mc("q2", "a")},
		},
		"short": {
			ID:              "short",
			Title:           "Short timer",
			Scoring:         domain.ScoringRule{CorrectPoints: 10, WrongPoints: 5},
			TimePerQuestion: 3,
			Questions:       []domain.Question{mc("q1", "a"), mc("q2", "b")},
		},
		"open": {
			ID:              "open",
			Title:           "Open ended",
			Scoring:         domain.ScoringRule{CorrectPoints: 10, WrongPoints: 5},
			TimePerQuestion: 30,
			Questions: []domain.Question{
				{ID: "q1", Text: "Capital of France?", Kind: domain.KindOpenEnded, ReferenceAnswer: "Paris"},
				mc("q2", "a"),
			},
		},
		"empty": {ID: "empty", Title: "Nothing here"},
	}
}

// createAndJoin creates a session for quizID and joins host plus players.
func (h *harness) createAndJoin(t *testing.T, quizID string, players ...domain.Identity) (string, map[string]*app.Subscription) {
	t.Helper()
	ctx := context.Background()
	snap, err := h.service.CreateSession(ctx, host, quizID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	subs := make(map[string]*app.Subscription)
	for _, who := range append([]domain.Identity{host}, players...) {
		sub, _, err := h.service.Join(ctx, snap.SessionID, who)
		if err != nil {
			t.Fatalf("join %s: %v", who.UserID, err)
		}
		subs[who.UserID] = sub
	}
	return snap.SessionID, subs
}

// waitFor reads events until one of type typ arrives.
func waitFor(t *testing.T, sub *app.Subscription, typ app.EventType) app.Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case evt, ok := <-sub.Events:
			if !ok {
				t.Fatalf("subscription %s closed while waiting for %s", sub.UserID, typ)
			}
			if evt.Type == typ {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s on %s", typ, sub.UserID)
		}
	}
}

// drain returns whatever is buffered right now.
func drain(sub *app.Subscription) []app.Event {
	var out []app.Event
	for {
		select {
		case evt, ok := <-sub.Events:
			if !ok {
				return out
			}
			out = append(out, evt)
		default:
			return out
		}
	}
}

// tick advances the fake clock one second at a time, waiting for each
// timer_update so no tick is coalesced.
func (h *harness) tick(t *testing.T, watcher *app.Subscription, seconds int) []app.Event {
	t.Helper()
	var seen []app.Event
	for i := 0; i < seconds; i++ {
		h.clock.Advance(time.Second)
		deadline := time.After(waitTimeout)
	wait:
		for {
			select {
			case evt, ok := <-watcher.Events:
				if !ok {
					t.Fatalf("watcher closed")
				}
				seen = append(seen, evt)
				if evt.Type == app.EventTimerUpdate {
					break wait
				}
			case <-deadline:
				t.Fatalf("timed out waiting for tick %d", i+1)
			}
		}
	}
	return seen
}

func hasType(events []app.Event, typ app.EventType) bool {
	for _, evt := range events {
		if evt.Type == typ {
			return true
		}
	}
	return false
}

func scoreOf(board []domain.LeaderboardEntry, userID string) int {
	for _, e := range board {
		if e.UserID == userID {
			return e.Score
		}
	}
	return 0
}
