package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"buzzer-quiz-service/internal/infra/memory"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var hostIdentity = domain.Identity{UserID: "host", DisplayName: "Host", Role: domain.RoleAdmin}

func newTestServer(t *testing.T) (*httptest.Server, *app.GameService) {
	t.Helper()
	store := memory.NewSessionStore()
	loader := memory.NewStaticQuizLoader(sampleQuiz())
	quizRepo := memory.NewQuizRepository(loader, time.Minute)
	service := app.NewGameService(store, quizRepo, memory.NewResultStore(), nil, app.WithCatalog(loader))
	router := NewRouter(service, QueryResolver{}, RouterConfig{}, zerolog.Nop())
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, service
}

func dial(t *testing.T, server *httptest.Server, params url.Values) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?" + params.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketBuzzFlow(t *testing.T) {
	server, service := newTestServer(t)
	snap, err := service.CreateSession(context.Background(), hostIdentity, "quiz-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	hostConn := dial(t, server, url.Values{"userId": {"host"}, "name": {"Host"}, "role": {"admin"}, "sessionId": {snap.SessionID}})
	readNext(hostConn, t, "joined_session")

	player := dial(t, server, url.Values{"userId": {"u1"}, "name": {"Alice"}})
	send(t, player, "join_session", map[string]any{"sessionId": snap.SessionID})
	_, joined := readNext(player, t, "joined_session")
	if joined["sessionId"] != snap.SessionID {
		t.Fatalf("expected snapshot for %s, got %v", snap.SessionID, joined["sessionId"])
	}

	send(t, hostConn, "start_game", nil)
	_, question := readUntil(player, t, "question_update")
	if q, ok := question["question"].(map[string]any); !ok || q["correctKey"] != nil {
		t.Fatalf("players must not see the correct key: %v", question["question"])
	}

	send(t, player, "buzz", map[string]any{"questionIndex": 0})
	_, buzzed := readUntil(hostConn, t, "player_buzzed")
	if buzzed["userId"] != "u1" {
		t.Fatalf("expected u1 to win, got %v", buzzed["userId"])
	}

	send(t, player, "submit_answer", map[string]any{"answer": "o2"})
	_, result := readUntil(player, t, "answer_result")
	if result["isCorrect"] != true || result["points"] != float64(10) {
		t.Fatalf("unexpected answer result %v", result)
	}
	_, board := readUntil(player, t, "leaderboard_update")
	entries, _ := board["leaderboard"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected one leaderboard entry, got %v", board)
	}

	send(t, hostConn, "end_game", nil)
	readUntil(player, t, "game_ended")
}

func TestWebSocketErrorReplies(t *testing.T) {
	server, service := newTestServer(t)
	snap, err := service.CreateSession(context.Background(), hostIdentity, "quiz-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	player := dial(t, server, url.Values{"userId": {"u1"}, "sessionId": {snap.SessionID}})
	readNext(player, t, "joined_session")

	// stale buzz before the game starts is dropped without a reply
	send(t, player, "buzz", nil)

	send(t, player, "shout", nil)
	if _, payload := readUntil(player, t, "error"); payload["code"] != domain.CodeUnsupported {
		t.Fatalf("expected unsupported, got %v", payload)
	}

	if err := player.WriteJSON(map[string]any{"type": "resolve_answer", "payload": "yes"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, payload := readUntil(player, t, "error"); payload["code"] != domain.CodeInvalidPayload {
		t.Fatalf("expected invalid_payload, got %v", payload)
	}

	send(t, player, "start_game", nil)
	if _, payload := readUntil(player, t, "error"); payload["code"] != domain.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", payload)
	}

	send(t, player, "join_session", map[string]any{"sessionId": "NOPE"})
	if _, payload := readUntil(player, t, "error"); payload["code"] != domain.CodeSessionNotFound {
		t.Fatalf("expected session_not_found, got %v", payload)
	}
}

func TestWebSocketRequiresIdentity(t *testing.T) {
	server, _ := newTestServer(t)
	u := "ws" + server.URL[len("http"):] + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}

// readUntil skips everything (timer ticks, roster updates) until expect arrives.
func readUntil(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	for i := 0; i < 50; i++ {
		typ, payload := readNext(conn, t, "")
		if typ == expect {
			return typ, payload
		}
	}
	t.Fatalf("no %s within 50 messages", expect)
	return "", nil
}

func sampleQuiz() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:              "quiz-1",
			Title:           "Arithmetic",
			Scoring:         domain.ScoringRule{CorrectPoints: 10, WrongPoints: 5},
			TimePerQuestion: 30,
			Questions: []domain.Question{
				{
					ID:   "q1",
					Text: "What is 2 + 2?",
					Kind: domain.KindMultipleChoice,
					Options: []domain.Option{
						{Key: "o1", Text: "3"},
						{Key: "o2", Text: "4"},
						{Key: "o3", Text: "5"},
					},
					CorrectKey: "o2",
				},
			},
		},
		"empty": {ID: "empty", Title: "Nothing"},
	}
}
