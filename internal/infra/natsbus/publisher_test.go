package natsbus

import (
	"encoding/json"
	"testing"

	"buzzer-quiz-service/internal/app"
)

func TestSubject(t *testing.T) {
	got := Subject("buzzer.events", "AB12CD34", app.EventPlayerBuzzed)
	if got != "buzzer.events.AB12CD34.player_buzzed" {
		t.Fatalf("unexpected subject %q", got)
	}
	if got := Subject("x", "a.b*>", app.EventTimeUp); got != "x.a_b__.time_up" {
		t.Fatalf("wildcards must be escaped, got %q", got)
	}
}

func TestBuildMsgEnvelope(t *testing.T) {
	msg, err := buildMsg("buzzer.events", "S1", app.Event{
		Type:    app.EventAnswerResult,
		Payload: app.AnswerResultPayload{UserID: "p1", IsCorrect: true, Points: 10},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if msg.Header.Get("Event-Type") != "answer_result" || msg.Header.Get("Session-ID") != "S1" {
		t.Fatalf("unexpected headers %+v", msg.Header)
	}

	var env struct {
		EventType string                  `json:"eventType"`
		SessionID string                  `json:"sessionId"`
		Payload   app.AnswerResultPayload `json:"payload"`
	}
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.SessionID != "S1" || env.Payload.Points != 10 || !env.Payload.IsCorrect {
		t.Fatalf("unexpected envelope %+v", env)
	}
}
