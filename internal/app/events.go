package app

import "buzzer-quiz-service/internal/domain"

// EventType names an outbound message.
type EventType string

const (
	EventJoinedSession     EventType = "joined_session"
	EventGameStarted       EventType = "game_started"
	EventQuestionUpdate    EventType = "question_update"
	EventPlayerBuzzed      EventType = "player_buzzed"
	EventBuzzRejected      EventType = "buzz_rejected"
	EventAnswerSubmitted   EventType = "answer_submitted"
	EventAnswerResult      EventType = "answer_result"
	EventTimerUpdate       EventType = "timer_update"
	EventTimeUp            EventType = "time_up"
	EventLeaderboardUpdate EventType = "leaderboard_update"
	EventPlayersUpdate     EventType = "players_update"
	EventGameEnded         EventType = "game_ended"
	EventError             EventType = "error"
)

// Audience scopes an event within its session.
type Audience int

const (
	AudienceAll Audience = iota
	AudienceAdmins
	AudiencePlayers
)

func (a Audience) includes(role domain.Role) bool {
	switch a {
	case AudienceAdmins:
		return role == domain.RoleAdmin
	case AudiencePlayers:
		return role != domain.RoleAdmin
	default:
		return true
	}
}

// Event is one state-change notification produced by a session.
type Event struct {
	Type     EventType `json:"type"`
	Payload  any       `json:"payload"`
	Audience Audience  `json:"-"`
}

type GameStartedPayload struct {
	Quiz domain.QuizSummary `json:"quiz"`
}

type QuestionUpdatePayload struct {
	Question      domain.Question `json:"question"`
	QuestionIndex int             `json:"questionIndex"`
	TimeLimit     int             `json:"timeLimit"`
}

type PlayerBuzzedPayload struct {
	UserID string `json:"userId"`
}

type BuzzRejectedPayload struct {
	Winner string `json:"winner"`
}

type AnswerSubmittedPayload struct {
	UserID string `json:"userId"`
	Answer string `json:"answer"`
}

type AnswerResultPayload struct {
	UserID    string `json:"userId"`
	IsCorrect bool   `json:"isCorrect"`
	Points    int    `json:"points"`
}

type TimerUpdatePayload struct {
	TimeLeft int `json:"timeLeft"`
}

type TimeUpPayload struct {
	QuestionIndex int `json:"questionIndex"`
}

type LeaderboardPayload struct {
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
}

type PlayersPayload struct {
	Players []domain.PlayerPresence `json:"players"`
}

type GameEndedPayload struct {
	FinalLeaderboard []domain.LeaderboardEntry `json:"finalLeaderboard"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
