package domain

import "time"

// QuestionKind distinguishes self-resolving questions from admin-judged ones.
type QuestionKind string

const (
	KindMultipleChoice QuestionKind = "multipleChoice"
	KindOpenEnded      QuestionKind = "openEnded"
)

// Role is the verified role supplied by the auth collaborator.
type Role string

const (
	RoleAdmin  Role = "admin"
	RolePlayer Role = "player"
)

// SessionStatus is the coarse, persisted lifecycle of a session.
type SessionStatus string

const (
	StatusWaiting   SessionStatus = "waiting"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// Phase is the question flow state of a live session.
type Phase string

const (
	PhaseWaiting        Phase = "waiting"
	PhaseQuestionActive Phase = "question_active"
	PhaseBuzzed         Phase = "buzzed"
	PhaseScored         Phase = "scored"
	PhaseEnded          Phase = "ended"
)

// Status derives the session status from the flow phase.
func (p Phase) Status() SessionStatus {
	switch p {
	case PhaseWaiting:
		return StatusWaiting
	case PhaseEnded:
		return StatusCompleted
	default:
		return StatusActive
	}
}

// BuzzOutcome marks whether an attempt won the race.
type BuzzOutcome string

const (
	OutcomeWinner BuzzOutcome = "winner"
	OutcomeLate   BuzzOutcome = "late"
)

// ScoringRule holds the point deltas applied on resolution.
type ScoringRule struct {
	CorrectPoints int `json:"correctPoints"`
	WrongPoints   int `json:"wrongPoints"`
}

// Option represents a keyed choice of a multiple-choice question.
type Option struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// Question is immutable once a session starts.
type Question struct {
	ID              string       `json:"id"`
	Text            string       `json:"text"`
	Kind            QuestionKind `json:"kind"`
	Options         []Option     `json:"options,omitempty"`
	CorrectKey      string       `json:"correctKey,omitempty"`
	ReferenceAnswer string       `json:"referenceAnswer,omitempty"`
}

// Public strips answer material so the question can be shown to players.
func (q Question) Public() Question {
	q.CorrectKey = ""
	q.ReferenceAnswer = ""
	return q
}

// Quiz is an ordered collection of questions with its scoring settings.
type Quiz struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Scoring         ScoringRule `json:"scoring"`
	TimePerQuestion int         `json:"timePerQuestion"` // seconds
	Questions       []Question  `json:"questions"`
}

// QuizSummary is the player-safe view sent in game_started.
type QuizSummary struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Scoring         ScoringRule `json:"scoring"`
	TimePerQuestion int         `json:"timePerQuestion"`
	QuestionCount   int         `json:"questionCount"`
}

// Summary returns the player-safe view of the quiz.
func (q Quiz) Summary() QuizSummary {
	return QuizSummary{
		ID:              q.ID,
		Title:           q.Title,
		Scoring:         q.Scoring,
		TimePerQuestion: q.TimePerQuestion,
		QuestionCount:   len(q.Questions),
	}
}

// Identity is the verified caller supplied by the auth collaborator.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Participant is a session-scoped score holder keyed by user id.
type Participant struct {
	UserID      string
	DisplayName string
	Role        Role
	Score       int
	LastEvent   uint64
	JoinedAt    time.Time
}

// BuzzRecord is the append-only audit entry for one buzz attempt.
type BuzzRecord struct {
	ID            string      `json:"id"`
	SessionID     string      `json:"sessionId"`
	QuestionIndex int         `json:"questionIndex"`
	UserID        string      `json:"userId"`
	ReceivedAt    time.Time   `json:"receivedAt"`
	Outcome       BuzzOutcome `json:"outcome"`
	Correct       *bool       `json:"correct,omitempty"`
	Points        *int        `json:"points,omitempty"`
}

// LeaderboardEntry is a derived ranking row.
type LeaderboardEntry struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
}

// PlayerPresence is a roster row for players_update.
type PlayerPresence struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// ScoreDelta is one row of the final score write.
type ScoreDelta struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Delta       int    `json:"delta"`
}

// ParticipantTotals are the persisted lifetime totals for a user.
type ParticipantTotals struct {
	UserID      string `json:"userId"`
	TotalScore  int    `json:"totalScore"`
	GamesPlayed int    `json:"gamesPlayed"`
}

// SessionRecord is the persisted row of a session.
type SessionRecord struct {
	ID              string        `json:"id"`
	QuizID          string        `json:"quizId"`
	HostID          string        `json:"hostId"`
	Status          SessionStatus `json:"status"`
	CurrentQuestion int           `json:"currentQuestion"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// Snapshot is the full re-sync view handed to a (re)connecting client.
type Snapshot struct {
	SessionID     string             `json:"sessionId"`
	Quiz          QuizSummary        `json:"quiz"`
	HostID        string             `json:"hostId"`
	Status        SessionStatus      `json:"status"`
	Phase         Phase              `json:"phase"`
	QuestionIndex int                `json:"questionIndex"`
	Question      *Question          `json:"question,omitempty"`
	TimeLeft      int                `json:"timeLeft"`
	Winner        string             `json:"winner,omitempty"`
	Players       []PlayerPresence   `json:"players"`
	Leaderboard   []LeaderboardEntry `json:"leaderboard"`
	CreatedAt     time.Time          `json:"createdAt"`
}
