package domain

import "errors"

var (
	// ErrSessionNotFound is returned for unknown or already torn down sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidTransition is returned when an event is not allowed in the current phase.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrStaleBuzz is returned for buzzes aimed at a question that is not open.
	ErrStaleBuzz = errors.New("stale buzz")
	// ErrUnauthorized is returned when the caller may not perform the action.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrParticipantNotFound is returned when a score change targets someone who never joined.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrNotBuzzWinner is returned when someone other than the locked-in winner answers.
	ErrNotBuzzWinner = errors.New("only the buzz winner may answer")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrEmptyQuiz indicates a quiz without questions.
	ErrEmptyQuiz = errors.New("quiz has no questions")
	// ErrInvalidQuiz is returned for authored quiz content that cannot be played.
	ErrInvalidQuiz = errors.New("invalid quiz")
	// ErrPersistence wraps storage failures after an accepted in-memory transition.
	ErrPersistence = errors.New("persistence failure")
)

// Wire error codes.
const (
	CodeInvalidTransition  = "invalid_transition"
	CodeStaleBuzz          = "stale_buzz"
	CodeUnauthorized       = "unauthorized"
	CodeSessionNotFound    = "session_not_found"
	CodePersistenceFailure = "persistence_failure"
	CodeQuizNotFound       = "quiz_not_found"
	CodeInvalidPayload     = "invalid_payload"
	CodeUnsupported        = "unsupported"
	CodeInternal           = "internal"
)

// Code maps an error to its wire code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrStaleBuzz):
		return CodeStaleBuzz
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotBuzzWinner), errors.Is(err, ErrParticipantNotFound):
		return CodeUnauthorized
	case errors.Is(err, ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, ErrQuizNotFound), errors.Is(err, ErrEmptyQuiz):
		return CodeQuizNotFound
	case errors.Is(err, ErrInvalidQuiz):
		return CodeInvalidPayload
	case errors.Is(err, ErrPersistence):
		return CodePersistenceFailure
	default:
		return CodeInternal
	}
}
