package domain

import "fmt"

// Validate reports whether the quiz can be played. A quiz without questions
// yields ErrEmptyQuiz; any other defect wraps ErrInvalidQuiz.
func (q Quiz) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: quiz %q: missing id", ErrInvalidQuiz, q.Title)
	}
	if len(q.Questions) == 0 {
		return fmt.Errorf("quiz %s: %w", q.ID, ErrEmptyQuiz)
	}
	if q.TimePerQuestion < 0 {
		return fmt.Errorf("%w: quiz %s: negative timePerQuestion", ErrInvalidQuiz, q.ID)
	}

	seen := make(map[string]bool, len(q.Questions))
	for i, question := range q.Questions {
		if question.ID == "" {
			return fmt.Errorf("%w: quiz %s question %d: missing id", ErrInvalidQuiz, q.ID, i)
		}
		if seen[question.ID] {
			return fmt.Errorf("%w: quiz %s: duplicate question id %s", ErrInvalidQuiz, q.ID, question.ID)
		}
		seen[question.ID] = true

		switch question.Kind {
		case KindOpenEnded:
		case KindMultipleChoice:
			if question.CorrectKey == "" {
				return fmt.Errorf("%w: quiz %s question %s: missing correctKey", ErrInvalidQuiz, q.ID, question.ID)
			}
			if !question.hasOption(question.CorrectKey) {
				return fmt.Errorf("%w: quiz %s question %s: correctKey %s is not an option", ErrInvalidQuiz, q.ID, question.ID, question.CorrectKey)
			}
		default:
			return fmt.Errorf("%w: quiz %s question %s: unknown kind %q", ErrInvalidQuiz, q.ID, question.ID, question.Kind)
		}
	}
	return nil
}

func (q Question) hasOption(key string) bool {
	for _, opt := range q.Options {
		if opt.Key == key {
			return true
		}
	}
	return false
}
