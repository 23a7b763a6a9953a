package http

import (
	"net/http"

	"buzzer-quiz-service/internal/domain"
	"github.com/gin-gonic/gin"
)

type optionRequest struct {
	Key  string `json:"key" binding:"required,max=32"`
	Text string `json:"text" binding:"required,max=500"`
}

type questionRequest struct {
	ID              string          `json:"id" binding:"omitempty,max=64"`
	Text            string          `json:"text" binding:"required,max=2000"`
	Kind            string          `json:"kind" binding:"required,oneof=multipleChoice openEnded"`
	Options         []optionRequest `json:"options" binding:"required_if=Kind multipleChoice,dive"`
	CorrectKey      string          `json:"correctKey" binding:"required_if=Kind multipleChoice,max=32"`
	ReferenceAnswer string          `json:"referenceAnswer" binding:"max=2000"`
}

type createQuizRequest struct {
	ID              string            `json:"id" binding:"omitempty,max=64"`
	Title           string            `json:"title" binding:"required,min=1,max=255"`
	CorrectPoints   *int              `json:"correctPoints" binding:"omitempty,min=0"`
	WrongPoints     *int              `json:"wrongPoints" binding:"omitempty,min=0"`
	TimePerQuestion *int              `json:"timePerQuestion" binding:"omitempty,min=1,max=3600"`
	Questions       []questionRequest `json:"questions" binding:"required,min=1,dive"`
}

// toQuiz fills unset scoring fields with 10 points right, 5 wrong and 30s.
func (r createQuizRequest) toQuiz() domain.Quiz {
	quiz := domain.Quiz{
		ID:              r.ID,
		Title:           r.Title,
		Scoring:         domain.ScoringRule{CorrectPoints: 10, WrongPoints: 5},
		TimePerQuestion: 30,
		Questions:       make([]domain.Question, len(r.Questions)),
	}
	if r.CorrectPoints != nil {
		quiz.Scoring.CorrectPoints = *r.CorrectPoints
	}
	if r.WrongPoints != nil {
		quiz.Scoring.WrongPoints = *r.WrongPoints
	}
	if r.TimePerQuestion != nil {
		quiz.TimePerQuestion = *r.TimePerQuestion
	}
	for i, q := range r.Questions {
		question := domain.Question{
			ID:              q.ID,
			Text:            q.Text,
			Kind:            domain.QuestionKind(q.Kind),
			CorrectKey:      q.CorrectKey,
			ReferenceAnswer: q.ReferenceAnswer,
		}
		for _, opt := range q.Options {
			question.Options = append(question.Options, domain.Option{Key: opt.Key, Text: opt.Text})
		}
		quiz.Questions[i] = question
	}
	return quiz
}

func (a *api) listQuizzes(c *gin.Context) {
	list, err := a.service.ListQuizzes(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quizzes": list})
}

func (a *api) getQuiz(c *gin.Context) {
	viewer := domain.Identity{Role: domain.RolePlayer}
	if who, err := a.identity.Resolve(c.Request); err == nil {
		viewer = who
	}
	quiz, err := a.service.QuizDetail(c.Request.Context(), viewer, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quiz)
}

func (a *api) createQuiz(c *gin.Context) {
	who, err := a.identity.Resolve(c.Request)
	if err != nil {
		writeError(c, err)
		return
	}
	var req createQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": domain.CodeInvalidPayload, "message": err.Error()})
		return
	}
	quiz, err := a.service.CreateQuiz(c.Request.Context(), who, req.toQuiz())
	if err != nil {
		writeError(c, err)
		return
	}
	a.log.Info().Str("quiz_id", quiz.ID).Str("user_id", who.UserID).Msg("quiz created")
	c.JSON(http.StatusCreated, quiz)
}
