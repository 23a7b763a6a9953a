package http

import (
	"errors"
	"net/http"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterConfig carries the transport-level settings.
type RouterConfig struct {
	AllowedOrigins []string
}

type api struct {
	service  *app.GameService
	identity IdentityResolver
	log      zerolog.Logger
}

type createSessionRequest struct {
	QuizID string `json:"quizId" binding:"required"`
}

// NewRouter wires the REST endpoints and the WebSocket upgrade route.
func NewRouter(service *app.GameService, identity IdentityResolver, cfg RouterConfig, log zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	a := &api{service: service, identity: identity, log: log.With().Str("component", "api").Logger()}
	ws := NewWSHandler(service, identity, cfg.AllowedOrigins, log)

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/ws", gin.WrapF(ws.ServeWS))

	sessions := router.Group("/api/sessions")
	{
		sessions.POST("", a.createSession)
		sessions.GET("/:id", a.getSession)
		sessions.GET("/:id/leaderboard", a.getLeaderboard)
	}
	quizzes := router.Group("/api/quizzes")
	{
		quizzes.GET("", a.listQuizzes)
		quizzes.POST("", a.createQuiz)
		quizzes.GET("/:id", a.getQuiz)
	}
	router.GET("/api/players/:id/totals", a.getTotals)
	router.GET("/api/stats", a.getStats)
	return router
}

func (a *api) createSession(c *gin.Context) {
	who, err := a.identity.Resolve(c.Request)
	if err != nil {
		writeError(c, err)
		return
	}
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": domain.CodeInvalidPayload, "message": err.Error()})
		return
	}
	snap, err := a.service.CreateSession(c.Request.Context(), who, req.QuizID)
	if err != nil {
		writeError(c, err)
		return
	}
	a.log.Info().Str("session_id", snap.SessionID).Str("quiz_id", req.QuizID).Str("user_id", who.UserID).Msg("session created")
	c.JSON(http.StatusCreated, snap)
}

func (a *api) getSession(c *gin.Context) {
	viewer := domain.RolePlayer
	if who, err := a.identity.Resolve(c.Request); err == nil {
		viewer = who.Role
	}
	snap, err := a.service.Snapshot(c.Request.Context(), c.Param("id"), viewer)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (a *api) getLeaderboard(c *gin.Context) {
	board, err := a.service.Leaderboard(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": c.Param("id"), "entries": board})
}

func (a *api) getTotals(c *gin.Context) {
	totals, err := a.service.ParticipantTotals(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, totals)
}

func (a *api) getStats(c *gin.Context) {
	stats, err := a.service.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func writeError(c *gin.Context, err error) {
	code := domain.Code(err)
	c.JSON(httpStatus(err), gin.H{"code": code, "message": err.Error()})
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrQuizNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidQuiz):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrEmptyQuiz):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrStaleBuzz):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		evt := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			evt = log.Error()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
