package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Inbound message types.
const (
	msgJoinSession   = "join_session"
	msgStartGame     = "start_game"
	msgBuzz          = "buzz"
	msgSubmitAnswer  = "submit_answer"
	msgResolveAnswer = "resolve_answer"
	msgNextQuestion  = "next_question"
	msgEndGame       = "end_game"
)

type WSHandler struct {
	service  *app.GameService
	identity IdentityResolver
	clock    clockwork.Clock
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService, identity IdentityResolver, allowedOrigins []string, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service:  service,
		identity: identity,
		clock:    clockwork.NewRealClock(),
		log:      log.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// sessionPayload is shared by every inbound message; sessionId may be
// omitted once the connection has joined. Any userId a client sends is
// ignored in favour of the verified identity.
type sessionPayload struct {
	SessionID string `json:"sessionId"`
}

type buzzPayload struct {
	SessionID     string `json:"sessionId"`
	QuestionIndex *int   `json:"questionIndex"`
}

type answerPayload struct {
	SessionID string `json:"sessionId"`
	Answer    string `json:"answer"`
}

type resolvePayload struct {
	SessionID string `json:"sessionId"`
	IsCorrect *bool  `json:"isCorrect"`
}

// client is one socket. Only the read loop touches sessionID and sub.
type client struct {
	h    *WSHandler
	conn *websocket.Conn
	who  domain.Identity
	log  zerolog.Logger

	send   chan app.Event
	closed chan struct{}
	wg     sync.WaitGroup

	sessionID   string
	sub         *app.Subscription
	stopForward chan struct{}
}

// ServeWS upgrades the request and runs the connection until either side
// closes it. A sessionId query parameter joins immediately.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	who, err := h.identity.Resolve(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	c := &client{
		h:      h,
		conn:   conn,
		who:    who,
		log:    h.log.With().Str("user_id", who.UserID).Logger(),
		send:   make(chan app.Event, sendBuffer),
		closed: make(chan struct{}),
	}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	if id := r.URL.Query().Get("sessionId"); id != "" {
		c.join(id)
	}
	c.readPump()

	// teardown: stop forwarding, leave, then let the writer drain and exit
	c.detach()
	close(c.closed)
	c.wg.Wait()
	close(c.send)
	<-writerDone
}

func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("ws read")
			}
			return
		}
		c.handle(msg, c.h.clock.Now())
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.send:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(evt); err != nil {
				c.log.Debug().Err(err).Msg("ws write")
				c.drain()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.drain()
				return
			}
		}
	}
}

// drain keeps consuming after a write failure so producers never block; the
// read loop notices the closed socket and tears down.
func (c *client) drain() {
	_ = c.conn.Close()
	for range c.send {
	}
}

func (c *client) handle(msg inboundMessage, receivedAt time.Time) {
	ctx := context.Background()
	svc := c.h.service

	var err error
	switch msg.Type {
	case msgJoinSession:
		var p sessionPayload
		if err = decode(msg.Payload, &p); err == nil {
			if p.SessionID == "" {
				err = errInvalidPayload
			} else {
				c.join(p.SessionID)
				return
			}
		}
	case msgStartGame:
		var p sessionPayload
		if err = decode(msg.Payload, &p); err == nil {
			err = svc.Start(ctx, c.target(p.SessionID), c.who)
		}
	case msgBuzz:
		var p buzzPayload
		if err = decode(msg.Payload, &p); err == nil {
			index := app.CurrentQuestion
			if p.QuestionIndex != nil {
				index = *p.QuestionIndex
			}
			_, err = svc.Buzz(ctx, c.target(p.SessionID), c.who, index, receivedAt)
			if errors.Is(err, domain.ErrStaleBuzz) {
				return
			}
		}
	case msgSubmitAnswer:
		var p answerPayload
		if err = decode(msg.Payload, &p); err == nil {
			err = svc.SubmitAnswer(ctx, c.target(p.SessionID), c.who, p.Answer)
		}
	case msgResolveAnswer:
		var p resolvePayload
		if err = decode(msg.Payload, &p); err == nil {
			if p.IsCorrect == nil {
				err = errInvalidPayload
			} else {
				err = svc.Resolve(ctx, c.target(p.SessionID), c.who, *p.IsCorrect)
			}
		}
	case msgNextQuestion:
		var p sessionPayload
		if err = decode(msg.Payload, &p); err == nil {
			err = svc.Next(ctx, c.target(p.SessionID), c.who)
		}
	case msgEndGame:
		var p sessionPayload
		if err = decode(msg.Payload, &p); err == nil {
			err = svc.End(ctx, c.target(p.SessionID), c.who)
		}
	default:
		c.reply(errorEvent(errUnsupported, "unsupported message type "+msg.Type))
		return
	}

	if err != nil {
		c.log.Debug().Err(err).Str("type", msg.Type).Str("session_id", c.sessionID).Msg("rejected")
		c.reply(errorEvent(err, err.Error()))
	}
}

// join moves the connection onto a session channel. The previous
// subscription is only left once the new join succeeded.
func (c *client) join(sessionID string) {
	prev, prevSession := c.sub, c.sessionID
	if prev != nil {
		close(c.stopForward)
	}

	sub, _, err := c.h.service.Join(context.Background(), sessionID, c.who)
	if err != nil {
		if prev != nil {
			c.stopForward = make(chan struct{})
			c.wg.Add(1)
			go c.forward(prev, c.stopForward)
		}
		c.reply(errorEvent(err, err.Error()))
		return
	}
	if prev != nil {
		c.h.service.Leave(context.Background(), prevSession, prev.ID)
	}
	c.sessionID = sessionID
	c.sub = sub
	c.stopForward = make(chan struct{})
	c.log.Info().Str("session_id", sessionID).Str("role", string(c.who.Role)).Msg("joined session")

	c.wg.Add(1)
	go c.forward(sub, c.stopForward)
}

// forward copies session events to the socket. If the session closes the
// subscription (slow consumer or a newer connection for the same user) the
// socket is closed so the client reconnects and re-syncs.
func (c *client) forward(sub *app.Subscription, stop <-chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case evt, ok := <-sub.Events:
			if !ok {
				select {
				case <-stop:
				default:
					c.log.Info().Str("session_id", sub.SessionID).Msg("subscription closed by session")
					_ = c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscription closed"),
						time.Now().Add(writeWait))
					_ = c.conn.Close()
				}
				return
			}
			select {
			case c.send <- evt:
			case <-c.closed:
				return
			}
		case <-stop:
			return
		case <-c.closed:
			return
		}
	}
}

func (c *client) detach() {
	if c.sub == nil {
		return
	}
	close(c.stopForward)
	c.h.service.Leave(context.Background(), c.sessionID, c.sub.ID)
	c.sub = nil
}

func (c *client) target(sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	return c.sessionID
}

func (c *client) reply(evt app.Event) {
	select {
	case c.send <- evt:
	case <-c.closed:
	}
}

var (
	errInvalidPayload = errors.New("invalid payload")
	errUnsupported    = errors.New("unsupported")
)

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errInvalidPayload
	}
	return nil
}

func errorEvent(err error, message string) app.Event {
	code := domain.Code(err)
	switch {
	case errors.Is(err, errInvalidPayload):
		code = domain.CodeInvalidPayload
	case errors.Is(err, errUnsupported):
		code = domain.CodeUnsupported
	}
	return app.Event{Type: app.EventError, Payload: app.ErrorPayload{Code: code, Message: message}}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
