package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"buzzer-quiz-service/internal/app"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Publisher mirrors session events to NATS on <prefix>.<sessionId>.<eventType>.
// It implements app.EventSink; the async writer calls it, never a session.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	log    zerolog.Logger
}

type envelope struct {
	EventID   string          `json:"eventId"`
	EventType app.EventType   `json:"eventType"`
	SessionID string          `json:"sessionId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func NewPublisher(cfg Config, log zerolog.Logger) (*Publisher, error) {
	log = log.With().Str("component", "nats_publisher").Logger()
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "buzzer.events"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("buzzer-quiz-service"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Publisher{nc: nc, prefix: cfg.SubjectPrefix, log: log}, nil
}

func (p *Publisher) Publish(_ context.Context, sessionID string, evt app.Event) error {
	msg, err := buildMsg(p.prefix, sessionID, evt)
	if err != nil {
		return err
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	p.log.Debug().Str("subject", msg.Subject).Msg("event published")
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}

func buildMsg(prefix, sessionID string, evt app.Event) (*nats.Msg, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", evt.Type, err)
	}
	id := uuid.NewString()
	data, err := json.Marshal(envelope{
		EventID:   id,
		EventType: evt.Type,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return &nats.Msg{
		Subject: Subject(prefix, sessionID, evt.Type),
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(evt.Type)},
			"Session-ID": []string{sessionID},
			"Event-ID":   []string{id},
		},
	}, nil
}

// Subject builds the routing subject. Tokens are sanitised so a session code
// can never inject NATS wildcards or separators.
func Subject(prefix, sessionID string, typ app.EventType) string {
	return prefix + "." + token(sessionID) + "." + token(string(typ))
}

func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
