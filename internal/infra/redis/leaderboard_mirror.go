package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// LeaderboardMirror copies each session leaderboard into Redis so standings
// outlive the session and can be read by any instance:
//
//	ZADD  buzzer:session:{id}:lb {score} {userID}
//	RPUSH buzzer:session:{id}:lb:rank {entry json} ...
//
// The sorted set serves ad hoc score queries; the rank list keeps display
// names and the engine's tie-break order and backs Top. It is an
// app.EventSink reacting to leaderboard_update and game_ended, and an
// app.LeaderboardReader for sessions no longer held in process.
type LeaderboardMirror struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLeaderboardMirror(client *redis.Client, ttl time.Duration) *LeaderboardMirror {
	return &LeaderboardMirror{client: client, ttl: ttl}
}

func (m *LeaderboardMirror) Publish(ctx context.Context, sessionID string, evt app.Event) error {
	var board []domain.LeaderboardEntry
	switch p := evt.Payload.(type) {
	case app.LeaderboardPayload:
		board = p.Leaderboard
	case app.GameEndedPayload:
		board = p.FinalLeaderboard
	default:
		return nil
	}

	key, rankKey := m.key(sessionID), m.rankKey(sessionID)
	pipe := m.client.TxPipeline()
	pipe.Del(ctx, key, rankKey)
	if len(board) > 0 {
		members := make([]redis.Z, len(board))
		rows := make([]interface{}, len(board))
		for i, e := range board {
			members[i] = redis.Z{Score: float64(e.Score), Member: e.UserID}
			raw, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal leaderboard entry: %w", err)
			}
			rows[i] = raw
		}
		pipe.ZAdd(ctx, key, members...)
		pipe.RPush(ctx, rankKey, rows...)
		if m.ttl > 0 {
			pipe.Expire(ctx, key, m.ttl)
			pipe.Expire(ctx, rankKey, m.ttl)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Top returns the mirrored standings in engine order, best first. A limit of
// zero or less returns every row.
func (m *LeaderboardMirror) Top(ctx context.Context, sessionID string, limit int) ([]domain.LeaderboardEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	rows, err := m.client.LRange(ctx, m.rankKey(sessionID), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		var e domain.LeaderboardEntry
		if err := json.Unmarshal([]byte(row), &e); err != nil {
			return nil, fmt.Errorf("decode leaderboard entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *LeaderboardMirror) key(sessionID string) string {
	return "buzzer:session:" + sessionID + ":lb"
}

func (m *LeaderboardMirror) rankKey(sessionID string) string {
	return m.key(sessionID) + ":rank"
}
