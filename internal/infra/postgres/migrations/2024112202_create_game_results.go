package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
)

//go:embed 2024112202_create_game_results.up.sql
var createGameResultsSQL string

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createGameResultsSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `
DROP TABLE IF EXISTS buzz_log;
DROP TABLE IF EXISTS game_participants;
DROP TABLE IF EXISTS game_sessions;
DROP TABLE IF EXISTS users`)
			return err
		},
	)
}
