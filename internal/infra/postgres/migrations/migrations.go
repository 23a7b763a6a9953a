// Package migrations holds the Postgres schema, applied with bun's migrator
// by the migrate command and on server start.
package migrations

import "github.com/uptrace/bun/migrate"

var Migrations = migrate.NewMigrations()
