package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/bananalabs-oss/retro/internal/models"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"
)

// Connect opens the database named by databaseURL. "postgres://" and
// "postgresql://" URLs go through pgx, anything else is treated as a sqlite
// path with an optional "sqlite://" prefix.
func Connect(databaseURL string) (*bun.DB, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return connectPostgres(databaseURL)
	}
	return connectSQLite(strings.TrimPrefix(databaseURL, "sqlite://"))
}

func connectSQLite(path string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// sqlite allows a single writer; one connection also keeps pragmas and
	// in-memory databases bound to the same handle.
	sqldb.SetMaxOpenConns(1)

	if _, err := sqldb.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if _, err := sqldb.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := sqldb.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("path", path).Msg("connected to sqlite")
	return db, nil
}

func connectPostgres(databaseURL string) (*bun.DB, error) {
	sqldb, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("connected to postgres")
	return db, nil
}

func Migrate(ctx context.Context, db *bun.DB) error {
	log.Info().Msg("running database migrations")

	tables := []interface{}{
		(*models.Room)(nil),
		(*models.Member)(nil),
		(*models.Card)(nil),
		(*models.Vote)(nil),
	}

	for _, model := range tables {
		_, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table for %T: %w", model, err)
		}
	}

	indexes := []struct {
		name  string
		query string
	}{
		{
			"idx_room_members_name",
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_room_members_name ON room_members (room_id, name)",
		},
		{
			"idx_room_members_id",
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_room_members_id ON room_members (room_id, id)",
		},
		{
			"idx_cards_room",
			"CREATE INDEX IF NOT EXISTS idx_cards_room ON cards (room_id, position)",
		},
		{
			"idx_rooms_emptied",
			"CREATE INDEX IF NOT EXISTS idx_rooms_emptied ON rooms (emptied_at)",
		},
	}

	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx.query); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	log.Info().Msg("migrations complete")
	return nil
}
