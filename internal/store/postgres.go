package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

var postgresDialect = dialect{
	name:     "postgres",
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS packets (
			id    BIGSERIAL PRIMARY KEY,
			uuid  TEXT      NOT NULL,
			bytes BYTEA     NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS heart_rate (
			id       BIGSERIAL PRIMARY KEY,
			time     BIGINT    NOT NULL UNIQUE,
			bpm      INTEGER   NOT NULL,
			rr       TEXT      NOT NULL DEFAULT '',
			activity INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_heart_rate_activity ON heart_rate (activity)`,
	},
}

// NewPostgres connects to PostgreSQL and runs the schema migration.
func NewPostgres(ctx context.Context, dsn string, logger *logrus.Logger) (Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewPostgresWithDB(db, logger)
	if err := s.(*sqlStore).migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate postgres db: %w", err)
	}
	return s, nil
}

// NewPostgresWithDB wraps an existing connection without migrating it.
func NewPostgresWithDB(db *sql.DB, logger *logrus.Logger) Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &sqlStore{db: db, dialect: postgresDialect, logger: logger}
}
