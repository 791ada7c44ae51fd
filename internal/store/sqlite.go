package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS packets (
			id    INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid  TEXT    NOT NULL,
			bytes BLOB    NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS heart_rate (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			time     INTEGER NOT NULL UNIQUE,
			bpm      INTEGER NOT NULL,
			rr       TEXT    NOT NULL DEFAULT '',
			activity INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_heart_rate_activity ON heart_rate (activity)`,
	},
}

// NewSQLite opens (or creates) a SQLite database at path and runs the schema migration.
func NewSQLite(ctx context.Context, path string, logger *logrus.Logger) (Store, error) {
	if logger == nil {
		logger = logrus.New()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &sqlStore{db: db, dialect: sqliteDialect, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite db: %w", err)
	}

	logger.WithField("path", path).Debug("SQLite store opened")
	return s, nil
}
