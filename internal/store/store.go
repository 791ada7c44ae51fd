// Package store persists raw packets and decoded heart-rate readings.
//
// Two SQL backends share one implementation: SQLite (modernc, pure Go) for the
// local default and PostgreSQL (lib/pq) for a shared server. Rows are inserted
// one statement at a time, so each insert is atomic on its own.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when an update targets a missing row.
var ErrNotFound = errors.New("not found")

// Activity is the classification assigned by the segmentation pass.
type Activity int

const (
	ActivityUnknown Activity = iota
	ActivityActive
	ActivityInactive
	ActivitySleep
)

func (a Activity) String() string {
	switch a {
	case ActivityActive:
		return "active"
	case ActivityInactive:
		return "inactive"
	case ActivitySleep:
		return "sleep"
	default:
		return "unknown"
	}
}

// ParseActivity is the inverse of Activity.String.
func ParseActivity(s string) (Activity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unknown":
		return ActivityUnknown, nil
	case "active":
		return ActivityActive, nil
	case "inactive":
		return ActivityInactive, nil
	case "sleep":
		return ActivitySleep, nil
	default:
		return ActivityUnknown, fmt.Errorf("unknown activity %q", s)
	}
}

// Packet is one raw frame exactly as received.
type Packet struct {
	ID    int64
	UUID  uuid.UUID
	Bytes []byte
}

// HeartRateReading is a decoded sample. Activity is nil until classified.
type HeartRateReading struct {
	ID       int64
	Time     time.Time
	BPM      uint8
	RR       []uint16
	Activity *Activity
}

// SearchOptions selects readings for the segmentation pass and exports.
type SearchOptions struct {
	// From is an exclusive lower bound on reading time.
	From time.Time
	// ActivityAbsent restricts results to unclassified readings.
	ActivityAbsent bool
	// Limit caps the result size; zero means no limit.
	Limit int
}

// Store is the persistence contract used by the session, replay and metrics passes.
type Store interface {
	// InsertPacket stores raw frame bytes under a correlation id and returns the row id.
	InsertPacket(ctx context.Context, id uuid.UUID, data []byte) (int64, error)
	// GetPacketsAfter returns up to limit packets with ID > after, ordered by ID.
	GetPacketsAfter(ctx context.Context, after int64, limit int) ([]Packet, error)
	// InsertHeartRateReading stores a reading; a reading with an existing timestamp is ignored.
	InsertHeartRateReading(ctx context.Context, r HeartRateReading) error
	// SearchReadings returns readings ordered by time.
	SearchReadings(ctx context.Context, opts SearchOptions) ([]HeartRateReading, error)
	// UpdateActivity labels one reading.
	UpdateActivity(ctx context.Context, id int64, activity Activity) error
	Close() error
}

// Open connects to the store named by dsn.
//
//	sqlite://path/to/file.db, sqlite::memory:, file.db  -> SQLite
//	postgres://..., postgresql://...                    -> PostgreSQL
func Open(ctx context.Context, dsn string, logger *logrus.Logger) (Store, error) {
	if logger == nil {
		logger = logrus.New()
	}

	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(ctx, dsn, logger)
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"), logger)
	case strings.HasPrefix(dsn, "sqlite:"):
		return NewSQLite(ctx, strings.TrimPrefix(dsn, "sqlite:"), logger)
	case dsn == "":
		return nil, fmt.Errorf("database url is empty")
	case !strings.Contains(dsn, "://"):
		return NewSQLite(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("unsupported database url %q", dsn)
	}
}
