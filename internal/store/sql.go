package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// dialect captures the few SQL differences between backends.
type dialect struct {
	name string
	// numbered placeholders ($1) instead of ?
	numbered bool
	schema   []string
}

// bind rewrites ? placeholders for the dialect.
func (d dialect) bind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlStore implements Store over database/sql.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	logger  *logrus.Logger
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	s.logger.WithField("dialect", s.dialect.name).Debug("Database schema is up to date")
	return nil
}

// Close closes the underlying database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) InsertPacket(ctx context.Context, id uuid.UUID, data []byte) (int64, error) {
	var rowID int64
	err := s.db.QueryRowContext(ctx,
		s.dialect.bind("INSERT INTO packets (uuid, bytes) VALUES (?, ?) RETURNING id"),
		id.String(), data,
	).Scan(&rowID)
	if err != nil {
		return 0, fmt.Errorf("insert packet: %w", err)
	}
	return rowID, nil
}

func (s *sqlStore) GetPacketsAfter(ctx context.Context, after int64, limit int) ([]Packet, error) {
	query := "SELECT id, uuid, bytes FROM packets WHERE id > ? ORDER BY id"
	args := []any{after}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query packets: %w", err)
	}
	defer rows.Close()

	var packets []Packet
	for rows.Next() {
		var (
			p      Packet
			rawID  string
			rawBuf []byte
		)
		if err := rows.Scan(&p.ID, &rawID, &rawBuf); err != nil {
			return nil, fmt.Errorf("scan packet: %w", err)
		}
		if p.UUID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("packet %d: invalid uuid: %w", p.ID, err)
		}
		p.Bytes = rawBuf
		packets = append(packets, p)
	}
	return packets, rows.Err()
}

func (s *sqlStore) InsertHeartRateReading(ctx context.Context, r HeartRateReading) error {
	var activity any
	if r.Activity != nil {
		activity = int(*r.Activity)
	}
	_, err := s.db.ExecContext(ctx,
		s.dialect.bind("INSERT INTO heart_rate (time, bpm, rr, activity) VALUES (?, ?, ?, ?) ON CONFLICT (time) DO NOTHING"),
		r.Time.Unix(), int(r.BPM), FormatRR(r.RR), activity,
	)
	if err != nil {
		return fmt.Errorf("insert heart rate reading: %w", err)
	}
	return nil
}

func (s *sqlStore) SearchReadings(ctx context.Context, opts SearchOptions) ([]HeartRateReading, error) {
	query := "SELECT id, time, bpm, rr, activity FROM heart_rate WHERE time > ?"
	args := []any{opts.From.Unix()}
	if opts.ActivityAbsent {
		query += " AND activity IS NULL"
	}
	query += " ORDER BY time"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var readings []HeartRateReading
	for rows.Next() {
		var (
			r        HeartRateReading
			unix     int64
			bpm      int64
			rr       string
			activity sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &unix, &bpm, &rr, &activity); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Time = time.Unix(unix, 0).UTC()
		r.BPM = uint8(bpm)
		if r.RR, err = ParseRR(rr); err != nil {
			return nil, fmt.Errorf("reading %d: %w", r.ID, err)
		}
		if activity.Valid {
			a := Activity(activity.Int64)
			r.Activity = &a
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func (s *sqlStore) UpdateActivity(ctx context.Context, id int64, activity Activity) error {
	res, err := s.db.ExecContext(ctx,
		s.dialect.bind("UPDATE heart_rate SET activity = ? WHERE id = ?"),
		int(activity), id,
	)
	if err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("reading %d: %w", id, ErrNotFound)
	}
	return nil
}
