//go:build test

package testutils

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/srg/openstrap/internal/store"
)

// MemoryStore is an in-memory store.Store with the same ordering and
// idempotency rules as the SQL stores.
type MemoryStore struct {
	mu       sync.Mutex
	packets  []store.Packet
	readings []store.HeartRateReading
	nextID   int64
	closed   bool
}

var _ store.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) InsertPacket(_ context.Context, id uuid.UUID, data []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.packets = append(m.packets, store.Packet{ID: m.nextID, UUID: id, Bytes: append([]byte(nil), data...)})
	return m.nextID, nil
}

func (m *MemoryStore) GetPacketsAfter(_ context.Context, after int64, limit int) ([]store.Packet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Packet
	for _, p := range m.packets {
		if p.ID <= after {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) InsertHeartRateReading(_ context.Context, r store.HeartRateReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.readings {
		if existing.Time.Equal(r.Time) {
			return nil
		}
	}
	m.nextID++
	r.ID = m.nextID
	r.Time = r.Time.UTC()
	if r.RR == nil {
		r.RR = []uint16{}
	}
	m.readings = append(m.readings, r)
	return nil
}

func (m *MemoryStore) SearchReadings(_ context.Context, opts store.SearchOptions) ([]store.HeartRateReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.HeartRateReading
	for _, r := range m.readings {
		if !r.Time.After(opts.From) {
			continue
		}
		if opts.ActivityAbsent && r.Activity != nil {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateActivity(_ context.Context, id int64, activity store.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.readings {
		if m.readings[i].ID == id {
			a := activity
			m.readings[i].Activity = &a
			return nil
		}
	}
	return fmt.Errorf("reading %d: %w", id, store.ErrNotFound)
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Packets returns a copy of all stored packets.
func (m *MemoryStore) Packets() []store.Packet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Packet(nil), m.packets...)
}

// Closed reports whether Close was called.
func (m *MemoryStore) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
