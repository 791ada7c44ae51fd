// Package ingest turns raw frames into telemetry records. The same Decoder
// serves the live session, the batch boundary and packet replay, so all three
// classify and skip frames identically.
package ingest

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/openstrap/internal/protocol"
	"github.com/srg/openstrap/internal/store"
)

// Stats counts what a Decoder has seen.
type Stats struct {
	Frames     int `json:"frames"`
	Records    int `json:"records"`
	Malformed  int `json:"malformed"`
	TooShort   int `json:"too_short"`
	Anomalies  int `json:"anomalies"`
	NotHistory int `json:"not_history"`
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Frames += other.Frames
	s.Records += other.Records
	s.Malformed += other.Malformed
	s.TooShort += other.TooShort
	s.Anomalies += other.Anomalies
	s.NotHistory += other.NotHistory
}

// Result is the outcome of decoding one raw frame. Exactly one of Record and
// Metadata is set when Frame is non-nil and the frame carries either.
type Result struct {
	Frame    *protocol.Frame
	Record   *protocol.TelemetryRecord
	Metadata *protocol.Metadata
	Err      error
}

// Decoder validates and decodes raw frames, logging anomalies.
// Not safe for concurrent use.
type Decoder struct {
	logger *logrus.Logger
	stats  Stats
}

// NewDecoder creates a decoder.
func NewDecoder(logger *logrus.Logger) *Decoder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Decoder{logger: logger}
}

// Stats returns counters accumulated so far.
func (d *Decoder) Stats() Stats {
	return d.stats
}

// Decode handles one raw frame as returned by protocol.Next.
// Malformed frames and too-short payloads are logged and reported in Err;
// they never stop the caller.
func (d *Decoder) Decode(raw []byte) Result {
	d.stats.Frames++

	f, err := protocol.Parse(raw)
	if err != nil {
		d.stats.Malformed++
		d.logger.WithFields(logrus.Fields{
			"error": err,
			"bytes": len(raw),
		}).Warn("Skipping malformed frame")
		return Result{Err: err}
	}

	res := Result{Frame: f}
	switch f.Type {
	case protocol.PacketTypeHistoricalData:
		rec, err := protocol.DecodeHistory(f)
		if err != nil {
			if errors.Is(err, protocol.ErrPayloadTooShort) {
				d.stats.TooShort++
			}
			d.logger.WithFields(logrus.Fields{
				"error": err,
				"seq":   f.Seq,
			}).Warn("Skipping undecodable history frame")
			res.Err = err
			return res
		}
		if rec.Anomaly != protocol.AnomalyNone {
			d.stats.Anomalies++
			d.logger.WithFields(logrus.Fields{
				"anomaly":   rec.Anomaly,
				"rr_count":  rec.RRCount,
				"timestamp": rec.Timestamp,
			}).Warn("History record decoded with anomaly")
		}
		d.stats.Records++
		res.Record = &rec

	case protocol.PacketTypeMetadata:
		d.stats.NotHistory++
		md, err := protocol.DecodeMetadata(f)
		if err != nil {
			d.logger.WithError(err).Warn("Skipping undecodable metadata frame")
			res.Err = err
			return res
		}
		res.Metadata = &md

	default:
		d.stats.NotHistory++
		d.logger.WithFields(logrus.Fields{
			"type": f.Type,
			"cmd":  f.Cmd,
			"seq":  f.Seq,
		}).Debug("Ignoring non-history frame")
	}
	return res
}

// Reading converts a decoded record into a storable reading.
func Reading(rec protocol.TelemetryRecord) store.HeartRateReading {
	rr := rec.RR
	if rr == nil {
		rr = []uint16{}
	}
	return store.HeartRateReading{
		Time: time.Unix(int64(rec.Timestamp), 0).UTC(),
		BPM:  rec.HeartRate,
		RR:   rr,
	}
}
