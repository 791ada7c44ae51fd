package ingest

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/openstrap/internal/metrics"
	"github.com/srg/openstrap/internal/protocol"
)

// ParsedRecord is the externally visible form of a decoded history record.
type ParsedRecord struct {
	Timestamp   uint32   `json:"timestamp"`
	HeartRate   uint8    `json:"heart_rate"`
	RRIntervals []uint16 `json:"rr_intervals"`
	HRVRMSSD    *float64 `json:"hrv_rmssd"`
}

// BatchStats describes one ParseHistory call.
type BatchStats struct {
	Stats
	DiscardedBytes int `json:"discarded_bytes"`
}

// ParseHistory decodes a raw capture of concatenated frames. A truncated
// trailing frame is dropped; malformed and non-history frames are skipped.
// It keeps no state between calls.
func ParseHistory(blob []byte, logger *logrus.Logger) ([]ParsedRecord, BatchStats) {
	decoder := NewDecoder(logger)
	frames, discarded := protocol.SplitAll(blob)
	if discarded > 0 {
		decoder.logger.WithField("bytes", discarded).Warn("Dropping incomplete trailing frame")
	}

	recs := make([]protocol.TelemetryRecord, 0, len(frames))
	for _, raw := range frames {
		if res := decoder.Decode(raw); res.Record != nil {
			recs = append(recs, *res.Record)
		}
	}
	return WithHRV(recs, metrics.DefaultWindow), BatchStats{Stats: decoder.Stats(), DiscardedBytes: discarded}
}

// WithHRV converts records and attaches the windowed RMSSD.
func WithHRV(recs []protocol.TelemetryRecord, window int) []ParsedRecord {
	rrs := make([][]uint16, len(recs))
	for i, r := range recs {
		rrs[i] = r.RR
	}
	hrv := metrics.WindowedRMSSD(rrs, window)

	out := make([]ParsedRecord, len(recs))
	for i, r := range recs {
		rr := r.RR
		if rr == nil {
			rr = []uint16{}
		}
		out[i] = ParsedRecord{
			Timestamp:   r.Timestamp,
			HeartRate:   r.HeartRate,
			RRIntervals: rr,
			HRVRMSSD:    hrv[i],
		}
	}
	return out
}
