package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// MinHistoryDataSize is the shortest history data block that is decoded.
	MinHistoryDataSize = 15
	// rrBlockEnd is the data length required for the four RR slots.
	rrBlockEnd = 24
	// MaxRRIntervals is the number of RR slots in a history record.
	MaxRRIntervals = 4
)

var (
	// ErrNotHistory classifies frames that do not carry telemetry.
	ErrNotHistory = errors.New("not a history record")
	// ErrPayloadTooShort is returned for history data shorter than MinHistoryDataSize.
	ErrPayloadTooShort = errors.New("history payload too short")
)

// Anomaly flags a recoverable oddity found while decoding a record.
type Anomaly uint8

const (
	AnomalyNone Anomaly = iota
	// AnomalyRRCount means the RR count was outside 0..4.
	AnomalyRRCount
	// AnomalyRRTruncated means RR values were announced but the data ends before them.
	AnomalyRRTruncated
)

func (a Anomaly) String() string {
	switch a {
	case AnomalyNone:
		return "none"
	case AnomalyRRCount:
		return "rr_count_out_of_range"
	case AnomalyRRTruncated:
		return "rr_truncated"
	default:
		return "unknown"
	}
}

// TelemetryRecord is one decoded history sample.
type TelemetryRecord struct {
	Timestamp  uint32
	SubSeconds uint16
	HeartRate  uint8
	RR         []uint16

	// RRCount is the raw count byte; meaningful only when the data carries it.
	RRCount uint8
	Anomaly Anomaly
}

// Time converts the record timestamp.
func (r TelemetryRecord) Time() time.Time {
	return time.Unix(int64(r.Timestamp), 0).UTC()
}

// IsHistory reports whether the frame carries a telemetry record.
func IsHistory(f *Frame) bool {
	return f != nil && f.Type == PacketTypeHistoricalData
}

// DecodeHistory decodes the data of a validated history frame.
//
// Layout (LE): [4:8) unix time, [8:10) sub-second counter, [11] bpm, [15] RR count,
// [16:24) four RR slots. RR is never nil on success.
func DecodeHistory(f *Frame) (TelemetryRecord, error) {
	if !IsHistory(f) {
		return TelemetryRecord{}, ErrNotHistory
	}

	data := f.Data
	if len(data) < MinHistoryDataSize {
		return TelemetryRecord{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooShort, len(data))
	}

	rec := TelemetryRecord{
		Timestamp:  binary.LittleEndian.Uint32(data[4:8]),
		SubSeconds: binary.LittleEndian.Uint16(data[8:10]),
		HeartRate:  data[11],
		RR:         []uint16{},
	}

	// Exactly 15 bytes: the count byte itself is absent.
	if len(data) <= 15 {
		return rec, nil
	}

	rec.RRCount = data[15]
	n := int(rec.RRCount)
	switch {
	case n > MaxRRIntervals:
		rec.Anomaly = AnomalyRRCount
	case n == 0:
	case len(data) < rrBlockEnd:
		rec.Anomaly = AnomalyRRTruncated
	default:
		rec.RR = make([]uint16, n)
		for i := 0; i < n; i++ {
			off := 16 + 2*i
			rec.RR[i] = binary.LittleEndian.Uint16(data[off : off+2])
		}
	}
	return rec, nil
}

// EncodeHistoryData builds a history data block. Used by simulators and tests.
func EncodeHistoryData(unix uint32, subsec uint16, bpm uint8, rr []uint16) []byte {
	data := make([]byte, rrBlockEnd)
	binary.LittleEndian.PutUint32(data[4:8], unix)
	binary.LittleEndian.PutUint16(data[8:10], subsec)
	data[11] = bpm
	data[15] = uint8(len(rr))
	for i := 0; i < len(rr) && i < MaxRRIntervals; i++ {
		binary.LittleEndian.PutUint16(data[16+2*i:], rr[i])
	}
	return data
}
