package ingest_test

import (
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/openstrap/internal/ingest"
	"github.com/srg/openstrap/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func historyFrame(unix uint32, bpm uint8, rr ...uint16) []byte {
	return (&protocol.Frame{
		Type: protocol.PacketTypeHistoricalData,
		Data: protocol.EncodeHistoryData(unix, 0, bpm, rr),
	}).MustEncode()
}

func capture(frames ...[]byte) []byte {
	var out []byte
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestParseHistory(t *testing.T) {
	t.Run("decodes history and skips other frames", func(t *testing.T) {
		meta := (&protocol.Frame{
			Type: protocol.PacketTypeMetadata,
			Cmd:  uint8(protocol.MetadataHistoryEnd),
			Data: protocol.EncodeMetadataData(1700000000, 2),
		}).MustEncode()
		corrupt := historyFrame(1700000099, 99)
		corrupt[5] ^= 0x01

		blob := capture(
			historyFrame(1700000000, 60, 800, 810),
			meta,
			corrupt,
			historyFrame(1700000001, 61, 790),
		)

		recs, stats := ingest.ParseHistory(blob, quietLogger())
		require.Len(t, recs, 2)
		assert.Equal(t, uint32(1700000000), recs[0].Timestamp)
		assert.Equal(t, uint8(61), recs[1].HeartRate)
		assert.Equal(t, 1, stats.Malformed, "corrupted frame MUST be skipped")
		assert.Equal(t, 1, stats.NotHistory, "metadata MUST NOT decode as telemetry")
		assert.Equal(t, 0, stats.DiscardedBytes)

		require.NotNil(t, recs[0].HRVRMSSD)
		assert.InDelta(t, 15.811, *recs[0].HRVRMSSD, 0.001, "pooled [800,810,790] MUST give the reference RMSSD")
		assert.Equal(t, recs[0].HRVRMSSD, recs[1].HRVRMSSD)
	})

	t.Run("truncated final frame is dropped", func(t *testing.T) {
		last := historyFrame(1700000001, 61)
		blob := capture(historyFrame(1700000000, 60), last[:len(last)-3])

		recs, stats := ingest.ParseHistory(blob, quietLogger())
		assert.Len(t, recs, 1)
		assert.Equal(t, len(last)-3, stats.DiscardedBytes)
	})

	t.Run("empty input", func(t *testing.T) {
		recs, stats := ingest.ParseHistory(nil, quietLogger())
		assert.Empty(t, recs)
		assert.Zero(t, stats.Frames)
	})

	t.Run("json shape", func(t *testing.T) {
		recs, _ := ingest.ParseHistory(historyFrame(1700000000, 60), quietLogger())
		out, err := json.Marshal(recs)
		require.NoError(t, err)
		assert.JSONEq(t, `[{"timestamp":1700000000,"heart_rate":60,"rr_intervals":[],"hrv_rmssd":null}]`, string(out))
	})
}

func TestWithHRVWindows(t *testing.T) {
	recs := make([]protocol.TelemetryRecord, 25)
	for i := range recs {
		recs[i] = protocol.TelemetryRecord{Timestamp: uint32(i), RR: []uint16{uint16(800 + i*10)}}
	}
	recs[24].RR = nil

	out := ingest.WithHRV(recs, 10)
	require.Len(t, out, 25)
	for _, window := range [][2]int{{0, 10}, {10, 20}, {20, 25}} {
		first := out[window[0]].HRVRMSSD
		require.NotNil(t, first, "window starting at %d MUST have RMSSD", window[0])
		for i := window[0]; i < window[1]; i++ {
			assert.Equal(t, *first, *out[i].HRVRMSSD, "record %d MUST share its window's RMSSD", i)
		}
	}
	assert.Equal(t, []uint16{}, out[24].RRIntervals)
}

func TestDecoderStats(t *testing.T) {
	short := (&protocol.Frame{Type: protocol.PacketTypeHistoricalData, Data: make([]byte, 10)}).MustEncode()
	bad := protocol.EncodeHistoryData(1700000000, 0, 60, nil)
	bad = append(bad[:15], 9)
	badCount := (&protocol.Frame{Type: protocol.PacketTypeHistoricalData, Data: bad}).MustEncode()

	d := ingest.NewDecoder(quietLogger())
	assert.Nil(t, d.Decode(short).Record)
	res := d.Decode(badCount)
	require.NotNil(t, res.Record)
	assert.Equal(t, protocol.AnomalyRRCount, res.Record.Anomaly)
	assert.Empty(t, res.Record.RR)

	stats := d.Stats()
	assert.Equal(t, 2, stats.Frames)
	assert.Equal(t, 1, stats.TooShort)
	assert.Equal(t, 1, stats.Anomalies)
	assert.Equal(t, 1, stats.Records)
}
