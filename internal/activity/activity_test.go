package activity_test

import (
	"testing"
	"time"

	"github.com/srg/openstrap/internal/activity"
	"github.com/srg/openstrap/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 22, 0, 0, 0, time.UTC)

// series builds one reading per minute with the given bpm values.
func series(bpms ...uint8) []store.HeartRateReading {
	out := make([]store.HeartRateReading, len(bpms))
	for i, b := range bpms {
		out[i] = store.HeartRateReading{ID: int64(i + 1), Time: t0.Add(time.Duration(i) * time.Minute), BPM: b}
	}
	return out
}

func repeat(v uint8, n int) []uint8 {
	out := make([]uint8, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// night is 40 minutes of resting heart rate followed by 20 minutes of exercise.
func night() []store.HeartRateReading {
	return series(append(repeat(50, 40), repeat(90, 20)...)...)
}

func TestThresholdClassifier(t *testing.T) {
	c := activity.NewThresholdClassifier()

	t.Run("sustained resting run is sleep and elevated run is active", func(t *testing.T) {
		labels, err := c.Classify(night())
		require.NoError(t, err)
		require.Len(t, labels, 60)

		assert.Equal(t, store.ActivitySleep, labels[0])
		assert.Equal(t, store.ActivitySleep, labels[30])
		assert.Equal(t, store.ActivityActive, labels[59])
	})

	t.Run("short resting run is inactive", func(t *testing.T) {
		labels, err := c.Classify(series(append(repeat(50, 10), repeat(90, 10)...)...))
		require.NoError(t, err)
		assert.Equal(t, store.ActivityInactive, labels[0], "run shorter than the minimum MUST NOT be sleep")
	})

	t.Run("gap splits a resting run", func(t *testing.T) {
		readings := series(repeat(50, 40)...)
		for i := 20; i < len(readings); i++ {
			readings[i].Time = readings[i].Time.Add(time.Hour)
		}
		labels, err := c.Classify(readings)
		require.NoError(t, err)
		for i, l := range labels {
			assert.Equal(t, store.ActivityInactive, l, "reading %d MUST NOT be sleep after a split into two 20-reading runs", i)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		a, _ := c.Classify(night())
		b, _ := c.Classify(night())
		assert.Equal(t, a, b)
	})

	t.Run("empty input", func(t *testing.T) {
		labels, err := c.Classify(nil)
		require.NoError(t, err)
		assert.Empty(t, labels)
	})
}

func TestSegments(t *testing.T) {
	readings := series(50, 50, 90, 90, 90, 50)
	labels := []store.Activity{
		store.ActivitySleep, store.ActivitySleep,
		store.ActivityActive, store.ActivityActive, store.ActivityActive,
		store.ActivityInactive,
	}

	segs := activity.Segments(readings, labels)
	require.Len(t, segs, 3)
	assert.Equal(t, store.ActivitySleep, segs[0].Activity)
	assert.Equal(t, 2, segs[0].Count)
	assert.Equal(t, time.Minute, segs[0].Duration())
	assert.Equal(t, "active", segs[1].Label)
	assert.Equal(t, readings[2].Time, segs[1].Start)
	assert.Equal(t, readings[4].Time, segs[1].End)
	assert.Equal(t, 1, segs[2].Count)
}
