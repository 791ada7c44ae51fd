// Package activity labels heart-rate readings as active, inactive or sleep
// and merges the labels into segments.
package activity

import (
	"math"
	"sort"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/srg/openstrap/internal/store"
)

// Classifier assigns one activity per reading. Readings are ordered by time
// and the result must have the same length.
type Classifier interface {
	Classify(readings []store.HeartRateReading) ([]store.Activity, error)
}

// Segment is a run of consecutive readings sharing one activity.
type Segment struct {
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
	Activity store.Activity `json:"-"`
	Label    string         `json:"activity"`
	Count    int            `json:"count"`
}

// Duration spans the first to the last reading of the segment.
func (s Segment) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Segments merges consecutive equal labels.
func Segments(readings []store.HeartRateReading, labels []store.Activity) []Segment {
	n := min(len(readings), len(labels))
	var out []Segment
	for i := 0; i < n; i++ {
		if len(out) > 0 && out[len(out)-1].Activity == labels[i] {
			last := &out[len(out)-1]
			last.End = readings[i].Time
			last.Count++
			continue
		}
		out = append(out, Segment{
			Start:    readings[i].Time,
			End:      readings[i].Time,
			Activity: labels[i],
			Label:    labels[i].String(),
			Count:    1,
		})
	}
	return out
}

// ThresholdClassifier compares a centered rolling mean of BPM against a
// resting baseline taken as a low percentile of the batch.
type ThresholdClassifier struct {
	// Window is the rolling mean width in readings.
	Window int `default:"9"`
	// BaselinePercentile selects the resting heart rate, 0-100.
	BaselinePercentile float64 `default:"10"`
	// ActiveRatio and above is Active.
	ActiveRatio float64 `default:"1.35"`
	// SleepRatio and below is a sleep candidate.
	SleepRatio float64 `default:"1.10"`
	// MinSleepReadings is the shortest candidate run labelled Sleep.
	MinSleepReadings int `default:"30"`
	// MaxGap splits candidate runs.
	MaxGap time.Duration `default:"10m"`
}

// NewThresholdClassifier returns a classifier with default thresholds.
func NewThresholdClassifier() *ThresholdClassifier {
	c := &ThresholdClassifier{}
	defaults.SetDefaults(c)
	return c
}

func (c *ThresholdClassifier) Classify(readings []store.HeartRateReading) ([]store.Activity, error) {
	n := len(readings)
	if n == 0 {
		return nil, nil
	}

	bpm := make([]float64, n)
	for i, r := range readings {
		bpm[i] = float64(r.BPM)
	}
	baseline := math.Max(percentile(bpm, c.BaselinePercentile), 1)
	mean := rollingMean(bpm, c.Window)

	labels := make([]store.Activity, n)
	candidate := make([]bool, n)
	for i := range labels {
		ratio := mean[i] / baseline
		switch {
		case ratio >= c.ActiveRatio:
			labels[i] = store.ActivityActive
		case ratio <= c.SleepRatio:
			candidate[i] = true
			labels[i] = store.ActivityInactive
		default:
			labels[i] = store.ActivityInactive
		}
	}

	for start := 0; start < n; {
		if !candidate[start] {
			start++
			continue
		}
		end := start + 1
		for end < n && candidate[end] && readings[end].Time.Sub(readings[end-1].Time) <= c.MaxGap {
			end++
		}
		if end-start >= c.MinSleepReadings {
			for i := start; i < end; i++ {
				labels[i] = store.ActivitySleep
			}
		}
		start = end
	}
	return labels, nil
}

// percentile uses the nearest-rank method.
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	p = math.Min(math.Max(p, 0), 100)
	rank := int(math.Ceil(p * float64(len(sorted)) / 100))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// rollingMean is centered; the window shrinks at the edges.
func rollingMean(values []float64, window int) []float64 {
	if window < 1 {
		window = 1
	}
	half := window / 2
	prefix := make([]float64, len(values)+1)
	for i, v := range values {
		prefix[i+1] = prefix[i] + v
	}
	out := make([]float64, len(values))
	for i := range values {
		lo := max(0, i-half)
		hi := min(len(values), i+half+1)
		out[i] = (prefix[hi] - prefix[lo]) / float64(hi-lo)
	}
	return out
}
