// Package metrics computes heart-rate-variability statistics over RR intervals.
package metrics

import "math"

// DefaultWindow is the number of records pooled for one RMSSD value.
const DefaultWindow = 10

// HRV holds time-domain statistics. OK is false when fewer than two
// intervals were available and both values are undefined.
type HRV struct {
	RMSSD float64
	SDNN  float64
	OK    bool
}

// TimeDomain computes RMSSD and population SDNN of rr (milliseconds).
func TimeDomain(rr []uint16) HRV {
	if len(rr) < 2 {
		return HRV{}
	}

	var sumSq float64
	for i := 1; i < len(rr); i++ {
		d := float64(rr[i]) - float64(rr[i-1])
		sumSq += d * d
	}
	rmssd := math.Sqrt(sumSq / float64(len(rr)-1))

	var sum float64
	for _, v := range rr {
		sum += float64(v)
	}
	mean := sum / float64(len(rr))

	var variance float64
	for _, v := range rr {
		d := float64(v) - mean
		variance += d * d
	}
	sdnn := math.Sqrt(variance / float64(len(rr)))

	return HRV{RMSSD: rmssd, SDNN: sdnn, OK: true}
}

// WindowedRMSSD groups records into consecutive windows of size window, pools
// each window's RR intervals and assigns the pooled RMSSD to every record of
// the window. Records in windows with fewer than two pooled intervals get nil.
// A non-positive window falls back to DefaultWindow.
func WindowedRMSSD(rrs [][]uint16, window int) []*float64 {
	if window <= 0 {
		window = DefaultWindow
	}

	out := make([]*float64, len(rrs))
	for start := 0; start < len(rrs); start += window {
		end := min(start+window, len(rrs))

		var pooled []uint16
		for _, rr := range rrs[start:end] {
			pooled = append(pooled, rr...)
		}

		hrv := TimeDomain(pooled)
		if !hrv.OK {
			continue
		}
		for i := start; i < end; i++ {
			v := hrv.RMSSD
			out[i] = &v
		}
	}
	return out
}
