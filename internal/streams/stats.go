package streams

import (
	"math"
	"sort"
)

// SegmentStats are the measured actuals for one time range of a window.
type SegmentStats struct {
	Duration        float64 // seconds
	Distance        float64 // meters
	Pace            float64 // m/s, 0 when the slice has no duration
	AvgHeartRate    int
	MaxHeartRate    int
	MedianHeartRate int
	// SeriesEndTime is the timestamp of the last sample actually used, for
	// downstream cumulative bookkeeping.
	SeriesEndTime float64
}

// SegmentStats slices the window between startTime and endTime and aggregates
// the slice. The end index clamps to the last sample when endTime is past the
// recording. Returns false for a degenerate window: startTime beyond the last
// sample, or a resolved start at or after the resolved end.
func (w Window) SegmentStats(startTime, endTime float64) (SegmentStats, bool) {
	startIdx := -1
	for i, t := range w.Time {
		if t >= startTime {
			startIdx = i
			break
		}
	}

	endIdx := -1
	for i, t := range w.Time {
		if t >= endTime {
			endIdx = i
			break
		}
	}
	if endIdx == -1 {
		endIdx = len(w.Time) - 1
	}
	if startIdx == -1 || startIdx >= endIdx {
		return SegmentStats{}, false
	}

	timeSlice := w.Time[startIdx : endIdx+1]
	distSlice := w.Distance[startIdx : endIdx+1]
	hrSlice := w.HeartRate[startIdx : endIdx+1]

	duration := timeSlice[len(timeSlice)-1] - timeSlice[0]
	distance := distSlice[len(distSlice)-1] - distSlice[0]

	pace := 0.0
	if duration > 0 {
		pace = distance / duration
	}

	var hrSum, hrMax float64
	for _, hr := range hrSlice {
		hrSum += hr
		if hr > hrMax {
			hrMax = hr
		}
	}

	sorted := append([]float64(nil), hrSlice...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	var median float64
	if len(sorted)%2 != 0 {
		median = sorted[mid]
	} else {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}

	return SegmentStats{
		Duration:        duration,
		Distance:        distance,
		Pace:            pace,
		AvgHeartRate:    int(math.Round(hrSum / float64(len(hrSlice)))),
		MaxHeartRate:    int(hrMax),
		MedianHeartRate: int(math.Round(median)),
		SeriesEndTime:   w.Time[endIdx],
	}, true
}
