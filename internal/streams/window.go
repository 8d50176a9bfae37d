// Package streams models time-aligned sensor recordings and the aggregates
// derived from them.
package streams

// Window is a time-aligned multi-channel sensor recording. All channels are
// index-aligned with Time; missing channels are zero-filled. Timestamps are
// assumed monotonically non-decreasing, as delivered by the tracking
// platform; out-of-order samples are not detected.
type Window struct {
	Time      []float64 // seconds from activity start
	Velocity  []float64 // m/s, smoothed
	HeartRate []float64 // bpm
	Distance  []float64 // cumulative meters
	Moving    []bool
}

// NewWindow aligns the channels to the time channel, padding short or missing
// channels with zero values.
func NewWindow(time, velocity, heartRate, distance []float64, moving []bool) Window {
	n := len(time)
	return Window{
		Time:      time,
		Velocity:  padFloats(velocity, n),
		HeartRate: padFloats(heartRate, n),
		Distance:  padFloats(distance, n),
		Moving:    padBools(moving, n),
	}
}

// Len returns the number of samples.
func (w Window) Len() int { return len(w.Time) }

// Empty reports whether the window carries no samples.
func (w Window) Empty() bool { return len(w.Time) == 0 }

func padFloats(values []float64, n int) []float64 {
	if len(values) == n {
		return values
	}
	out := make([]float64, n)
	copy(out, values)
	return out
}

func padBools(values []bool, n int) []bool {
	if len(values) == n {
		return values
	}
	out := make([]bool, n)
	copy(out, values)
	return out
}
