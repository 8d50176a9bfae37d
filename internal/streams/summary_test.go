package streams

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummarizeBuckets(t *testing.T) {
	// 90 seconds at 1 sample per 10s: first half easy, second half fast.
	w := NewWindow(
		[]float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90},
		[]float64{3, 3, 3, 3, 3, 5, 5, 5, 5, 5},
		[]float64{120, 120, 120, 120, 120, 170, 170, 170, 170, 170},
		[]float64{0, 30, 60, 90, 120, 170, 220, 270, 320, 370},
		[]bool{true, true, true, true, true, true, true, true, true, true},
	)

	summary := Summarize(w, 30)
	require.Len(t, summary.Buckets, 3)
	require.Equal(t, 0.0, summary.Buckets[0].Offset)
	require.Equal(t, 30.0, summary.Buckets[1].Offset)
	require.Equal(t, "5:33", summary.Buckets[0].Pace)
	require.Equal(t, 370.0, summary.Metadata.TotalDistance)
	require.Equal(t, 90.0, summary.Metadata.TotalTime)
	require.Equal(t, 5.0, summary.Metadata.MaxVelocity)
	require.InDelta(t, 145, summary.Metadata.AvgHeartRate, 1e-9)
}

func TestSummarizeStoppedBucket(t *testing.T) {
	w := NewWindow(
		[]float64{0, 10, 20, 30, 40},
		[]float64{0.1, 0.1, 0.2, 0.1, 0.1},
		[]float64{90, 90, 90, 90, 90},
		[]float64{0, 1, 2, 3, 4},
		[]bool{false, false, false, false, false},
	)

	summary := Summarize(w, 30)
	require.NotEmpty(t, summary.Buckets)
	require.Equal(t, "Stopped", summary.Buckets[0].Pace)
	require.Equal(t, "0.00", summary.Buckets[0].MovingRatio)
}

func TestSummarizeEmptyWindow(t *testing.T) {
	summary := Summarize(Window{}, 30)
	require.Empty(t, summary.Buckets)
}

func TestParsePace(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"4:00", f64(1000.0 / 240)},
		{"@ 3:45 pace", f64(1000.0 / 225)},
		{"5", f64(1000.0 / 300)},
		{"", nil},
		{"fast", nil},
		{"0:00", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParsePace(tt.in)
			if tt.want == nil {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.InDelta(t, *tt.want, *got, 1e-9)
		})
	}
}

func TestFormatPace(t *testing.T) {
	require.Equal(t, "-:--", FormatPace(0))
	require.Equal(t, "4:00", FormatPace(1000.0/240))
	require.Equal(t, "3:45", FormatPace(1000.0/225))
	// Rounding that lands on 60 seconds carries into the minute.
	require.Equal(t, "4:00", FormatPace(1000.0/239.8))
}

func f64(v float64) *float64 { return &v }
