package streams

import (
	"fmt"
	"math"
)

// SummaryMetadata aggregates the whole recording for the oracle prompt.
type SummaryMetadata struct {
	TotalDistance  float64
	TotalTime      float64
	AvgHeartRate   float64
	MaxVelocity    float64
	HRStdDeviation float64
}

// SummaryBucket is one fixed-width time window of the recording.
type SummaryBucket struct {
	Offset       float64 // seconds from activity start
	Pace         string  // formatted min/km, or "Stopped"
	AvgHeartRate int
	MovingRatio  string
}

// Summary is the bucketed statistical view of a window handed to the
// classification oracle.
type Summary struct {
	Metadata SummaryMetadata
	Buckets  []SummaryBucket
}

// Summarize buckets the window into fixed-size time slices, defaulting the
// caller's bucket size when non-positive.
func Summarize(w Window, bucketSeconds float64) Summary {
	if bucketSeconds <= 0 {
		bucketSeconds = 30
	}
	if w.Empty() {
		return Summary{}
	}

	startTime := w.Time[0]
	endTime := w.Time[len(w.Time)-1]

	var hrValues []float64
	maxVel := 0.0
	for i := range w.Time {
		if w.HeartRate[i] > 0 {
			hrValues = append(hrValues, w.HeartRate[i])
		}
		if w.Velocity[i] > maxVel {
			maxVel = w.Velocity[i]
		}
	}

	var buckets []SummaryBucket
	idx := 0
	for offset := 0.0; offset < endTime-startTime; offset += bucketSeconds {
		lo, hi := startTime+offset, startTime+offset+bucketSeconds

		var velSum, hrSum float64
		var movingCount, n int
		for ; idx < len(w.Time) && w.Time[idx] < hi; idx++ {
			if w.Time[idx] < lo {
				continue
			}
			velSum += w.Velocity[idx]
			hrSum += w.HeartRate[idx]
			if w.Moving[idx] {
				movingCount++
			}
			n++
		}
		if n == 0 {
			continue
		}

		avgVel := velSum / float64(n)
		pace := "Stopped"
		if avgVel > 0.5 {
			pace = FormatPace(avgVel)
		}
		buckets = append(buckets, SummaryBucket{
			Offset:       offset,
			Pace:         pace,
			AvgHeartRate: int(math.Round(hrSum / float64(n))),
			MovingRatio:  fmt.Sprintf("%.2f", float64(movingCount)/float64(n)),
		})
	}

	return Summary{
		Metadata: SummaryMetadata{
			TotalDistance:  w.Distance[len(w.Distance)-1],
			TotalTime:      endTime - startTime,
			AvgHeartRate:   mean(hrValues),
			MaxVelocity:    maxVel,
			HRStdDeviation: stdDev(hrValues),
		},
		Buckets: buckets,
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)))
}
