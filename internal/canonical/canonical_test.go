package canonical

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Carlvebbesen/IntervalInsights/internal/domain"
)

func workSegment(targetType domain.TargetType, value float64) domain.IntervalSegment {
	return domain.IntervalSegment{Type: domain.SegmentWork, TargetType: targetType, TargetValue: value}
}

func TestSignatureUnitIndependent(t *testing.T) {
	km := Signature([]Component{{Value: 1, Unit: UnitKilometers}})
	m := Signature([]Component{{Value: 1000, Unit: UnitMeters}})
	require.Equal(t, m, km)
	require.Equal(t, "1000m", m)

	min := Signature([]Component{{Value: 2, Unit: UnitMinutes}})
	sec := Signature([]Component{{Value: 120, Unit: UnitSeconds}})
	require.Equal(t, sec, min)
	require.Equal(t, "120s", sec)
}

func TestSignatureOrderIndependent(t *testing.T) {
	a := Signature([]Component{{400, UnitMeters}, {60, UnitSeconds}, {1, UnitKilometers}})
	b := Signature([]Component{{1000, UnitMeters}, {400, UnitMeters}, {1, UnitMinutes}})
	require.Equal(t, a, b)
}

func TestSignatureRepeatCountIndependent(t *testing.T) {
	two := Signature([]Component{{400, UnitMeters}, {400, UnitMeters}})
	eight := Signature([]Component{
		{400, UnitMeters}, {400, UnitMeters}, {400, UnitMeters}, {400, UnitMeters},
		{400, UnitMeters}, {400, UnitMeters}, {400, UnitMeters}, {400, UnitMeters},
	})
	require.Equal(t, "400m", two)
	require.Equal(t, two, eight)
}

func TestSignatureDistinguishesValues(t *testing.T) {
	require.NotEqual(t,
		Signature([]Component{{400, UnitMeters}}),
		Signature([]Component{{401, UnitMeters}}),
	)
}

func TestStructureName(t *testing.T) {
	tests := []struct {
		name       string
		components []Component
		want       string
	}{
		{"empty", nil, "Free Workout"},
		{"single magnitude", []Component{{400, UnitMeters}, {400, UnitMeters}}, "(n)x 400m"},
		{"km normalized", []Component{{1, UnitKilometers}}, "(n)x 1000m"},
		{"mixed", []Component{{300, UnitSeconds}, {1000, UnitMeters}, {200, UnitMeters}}, "Mixed (300s/1000m/200m)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, StructureName(tt.components))
		})
	}
}

func TestClassifyIntervalType(t *testing.T) {
	repeat := func(n int, targetType domain.TargetType, value float64) []domain.IntervalSegment {
		out := make([]domain.IntervalSegment, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, workSegment(targetType, value))
		}
		return out
	}

	tests := []struct {
		name      string
		segments  []domain.IntervalSegment
		elevation float64
		want      domain.IntervalType
	}{
		{"empty defaults to threshold", nil, 0, domain.IntervalThreshold},
		{
			"varied targets over many reps is fartlek",
			[]domain.IntervalSegment{
				workSegment(domain.TargetDistance, 200),
				workSegment(domain.TargetDistance, 400),
				workSegment(domain.TargetDistance, 600),
				workSegment(domain.TargetDistance, 800),
				workSegment(domain.TargetDistance, 1000),
				workSegment(domain.TargetDistance, 1200),
			},
			0,
			domain.IntervalFartlek,
		},
		{"short reps with climb are hill sprints", repeat(6, domain.TargetDistance, 250), 15, domain.IntervalHillSprints},
		{"very short time is sprints", repeat(8, domain.TargetTime, 25), 0, domain.IntervalSprints},
		{"very short distance is sprints", repeat(8, domain.TargetDistance, 150), 0, domain.IntervalSprints},
		{"400m reps are anaerobic capacity", repeat(4, domain.TargetDistance, 400), 0, domain.IntervalAnaerobicCapacity},
		{"1km reps are threshold", repeat(5, domain.TargetDistance, 1000), 0, domain.IntervalThreshold},
		{"6 minute reps are threshold", repeat(4, domain.TargetTime, 360), 0, domain.IntervalThreshold},
		{"800m reps are vo2max", repeat(5, domain.TargetDistance, 800), 0, domain.IntervalVO2Max},
		{"3 minute reps are vo2max", repeat(6, domain.TargetTime, 180), 0, domain.IntervalVO2Max},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ClassifyIntervalType(tt.segments, tt.elevation))
		})
	}
}

func TestFromSegmentsEndToEnd(t *testing.T) {
	t.Run("uniform 400m repeats", func(t *testing.T) {
		segments := []domain.IntervalSegment{
			workSegment(domain.TargetDistance, 400),
			{Type: domain.SegmentRest, TargetType: domain.TargetTime, TargetValue: 90},
			workSegment(domain.TargetDistance, 400),
			workSegment(domain.TargetDistance, 400),
			workSegment(domain.TargetDistance, 400),
		}
		structure := FromSegments(segments, domain.TrainingShortIntervals, 0)
		require.Equal(t, "400m", structure.Signature)
		require.Equal(t, "(n)x 400m", structure.Name)
		require.Equal(t, domain.IntervalAnaerobicCapacity, structure.IntervalType)
		require.Equal(t, domain.TrainingShortIntervals, structure.TrainingType)
	})

	t.Run("mixed magnitudes", func(t *testing.T) {
		segments := []domain.IntervalSegment{
			workSegment(domain.TargetTime, 300),
			workSegment(domain.TargetTime, 300),
			workSegment(domain.TargetDistance, 200),
		}
		structure := FromSegments(segments, domain.TrainingShortIntervals, 0)
		require.Equal(t, "200m-300s", structure.Signature)
		require.Equal(t, "Mixed (300s/200m)", structure.Name)
	})
}
