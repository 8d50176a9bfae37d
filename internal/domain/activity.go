// Package domain defines the business model for the interval analysis service.
package domain

import "time"

// AnalysisStatus tracks an activity through the two-phase analysis pipeline.
type AnalysisStatus string

const (
	StatusPending         AnalysisStatus = "pending"
	StatusOngoingInit     AnalysisStatus = "ongoing_init"
	StatusInitial         AnalysisStatus = "initial"
	StatusOngoingComplete AnalysisStatus = "ongoing_completed"
	StatusCompleted       AnalysisStatus = "completed"
	StatusError           AnalysisStatus = "error"
)

// TrainingType is the coarse classification produced by the first analysis phase.
type TrainingType string

const (
	TrainingLongRun            TrainingType = "LONG_RUN"
	TrainingEasyRun            TrainingType = "EASY_RUN"
	TrainingNormalRun          TrainingType = "NORMAL_RUN"
	TrainingRecovery           TrainingType = "RECOVERY"
	TrainingShortIntervals     TrainingType = "SHORT_INTERVALS"
	TrainingHillSprints        TrainingType = "HILL_SPRINTS"
	TrainingLongIntervals      TrainingType = "LONG_INTERVALS"
	TrainingSprints            TrainingType = "SPRINTS"
	TrainingFartlek            TrainingType = "FARTLEK"
	TrainingProgressiveLongRun TrainingType = "PROGRESSIVE_LONG_RUN"
	TrainingRace               TrainingType = "RACE"
	TrainingTempo              TrainingType = "TEMPO"
	TrainingOther              TrainingType = "OTHER"
)

// TrainingTypes lists every valid value, in the order the oracle schema advertises them.
var TrainingTypes = []TrainingType{
	TrainingLongRun,
	TrainingEasyRun,
	TrainingNormalRun,
	TrainingRecovery,
	TrainingShortIntervals,
	TrainingHillSprints,
	TrainingLongIntervals,
	TrainingSprints,
	TrainingFartlek,
	TrainingProgressiveLongRun,
	TrainingRace,
	TrainingTempo,
	TrainingOther,
}

// IsValid reports whether t is a known training type.
func (t TrainingType) IsValid() bool {
	for _, known := range TrainingTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Activity is the canonical workout record synced from the tracking platform.
type Activity struct {
	ID                 string
	UserID             string
	PlatformID         int64
	Title              string
	Description        string
	SportType          string
	Distance           float64 // meters
	MovingTime         int     // seconds
	ElapsedTime        int     // seconds
	TotalElevationGain float64
	AverageSpeed       float64
	AverageHeartRate   float64
	MaxHeartRate       float64
	HasHeartRate       bool
	DeviceName         string
	GearName           string
	Indoor             bool
	Feeling            *int
	Notes              string
	StartedAt          time.Time

	AnalysisStatus AnalysisStatus
	TrainingType   *TrainingType
	StructureID    *string
	Draft          *DraftAnalysis
	AnalyzedAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

var analyzableSports = map[string]struct{}{
	"Run":             {},
	"TrailRun":        {},
	"VirtualRun":      {},
	"Elliptical":      {},
	"Hike":            {},
	"Ride":            {},
	"VirtualRide":     {},
	"Rowing":          {},
	"NordicSki":       {},
	"BackcountrySki":  {},
}

// ShouldAnalyze reports whether the sport type is worth running analysis on.
func ShouldAnalyze(sportType string) bool {
	_, ok := analyzableSports[sportType]
	return ok
}

// NeedsCompleteAnalysis reports whether the training type requires fine-grained
// interval detection. Steady-state types derive segments from platform splits.
func NeedsCompleteAnalysis(t TrainingType) bool {
	switch t {
	case TrainingShortIntervals, TrainingHillSprints, TrainingLongIntervals,
		TrainingSprints, TrainingFartlek, TrainingProgressiveLongRun:
		return true
	default:
		return false
	}
}

// HighConfidenceThreshold is the phase-1 confidence above which steady runs
// skip the second analysis phase entirely.
const HighConfidenceThreshold = 0.94

// CouldSkipCompleteAnalysis reports whether the phase-1 result is confident
// enough about a steady-effort run that platform splits can stand in for
// detected segments.
func CouldSkipCompleteAnalysis(draft *DraftAnalysis) bool {
	if draft == nil || draft.Confidence <= HighConfidenceThreshold {
		return false
	}
	switch draft.TrainingType {
	case TrainingLongRun, TrainingEasyRun, TrainingNormalRun:
		return true
	default:
		return false
	}
}
