package domain

// SegmentType is the semantic role of one executed slice of an activity.
type SegmentType string

const (
	SegmentWork       SegmentType = "WORK"
	SegmentRest       SegmentType = "REST"
	SegmentActiveRest SegmentType = "ACTIVE_REST"
	SegmentWarmup     SegmentType = "WARMUP"
	SegmentCoolDown   SegmentType = "COOL_DOWN"
	SegmentJogging    SegmentType = "JOGGING"
)

// TargetType says whether a segment target is measured in seconds or meters.
type TargetType string

const (
	TargetTime     TargetType = "time"
	TargetDistance TargetType = "distance"
	TargetCustom   TargetType = "custom"
)

// WorkType is the unit discriminator used by workout blocks.
type WorkType string

const (
	WorkDistance WorkType = "DISTANCE"
	WorkTime     WorkType = "TIME"
)

// IntervalSegment is one concrete executed slice of one activity. The full
// segment set of an activity is replaced wholesale on every successful
// complete analysis.
type IntervalSegment struct {
	ActivityID    string
	SegmentIndex  int
	SetGroupIndex int
	Type          SegmentType
	TargetType    TargetType
	TargetValue   float64 // meters or seconds, normalized
	TargetPace    *float64
	SeriesEndTime float64 // resolved end timestamp in the sensor stream

	ActualDistance  float64
	ActualDuration  int
	ActualPace      float64
	AvgHeartRate    *int
	MaxHeartRate    *int
	MedianHeartRate *int
}

// Block is one repeated work/recovery pattern inside a phase-1 structure
// description ("8x400m with 90s rest" is one block with Reps 8).
type Block struct {
	Reps          int      `json:"reps"`
	WorkType      WorkType `json:"work_type"`
	WorkValue     float64  `json:"work_value"`
	RecoveryValue *float64 `json:"recovery_value,omitempty"`
}

// DraftAnalysis is the phase-1 oracle output persisted on the activity until
// phase 2 runs.
type DraftAnalysis struct {
	TrainingType TrainingType `json:"training_type"`
	Confidence   float64      `json:"confidence_score"`
	Description  string       `json:"intervals_description,omitempty"`
	Structure    []Block      `json:"structure,omitempty"`
}

// Step is one user-confirmed interval inside a set, with the pace the athlete
// intended to hold.
type Step struct {
	WorkType      WorkType `json:"work_type"`
	WorkValue     float64  `json:"work_value"`
	RecoveryValue *float64 `json:"recovery_value,omitempty"`
	TargetPace    *float64 `json:"target_pace,omitempty"` // m/s
}

// Set groups consecutive steps that belong together, with an optional rest
// between sets. A flat workout is a single set.
type Set struct {
	Steps        []Step   `json:"steps"`
	InterSetRest *float64 `json:"set_recovery,omitempty"` // seconds
}
