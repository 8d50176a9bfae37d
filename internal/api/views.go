package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/Carlvebbesen/IntervalInsights/internal/domain"
	"github.com/Carlvebbesen/IntervalInsights/internal/pace"
)

// RunAnalysisRequest carries the confirmed interval structure for the
// complete analysis phase.
type RunAnalysisRequest struct {
	Notes string       `json:"notes"`
	Sets  []domain.Set `json:"sets"`
}

// Validate checks the confirmed sets. An empty set list is allowed: steady
// runs are analyzed from split data alone.
func (r RunAnalysisRequest) Validate() error {
	return validateSets(r.Sets, true)
}

// SyncRequest bounds a bulk sync run.
type SyncRequest struct {
	Count int `json:"count"`
}

func (r SyncRequest) Validate() error {
	if r.Count < 1 || r.Count > maxSyncCount {
		return fmt.Errorf("count must be between 1 and %d", maxSyncCount)
	}
	return nil
}

// ProposalRequest asks for pace estimates for a planned structure.
type ProposalRequest struct {
	Sets []domain.Set `json:"sets"`
}

func (r ProposalRequest) Validate() error {
	return validateSets(r.Sets, false)
}

func validateSets(sets []domain.Set, allowEmpty bool) error {
	if len(sets) == 0 {
		if allowEmpty {
			return nil
		}
		return errors.New("at least one set is required")
	}
	for i, set := range sets {
		if len(set.Steps) == 0 {
			return fmt.Errorf("set %d has no steps", i)
		}
		for j, step := range set.Steps {
			if step.WorkType != domain.WorkDistance && step.WorkType != domain.WorkTime {
				return fmt.Errorf("set %d step %d has unknown work type %q", i, j, step.WorkType)
			}
			if step.WorkValue <= 0 {
				return fmt.Errorf("set %d step %d needs a positive work value", i, j)
			}
		}
	}
	return nil
}

// SyncResponse reports how many new activities a bulk sync stored.
type SyncResponse struct {
	Synced int `json:"synced"`
}

// ResubmitResponse reports how many error-state activities were re-queued.
type ResubmitResponse struct {
	Resubmitted int `json:"resubmitted"`
}

// ActivityView is the API shape of an activity.
type ActivityView struct {
	ID                 string                `json:"id"`
	PlatformID         int64                 `json:"platform_activity_id"`
	Title              string                `json:"title"`
	Description        string                `json:"description,omitempty"`
	SportType          string                `json:"sport_type"`
	Distance           float64               `json:"distance"`
	MovingTime         int                   `json:"moving_time"`
	ElapsedTime        int                   `json:"elapsed_time"`
	TotalElevationGain float64               `json:"total_elevation_gain"`
	AverageSpeed       float64               `json:"average_speed"`
	AverageHeartRate   float64               `json:"average_heart_rate,omitempty"`
	MaxHeartRate       float64               `json:"max_heart_rate,omitempty"`
	Indoor             bool                  `json:"indoor"`
	Notes              string                `json:"notes,omitempty"`
	StartedAt          time.Time             `json:"started_at"`
	AnalysisStatus     domain.AnalysisStatus `json:"analysis_status"`
	TrainingType       *domain.TrainingType  `json:"training_type,omitempty"`
	StructureID        *string               `json:"structure_id,omitempty"`
	Draft              *domain.DraftAnalysis `json:"draft_analysis,omitempty"`
	AnalyzedAt         *time.Time            `json:"analyzed_at,omitempty"`
	Segments           []SegmentView         `json:"segments,omitempty"`
}

// SegmentView is the API shape of one committed segment.
type SegmentView struct {
	SegmentIndex   int                `json:"segment_index"`
	SetGroupIndex  int                `json:"set_group_index"`
	Type           domain.SegmentType `json:"type"`
	TargetType     domain.TargetType  `json:"target_type"`
	TargetValue    float64            `json:"target_value"`
	TargetPace     *string            `json:"target_pace,omitempty"`
	ActualDistance float64            `json:"actual_distance"`
	ActualDuration int                `json:"actual_duration"`
	ActualPace     *string            `json:"actual_pace,omitempty"`
	AvgHeartRate   *int               `json:"avg_heart_rate,omitempty"`
	MaxHeartRate   *int               `json:"max_heart_rate,omitempty"`
}

// ListActivitiesResponse is one page of activities plus the continuation
// cursor, empty on the last page.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// ProposalResponse carries per-step pace estimates in request order.
type ProposalResponse struct {
	Estimates []EstimateView `json:"estimates"`
}

// EstimateView is one per-step proposal. Pace fields are absent when the
// user has no matching history.
type EstimateView struct {
	SetIndex   int             `json:"set_index"`
	StepIndex  int             `json:"step_index"`
	WorkType   domain.WorkType `json:"work_type"`
	WorkValue  float64         `json:"work_value"`
	PaceMPS    *float64        `json:"pace_mps,omitempty"`
	Pace       *string         `json:"pace,omitempty"`
	SampleSize int             `json:"sample_size"`
}

func newActivityView(activity domain.Activity, segments []domain.IntervalSegment) ActivityView {
	view := ActivityView{
		ID:                 activity.ID,
		PlatformID:         activity.PlatformID,
		Title:              activity.Title,
		Description:        activity.Description,
		SportType:          activity.SportType,
		Distance:           activity.Distance,
		MovingTime:         activity.MovingTime,
		ElapsedTime:        activity.ElapsedTime,
		TotalElevationGain: activity.TotalElevationGain,
		AverageSpeed:       activity.AverageSpeed,
		AverageHeartRate:   activity.AverageHeartRate,
		MaxHeartRate:       activity.MaxHeartRate,
		Indoor:             activity.Indoor,
		Notes:              activity.Notes,
		StartedAt:          activity.StartedAt,
		AnalysisStatus:     activity.AnalysisStatus,
		TrainingType:       activity.TrainingType,
		StructureID:        activity.StructureID,
		Draft:              activity.Draft,
		AnalyzedAt:         activity.AnalyzedAt,
	}
	for _, seg := range segments {
		actual := seg.ActualPace
		view.Segments = append(view.Segments, SegmentView{
			SegmentIndex:   seg.SegmentIndex,
			SetGroupIndex:  seg.SetGroupIndex,
			Type:           seg.Type,
			TargetType:     seg.TargetType,
			TargetValue:    seg.TargetValue,
			TargetPace:     formatPaceRef(seg.TargetPace),
			ActualDistance: seg.ActualDistance,
			ActualDuration: seg.ActualDuration,
			ActualPace:     formatPaceRef(&actual),
			AvgHeartRate:   seg.AvgHeartRate,
			MaxHeartRate:   seg.MaxHeartRate,
		})
	}
	return view
}

func newEstimateView(est pace.Estimate) EstimateView {
	return EstimateView{
		SetIndex:   est.SetIndex,
		StepIndex:  est.StepIndex,
		WorkType:   est.WorkType,
		WorkValue:  est.WorkValue,
		PaceMPS:    est.Pace,
		Pace:       formatPaceRef(est.Pace),
		SampleSize: est.SampleSize,
	}
}
