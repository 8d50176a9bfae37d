package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/Carlvebbesen/IntervalInsights/internal/domain"
	"github.com/Carlvebbesen/IntervalInsights/internal/strava"
	"github.com/Carlvebbesen/IntervalInsights/internal/streams"
)

// ClassifyInput is everything phase 1 knows about an activity.
type ClassifyInput struct {
	Title         string
	Description   string
	SportType     string
	ElevationGain float64
	Summary       streams.Summary
}

const classifySystemPrompt = `You are an experienced running coach analyzing a recorded endurance workout.
Classify the session into exactly one training type and, when the session contains
repeated hard efforts, describe the interval structure as work/recovery blocks.

Classification guidance:
- SHORT_INTERVALS: repeated efforts up to ~2 minutes or ~800m with clear recoveries.
- LONG_INTERVALS: repeated efforts longer than ~2 minutes or ~800m with recoveries.
- SPRINTS: very short all-out efforts, typically under 30 seconds or 200m.
- HILL_SPRINTS: short repeated efforts with notable climbing.
- FARTLEK: unstructured speed play with varied effort lengths.
- TEMPO: one sustained comfortably-hard effort.
- PROGRESSIVE_LONG_RUN: long run finishing markedly faster than it starts.
- LONG_RUN / EASY_RUN / NORMAL_RUN / RECOVERY: steady continuous running, distinguished by length and intensity.
- RACE: an all-out continuous competitive effort.
- OTHER: anything that fits none of the above.

Report a confidence score between 0 and 1 for the classification. Only fill in the
interval structure for sessions with repeated distinct efforts; leave it empty for
steady runs.`

// ClassifyActivity runs phase 1: coarse classification of the whole session,
// with an interval structure sketch when one is visible.
func (c *Client) ClassifyActivity(ctx context.Context, in ClassifyInput) (*domain.DraftAnalysis, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Activity: %q (%s)\n", in.Title, in.SportType)
	if in.Description != "" {
		fmt.Fprintf(&b, "Athlete's description: %s\n", in.Description)
	}
	fmt.Fprintf(&b, "Total elevation gain: %.0f m\n\n", in.ElevationGain)
	writeSummary(&b, in.Summary)

	var draft domain.DraftAnalysis
	if err := c.GenerateJSON(ctx, classifySystemPrompt, b.String(), "workout_classification", classifySchema(), &draft); err != nil {
		return nil, err
	}
	if !draft.TrainingType.IsValid() || draft.Confidence < 0 || draft.Confidence > 1 {
		return nil, fmt.Errorf("%w: invalid classification %q (confidence %.2f)", ErrNoResult, draft.TrainingType, draft.Confidence)
	}
	return &draft, nil
}

// PlannedSegment is one oracle-proposed slice of the recording, bounded by
// stream timestamps.
type PlannedSegment struct {
	Type          domain.SegmentType `json:"type"`
	StartTime     float64            `json:"start_time"`
	EndTime       float64            `json:"end_time"`
	SetGroupIndex int                `json:"set_group_index"`
	TargetType    domain.TargetType  `json:"target_type"`
	TargetValue   float64            `json:"target_value"`
	TargetPace    string             `json:"target_pace"` // "M:SS" min/km, empty when unknown
}

// SegmentPlan is the phase-2 output: a full partition of the session.
type SegmentPlan struct {
	Segments []PlannedSegment `json:"segments"`
}

// PlanInput carries the confirmed classification plus the raw evidence phase 2
// aligns segments against.
type PlanInput struct {
	TrainingType domain.TrainingType
	Notes        string
	Summary      streams.Summary
	Laps         []strava.Lap
	Draft        *domain.DraftAnalysis
	Groups       []domain.Set // user-confirmed structure, may be empty
}

const planSystemPrompt = `You are an experienced running coach segmenting a recorded workout.
Split the entire session into consecutive segments: WARMUP, WORK, REST, ACTIVE_REST,
COOL_DOWN, and JOGGING for steady running that is none of the others.

Rules:
- start_time and end_time are seconds into the recording and must come from the
  provided time axis. Segments must not overlap and must cover the session in order.
- Every work effort in the described structure must appear as a WORK segment.
- set_group_index groups segments belonging to the same set, starting at 0.
- target_type is "distance" when the effort was planned by length, "time" when
  planned by duration, "custom" otherwise. target_value is meters or seconds.
- target_pace is the planned pace as "M:SS" per km when the plan states one,
  otherwise an empty string.
- Use the lap markers: athletes usually press the lap button at effort boundaries.`

// PlanSegments runs phase 2: exact segment boundaries for a confirmed workout.
func (c *Client) PlanSegments(ctx context.Context, in PlanInput) (*SegmentPlan, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Training type: %s\n", in.TrainingType)
	if in.Notes != "" {
		fmt.Fprintf(&b, "Athlete's notes: %s\n", in.Notes)
	}
	if in.Draft != nil && in.Draft.Description != "" {
		fmt.Fprintf(&b, "Detected structure: %s\n", in.Draft.Description)
	}
	writeGroups(&b, in.Groups)
	b.WriteString("\n")
	writeLaps(&b, in.Laps)
	b.WriteString("\n")
	writeSummary(&b, in.Summary)

	var plan SegmentPlan
	if err := c.GenerateJSON(ctx, planSystemPrompt, b.String(), "segment_plan", planSchema(), &plan); err != nil {
		return nil, err
	}
	if len(plan.Segments) == 0 {
		return nil, fmt.Errorf("%w: empty segment plan", ErrNoResult)
	}
	return &plan, nil
}

func writeSummary(b *strings.Builder, s streams.Summary) {
	fmt.Fprintf(b, "Session totals: %.0f m in %.0f s, avg HR %.0f (stddev %.1f), max speed %.2f m/s\n",
		s.Metadata.TotalDistance, s.Metadata.TotalTime, s.Metadata.AvgHeartRate,
		s.Metadata.HRStdDeviation, s.Metadata.MaxVelocity)
	b.WriteString("Time-bucketed view (offset seconds | pace min/km | avg HR | moving ratio):\n")
	for _, bucket := range s.Buckets {
		fmt.Fprintf(b, "%.0f | %s | %d | %s\n", bucket.Offset, bucket.Pace, bucket.AvgHeartRate, bucket.MovingRatio)
	}
}

func writeLaps(b *strings.Builder, laps []strava.Lap) {
	if len(laps) == 0 {
		return
	}
	b.WriteString("Recorded laps (index | distance m | moving s | avg speed m/s | avg HR):\n")
	for _, lap := range laps {
		fmt.Fprintf(b, "%d | %.0f | %d | %.2f | %.0f\n",
			lap.LapIndex, lap.Distance, lap.MovingTime, lap.AverageSpeed, lap.AverageHeartrate)
	}
}

func writeGroups(b *strings.Builder, groups []domain.Set) {
	if len(groups) == 0 {
		return
	}
	b.WriteString("Athlete-confirmed plan:\n")
	for i, set := range groups {
		fmt.Fprintf(b, "Set %d:\n", i+1)
		for _, step := range set.Steps {
			unit := "m"
			if step.WorkType == domain.WorkTime {
				unit = "s"
			}
			fmt.Fprintf(b, "  %.0f%s", step.WorkValue, unit)
			if step.TargetPace != nil {
				fmt.Fprintf(b, " at %s/km", streams.FormatPace(*step.TargetPace))
			}
			if step.RecoveryValue != nil {
				fmt.Fprintf(b, ", %.0fs recovery", *step.RecoveryValue)
			}
			b.WriteString("\n")
		}
		if set.InterSetRest != nil {
			fmt.Fprintf(b, "  then %.0fs rest before the next set\n", *set.InterSetRest)
		}
	}
}

func classifySchema() map[string]any {
	trainingTypes := make([]string, len(domain.TrainingTypes))
	for i, t := range domain.TrainingTypes {
		trainingTypes[i] = string(t)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"training_type":    map[string]any{"type": "string", "enum": trainingTypes},
			"confidence_score": map[string]any{"type": "number"},
			"intervals_description": map[string]any{
				"type":        "string",
				"description": "Short human summary of the detected interval structure, empty for steady runs.",
			},
			"structure": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"reps":           map[string]any{"type": "integer"},
						"work_type":      map[string]any{"type": "string", "enum": []string{"DISTANCE", "TIME"}},
						"work_value":     map[string]any{"type": "number"},
						"recovery_value": map[string]any{"type": []string{"number", "null"}},
					},
					"required":             []string{"reps", "work_type", "work_value", "recovery_value"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"training_type", "confidence_score", "intervals_description", "structure"},
		"additionalProperties": false,
	}
}

func planSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"segments": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type": map[string]any{
							"type": "string",
							"enum": []string{"WORK", "REST", "ACTIVE_REST", "WARMUP", "COOL_DOWN", "JOGGING"},
						},
						"start_time":      map[string]any{"type": "number"},
						"end_time":        map[string]any{"type": "number"},
						"set_group_index": map[string]any{"type": "integer"},
						"target_type": map[string]any{
							"type": "string",
							"enum": []string{"time", "distance", "custom"},
						},
						"target_value": map[string]any{"type": "number"},
						"target_pace":  map[string]any{"type": "string"},
					},
					"required": []string{
						"type", "start_time", "end_time", "set_group_index",
						"target_type", "target_value", "target_pace",
					},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"segments"},
		"additionalProperties": false,
	}
}
