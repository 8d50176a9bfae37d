// Package pace derives per-step target-pace estimates for a requested workout
// structure from the athlete's historical executions of the same structure.
package pace

import (
	"context"
	"math"
	"time"

	"github.com/Carlvebbesen/IntervalInsights/internal/canonical"
	"github.com/Carlvebbesen/IntervalInsights/internal/domain"
	"github.com/Carlvebbesen/IntervalInsights/internal/logger"
)

// magnitudeTolerance is the absolute tolerance, in meters or seconds, for two
// work magnitudes to count as the same target.
const magnitudeTolerance = 1.0

// Estimate is one per-step proposal. Pace is nil when no historical basis
// exists; proposals degrade, they never block.
type Estimate struct {
	SetIndex   int
	StepIndex  int
	WorkType   domain.WorkType
	WorkValue  float64
	Pace       *float64 // m/s
	SampleSize int      // historical rows the estimate is built on
}

// Engine matches requested structures against segment history.
type Engine struct {
	history       domain.SegmentHistory
	recencyWindow time.Duration
	historyLimit  int
	log           *logger.Logger
	now           func() time.Time
}

// NewEngine constructs an Engine. recencyWindow controls when a single recent
// execution outweighs the historical average.
func NewEngine(history domain.SegmentHistory, recencyWindow time.Duration, historyLimit int, log *logger.Logger) *Engine {
	return &Engine{
		history:       history,
		recencyWindow: recencyWindow,
		historyLimit:  historyLimit,
		log:           log.With("component", "pace"),
		now:           time.Now,
	}
}

// Propose returns one estimate per requested step, in request order. Steps
// with no usable history get a nil pace.
func (e *Engine) Propose(ctx context.Context, userID string, groups []domain.Set) ([]Estimate, error) {
	signature := canonical.Signature(canonical.ComponentsFromSets(groups))
	rows, err := e.history.History(ctx, userID, signature, e.historyLimit)
	if err != nil {
		return nil, err
	}

	estimates := make([]Estimate, 0)
	ordinal := 0
	var requestMatches []domain.SegmentObservation
	var pending []int // indexes into estimates that need the global fallback

	for setIdx, set := range groups {
		for stepIdx, step := range set.Steps {
			est := Estimate{
				SetIndex:  setIdx,
				StepIndex: stepIdx,
				WorkType:  step.WorkType,
				WorkValue: step.WorkValue,
			}

			matches := matching(rows, step)
			requestMatches = append(requestMatches, matches...)

			if best := bestMatch(matches, ordinal); best != nil {
				est.SampleSize = len(matches)
				if e.now().Sub(best.Date) <= e.recencyWindow {
					p := effectivePace(*best)
					est.Pace = &p
				} else {
					// A single stale row is a weak signal; smooth it
					// across every execution of the same target.
					p := averageEffectivePace(matches)
					est.Pace = &p
				}
			} else {
				pending = append(pending, len(estimates))
			}

			estimates = append(estimates, est)
			ordinal++
		}
	}

	if len(requestMatches) > 0 {
		p := averageEffectivePace(requestMatches)
		for _, i := range pending {
			estimates[i].Pace = &p
			estimates[i].SampleSize = len(requestMatches)
		}
	}

	e.log.Debug("proposed paces",
		"user_id", userID,
		"signature", signature,
		"history_rows", len(rows),
		"steps", len(estimates),
	)
	return estimates, nil
}

// matching returns the rows whose target type and magnitude match the step.
func matching(rows []domain.SegmentObservation, step domain.Step) []domain.SegmentObservation {
	wantType := domain.TargetTime
	if step.WorkType == domain.WorkDistance {
		wantType = domain.TargetDistance
	}
	var out []domain.SegmentObservation
	for _, row := range rows {
		if row.TargetType != wantType {
			continue
		}
		if math.Abs(row.TargetValue-step.WorkValue) > magnitudeTolerance {
			continue
		}
		out = append(out, row)
	}
	return out
}

// bestMatch prefers the newest row observed at the same ordinal position,
// falling back to the newest match at any position. Rows arrive newest first.
func bestMatch(matches []domain.SegmentObservation, ordinal int) *domain.SegmentObservation {
	for i := range matches {
		if matches[i].SegmentIndex == ordinal {
			return &matches[i]
		}
	}
	if len(matches) > 0 {
		return &matches[0]
	}
	return nil
}

func effectivePace(row domain.SegmentObservation) float64 {
	if row.TargetPace != nil {
		return *row.TargetPace
	}
	return row.ActualPace
}

func averageEffectivePace(rows []domain.SegmentObservation) float64 {
	if len(rows) == 0 {
		return 0
	}
	var sum float64
	for _, row := range rows {
		sum += effectivePace(row)
	}
	return sum / float64(len(rows))
}
