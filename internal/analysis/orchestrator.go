// Package analysis drives the two-phase classification pipeline. Entry points
// never propagate failures to the caller beyond precondition checks: every
// outcome, success or not, lands in the activity's persisted analysis status.
package analysis

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/Carlvebbesen/IntervalInsights/internal/canonical"
	"github.com/Carlvebbesen/IntervalInsights/internal/domain"
	"github.com/Carlvebbesen/IntervalInsights/internal/logger"
	"github.com/Carlvebbesen/IntervalInsights/internal/observability"
	"github.com/Carlvebbesen/IntervalInsights/internal/oracle"
	"github.com/Carlvebbesen/IntervalInsights/internal/strava"
	"github.com/Carlvebbesen/IntervalInsights/internal/streams"
)

// Tracker is the slice of the tracking-platform client the orchestrator needs.
type Tracker interface {
	GetActivity(ctx context.Context, accessToken string, id int64) (*strava.DetailedActivity, error)
	GetStreams(ctx context.Context, accessToken string, id int64, channels []string) (*strava.Streams, error)
	GetLaps(ctx context.Context, accessToken string, id int64) ([]strava.Lap, error)
}

// TokenSource resolves a valid platform access token for a user.
type TokenSource interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}

// Oracle is the classification service seen from the orchestrator.
type Oracle interface {
	ClassifyActivity(ctx context.Context, in oracle.ClassifyInput) (*domain.DraftAnalysis, error)
	PlanSegments(ctx context.Context, in oracle.PlanInput) (*oracle.SegmentPlan, error)
}

// Config tunes the orchestrator's timing behavior.
type Config struct {
	// BucketSeconds is the summary bucket width handed to the oracle.
	BucketSeconds float64
	// RetryBaseDelay and RetryMargin parameterize the rate-limit backoff when
	// the upstream error carries no retry hint.
	RetryBaseDelay time.Duration
	RetryMargin    time.Duration
	// StaggerDelay spreads batch submissions to avoid bursting the oracle.
	StaggerDelay time.Duration
}

// Orchestrator owns all analysis-driven mutation of activities and their
// segment sets.
type Orchestrator struct {
	activities domain.ActivityRepository
	structures domain.StructureRepository
	tracker    Tracker
	tokens     TokenSource
	oracle     Oracle
	cfg        Config
	log        *logger.Logger

	backoff BackoffCalculator
	sleep   func(ctx context.Context, d time.Duration)
	now     func() time.Time
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(
	activities domain.ActivityRepository,
	structures domain.StructureRepository,
	tracker Tracker,
	tokens TokenSource,
	oracleClient Oracle,
	cfg Config,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		activities: activities,
		structures: structures,
		tracker:    tracker,
		tokens:     tokens,
		oracle:     oracleClient,
		cfg:        cfg,
		log:        log.With("component", "analysis"),
		backoff:    NewBackoffCalculator(cfg.RetryBaseDelay, cfg.RetryMargin),
		sleep:      sleepCtx,
		now:        time.Now,
	}
}

// RunInitialAnalysis executes phase 1 for one activity. syncIndex staggers
// batch submissions; pass 0 for single events. The method never returns an
// error: every failure mode resolves to a persisted status.
func (o *Orchestrator) RunInitialAnalysis(ctx context.Context, activityID string, syncIndex int) {
	started := o.now()
	log := o.log.With("activity_id", activityID, "phase", "initial")

	if syncIndex > 0 {
		o.sleep(ctx, time.Duration(syncIndex)*o.cfg.StaggerDelay)
	}

	activity, err := o.activities.Get(ctx, activityID)
	if err != nil {
		log.Error("load activity", "error", err.Error())
		observability.RecordAnalysisRun(observability.PhaseInitial, observability.OutcomeError, started)
		return
	}
	if activity.AnalysisStatus == domain.StatusCompleted {
		log.Debug("already completed, skipping")
		observability.RecordAnalysisRun(observability.PhaseInitial, observability.OutcomeSkipped, started)
		return
	}
	if !domain.ShouldAnalyze(activity.SportType) {
		log.Debug("sport type not analyzable", "sport_type", activity.SportType)
		observability.RecordAnalysisRun(observability.PhaseInitial, observability.OutcomeSkipped, started)
		return
	}

	token, err := o.tokens.AccessToken(ctx, activity.UserID)
	if err != nil {
		o.fail(ctx, log, activityID, err)
		observability.RecordAnalysisRun(observability.PhaseInitial, observability.OutcomeError, started)
		return
	}

	window, err := o.fetchWindow(ctx, token, activity.PlatformID)
	if err != nil {
		o.fail(ctx, log, activityID, err)
		observability.RecordAnalysisRun(observability.PhaseInitial, observability.OutcomeError, started)
		return
	}
	if window.Empty() {
		log.Warn("activity has no stream samples, cannot analyze yet")
		observability.RecordAnalysisRun(observability.PhaseInitial, observability.OutcomeDeferred, started)
		return
	}

	if err := o.activities.SetStatus(ctx, activityID, domain.StatusOngoingInit); err != nil {
		o.fail(ctx, log, activityID, err)
		observability.RecordAnalysisRun(observability.PhaseInitial, observability.OutcomeError, started)
		return
	}

	in := oracle.ClassifyInput{
		Title:         activity.Title,
		Description:   activity.Description,
		SportType:     activity.SportType,
		ElevationGain: activity.TotalElevationGain,
		Summary:       streams.Summarize(window, o.cfg.BucketSeconds),
	}

	var draft *domain.DraftAnalysis
	for attempt := 0; ; attempt++ {
		draft, err = o.oracle.ClassifyActivity(ctx, in)
		if err == nil {
			break
		}
		if errors.Is(err, oracle.ErrNoResult) {
			log.Warn("oracle produced no usable classification, will retry later", "error", err.Error())
			o.setStatus(ctx, log, activityID, domain.StatusPending)
			observability.RecordAnalysisRun(observability.PhaseInitial, observability.OutcomeDeferred, started)
			return
		}
		if oracle.IsRateLimit(err) && attempt == 0 {
			wait := o.backoff(err)
			log.Warn("oracle rate limited, retrying once", "wait", wait.String())
			observability.RecordRateLimitRetry()
			o.setStatus(ctx, log, activityID, domain.StatusPending)
			o.sleep(ctx, wait)
			o.setStatus(ctx, log, activityID, domain.StatusOngoingInit)
			continue
		}
		o.fail(ctx, log, activityID, err)
		observability.RecordAnalysisRun(observability.PhaseInitial, observability.OutcomeError, started)
		return
	}

	if domain.CouldSkipCompleteAnalysis(draft) {
		// High-confidence steady run: platform splits stand in for detected
		// segments and phase 2 never runs.
		if err := o.activities.SaveDraft(ctx, activityID, draft, domain.StatusInitial, &draft.TrainingType); err != nil {
			o.fail(ctx, log, activityID, err)
			observability.RecordAnalysisRun(observability.PhaseInitial, observability.OutcomeError, started)
			return
		}
		if err := o.completeFromSplits(ctx, log, activity, token, draft.TrainingType, ""); err != nil {
			observability.RecordAnalysisRun(observability.PhaseInitial, observability.OutcomeError, started)
			return
		}
		log.Info("initial analysis completed via split fast path", "training_type", draft.TrainingType)
		observability.RecordAnalysisRun(observability.PhaseInitial, observability.OutcomeCompleted, started)
		return
	}

	if err := o.activities.SaveDraft(ctx, activityID, draft, domain.StatusInitial, &draft.TrainingType); err != nil {
		o.fail(ctx, log, activityID, err)
		observability.RecordAnalysisRun(observability.PhaseInitial, observability.OutcomeError, started)
		return
	}
	log.Info("initial analysis stored",
		"training_type", draft.TrainingType,
		"confidence", draft.Confidence,
	)
	observability.RecordAnalysisRun(observability.PhaseInitial, observability.OutcomeInitial, started)
}

// RunCompleteAnalysis executes phase 2. The returned error covers only the
// synchronous preconditions (unknown activity, missing training type); once
// the run is underway every failure resolves to a persisted status instead.
func (o *Orchestrator) RunCompleteAnalysis(ctx context.Context, activityID, notes string, groups []domain.Set) error {
	started := o.now()
	log := o.log.With("activity_id", activityID, "phase", "complete")

	activity, err := o.activities.Get(ctx, activityID)
	if err != nil {
		return err
	}
	if activity.TrainingType == nil {
		return domain.ErrMissingTrainingType
	}
	trainingType := *activity.TrainingType

	token, err := o.tokens.AccessToken(ctx, activity.UserID)
	if err != nil {
		o.fail(ctx, log, activityID, err)
		observability.RecordAnalysisRun(observability.PhaseComplete, observability.OutcomeError, started)
		return nil
	}

	if !domain.NeedsCompleteAnalysis(trainingType) {
		if err := o.completeFromSplits(ctx, log, activity, token, trainingType, notes); err != nil {
			observability.RecordAnalysisRun(observability.PhaseComplete, observability.OutcomeError, started)
			return nil
		}
		log.Info("complete analysis finished via split fast path", "training_type", trainingType)
		observability.RecordAnalysisRun(observability.PhaseComplete, observability.OutcomeCompleted, started)
		return nil
	}

	window, err := o.fetchWindow(ctx, token, activity.PlatformID)
	if err != nil {
		o.fail(ctx, log, activityID, err)
		observability.RecordAnalysisRun(observability.PhaseComplete, observability.OutcomeError, started)
		return nil
	}
	if window.Empty() {
		log.Warn("activity has no stream samples, cannot analyze yet")
		observability.RecordAnalysisRun(observability.PhaseComplete, observability.OutcomeDeferred, started)
		return nil
	}
	laps, err := o.tracker.GetLaps(ctx, token, activity.PlatformID)
	if err != nil {
		o.fail(ctx, log, activityID, err)
		observability.RecordAnalysisRun(observability.PhaseComplete, observability.OutcomeError, started)
		return nil
	}

	if err := o.activities.SetStatus(ctx, activityID, domain.StatusOngoingComplete); err != nil {
		o.fail(ctx, log, activityID, err)
		observability.RecordAnalysisRun(observability.PhaseComplete, observability.OutcomeError, started)
		return nil
	}

	plan, err := o.oracle.PlanSegments(ctx, oracle.PlanInput{
		TrainingType: trainingType,
		Notes:        notes,
		Summary:      streams.Summarize(window, o.cfg.BucketSeconds),
		Laps:         laps,
		Draft:        activity.Draft,
		Groups:       groups,
	})
	if err != nil {
		if errors.Is(err, oracle.ErrNoResult) {
			log.Warn("oracle produced no usable segment plan, will retry later", "error", err.Error())
			o.setStatus(ctx, log, activityID, domain.StatusInitial)
			observability.RecordAnalysisRun(observability.PhaseComplete, observability.OutcomeDeferred, started)
			return nil
		}
		o.fail(ctx, log, activityID, err)
		observability.RecordAnalysisRun(observability.PhaseComplete, observability.OutcomeError, started)
		return nil
	}

	segments := o.resolveSegments(log, activityID, window, plan.Segments)
	if len(segments) == 0 {
		log.Warn("no segment resolved against the stream, will retry later")
		o.setStatus(ctx, log, activityID, domain.StatusInitial)
		observability.RecordAnalysisRun(observability.PhaseComplete, observability.OutcomeDeferred, started)
		return nil
	}

	var structureID *string
	if structure := canonical.FromSegments(segments, trainingType, 0); structure.Signature != "" {
		stored, err := o.structures.FindOrCreate(ctx, structure)
		if err != nil {
			o.fail(ctx, log, activityID, err)
			observability.RecordAnalysisRun(observability.PhaseComplete, observability.OutcomeError, started)
			return nil
		}
		structureID = &stored.ID
	}

	commit := domain.AnalysisCommit{
		ActivityID:   activityID,
		Status:       domain.StatusCompleted,
		TrainingType: &trainingType,
		StructureID:  structureID,
		Notes:        notes,
		AnalyzedAt:   o.now(),
		Segments:     segments,
	}
	if err := o.activities.CommitAnalysis(ctx, commit); err != nil {
		o.fail(ctx, log, activityID, err)
		observability.RecordAnalysisRun(observability.PhaseComplete, observability.OutcomeError, started)
		return nil
	}

	log.Info("complete analysis committed",
		"training_type", trainingType,
		"segments", len(segments),
	)
	observability.RecordAnalysisRun(observability.PhaseComplete, observability.OutcomeCompleted, started)
	return nil
}

// ResubmitFailed re-queues a user's error-state activities for initial
// analysis, staggered to avoid bursting the rate limiter. Returns the number
// of resubmitted activities.
func (o *Orchestrator) ResubmitFailed(ctx context.Context, userID string) (int, error) {
	failed, err := o.activities.ListByStatus(ctx, userID, domain.StatusError)
	if err != nil {
		return 0, err
	}
	for i, activity := range failed {
		go o.RunInitialAnalysis(context.WithoutCancel(ctx), activity.ID, i)
	}
	if len(failed) > 0 {
		o.log.Info("resubmitted failed activities", "user_id", userID, "count", len(failed))
	}
	return len(failed), nil
}

// fetchWindow loads the sensor stream. An empty window is a retry-later
// condition the callers handle, not a failure.
func (o *Orchestrator) fetchWindow(ctx context.Context, token string, platformID int64) (streams.Window, error) {
	raw, err := o.tracker.GetStreams(ctx, token, platformID, strava.AnalysisChannels)
	if err != nil {
		return streams.Window{}, err
	}
	timeCh, velocity, heartRate, distance, moving := raw.Channels()
	return streams.NewWindow(timeCh, velocity, heartRate, distance, moving), nil
}

// completeFromSplits derives the segment set from platform kilometer splits
// and commits straight to completed. Steady runs need no interval detection.
func (o *Orchestrator) completeFromSplits(ctx context.Context, log *logger.Logger, activity *domain.Activity, token string, trainingType domain.TrainingType, notes string) error {
	detail, err := o.tracker.GetActivity(ctx, token, activity.PlatformID)
	if err != nil {
		o.fail(ctx, log, activity.ID, err)
		return err
	}

	commit := domain.AnalysisCommit{
		ActivityID:   activity.ID,
		Status:       domain.StatusCompleted,
		TrainingType: &trainingType,
		Notes:        notes,
		AnalyzedAt:   o.now(),
		Segments:     segmentsFromSplits(activity.ID, detail.SplitsMetric),
	}
	if err := o.activities.CommitAnalysis(ctx, commit); err != nil {
		o.fail(ctx, log, activity.ID, err)
		return err
	}
	return nil
}

// resolveSegments computes actuals for each planned segment. Segments whose
// time range cannot be resolved against the stream are dropped; one bad
// segment must not abort the batch.
func (o *Orchestrator) resolveSegments(log *logger.Logger, activityID string, window streams.Window, planned []oracle.PlannedSegment) []domain.IntervalSegment {
	segments := make([]domain.IntervalSegment, 0, len(planned))
	for _, p := range planned {
		stats, ok := window.SegmentStats(p.StartTime, p.EndTime)
		if !ok {
			log.Debug("dropping unresolvable segment",
				"start_time", p.StartTime,
				"end_time", p.EndTime,
				"type", string(p.Type),
			)
			continue
		}

		seg := domain.IntervalSegment{
			ActivityID:     activityID,
			SegmentIndex:   len(segments),
			SetGroupIndex:  p.SetGroupIndex,
			Type:           p.Type,
			TargetType:     p.TargetType,
			TargetValue:    p.TargetValue,
			TargetPace:     streams.ParsePace(p.TargetPace),
			SeriesEndTime:  stats.SeriesEndTime,
			ActualDistance: stats.Distance,
			ActualDuration: int(math.Round(stats.Duration)),
			ActualPace:     stats.Pace,
		}
		if stats.AvgHeartRate > 0 {
			avg, max, median := stats.AvgHeartRate, stats.MaxHeartRate, stats.MedianHeartRate
			seg.AvgHeartRate = &avg
			seg.MaxHeartRate = &max
			seg.MedianHeartRate = &median
		}
		segments = append(segments, seg)
	}
	return segments
}

// segmentsFromSplits maps platform kilometer splits to steady JOGGING
// segments with a 1000m nominal target and cumulative end times.
func segmentsFromSplits(activityID string, splits []strava.SplitMetric) []domain.IntervalSegment {
	segments := make([]domain.IntervalSegment, 0, len(splits))
	elapsed := 0.0
	for i, split := range splits {
		elapsed += float64(split.ElapsedTime)
		seg := domain.IntervalSegment{
			ActivityID:     activityID,
			SegmentIndex:   i,
			Type:           domain.SegmentJogging,
			TargetType:     domain.TargetDistance,
			TargetValue:    1000,
			SeriesEndTime:  elapsed,
			ActualDistance: split.Distance,
			ActualDuration: split.MovingTime,
			ActualPace:     split.AverageSpeed,
		}
		if hr := int(math.Round(split.AverageHeartrate)); hr > 0 {
			seg.AvgHeartRate = &hr
		}
		segments = append(segments, seg)
	}
	return segments
}

// fail forces the activity into the error state. The write uses a detached
// context so a cancelled run still records its outcome.
func (o *Orchestrator) fail(ctx context.Context, log *logger.Logger, activityID string, cause error) {
	log.Error("analysis failed", "error", cause.Error())
	if err := o.activities.SetStatus(context.WithoutCancel(ctx), activityID, domain.StatusError); err != nil {
		log.Error("could not mark activity errored", "error", err.Error())
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, log *logger.Logger, activityID string, status domain.AnalysisStatus) {
	if err := o.activities.SetStatus(ctx, activityID, status); err != nil {
		log.Error("status update failed", "status", string(status), "error", err.Error())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
