// Package postgres provides pgx-backed persistence for activities, interval
// structures and users, plus the transactional outbox rows that feed the
// event dispatcher.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Carlvebbesen/IntervalInsights/internal/domain"
	"github.com/Carlvebbesen/IntervalInsights/internal/events"
	"github.com/Carlvebbesen/IntervalInsights/internal/observability"
)

// Topics routes outbox events to broker topics.
type Topics struct {
	Sync     string
	Analysis string
}

// Repository implements domain.ActivityRepository on Postgres.
type Repository struct {
	pool   *pgxpool.Pool
	topics Topics
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, topics Topics) *Repository {
	return &Repository{pool: pool, topics: topics}
}

const activityColumns = `activity_id, user_id, platform_activity_id, title, COALESCE(description,''), sport_type,
    distance, moving_time, elapsed_time, COALESCE(total_elevation_gain,0), COALESCE(average_speed,0),
    COALESCE(average_heart_rate,0), COALESCE(max_heart_rate,0), COALESCE(has_heart_rate,false),
    COALESCE(device_name,''), COALESCE(gear_name,''), indoor, feeling, COALESCE(notes,''),
    started_at, analysis_status, training_type, structure_id, draft_analysis, analyzed_at, created_at, updated_at`

// Create persists the activity and its synced event in one transaction.
// Duplicate platform ids are ignored and reported as (false, nil).
func (r *Repository) Create(ctx context.Context, activity domain.Activity, syncIndex int) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const insertActivity = `INSERT INTO activities (
            activity_id, user_id, platform_activity_id, title, description, sport_type,
            distance, moving_time, elapsed_time, total_elevation_gain, average_speed,
            average_heart_rate, max_heart_rate, has_heart_rate, device_name, gear_name,
            indoor, feeling, notes, started_at, analysis_status)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
        ON CONFLICT (platform_activity_id) DO NOTHING`

	tag, err := tx.Exec(ctx, insertActivity,
		activity.ID,
		activity.UserID,
		activity.PlatformID,
		activity.Title,
		nullIfEmpty(activity.Description),
		activity.SportType,
		activity.Distance,
		activity.MovingTime,
		activity.ElapsedTime,
		activity.TotalElevationGain,
		activity.AverageSpeed,
		activity.AverageHeartRate,
		activity.MaxHeartRate,
		activity.HasHeartRate,
		nullIfEmpty(activity.DeviceName),
		nullIfEmpty(activity.GearName),
		activity.Indoor,
		activity.Feeling,
		nullIfEmpty(activity.Notes),
		activity.StartedAt,
		domain.StatusPending,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		err = tx.Commit(ctx)
		return false, err
	}

	if err = insertOutbox(ctx, tx, r.topics.Sync, activity.ID, events.TypeActivitySynced, activity.UserID, events.ActivitySynced{
		ActivityID: activity.ID,
		UserID:     activity.UserID,
		PlatformID: activity.PlatformID,
		SportType:  activity.SportType,
		SyncIndex:  syncIndex,
		SyncedAt:   time.Now().UTC(),
	}); err != nil {
		return false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Update refreshes platform-sourced fields on an existing activity.
func (r *Repository) Update(ctx context.Context, activity domain.Activity) error {
	const stmt = `UPDATE activities SET
            title=$2, description=$3, sport_type=$4, distance=$5, moving_time=$6,
            elapsed_time=$7, total_elevation_gain=$8, average_speed=$9,
            average_heart_rate=$10, max_heart_rate=$11, has_heart_rate=$12,
            device_name=$13, gear_name=$14, indoor=$15, started_at=$16, updated_at=NOW()
        WHERE activity_id=$1`

	tag, err := r.pool.Exec(ctx, stmt,
		activity.ID,
		activity.Title,
		nullIfEmpty(activity.Description),
		activity.SportType,
		activity.Distance,
		activity.MovingTime,
		activity.ElapsedTime,
		activity.TotalElevationGain,
		activity.AverageSpeed,
		activity.AverageHeartRate,
		activity.MaxHeartRate,
		activity.HasHeartRate,
		nullIfEmpty(activity.DeviceName),
		nullIfEmpty(activity.GearName),
		activity.Indoor,
		activity.StartedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrActivityNotFound
	}
	return nil
}

// DeleteByPlatformID removes the activity; segments cascade with it.
func (r *Repository) DeleteByPlatformID(ctx context.Context, platformID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM activities WHERE platform_activity_id=$1`, platformID)
	return err
}

// Get retrieves an activity by id.
func (r *Repository) Get(ctx context.Context, activityID string) (*domain.Activity, error) {
	query := fmt.Sprintf(`SELECT %s FROM activities WHERE activity_id=$1`, activityColumns)
	return scanActivity(r.pool.QueryRow(ctx, query, activityID))
}

// GetByPlatformID retrieves an activity by its platform id.
func (r *Repository) GetByPlatformID(ctx context.Context, platformID int64) (*domain.Activity, error) {
	query := fmt.Sprintf(`SELECT %s FROM activities WHERE platform_activity_id=$1`, activityColumns)
	return scanActivity(r.pool.QueryRow(ctx, query, platformID))
}

// ListByUser returns activities for a user ordered by start time, newest
// first, with keyset pagination.
func (r *Repository) ListByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	args := []any{userID, limit}
	query := fmt.Sprintf(`SELECT %s FROM activities WHERE user_id=$1`, activityColumns)
	if cursor != nil {
		query += ` AND (started_at, activity_id) < ($3, $4)`
		args = append(args, cursor.StartedAt, cursor.ID)
	}
	query += ` ORDER BY started_at DESC, activity_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0, limit)
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, *activity)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	return results, next, nil
}

// ListByStatus returns a user's activities in the given analysis state.
func (r *Repository) ListByStatus(ctx context.Context, userID string, status domain.AnalysisStatus) ([]domain.Activity, error) {
	query := fmt.Sprintf(`SELECT %s FROM activities WHERE user_id=$1 AND analysis_status=$2 ORDER BY started_at DESC`, activityColumns)
	rows, err := r.pool.Query(ctx, query, userID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Activity
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *activity)
	}
	return results, rows.Err()
}

// Segments returns the committed segment set ordered by segment index.
func (r *Repository) Segments(ctx context.Context, activityID string) ([]domain.IntervalSegment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT activity_id, segment_index, set_group_index, type, target_type, target_value,
            target_pace, series_end_time, actual_distance, actual_duration, actual_pace,
            avg_heart_rate, max_heart_rate, median_heart_rate
        FROM interval_segments WHERE activity_id=$1 ORDER BY segment_index ASC`,
		activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []domain.IntervalSegment
	for rows.Next() {
		var seg domain.IntervalSegment
		if err := rows.Scan(
			&seg.ActivityID, &seg.SegmentIndex, &seg.SetGroupIndex, &seg.Type,
			&seg.TargetType, &seg.TargetValue, &seg.TargetPace, &seg.SeriesEndTime,
			&seg.ActualDistance, &seg.ActualDuration, &seg.ActualPace,
			&seg.AvgHeartRate, &seg.MaxHeartRate, &seg.MedianHeartRate,
		); err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// SetStatus moves the activity to the given analysis state.
func (r *Repository) SetStatus(ctx context.Context, activityID string, status domain.AnalysisStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE activities SET analysis_status=$2, updated_at=NOW() WHERE activity_id=$1`,
		activityID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrActivityNotFound
	}
	return nil
}

// SetStatusByPlatformID is SetStatus keyed by the platform id.
func (r *Repository) SetStatusByPlatformID(ctx context.Context, platformID int64, status domain.AnalysisStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE activities SET analysis_status=$2, updated_at=NOW() WHERE platform_activity_id=$1`,
		platformID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrActivityNotFound
	}
	return nil
}

// SaveDraft stores the phase-1 result with the resulting status.
func (r *Repository) SaveDraft(ctx context.Context, activityID string, draft *domain.DraftAnalysis, status domain.AnalysisStatus, trainingType *domain.TrainingType) error {
	body, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE activities SET draft_analysis=$2, analysis_status=$3,
             training_type=COALESCE($4, training_type), updated_at=NOW()
         WHERE activity_id=$1`,
		activityID, body, status, trainingType)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrActivityNotFound
	}
	return nil
}

// CommitAnalysis applies the analysis outcome in a single transaction:
// activity update, full segment-set replacement and the completion event.
func (r *Repository) CommitAnalysis(ctx context.Context, commit domain.AnalysisCommit) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const updateActivity = `UPDATE activities SET
            analysis_status=$2, training_type=COALESCE($3, training_type),
            structure_id=$4, notes=COALESCE(NULLIF($5,''), notes),
            analyzed_at=$6, updated_at=NOW()
        WHERE activity_id=$1
        RETURNING user_id`

	var userID string
	err = tx.QueryRow(ctx, updateActivity,
		commit.ActivityID,
		commit.Status,
		commit.TrainingType,
		commit.StructureID,
		commit.Notes,
		commit.AnalyzedAt,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = domain.ErrActivityNotFound
		}
		return err
	}

	if _, err = tx.Exec(ctx, `DELETE FROM interval_segments WHERE activity_id=$1`, commit.ActivityID); err != nil {
		return err
	}

	const insertSegment = `INSERT INTO interval_segments (
            activity_id, segment_index, set_group_index, type, target_type, target_value,
            target_pace, series_end_time, actual_distance, actual_duration, actual_pace,
            avg_heart_rate, max_heart_rate, median_heart_rate)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	batch := &pgx.Batch{}
	for _, seg := range commit.Segments {
		batch.Queue(insertSegment,
			commit.ActivityID,
			seg.SegmentIndex,
			seg.SetGroupIndex,
			seg.Type,
			seg.TargetType,
			seg.TargetValue,
			seg.TargetPace,
			seg.SeriesEndTime,
			seg.ActualDistance,
			seg.ActualDuration,
			seg.ActualPace,
			seg.AvgHeartRate,
			seg.MaxHeartRate,
			seg.MedianHeartRate,
		)
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	payload := events.AnalysisCompleted{
		ActivityID:  commit.ActivityID,
		UserID:      userID,
		Status:      string(commit.Status),
		StructureID: commit.StructureID,
		CompletedAt: commit.AnalyzedAt,
	}
	if commit.TrainingType != nil {
		payload.TrainingType = string(*commit.TrainingType)
	}
	if err = insertOutbox(ctx, tx, r.topics.Analysis, commit.ActivityID, events.TypeAnalysisCompleted, userID, payload); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordAnalysisCommitted(commit.AnalyzedAt)
	return nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, topic, aggregateID, eventType, partitionKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	const stmt = `INSERT INTO outbox (aggregate_id, event_type, topic, partition_key, payload)
        VALUES ($1,$2,$3,$4,$5)`
	_, err = tx.Exec(ctx, stmt, aggregateID, eventType, topic, partitionKey, body)
	return err
}

func scanActivity(row pgx.Row) (*domain.Activity, error) {
	var a domain.Activity
	var trainingType *string
	var draft []byte
	err := row.Scan(
		&a.ID, &a.UserID, &a.PlatformID, &a.Title, &a.Description, &a.SportType,
		&a.Distance, &a.MovingTime, &a.ElapsedTime, &a.TotalElevationGain, &a.AverageSpeed,
		&a.AverageHeartRate, &a.MaxHeartRate, &a.HasHeartRate, &a.DeviceName, &a.GearName,
		&a.Indoor, &a.Feeling, &a.Notes, &a.StartedAt, &a.AnalysisStatus, &trainingType,
		&a.StructureID, &draft, &a.AnalyzedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrActivityNotFound
		}
		return nil, err
	}
	if trainingType != nil {
		t := domain.TrainingType(*trainingType)
		a.TrainingType = &t
	}
	if len(draft) > 0 {
		var d domain.DraftAnalysis
		if err := json.Unmarshal(draft, &d); err != nil {
			return nil, fmt.Errorf("decode draft analysis: %w", err)
		}
		a.Draft = &d
	}
	return &a, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
