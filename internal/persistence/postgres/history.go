package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Carlvebbesen/IntervalInsights/internal/domain"
)

// HistoryRepository serves the pace proposal engine with a user's historical
// work segments for a structure signature.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository constructs a HistoryRepository.
func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

// History returns work segments of the user's activities whose structure
// matches the signature, newest activity first. limit caps the number of
// source activities, not segments, so whole executions are kept together.
func (r *HistoryRepository) History(ctx context.Context, userID, signature string, limit int) ([]domain.SegmentObservation, error) {
	const query = `
        WITH recent AS (
            SELECT a.activity_id, a.started_at
            FROM activities a
            JOIN interval_structures s ON s.structure_id = a.structure_id
            WHERE a.user_id = $1 AND s.signature = $2 AND a.analysis_status = 'completed'
            ORDER BY a.started_at DESC
            LIMIT $3
        )
        SELECT seg.target_value, seg.target_type, seg.actual_pace, seg.target_pace,
               seg.segment_index, recent.started_at
        FROM interval_segments seg
        JOIN recent ON recent.activity_id = seg.activity_id
        WHERE seg.type = 'WORK'
        ORDER BY recent.started_at DESC, seg.segment_index ASC`

	rows, err := r.pool.Query(ctx, query, userID, signature, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observations []domain.SegmentObservation
	for rows.Next() {
		var obs domain.SegmentObservation
		if err := rows.Scan(&obs.TargetValue, &obs.TargetType, &obs.ActualPace,
			&obs.TargetPace, &obs.SegmentIndex, &obs.Date); err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}
