package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrMissingTrainingType rejects a complete analysis request for an
	// activity that has never been classified.
	ErrMissingTrainingType = errors.New("activity has no training type; run initial analysis first")
)

// Cursor models the pagination token for activity listings.
type Cursor struct {
	StartedAt time.Time
	ID        string
}

// AnalysisCommit is the atomic write that finishes an analysis run: activity
// status, structure reference and notes update plus a full segment-set
// replacement. Partial visibility of the segment set is a correctness
// violation, so repositories must apply it in a single transaction.
type AnalysisCommit struct {
	ActivityID   string
	Status       AnalysisStatus
	TrainingType *TrainingType
	StructureID  *string
	Notes        string
	AnalyzedAt   time.Time
	Segments     []IntervalSegment
}

// SegmentObservation is one historical work segment row used by the pace
// proposal engine.
type SegmentObservation struct {
	TargetValue  float64
	TargetType   TargetType
	ActualPace   float64
	TargetPace   *float64
	SegmentIndex int
	Date         time.Time
}

// ActivityRepository captures persistence operations on activities and their
// segment sets.
type ActivityRepository interface {
	// Create inserts the activity, ignoring duplicates on platform id, and
	// records the synced event for async analysis. syncIndex is the item's
	// position in a bulk sync batch, zero for single events. Returns false
	// when the activity already existed.
	Create(ctx context.Context, activity Activity, syncIndex int) (bool, error)
	// Update refreshes platform-sourced fields on an existing activity.
	Update(ctx context.Context, activity Activity) error
	DeleteByPlatformID(ctx context.Context, platformID int64) error

	Get(ctx context.Context, activityID string) (*Activity, error)
	GetByPlatformID(ctx context.Context, platformID int64) (*Activity, error)
	ListByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error)
	ListByStatus(ctx context.Context, userID string, status AnalysisStatus) ([]Activity, error)
	// Segments returns the committed segment set ordered by segment index.
	Segments(ctx context.Context, activityID string) ([]IntervalSegment, error)

	SetStatus(ctx context.Context, activityID string, status AnalysisStatus) error
	SetStatusByPlatformID(ctx context.Context, platformID int64, status AnalysisStatus) error
	// SaveDraft stores the phase-1 result together with the resulting status
	// and, on the fast path, the confirmed training type.
	SaveDraft(ctx context.Context, activityID string, draft *DraftAnalysis, status AnalysisStatus, trainingType *TrainingType) error

	CommitAnalysis(ctx context.Context, commit AnalysisCommit) error
}

// StructureRepository is the append-only structure catalog. FindOrCreate must
// be safe under concurrent first-time creation of the same signature: the
// uniqueness constraint is the arbiter, and a duplicate insert resolves to a
// re-read of the winner.
type StructureRepository interface {
	FindOrCreate(ctx context.Context, structure IntervalStructure) (*IntervalStructure, error)
	FindBySignature(ctx context.Context, signature string) (*IntervalStructure, error)
}

// SegmentHistory retrieves a user's historical work segments for structures
// matching a signature, newest first.
type SegmentHistory interface {
	History(ctx context.Context, userID, signature string, limit int) ([]SegmentObservation, error)
}

// User links a platform athlete to stored OAuth credentials.
type User struct {
	ID             string
	AthleteID      int64
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt time.Time
}

// UserRepository resolves users and persists refreshed tokens.
type UserRepository interface {
	GetByAthleteID(ctx context.Context, athleteID int64) (*User, error)
	Get(ctx context.Context, userID string) (*User, error)
	SaveToken(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error
}
