// Package events defines the payloads exchanged over the message broker.
package events

import "time"

// Event types carried in the event_type message header.
const (
	TypeActivitySynced    = "activity.synced"
	TypeAnalysisCompleted = "activity.analysis_completed"
)

// ActivitySynced announces a newly ingested activity ready for initial
// analysis. SyncIndex is the item's position within a bulk sync batch, zero
// for single webhook events; consumers use it to stagger oracle calls.
type ActivitySynced struct {
	ActivityID string    `json:"activity_id"`
	UserID     string    `json:"user_id"`
	PlatformID int64     `json:"platform_activity_id"`
	SportType  string    `json:"sport_type"`
	SyncIndex  int       `json:"sync_index"`
	SyncedAt   time.Time `json:"synced_at"`
}

// AnalysisCompleted announces a finished analysis run, fast path included.
type AnalysisCompleted struct {
	ActivityID   string    `json:"activity_id"`
	UserID       string    `json:"user_id"`
	Status       string    `json:"status"`
	TrainingType string    `json:"training_type,omitempty"`
	StructureID  *string   `json:"structure_id,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}
