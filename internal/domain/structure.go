package domain

import "time"

// IntervalType is the finer interval classification attached to a structure.
type IntervalType string

const (
	IntervalSprints           IntervalType = "SPRINTS"
	IntervalHillSprints       IntervalType = "HILL_SPRINTS"
	IntervalAnaerobicCapacity IntervalType = "ANAEROBIC_CAPACITY"
	IntervalVO2Max            IntervalType = "VO2_MAX"
	IntervalThreshold         IntervalType = "THRESHOLD"
	IntervalCriticalVelocity  IntervalType = "CRITICAL_VELOCITY"
	IntervalFartlek           IntervalType = "FARTLEK"
	IntervalRecovery          IntervalType = "RECOVERY_INTERVALS"
)

// IntervalStructure is the deduplicated, content-addressed description of a
// repeating workout shape. Rows are append-only: once created for a
// signature, a structure is never mutated.
type IntervalStructure struct {
	ID           string
	Name         string
	Signature    string
	TrainingType TrainingType
	IntervalType IntervalType
	CreatedAt    time.Time
}
