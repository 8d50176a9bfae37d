package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Carlvebbesen/IntervalInsights/internal/events"
	"github.com/Carlvebbesen/IntervalInsights/internal/logger"
)

// Runner is the slice of the analysis orchestrator the handler needs.
type Runner interface {
	RunInitialAnalysis(ctx context.Context, activityID string, syncIndex int)
}

// AnalysisHandler triggers initial analysis for synced activities.
type AnalysisHandler struct {
	runner Runner
	log    *logger.Logger
}

// NewAnalysisHandler constructs an AnalysisHandler.
func NewAnalysisHandler(runner Runner, log *logger.Logger) *AnalysisHandler {
	return &AnalysisHandler{runner: runner, log: log.With("handler", "analysis")}
}

// Handle processes one dispatched event. Unknown event types are skipped so
// shared topics stay forward compatible.
func (h *AnalysisHandler) Handle(ctx context.Context, msg Message) error {
	switch msg.EventType {
	case events.TypeActivitySynced:
		var payload events.ActivitySynced
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.EventType, err)
		}
		if payload.ActivityID == "" {
			return fmt.Errorf("%s event without activity_id", msg.EventType)
		}
		h.log.Info("starting initial analysis",
			"activity_id", payload.ActivityID,
			"sync_index", payload.SyncIndex,
		)
		h.runner.RunInitialAnalysis(ctx, payload.ActivityID, payload.SyncIndex)
		return nil
	default:
		h.log.Debug("ignoring event", "event_type", msg.EventType)
		return nil
	}
}
