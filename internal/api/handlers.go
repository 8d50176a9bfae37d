// Package api exposes the HTTP surface of the interval analysis service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/Carlvebbesen/IntervalInsights/internal/auth"
	"github.com/Carlvebbesen/IntervalInsights/internal/domain"
	"github.com/Carlvebbesen/IntervalInsights/internal/logger"
	"github.com/Carlvebbesen/IntervalInsights/internal/pace"
	"github.com/Carlvebbesen/IntervalInsights/internal/persistence"
	"github.com/Carlvebbesen/IntervalInsights/internal/strava"
	"github.com/Carlvebbesen/IntervalInsights/internal/streams"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	defaultSyncCount = 30
	maxSyncCount     = 100
)

// AnalysisRunner drives the two analysis phases and failure re-submission.
type AnalysisRunner interface {
	RunInitialAnalysis(ctx context.Context, activityID string, syncIndex int)
	RunCompleteAnalysis(ctx context.Context, activityID, notes string, groups []domain.Set) error
	ResubmitFailed(ctx context.Context, userID string) (int, error)
}

// PaceProposer estimates per-step paces from segment history.
type PaceProposer interface {
	Propose(ctx context.Context, userID string, groups []domain.Set) ([]pace.Estimate, error)
}

// Tracker is the subset of the platform client the handlers need.
type Tracker interface {
	GetActivity(ctx context.Context, accessToken string, id int64) (*strava.DetailedActivity, error)
	GetAthleteActivities(ctx context.Context, accessToken string, page, perPage int) ([]strava.DetailedActivity, error)
}

// TokenSource resolves platform access tokens for stored users.
type TokenSource interface {
	AccessToken(ctx context.Context, userID string) (string, error)
	AccessTokenForAthlete(ctx context.Context, athleteID int64) (string, string, error)
}

// Handler exposes the REST endpoints.
type Handler struct {
	activities  domain.ActivityRepository
	runner      AnalysisRunner
	proposer    PaceProposer
	tracker     Tracker
	tokens      TokenSource
	verifyToken string
	log         *logger.Logger
}

// NewHandler wires the HTTP handler set.
func NewHandler(
	activities domain.ActivityRepository,
	runner AnalysisRunner,
	proposer PaceProposer,
	tracker Tracker,
	tokens TokenSource,
	verifyToken string,
	log *logger.Logger,
) *Handler {
	return &Handler{
		activities:  activities,
		runner:      runner,
		proposer:    proposer,
		tracker:     tracker,
		tokens:      tokens,
		verifyToken: verifyToken,
		log:         log,
	}
}

// RegisterRoutes mounts all endpoints on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/webhook", h.handleWebhook)
	mux.HandleFunc("/v1/activities", h.handleActivities)
	mux.HandleFunc("/v1/activities/sync", h.handleSync)
	mux.HandleFunc("/v1/activities/resubmit", h.handleResubmit)
	mux.HandleFunc("/v1/activities/", h.handleActivityByID)
	mux.HandleFunc("/v1/structures/proposal", h.handleProposal)
}

// Skipper exempts the platform webhook and health probe from JWT auth; the
// webhook is authenticated by the subscription verify token instead.
func Skipper(r *http.Request) bool {
	return r.URL.Path == "/v1/webhook" || r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.verifyWebhook(w, r)
	case http.MethodPost:
		h.receiveWebhook(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// verifyWebhook answers the platform's subscription challenge.
func (h *Handler) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("hub.mode") != "subscribe" || query.Get("hub.verify_token") != h.verifyToken {
		writeError(w, http.StatusForbidden, "verification_failed", "verify token mismatch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": query.Get("hub.challenge")})
}

// receiveWebhook acks immediately and processes the event in the background;
// the platform retries deliveries that are not answered within seconds.
func (h *Handler) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	var event strava.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "malformed webhook event")
		return
	}
	w.WriteHeader(http.StatusOK)

	go h.processWebhookEvent(context.WithoutCancel(r.Context()), event)
}

func (h *Handler) processWebhookEvent(ctx context.Context, event strava.WebhookEvent) {
	if event.ObjectType != "activity" {
		h.log.Debug("ignoring webhook event", "object_type", event.ObjectType)
		return
	}
	log := h.log.With("platform_activity_id", event.ObjectID, "aspect", event.AspectType)

	var err error
	switch event.AspectType {
	case "create":
		err = h.ingestActivity(ctx, event.OwnerID, event.ObjectID)
	case "update":
		err = h.applyActivityUpdate(ctx, event.ObjectID, event.Updates)
	case "delete":
		err = h.activities.DeleteByPlatformID(ctx, event.ObjectID)
	default:
		log.Debug("ignoring webhook aspect")
		return
	}
	if err != nil {
		log.Error("processing webhook event failed", "error", err)
		return
	}
	log.Info("processed webhook event")
}

// ingestActivity pulls the full activity from the platform and stores it. The
// insert enqueues the synced event, which triggers initial analysis.
func (h *Handler) ingestActivity(ctx context.Context, athleteID, platformID int64) error {
	userID, token, err := h.tokens.AccessTokenForAthlete(ctx, athleteID)
	if err != nil {
		return fmt.Errorf("resolving athlete %d: %w", athleteID, err)
	}
	detail, err := h.tracker.GetActivity(ctx, token, platformID)
	if err != nil {
		return fmt.Errorf("fetching activity: %w", err)
	}
	if !domain.ShouldAnalyze(detail.SportType) {
		h.log.Debug("skipping non-running activity", "sport_type", detail.SportType)
		return nil
	}
	_, err = h.activities.Create(ctx, activityFromDetail(userID, detail), 0)
	return err
}

// applyActivityUpdate patches the fields the platform sends in update events.
// Updates for activities we never stored are not an error. A changed title
// re-triggers classification, since the title feeds the classifier.
func (h *Handler) applyActivityUpdate(ctx context.Context, platformID int64, updates map[string]string) error {
	activity, err := h.activities.GetByPlatformID(ctx, platformID)
	if errors.Is(err, domain.ErrActivityNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	reclassify := false
	if title, ok := updates["title"]; ok && title != activity.Title {
		activity.Title = title
		reclassify = true
	}
	if sport, ok := updates["type"]; ok {
		activity.SportType = sport
	}
	if err := h.activities.Update(ctx, *activity); err != nil {
		return err
	}

	if reclassify && domain.ShouldAnalyze(activity.SportType) && !inFlight(activity.AnalysisStatus) {
		// Back to pending so the orchestrator accepts the rerun.
		if err := h.activities.SetStatus(ctx, activity.ID, domain.StatusPending); err != nil {
			return err
		}
		go h.runner.RunInitialAnalysis(context.WithoutCancel(ctx), activity.ID, 0)
	}
	return nil
}

func inFlight(status domain.AnalysisStatus) bool {
	return status == domain.StatusOngoingInit || status == domain.StatusOngoingComplete
}

func (h *Handler) handleActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxPageSize {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	var cursor *domain.Cursor
	if token := r.URL.Query().Get("cursor"); token != "" {
		decoded, err := persistence.DecodeCursor(token)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_cursor", "malformed cursor")
			return
		}
		cursor = decoded
	}

	activities, next, err := h.activities.ListByUser(r.Context(), claims.Subject, cursor, limit)
	if err != nil {
		h.log.Error("listing activities failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list activities")
		return
	}

	resp := ListActivitiesResponse{Items: make([]ActivityView, 0, len(activities))}
	for _, activity := range activities {
		resp.Items = append(resp.Items, newActivityView(activity, nil))
	}
	if next != nil {
		resp.NextCursor = persistence.EncodeCursor(next)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleActivityByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	if id, ok := strings.CutSuffix(rest, "/analysis"); ok {
		h.handleRunAnalysis(w, r, id)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	activity, err := h.loadOwnedActivity(r.Context(), w, rest, claims.Subject)
	if activity == nil || err != nil {
		return
	}

	var segments []domain.IntervalSegment
	if activity.AnalysisStatus == domain.StatusCompleted {
		segments, err = h.activities.Segments(r.Context(), activity.ID)
		if err != nil {
			h.log.Error("loading segments failed", "activity_id", activity.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "could not load segments")
			return
		}
	}
	writeJSON(w, http.StatusOK, newActivityView(*activity, segments))
}

func (h *Handler) handleRunAnalysis(w http.ResponseWriter, r *http.Request, activityID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeAnalysisRun, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req RunAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "malformed request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	activity, err := h.loadOwnedActivity(r.Context(), w, activityID, claims.Subject)
	if activity == nil || err != nil {
		return
	}
	if activity.TrainingType == nil {
		writeError(w, http.StatusConflict, "not_classified", "activity has no training type; initial analysis has not finished")
		return
	}
	switch activity.AnalysisStatus {
	case domain.StatusOngoingInit, domain.StatusOngoingComplete:
		writeError(w, http.StatusConflict, "analysis_in_progress", "an analysis run is already in flight")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go func() {
		if err := h.runner.RunCompleteAnalysis(ctx, activity.ID, req.Notes, req.Sets); err != nil {
			h.log.Error("complete analysis failed to start", "activity_id", activity.ID, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleSync pulls the user's recent platform activities and stores the ones
// that qualify for analysis. Each insert enqueues the usual synced event; the
// sync index staggers the resulting LLM calls.
func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeAnalysisRun, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	req := SyncRequest{Count: defaultSyncCount}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_payload", "malformed request body")
			return
		}
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	token, err := h.tokens.AccessToken(r.Context(), claims.Subject)
	if err != nil {
		h.log.Error("resolving platform token failed", "user_id", claims.Subject, "error", err)
		writeError(w, http.StatusBadGateway, "tracker_unavailable", "could not authenticate against the platform")
		return
	}
	recent, err := h.tracker.GetAthleteActivities(r.Context(), token, 1, req.Count)
	if err != nil {
		h.log.Error("listing platform activities failed", "user_id", claims.Subject, "error", err)
		writeError(w, http.StatusBadGateway, "tracker_unavailable", "could not list platform activities")
		return
	}

	synced := 0
	for i := range recent {
		detail := &recent[i]
		if !domain.ShouldAnalyze(detail.SportType) {
			continue
		}
		created, err := h.activities.Create(r.Context(), activityFromDetail(claims.Subject, detail), synced)
		if err != nil {
			h.log.Error("storing synced activity failed", "platform_activity_id", detail.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "could not store synced activities")
			return
		}
		if created {
			synced++
		}
	}
	writeJSON(w, http.StatusOK, SyncResponse{Synced: synced})
}

func (h *Handler) handleResubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeAnalysisRun, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	count, err := h.runner.ResubmitFailed(r.Context(), claims.Subject)
	if err != nil {
		h.log.Error("resubmitting failed activities", "user_id", claims.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not resubmit failed activities")
		return
	}
	writeJSON(w, http.StatusOK, ResubmitResponse{Resubmitted: count})
}

func (h *Handler) handleProposal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeAnalysisRun)
	if !ok {
		return
	}

	var req ProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "malformed request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	estimates, err := h.proposer.Propose(r.Context(), claims.Subject, req.Sets)
	if err != nil {
		h.log.Error("pace proposal failed", "user_id", claims.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not build a pace proposal")
		return
	}

	resp := ProposalResponse{Estimates: make([]EstimateView, 0, len(estimates))}
	for _, est := range estimates {
		resp.Estimates = append(resp.Estimates, newEstimateView(est))
	}
	writeJSON(w, http.StatusOK, resp)
}

// loadOwnedActivity fetches the activity and enforces ownership. It writes
// the error response itself; callers bail out on a nil activity.
func (h *Handler) loadOwnedActivity(ctx context.Context, w http.ResponseWriter, activityID, userID string) (*domain.Activity, error) {
	if _, err := uuid.Parse(activityID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "activity id must be a UUID")
		return nil, err
	}
	activity, err := h.activities.Get(ctx, activityID)
	if errors.Is(err, domain.ErrActivityNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "activity not found")
		return nil, err
	}
	if err != nil {
		h.log.Error("loading activity failed", "activity_id", activityID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load activity")
		return nil, err
	}
	// Foreign activities look like missing ones.
	if activity.UserID != userID {
		writeError(w, http.StatusNotFound, "not_found", "activity not found")
		return nil, domain.ErrActivityNotFound
	}
	return activity, nil
}

func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing credentials")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "insufficient scope")
	return nil, false
}

func activityFromDetail(userID string, detail *strava.DetailedActivity) domain.Activity {
	activity := domain.Activity{
		ID:                 uuid.NewString(),
		UserID:             userID,
		PlatformID:         detail.ID,
		Title:              detail.Name,
		Description:        detail.Description,
		SportType:          detail.SportType,
		Distance:           detail.Distance,
		MovingTime:         detail.MovingTime,
		ElapsedTime:        detail.ElapsedTime,
		TotalElevationGain: detail.TotalElevationGain,
		AverageSpeed:       detail.AverageSpeed,
		AverageHeartRate:   detail.AverageHeartrate,
		MaxHeartRate:       detail.MaxHeartrate,
		HasHeartRate:       detail.HasHeartrate,
		DeviceName:         detail.DeviceName,
		Indoor:             detail.Trainer,
		StartedAt:          detail.StartDateLocal,
		AnalysisStatus:     domain.StatusPending,
	}
	if detail.Gear != nil {
		activity.GearName = detail.Gear.Name
	}
	return activity
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"type": code, "detail": detail})
}

// formatPaceRef renders a m/s pace as min/km, or nil when no pace exists.
func formatPaceRef(mps *float64) *string {
	if mps == nil || *mps <= 0 {
		return nil
	}
	formatted := streams.FormatPace(*mps)
	return &formatted
}
