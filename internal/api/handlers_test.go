package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Carlvebbesen/IntervalInsights/internal/auth"
	"github.com/Carlvebbesen/IntervalInsights/internal/domain"
	"github.com/Carlvebbesen/IntervalInsights/internal/logger"
	"github.com/Carlvebbesen/IntervalInsights/internal/pace"
	"github.com/Carlvebbesen/IntervalInsights/internal/strava"
)

const (
	testUserID     = "user-1"
	testActivityID = "2f1f6f74-9c0b-4aa1-8c2a-7f6f5b6c0d1e"
)

type stubActivities struct {
	activity *domain.Activity
	segments []domain.IntervalSegment
	listed   []domain.Activity
	next     *domain.Cursor

	created []domain.Activity
	indexes []int
	exists  map[int64]bool
	updated []domain.Activity
	deleted []int64
}

func (s *stubActivities) Create(_ context.Context, activity domain.Activity, syncIndex int) (bool, error) {
	if s.exists[activity.PlatformID] {
		return false, nil
	}
	s.created = append(s.created, activity)
	s.indexes = append(s.indexes, syncIndex)
	return true, nil
}

func (s *stubActivities) Update(_ context.Context, activity domain.Activity) error {
	s.updated = append(s.updated, activity)
	return nil
}

func (s *stubActivities) DeleteByPlatformID(_ context.Context, platformID int64) error {
	s.deleted = append(s.deleted, platformID)
	return nil
}

func (s *stubActivities) Get(_ context.Context, activityID string) (*domain.Activity, error) {
	if s.activity == nil || s.activity.ID != activityID {
		return nil, domain.ErrActivityNotFound
	}
	copied := *s.activity
	return &copied, nil
}

func (s *stubActivities) GetByPlatformID(_ context.Context, platformID int64) (*domain.Activity, error) {
	if s.activity == nil || s.activity.PlatformID != platformID {
		return nil, domain.ErrActivityNotFound
	}
	copied := *s.activity
	return &copied, nil
}

func (s *stubActivities) ListByUser(context.Context, string, *domain.Cursor, int) ([]domain.Activity, *domain.Cursor, error) {
	return s.listed, s.next, nil
}

func (s *stubActivities) ListByStatus(context.Context, string, domain.AnalysisStatus) ([]domain.Activity, error) {
	return nil, nil
}

func (s *stubActivities) Segments(context.Context, string) ([]domain.IntervalSegment, error) {
	return s.segments, nil
}

func (s *stubActivities) SetStatus(context.Context, string, domain.AnalysisStatus) error { return nil }

func (s *stubActivities) SetStatusByPlatformID(context.Context, int64, domain.AnalysisStatus) error {
	return nil
}

func (s *stubActivities) SaveDraft(context.Context, string, *domain.DraftAnalysis, domain.AnalysisStatus, *domain.TrainingType) error {
	return nil
}

func (s *stubActivities) CommitAnalysis(context.Context, domain.AnalysisCommit) error { return nil }

type stubRunner struct {
	completeCalls chan completeCall
	initialCalls  chan string
	resubmitted   int
}

type completeCall struct {
	activityID string
	notes      string
	sets       []domain.Set
}

func (s *stubRunner) RunInitialAnalysis(_ context.Context, activityID string, _ int) {
	if s.initialCalls != nil {
		s.initialCalls <- activityID
	}
}

func (s *stubRunner) RunCompleteAnalysis(_ context.Context, activityID, notes string, sets []domain.Set) error {
	if s.completeCalls != nil {
		s.completeCalls <- completeCall{activityID: activityID, notes: notes, sets: sets}
	}
	return nil
}

func (s *stubRunner) ResubmitFailed(context.Context, string) (int, error) {
	return s.resubmitted, nil
}

type stubProposer struct {
	estimates []pace.Estimate
	userID    string
	sets      []domain.Set
}

func (s *stubProposer) Propose(_ context.Context, userID string, sets []domain.Set) ([]pace.Estimate, error) {
	s.userID = userID
	s.sets = sets
	return s.estimates, nil
}

type stubTracker struct {
	detail *strava.DetailedActivity
	recent []strava.DetailedActivity
}

func (s *stubTracker) GetActivity(context.Context, string, int64) (*strava.DetailedActivity, error) {
	return s.detail, nil
}

func (s *stubTracker) GetAthleteActivities(context.Context, string, int, int) ([]strava.DetailedActivity, error) {
	return s.recent, nil
}

type stubTokens struct{}

func (stubTokens) AccessToken(context.Context, string) (string, error) { return "token", nil }

func (stubTokens) AccessTokenForAthlete(context.Context, int64) (string, string, error) {
	return testUserID, "token", nil
}

type fixture struct {
	handler    *Handler
	activities *stubActivities
	runner     *stubRunner
	proposer   *stubProposer
	tracker    *stubTracker
}

func newFixture() *fixture {
	activities := &stubActivities{exists: map[int64]bool{}}
	runner := &stubRunner{completeCalls: make(chan completeCall, 1), initialCalls: make(chan string, 1)}
	proposer := &stubProposer{}
	tracker := &stubTracker{}
	handler := NewHandler(activities, runner, proposer, tracker, stubTokens{}, "verify-me", logger.NewNop())
	return &fixture{handler: handler, activities: activities, runner: runner, proposer: proposer, tracker: tracker}
}

func authed(req *http.Request, scopes ...string) *http.Request {
	claims := &auth.Claims{
		Subject:   testUserID,
		Scopes:    map[string]struct{}{},
		ExpiresAt: time.Now().Add(time.Hour),
	}
	for _, scope := range scopes {
		claims.Scopes[scope] = struct{}{}
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func TestWebhookVerification(t *testing.T) {
	f := newFixture()

	req := httptest.NewRequest(http.MethodGet, "/v1/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=abc123", nil)
	rr := httptest.NewRecorder()
	f.handler.handleWebhook(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["hub.challenge"] != "abc123" {
		t.Fatalf("expected challenge echoed, got %q", resp["hub.challenge"])
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/webhook?hub.mode=subscribe&hub.verify_token=wrong", nil)
	rr = httptest.NewRecorder()
	f.handler.handleWebhook(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on bad verify token got %d", rr.Code)
	}
}

func TestWebhookCreateIngestsActivity(t *testing.T) {
	f := newFixture()
	f.tracker.detail = &strava.DetailedActivity{
		ID:        99001,
		Name:      "Morning Run",
		SportType: "Run",
		Distance:  10000,
		Gear:      &strava.Gear{Name: "Pegasus 41"},
	}

	event := strava.WebhookEvent{ObjectType: "activity", ObjectID: 99001, AspectType: "create", OwnerID: 555}
	f.handler.processWebhookEvent(context.Background(), event)

	if len(f.activities.created) != 1 {
		t.Fatalf("expected 1 created activity got %d", len(f.activities.created))
	}
	created := f.activities.created[0]
	if created.UserID != testUserID || created.PlatformID != 99001 {
		t.Fatalf("unexpected created activity %+v", created)
	}
	if created.AnalysisStatus != domain.StatusPending {
		t.Fatalf("expected pending status got %s", created.AnalysisStatus)
	}
	if created.GearName != "Pegasus 41" {
		t.Fatalf("expected gear name mapped, got %q", created.GearName)
	}
	if f.activities.indexes[0] != 0 {
		t.Fatalf("webhook ingest should use sync index 0, got %d", f.activities.indexes[0])
	}
}

func TestWebhookCreateSkipsNonRunning(t *testing.T) {
	f := newFixture()
	f.tracker.detail = &strava.DetailedActivity{ID: 99002, SportType: "Ride"}

	event := strava.WebhookEvent{ObjectType: "activity", ObjectID: 99002, AspectType: "create", OwnerID: 555}
	f.handler.processWebhookEvent(context.Background(), event)

	if len(f.activities.created) != 0 {
		t.Fatalf("expected ride to be skipped, got %d created", len(f.activities.created))
	}
}

func TestWebhookUpdateAndDelete(t *testing.T) {
	f := newFixture()
	f.activities.activity = &domain.Activity{
		ID: testActivityID, UserID: testUserID, PlatformID: 99003,
		Title: "Old", SportType: "Run", AnalysisStatus: domain.StatusCompleted,
	}

	update := strava.WebhookEvent{
		ObjectType: "activity", ObjectID: 99003, AspectType: "update",
		Updates: map[string]string{"title": "Renamed"},
	}
	f.handler.processWebhookEvent(context.Background(), update)
	if len(f.activities.updated) != 1 || f.activities.updated[0].Title != "Renamed" {
		t.Fatalf("expected title update, got %+v", f.activities.updated)
	}
	// A renamed activity is re-classified.
	select {
	case id := <-f.runner.initialCalls:
		if id != testActivityID {
			t.Fatalf("re-classification ran for wrong activity %q", id)
		}
	case <-time.After(time.Second):
		t.Fatal("title change did not re-trigger initial analysis")
	}

	f.handler.processWebhookEvent(context.Background(), strava.WebhookEvent{
		ObjectType: "activity", ObjectID: 99003, AspectType: "delete",
	})
	if len(f.activities.deleted) != 1 || f.activities.deleted[0] != 99003 {
		t.Fatalf("expected delete by platform id, got %+v", f.activities.deleted)
	}
}

func TestListActivitiesPaging(t *testing.T) {
	f := newFixture()
	started := time.Date(2026, time.July, 14, 6, 30, 0, 0, time.UTC)
	f.activities.listed = []domain.Activity{{ID: testActivityID, UserID: testUserID, Title: "Intervals", StartedAt: started}}
	f.activities.next = &domain.Cursor{StartedAt: started, ID: testActivityID}

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/activities?limit=1", nil), auth.ScopeActivitiesRead)
	rr := httptest.NewRecorder()
	f.handler.handleActivities(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp ListActivitiesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Title != "Intervals" {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
	if resp.NextCursor == "" {
		t.Fatal("expected a continuation cursor")
	}
}

func TestListActivitiesRejectsBadLimit(t *testing.T) {
	f := newFixture()
	req := authed(httptest.NewRequest(http.MethodGet, "/v1/activities?limit=5000", nil), auth.ScopeActivitiesRead)
	rr := httptest.NewRecorder()
	f.handler.handleActivities(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestActivityDetailIncludesSegments(t *testing.T) {
	f := newFixture()
	actualPace := 1000.0 / 270.0
	f.activities.activity = &domain.Activity{
		ID: testActivityID, UserID: testUserID, Title: "8x400",
		AnalysisStatus: domain.StatusCompleted,
	}
	f.activities.segments = []domain.IntervalSegment{{
		ActivityID: testActivityID, SegmentIndex: 0, Type: domain.SegmentWork,
		TargetType: domain.TargetDistance, TargetValue: 400,
		ActualDistance: 402, ActualDuration: 92, ActualPace: actualPace,
	}}

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/activities/"+testActivityID, nil), auth.ScopeActivitiesRead)
	rr := httptest.NewRecorder()
	f.handler.handleActivityByID(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var view ActivityView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(view.Segments) != 1 {
		t.Fatalf("expected 1 segment got %d", len(view.Segments))
	}
	if view.Segments[0].ActualPace == nil || *view.Segments[0].ActualPace != "4:30" {
		t.Fatalf("expected actual pace 4:30, got %v", view.Segments[0].ActualPace)
	}
}

func TestActivityDetailHidesForeignActivities(t *testing.T) {
	f := newFixture()
	f.activities.activity = &domain.Activity{ID: testActivityID, UserID: "someone-else"}

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/activities/"+testActivityID, nil), auth.ScopeActivitiesRead)
	rr := httptest.NewRecorder()
	f.handler.handleActivityByID(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign activity got %d", rr.Code)
	}
}

func TestRunAnalysisAccepted(t *testing.T) {
	f := newFixture()
	trainingType := domain.TrainingShortIntervals
	f.activities.activity = &domain.Activity{
		ID: testActivityID, UserID: testUserID,
		AnalysisStatus: domain.StatusInitial, TrainingType: &trainingType,
	}

	body := `{"notes":"felt strong","sets":[{"steps":[{"work_type":"DISTANCE","work_value":400}]}]}`
	req := authed(
		httptest.NewRequest(http.MethodPost, "/v1/activities/"+testActivityID+"/analysis", strings.NewReader(body)),
		auth.ScopeAnalysisRun,
	)
	rr := httptest.NewRecorder()
	f.handler.handleActivityByID(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rr.Code, rr.Body.String())
	}
	select {
	case call := <-f.runner.completeCalls:
		if call.activityID != testActivityID || call.notes != "felt strong" || len(call.sets) != 1 {
			t.Fatalf("unexpected run call %+v", call)
		}
	case <-time.After(time.Second):
		t.Fatal("complete analysis was never started")
	}
}

func TestRunAnalysisRequiresTrainingType(t *testing.T) {
	f := newFixture()
	f.activities.activity = &domain.Activity{
		ID: testActivityID, UserID: testUserID, AnalysisStatus: domain.StatusPending,
	}

	req := authed(
		httptest.NewRequest(http.MethodPost, "/v1/activities/"+testActivityID+"/analysis", strings.NewReader(`{"sets":[]}`)),
		auth.ScopeAnalysisRun,
	)
	rr := httptest.NewRecorder()
	f.handler.handleActivityByID(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 without training type got %d", rr.Code)
	}
}

func TestRunAnalysisRejectsInFlight(t *testing.T) {
	f := newFixture()
	trainingType := domain.TrainingShortIntervals
	f.activities.activity = &domain.Activity{
		ID: testActivityID, UserID: testUserID,
		AnalysisStatus: domain.StatusOngoingComplete, TrainingType: &trainingType,
	}

	req := authed(
		httptest.NewRequest(http.MethodPost, "/v1/activities/"+testActivityID+"/analysis", strings.NewReader(`{"sets":[]}`)),
		auth.ScopeAnalysisRun,
	)
	rr := httptest.NewRecorder()
	f.handler.handleActivityByID(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 while in flight got %d", rr.Code)
	}
}

func TestSyncStoresNewRunningActivities(t *testing.T) {
	f := newFixture()
	f.activities.exists = map[int64]bool{300: true}
	f.tracker.recent = []strava.DetailedActivity{
		{ID: 100, SportType: "Run"},
		{ID: 200, SportType: "Ride"}, // skipped
		{ID: 300, SportType: "Run"},  // duplicate
		{ID: 400, SportType: "TrailRun"},
	}

	req := authed(httptest.NewRequest(http.MethodPost, "/v1/activities/sync", strings.NewReader(`{"count":50}`)), auth.ScopeAnalysisRun)
	rr := httptest.NewRecorder()
	f.handler.handleSync(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp SyncResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Synced != 2 {
		t.Fatalf("expected 2 synced got %d", resp.Synced)
	}
	// Sync indexes stagger the downstream analysis runs.
	if f.activities.indexes[0] != 0 || f.activities.indexes[1] != 1 {
		t.Fatalf("unexpected sync indexes %v", f.activities.indexes)
	}
}

func TestResubmitFailed(t *testing.T) {
	f := newFixture()
	f.runner.resubmitted = 3

	req := authed(httptest.NewRequest(http.MethodPost, "/v1/activities/resubmit", nil), auth.ScopeAnalysisRun)
	rr := httptest.NewRecorder()
	f.handler.handleResubmit(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp ResubmitResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Resubmitted != 3 {
		t.Fatalf("expected 3 resubmitted got %d", resp.Resubmitted)
	}
}

func TestProposalFormatsPaces(t *testing.T) {
	f := newFixture()
	mps := 1000.0 / 300.0 // 5:00 min/km
	f.proposer.estimates = []pace.Estimate{
		{SetIndex: 0, StepIndex: 0, WorkType: domain.WorkDistance, WorkValue: 400, Pace: &mps, SampleSize: 4},
		{SetIndex: 0, StepIndex: 1, WorkType: domain.WorkTime, WorkValue: 60},
	}

	body := `{"sets":[{"steps":[{"work_type":"DISTANCE","work_value":400},{"work_type":"TIME","work_value":60}]}]}`
	req := authed(httptest.NewRequest(http.MethodPost, "/v1/structures/proposal", strings.NewReader(body)), auth.ScopeActivitiesRead)
	rr := httptest.NewRecorder()
	f.handler.handleProposal(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp ProposalResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Estimates) != 2 {
		t.Fatalf("expected 2 estimates got %d", len(resp.Estimates))
	}
	if resp.Estimates[0].Pace == nil || *resp.Estimates[0].Pace != "5:00" {
		t.Fatalf("expected 5:00 pace got %v", resp.Estimates[0].Pace)
	}
	if resp.Estimates[1].Pace != nil {
		t.Fatalf("expected no pace for unmatched step, got %v", *resp.Estimates[1].Pace)
	}
	if f.proposer.userID != testUserID {
		t.Fatalf("proposal ran for wrong user %q", f.proposer.userID)
	}
}

func TestProposalRejectsBadSets(t *testing.T) {
	f := newFixture()
	body := `{"sets":[{"steps":[{"work_type":"LAPS","work_value":3}]}]}`
	req := authed(httptest.NewRequest(http.MethodPost, "/v1/structures/proposal", strings.NewReader(body)), auth.ScopeActivitiesRead)
	rr := httptest.NewRecorder()
	f.handler.handleProposal(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestScopeEnforcement(t *testing.T) {
	f := newFixture()

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/activities", nil)) // no scopes
	rr := httptest.NewRecorder()
	f.handler.handleActivities(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without scope got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/activities", nil) // no claims at all
	rr = httptest.NewRecorder()
	f.handler.handleActivities(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without claims got %d", rr.Code)
	}
}
