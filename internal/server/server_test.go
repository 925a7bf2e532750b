package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"pdiquest/internal/config"
	"pdiquest/internal/db"
	"pdiquest/internal/domain"
	"pdiquest/internal/engine"
	"pdiquest/internal/engine/auth"
	"pdiquest/internal/events"
	"pdiquest/internal/migrate"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const testSecret = "test-secret"

// testClock is the server's notion of now; tests move it forward.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type testServer struct {
	URL    string
	Engine engine.Engine
	clock  *testClock
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, authCfg AuthConfig) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := migrate.Apply(context.Background(), conn, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, err := engine.New(conn, config.Default())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	clock := &testClock{now: t0}
	e.Now = clock.Now
	if authCfg.Now == nil {
		authCfg.Now = clock.Now
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: authCfg})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		clock:  clock,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func legacyServer(t *testing.T) *testServer {
	return newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v: %s", err, string(data))
	}
	return env.Error
}

func expectStatus(t *testing.T, res *http.Response, data []byte, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("status %d, want %d: %s", res.StatusCode, want, string(data))
	}
}

func TestSubmitAndReadProfile(t *testing.T) {
	srv := legacyServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", map[string]any{
		"action_id": "pdi_milestone_completed",
	}, as("ic-1"))
	expectStatus(t, res, data, http.StatusCreated)
	var sub SubmissionResponse
	if err := json.Unmarshal(data, &sub); err != nil {
		t.Fatalf("unmarshal submission: %v", err)
	}
	if sub.Outcome != domain.OutcomeAccepted || sub.Event == nil || sub.Event.FinalPoints != 100 {
		t.Fatalf("unexpected submission: %s", string(data))
	}
	if !sub.LeveledUp || len(sub.NewBadges) != 2 {
		t.Fatalf("expected level up with two badges: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/ic-1/profile", nil, as("ic-1"))
	expectStatus(t, res, data, http.StatusOK)
	var profile domain.GamificationProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		t.Fatalf("unmarshal profile: %v", err)
	}
	if profile.TotalXP != 100 || profile.Level != 1 || profile.StreakDays != 1 {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/ic-1/events", nil, as("ic-1"))
	expectStatus(t, res, data, http.StatusOK)
	var evts []domain.XpEvent
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evts) != 1 || evts[0].ID != sub.Event.ID {
		t.Fatalf("unexpected ledger: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/leaderboard", nil, as("someone"))
	expectStatus(t, res, data, http.StatusOK)
	var board []domain.LeaderboardEntry
	if err := json.Unmarshal(data, &board); err != nil {
		t.Fatalf("unmarshal leaderboard: %v", err)
	}
	if len(board) != 1 || board[0].UserID != "ic-1" || board[0].Rank != 1 {
		t.Fatalf("unexpected leaderboard: %s", string(data))
	}
}

func TestRejectionsMapToStatus(t *testing.T) {
	srv := legacyServer(t)
	client := srv.Client()
	feedback := map[string]any{
		"action_id":      "meaningful_feedback_given",
		"target_user_id": "u2",
		"quality_rating": 4.5,
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", feedback, as("u1"))
	expectStatus(t, res, data, http.StatusCreated)

	srv.clock.Set(t0.Add(10 * time.Hour))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", feedback, as("u1"))
	expectStatus(t, res, data, http.StatusTooManyRequests)
	body := decodeError(t, data)
	if body.Code != "cooldown_active" {
		t.Fatalf("code %q", body.Code)
	}
	if got := body.Details["retry_after_seconds"]; got != float64(62*3600) {
		t.Fatalf("retry_after_seconds %v", got)
	}
	if body.Details["reason"] != string(domain.RejectCooldownActive) {
		t.Fatalf("reason %v", body.Details["reason"])
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", map[string]any{
		"action_id":      "knowledge_sharing_session",
		"quality_rating": 5,
	}, as("u1"))
	expectStatus(t, res, data, http.StatusUnprocessableEntity)
	if code := decodeError(t, data).Code; code != "missing_evidence" {
		t.Fatalf("code %q", code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", map[string]any{
		"action_id":      "meaningful_feedback_given",
		"target_user_id": "u9",
		"quality_rating": 3,
	}, as("u1"))
	expectStatus(t, res, data, http.StatusUnprocessableEntity)
	if code := decodeError(t, data).Code; code != "below_quality_threshold" {
		t.Fatalf("code %q", code)
	}
}

func TestSubmitErrors(t *testing.T) {
	srv := legacyServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", map[string]any{"action_id": "bogus"}, as("u1"))
	expectStatus(t, res, data, http.StatusBadRequest)
	body := decodeError(t, data)
	if body.Code != "unknown_action" || body.Details["action_id"] != "bogus" {
		t.Fatalf("unexpected error: %s", string(data))
	}

	replay := map[string]any{"action_id": "self_assessment_completed"}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", replay, as("u1"))
	expectStatus(t, res, data, http.StatusCreated)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", replay, as("u1"))
	expectStatus(t, res, data, http.StatusConflict)
	if code := decodeError(t, data).Code; code != "ledger_conflict" {
		t.Fatalf("code %q", code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", map[string]any{
		"action_id":      "meaningful_feedback_given",
		"target_user_id": "u1",
		"quality_rating": 5,
	}, as("u1"))
	expectStatus(t, res, data, http.StatusBadRequest)
}

func TestPermissions(t *testing.T) {
	srv := legacyServer(t)
	client := srv.Client()
	ctx := context.Background()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/alice/profile", nil, as("bob"))
	expectStatus(t, res, data, http.StatusForbidden)
	if perm := decodeError(t, data).Details["permission"]; perm != "profiles.read" {
		t.Fatalf("permission %v", perm)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", map[string]any{
		"actor_id":  "alice",
		"action_id": "learning_goal_set",
	}, as("bob"))
	expectStatus(t, res, data, http.StatusForbidden)

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/users/alice/org-facts", map[string]any{"subordinate_count": 3}, as("bob"))
	expectStatus(t, res, data, http.StatusForbidden)

	if err := srv.Engine.GrantRole(ctx, "root", "bob", "hr"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/alice/profile", nil, as("bob"))
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/users/alice/org-facts", map[string]any{"subordinate_count": 3}, as("bob"))
	expectStatus(t, res, data, http.StatusOK)
	var profile domain.ActorProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		t.Fatalf("unmarshal profile: %v", err)
	}
	if profile.Type != domain.ProfileManager {
		t.Fatalf("expected manager, got %s", profile.Type)
	}

	// hr cannot manage roles
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/rbac/roles/grant", map[string]any{"actor_id": "bob", "role_id": "admin"}, as("bob"))
	expectStatus(t, res, data, http.StatusForbidden)

	if err := srv.Engine.GrantRole(ctx, "root", "root", "admin"); err != nil {
		t.Fatalf("grant admin: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/rbac/roles/grant", map[string]any{"actor_id": "carol", "role_id": "member"}, as("root"))
	expectStatus(t, res, data, http.StatusNoContent)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/rbac/roles/grant", map[string]any{"actor_id": "carol", "role_id": "wizard"}, as("root"))
	expectStatus(t, res, data, http.StatusBadRequest)
	if code := decodeError(t, data).Code; code != "unknown_role" {
		t.Fatalf("code %q", code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", map[string]any{
		"actor_id":  "alice",
		"action_id": "learning_goal_set",
	}, as("root"))
	expectStatus(t, res, data, http.StatusCreated)
}

func TestUnauthenticated(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, nil)
	expectStatus(t, res, data, http.StatusUnauthorized)

	// legacy header is ignored unless enabled
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, as("u1"))
	expectStatus(t, res, data, http.StatusUnauthorized)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer nope"})
	expectStatus(t, res, data, http.StatusUnauthorized)
	if code := decodeError(t, data).Code; code != "invalid_credentials" {
		t.Fatalf("code %q", code)
	}
}

func TestDevLoginAndAPIKey(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret, DevLogin: true})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id":    "alice",
		"permissions": []string{"events.read"},
	}, nil)
	expectStatus(t, res, data, http.StatusOK)
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	bearer := map[string]string{"Authorization": "Bearer " + login.Token}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, bearer)
	expectStatus(t, res, data, http.StatusOK)
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if who.ActorID != "alice" || len(who.Permissions) != 1 || who.Permissions[0] != "events.read" {
		t.Fatalf("unexpected principal: %+v", who)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events", nil, bearer)
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{"name": "laptop"}, bearer)
	expectStatus(t, res, data, http.StatusCreated)
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if key.ActorID != "alice" || key.Key == "" {
		t.Fatalf("unexpected key: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{"actor_id": "bob"}, bearer)
	expectStatus(t, res, data, http.StatusForbidden)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	expectStatus(t, res, data, http.StatusOK)
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if who.ActorID != "alice" {
		t.Fatalf("api key actor %q", who.ActorID)
	}
}

func TestDevLoginDisabled(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "alice"}, nil)
	expectStatus(t, res, data, http.StatusUnauthorized)
}

func TestEventsPagination(t *testing.T) {
	srv := legacyServer(t)
	client := srv.Client()
	if err := srv.Engine.GrantRole(context.Background(), "root", "auditor", "hr"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", map[string]any{
		"action_id": "pdi_milestone_completed",
	}, as("ic-1"))
	expectStatus(t, res, data, http.StatusCreated)

	// xp.awarded, two badge unlocks, level.up
	url := srv.URL + "/v0/events?actor_id=ic-1&limit=3"
	res, data = doJSON(t, client, http.MethodGet, url, nil, as("auditor"))
	expectStatus(t, res, data, http.StatusOK)
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 3 || page.NextCursor == "" {
		t.Fatalf("unexpected first page: %s", string(data))
	}
	if page.Items[0].Type != events.TypeLevelUp {
		t.Fatalf("newest event %s", page.Items[0].Type)
	}
	seen := map[int64]bool{}
	for _, item := range page.Items {
		seen[item.ID] = true
	}

	res, data = doJSON(t, client, http.MethodGet, url+"&cursor="+page.NextCursor, nil, as("auditor"))
	expectStatus(t, res, data, http.StatusOK)
	page = paginatedEvents{}
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 1 || page.NextCursor != "" {
		t.Fatalf("unexpected second page: %s", string(data))
	}
	if seen[page.Items[0].ID] {
		t.Fatalf("event %d returned twice", page.Items[0].ID)
	}
	if page.Items[0].Type != events.TypeXPAwarded {
		t.Fatalf("oldest event %s", page.Items[0].Type)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, as("auditor"))
	expectStatus(t, res, data, http.StatusBadRequest)
}

func TestLimitsAndMultipliers(t *testing.T) {
	srv := legacyServer(t)
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", map[string]any{
		"action_id": "learning_goal_set",
	}, as("u1"))
	expectStatus(t, res, data, http.StatusCreated)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/u1/limits", nil, as("u1"))
	expectStatus(t, res, data, http.StatusOK)
	var limits []LimitResponse
	if err := json.Unmarshal(data, &limits); err != nil {
		t.Fatalf("unmarshal limits: %v", err)
	}
	if len(limits) != len(srv.Engine.Actions()) {
		t.Fatalf("limits for %d actions", len(limits))
	}
	var found bool
	for _, l := range limits {
		if l.ActionID != "learning_goal_set" {
			continue
		}
		found = true
		if l.WeeklyCount != 1 || l.WeeklyCap != 1 || l.CanSubmit {
			t.Fatalf("unexpected limit: %+v", l)
		}
	}
	if !found {
		t.Fatalf("learning_goal_set missing from limits")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/u1/multipliers", nil, as("u1"))
	expectStatus(t, res, data, http.StatusOK)
	var mult MultipliersResponse
	if err := json.Unmarshal(data, &mult); err != nil {
		t.Fatalf("unmarshal multipliers: %v", err)
	}
	if mult.Actor.Type != domain.ProfileIC {
		t.Fatalf("expected IC, got %s", mult.Actor.Type)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/actions", nil, as("u1"))
	expectStatus(t, res, data, http.StatusOK)
	var actions []domain.ActionDefinition
	if err := json.Unmarshal(data, &actions); err != nil {
		t.Fatalf("unmarshal actions: %v", err)
	}
	if len(actions) == 0 {
		t.Fatalf("empty catalog")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	srv := legacyServer(t)
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/config", nil, as("u1"))
	expectStatus(t, res, data, http.StatusForbidden)

	if err := srv.Engine.GrantRole(context.Background(), "root", "admin-1", "admin"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/config", nil, as("admin-1"))
	expectStatus(t, res, data, http.StatusOK)
	var doc ConfigDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/config", doc, as("admin-1"))
	expectStatus(t, res, data, http.StatusNoContent)

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/config", ConfigDocument{YAML: "actions: []"}, as("admin-1"))
	expectStatus(t, res, data, http.StatusBadRequest)
	if code := decodeError(t, data).Code; code != "invalid_config" {
		t.Fatalf("code %q", code)
	}
	stored, err := srv.Engine.Repo.GetEngineConfig(context.Background())
	if err != nil {
		t.Fatalf("stored config: %v", err)
	}
	if len(stored.Actions) != len(srv.Engine.Actions()) {
		t.Fatalf("stored %d actions", len(stored.Actions))
	}
}

func TestOpenAPIDocument(t *testing.T) {
	srv := legacyServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal openapi: %v", err)
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/v0/submissions"]; !ok {
		t.Fatalf("submissions path missing")
	}
}

func TestSubmissionTimeNeedsBackdate(t *testing.T) {
	srv := legacyServer(t)
	client := srv.Client()
	at := func(ts time.Time) map[string]any {
		return map[string]any{"action_id": "learning_goal_set", "submission_time": ts.Format(time.RFC3339)}
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", at(t0.Add(-30*24*time.Hour)), as("u1"))
	expectStatus(t, res, data, http.StatusForbidden)
	if perm := decodeError(t, data).Details["permission"]; perm != "submissions.backdate" {
		t.Fatalf("permission %v", perm)
	}

	if err := srv.Engine.GrantRole(context.Background(), "root", "admin-1", "admin"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", at(t0.Add(-2*time.Hour)), as("admin-1"))
	expectStatus(t, res, data, http.StatusCreated)
	var sub SubmissionResponse
	if err := json.Unmarshal(data, &sub); err != nil {
		t.Fatalf("unmarshal submission: %v", err)
	}
	if !sub.Event.Timestamp.Equal(t0.Add(-2 * time.Hour)) {
		t.Fatalf("timestamp %s", sub.Event.Timestamp)
	}

	// ahead of the server clock
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", at(t0.Add(time.Hour)), as("admin-1"))
	expectStatus(t, res, data, http.StatusBadRequest)

	// older than the last award for the same action
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", at(t0.Add(-3*time.Hour)), as("admin-1"))
	expectStatus(t, res, data, http.StatusBadRequest)
	if code := decodeError(t, data).Code; code != "bad_request" {
		t.Fatalf("code %q", code)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	srv := legacyServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{"name": "laptop"}, as("u1"))
	expectStatus(t, res, data, http.StatusCreated)
	var created APIKeyResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if !created.CreatedAt.Equal(t0) || created.LastUsedAt != nil {
		t.Fatalf("unexpected key: %s", string(data))
	}
	withKey := map[string]string{"X-Api-Key": created.Key}

	srv.clock.Set(t0.Add(time.Hour))
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, withKey)
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/api-keys", nil, as("u1"))
	expectStatus(t, res, data, http.StatusOK)
	var keys []APIKeyInfo
	if err := json.Unmarshal(data, &keys); err != nil {
		t.Fatalf("unmarshal keys: %v", err)
	}
	if len(keys) != 1 || keys[0].ID != created.ID || keys[0].LastUsedAt == nil || !keys[0].LastUsedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("unexpected keys: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/api-keys?actor_id=u1", nil, as("bob"))
	expectStatus(t, res, data, http.StatusForbidden)
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/api-keys/"+created.ID, nil, as("bob"))
	expectStatus(t, res, data, http.StatusForbidden)

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/api-keys/"+created.ID, nil, as("u1"))
	expectStatus(t, res, data, http.StatusNoContent)
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/api-keys/"+created.ID, nil, as("u1"))
	expectStatus(t, res, data, http.StatusNotFound)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, withKey)
	expectStatus(t, res, data, http.StatusUnauthorized)
	if code := decodeError(t, data).Code; code != "invalid_credentials" {
		t.Fatalf("code %q", code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/api-keys", nil, as("u1"))
	expectStatus(t, res, data, http.StatusOK)
	keys = nil
	if err := json.Unmarshal(data, &keys); err != nil {
		t.Fatalf("unmarshal keys: %v", err)
	}
	if len(keys) != 1 || keys[0].RevokedAt == nil {
		t.Fatalf("expected revoked key: %s", string(data))
	}
}

func TestBadgesAndEventLookup(t *testing.T) {
	srv := legacyServer(t)
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", map[string]any{
		"action_id": "pdi_milestone_completed",
	}, as("ic-1"))
	expectStatus(t, res, data, http.StatusCreated)
	var sub SubmissionResponse
	if err := json.Unmarshal(data, &sub); err != nil {
		t.Fatalf("unmarshal submission: %v", err)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/ic-1/badges", nil, as("ic-1"))
	expectStatus(t, res, data, http.StatusOK)
	var badges []engine.BadgeStatus
	if err := json.Unmarshal(data, &badges); err != nil {
		t.Fatalf("unmarshal badges: %v", err)
	}
	if len(badges) != len(srv.Engine.Config.Badges) {
		t.Fatalf("got %d badges", len(badges))
	}
	var earned int
	for _, b := range badges {
		if !b.Earned {
			continue
		}
		earned++
		if b.EarnedAt == nil || b.EventID != sub.Event.ID {
			t.Fatalf("unexpected unlock: %+v", b)
		}
	}
	if earned != 2 {
		t.Fatalf("earned %d badges", earned)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/ic-1/badges", nil, as("bob"))
	expectStatus(t, res, data, http.StatusForbidden)

	eventURL := srv.URL + "/v0/xp-events/" + sub.Event.ID
	res, data = doJSON(t, client, http.MethodGet, eventURL, nil, as("ic-1"))
	expectStatus(t, res, data, http.StatusOK)
	var evt domain.XpEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if evt.ID != sub.Event.ID || evt.FinalPoints != 100 {
		t.Fatalf("unexpected event: %s", string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, eventURL, nil, as("bob"))
	expectStatus(t, res, data, http.StatusForbidden)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/xp-events/missing", nil, as("bob"))
	expectStatus(t, res, data, http.StatusForbidden)

	if err := srv.Engine.GrantRole(context.Background(), "root", "bob", "hr"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, eventURL, nil, as("bob"))
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/xp-events/missing", nil, as("bob"))
	expectStatus(t, res, data, http.StatusNotFound)
}

func TestHandleErrorUsesSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("import: %w", config.ErrInvalid), http.StatusBadRequest},
		{fmt.Errorf("%w: actor_id is required", engine.ErrInvalidRequest), http.StatusBadRequest},
		{auth.ErrActorRequired, http.StatusBadRequest},
		{errors.New("invalid memory address"), http.StatusInternalServerError},
		{errors.New("column required by index"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := handleError(tc.err).GetStatus(); got != tc.want {
			t.Fatalf("%v: status %d, want %d", tc.err, got, tc.want)
		}
	}

	srv := legacyServer(t)
	if err := srv.Engine.GrantRole(context.Background(), "root", "root", "admin"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/rbac/roles/grant", map[string]any{"actor_id": " ", "role_id": "member"}, as("root"))
	expectStatus(t, res, data, http.StatusBadRequest)
	if code := decodeError(t, data).Code; code != "bad_request" {
		t.Fatalf("code %q", code)
	}
}
