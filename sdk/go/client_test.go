package pdiquestsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitSendsCredentialsAndBody(t *testing.T) {
	var got Submission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/submissions", r.URL.Path)
		assert.Equal(t, "pdq_key", r.Header.Get("X-Api-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"outcome":"accepted","event":{"id":"e1","final_points":100},"profile":{"total_xp":100,"level":1},"new_badges":["first_milestone"],"leveled_up":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.APIKey = "pdq_key"
	res, err := c.Submit(context.Background(), Submission{ActionID: "pdi_milestone_completed", Evidence: "doc"})
	require.NoError(t, err)
	assert.Equal(t, "pdi_milestone_completed", got.ActionID)
	assert.Equal(t, "doc", got.Evidence)
	assert.Equal(t, "accepted", res.Outcome)
	assert.Equal(t, 100, res.Event.FinalPoints)
	assert.Equal(t, 1, res.Profile.Level)
	assert.True(t, res.LeveledUp)
}

func TestRejectionDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":"cooldown_active","message":"cooling down","details":{"reason":"CooldownActive","retry_after_seconds":3600}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	_, err := c.Submit(context.Background(), Submission{ActionID: "meaningful_feedback_given"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "cooldown_active", apiErr.Code)
	assert.True(t, apiErr.Rejected())
	assert.Equal(t, time.Hour, apiErr.RetryAfter())
}

func TestNonEnvelopeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Leaderboard(context.Background(), 5)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Empty(t, apiErr.Code)
	assert.False(t, apiErr.Rejected())
	assert.Zero(t, apiErr.RetryAfter())
	assert.Contains(t, apiErr.Error(), "boom")
}

func TestReadEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/users/a b/profile":
			_, _ = w.Write([]byte(`{"user_id":"a b","total_xp":240,"level":1,"badges":[]}`))
		case "/v0/users/u1/events":
			assert.Equal(t, "2", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`[{"id":"e1"},{"id":"e2"}]`))
		case "/v0/leaderboard":
			_, _ = w.Write([]byte(`[{"rank":1,"user_id":"u1","total_xp":240}]`))
		case "/v0/actions":
			_, _ = w.Write([]byte(`[{"id":"learning_goal_set","weekly_cap":1}]`))
		case "/v0/users/u1/badges":
			_, _ = w.Write([]byte(`[{"definition":{"id":"first_milestone","rarity":"common"},"earned":true,"earned_at":"2026-03-02T09:00:00Z","event_id":"e1"},{"definition":{"id":"streak_7"},"earned":false}]`))
		case "/v0/xp-events/e1":
			_, _ = w.Write([]byte(`{"id":"e1","actor_id":"u1","final_points":100}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()
	p, err := c.Profile(ctx, "a b")
	require.NoError(t, err)
	assert.Equal(t, 240, p.TotalXP)

	evts, err := c.Events(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, evts, 2)

	board, err := c.Leaderboard(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "u1", board[0].UserID)

	actions, err := c.Actions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, actions[0].WeeklyCap)

	badges, err := c.Badges(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, badges, 2)
	assert.Equal(t, "first_milestone", badges[0].Definition.ID)
	require.NotNil(t, badges[0].EarnedAt)
	assert.True(t, badges[0].EarnedAt.Equal(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)))
	assert.False(t, badges[1].Earned)
	assert.Nil(t, badges[1].EarnedAt)

	evt, err := c.Event(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 100, evt.FinalPoints)
}
