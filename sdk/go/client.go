package pdiquestsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal pdiquest HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Submission is the request body for Submit. ActorID defaults to the caller.
type Submission struct {
	ActorID        string     `json:"actor_id,omitempty"`
	ActionID       string     `json:"action_id"`
	TargetUserID   string     `json:"target_user_id,omitempty"`
	SubmissionTime *time.Time `json:"submission_time,omitempty"`
	Evidence       string     `json:"evidence,omitempty"`
	QualityRating  *float64   `json:"quality_rating,omitempty"`
}

// XpEvent is one ledger entry.
type XpEvent struct {
	ID                string    `json:"id"`
	ActorID           string    `json:"actor_id"`
	TargetUserID      string    `json:"target_user_id,omitempty"`
	ActionID          string    `json:"action_id"`
	BasePoints        int       `json:"base_points"`
	MultiplierApplied float64   `json:"multiplier_applied"`
	FinalPoints       int       `json:"final_points"`
	Category          string    `json:"category"`
	Timestamp         time.Time `json:"timestamp"`
}

type Profile struct {
	UserID              string     `json:"user_id"`
	TotalXP             int        `json:"total_xp"`
	Level               int        `json:"level"`
	Title               string     `json:"title"`
	CurrentXP           int        `json:"current_xp"`
	NextLevelXP         int        `json:"next_level_xp"`
	ProgressToNextLevel int        `json:"progress_to_next_level"`
	StreakDays          int        `json:"streak_days"`
	LastActiveAt        *time.Time `json:"last_active_at,omitempty"`
	Badges              []string   `json:"badges"`
}

type SubmissionResult struct {
	Outcome   string   `json:"outcome"`
	Event     *XpEvent `json:"event"`
	Profile   *Profile `json:"profile"`
	NewBadges []string `json:"new_badges"`
	LeveledUp bool     `json:"leveled_up"`
}

type Action struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Category         string   `json:"category"`
	BasePoints       int      `json:"base_points"`
	EligibleProfiles []string `json:"eligible_profiles"`
	CooldownHours    int      `json:"cooldown_hours"`
	WeeklyCap        int      `json:"weekly_cap"`
	RequiresEvidence bool     `json:"requires_evidence"`
}

type LeaderboardEntry struct {
	Rank    int    `json:"rank"`
	UserID  string `json:"user_id"`
	TotalXP int    `json:"total_xp"`
	Level   int    `json:"level"`
	Title   string `json:"title"`
}

// Badge is one configured badge and whether the user has earned it.
type Badge struct {
	Definition struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Rarity      string `json:"rarity"`
	} `json:"definition"`
	Earned   bool       `json:"earned"`
	EarnedAt *time.Time `json:"earned_at,omitempty"`
	EventID  string     `json:"event_id,omitempty"`
}

// APIError wraps non-2xx responses. Code and Details come from the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Rejected reports whether the server recorded the submission but awarded nothing.
func (e *APIError) Rejected() bool {
	_, ok := e.Details["reason"]
	return ok && (e.StatusCode == http.StatusUnprocessableEntity || e.StatusCode == http.StatusTooManyRequests)
}

// RetryAfter is the wait before a cooldown or weekly cap clears, or zero.
func (e *APIError) RetryAfter() time.Duration {
	secs, ok := e.Details["retry_after_seconds"].(float64)
	if !ok {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Submit records an action. Rejections come back as *APIError.
func (c *Client) Submit(ctx context.Context, sub Submission) (SubmissionResult, error) {
	var resp SubmissionResult
	err := c.do(ctx, http.MethodPost, "submissions", sub, &resp)
	return resp, err
}

func (c *Client) Profile(ctx context.Context, userID string) (Profile, error) {
	var resp Profile
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("users/%s/profile", url.PathEscape(userID)), nil, &resp)
	return resp, err
}

// Events returns the user's newest ledger entries, oldest first.
func (c *Client) Events(ctx context.Context, userID string, limit int) ([]XpEvent, error) {
	endpoint := fmt.Sprintf("users/%s/events", url.PathEscape(userID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []XpEvent
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Badges lists every badge with the user's unlock state, in definition order.
func (c *Client) Badges(ctx context.Context, userID string) ([]Badge, error) {
	var resp []Badge
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("users/%s/badges", url.PathEscape(userID)), nil, &resp)
	return resp, err
}

func (c *Client) Event(ctx context.Context, eventID string) (XpEvent, error) {
	var resp XpEvent
	err := c.do(ctx, http.MethodGet, "xp-events/"+url.PathEscape(eventID), nil, &resp)
	return resp, err
}

func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	endpoint := "leaderboard"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []LeaderboardEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Actions(ctx context.Context) ([]Action, error) {
	var resp []Action
	err := c.do(ctx, http.MethodGet, "actions", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
