package server

import (
	"encoding/json"
	"time"

	"pdiquest/internal/domain"
	"pdiquest/internal/engine"
	"pdiquest/internal/engine/guard"
)

// Request payloads

type SubmitRequest struct {
	ActorID        string     `json:"actor_id,omitempty" doc:"Defaults to the authenticated actor"`
	ActionID       string     `json:"action_id" minLength:"1"`
	TargetUserID   *string    `json:"target_user_id,omitempty"`
	SubmissionTime *time.Time `json:"submission_time,omitempty" doc:"Server time unless the caller holds submissions.backdate"`
	Evidence       *string    `json:"evidence,omitempty"`
	QualityRating  *float64   `json:"quality_rating,omitempty" minimum:"0" maximum:"5"`
}

type OrgFactsRequest struct {
	SubordinateCount int  `json:"subordinate_count,omitempty" minimum:"0"`
	ManagedTeamCount int  `json:"managed_team_count,omitempty" minimum:"0"`
	ManagerRoleTeams int  `json:"manager_role_teams,omitempty" minimum:"0"`
	IsAdmin          bool `json:"is_admin,omitempty"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Responses

type SubmissionResponse struct {
	Outcome    domain.Outcome              `json:"outcome" enum:"accepted"`
	Event      *domain.XpEvent             `json:"event"`
	Profile    *domain.GamificationProfile `json:"profile"`
	NewBadges  []domain.BadgeID            `json:"new_badges"`
	Actor      *domain.ActorProfile        `json:"actor"`
	Multiplier *domain.AppliedMultiplier   `json:"multiplier"`
	LeveledUp  bool                        `json:"leveled_up"`
}

type LimitResponse struct {
	ActionID                 string     `json:"action_id"`
	CooldownHours            int        `json:"cooldown_hours"`
	PerTarget                bool       `json:"per_target"`
	CooldownRemainingSeconds int64      `json:"cooldown_remaining_seconds"`
	LastAcceptedAt           *time.Time `json:"last_accepted_at,omitempty" format:"date-time"`
	WeeklyCount              int        `json:"weekly_count"`
	WeeklyCap                int        `json:"weekly_cap" doc:"0 means unlimited"`
	CanSubmit                bool       `json:"can_submit"`
}

type MultipliersResponse struct {
	Actor domain.ActorProfile     `json:"actor"`
	Rules []domain.MultiplierRule `json:"rules"`
}

type GamingReportResponse struct {
	UserID         string   `json:"user_id"`
	Score          float64  `json:"score"`
	Flagged        bool     `json:"flagged"`
	Reasons        []string `json:"reasons"`
	Submissions24h int      `json:"submissions_24h"`
	RejectionRate  float64  `json:"rejection_rate"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type APIKeyInfo struct {
	ID         string     `json:"id"`
	ActorID    string     `json:"actor_id"`
	Name       string     `json:"name,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

type APIKeyResponse struct {
	APIKeyInfo
	Key string `json:"key" doc:"Shown once"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Conversion helpers

func submissionResponse(res domain.SubmissionResult) SubmissionResponse {
	return SubmissionResponse{
		Outcome:    res.Outcome,
		Event:      res.Event,
		Profile:    res.Profile,
		NewBadges:  nonNilSlice(res.NewBadges),
		Actor:      res.Actor,
		Multiplier: res.Multiplier,
		LeveledUp:  res.LeveledUp,
	}
}

func limitResponse(l guard.LimitStatus) LimitResponse {
	return LimitResponse{
		ActionID:                 l.ActionID,
		CooldownHours:            l.CooldownHours,
		PerTarget:                l.PerTarget,
		CooldownRemainingSeconds: int64(l.CooldownRemaining / time.Second),
		LastAcceptedAt:           l.LastAcceptedAt,
		WeeklyCount:              l.WeeklyCount,
		WeeklyCap:                l.WeeklyCap,
		CanSubmit:                l.CanSubmit,
	}
}

func multipliersResponse(v engine.MultiplierView) MultipliersResponse {
	v.Actor.Reasons = nonNilSlice(v.Actor.Reasons)
	return MultipliersResponse{Actor: v.Actor, Rules: nonNilSlice(v.Rules)}
}

func gamingReportResponse(userID string, s guard.Suspicion) GamingReportResponse {
	return GamingReportResponse{
		UserID:         userID,
		Score:          s.Score,
		Flagged:        s.Flagged,
		Reasons:        nonNilSlice(s.Reasons),
		Submissions24h: s.Submissions24h,
		RejectionRate:  s.RejectionRate,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func apiKeyInfo(k domain.APIKey) APIKeyInfo {
	return APIKeyInfo{
		ID:         k.ID,
		ActorID:    k.ActorID,
		Name:       k.Name,
		CreatedAt:  k.CreatedAt,
		LastUsedAt: k.LastUsedAt,
		RevokedAt:  k.RevokedAt,
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

type ConfigDocument struct {
	YAML string `json:"yaml" doc:"Engine rules as pdiquest.yml"`
}
