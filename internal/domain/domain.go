package domain

import "time"

type Category string

const (
	CategoryDevelopment      Category = "DEVELOPMENT"
	CategoryCollaboration    Category = "COLLABORATION"
	CategoryTeamContribution Category = "TEAM_CONTRIBUTION"
	CategoryBonus            Category = "BONUS"
)

// Categories lists every known action category in display order.
func Categories() []Category {
	return []Category{CategoryDevelopment, CategoryCollaboration, CategoryTeamContribution, CategoryBonus}
}

func (c Category) Valid() bool {
	switch c {
	case CategoryDevelopment, CategoryCollaboration, CategoryTeamContribution, CategoryBonus:
		return true
	}
	return false
}

type ProfileType string

const (
	ProfileIC      ProfileType = "IC"
	ProfileManager ProfileType = "MANAGER"
	ProfileBoth    ProfileType = "BOTH"
)

// CooldownScope decides which prior events start a cooldown window.
type CooldownScope string

const (
	CooldownPerActor  CooldownScope = "actor"
	CooldownPerTarget CooldownScope = "target"
)

// ActionDefinition is a catalog entry. WeeklyCap 0 means unlimited.
type ActionDefinition struct {
	ID               string        `json:"id" yaml:"id"`
	Name             string        `json:"name,omitempty" yaml:"name"`
	Description      string        `json:"description,omitempty" yaml:"description"`
	Category         Category      `json:"category" yaml:"category" enum:"DEVELOPMENT,COLLABORATION,TEAM_CONTRIBUTION,BONUS"`
	BasePoints       int           `json:"base_points" yaml:"base_points"`
	EligibleProfiles []ProfileType `json:"eligible_profiles" yaml:"eligible_profiles"`
	CooldownHours    int           `json:"cooldown_hours" yaml:"cooldown_hours"`
	CooldownScope    CooldownScope `json:"cooldown_scope,omitempty" yaml:"cooldown_scope" enum:"actor,target"`
	WeeklyCap        int           `json:"weekly_cap" yaml:"weekly_cap"`
	RequiresEvidence bool          `json:"requires_evidence" yaml:"requires_evidence"`
	MinQualityRating *float64      `json:"min_quality_rating,omitempty" yaml:"min_quality_rating"`
	BonusGroup       string        `json:"bonus_group,omitempty" yaml:"bonus_group"`
}

// Eligible reports whether a classified profile may earn XP for the action.
func (d ActionDefinition) Eligible(p ProfileType) bool {
	if len(d.EligibleProfiles) == 0 {
		return true
	}
	for _, ep := range d.EligibleProfiles {
		if ep == ProfileBoth || ep == p {
			return true
		}
	}
	return false
}

func (d ActionDefinition) Cooldown() time.Duration {
	return time.Duration(d.CooldownHours) * time.Hour
}

// OrgFacts are the organizational facts a profile is classified from.
type OrgFacts struct {
	UserID           string `json:"user_id"`
	SubordinateCount int    `json:"subordinate_count"`
	ManagedTeamCount int    `json:"managed_team_count"`
	ManagerRoleTeams int    `json:"manager_role_teams"`
	IsAdmin          bool   `json:"is_admin"`
}

type ActorProfile struct {
	UserID           string      `json:"user_id"`
	Type             ProfileType `json:"type" enum:"IC,MANAGER"`
	Reasons          []string    `json:"reasons"`
	SubordinateCount int         `json:"subordinate_count"`
	ManagedTeamCount int         `json:"managed_team_count"`
}

func (p ActorProfile) IsManager() bool { return p.Type == ProfileManager }

// XpEvent is an immutable ledger entry.
type XpEvent struct {
	ID                string    `json:"id"`
	ActorID           string    `json:"actor_id"`
	TargetUserID      *string   `json:"target_user_id,omitempty"`
	ActionID          string    `json:"action_id"`
	BasePoints        int       `json:"base_points"`
	MultiplierApplied float64   `json:"multiplier_applied"`
	FinalPoints       int       `json:"final_points"`
	Category          Category  `json:"category"`
	Timestamp         time.Time `json:"timestamp" format:"date-time"`
	EvidenceRef       *string   `json:"evidence_ref,omitempty"`
	QualityRating     *float64  `json:"quality_rating,omitempty"`
}

// Target returns the target user id or "".
func (e XpEvent) Target() string {
	if e.TargetUserID == nil {
		return ""
	}
	return *e.TargetUserID
}

type BadgeID string

type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// StreakCursor is the persisted streak state; everything else in a profile is derived.
type StreakCursor struct {
	UserID       string     `json:"user_id"`
	Days         int        `json:"days"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty" format:"date-time"`
}

// GamificationProfile is a view rebuilt from the ledger and the streak cursor.
type GamificationProfile struct {
	UserID              string     `json:"user_id"`
	TotalXP             int        `json:"total_xp"`
	Level               int        `json:"level"`
	Title               string     `json:"title"`
	CurrentXP           int        `json:"current_xp"`
	NextLevelXP         int        `json:"next_level_xp"`
	ProgressToNextLevel int        `json:"progress_to_next_level"`
	StreakDays          int        `json:"streak_days"`
	LastActiveAt        *time.Time `json:"last_active_at,omitempty" format:"date-time"`
	Badges              []BadgeID  `json:"badges"`
}

// ActionSubmission is the raw input from a caller.
type ActionSubmission struct {
	ActorID        string    `json:"actor_id"`
	ActionID       string    `json:"action_id"`
	TargetUserID   *string   `json:"target_user_id,omitempty"`
	SubmissionTime time.Time `json:"submission_time" format:"date-time"`
	Evidence       *string   `json:"evidence,omitempty"`
	QualityRating  *float64  `json:"quality_rating,omitempty"`
}

type RejectReason string

const (
	RejectMissingEvidence       RejectReason = "MissingEvidence"
	RejectBelowQualityThreshold RejectReason = "BelowQualityThreshold"
	RejectCooldownActive        RejectReason = "CooldownActive"
	RejectWeeklyCapReached      RejectReason = "WeeklyCapReached"
	RejectProfileNotEligible    RejectReason = "ProfileNotEligible"
)

type Rejection struct {
	Reason     RejectReason  `json:"reason"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// AppliedMultiplier explains how finalPoints were derived.
type AppliedMultiplier struct {
	RuleID     string  `json:"rule_id,omitempty"`
	Multiplier float64 `json:"multiplier"`
	Reason     string  `json:"reason,omitempty"`
}

// SubmissionResult is Accepted (Event, Profile, NewBadges set) or Rejected (Rejection set).
type SubmissionResult struct {
	Outcome    Outcome              `json:"outcome"`
	Event      *XpEvent             `json:"event,omitempty"`
	Profile    *GamificationProfile `json:"profile,omitempty"`
	NewBadges  []BadgeID            `json:"new_badges,omitempty"`
	Actor      *ActorProfile        `json:"actor,omitempty"`
	Multiplier *AppliedMultiplier   `json:"multiplier,omitempty"`
	LeveledUp  bool                 `json:"leveled_up,omitempty"`
	Rejection  *Rejection           `json:"rejection,omitempty"`
}

func (r SubmissionResult) Accepted() bool { return r.Outcome == OutcomeAccepted }

// SubmissionRecord is the history row kept for every submission, accepted or not.
type SubmissionRecord struct {
	ID          string       `json:"id"`
	ActorID     string       `json:"actor_id"`
	ActionID    string       `json:"action_id"`
	Status      Outcome      `json:"status"`
	Reason      RejectReason `json:"reason,omitempty"`
	EventID     string       `json:"event_id,omitempty"`
	SubmittedAt time.Time    `json:"submitted_at" format:"date-time"`
}

// Event is an audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type LeaderboardEntry struct {
	Rank    int    `json:"rank"`
	UserID  string `json:"user_id"`
	TotalXP int    `json:"total_xp"`
	Level   int    `json:"level"`
	Title   string `json:"title"`
	Events  int    `json:"events"`
}

// APIKey is a hashed credential bound to an actor.
// APIKey authenticates as ActorID until revoked. Only the key's hash is kept.
type APIKey struct {
	ID         string     `json:"id"`
	ActorID    string     `json:"actor_id"`
	Name       string     `json:"name,omitempty"`
	KeyHash    string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

func (k APIKey) Active() bool { return k.RevokedAt == nil }
