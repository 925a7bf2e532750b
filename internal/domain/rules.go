package domain

// Evidence strength levels a multiplier rule may require.
const (
	EvidenceNone      = "none"
	EvidenceAttached  = "attached"
	EvidenceValidated = "validated"
)

// ProfileAny matches both IC and MANAGER in a multiplier rule.
const ProfileAny ProfileType = "ANY"

// MultiplierRule grants a bonus to a (profile, category or bonus group) pair.
// Empty Category/BonusGroup act as wildcards.
type MultiplierRule struct {
	ID          string      `json:"id" yaml:"id"`
	Profile     ProfileType `json:"profile" yaml:"profile" enum:"IC,MANAGER,ANY"`
	Category    Category    `json:"category,omitempty" yaml:"category"`
	BonusGroup  string      `json:"bonus_group,omitempty" yaml:"bonus_group"`
	MinEvidence string      `json:"min_evidence,omitempty" yaml:"min_evidence" enum:"none,attached,validated"`
	Multiplier  float64     `json:"multiplier" yaml:"multiplier"`
	Priority    int         `json:"priority,omitempty" yaml:"priority"`
	Reason      string      `json:"reason,omitempty" yaml:"reason"`
}

// Badge criteria kinds.
const (
	CriteriaCategoryCount     = "category_count"
	CriteriaActionCount       = "action_count"
	CriteriaDistinctTargets   = "distinct_targets"
	CriteriaWindowActionCount = "window_action_count"
	CriteriaTotalXP           = "total_xp"
	CriteriaLevel             = "level"
	CriteriaStreak            = "streak"
)

type BadgeCriteria struct {
	Type       string   `json:"type" yaml:"type"`
	Target     int      `json:"target" yaml:"target"`
	Category   Category `json:"category,omitempty" yaml:"category"`
	Action     string   `json:"action,omitempty" yaml:"action"`
	WindowDays int      `json:"window_days,omitempty" yaml:"window_days"`
}

type BadgeDefinition struct {
	ID          BadgeID       `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description"`
	Rarity      Rarity        `json:"rarity" yaml:"rarity"`
	Criteria    BadgeCriteria `json:"criteria" yaml:"criteria"`
}

// LevelTitle names every level up to and including MaxLevel. MaxLevel 0 is the open-ended tail.
type LevelTitle struct {
	MaxLevel int    `json:"max_level" yaml:"max_level"`
	Title    string `json:"title" yaml:"title"`
}
