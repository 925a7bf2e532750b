package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"pdiquest/internal/domain"
	"pdiquest/internal/engine/badge"
)

// ErrInvalid wraps every parse and validation failure.
var ErrInvalid = errors.New("invalid config")

// Streak policies.
const (
	StreakRolling  = badge.PolicyRolling
	StreakCalendar = badge.PolicyCalendar
)

// Config models pdiquest.yml.
type Config struct {
	Actions     []domain.ActionDefinition `yaml:"actions"`
	Multipliers []domain.MultiplierRule   `yaml:"multipliers"`
	Badges      []domain.BadgeDefinition  `yaml:"badges"`
	Streak      struct {
		Policy string `yaml:"policy"`
	} `yaml:"streak"`
	Levels struct {
		Titles []domain.LevelTitle `yaml:"titles"`
	} `yaml:"levels"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

// WebhookConfig posts audit events to an HTTP endpoint. Empty Events means all types.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with xp config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (c *Config) validate() error {
	if len(c.Actions) == 0 {
		return fmt.Errorf("config.actions is required")
	}
	actions := make(map[string]bool, len(c.Actions))
	for i, a := range c.Actions {
		if a.ID == "" {
			return fmt.Errorf("config.actions[%d].id is required", i)
		}
		if actions[a.ID] {
			return fmt.Errorf("action %s defined twice", a.ID)
		}
		actions[a.ID] = true
		if !a.Category.Valid() {
			return fmt.Errorf("action %s has invalid category %q", a.ID, a.Category)
		}
		if a.BasePoints <= 0 {
			return fmt.Errorf("action %s base_points must be positive", a.ID)
		}
		if a.CooldownHours < 0 {
			return fmt.Errorf("action %s cooldown_hours must be >= 0", a.ID)
		}
		if a.WeeklyCap < 0 {
			return fmt.Errorf("action %s weekly_cap must be >= 0 (0 = unlimited)", a.ID)
		}
		if a.MinQualityRating != nil && (*a.MinQualityRating < 0 || *a.MinQualityRating > 5) {
			return fmt.Errorf("action %s min_quality_rating must be within 0-5", a.ID)
		}
		switch a.CooldownScope {
		case "", domain.CooldownPerActor, domain.CooldownPerTarget:
		default:
			return fmt.Errorf("action %s has invalid cooldown_scope %q", a.ID, a.CooldownScope)
		}
		for _, p := range a.EligibleProfiles {
			switch p {
			case domain.ProfileIC, domain.ProfileManager, domain.ProfileBoth:
			default:
				return fmt.Errorf("action %s has invalid eligible profile %q", a.ID, p)
			}
		}
	}
	rules := make(map[string]bool, len(c.Multipliers))
	for i, r := range c.Multipliers {
		if r.ID == "" {
			return fmt.Errorf("config.multipliers[%d].id is required", i)
		}
		if rules[r.ID] {
			return fmt.Errorf("multiplier rule %s defined twice", r.ID)
		}
		rules[r.ID] = true
		switch r.Profile {
		case domain.ProfileIC, domain.ProfileManager, domain.ProfileAny:
		default:
			return fmt.Errorf("multiplier rule %s has invalid profile %q", r.ID, r.Profile)
		}
		if r.Category != "" && !r.Category.Valid() {
			return fmt.Errorf("multiplier rule %s has invalid category %q", r.ID, r.Category)
		}
		switch r.MinEvidence {
		case "", domain.EvidenceNone, domain.EvidenceAttached, domain.EvidenceValidated:
		default:
			return fmt.Errorf("multiplier rule %s has invalid min_evidence %q", r.ID, r.MinEvidence)
		}
		if r.Multiplier < 1.0 {
			return fmt.Errorf("multiplier rule %s must not reduce points (multiplier %.2f < 1.00)", r.ID, r.Multiplier)
		}
	}
	badges := make(map[domain.BadgeID]bool, len(c.Badges))
	for i, b := range c.Badges {
		if b.ID == "" {
			return fmt.Errorf("config.badges[%d].id is required", i)
		}
		if badges[b.ID] {
			return fmt.Errorf("badge %s defined twice", b.ID)
		}
		badges[b.ID] = true
		if err := validateCriteria(b, actions); err != nil {
			return err
		}
	}
	switch c.Streak.Policy {
	case "", StreakRolling, StreakCalendar:
	default:
		return fmt.Errorf("config.streak.policy must be %s or %s", StreakRolling, StreakCalendar)
	}
	prev := 0
	for i, t := range c.Levels.Titles {
		if t.Title == "" {
			return fmt.Errorf("config.levels.titles[%d].title is required", i)
		}
		if t.MaxLevel == 0 {
			if i != len(c.Levels.Titles)-1 {
				return fmt.Errorf("config.levels.titles: open-ended title must be last")
			}
			continue
		}
		if t.MaxLevel <= prev {
			return fmt.Errorf("config.levels.titles must be ordered by max_level")
		}
		prev = t.MaxLevel
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if w.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

func validateCriteria(b domain.BadgeDefinition, actions map[string]bool) error {
	cr := b.Criteria
	if cr.Target <= 0 {
		return fmt.Errorf("badge %s criteria target must be positive", b.ID)
	}
	switch cr.Type {
	case domain.CriteriaCategoryCount:
		if !cr.Category.Valid() {
			return fmt.Errorf("badge %s references invalid category %q", b.ID, cr.Category)
		}
	case domain.CriteriaActionCount, domain.CriteriaDistinctTargets, domain.CriteriaWindowActionCount:
		if !actions[cr.Action] {
			return fmt.Errorf("badge %s references unknown action %s", b.ID, cr.Action)
		}
		if cr.Type == domain.CriteriaWindowActionCount && cr.WindowDays <= 0 {
			return fmt.Errorf("badge %s window_days must be positive", b.ID)
		}
	case domain.CriteriaTotalXP, domain.CriteriaLevel, domain.CriteriaStreak:
	default:
		return fmt.Errorf("badge %s has unknown criteria type %q", b.ID, cr.Type)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pdiquest.yml")
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in engine rules.
func Default() *Config {
	cfg, err := FromYAML([]byte(DefaultYAML))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: yaml: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config back to YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// StreakPolicy returns the configured policy, defaulting to rolling windows.
func (c *Config) StreakPolicy() string {
	if c.Streak.Policy == "" {
		return StreakRolling
	}
	return c.Streak.Policy
}
