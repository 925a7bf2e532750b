// Package multiplier resolves the role bonus applied to an action's base points.
package multiplier

import (
	"math"

	"pdiquest/internal/domain"
	"pdiquest/internal/engine/guard"
)

// Neutral is the fallback when no rule matches.
const Neutral = 1.0

type Resolution struct {
	Multiplier float64
	// Percent is Multiplier in hundredths; all point arithmetic uses it.
	Percent int
	Rule    *domain.MultiplierRule
}

// Applied converts the resolution into the form returned to callers.
func (r Resolution) Applied() domain.AppliedMultiplier {
	out := domain.AppliedMultiplier{Multiplier: r.Multiplier}
	if r.Rule != nil {
		out.RuleID = r.Rule.ID
		out.Reason = r.Rule.Reason
	}
	return out
}

type Resolver struct {
	rules []domain.MultiplierRule
}

func NewResolver(rules []domain.MultiplierRule) *Resolver {
	return &Resolver{rules: append([]domain.MultiplierRule(nil), rules...)}
}

// Resolve picks at most one rule: highest priority, then most specific, then first declared.
func (r *Resolver) Resolve(profile domain.ProfileType, def domain.ActionDefinition, evidence string) Resolution {
	best := -1
	for i, rule := range r.rules {
		if !matches(rule, profile, def, evidence) {
			continue
		}
		if best < 0 || better(rule, r.rules[best]) {
			best = i
		}
	}
	if best < 0 {
		return Resolution{Multiplier: Neutral, Percent: 100}
	}
	rule := r.rules[best]
	pct := Percent(rule.Multiplier)
	if pct < 100 {
		return Resolution{Multiplier: Neutral, Percent: 100}
	}
	return Resolution{Multiplier: float64(pct) / 100, Percent: pct, Rule: &rule}
}

// Available lists the rules a profile can earn, in declaration order.
func (r *Resolver) Available(profile domain.ProfileType) []domain.MultiplierRule {
	var out []domain.MultiplierRule
	for _, rule := range r.rules {
		if rule.Profile == domain.ProfileAny || rule.Profile == profile {
			out = append(out, rule)
		}
	}
	return out
}

func matches(rule domain.MultiplierRule, profile domain.ProfileType, def domain.ActionDefinition, evidence string) bool {
	if rule.Profile != domain.ProfileAny && rule.Profile != profile {
		return false
	}
	if rule.Category != "" && rule.Category != def.Category {
		return false
	}
	if rule.BonusGroup != "" && rule.BonusGroup != def.BonusGroup {
		return false
	}
	return evidenceRank(evidence) >= evidenceRank(rule.MinEvidence)
}

func better(a, b domain.MultiplierRule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return specificity(a) > specificity(b)
}

func specificity(rule domain.MultiplierRule) int {
	n := 0
	if rule.Profile != domain.ProfileAny {
		n++
	}
	if rule.Category != "" {
		n++
	}
	if rule.BonusGroup != "" {
		n++
	}
	if evidenceRank(rule.MinEvidence) > 0 {
		n++
	}
	return n
}

func evidenceRank(level string) int {
	switch level {
	case domain.EvidenceValidated:
		return 2
	case domain.EvidenceAttached:
		return 1
	}
	return 0
}

// EvidenceStrength grades a submission: validated needs evidence plus a rating that
// meets the action minimum, attached needs evidence only.
func EvidenceStrength(sub domain.ActionSubmission, def domain.ActionDefinition) string {
	if !guard.HasEvidence(sub.Evidence) {
		return domain.EvidenceNone
	}
	if sub.QualityRating != nil && (def.MinQualityRating == nil || *sub.QualityRating >= *def.MinQualityRating) {
		return domain.EvidenceValidated
	}
	return domain.EvidenceAttached
}

// Percent converts a multiplier to hundredths, rounding half up.
func Percent(m float64) int {
	return int(math.Floor(m*100 + 0.5))
}

// Apply returns round_half_up(base * pct / 100). pct below 100 is treated as 100.
func Apply(base, pct int) int {
	if pct < 100 {
		pct = 100
	}
	return (base*pct + 50) / 100
}
