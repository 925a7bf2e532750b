// Package badge derives badge unlocks from ledger aggregates and keeps the activity streak.
package badge

import (
	"time"

	"pdiquest/internal/domain"
)

// Snapshot is the read-after-write view a badge check runs against.
type Snapshot struct {
	UserID     string
	Events     []domain.XpEvent
	TotalXP    int
	Level      int
	StreakDays int
	At         time.Time
}

type Evaluator struct {
	defs []domain.BadgeDefinition
}

func NewEvaluator(defs []domain.BadgeDefinition) *Evaluator {
	return &Evaluator{defs: append([]domain.BadgeDefinition(nil), defs...)}
}

func (ev *Evaluator) Definitions() []domain.BadgeDefinition {
	return append([]domain.BadgeDefinition(nil), ev.defs...)
}

// Lookup returns the definition for id.
func (ev *Evaluator) Lookup(id domain.BadgeID) (domain.BadgeDefinition, bool) {
	for _, d := range ev.defs {
		if d.ID == id {
			return d, true
		}
	}
	return domain.BadgeDefinition{}, false
}

// Evaluate returns badges whose criteria hold and that are not already unlocked,
// in definition order.
func (ev *Evaluator) Evaluate(s Snapshot, unlocked []domain.BadgeID) []domain.BadgeID {
	have := make(map[domain.BadgeID]bool, len(unlocked))
	for _, id := range unlocked {
		have[id] = true
	}
	agg := aggregate(s)
	var out []domain.BadgeID
	for _, d := range ev.defs {
		if have[d.ID] {
			continue
		}
		if agg.value(d.Criteria, s) >= d.Criteria.Target {
			out = append(out, d.ID)
			have[d.ID] = true
		}
	}
	return out
}

type aggregates struct {
	byCategory map[domain.Category]int
	byAction   map[string]int
	targets    map[string]map[string]bool
}

func aggregate(s Snapshot) aggregates {
	a := aggregates{
		byCategory: map[domain.Category]int{},
		byAction:   map[string]int{},
		targets:    map[string]map[string]bool{},
	}
	for _, e := range s.Events {
		if s.UserID != "" && e.ActorID != s.UserID {
			continue
		}
		a.byCategory[e.Category]++
		a.byAction[e.ActionID]++
		if t := e.Target(); t != "" {
			if a.targets[e.ActionID] == nil {
				a.targets[e.ActionID] = map[string]bool{}
			}
			a.targets[e.ActionID][t] = true
		}
	}
	return a
}

func (a aggregates) value(c domain.BadgeCriteria, s Snapshot) int {
	switch c.Type {
	case domain.CriteriaCategoryCount:
		return a.byCategory[c.Category]
	case domain.CriteriaActionCount:
		return a.byAction[c.Action]
	case domain.CriteriaDistinctTargets:
		return len(a.targets[c.Action])
	case domain.CriteriaWindowActionCount:
		from := s.At.AddDate(0, 0, -c.WindowDays)
		n := 0
		for _, e := range s.Events {
			if e.ActionID != c.Action || (s.UserID != "" && e.ActorID != s.UserID) {
				continue
			}
			if e.Timestamp.After(from) && !e.Timestamp.After(s.At) {
				n++
			}
		}
		return n
	case domain.CriteriaTotalXP:
		return s.TotalXP
	case domain.CriteriaLevel:
		return s.Level
	case domain.CriteriaStreak:
		return s.StreakDays
	}
	return 0
}
