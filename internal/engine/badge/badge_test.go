package badge

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdiquest/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var defs = []domain.BadgeDefinition{
	{ID: "first_development", Rarity: domain.RarityCommon, Criteria: domain.BadgeCriteria{Type: domain.CriteriaCategoryCount, Category: domain.CategoryDevelopment, Target: 1}},
	{ID: "team_player", Rarity: domain.RarityCommon, Criteria: domain.BadgeCriteria{Type: domain.CriteriaCategoryCount, Category: domain.CategoryCollaboration, Target: 5}},
	{ID: "peer_supporter", Rarity: domain.RarityCommon, Criteria: domain.BadgeCriteria{Type: domain.CriteriaDistinctTargets, Action: "feedback", Target: 3}},
	{ID: "goal_crusher", Rarity: domain.RarityEpic, Criteria: domain.BadgeCriteria{Type: domain.CriteriaWindowActionCount, Action: "milestone", Target: 3, WindowDays: 7}},
	{ID: "rising_star", Rarity: domain.RarityCommon, Criteria: domain.BadgeCriteria{Type: domain.CriteriaTotalXP, Target: 1000}},
	{ID: "level_3", Rarity: domain.RarityRare, Criteria: domain.BadgeCriteria{Type: domain.CriteriaLevel, Target: 3}},
	{ID: "streak_7", Rarity: domain.RarityRare, Criteria: domain.BadgeCriteria{Type: domain.CriteriaStreak, Target: 7}},
}

func xp(i int, action string, cat domain.Category, at time.Time, target string) domain.XpEvent {
	e := domain.XpEvent{ID: fmt.Sprintf("e%d", i), ActorID: "u", ActionID: action, Category: cat, BasePoints: 10, FinalPoints: 10, MultiplierApplied: 1, Timestamp: at}
	if target != "" {
		e.TargetUserID = &target
	}
	return e
}

func TestFirstDevelopmentUnlocksOnce(t *testing.T) {
	ev := NewEvaluator(defs)
	s := Snapshot{UserID: "u", Events: []domain.XpEvent{xp(1, "milestone", domain.CategoryDevelopment, t0, "")}, At: t0}
	got := ev.Evaluate(s, nil)
	assert.Equal(t, []domain.BadgeID{"first_development"}, got)
	assert.Empty(t, ev.Evaluate(s, got), "re-evaluating an unchanged ledger unlocks nothing")
}

func TestCollaborationAndTargets(t *testing.T) {
	ev := NewEvaluator(defs)
	var events []domain.XpEvent
	for i, target := range []string{"a", "b", "a", "b", "c"} {
		events = append(events, xp(i, "feedback", domain.CategoryCollaboration, t0.Add(time.Duration(i)*time.Hour), target))
	}
	got := ev.Evaluate(Snapshot{UserID: "u", Events: events, At: t0.Add(5 * time.Hour)}, nil)
	assert.Equal(t, []domain.BadgeID{"team_player", "peer_supporter"}, got)

	got = ev.Evaluate(Snapshot{UserID: "u", Events: events[:4], At: t0.Add(4 * time.Hour)}, nil)
	assert.Empty(t, got)
}

func TestWindowCount(t *testing.T) {
	ev := NewEvaluator(defs)
	events := []domain.XpEvent{
		xp(1, "milestone", domain.CategoryDevelopment, t0.AddDate(0, 0, -10), ""),
		xp(2, "milestone", domain.CategoryDevelopment, t0.AddDate(0, 0, -3), ""),
		xp(3, "milestone", domain.CategoryDevelopment, t0, ""),
	}
	got := ev.Evaluate(Snapshot{UserID: "u", Events: events, At: t0}, []domain.BadgeID{"first_development"})
	assert.Empty(t, got)

	events = append(events, xp(4, "milestone", domain.CategoryDevelopment, t0.Add(time.Hour), ""))
	got = ev.Evaluate(Snapshot{UserID: "u", Events: events, At: t0.Add(time.Hour)}, []domain.BadgeID{"first_development"})
	assert.Equal(t, []domain.BadgeID{"goal_crusher"}, got)
}

func TestAggregateThresholds(t *testing.T) {
	ev := NewEvaluator(defs)
	got := ev.Evaluate(Snapshot{UserID: "u", TotalXP: 1000, Level: 3, StreakDays: 7, At: t0}, nil)
	assert.Equal(t, []domain.BadgeID{"rising_star", "level_3", "streak_7"}, got)
}

func TestOtherUsersEventsIgnored(t *testing.T) {
	ev := NewEvaluator(defs)
	e := xp(1, "milestone", domain.CategoryDevelopment, t0, "")
	e.ActorID = "someone-else"
	assert.Empty(t, ev.Evaluate(Snapshot{UserID: "u", Events: []domain.XpEvent{e}, At: t0}, nil))
}

func TestLookup(t *testing.T) {
	ev := NewEvaluator(defs)
	d, ok := ev.Lookup("streak_7")
	require.True(t, ok)
	assert.Equal(t, domain.RarityRare, d.Rarity)
	_, ok = ev.Lookup("nope")
	assert.False(t, ok)
	assert.Len(t, ev.Definitions(), len(defs))
}
