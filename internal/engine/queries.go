package engine

import (
	"context"
	"errors"
	"time"

	"pdiquest/internal/domain"
	"pdiquest/internal/engine/classify"
	"pdiquest/internal/engine/guard"
	"pdiquest/internal/engine/level"
	"pdiquest/internal/repo"
)

// gamingWindow is how much submission history the gaming report scores.
const gamingWindow = 7 * 24 * time.Hour

// Profile rebuilds the user's profile. Unknown users get an empty level-0 profile.
func (e Engine) Profile(ctx context.Context, userID string) (domain.GamificationProfile, error) {
	if err := e.ready(); err != nil {
		return domain.GamificationProfile{}, err
	}
	evts, err := e.Repo.ListXPEvents(ctx, nil, repo.XPEventFilter{ActorID: userID})
	if err != nil {
		return domain.GamificationProfile{}, err
	}
	streak, err := e.Repo.GetStreak(ctx, nil, userID)
	if err != nil {
		return domain.GamificationProfile{}, err
	}
	badges, err := e.Repo.ListBadges(ctx, nil, userID)
	if err != nil {
		return domain.GamificationProfile{}, err
	}
	return e.Core.Profile(userID, evts, streak, badges), nil
}

// BadgeStatus is one badge definition as seen by a user.
type BadgeStatus struct {
	Definition domain.BadgeDefinition `json:"definition"`
	Earned     bool                   `json:"earned"`
	EarnedAt   *time.Time             `json:"earned_at,omitempty"`
	EventID    string                 `json:"event_id,omitempty"`
}

// Badges lists every configured badge in definition order with the user's
// unlock state. Unlocks of badges no longer configured are left out.
func (e Engine) Badges(ctx context.Context, userID string) ([]BadgeStatus, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	unlocks, err := e.Repo.ListBadgeUnlocks(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	earned := make(map[domain.BadgeID]repo.BadgeUnlock, len(unlocks))
	for _, u := range unlocks {
		earned[u.BadgeID] = u
	}
	defs := e.Core.Badges.Definitions()
	out := make([]BadgeStatus, 0, len(defs))
	for _, d := range defs {
		st := BadgeStatus{Definition: d}
		if u, ok := earned[d.ID]; ok {
			at := u.UnlockedAt
			st.Earned, st.EarnedAt, st.EventID = true, &at, u.EventID
		}
		out = append(out, st)
	}
	return out, nil
}

// XPEvent loads one ledger entry.
func (e Engine) XPEvent(ctx context.Context, id string) (domain.XpEvent, error) {
	return e.Repo.GetXPEvent(ctx, id)
}

// UserEvents returns the user's newest limit events, oldest first. limit <= 0 returns all.
func (e Engine) UserEvents(ctx context.Context, userID string, limit int) ([]domain.XpEvent, error) {
	return e.Repo.ListXPEvents(ctx, nil, repo.XPEventFilter{ActorID: userID, Limit: limit})
}

// Limits reports cooldown and weekly cap state for every catalog action.
func (e Engine) Limits(ctx context.Context, userID string) ([]guard.LimitStatus, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	defs := e.Core.Catalog.List()
	window := guard.Week
	for _, d := range defs {
		if d.Cooldown() > window {
			window = d.Cooldown()
		}
	}
	since := now.Add(-window)
	recent, err := e.Repo.ListXPEvents(ctx, nil, repo.XPEventFilter{ActorID: userID, Since: &since})
	if err != nil {
		return nil, err
	}
	out := make([]guard.LimitStatus, 0, len(defs))
	for _, d := range defs {
		out = append(out, guard.Limits(d, userID, recent, now))
	}
	return out, nil
}

// MultiplierView is the actor's classification and the rules it can earn.
type MultiplierView struct {
	Actor domain.ActorProfile     `json:"actor"`
	Rules []domain.MultiplierRule `json:"rules"`
}

func (e Engine) Multipliers(ctx context.Context, userID string) (MultiplierView, error) {
	if err := e.ready(); err != nil {
		return MultiplierView{}, err
	}
	facts, err := e.Repo.GetOrgFacts(ctx, nil, userID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return MultiplierView{}, err
	}
	actor := classify.Classify(facts)
	rules := e.Core.Resolver.Available(actor.Type)
	if rules == nil {
		rules = []domain.MultiplierRule{}
	}
	return MultiplierView{Actor: actor, Rules: rules}, nil
}

// GamingReport scores the actor's last week of submissions. It is advisory only.
func (e Engine) GamingReport(ctx context.Context, actorID string) (guard.Suspicion, error) {
	now := e.now().UTC()
	history, err := e.Repo.ListSubmissions(ctx, nil, actorID, now.Add(-gamingWindow))
	if err != nil {
		return guard.Suspicion{}, err
	}
	return guard.Assess(history, now), nil
}

// Leaderboard ranks users by total XP. Equal totals share a rank.
func (e Engine) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	rows, err := e.Repo.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.LeaderboardEntry, 0, len(rows))
	for i, row := range rows {
		rank := i + 1
		if i > 0 && row.TotalXP == rows[i-1].TotalXP {
			rank = out[i-1].Rank
		}
		lvl := level.Of(row.TotalXP)
		out = append(out, domain.LeaderboardEntry{
			Rank:    rank,
			UserID:  row.UserID,
			TotalXP: row.TotalXP,
			Level:   lvl,
			Title:   e.Core.Title(lvl),
			Events:  row.Events,
		})
	}
	return out, nil
}
