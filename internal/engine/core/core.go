// Package core is the pure submission pipeline: catalog, guard, classifier,
// multiplier, ledger, level and badge/streak. It does no I/O.
package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"pdiquest/internal/config"
	"pdiquest/internal/domain"
	"pdiquest/internal/engine/badge"
	"pdiquest/internal/engine/catalog"
	"pdiquest/internal/engine/classify"
	"pdiquest/internal/engine/guard"
	"pdiquest/internal/engine/ledger"
	"pdiquest/internal/engine/level"
	"pdiquest/internal/engine/multiplier"
)

var ErrInvalidSubmission = errors.New("invalid submission")

type Core struct {
	Catalog      *catalog.Catalog
	Resolver     *multiplier.Resolver
	Badges       *badge.Evaluator
	Titles       []domain.LevelTitle
	StreakPolicy string
}

func New(cfg *config.Config) (*Core, error) {
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	cat, err := catalog.New(cfg.Actions)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	return &Core{
		Catalog:      cat,
		Resolver:     multiplier.NewResolver(cfg.Multipliers),
		Badges:       badge.NewEvaluator(cfg.Badges),
		Titles:       append([]domain.LevelTitle(nil), cfg.Levels.Titles...),
		StreakPolicy: cfg.StreakPolicy(),
	}, nil
}

// Context is the caller-loaded state a submission is judged against.
type Context struct {
	Facts domain.OrgFacts
	// Recent holds the actor's accepted events for the action, at least one cooldown
	// or one week back, whichever is longer.
	Recent []domain.XpEvent
	// Ledger is the actor's full event history in append order.
	Ledger []domain.XpEvent
	Streak domain.StreakCursor
	Badges []domain.BadgeID
}

// Submit judges one submission. Rejections are results; errors mean bad input
// (UnknownActionError, ErrInvalidSubmission) or a ledger invariant breach
// (ImmutableLedgerError).
func (c *Core) Submit(sub domain.ActionSubmission, sc Context) (domain.SubmissionResult, error) {
	def, err := c.Catalog.Lookup(sub.ActionID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	if err := validate(sub); err != nil {
		return domain.SubmissionResult{}, err
	}
	sub.TargetUserID = trimmed(sub.TargetUserID)

	if d := guard.Check(def, guard.AttemptFrom(sub), sc.Recent); !d.Allowed {
		return rejected(*d.Rejection, nil), nil
	}

	if sc.Facts.UserID == "" {
		sc.Facts.UserID = sub.ActorID
	}
	actor := classify.Classify(sc.Facts)
	if !def.Eligible(actor.Type) {
		return rejected(domain.Rejection{
			Reason:  domain.RejectProfileNotEligible,
			Message: fmt.Sprintf("%s is not available to %s profiles", def.ID, actor.Type),
		}, &actor), nil
	}

	res := c.Resolver.Resolve(actor.Type, def, multiplier.EvidenceStrength(sub, def))
	evt := domain.XpEvent{
		ID:                ledger.EventID(sub.ActorID, def.ID, deref(sub.TargetUserID), sub.SubmissionTime),
		ActorID:           sub.ActorID,
		TargetUserID:      sub.TargetUserID,
		ActionID:          def.ID,
		BasePoints:        def.BasePoints,
		MultiplierApplied: res.Multiplier,
		FinalPoints:       multiplier.Apply(def.BasePoints, res.Percent),
		Category:          def.Category,
		Timestamp:         sub.SubmissionTime.UTC(),
		EvidenceRef:       trimmed(sub.Evidence),
		QualityRating:     sub.QualityRating,
	}

	l, err := ledger.New(sc.Ledger)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	before := level.Of(l.TotalXP(sub.ActorID))
	if _, err := l.Append(evt); err != nil {
		return domain.SubmissionResult{}, err
	}

	streak := sc.Streak
	streak.UserID = sub.ActorID
	streak = badge.UpdateStreak(streak, evt.Timestamp, c.StreakPolicy)

	total := l.TotalXP(sub.ActorID)
	prog := level.Compute(total)
	newBadges := c.Badges.Evaluate(badge.Snapshot{
		UserID:     sub.ActorID,
		Events:     l.Events(),
		TotalXP:    total,
		Level:      prog.Level,
		StreakDays: streak.Days,
		At:         evt.Timestamp,
	}, sc.Badges)

	all := append(append([]domain.BadgeID(nil), sc.Badges...), newBadges...)
	profile := c.view(sub.ActorID, total, streak, all)
	applied := res.Applied()
	return domain.SubmissionResult{
		Outcome:    domain.OutcomeAccepted,
		Event:      &evt,
		Profile:    &profile,
		NewBadges:  newBadges,
		Actor:      &actor,
		Multiplier: &applied,
		LeveledUp:  prog.Level > before,
	}, nil
}

// Profile rebuilds a user's profile from the ledger and streak cursor.
func (c *Core) Profile(userID string, events []domain.XpEvent, streak domain.StreakCursor, badges []domain.BadgeID) domain.GamificationProfile {
	return c.view(userID, ledger.TotalXP(userID, events), streak, badges)
}

// Title returns the configured title for a level.
func (c *Core) Title(lvl int) string {
	return level.Title(lvl, c.Titles)
}

func (c *Core) view(userID string, total int, streak domain.StreakCursor, badges []domain.BadgeID) domain.GamificationProfile {
	prog := level.Compute(total)
	ids := uniqueBadges(badges)
	return domain.GamificationProfile{
		UserID:              userID,
		TotalXP:             total,
		Level:               prog.Level,
		Title:               c.Title(prog.Level),
		CurrentXP:           prog.CurrentXP,
		NextLevelXP:         prog.NextLevelXP,
		ProgressToNextLevel: prog.ProgressToNextLevel,
		StreakDays:          streak.Days,
		LastActiveAt:        streak.LastActiveAt,
		Badges:              ids,
	}
}

func validate(sub domain.ActionSubmission) error {
	if strings.TrimSpace(sub.ActorID) == "" {
		return fmt.Errorf("%w: actor_id is required", ErrInvalidSubmission)
	}
	if sub.SubmissionTime.IsZero() {
		return fmt.Errorf("%w: submission_time is required", ErrInvalidSubmission)
	}
	if sub.QualityRating != nil && (*sub.QualityRating < 0 || *sub.QualityRating > 5) {
		return fmt.Errorf("%w: quality_rating must be within 0-5", ErrInvalidSubmission)
	}
	if sub.TargetUserID != nil && strings.TrimSpace(*sub.TargetUserID) == sub.ActorID {
		return fmt.Errorf("%w: target_user_id must differ from actor_id", ErrInvalidSubmission)
	}
	return nil
}

func rejected(r domain.Rejection, actor *domain.ActorProfile) domain.SubmissionResult {
	return domain.SubmissionResult{Outcome: domain.OutcomeRejected, Rejection: &r, Actor: actor}
}

func uniqueBadges(in []domain.BadgeID) []domain.BadgeID {
	seen := map[domain.BadgeID]bool{}
	out := []domain.BadgeID{}
	for _, id := range in {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func trimmed(s *string) *string {
	v := deref(s)
	if v == "" {
		return nil
	}
	return &v
}
