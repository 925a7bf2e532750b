package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pdiquest/internal/config"
	"pdiquest/internal/domain"
	"pdiquest/internal/engine/auth"
	"pdiquest/internal/engine/core"
	"pdiquest/internal/engine/guard"
	"pdiquest/internal/engine/ledger"
	"pdiquest/internal/events"
	"pdiquest/internal/lock"
	"pdiquest/internal/logger"
	"pdiquest/internal/repo"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Auth      auth.Service
	Config    *config.Config
	Core      *core.Core
	Locks     lock.Locker
	Publisher events.Publisher
	Log       *logger.Logger
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	c, err := core.New(cfg)
	if err != nil {
		return Engine{}, err
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:        db,
		Repo:      r,
		Events:    events.Writer{DB: db},
		Auth:      auth.Service{Repo: r},
		Config:    cfg,
		Core:      c,
		Locks:     lock.NewLocal(),
		Publisher: events.NopPublisher{},
		Log:       logger.Nop(),
		Now:       time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *logger.Logger {
	if e.Log == nil {
		return logger.Nop()
	}
	return e.Log
}

func (e Engine) ready() error {
	if e.Core == nil || e.Config == nil {
		return errors.New("config not loaded")
	}
	return nil
}

// Actions lists the catalog in display order.
func (e Engine) Actions() []domain.ActionDefinition {
	if e.Core == nil {
		return nil
	}
	return e.Core.Catalog.List()
}

// MaxClockSkew bounds how far past the engine clock a submission may be dated.
const MaxClockSkew = 5 * time.Minute

// Submit judges one action submission and, when accepted, persists the event,
// streak and badge unlocks in one transaction. Submissions for the same actor
// and action are serialized through Locks. Submissions dated ahead of the clock
// or before the actor's latest award for the action are refused.
func (e Engine) Submit(ctx context.Context, sub domain.ActionSubmission) (domain.SubmissionResult, error) {
	if err := e.ready(); err != nil {
		return domain.SubmissionResult{}, err
	}
	now := e.now().UTC()
	if sub.SubmissionTime.IsZero() {
		sub.SubmissionTime = now
	}
	sub.SubmissionTime = sub.SubmissionTime.UTC()
	if sub.SubmissionTime.After(now.Add(MaxClockSkew)) {
		return domain.SubmissionResult{}, fmt.Errorf("%w: submission_time %s is ahead of the engine clock",
			core.ErrInvalidSubmission, sub.SubmissionTime.Format(time.RFC3339))
	}
	def, err := e.Core.Catalog.Lookup(sub.ActionID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	res, msgs, err := e.judge(ctx, sub, def)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	if res.Accepted() {
		e.log().Info("xp awarded", "actor_id", sub.ActorID, "action_id", def.ID,
			"final_points", res.Event.FinalPoints, "total_xp", res.Profile.TotalXP)
		if res.LeveledUp {
			e.log().Info("level up", "actor_id", sub.ActorID, "level", res.Profile.Level)
		}
		for _, b := range res.NewBadges {
			e.log().Info("badge unlocked", "actor_id", sub.ActorID, "badge_id", b)
		}
	} else {
		e.log().Debug("submission rejected", "actor_id", sub.ActorID, "action_id", def.ID, "reason", res.Rejection.Reason)
	}
	e.publish(ctx, msgs)
	e.watch(ctx, sub.ActorID)
	return res, nil
}

// judge runs the pipeline and stores its outcome while holding the (actor, action) lock.
func (e Engine) judge(ctx context.Context, sub domain.ActionSubmission, def domain.ActionDefinition) (domain.SubmissionResult, []events.Message, error) {
	locks := e.Locks
	if locks == nil {
		locks = lock.NewLocal()
	}
	unlock, err := locks.Lock(ctx, lock.Key(sub.ActorID, def.ID))
	if err != nil {
		return domain.SubmissionResult{}, nil, fmt.Errorf("lock %s/%s: %w", sub.ActorID, def.ID, err)
	}
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SubmissionResult{}, nil, err
	}
	defer tx.Rollback()

	sc, err := e.loadContext(ctx, tx, sub.ActorID, def, sub.SubmissionTime)
	if err != nil {
		return domain.SubmissionResult{}, nil, err
	}
	if last, ok := latestAward(sc.Ledger, def.ID); ok && sub.SubmissionTime.Before(last) {
		return domain.SubmissionResult{}, nil, fmt.Errorf("%w: submission_time %s is before the last %s award at %s",
			core.ErrInvalidSubmission, sub.SubmissionTime.Format(time.RFC3339), def.ID, last.Format(time.RFC3339))
	}
	res, err := e.Core.Submit(sub, sc)
	if err != nil {
		if ledger.IsImmutable(err) {
			e.log().Error("ledger refused event", "actor_id", sub.ActorID, "action_id", sub.ActionID, "error", err)
		}
		return domain.SubmissionResult{}, nil, err
	}

	record := domain.SubmissionRecord{
		ID:          uuid.NewString(),
		ActorID:     sub.ActorID,
		ActionID:    def.ID,
		Status:      res.Outcome,
		SubmittedAt: sub.SubmissionTime,
	}
	var msgs []events.Message
	if res.Accepted() {
		record.EventID = res.Event.ID
		msgs, err = e.persistAccepted(ctx, tx, sc.Ledger, res)
		if err != nil {
			if ledger.IsImmutable(err) {
				e.log().Error("ledger refused event", "actor_id", sub.ActorID, "event_id", res.Event.ID, "error", err)
			}
			return domain.SubmissionResult{}, nil, err
		}
	} else {
		record.Reason = res.Rejection.Reason
		payload := events.EventPayload{
			"action_id": def.ID,
			"reason":    string(res.Rejection.Reason),
			"message":   res.Rejection.Message,
		}
		if res.Rejection.RetryAfter > 0 {
			payload["retry_after_seconds"] = int64(res.Rejection.RetryAfter.Seconds())
		}
		if err := e.Events.Append(ctx, tx, events.TypeSubmissionRejected, "submission", record.ID, sub.ActorID, payload); err != nil {
			return domain.SubmissionResult{}, nil, err
		}
		msgs = append(msgs, events.Message{Type: events.TypeSubmissionRejected, ActorID: sub.ActorID, At: sub.SubmissionTime, Payload: payload})
	}
	if err := e.Repo.InsertSubmission(ctx, tx, record); err != nil {
		return domain.SubmissionResult{}, nil, fmt.Errorf("record submission: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.SubmissionResult{}, nil, err
	}
	return res, msgs, nil
}

func latestAward(evts []domain.XpEvent, actionID string) (time.Time, bool) {
	var last time.Time
	found := false
	for _, evt := range evts {
		if evt.ActionID == actionID && (!found || evt.Timestamp.After(last)) {
			last, found = evt.Timestamp, true
		}
	}
	return last, found
}

func (e Engine) loadContext(ctx context.Context, tx *sql.Tx, actorID string, def domain.ActionDefinition, at time.Time) (core.Context, error) {
	var sc core.Context
	facts, err := e.Repo.GetOrgFacts(ctx, tx, actorID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return sc, fmt.Errorf("load org facts: %w", err)
	}
	sc.Facts = facts

	window := guard.Week
	if def.Cooldown() > window {
		window = def.Cooldown()
	}
	since := at.Add(-window)
	if sc.Recent, err = e.Repo.ListXPEvents(ctx, tx, repo.XPEventFilter{ActorID: actorID, ActionID: def.ID, Since: &since}); err != nil {
		return sc, fmt.Errorf("load recent events: %w", err)
	}
	if sc.Ledger, err = e.Repo.ListXPEvents(ctx, tx, repo.XPEventFilter{ActorID: actorID}); err != nil {
		return sc, fmt.Errorf("load ledger: %w", err)
	}
	if sc.Streak, err = e.Repo.GetStreak(ctx, tx, actorID); err != nil {
		return sc, fmt.Errorf("load streak: %w", err)
	}
	if sc.Badges, err = e.Repo.ListBadges(ctx, tx, actorID); err != nil {
		return sc, fmt.Errorf("load badges: %w", err)
	}
	return sc, nil
}

// persistAccepted appends the accepted event after checking that the stored
// ledger is still the history the core judged against.
func (e Engine) persistAccepted(ctx context.Context, tx *sql.Tx, judged []domain.XpEvent, res domain.SubmissionResult) ([]events.Message, error) {
	evt := *res.Event
	stored, err := e.Repo.ListXPEvents(ctx, tx, repo.XPEventFilter{ActorID: evt.ActorID})
	if err != nil {
		return nil, fmt.Errorf("reload ledger: %w", err)
	}
	candidate := append(append([]domain.XpEvent(nil), judged...), evt)
	if err := ledger.VerifyAppendOnly(stored, candidate); err != nil {
		return nil, err
	}
	if err := e.Repo.AppendXPEvent(ctx, tx, evt); err != nil {
		return nil, err
	}
	cursor := domain.StreakCursor{UserID: evt.ActorID, Days: res.Profile.StreakDays, LastActiveAt: res.Profile.LastActiveAt}
	if err := e.Repo.UpsertStreak(ctx, tx, cursor); err != nil {
		return nil, fmt.Errorf("save streak: %w", err)
	}

	var msgs []events.Message
	awarded := events.EventPayload{
		"action_id":    evt.ActionID,
		"category":     string(evt.Category),
		"base_points":  evt.BasePoints,
		"multiplier":   evt.MultiplierApplied,
		"final_points": evt.FinalPoints,
		"total_xp":     res.Profile.TotalXP,
	}
	if evt.TargetUserID != nil {
		awarded["target_user_id"] = *evt.TargetUserID
	}
	if res.Multiplier != nil && res.Multiplier.RuleID != "" {
		awarded["multiplier_rule"] = res.Multiplier.RuleID
	}
	if err := e.Events.Append(ctx, tx, events.TypeXPAwarded, "xp_event", evt.ID, evt.ActorID, awarded); err != nil {
		return nil, err
	}
	msgs = append(msgs, events.Message{Type: events.TypeXPAwarded, ActorID: evt.ActorID, At: evt.Timestamp, Payload: awarded})

	for _, b := range res.NewBadges {
		if err := e.Repo.InsertBadge(ctx, tx, evt.ActorID, b, evt.Timestamp, evt.ID); err != nil {
			return nil, fmt.Errorf("unlock badge %s: %w", b, err)
		}
		payload := events.EventPayload{"badge_id": string(b), "event_id": evt.ID}
		if def, ok := e.Core.Badges.Lookup(b); ok {
			payload["rarity"] = string(def.Rarity)
		}
		if err := e.Events.Append(ctx, tx, events.TypeBadgeUnlocked, "badge", string(b), evt.ActorID, payload); err != nil {
			return nil, err
		}
		msgs = append(msgs, events.Message{Type: events.TypeBadgeUnlocked, ActorID: evt.ActorID, At: evt.Timestamp, Payload: payload})
	}

	if res.LeveledUp {
		payload := events.EventPayload{"level": res.Profile.Level, "title": res.Profile.Title}
		if err := e.Events.Append(ctx, tx, events.TypeLevelUp, "user", evt.ActorID, evt.ActorID, payload); err != nil {
			return nil, err
		}
		msgs = append(msgs, events.Message{Type: events.TypeLevelUp, ActorID: evt.ActorID, At: evt.Timestamp, Payload: payload})
	}
	return msgs, nil
}

// publish is best effort; the ledger is already committed.
func (e Engine) publish(ctx context.Context, msgs []events.Message) {
	if e.Publisher == nil || len(msgs) == 0 {
		return
	}
	if err := e.Publisher.Publish(ctx, msgs...); err != nil {
		e.log().Warn("publish engine events", "count", len(msgs), "error", err)
	}
}

// watch logs actors whose recent history looks like gaming.
func (e Engine) watch(ctx context.Context, actorID string) {
	s, err := e.GamingReport(ctx, actorID)
	if err != nil {
		e.log().Warn("gaming report", "actor_id", actorID, "error", err)
		return
	}
	if s.Flagged {
		e.log().Warn("suspicious activity", "actor_id", actorID, "score", s.Score, "reasons", s.Reasons)
	}
}
