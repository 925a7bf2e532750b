// Package guard holds the anti-gaming checks. Every function is a pure query over
// the events the caller passes in.
package guard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"pdiquest/internal/domain"
)

// Week is the trailing window weekly caps are counted over.
const Week = 7 * 24 * time.Hour

type Attempt struct {
	ActorID       string
	TargetUserID  *string
	At            time.Time
	Evidence      *string
	QualityRating *float64
}

// AttemptFrom extracts the guard inputs from a submission.
func AttemptFrom(sub domain.ActionSubmission) Attempt {
	return Attempt{
		ActorID:       sub.ActorID,
		TargetUserID:  sub.TargetUserID,
		At:            sub.SubmissionTime,
		Evidence:      sub.Evidence,
		QualityRating: sub.QualityRating,
	}
}

type Decision struct {
	Allowed   bool
	Rejection *domain.Rejection
}

func allow() Decision { return Decision{Allowed: true} }

func reject(reason domain.RejectReason, retry time.Duration, format string, args ...any) Decision {
	return Decision{Rejection: &domain.Rejection{
		Reason:     reason,
		Message:    fmt.Sprintf(format, args...),
		RetryAfter: retry,
	}}
}

// HasEvidence reports whether a non-blank evidence reference was supplied.
func HasEvidence(ev *string) bool {
	return ev != nil && strings.TrimSpace(*ev) != ""
}

// Check runs the evidence, quality, cooldown and weekly cap checks in that order.
// recent may contain unrelated events; only the attempt's (actor, action) pair is counted.
func Check(def domain.ActionDefinition, a Attempt, recent []domain.XpEvent) Decision {
	if def.RequiresEvidence && !HasEvidence(a.Evidence) {
		return reject(domain.RejectMissingEvidence, 0, "%s requires evidence", def.ID)
	}
	if def.MinQualityRating != nil {
		threshold := *def.MinQualityRating
		if a.QualityRating == nil {
			return reject(domain.RejectBelowQualityThreshold, 0, "%s requires a quality rating of at least %.1f", def.ID, threshold)
		}
		if *a.QualityRating < threshold {
			return reject(domain.RejectBelowQualityThreshold, 0, "quality rating %.1f is below the %.1f minimum for %s", *a.QualityRating, threshold, def.ID)
		}
	}
	events := matching(def.ID, a.ActorID, recent)
	if cd := def.Cooldown(); cd > 0 {
		scoped := events
		if def.CooldownScope == domain.CooldownPerTarget && a.TargetUserID != nil {
			scoped = forTarget(events, *a.TargetUserID)
		}
		if last, ok := latest(scoped); ok {
			until := last.Add(cd)
			if until.After(a.At) {
				retry := until.Sub(a.At)
				return reject(domain.RejectCooldownActive, retry, "%s is on cooldown for another %s", def.ID, retry.Round(time.Minute))
			}
		}
	}
	if def.WeeklyCap > 0 {
		n := countWithin(events, a.At.Add(-Week), a.At)
		if n >= def.WeeklyCap {
			retry := capRetry(events, a.At, n-def.WeeklyCap+1)
			return reject(domain.RejectWeeklyCapReached, retry, "%s weekly cap of %d reached", def.ID, def.WeeklyCap)
		}
	}
	return allow()
}

// LimitStatus is the cooldown and cap view for one action.
type LimitStatus struct {
	ActionID          string        `json:"action_id"`
	CooldownHours     int           `json:"cooldown_hours"`
	PerTarget         bool          `json:"per_target"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
	LastAcceptedAt    *time.Time    `json:"last_accepted_at,omitempty" format:"date-time"`
	WeeklyCount       int           `json:"weekly_count"`
	WeeklyCap         int           `json:"weekly_cap"`
	CanSubmit         bool          `json:"can_submit"`
}

// Limits reports the actor's cooldown and cap state for def at now. Target-scoped
// cooldowns are reported against the actor's latest event for any target.
func Limits(def domain.ActionDefinition, actorID string, recent []domain.XpEvent, now time.Time) LimitStatus {
	events := matching(def.ID, actorID, recent)
	st := LimitStatus{
		ActionID:      def.ID,
		CooldownHours: def.CooldownHours,
		PerTarget:     def.CooldownScope == domain.CooldownPerTarget,
		WeeklyCap:     def.WeeklyCap,
	}
	if last, ok := latest(events); ok {
		ts := last
		st.LastAcceptedAt = &ts
		if until := last.Add(def.Cooldown()); until.After(now) {
			st.CooldownRemaining = until.Sub(now)
		}
	}
	st.WeeklyCount = countWithin(events, now.Add(-Week), now)
	capOK := def.WeeklyCap == 0 || st.WeeklyCount < def.WeeklyCap
	st.CanSubmit = capOK && (st.CooldownRemaining == 0 || st.PerTarget)
	return st
}

func matching(actionID, actorID string, events []domain.XpEvent) []domain.XpEvent {
	out := make([]domain.XpEvent, 0, len(events))
	for _, e := range events {
		if e.ActionID == actionID && e.ActorID == actorID {
			out = append(out, e)
		}
	}
	return out
}

func forTarget(events []domain.XpEvent, target string) []domain.XpEvent {
	var out []domain.XpEvent
	for _, e := range events {
		if e.Target() == target {
			out = append(out, e)
		}
	}
	return out
}

func latest(events []domain.XpEvent) (time.Time, bool) {
	var last time.Time
	found := false
	for _, e := range events {
		if !found || e.Timestamp.After(last) {
			last = e.Timestamp
			found = true
		}
	}
	return last, found
}

// countWithin counts events in (from, to].
func countWithin(events []domain.XpEvent, from, to time.Time) int {
	n := 0
	for _, e := range events {
		if e.Timestamp.After(from) && !e.Timestamp.After(to) {
			n++
		}
	}
	return n
}

// capRetry returns how long until the k-th oldest event in the window leaves it.
func capRetry(events []domain.XpEvent, at time.Time, k int) time.Duration {
	from := at.Add(-Week)
	var in []time.Time
	for _, e := range events {
		if e.Timestamp.After(from) && !e.Timestamp.After(at) {
			in = append(in, e.Timestamp)
		}
	}
	if k <= 0 || k > len(in) {
		return 0
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Before(in[j]) })
	retry := in[k-1].Add(Week).Sub(at)
	if retry < 0 {
		return 0
	}
	return retry
}
