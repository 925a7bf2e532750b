// Package ledger is the append-only record of accepted XP events.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pdiquest/internal/domain"
)

// ImmutableLedgerError reports an attempt to rewrite or remove a recorded event.
type ImmutableLedgerError struct {
	EventID string
	Op      string
}

func (e ImmutableLedgerError) Error() string {
	return fmt.Sprintf("xp ledger is append-only: %s of event %s refused", e.Op, e.EventID)
}

// IsImmutable reports whether err is an ImmutableLedgerError.
func IsImmutable(err error) bool {
	var target ImmutableLedgerError
	return errors.As(err, &target)
}

var ErrInvalidEvent = errors.New("invalid xp event")

// eventNamespace scopes deterministic event ids.
var eventNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("pdiquest.xp_event"))

// EventID derives a stable id from the submission identity.
func EventID(actorID, actionID, targetUserID string, at time.Time) string {
	key := strings.Join([]string{actorID, actionID, targetUserID, at.UTC().Format(time.RFC3339Nano)}, "|")
	return uuid.NewSHA1(eventNamespace, []byte(key)).String()
}

// Ledger holds one snapshot of events. It is not safe for concurrent mutation.
type Ledger struct {
	events []domain.XpEvent
	ids    map[string]struct{}
}

// New builds a ledger from stored events in append order.
func New(events []domain.XpEvent) (*Ledger, error) {
	l := &Ledger{ids: make(map[string]struct{}, len(events))}
	for _, e := range events {
		if _, err := l.Append(e); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Append records e and returns its id.
func (l *Ledger) Append(e domain.XpEvent) (string, error) {
	if err := Validate(e); err != nil {
		return "", err
	}
	if l.ids == nil {
		l.ids = map[string]struct{}{}
	}
	if _, dup := l.ids[e.ID]; dup {
		return "", ImmutableLedgerError{EventID: e.ID, Op: "overwrite"}
	}
	l.ids[e.ID] = struct{}{}
	l.events = append(l.events, e)
	return e.ID, nil
}

// Events returns a copy of the recorded events.
func (l *Ledger) Events() []domain.XpEvent {
	return append([]domain.XpEvent(nil), l.events...)
}

func (l *Ledger) TotalXP(userID string) int {
	return TotalXP(userID, l.events)
}

// Validate checks the per-event invariants.
func Validate(e domain.XpEvent) error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	case e.ActorID == "":
		return fmt.Errorf("%w: %s has no actor", ErrInvalidEvent, e.ID)
	case e.BasePoints <= 0:
		return fmt.Errorf("%w: %s base points must be positive", ErrInvalidEvent, e.ID)
	case e.MultiplierApplied < 1.0:
		return fmt.Errorf("%w: %s multiplier %.2f below 1.00", ErrInvalidEvent, e.ID, e.MultiplierApplied)
	case e.FinalPoints < e.BasePoints:
		return fmt.Errorf("%w: %s final points %d below base %d", ErrInvalidEvent, e.ID, e.FinalPoints, e.BasePoints)
	}
	return nil
}

// TotalXP sums final points credited to userID. The result never goes below zero.
func TotalXP(userID string, events []domain.XpEvent) int {
	total := 0
	for _, e := range events {
		if e.ActorID == userID {
			total += e.FinalPoints
		}
	}
	if total < 0 {
		return 0
	}
	return total
}

// VerifyAppendOnly checks that candidate extends stored without changing or dropping events.
func VerifyAppendOnly(stored, candidate []domain.XpEvent) error {
	if len(candidate) < len(stored) {
		missing := stored[len(candidate)].ID
		for _, s := range stored {
			if !containsID(candidate, s.ID) {
				missing = s.ID
				break
			}
		}
		return ImmutableLedgerError{EventID: missing, Op: "delete"}
	}
	for i, s := range stored {
		c := candidate[i]
		if c.ID != s.ID {
			if containsID(candidate, s.ID) {
				return ImmutableLedgerError{EventID: s.ID, Op: "reorder"}
			}
			return ImmutableLedgerError{EventID: s.ID, Op: "delete"}
		}
		if !sameEvent(s, c) {
			return ImmutableLedgerError{EventID: s.ID, Op: "update"}
		}
	}
	return nil
}

func containsID(events []domain.XpEvent, id string) bool {
	for _, e := range events {
		if e.ID == id {
			return true
		}
	}
	return false
}

func sameEvent(a, b domain.XpEvent) bool {
	return a.ID == b.ID &&
		a.ActorID == b.ActorID &&
		a.Target() == b.Target() &&
		a.ActionID == b.ActionID &&
		a.BasePoints == b.BasePoints &&
		a.MultiplierApplied == b.MultiplierApplied &&
		a.FinalPoints == b.FinalPoints &&
		a.Category == b.Category &&
		a.Timestamp.Equal(b.Timestamp) &&
		strEq(a.EvidenceRef, b.EvidenceRef) &&
		floatEq(a.QualityRating, b.QualityRating)
}

func strEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func floatEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
