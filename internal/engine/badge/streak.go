package badge

import (
	"time"

	"pdiquest/internal/domain"
)

// Streak policies.
const (
	// PolicyRolling counts 24h windows from the last activity.
	PolicyRolling = "rolling"
	// PolicyCalendar counts UTC calendar days.
	PolicyCalendar = "calendar"
)

// UpdateStreak advances the cursor for an accepted event at now.
// Events older than the cursor leave it unchanged.
func UpdateStreak(c domain.StreakCursor, now time.Time, policy string) domain.StreakCursor {
	now = now.UTC()
	if c.LastActiveAt == nil {
		return domain.StreakCursor{UserID: c.UserID, Days: 1, LastActiveAt: &now}
	}
	last := c.LastActiveAt.UTC()
	if now.Before(last) {
		return c
	}
	days := c.Days
	if policy == PolicyCalendar {
		switch dayGap(last, now) {
		case 0:
		case 1:
			days++
		default:
			days = 1
		}
	} else {
		gap := now.Sub(last)
		switch {
		case gap < 24*time.Hour:
		case gap < 48*time.Hour:
			days++
		default:
			days = 1
		}
	}
	if days < 1 {
		days = 1
	}
	return domain.StreakCursor{UserID: c.UserID, Days: days, LastActiveAt: &now}
}

func dayGap(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
