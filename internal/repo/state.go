package repo

import (
	"context"
	"database/sql"
	"time"

	"pdiquest/internal/domain"
)

// GetStreak returns the stored cursor, or a zero cursor for unseen users.
func (r Repo) GetStreak(ctx context.Context, tx *sql.Tx, userID string) (domain.StreakCursor, error) {
	c := domain.StreakCursor{UserID: userID}
	var last sql.NullString
	err := r.on(tx).QueryRowContext(ctx, `SELECT days,last_active_at FROM streaks WHERE user_id=?`, userID).Scan(&c.Days, &last)
	if err == sql.ErrNoRows {
		return c, nil
	}
	if err != nil {
		return c, err
	}
	if last.Valid {
		at, err := parseTime(last.String)
		if err != nil {
			return c, err
		}
		c.LastActiveAt = &at
	}
	return c, nil
}

func (r Repo) UpsertStreak(ctx context.Context, tx *sql.Tx, c domain.StreakCursor) error {
	var last any
	if c.LastActiveAt != nil {
		last = FormatTime(*c.LastActiveAt)
	}
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO streaks(user_id,days,last_active_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET days=excluded.days, last_active_at=excluded.last_active_at, updated_at=excluded.updated_at`,
		c.UserID, c.Days, last, FormatTime(time.Now()))
	return err
}

// BadgeUnlock is one stored user_badges row.
type BadgeUnlock struct {
	BadgeID    domain.BadgeID
	UnlockedAt time.Time
	EventID    string
}

// ListBadges returns unlocked badges in unlock order.
func (r Repo) ListBadges(ctx context.Context, tx *sql.Tx, userID string) ([]domain.BadgeID, error) {
	unlocks, err := r.ListBadgeUnlocks(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	res := make([]domain.BadgeID, 0, len(unlocks))
	for _, u := range unlocks {
		res = append(res, u.BadgeID)
	}
	return res, nil
}

func (r Repo) ListBadgeUnlocks(ctx context.Context, tx *sql.Tx, userID string) ([]BadgeUnlock, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT badge_id, unlocked_at, COALESCE(event_id,'') FROM user_badges WHERE user_id=? ORDER BY unlocked_at ASC, badge_id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []BadgeUnlock
	for rows.Next() {
		var (
			u  BadgeUnlock
			id string
			at string
		)
		if err := rows.Scan(&id, &at, &u.EventID); err != nil {
			return nil, err
		}
		u.BadgeID = domain.BadgeID(id)
		if u.UnlockedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// InsertBadge is idempotent per (user, badge).
func (r Repo) InsertBadge(ctx context.Context, tx *sql.Tx, userID string, badgeID domain.BadgeID, at time.Time, eventID string) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT OR IGNORE INTO user_badges(user_id,badge_id,unlocked_at,event_id) VALUES (?,?,?,?)`,
		userID, string(badgeID), FormatTime(at), nullable(eventID))
	return err
}

// GetOrgFacts returns ErrNotFound when nothing was recorded for the user.
func (r Repo) GetOrgFacts(ctx context.Context, tx *sql.Tx, userID string) (domain.OrgFacts, error) {
	f := domain.OrgFacts{UserID: userID}
	var admin int
	err := r.on(tx).QueryRowContext(ctx, `SELECT subordinate_count,managed_team_count,manager_role_teams,is_admin FROM org_facts WHERE user_id=?`, userID).
		Scan(&f.SubordinateCount, &f.ManagedTeamCount, &f.ManagerRoleTeams, &admin)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if err != nil {
		return f, err
	}
	f.IsAdmin = admin != 0
	return f, nil
}

func (r Repo) UpsertOrgFacts(ctx context.Context, tx *sql.Tx, f domain.OrgFacts) error {
	admin := 0
	if f.IsAdmin {
		admin = 1
	}
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO org_facts(user_id,subordinate_count,managed_team_count,manager_role_teams,is_admin,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET subordinate_count=excluded.subordinate_count, managed_team_count=excluded.managed_team_count,
manager_role_teams=excluded.manager_role_teams, is_admin=excluded.is_admin, updated_at=excluded.updated_at`,
		f.UserID, f.SubordinateCount, f.ManagedTeamCount, f.ManagerRoleTeams, admin, FormatTime(time.Now()))
	return err
}

func (r Repo) InsertSubmission(ctx context.Context, tx *sql.Tx, s domain.SubmissionRecord) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO submissions(id,actor_id,action_id,status,reason,event_id,submitted_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.ActorID, s.ActionID, string(s.Status), nullable(string(s.Reason)), nullable(s.EventID), FormatTime(s.SubmittedAt))
	return err
}

// ListSubmissions returns the actor's submissions after since, oldest first.
func (r Repo) ListSubmissions(ctx context.Context, tx *sql.Tx, actorID string, since time.Time) ([]domain.SubmissionRecord, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT id,actor_id,action_id,status,COALESCE(reason,''),COALESCE(event_id,''),submitted_at
FROM submissions WHERE actor_id=? AND submitted_at>? ORDER BY submitted_at ASC, id ASC`, actorID, FormatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SubmissionRecord
	for rows.Next() {
		var (
			s              domain.SubmissionRecord
			status, reason string
			ts             string
		)
		if err := rows.Scan(&s.ID, &s.ActorID, &s.ActionID, &status, &reason, &s.EventID, &ts); err != nil {
			return nil, err
		}
		s.Status = domain.Outcome(status)
		s.Reason = domain.RejectReason(reason)
		at, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		s.SubmittedAt = at
		res = append(res, s)
	}
	return res, rows.Err()
}
