package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"pdiquest/internal/domain"
	"pdiquest/internal/engine/ledger"
)

const xpEventColumns = `id,actor_id,target_user_id,action_id,base_points,multiplier,final_points,category,ts,evidence_ref,quality_rating`

// AppendXPEvent inserts e. A duplicate id or a trigger abort surfaces as
// ledger.ImmutableLedgerError.
func (r Repo) AppendXPEvent(ctx context.Context, tx *sql.Tx, e domain.XpEvent) error {
	if err := ledger.Validate(e); err != nil {
		return err
	}
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO xp_events(`+xpEventColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ActorID, nullableStringPtr(e.TargetUserID), e.ActionID, e.BasePoints, e.MultiplierApplied,
		e.FinalPoints, string(e.Category), FormatTime(e.Timestamp), nullableStringPtr(e.EvidenceRef), nullableFloatPtr(e.QualityRating))
	if err != nil {
		return ledgerError(err, e.ID, "overwrite")
	}
	return nil
}

// ledgerError maps sqlite constraint failures on xp_events to the ledger error.
func ledgerError(err error, eventID, op string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed: xp_events.id"):
		return ledger.ImmutableLedgerError{EventID: eventID, Op: op}
	case strings.Contains(msg, "xp_events is append-only"):
		return ledger.ImmutableLedgerError{EventID: eventID, Op: op}
	}
	return err
}

type XPEventFilter struct {
	ActorID  string
	ActionID string
	// Since keeps events strictly after the instant.
	Since *time.Time
	Limit int
}

// ListXPEvents returns events in append order.
func (r Repo) ListXPEvents(ctx context.Context, tx *sql.Tx, f XPEventFilter) ([]domain.XpEvent, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.ActionID != "" {
		clauses = append(clauses, "action_id=?")
		args = append(args, f.ActionID)
	}
	if f.Since != nil {
		clauses = append(clauses, "ts>?")
		args = append(args, FormatTime(*f.Since))
	}
	query := fmt.Sprintf(`SELECT %s FROM xp_events WHERE %s ORDER BY seq ASC`, xpEventColumns, strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		// newest f.Limit, still returned oldest first
		query = fmt.Sprintf(`SELECT %s FROM (SELECT seq,%s FROM xp_events WHERE %s ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`,
			xpEventColumns, xpEventColumns, strings.Join(clauses, " AND "))
		args = append(args, f.Limit)
	}
	rows, err := r.on(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.XpEvent
	for rows.Next() {
		e, err := scanXPEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) GetXPEvent(ctx context.Context, id string) (domain.XpEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+xpEventColumns+` FROM xp_events WHERE id=?`, id)
	if err != nil {
		return domain.XpEvent{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.XpEvent{}, err
		}
		return domain.XpEvent{}, ErrNotFound
	}
	return scanXPEvent(rows)
}

func scanXPEvent(rows *sql.Rows) (domain.XpEvent, error) {
	var (
		e        domain.XpEvent
		target   sql.NullString
		evidence sql.NullString
		rating   sql.NullFloat64
		category string
		ts       string
	)
	if err := rows.Scan(&e.ID, &e.ActorID, &target, &e.ActionID, &e.BasePoints, &e.MultiplierApplied,
		&e.FinalPoints, &category, &ts, &evidence, &rating); err != nil {
		return e, err
	}
	e.Category = domain.Category(category)
	at, err := parseTime(ts)
	if err != nil {
		return e, fmt.Errorf("xp event %s: bad timestamp %q: %w", e.ID, ts, err)
	}
	e.Timestamp = at
	if target.Valid {
		e.TargetUserID = &target.String
	}
	if evidence.Valid {
		e.EvidenceRef = &evidence.String
	}
	if rating.Valid {
		e.QualityRating = &rating.Float64
	}
	return e, nil
}

// LeaderboardRow is one actor's ledger aggregate.
type LeaderboardRow struct {
	UserID  string
	TotalXP int
	Events  int
}

// Leaderboard sums final points per actor, highest first, ties by user id.
func (r Repo) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT actor_id, COALESCE(SUM(final_points),0) AS total, COUNT(*) FROM xp_events
GROUP BY actor_id ORDER BY total DESC, actor_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []LeaderboardRow
	for rows.Next() {
		var row LeaderboardRow
		if err := rows.Scan(&row.UserID, &row.TotalXP, &row.Events); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, rows.Err()
}
