package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Audit event types.
const (
	TypeXPAwarded          = "xp.awarded"
	TypeSubmissionRejected = "submission.rejected"
	TypeBadgeUnlocked      = "badge.unlocked"
	TypeLevelUp            = "level.up"
	TypeOrgFactsUpdated    = "org_facts.updated"
	TypeConfigImported     = "config.imported"
	TypeRoleGranted        = "rbac.role_granted"
	TypeRoleRevoked        = "rbac.role_revoked"
	TypeAPIKeyCreated      = "api_key.created"
	TypeAPIKeyRevoked      = "api_key.revoked"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one audit row inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
