package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"pdiquest/internal/config"
	"pdiquest/internal/domain"
	"pdiquest/internal/engine/classify"
	"pdiquest/internal/events"
	"pdiquest/internal/repo"
)

var (
	ErrInvalidOrgFacts = errors.New("invalid org facts")
	ErrUnknownRole     = errors.New("unknown role")
	// ErrInvalidRequest marks caller mistakes in admin operations.
	ErrInvalidRequest = errors.New("invalid request")
)

// SetOrgFacts replaces the stored facts for a user and returns the resulting classification.
func (e Engine) SetOrgFacts(ctx context.Context, f domain.OrgFacts, actorID string) (domain.ActorProfile, error) {
	f.UserID = strings.TrimSpace(f.UserID)
	if f.UserID == "" {
		return domain.ActorProfile{}, fmt.Errorf("%w: user_id is required", ErrInvalidOrgFacts)
	}
	if f.SubordinateCount < 0 || f.ManagedTeamCount < 0 || f.ManagerRoleTeams < 0 {
		return domain.ActorProfile{}, fmt.Errorf("%w: counts must not be negative", ErrInvalidOrgFacts)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ActorProfile{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertOrgFacts(ctx, tx, f); err != nil {
		return domain.ActorProfile{}, err
	}
	profile := classify.Classify(f)
	if err := e.Events.Append(ctx, tx, events.TypeOrgFactsUpdated, "user", f.UserID, actorID, events.EventPayload{
		"subordinate_count":  f.SubordinateCount,
		"managed_team_count": f.ManagedTeamCount,
		"manager_role_teams": f.ManagerRoleTeams,
		"is_admin":           f.IsAdmin,
		"profile":            string(profile.Type),
	}); err != nil {
		return domain.ActorProfile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ActorProfile{}, err
	}
	return profile, nil
}

// ImportConfig validates and stores cfg as the active rule set. Running
// engines keep their rules until they are rebuilt.
func (e Engine) ImportConfig(ctx context.Context, cfg *config.Config, actorID string) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is required", ErrInvalidRequest)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertEngineConfig(ctx, tx, cfg); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeConfigImported, "config", "engine", actorID, events.EventPayload{
		"actions":     len(cfg.Actions),
		"multipliers": len(cfg.Multipliers),
		"badges":      len(cfg.Badges),
		"streak":      cfg.StreakPolicy(),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

type WhoAmI struct {
	ActorID     string
	Roles       []string
	Permissions []string
}

func (e Engine) WhoAmI(ctx context.Context, actorID string) (WhoAmI, error) {
	roles, err := e.Auth.ActorRoles(ctx, nil, actorID)
	if err != nil {
		return WhoAmI{}, err
	}
	perms, err := e.Auth.ActorPermissions(ctx, nil, actorID)
	if err != nil {
		return WhoAmI{}, err
	}
	return WhoAmI{ActorID: actorID, Roles: roles, Permissions: perms}, nil
}

func (e Engine) GrantRole(ctx context.Context, actorID, targetActorID, roleID string) error {
	return e.changeRole(ctx, actorID, targetActorID, roleID, true)
}

func (e Engine) RevokeRole(ctx context.Context, actorID, targetActorID, roleID string) error {
	return e.changeRole(ctx, actorID, targetActorID, roleID, false)
}

func (e Engine) changeRole(ctx context.Context, actorID, targetActorID, roleID string, grant bool) error {
	if strings.TrimSpace(targetActorID) == "" {
		return fmt.Errorf("%w: actor_id is required", ErrInvalidRequest)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Repo.RoleExists(ctx, tx, roleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRole, roleID)
	}
	evtType := events.TypeRoleGranted
	if grant {
		if err := e.Auth.EnsureActor(ctx, tx, targetActorID); err != nil {
			return err
		}
		err = e.Repo.AssignRole(ctx, tx, targetActorID, roleID)
	} else {
		evtType = events.TypeRoleRevoked
		err = e.Repo.RevokeRole(ctx, tx, targetActorID, roleID)
	}
	if err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evtType, "rbac", targetActorID, actorID, events.EventPayload{"role_id": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateAPIKey issues a key for ownerID. The plain key is returned once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, ownerID, name string) (string, domain.APIKey, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return "", domain.APIKey{}, fmt.Errorf("%w: actor_id is required", ErrInvalidRequest)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	plain := "pdq_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   ownerID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.now().UTC(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	defer tx.Rollback()
	if err := e.Auth.EnsureActor(ctx, tx, ownerID); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeAPIKeyCreated, "api_key", key.ID, actorID, events.EventPayload{"owner": ownerID, "name": name}); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := tx.Commit(); err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}

// APIKeys lists ownerID's keys, revoked ones included.
func (e Engine) APIKeys(ctx context.Context, ownerID string) ([]domain.APIKey, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, fmt.Errorf("%w: actor_id is required", ErrInvalidRequest)
	}
	return e.Repo.ListAPIKeys(ctx, ownerID)
}

// APIKey loads a key by id, revoked or not.
func (e Engine) APIKey(ctx context.Context, keyID string) (domain.APIKey, error) {
	return e.Repo.GetAPIKey(ctx, nil, keyID)
}

// RevokeAPIKey disables keyID. Requests authenticated with it fail from then on.
func (e Engine) RevokeAPIKey(ctx context.Context, actorID, keyID string) (domain.APIKey, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, err
	}
	defer tx.Rollback()
	key, err := e.Repo.GetAPIKey(ctx, tx, keyID)
	if err != nil {
		return domain.APIKey{}, err
	}
	at := e.now().UTC()
	if err := e.Repo.RevokeAPIKey(ctx, tx, keyID, at); err != nil {
		return domain.APIKey{}, err
	}
	key.RevokedAt = &at
	if err := e.Events.Append(ctx, tx, events.TypeAPIKeyRevoked, "api_key", key.ID, actorID, events.EventPayload{"owner": key.ActorID}); err != nil {
		return domain.APIKey{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, err
	}
	return key, nil
}

// AuditEvents pages the audit log newest first.
func (e Engine) AuditEvents(ctx context.Context, limit int, cursor int64, f repo.EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.Repo.LatestEventsFrom(ctx, limit, cursor, f)
}
