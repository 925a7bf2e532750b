package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pdiquest/internal/repo"
)

// Permissions checked by the engine. Role grants live in the database.
const (
	PermSubmitForOthers = "submissions.create"
	PermBackdate        = "submissions.backdate"
	PermProfilesRead    = "profiles.read"
	PermOrgFactsWrite   = "org_facts.write"
	PermConfigWrite     = "config.write"
	PermEventsRead      = "events.read"
	PermRBACWrite       = "rbac.write"
	PermAPIKeysWrite    = "api_keys.write"
)

// ErrActorRequired is returned for an empty actor id.
var ErrActorRequired = errors.New("actor_id required")

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service provides RBAC helpers backed by SQL.
type Service struct {
	Repo repo.Repo
}

func (s Service) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string) error {
	if actorID == "" {
		return ErrActorRequired
	}
	return s.Repo.EnsureActor(ctx, tx, actorID, time.Now().UTC().Format(time.RFC3339))
}

func (s Service) ActorHasPermission(ctx context.Context, tx *sql.Tx, actorID, perm string) (bool, error) {
	perms, err := s.Repo.ActorPermissions(ctx, tx, actorID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == perm {
			return true, nil
		}
	}
	return false, nil
}

// Require returns ForbiddenError when actorID lacks perm.
func (s Service) Require(ctx context.Context, tx *sql.Tx, actorID, perm string) error {
	ok, err := s.ActorHasPermission(ctx, tx, actorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

// RequireSelfOr lets an actor act on its own records and needs perm otherwise.
func (s Service) RequireSelfOr(ctx context.Context, tx *sql.Tx, actorID, subjectID, perm string) error {
	if actorID == subjectID {
		return nil
	}
	return s.Require(ctx, tx, actorID, perm)
}

func (s Service) ActorRoles(ctx context.Context, tx *sql.Tx, actorID string) ([]string, error) {
	return s.Repo.ActorRoles(ctx, tx, actorID)
}

func (s Service) ActorPermissions(ctx context.Context, tx *sql.Tx, actorID string) ([]string, error) {
	return s.Repo.ActorPermissions(ctx, tx, actorID)
}
