package app

import (
	"context"
	"errors"
	"fmt"

	"pdiquest/internal/config"
	"pdiquest/internal/repo"
)

// ResolveConfig returns the active rule set, seeding the database when it has
// none. The seed is the workspace config file if present, otherwise the defaults.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetEngineConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if seed == nil {
		seed = config.Default()
	}
	if err := r.UpsertEngineConfig(ctx, nil, seed); err != nil {
		return nil, fmt.Errorf("seed engine config: %w", err)
	}
	return seed, nil
}
