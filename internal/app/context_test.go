package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdiquest/internal/config"
	"pdiquest/internal/db"
	"pdiquest/internal/migrate"
	"pdiquest/internal/repo"
)

func openRepo(t *testing.T, workspace string) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Apply(context.Background(), conn, nil)
	require.NoError(t, err)
	return repo.Repo{DB: conn}
}

func TestResolveConfigSeedsDefaults(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t, t.TempDir())

	cfg, err := ResolveConfig(ctx, "", r)
	require.NoError(t, err)
	assert.Len(t, cfg.Actions, len(config.Default().Actions))

	stored, err := r.GetEngineConfig(ctx)
	require.NoError(t, err)
	assert.Len(t, stored.Actions, len(cfg.Actions))
}

func TestResolveConfigPrefersWorkspaceFileThenDatabase(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	yml := `actions:
  - id: only_action
    category: BONUS
    base_points: 10
    eligible_profiles: [BOTH]
`
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "pdiquest.yml"), []byte(yml), 0o644))
	r := openRepo(t, workspace)

	cfg, err := ResolveConfig(ctx, workspace, r)
	require.NoError(t, err)
	require.Len(t, cfg.Actions, 1)
	assert.Equal(t, "only_action", cfg.Actions[0].ID)

	// once stored, the database wins over the file
	require.NoError(t, os.Remove(config.Path(workspace)))
	cfg, err = ResolveConfig(ctx, workspace, r)
	require.NoError(t, err)
	assert.Equal(t, "only_action", cfg.Actions[0].ID)
}

func TestResolveConfigRejectsInvalidFile(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(workspace), []byte("actions: []\n"), 0o644))
	r := openRepo(t, workspace)
	_, err := ResolveConfig(context.Background(), workspace, r)
	assert.Error(t, err)
}
