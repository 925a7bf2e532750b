package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"pdiquest/internal/db"
	"pdiquest/internal/logger"
)

func TestEmbeddedIsOrdered(t *testing.T) {
	all, err := Embedded()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(all), 2)
	assert.Equal(t, 1, all[0].Version)
	assert.Equal(t, "0001_init", all[0].Name)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Version, all[i].Version)
	}
}

func TestApplyRecordsAndLogsOnce(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	core, logs := observer.New(zap.InfoLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	ran, err := Apply(ctx, conn, log)
	require.NoError(t, err)
	all, err := Embedded()
	require.NoError(t, err)
	assert.Len(t, ran, len(all))
	assert.Equal(t, len(all), logs.FilterMessage("migration applied").Len())

	history, err := History(ctx, conn)
	require.NoError(t, err)
	require.Len(t, history, len(all))
	assert.Equal(t, all[len(all)-1].Version, history[len(history)-1].Version)
	assert.False(t, history[0].AppliedAt.IsZero())

	ran, err = Apply(ctx, conn, nil)
	require.NoError(t, err)
	assert.Empty(t, ran)

	var perms int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM role_permissions WHERE role_id='admin' AND permission_id='submissions.backdate'`).Scan(&perms))
	assert.Equal(t, 1, perms)
}
