package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/testutil"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/version"
)

func TestSystemService_CheckHealth(t *testing.T) {
	t.Run("healthy with backlog", func(t *testing.T) {
		f := newFixture(t)
		p := testutil.CreatePortfolio(t, f.db, f.user.ID)
		require.NoError(t, f.svc.Regeneration.Enqueue(f.ctx, p.ID, model.ReasonManual))

		status, err := f.svc.System.CheckHealth(f.ctx)
		require.NoError(t, err)

		assert.Equal(t, "healthy", status.Status)
		assert.Equal(t, "connected", status.Database)
		assert.Equal(t, 1, status.PendingRegenerations)
	})

	t.Run("closed database", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.db.Close())

		status, err := f.svc.System.CheckHealth(f.ctx)

		assert.Error(t, err)
		assert.Equal(t, "unhealthy", status.Status)
		assert.Equal(t, "disconnected", status.Database)
	})
}

func TestSystemService_CheckVersion(t *testing.T) {
	f := newFixture(t)

	info, err := f.svc.System.CheckVersion(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, version.Version, info.AppVersion)
	assert.Equal(t, info.LatestMigration, info.DbVersion)
	assert.Positive(t, info.DbVersion)
	assert.False(t, info.MigrationNeeded)
}
