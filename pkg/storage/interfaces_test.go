package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civichub/planengine/pkg/config"
	"github.com/civichub/planengine/pkg/observability"
	"github.com/civichub/planengine/pkg/plans"
)

const devCatalog = `
plans:
  - tier: entry
    name: Entry
    rank: 0
    limits: {max_offers: 3, max_active_offers: 1, max_team_members: 1, max_coupons_per_month: 10}
  - tier: standard
    name: Standard
    base_price: "99.50"
    rank: 1
    limits: {max_offers: 20, max_active_offers: 5, max_team_members: 5, max_coupons_per_month: 100}
`

func writeDevCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(devCatalog), 0o644))
	return path
}

func TestOpen_CatalogFileWithMemoryStores(t *testing.T) {
	logger := observability.NewNopLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	backend, err := Open(context.Background(), config.StorageConfig{CatalogFile: writeDevCatalog(t)}, logger, metrics)
	require.NoError(t, err)
	defer backend.Close()

	assert.Nil(t, backend.Postgres)
	assert.Nil(t, backend.Locker)
	assert.NotNil(t, backend.CatalogFile)
	assert.IsType(t, &MemorySubscriptionStore{}, backend.Subscriptions)
	assert.IsType(t, &MemoryUsageCounter{}, backend.Usage)

	engine, err := plans.NewEngine(plans.Options{
		Catalog:       backend.Catalog,
		Subscriptions: backend.Subscriptions,
		Usage:         backend.Usage,
		Logger:        logger,
		Metrics:       metrics,
	})
	require.NoError(t, err)

	sub, err := engine.UpgradePlan(context.Background(), 1, "standard")
	require.NoError(t, err)
	assert.Equal(t, "standard", sub.Tier)

	plan, err := engine.EffectivePlan(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, plans.TierStandard, plan.Tier)
}

func TestOpen_WithRedisLocker(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	backend, err := Open(context.Background(), config.StorageConfig{
		CatalogFile: writeDevCatalog(t),
		RedisURL:    "redis://" + mr.Addr(),
	}, observability.NewNopLogger(), nil)
	require.NoError(t, err)

	require.NotNil(t, backend.Locker)
	unlock, err := backend.Locker.Lock(context.Background(), 5)
	require.NoError(t, err)
	unlock()

	assert.NoError(t, backend.Close())
	assert.NoError(t, backend.Close(), "close is idempotent")
}

func TestOpen_Errors(t *testing.T) {
	logger := observability.NewNopLogger()

	_, err := Open(context.Background(), config.StorageConfig{}, logger, nil)
	assert.ErrorContains(t, err, "no plan catalog")

	_, err = Open(context.Background(), config.StorageConfig{
		CatalogFile: filepath.Join(t.TempDir(), "missing.yaml"),
	}, logger, nil)
	assert.Error(t, err)

	_, err = Open(context.Background(), config.StorageConfig{
		CatalogFile: writeDevCatalog(t),
		RedisURL:    "not a url",
	}, logger, nil)
	assert.Error(t, err)
}

func TestBackend_WatchCatalogWithoutFile(t *testing.T) {
	backend := &Backend{}
	assert.NoError(t, backend.WatchCatalog(context.Background(), nil))
}
