package app

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/cache"
	healthcheck "github.com/vladislavdragonenkov/ordersaga/internal/health"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	require.NoError(t, err)
	defer deps.Close(log.WithField("test", "memory-storage"))

	assert.NotNil(t, deps.orders)
	assert.NotNil(t, deps.outboxRepo)
	assert.NotNil(t, deps.idempotencyRepo)
	assert.NotNil(t, deps.validations)
	assert.NotNil(t, deps.payments)
	assert.Empty(t, deps.probes, "memory storage has no external components to check")

	for code, available := range defaultStock {
		exists, err := deps.catalog.ExistsByCode(context.Background(), code)
		require.NoError(t, err)
		assert.True(t, exists, code)

		inv, err := deps.inventories.FindByProductCode(context.Background(), code)
		require.NoError(t, err)
		assert.Equal(t, available, inv.Available, code)
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAGA_POSTGRES_DSN")
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage driver")
}

func TestInitRuntimeDependencies_RedisCatalogCache(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.RedisAddr = srv.Addr()

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "redis-cache"))
	require.NoError(t, err)
	defer deps.Close(log.WithField("test", "redis-cache"))

	_, cached := deps.catalog.(*cache.CatalogCache)
	require.True(t, cached, "catalog must be wrapped by redis cache")

	exists, err := deps.catalog.ExistsByCode(context.Background(), "BOOKS")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.True(t, srv.Exists(cache.DefaultKeyPrefix+":BOOKS"))

	probe, ok := findProbe(deps.probes, "redis")
	require.True(t, ok)
	assert.False(t, probe.Critical, "catalog cache outage must not make the role unready")
	assert.NoError(t, probe.Checker.Check(context.Background()))

	srv.Close()
	assert.Error(t, probe.Checker.Check(context.Background()))
}

func findProbe(probes []healthcheck.Probe, name string) (healthcheck.Probe, bool) {
	for _, probe := range probes {
		if probe.Name == name {
			return probe, true
		}
	}
	return healthcheck.Probe{}, false
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("SAGA_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("SAGA_POSTGRES_TEST_DSN is not set")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	logger := log.WithField("test", "postgres-init")
	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.Close(logger)

	probe, ok := findProbe(deps.probes, "postgres")
	require.True(t, ok)
	assert.True(t, probe.Critical)
	assert.NoError(t, probe.Checker.Check(context.Background()))

	exists, err := deps.catalog.ExistsByCode(context.Background(), "COMIC_BOOKS")
	require.NoError(t, err)
	assert.True(t, exists)
}
