package app

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/cache"
	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/ordersaga/internal/health"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/postgres"
)

// defaultStock - стартовый каталог in-memory режима, совпадает с миграцией 0002.
var defaultStock = map[string]int{
	"COMIC_BOOKS": 10,
	"BOOKS":       2,
	"MOVIES":      5,
	"MUSIC":       9,
}

type orderStore interface {
	domain.OrderRepository
	domain.EventRepository
	domain.OrderUnitOfWork
}

// runtimeDependencies - хранилища одного процесса. Бинарник берёт только нужные ему.
type runtimeDependencies struct {
	orders          orderStore
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	catalog         domain.ProductRepository
	validations     domain.ValidationRepository
	payments        domain.PaymentRepository
	inventories     domain.InventoryRepository

	probes  []healthcheck.Probe
	closers []func() error
}

// initRuntimeDependencies создаёт хранилища выбранного драйвера и, если задан
// Redis, оборачивает каталог товаров кэшем.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	var (
		deps *runtimeDependencies
		err  error
	)
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		deps = newMemoryDependencies()
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		deps, err = newPostgresDependencies(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if cfg.RedisAddr != "" {
		if err := deps.attachCatalogCache(ctx, cfg, logger); err != nil {
			deps.Close(logger)
			return nil, err
		}
	}
	return deps, nil
}

func newMemoryDependencies() *runtimeDependencies {
	outboxRepo := memory.NewOutboxRepository()
	inventories := memory.NewInventoryRepository()
	codes := make([]string, 0, len(defaultStock))
	for code, available := range defaultStock {
		codes = append(codes, code)
		inventories.Seed(code, available)
	}
	sort.Strings(codes)

	return &runtimeDependencies{
		orders:          memory.NewOrderStore(outboxRepo),
		outboxRepo:      outboxRepo,
		idempotencyRepo: memory.NewIdempotencyRepository(),
		catalog:         memory.NewProductCatalog(codes...),
		validations:     memory.NewValidationRepository(),
		payments:        memory.NewPaymentRepository(),
		inventories:     inventories,
	}
}

func newPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres storage requires SAGA_POSTGRES_DSN")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}
	logger.Info("using postgres storage")

	return &runtimeDependencies{
		orders:          postgres.NewOrderStore(store),
		outboxRepo:      postgres.NewOutboxRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		catalog:         postgres.NewProductCatalog(store),
		validations:     postgres.NewValidationRepository(store),
		payments:        postgres.NewPaymentRepository(store),
		inventories:     postgres.NewInventoryRepository(store),
		probes: []healthcheck.Probe{{
			Name:     "postgres",
			Checker:  healthcheck.CheckerFunc(store.Ping),
			Critical: true,
		}},
		closers: []func() error{store.Close},
	}, nil
}

func (d *runtimeDependencies) attachCatalogCache(ctx context.Context, cfg Config, logger *log.Entry) error {
	client, err := cache.NewClient(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("create redis client: %w", err)
	}
	catalogCache := cache.NewCatalogCache(d.catalog, client,
		cache.WithTTL(cfg.CatalogCacheTTL),
		cache.WithLogger(logger.WithField("component", "catalog-cache")),
	)
	if err := catalogCache.Ping(ctx); err != nil {
		logger.WithError(err).Warn("redis is not reachable, catalog cache falls back to storage")
	}

	d.catalog = catalogCache
	d.probes = append(d.probes, healthcheck.Probe{
		Name:    "redis",
		Checker: healthcheck.CheckerFunc(catalogCache.Ping),
	})
	d.closers = append(d.closers, client.Close)
	return nil
}

// Close освобождает подключения в обратном порядке.
func (d *runtimeDependencies) Close(logger *log.Entry) {
	if d == nil {
		return
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close storage dependency")
		}
	}
	d.closers = nil
}
