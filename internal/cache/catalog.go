package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

const (
	// DefaultTTL - время жизни записи о товаре в кэше.
	DefaultTTL = 5 * time.Minute
	// DefaultKeyPrefix - префикс ключей каталога.
	DefaultKeyPrefix = "saga:catalog"

	presentMarker = "1"
)

var catalogLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "saga_catalog_cache_lookups_total",
	Help: "Product catalog lookups grouped by cache result.",
}, []string{"result"})

// CatalogOption настраивает CatalogCache.
type CatalogOption func(*CatalogCache)

// WithKeyPrefix задаёт префикс ключей.
func WithKeyPrefix(prefix string) CatalogOption {
	return func(c *CatalogCache) { c.keyPrefix = prefix }
}

// WithTTL задаёт время жизни записи.
func WithTTL(ttl time.Duration) CatalogOption {
	return func(c *CatalogCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) CatalogOption {
	return func(c *CatalogCache) { c.logger = logger }
}

// CatalogCache кэширует в Redis положительные ответы справочника товаров.
// Отсутствующие товары всегда проверяются в источнике. Ошибки Redis не
// прерывают проверку: запрос уходит в источник.
type CatalogCache struct {
	next      domain.ProductRepository
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
	logger    *log.Entry
}

// NewCatalogCache оборачивает справочник next кэшем в Redis.
func NewCatalogCache(next domain.ProductRepository, client redis.Cmdable, opts ...CatalogOption) *CatalogCache {
	c := &CatalogCache{
		next:      next,
		client:    client,
		keyPrefix: DefaultKeyPrefix,
		ttl:       DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.WithField("component", "catalog-cache")
	}
	return c
}

// NewClient создаёт Redis-клиент по адресу host:port или redis:// URL.
func NewClient(addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	if options, err := redis.ParseURL(addr); err == nil {
		return redis.NewClient(options), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

func (c *CatalogCache) key(code string) string {
	if c.keyPrefix == "" {
		return code
	}
	return c.keyPrefix + ":" + code
}

// ExistsByCode реализует domain.ProductRepository.
func (c *CatalogCache) ExistsByCode(ctx context.Context, code string) (bool, error) {
	key := c.key(code)

	val, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil && val == presentMarker:
		catalogLookups.WithLabelValues("hit").Inc()
		return true, nil
	case err != nil && !errors.Is(err, redis.Nil):
		catalogLookups.WithLabelValues("error").Inc()
		c.logger.WithError(err).WithField("product_code", code).Warn("catalog cache read failed")
	default:
		catalogLookups.WithLabelValues("miss").Inc()
	}

	exists, err := c.next.ExistsByCode(ctx, code)
	if err != nil {
		return false, err
	}
	if exists {
		if err := c.client.Set(ctx, key, presentMarker, c.ttl).Err(); err != nil {
			c.logger.WithError(err).WithField("product_code", code).Warn("catalog cache write failed")
		}
	}
	return exists, nil
}

// Invalidate удаляет запись о товаре из кэша.
func (c *CatalogCache) Invalidate(ctx context.Context, code string) error {
	if err := c.client.Del(ctx, c.key(code)).Err(); err != nil {
		return fmt.Errorf("invalidate %s: %w", code, err)
	}
	return nil
}

// Ping проверяет доступность Redis; используется health checker'ом.
func (c *CatalogCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

var _ domain.ProductRepository = (*CatalogCache)(nil)
