package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type countingCatalog struct {
	mu    sync.Mutex
	codes map[string]bool
	err   error
	calls int
}

func (c *countingCatalog) ExistsByCode(_ context.Context, code string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	return c.codes[code], nil
}

func (c *countingCatalog) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestCache(t *testing.T, next domain.ProductRepository, opts ...CatalogOption) (*CatalogCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCatalogCache(next, client, opts...), mr
}

func TestCatalogCache_HitAfterMiss(t *testing.T) {
	next := &countingCatalog{codes: map[string]bool{"COMIC_BOOKS": true}}
	cache, mr := newTestCache(t, next)
	ctx := context.Background()

	ok, err := cache.ExistsByCode(ctx, "COMIC_BOOKS")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.ExistsByCode(ctx, "COMIC_BOOKS")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, next.callCount())

	assert.True(t, mr.Exists("saga:catalog:COMIC_BOOKS"))
	assert.Equal(t, DefaultTTL, mr.TTL("saga:catalog:COMIC_BOOKS"))
}

func TestCatalogCache_MissingProductIsNotCached(t *testing.T) {
	next := &countingCatalog{codes: map[string]bool{}}
	cache, mr := newTestCache(t, next)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := cache.ExistsByCode(ctx, "UNKNOWN")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, 2, next.callCount())
	assert.False(t, mr.Exists("saga:catalog:UNKNOWN"))
}

func TestCatalogCache_ExpiresAfterTTL(t *testing.T) {
	next := &countingCatalog{codes: map[string]bool{"BOOKS": true}}
	cache, mr := newTestCache(t, next, WithTTL(time.Minute), WithKeyPrefix("test"))
	ctx := context.Background()

	_, err := cache.ExistsByCode(ctx, "BOOKS")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	_, err = cache.ExistsByCode(ctx, "BOOKS")
	require.NoError(t, err)
	assert.Equal(t, 2, next.callCount())
	assert.True(t, mr.Exists("test:BOOKS"))
}

func TestCatalogCache_FallsBackWhenRedisIsDown(t *testing.T) {
	next := &countingCatalog{codes: map[string]bool{"MOVIES": true}}
	cache, mr := newTestCache(t, next)
	mr.Close()

	ok, err := cache.ExistsByCode(context.Background(), "MOVIES")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Error(t, cache.Ping(context.Background()))
}

func TestCatalogCache_PropagatesSourceError(t *testing.T) {
	sourceErr := errors.New("db down")
	cache, _ := newTestCache(t, &countingCatalog{err: sourceErr})

	_, err := cache.ExistsByCode(context.Background(), "MUSIC")
	assert.ErrorIs(t, err, sourceErr)
}

func TestCatalogCache_Invalidate(t *testing.T) {
	next := &countingCatalog{codes: map[string]bool{"MUSIC": true}}
	cache, mr := newTestCache(t, next)
	ctx := context.Background()

	_, err := cache.ExistsByCode(ctx, "MUSIC")
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, "MUSIC"))
	assert.False(t, mr.Exists("saga:catalog:MUSIC"))
	require.NoError(t, cache.Ping(ctx))
}

func TestNewClient(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)

	client, err := NewClient("redis://localhost:6379/1")
	require.NoError(t, err)
	assert.Equal(t, 1, client.Options().DB)

	client, err = NewClient("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", client.Options().Addr)
}
