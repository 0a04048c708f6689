package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ErrCacheUnavailable wraps failures of the cache backend itself, as opposed
// to failures of the lookup.
var ErrCacheUnavailable = errors.New("address cache unavailable")

// LookupFunc performs the uncached lookup on a cache miss.
type LookupFunc func(ctx context.Context) (string, error)

// AddressCache stores the results of address lookups for a limited time.
// Implementations must not store a value when the lookup fails.
type AddressCache interface {
	// GetOrLookup returns the cached value for key, or runs lookup and caches
	// its result for ttl.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: The cache key
	//   - ttl: Time-to-live for a freshly looked-up value
	//   - lookup: Function called on a cache miss
	//
	// Returns:
	//   - The cached or looked-up value
	//   - An error if the lookup fails, or one wrapping ErrCacheUnavailable
	//     if the backend fails
	GetOrLookup(ctx context.Context, key string, ttl time.Duration, lookup LookupFunc) (string, error)

	// Forget drops key so the next GetOrLookup runs the lookup again.
	Forget(ctx context.Context, key string) error
}

// memoryCache keeps lookups in process memory. Concurrent misses for the same
// key share a single lookup.
type memoryCache struct {
	cache *cache.Cache
	group singleflight.Group
}

// NewMemoryCache returns an in-process AddressCache.
//
// Parameters:
//   - cleanupInterval: How often expired entries are purged
//
// Returns:
//   - An AddressCache backed by go-cache
func NewMemoryCache(cleanupInterval time.Duration) AddressCache {
	return &memoryCache{
		cache: cache.New(cache.NoExpiration, cleanupInterval),
	}
}

func (c *memoryCache) GetOrLookup(ctx context.Context, key string, ttl time.Duration, lookup LookupFunc) (string, error) {
	if v, found := c.cache.Get(key); found {
		return v.(string), nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, found := c.cache.Get(key); found {
			return v.(string), nil
		}

		value, err := lookup(ctx)
		if err != nil {
			return "", err
		}

		c.cache.Set(key, value, ttl)
		return value, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

func (c *memoryCache) Forget(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.cache.Delete(key)
	return nil
}

// redisCache shares lookups between processes on the same host through Redis.
type redisCache struct {
	client redis.UniversalClient
	prefix string
	group  singleflight.Group
}

// NewRedisCache returns an AddressCache stored in Redis under prefix.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	c := NewRedisCache(client, "echo:resolver:")
func NewRedisCache(client redis.UniversalClient, prefix string) AddressCache {
	return &redisCache{client: client, prefix: prefix}
}

func (c *redisCache) GetOrLookup(ctx context.Context, key string, ttl time.Duration, lookup LookupFunc) (string, error) {
	fullKey := c.prefix + key

	val, err := c.client.Get(ctx, fullKey).Result()
	if err == nil {
		return val, nil
	}

	if !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: redis get error: %w", ErrCacheUnavailable, err)
	}

	v, err, _ := c.group.Do(fullKey, func() (interface{}, error) {
		value, err := lookup(ctx)
		if err != nil {
			return "", err
		}

		if err := c.client.Set(ctx, fullKey, value, ttl).Err(); err != nil {
			return "", fmt.Errorf("%w: redis set error: %w", ErrCacheUnavailable, err)
		}

		return value, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

func (c *redisCache) Forget(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: redis del error: %w", ErrCacheUnavailable, err)
	}

	return nil
}
