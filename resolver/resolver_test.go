package resolver

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-echo/transport"
)

func loopbackProbe() Config {
	cfg := DefaultConfig()
	cfg.ProbeAddr = "127.0.0.1:9"
	return cfg
}

func TestResolver_OutboundIP(t *testing.T) {
	t.Run("returns the address of the interface routing to the probe", func(t *testing.T) {
		r := New(loopbackProbe(), nil, nil)
		addr, err := r.OutboundIP(context.Background())
		require.NoError(t, err)
		assert.Equal(t, netip.MustParseAddr("127.0.0.1"), addr)
	})

	t.Run("unroutable probe returns fallback and ErrUnresolvable", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ProbeAddr = "not-an-address"
		cfg.Fallback = netip.MustParseAddr("10.9.8.7")

		r := New(cfg, nil, nil)
		addr, err := r.OutboundIP(context.Background())
		assert.ErrorIs(t, err, ErrUnresolvable)
		assert.Equal(t, cfg.Fallback, addr)
	})

	t.Run("zero config fields get defaults", func(t *testing.T) {
		r := New(Config{}, nil, nil)
		assert.Equal(t, DefaultProbeAddr, r.cfg.ProbeAddr)
		assert.Equal(t, DefaultFallback, r.cfg.Fallback)
	})

	t.Run("uses the cache when present", func(t *testing.T) {
		c := NewMemoryCache(time.Minute)
		r := New(loopbackProbe(), c, nil)

		_, err := r.OutboundIP(context.Background())
		require.NoError(t, err)

		// A cached value is returned without probing again.
		cached, err := c.GetOrLookup(context.Background(), "outbound:127.0.0.1:9", time.Minute, func(context.Context) (string, error) {
			return "", errors.New("lookup should not run")
		})
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", cached)
	})

	t.Run("unreachable redis falls back to probing, not to the fallback address", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		defer client.Close()
		mr.Close()

		cfg := loopbackProbe()
		cfg.Fallback = netip.MustParseAddr("10.9.8.7")
		r := New(cfg, NewRedisCache(client, "echo:"), nil)

		addr, err := r.OutboundIP(context.Background())
		require.NoError(t, err)
		assert.Equal(t, netip.MustParseAddr("127.0.0.1"), addr)
	})

	t.Run("unreachable redis with no route still returns the fallback", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		defer client.Close()
		mr.Close()

		cfg := DefaultConfig()
		cfg.ProbeAddr = "not-an-address"
		cfg.Fallback = netip.MustParseAddr("10.9.8.7")
		r := New(cfg, NewRedisCache(client, "echo:"), nil)

		addr, err := r.OutboundIP(context.Background())
		assert.ErrorIs(t, err, ErrUnresolvable)
		assert.Equal(t, cfg.Fallback, addr)
	})
}

func TestResolver_Hostname(t *testing.T) {
	name, err := New(DefaultConfig(), nil, nil).Hostname()
	require.NoError(t, err)
	assert.NotEmpty(t, name)
}

func TestAvailablePort(t *testing.T) {
	for _, mode := range []transport.Mode{transport.TCP, transport.UDP} {
		t.Run(string(mode), func(t *testing.T) {
			port, err := AvailablePort(context.Background(), mode)
			require.NoError(t, err)
			assert.NotZero(t, port)

			// The port was released and can be bound.
			b, err := transport.Bind(context.Background(), transport.DefaultConfig(mode, port))
			require.NoError(t, err)
			assert.NoError(t, b.Close())
		})
	}
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()

	t.Run("caches successful lookups", func(t *testing.T) {
		c := NewMemoryCache(time.Minute)
		var calls atomic.Int32
		lookup := func(context.Context) (string, error) {
			calls.Add(1)
			return "192.0.2.1", nil
		}

		for i := 0; i < 3; i++ {
			v, err := c.GetOrLookup(ctx, "k", time.Minute, lookup)
			require.NoError(t, err)
			assert.Equal(t, "192.0.2.1", v)
		}

		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("does not cache failures", func(t *testing.T) {
		c := NewMemoryCache(time.Minute)
		_, err := c.GetOrLookup(ctx, "k", time.Minute, func(context.Context) (string, error) {
			return "", errors.New("no route")
		})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCacheUnavailable)

		v, err := c.GetOrLookup(ctx, "k", time.Minute, func(context.Context) (string, error) {
			return "192.0.2.2", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "192.0.2.2", v)
	})

	t.Run("entries expire after ttl", func(t *testing.T) {
		c := NewMemoryCache(time.Minute)
		_, err := c.GetOrLookup(ctx, "k", 20*time.Millisecond, func(context.Context) (string, error) {
			return "old", nil
		})
		require.NoError(t, err)

		time.Sleep(40 * time.Millisecond)
		v, err := c.GetOrLookup(ctx, "k", time.Minute, func(context.Context) (string, error) {
			return "new", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "new", v)
	})

	t.Run("concurrent misses share one lookup", func(t *testing.T) {
		c := NewMemoryCache(time.Minute)
		var calls atomic.Int32
		release := make(chan struct{})
		lookup := func(context.Context) (string, error) {
			calls.Add(1)
			<-release
			return "192.0.2.3", nil
		}

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := c.GetOrLookup(ctx, "k", time.Minute, lookup)
				assert.NoError(t, err)
				assert.Equal(t, "192.0.2.3", v)
			}()
		}

		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("Forget forces a new lookup", func(t *testing.T) {
		c := NewMemoryCache(time.Minute)
		_, err := c.GetOrLookup(ctx, "k", time.Minute, func(context.Context) (string, error) { return "a", nil })
		require.NoError(t, err)
		require.NoError(t, c.Forget(ctx, "k"))

		v, err := c.GetOrLookup(ctx, "k", time.Minute, func(context.Context) (string, error) { return "b", nil })
		require.NoError(t, err)
		assert.Equal(t, "b", v)
	})
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	t.Run("stores lookups under prefix with ttl", func(t *testing.T) {
		c := NewRedisCache(client, "echo:resolver:")
		v, err := c.GetOrLookup(ctx, "outbound", time.Minute, func(context.Context) (string, error) {
			return "192.0.2.10", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "192.0.2.10", v)

		stored, err := mr.Get("echo:resolver:outbound")
		require.NoError(t, err)
		assert.Equal(t, "192.0.2.10", stored)
		assert.Equal(t, time.Minute, mr.TTL("echo:resolver:outbound"))
	})

	t.Run("second process sees the cached value", func(t *testing.T) {
		first := NewRedisCache(client, "shared:")
		_, err := first.GetOrLookup(ctx, "k", time.Minute, func(context.Context) (string, error) { return "192.0.2.11", nil })
		require.NoError(t, err)

		second := NewRedisCache(client, "shared:")
		v, err := second.GetOrLookup(ctx, "k", time.Minute, func(context.Context) (string, error) {
			return "", errors.New("lookup should not run")
		})
		require.NoError(t, err)
		assert.Equal(t, "192.0.2.11", v)
	})

	t.Run("failures are not stored", func(t *testing.T) {
		c := NewRedisCache(client, "fail:")
		_, err := c.GetOrLookup(ctx, "k", time.Minute, func(context.Context) (string, error) {
			return "", errors.New("no route")
		})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCacheUnavailable)
		assert.False(t, mr.Exists("fail:k"))
	})

	t.Run("Forget deletes the key", func(t *testing.T) {
		c := NewRedisCache(client, "forget:")
		_, err := c.GetOrLookup(ctx, "k", time.Minute, func(context.Context) (string, error) { return "x", nil })
		require.NoError(t, err)
		require.NoError(t, c.Forget(ctx, "k"))
		assert.False(t, mr.Exists("forget:k"))
	})

	t.Run("backend errors surface", func(t *testing.T) {
		broken := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
		defer broken.Close()

		c := NewRedisCache(broken, "x:")
		_, err := c.GetOrLookup(ctx, "k", time.Minute, func(context.Context) (string, error) { return "x", nil })
		assert.ErrorContains(t, err, "redis get error")
		assert.ErrorIs(t, err, ErrCacheUnavailable)
	})
}
