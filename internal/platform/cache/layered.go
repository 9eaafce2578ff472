package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// DefaultL1TTL caps how long the memory layer keeps a value.
const DefaultL1TTL = time.Minute

// LayeredCache implements a two-tier cache (L1: memory, L2: Redis)
type LayeredCache struct {
	l1       Cache // Fast in-memory cache
	l2       Cache // Slower but shared Redis cache
	l1MaxTTL time.Duration
	logger   *slog.Logger
}

// LayeredCacheConfig configures a LayeredCache
type LayeredCacheConfig struct {
	L1       Cache
	L2       Cache
	L1MaxTTL time.Duration
	// Logger receives layer failures that were absorbed by the other layer.
	Logger *slog.Logger
}

// NewLayeredCache creates a new layered cache
func NewLayeredCache(l1, l2 Cache) *LayeredCache {
	return NewLayeredCacheWithConfig(LayeredCacheConfig{L1: l1, L2: l2})
}

// NewLayeredCacheWithLogger creates a layered cache that logs absorbed layer errors
func NewLayeredCacheWithLogger(l1, l2 Cache, logger *slog.Logger) *LayeredCache {
	return NewLayeredCacheWithConfig(LayeredCacheConfig{L1: l1, L2: l2, Logger: logger})
}

// NewLayeredCacheWithConfig creates a layered cache
func NewLayeredCacheWithConfig(cfg LayeredCacheConfig) *LayeredCache {
	if cfg.L1MaxTTL <= 0 {
		cfg.L1MaxTTL = DefaultL1TTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LayeredCache{
		l1:       cfg.L1,
		l2:       cfg.L2,
		l1MaxTTL: cfg.L1MaxTTL,
		logger:   cfg.Logger,
	}
}

// Get retrieves a value from cache (L1 → L2 → miss)
func (lc *LayeredCache) Get(ctx context.Context, key string) ([]byte, error) {
	if lc.l1 != nil {
		val, err := lc.l1.Get(ctx, key)
		if err == nil {
			return val, nil
		}
		if !errors.Is(err, ErrNotFound) {
			lc.logger.Warn("L1 cache get failed, falling back to L2", "key", key, "error", err)
		}
	}

	if lc.l2 != nil {
		val, err := lc.l2.Get(ctx, key)
		if err == nil {
			if lc.l1 != nil {
				_ = lc.l1.Set(ctx, key, val, lc.l1MaxTTL)
			}
			return val, nil
		}
		return nil, err
	}

	return nil, ErrNotFound
}

// Set stores a value in both cache layers
func (lc *LayeredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	var l1Err, l2Err error

	if lc.l1 != nil {
		l1TTL := ttl
		if ttl > lc.l1MaxTTL {
			l1TTL = lc.l1MaxTTL
		}
		l1Err = lc.l1.Set(ctx, key, value, l1TTL, tags...)
	}

	if lc.l2 != nil {
		l2Err = lc.l2.Set(ctx, key, value, ttl, tags...)
	}

	if l1Err != nil && l2Err != nil {
		return l2Err
	}
	if l2Err != nil {
		lc.logger.Warn("L2 cache set failed", "key", key, "error", l2Err)
	}

	return nil
}

// Delete removes a key from both cache layers
func (lc *LayeredCache) Delete(ctx context.Context, key string) error {
	var l1Err, l2Err error

	if lc.l1 != nil {
		l1Err = lc.l1.Delete(ctx, key)
	}

	if lc.l2 != nil {
		l2Err = lc.l2.Delete(ctx, key)
	}

	if l1Err != nil {
		return l1Err
	}
	return l2Err
}

// InvalidateTags drops tagged keys from both layers. L2 hits are
// backfilled into L1 without tags, so every key L2 removed is also deleted
// from L1 by name.
func (lc *LayeredCache) InvalidateTags(ctx context.Context, tags ...string) ([]string, error) {
	var removed []string
	var l1Err, l2Err error

	if lc.l2 != nil {
		removed, l2Err = lc.l2.InvalidateTags(ctx, tags...)
	}

	if lc.l1 != nil {
		for _, key := range removed {
			_ = lc.l1.Delete(ctx, key)
		}
		var fromL1 []string
		fromL1, l1Err = lc.l1.InvalidateTags(ctx, tags...)
		removed = union(removed, fromL1)
	}

	if l2Err != nil {
		return removed, l2Err
	}
	return removed, l1Err
}

// Close closes both cache layers
func (lc *LayeredCache) Close() error {
	var l1Err, l2Err error

	if lc.l1 != nil {
		l1Err = lc.l1.Close()
	}

	if lc.l2 != nil {
		l2Err = lc.l2.Close()
	}

	if l1Err != nil {
		return l1Err
	}
	return l2Err
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, k := range list {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}
