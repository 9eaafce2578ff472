// Package cache is the shared response tier consulted on cold misses. It
// holds encoded authoritative API responses and drops them by tag when the
// resources they contain change.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is not found in cache
	ErrNotFound = errors.New("cache: key not found")
)

// Cache defines the interface for cache operations
type Cache interface {
	// Get retrieves a value from cache
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with TTL, indexed under the given tags
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error

	// Delete removes a key from cache
	Delete(ctx context.Context, key string) error

	// InvalidateTags removes every key stored under any of the tags and
	// returns the removed keys
	InvalidateTags(ctx context.Context, tags ...string) ([]string, error)

	// Close closes the cache connection
	Close() error
}
