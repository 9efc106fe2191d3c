// Package cache provides a small key-value cache port with a Redis adapter.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss signals a cache miss, distinct from transport errors.
var ErrMiss = errors.New("cache: miss")

// Cache is a string key-value cache. Implementations must be safe for
// concurrent use.
type Cache interface {
	// Get returns ErrMiss when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value; a non-positive ttl means no expiration.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
