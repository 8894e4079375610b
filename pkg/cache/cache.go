package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// ResponseCache is the interface shared by the memory and redis backends.
// Cache misses are reported as ErrCacheMiss, never as a hard failure.
type ResponseCache interface {
	// Get retrieves a cache entry by key. Returns ErrCacheMiss if the key
	// doesn't exist or the entry has expired.
	Get(ctx context.Context, key Key) (*Entry, error)

	// Set stores a cache entry. Entries that are already expired are
	// silently dropped.
	Set(ctx context.Context, key Key, entry *Entry) error

	// Delete removes a cache entry. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// RefreshExpiry extends an entry's lifetime without re-storing the
	// body. Used after a 304 Not Modified response.
	RefreshExpiry(ctx context.Context, key Key, newExpires time.Time) error
}

// Config holds the cache configuration.
type Config struct {
	// Enabled toggles caching. A disabled cache still satisfies the
	// ResponseCache interface and reports every Get as a miss.
	Enabled bool

	// TTL is the fallback entry lifetime when a response carries no
	// freshness information. Default: 60s.
	TTL time.Duration

	// MaxEntries bounds the memory backend. When full, the
	// least-recently-accessed entry is evicted. Default: 1000.
	MaxEntries int

	// Storage selects the backend: "memory" (default) or "redis".
	Storage string

	// SweepInterval enables a background sweep of expired entries in the
	// memory backend. Zero disables the sweep; expiry is then purely lazy,
	// which means entry counts can transiently overcount until the next
	// access. Only relevant for exact accounting.
	SweepInterval time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		TTL:        60 * time.Second,
		MaxEntries: 1000,
		Storage:    StorageMemory,
	}
}

// New creates a cache for the configured storage backend.
// The redis client is only required for Storage == "redis".
func New(cfg Config, redisClient *redis.Client) (ResponseCache, error) {
	if !cfg.Enabled {
		return disabledCache{}, nil
	}

	switch cfg.Storage {
	case "", StorageMemory:
		return NewMemory(cfg)
	case StorageRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis client is required for storage %q", cfg.Storage)
		}
		return NewRedis(redisClient), nil
	default:
		return nil, fmt.Errorf("unknown cache storage %q", cfg.Storage)
	}
}

// disabledCache is the no-op backend used when caching is turned off.
type disabledCache struct{}

func (disabledCache) Get(context.Context, Key) (*Entry, error)          { return nil, ErrCacheMiss }
func (disabledCache) Set(context.Context, Key, *Entry) error            { return nil }
func (disabledCache) Delete(context.Context, Key) error                 { return nil }
func (disabledCache) Clear(context.Context) error                      { return nil }
func (disabledCache) RefreshExpiry(context.Context, Key, time.Time) error { return nil }
