// Package cache provides bounded response caching for GitHub API calls
// with ETag/Last-Modified support for conditional requests.
//
// Two storage backends are available:
//
//   - Memory: a bounded in-process LRU cache. When the entry limit is
//     reached, the least-recently-accessed entry is evicted. Expired
//     entries are purged lazily on access.
//   - Redis: a shared cache for multi-process deployments, with TTL
//     management delegated to Redis.
//
// # Basic Usage
//
//	store, err := cache.New(cache.Config{
//		TTL:        60 * time.Second,
//		MaxEntries: 1000,
//	}, nil)
//	if err != nil {
//		return err
//	}
//
//	key := cache.Key{
//		Method: "GET",
//		Path:   "/repos/octocat/hello-world",
//	}
//
//	entry, err := store.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// fetch from the API
//	}
//
// # HTTP Response Caching
//
//	entry, err := cache.ResponseToEntry(resp, defaultTTL)
//	if err != nil {
//		return err
//	}
//	if err := store.Set(ctx, key, entry); err != nil {
//		return err
//	}
//
// # Conditional Requests
//
//	if cache.ShouldMakeConditionalRequest(entry) {
//		cache.AddConditionalHeaders(req, entry)
//		// the API returns 304 if the resource is unchanged
//	}
//
// On a 304 Not Modified, call RefreshExpiry to extend the entry's lifetime
// without re-storing the body.
//
// # Invalidation
//
// Invalidation is push-based. Time-based expiry is always active. Callers
// invalidate a specific key after a mutating call with Delete, and can
// perform tag/pattern invalidation against the memory backend with
// DeleteFunc or by filtering Keys.
//
// # Metrics
//
// The package exports Prometheus metrics:
//
//   - ghub_cache_hits_total{layer} - Cache hits
//   - ghub_cache_misses_total{layer} - Cache misses
//   - ghub_cache_evictions_total - LRU evictions (memory layer)
//   - ghub_cache_entries{layer} - Current number of entries
//   - ghub_cache_errors_total{operation} - Cache operation errors
package cache
