package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// Metrics is a point-in-time snapshot of the memory cache counters.
type Metrics struct {
	Hits        uint64
	Misses      uint64
	Entries     int
	MaxEntries  int
	MemoryBytes int64

	// HitRatio is hits / (hits + misses), 0 when no lookups occurred.
	HitRatio float64
}

// Memory is a bounded in-process LRU cache.
//
// The entry map, recency list and size counters form one logical unit and
// are mutated under a single mutex, so concurrent Get/Set/Delete calls are
// safe and per-key atomic.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front = most recently accessed
	cfg     Config

	hits        uint64
	misses      uint64
	memoryBytes int64

	stopSweep chan struct{}
	sweepOnce sync.Once
}

type memoryItem struct {
	key   string
	entry *Entry
}

// NewMemory creates a bounded in-memory cache.
// Misuse (negative TTL, non-positive entry limit) fails fast here; runtime
// operations never fail for ordinary misses.
func NewMemory(cfg Config) (*Memory, error) {
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("cache TTL must not be negative (got %v)", cfg.TTL)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if cfg.MaxEntries < 0 {
		return nil, fmt.Errorf("cache max entries must be positive (got %d)", cfg.MaxEntries)
	}

	m := &Memory{
		entries:   make(map[string]*list.Element),
		lru:       list.New(),
		cfg:       cfg,
		stopSweep: make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		go m.sweepLoop(cfg.SweepInterval)
	}

	return m, nil
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or the entry has expired.
// Expired entries are purged on access. Every call counts as a hit or miss.
func (m *Memory) Get(_ context.Context, key Key) (*Entry, error) {
	k := key.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[k]
	if !ok {
		m.misses++
		CacheMisses.WithLabelValues("memory").Inc()
		return nil, ErrCacheMiss
	}

	item := el.Value.(*memoryItem)
	if item.entry.IsExpired() {
		m.removeElement(el)
		m.misses++
		CacheMisses.WithLabelValues("memory").Inc()
		return nil, ErrCacheMiss
	}

	// Refresh recency
	m.lru.MoveToFront(el)
	m.hits++
	CacheHits.WithLabelValues("memory").Inc()

	return item.entry, nil
}

// Set stores a cache entry. If the key is new and the cache is full, the
// least-recently-accessed entry is evicted first. Replacing an existing key
// refreshes its recency without affecting the entry count.
func (m *Memory) Set(_ context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if entry.TTL() <= 0 {
		// Already expired, don't cache
		return nil
	}

	k := key.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[k]; ok {
		item := el.Value.(*memoryItem)
		m.memoryBytes += entry.Size() - item.entry.Size()
		item.entry = entry
		m.lru.MoveToFront(el)
		return nil
	}

	if m.lru.Len() >= m.cfg.MaxEntries {
		m.evictOldest()
	}

	el := m.lru.PushFront(&memoryItem{key: k, entry: entry})
	m.entries[k] = el
	m.memoryBytes += entry.Size()
	CacheEntries.WithLabelValues("memory").Set(float64(m.lru.Len()))

	return nil
}

// Delete removes a cache entry. Deleting a missing key is not an error.
func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key.String()]; ok {
		m.removeElement(el)
	}
	return nil
}

// Clear removes all entries.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*list.Element)
	m.lru.Init()
	m.memoryBytes = 0
	CacheEntries.WithLabelValues("memory").Set(0)
	return nil
}

// RefreshExpiry extends an entry's lifetime without re-storing the body.
// Used after a 304 Not Modified response confirms the entry is still fresh.
func (m *Memory) RefreshExpiry(_ context.Context, key Key, newExpires time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key.String()]
	if !ok {
		return ErrCacheMiss
	}

	item := el.Value.(*memoryItem)
	item.entry.Expires = newExpires
	m.lru.MoveToFront(el)
	return nil
}

// Keys returns all cache keys currently stored, including entries that have
// expired but not yet been purged. Callers use this for pattern-based
// invalidation via DeleteFunc or Delete.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

// DeleteFunc removes every entry whose key string matches the predicate.
// Returns the number of entries removed.
func (m *Memory) DeleteFunc(match func(key string) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, el := range m.entries {
		if match(k) {
			m.removeElement(el)
			removed++
		}
	}
	return removed
}

// Metrics returns a snapshot of the cache counters.
func (m *Memory) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Metrics{
		Hits:        m.hits,
		Misses:      m.misses,
		Entries:     m.lru.Len(),
		MaxEntries:  m.cfg.MaxEntries,
		MemoryBytes: m.memoryBytes,
	}
	if total := m.hits + m.misses; total > 0 {
		snap.HitRatio = float64(m.hits) / float64(total)
	}
	return snap
}

// Close stops the background sweep, if one was configured.
func (m *Memory) Close() error {
	m.sweepOnce.Do(func() { close(m.stopSweep) })
	return nil
}

// evictOldest removes the least-recently-accessed entry.
// Caller must hold the mutex.
func (m *Memory) evictOldest() {
	if el := m.lru.Back(); el != nil {
		m.removeElement(el)
		CacheEvictions.Inc()
	}
}

// removeElement removes an entry from the map and the recency list.
// Caller must hold the mutex.
func (m *Memory) removeElement(el *list.Element) {
	item := el.Value.(*memoryItem)
	m.lru.Remove(el)
	delete(m.entries, item.key)
	m.memoryBytes -= item.entry.Size()
	CacheEntries.WithLabelValues("memory").Set(float64(m.lru.Len()))
}

// sweepLoop periodically removes expired entries so that entry counts do
// not overcount between accesses.
func (m *Memory) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepExpired()
		case <-m.stopSweep:
			return
		}
	}
}

func (m *Memory) sweepExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, el := range m.entries {
		if el.Value.(*memoryItem).entry.IsExpired() {
			m.removeElement(el)
		}
	}
}
