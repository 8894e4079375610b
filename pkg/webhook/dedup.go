package webhook

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupStore records seen delivery ids for replay protection.
type DedupStore interface {
	// CheckAndInsert atomically records a delivery id. Returns true if the
	// id was new (the caller proceeds), false if it was already seen
	// within the retention window. Two concurrent calls with the same id
	// must resolve to exactly one true.
	CheckAndInsert(ctx context.Context, deliveryID string) (bool, error)
}

// DedupConfig bounds the dedup store.
type DedupConfig struct {
	// Retention is how long a delivery id stays known. Ids older than
	// this are re-admitted as new. Default: 24h.
	Retention time.Duration

	// MaxEntries bounds the memory store; the oldest id is dropped when
	// full, which likewise re-admits it early. Default: 10000.
	MaxEntries int
}

// DefaultDedupConfig returns the default dedup bounds.
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{
		Retention:  24 * time.Hour,
		MaxEntries: 10000,
	}
}

// MemoryDedupStore is an in-process dedup store bounded by time and count.
// The check-and-insert runs under a single mutex, so it is atomic with
// respect to concurrent deliveries.
type MemoryDedupStore struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // front = oldest, for first-seen eviction
	cfg     DedupConfig
	now     func() time.Time
}

type dedupRecord struct {
	deliveryID  string
	firstSeenAt time.Time
}

// NewMemoryDedupStore creates a bounded in-memory dedup store.
func NewMemoryDedupStore(cfg DedupConfig) *MemoryDedupStore {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultDedupConfig().Retention
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultDedupConfig().MaxEntries
	}
	return &MemoryDedupStore{
		seen:  make(map[string]*list.Element),
		order: list.New(),
		cfg:   cfg,
		now:   time.Now,
	}
}

// CheckAndInsert implements DedupStore.
func (s *MemoryDedupStore) CheckAndInsert(_ context.Context, deliveryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if el, ok := s.seen[deliveryID]; ok {
		rec := el.Value.(*dedupRecord)
		if now.Sub(rec.firstSeenAt) < s.cfg.Retention {
			return false, nil
		}
		// Past retention: the id is re-admitted as new
		rec.firstSeenAt = now
		s.order.MoveToBack(el)
		return true, nil
	}

	// Drop expired records from the front before applying the count bound
	for el := s.order.Front(); el != nil; {
		rec := el.Value.(*dedupRecord)
		if now.Sub(rec.firstSeenAt) < s.cfg.Retention {
			break
		}
		next := el.Next()
		s.order.Remove(el)
		delete(s.seen, rec.deliveryID)
		el = next
	}

	if s.order.Len() >= s.cfg.MaxEntries {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.seen, oldest.Value.(*dedupRecord).deliveryID)
	}

	el := s.order.PushBack(&dedupRecord{deliveryID: deliveryID, firstSeenAt: now})
	s.seen[deliveryID] = el
	return true, nil
}

// Len returns the number of delivery ids currently retained.
func (s *MemoryDedupStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// RedisDedupStore shares replay protection across processes using SET NX,
// which makes the check-and-insert atomic on the Redis server.
type RedisDedupStore struct {
	client    *redis.Client
	retention time.Duration
}

const redisDedupPrefix = "ghook:delivery:"

// NewRedisDedupStore creates a dedup store backed by Redis.
func NewRedisDedupStore(client *redis.Client, retention time.Duration) *RedisDedupStore {
	if retention <= 0 {
		retention = DefaultDedupConfig().Retention
	}
	return &RedisDedupStore{client: client, retention: retention}
}

// CheckAndInsert implements DedupStore.
func (s *RedisDedupStore) CheckAndInsert(ctx context.Context, deliveryID string) (bool, error) {
	inserted, err := s.client.SetNX(ctx, redisDedupPrefix+deliveryID, 1, s.retention).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return inserted, nil
}
