package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	l2cache "github.com/finsage/finsage/pkg/cache"
	"github.com/finsage/finsage/pkg/observability"
)

// Stats is a point-in-time view of cache effectiveness
type Stats struct {
	L1Hits     int64   `json:"l1_hits"`
	L2Hits     int64   `json:"l2_hits"`
	Misses     int64   `json:"misses"`
	L2Errors   int64   `json:"l2_errors"`
	HitRate    float64 `json:"hit_rate"`
	L1Len      int     `json:"l1_len"`
	L1Capacity int     `json:"l1_capacity"`
}

// TieredCache combines a strict-LRU L1 with a persistent L2. L1 writes are
// synchronous; L2 writes are best-effort and asynchronous, so a degraded L2
// only lowers the future hit rate, never the caller's request.
type TieredCache struct {
	l1      *lru.Cache[string, Entry]
	l2      l2cache.Cache
	logger  observability.Logger
	metrics observability.MetricsClient

	l1Size   int
	l1Hits   atomic.Int64
	l2Hits   atomic.Int64
	misses   atomic.Int64
	l2Errors atomic.Int64

	// l2WriteTimeout bounds the detached write goroutine
	l2WriteTimeout time.Duration
}

// NewTieredCache creates the cache. l2 may be nil, leaving a pure in-process
// cache for tests and degraded operation.
func NewTieredCache(l1Size int, l2 l2cache.Cache, logger observability.Logger, metrics observability.MetricsClient) (*TieredCache, error) {
	if l1Size <= 0 {
		l1Size = 2048
	}
	if logger == nil {
		logger = observability.NewLogger("embedding.cache")
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	l1, err := lru.New[string, Entry](l1Size)
	if err != nil {
		return nil, err
	}
	return &TieredCache{
		l1:             l1,
		l2:             l2,
		logger:         logger,
		metrics:        metrics,
		l1Size:         l1Size,
		l2WriteTimeout: 2 * time.Second,
	}, nil
}

// Get looks up a key in L1 then L2, promoting L2 hits into L1
func (c *TieredCache) Get(ctx context.Context, key string) (Entry, bool) {
	now := time.Now()

	if entry, ok := c.l1.Get(key); ok {
		if entry.Expired(now) {
			c.l1.Remove(key)
		} else if keyMatches(key, entry) {
			c.l1Hits.Add(1)
			c.metrics.IncrementCounter("embedding_cache_l1_hits", 1)
			return entry, true
		} else {
			// Provenance mismatch: purge rather than serve the wrong model's vector
			c.l1.Remove(key)
			c.logger.Warn("Evicted inconsistent L1 entry", map[string]interface{}{
				"key":      key,
				"provider": entry.Provider,
				"model":    entry.Model,
			})
		}
	}

	if c.l2 != nil {
		var entry Entry
		err := c.l2.Get(ctx, key, &entry)
		switch {
		case err == nil:
			if !entry.Expired(now) && keyMatches(key, entry) {
				c.l2Hits.Add(1)
				c.metrics.IncrementCounter("embedding_cache_l2_hits", 1)
				c.l1.Add(key, entry)
				return entry, true
			}
		case errors.Is(err, l2cache.ErrNotFound):
			// fall through to miss
		default:
			// L2 trouble is a miss, never a request failure
			c.l2Errors.Add(1)
			c.metrics.IncrementCounter("embedding_cache_l2_errors", 1)
			c.logger.Warn("L2 cache read failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	}

	c.misses.Add(1)
	c.metrics.IncrementCounter("embedding_cache_misses", 1)
	return Entry{}, false
}

// Put stores an entry in L1 synchronously and L2 asynchronously
func (c *TieredCache) Put(entry Entry, ttl time.Duration) {
	now := time.Now()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(ttl)

	c.l1.Add(entry.Key, entry)

	if c.l2 == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.l2WriteTimeout)
		defer cancel()
		if err := c.l2.Set(ctx, entry.Key, entry, ttl); err != nil {
			c.l2Errors.Add(1)
			c.metrics.IncrementCounter("embedding_cache_l2_errors", 1)
			c.logger.Warn("L2 cache write failed", map[string]interface{}{
				"key":   entry.Key,
				"error": err.Error(),
			})
		}
	}()
}

// Stats returns current effectiveness counters
func (c *TieredCache) Stats() Stats {
	l1 := c.l1Hits.Load()
	l2 := c.l2Hits.Load()
	misses := c.misses.Load()

	total := l1 + l2 + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(l1+l2) / float64(total)
	}
	return Stats{
		L1Hits:     l1,
		L2Hits:     l2,
		Misses:     misses,
		L2Errors:   c.l2Errors.Load(),
		HitRate:    hitRate,
		L1Len:      c.l1.Len(),
		L1Capacity: c.l1Size,
	}
}
