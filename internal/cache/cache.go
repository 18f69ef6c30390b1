// Package cache keeps recently merged documents in Redis, keyed by a hash of
// the normalized request, so identical requests skip the download and merge.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"example.com/pdf-fusion/internal/merge"
	"example.com/pdf-fusion/pkg/metrics"
	"example.com/pdf-fusion/pkg/redis"
)

// Store is the subset of the Redis client the cache uses.
type Store interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Entry is one cached merge.
type Entry struct {
	Filename string `json:"filename"`
	Pages    int    `json:"pages"`
	PDF      []byte `json:"pdf"`
}

// Cache is a size-capped, TTL-bound result cache. A nil *Cache never hits.
type Cache struct {
	store    Store
	ttl      time.Duration
	maxBytes int64
	metrics  *metrics.Metrics
	group    singleflight.Group
	logger   *slog.Logger
}

// New creates a Cache. Documents larger than maxBytes are never stored.
func New(store Store, ttl time.Duration, maxBytes int64, m *metrics.Metrics) *Cache {
	return &Cache{
		store:    store,
		ttl:      ttl,
		maxBytes: maxBytes,
		metrics:  m,
		logger:   slog.Default().With("component", "cache"),
	}
}

// Key hashes a validated request. Equal requests give equal keys.
func Key(req *merge.Request) string {
	b, _ := json.Marshal(req)
	sum := sha256.Sum256(b)
	return "pdf-fusion:merge:" + hex.EncodeToString(sum[:])
}

// Get returns the cached entry for key. Store errors count as misses.
// Concurrent lookups of the same key share one store read.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool) {
	if c == nil {
		return nil, false
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.store.GetBytes(ctx, key)
	})
	if err != nil {
		if !redis.IsNilError(err) {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
		c.metrics.CacheResult(false)
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(v.([]byte), &e); err != nil {
		c.logger.Warn("cache entry unreadable", "key", key, "error", err)
		c.metrics.CacheResult(false)
		return nil, false
	}
	c.metrics.CacheResult(true)
	return &e, true
}

// Fits reports whether a document of size bytes may be cached.
func (c *Cache) Fits(size int64) bool {
	return c != nil && (c.maxBytes <= 0 || size <= c.maxBytes)
}

// Put stores e under key. Failures are logged and otherwise ignored.
func (c *Cache) Put(ctx context.Context, key string, e Entry) {
	if !c.Fits(int64(len(e.PDF))) {
		return
	}
	raw, err := json.Marshal(e)
	if err != nil {
		c.logger.Warn("cache entry encode failed", "key", key, "error", err)
		return
	}
	if err := c.store.SetBytes(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
		return
	}
	c.logger.Debug("merge cached", "key", key, "bytes", len(e.PDF), "ttl", c.ttl)
}
