package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCacheEntries bounds the in-process LRU tier
	DefaultCacheEntries = 256
	// DefaultCacheMaxObjectSize keeps oversized blobs out of both tiers
	DefaultCacheMaxObjectSize = 4 << 20
	// DefaultCacheTTL bounds how long Redis holds a blob
	DefaultCacheTTL = 1 * time.Hour
)

// CacheObserver receives hit/miss signals per cache tier
type CacheObserver interface {
	ObserveCache(tier string, hit bool)
}

// ContentCache fronts blob reads with an in-process LRU and an optional
// shared Redis tier. Entries are keyed by content hash, so a cached blob can
// never be stale; entries are only evicted, expired, or purged on quarantine.
type ContentCache struct {
	local    *lru.Cache[string, []byte]
	redis    *redis.Client
	ttl      time.Duration
	maxSize  int
	observer CacheObserver
}

// ContentCacheOption configures a ContentCache
type ContentCacheOption func(*ContentCache)

// WithRedis adds a shared Redis tier behind the in-process LRU
func WithRedis(client *redis.Client) ContentCacheOption {
	return func(c *ContentCache) { c.redis = client }
}

// WithCacheTTL overrides the Redis entry lifetime
func WithCacheTTL(ttl time.Duration) ContentCacheOption {
	return func(c *ContentCache) { c.ttl = ttl }
}

// WithMaxObjectSize overrides the largest blob size the cache will hold
func WithMaxObjectSize(size int) ContentCacheOption {
	return func(c *ContentCache) { c.maxSize = size }
}

// WithCacheObserver wires cache hit/miss metrics
func WithCacheObserver(observer CacheObserver) ContentCacheOption {
	return func(c *ContentCache) { c.observer = observer }
}

// NewContentCache creates a content-addressed blob cache holding up to
// entries blobs in process
func NewContentCache(entries int, opts ...ContentCacheOption) (*ContentCache, error) {
	if entries <= 0 {
		entries = DefaultCacheEntries
	}
	local, err := lru.New[string, []byte](entries)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	cache := &ContentCache{
		local:   local,
		ttl:     DefaultCacheTTL,
		maxSize: DefaultCacheMaxObjectSize,
	}
	for _, opt := range opts {
		opt(cache)
	}
	return cache, nil
}

func (c *ContentCache) observe(tier string, hit bool) {
	if c.observer != nil {
		c.observer.ObserveCache(tier, hit)
	}
}

func cacheKey(hash string) string {
	return fmt.Sprintf("curio:blob:%s", hash)
}

// Get returns the cached blob for hash, promoting Redis hits into the
// in-process tier
func (c *ContentCache) Get(ctx context.Context, hash string) ([]byte, bool) {
	if data, ok := c.local.Get(hash); ok {
		c.observe("local", true)
		return data, true
	}
	c.observe("local", false)

	if c.redis == nil {
		return nil, false
	}

	data, err := c.redis.Get(ctx, cacheKey(hash)).Bytes()
	if err != nil {
		c.observe("redis", false)
		return nil, false
	}
	c.observe("redis", true)
	c.local.Add(hash, data)
	return data, true
}

// Set stores the blob in both tiers. Oversized blobs are skipped; cache
// failures are silent because the backend remains authoritative.
func (c *ContentCache) Set(ctx context.Context, hash string, data []byte) {
	if len(data) > c.maxSize {
		return
	}

	c.local.Add(hash, data)
	if c.redis != nil {
		c.redis.Set(ctx, cacheKey(hash), data, c.ttl)
	}
}

// Invalidate drops the blob from both tiers, used when an object is
// quarantined or reclaimed
func (c *ContentCache) Invalidate(ctx context.Context, hash string) {
	c.local.Remove(hash)
	if c.redis != nil {
		c.redis.Del(ctx, cacheKey(hash))
	}
}
