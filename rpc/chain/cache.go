package chain

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/status-im/status-connect/metrics"
	"github.com/status-im/status-connect/params"
)

const (
	cacheHit    = "hit"
	cacheMiss   = "miss"
	cacheShared = "shared"
)

type Executor func(ctx context.Context) (json.RawMessage, error)

// RequestCache serves identical requests from a short lived cache and
// coalesces concurrent identical requests into a single execution. Errors
// are never cached.
type RequestCache struct {
	cache      *ttlcache.Cache[string, json.RawMessage]
	group      singleflight.Group
	maxEntries int
	stopOnce   sync.Once
}

func NewRequestCache(cfg params.CacheConfig) *RequestCache {
	cache := ttlcache.New[string, json.RawMessage](
		ttlcache.WithTTL[string, json.RawMessage](cfg.TTL.Duration),
		ttlcache.WithDisableTouchOnHit[string, json.RawMessage](),
	)
	go cache.Start()

	return &RequestCache{
		cache:      cache,
		maxEntries: cfg.MaxEntries,
	}
}

// CacheKey is method + ":" + the JSON encoding of params.
func CacheKey(method string, params []interface{}) (string, error) {
	if params == nil {
		params = []interface{}{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return method + ":" + string(data), nil
}

func (c *RequestCache) GetCachedOrExecute(ctx context.Context, method string, params []interface{}, executor Executor) (json.RawMessage, error) {
	key, err := CacheKey(method, params)
	if err != nil {
		// not representable as a key, run uncached
		return executor(ctx)
	}

	if item := c.cache.Get(key); item != nil {
		metrics.RPCCache(cacheHit)
		return item.Value(), nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		res, err := executor(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.set(key, res)
		return res, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.RPCCache(cacheShared)
		} else {
			metrics.RPCCache(cacheMiss)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(json.RawMessage), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *RequestCache) set(key string, value json.RawMessage) {
	c.cache.Set(key, value, ttlcache.DefaultTTL)
	if c.maxEntries > 0 && c.cache.Len() > c.maxEntries {
		c.evictOldest(c.cache.Len() / 4)
	}
}

// evictOldest removes the n entries closest to expiry, which are the oldest
// ones as all entries share the same TTL.
func (c *RequestCache) evictOldest(n int) {
	items := c.cache.Items()
	type entry struct {
		key       string
		expiresAt time.Time
	}
	entries := make([]entry, 0, len(items))
	for key, item := range items {
		entries = append(entries, entry{key: key, expiresAt: item.ExpiresAt()})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].expiresAt.Before(entries[j].expiresAt)
	})
	for i := 0; i < n && i < len(entries); i++ {
		c.cache.Delete(entries[i].key)
	}
}

func (c *RequestCache) Len() int {
	return c.cache.Len()
}

func (c *RequestCache) Clear() {
	c.cache.DeleteAll()
}

// Stop ends the expiration loop. It is idempotent.
func (c *RequestCache) Stop() {
	c.stopOnce.Do(c.cache.Stop)
}
