package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keeps resolved parts in Redis so hot lookups skip the catalog store.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func partKey(id int64) string {
	return fmt.Sprintf("catalog:part:%d", id)
}

// Get returns a cached part, with ok=false on miss or any cache error. Cache
// failures never fail a lookup.
func (c *Cache) Get(ctx context.Context, id int64) (Part, bool) {
	if c == nil || c.client == nil {
		return Part{}, false
	}
	raw, err := c.client.Get(ctx, partKey(id)).Bytes()
	if err != nil {
		return Part{}, false
	}
	var p Part
	if err := json.Unmarshal(raw, &p); err != nil {
		return Part{}, false
	}
	return p, true
}

// Set stores a resolved part with the configured TTL.
func (c *Cache) Set(ctx context.Context, p Part) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, partKey(p.ID), raw, c.ttl).Err()
}

// Invalidate drops a cached part, used when upstream announces a price change.
func (c *Cache) Invalidate(ctx context.Context, id int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, partKey(id)).Err()
}
