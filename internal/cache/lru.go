package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/rpattn/entityapi/internal/domain"
)

// LRU is an in-process cache with a fixed size and a single expiry applied to
// every entry.
type LRU struct {
	entries *expirable.LRU[string, domain.Record]
}

var _ Cache = (*LRU)(nil)

// NewLRU creates an LRU cache holding at most size entries for ttl each.
func NewLRU(size int, ttl time.Duration) *LRU {
	if size <= 0 {
		size = 1024
	}
	return &LRU{entries: expirable.NewLRU[string, domain.Record](size, nil, ttl)}
}

// Get returns a copy of the cached record.
func (c *LRU) Get(_ context.Context, key string) (domain.Record, error) {
	value, ok := c.entries.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	return value.DeepClone(), nil
}

// Set stores a copy of value. The per-call ttl is ignored; entries expire
// after the ttl the cache was built with.
func (c *LRU) Set(_ context.Context, key string, value domain.Record, _ time.Duration) error {
	c.entries.Add(key, value.DeepClone())
	return nil
}

// DeleteMany removes keys.
func (c *LRU) DeleteMany(_ context.Context, keys []string) error {
	for _, key := range keys {
		c.entries.Remove(key)
	}
	return nil
}

// Len reports the number of live entries.
func (c *LRU) Len() int {
	return c.entries.Len()
}
