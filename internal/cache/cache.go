// Package cache holds completed entity results between requests.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rpattn/entityapi/internal/domain"
)

// ErrMiss is returned by Get when the key is not cached.
var ErrMiss = errors.New("cache miss")

// Key prefixes for the two completed-result scopes.
const (
	PrefixComplete      = "complete_"
	PrefixCompleteIndex = "complete_index_"
)

// Cache is a concurrency-safe key/value store for completed entity records.
// Implementations copy values on the way in and out.
type Cache interface {
	Get(ctx context.Context, key string) (domain.Record, error)
	Set(ctx context.Context, key string, value domain.Record, ttl time.Duration) error
	DeleteMany(ctx context.Context, keys []string) error
}

// CompleteKey is the cache key of an entity's completed response result.
func CompleteKey(uuid string) string {
	return PrefixComplete + uuid
}

// CompleteIndexKey is the cache key of an entity's completed index result.
func CompleteIndexKey(uuid string) string {
	return PrefixCompleteIndex + uuid
}

// EntityKeys returns every key cached for the given entities.
func EntityKeys(uuids ...string) []string {
	keys := make([]string, 0, 2*len(uuids))
	for _, id := range uuids {
		keys = append(keys, CompleteKey(id), CompleteIndexKey(id))
	}
	return keys
}
