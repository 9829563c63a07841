package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/rpattn/entityapi/internal/domain"
)

// Memcached stores completed records as JSON in memcached.
type Memcached struct {
	client *memcache.Client
	prefix string
}

var _ Cache = (*Memcached)(nil)

// MemcachedOption configures a Memcached cache.
type MemcachedOption func(*Memcached)

// WithKeyPrefix namespaces every key, so several deployments can share
// one memcached cluster.
func WithKeyPrefix(prefix string) MemcachedOption {
	return func(m *Memcached) {
		m.prefix = prefix
	}
}

// WithTimeout sets the socket read/write timeout.
func WithTimeout(timeout time.Duration) MemcachedOption {
	return func(m *Memcached) {
		if timeout > 0 {
			m.client.Timeout = timeout
		}
	}
}

// NewMemcached creates a cache backed by the given memcached servers.
func NewMemcached(servers []string, opts ...MemcachedOption) (*Memcached, error) {
	if len(servers) == 0 {
		return nil, errors.New("at least one memcached server is required")
	}
	m := &Memcached{client: memcache.New(servers...)}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Get returns the cached record. Integral numbers come back as int64.
func (m *Memcached) Get(_ context.Context, key string) (domain.Record, error) {
	item, err := m.client.Get(m.prefix + key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from memcached: %w", key, err)
	}

	record, err := domain.DecodeRecord(item.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return record, nil
}

// Set stores value for ttl, rounded down to whole seconds.
func (m *Memcached) Set(_ context.Context, key string, value domain.Record, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s for memcached: %w", key, err)
	}
	item := &memcache.Item{
		Key:        m.prefix + key,
		Value:      data,
		Expiration: int32(ttl / time.Second),
	}
	if err := m.client.Set(item); err != nil {
		return fmt.Errorf("failed to set %s in memcached: %w", key, err)
	}
	return nil
}

// DeleteMany removes keys. Keys that are not cached are ignored.
func (m *Memcached) DeleteMany(_ context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		err := m.client.Delete(m.prefix + key)
		if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			errs = append(errs, fmt.Errorf("failed to delete %s from memcached: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Ping checks that every server is reachable.
func (m *Memcached) Ping() error {
	return m.client.Ping()
}
