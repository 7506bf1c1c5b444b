package callrecord

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// KV is a short-lived hash store for call correlation. Get returns nil for
// missing or expired keys.
type KV interface {
	Set(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	Get(ctx context.Context, key string) (map[string]string, error)
	Delete(ctx context.Context, keys ...string) error
}

// MemoryKV is an in-process KV used when no Valkey is configured.
type MemoryKV struct {
	cache *ttlcache.Cache[string, map[string]string]

	running  bool
	stopOnce sync.Once
}

// NewMemoryKV creates a store. When expireLoop is set, expired entries are
// evicted in the background until Close.
func NewMemoryKV(expireLoop bool) *MemoryKV {
	kv := &MemoryKV{
		cache: ttlcache.New[string, map[string]string](
			ttlcache.WithDisableTouchOnHit[string, map[string]string](),
		),
		running: expireLoop,
	}
	if expireLoop {
		go kv.cache.Start()
	}
	return kv
}

// Set implements KV.
func (m *MemoryKV) Set(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	m.cache.Set(key, maps.Clone(fields), ttl)
	return nil
}

// Get implements KV.
func (m *MemoryKV) Get(_ context.Context, key string) (map[string]string, error) {
	item := m.cache.Get(key)
	if item == nil || item.IsExpired() {
		return nil, nil
	}
	return maps.Clone(item.Value()), nil
}

// Delete implements KV.
func (m *MemoryKV) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.cache.Delete(k)
	}
	return nil
}

// Len returns the number of stored entries.
func (m *MemoryKV) Len() int {
	return m.cache.Len()
}

// Sweep drops expired entries.
func (m *MemoryKV) Sweep() {
	m.cache.DeleteExpired()
}

// Close stops the background eviction loop.
func (m *MemoryKV) Close() {
	if !m.running {
		return
	}
	m.stopOnce.Do(m.cache.Stop)
}
