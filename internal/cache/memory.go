package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryBackend implements Backend on an in-process TTL cache. It backs
// single-node dev deployments and keeps tests hermetic; semantics mirror
// the redis backend so the two are interchangeable.
type MemoryBackend struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, string]
}

func NewMemoryBackend() *MemoryBackend {
	c := ttlcache.New[string, string](
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go c.Start()
	return &MemoryBackend{cache: c}
}

func (b *MemoryBackend) Get(ctx context.Context, key string) (string, bool, error) {
	item := b.cache.Get(key)
	if item == nil {
		return "", false, nil
	}
	return item.Value(), true, nil
}

func (b *MemoryBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	b.cache.Set(key, value, ttl)
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	b.cache.Delete(key)
	return nil
}

// IncrWindow increments the counter at key under one lock so concurrent
// callers observe strictly increasing counts. The expiry set on the first
// increment is preserved by re-storing with the remaining window.
func (b *MemoryBackend) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	item := b.cache.Get(key)
	if item == nil {
		b.cache.Set(key, "1", window)
		return 1, nil
	}
	n, err := strconv.ParseInt(item.Value(), 10, 64)
	if err != nil {
		n = 0
	}
	n++
	remaining := time.Until(item.ExpiresAt())
	if remaining <= 0 {
		remaining = window
		n = 1
	}
	b.cache.Set(key, strconv.FormatInt(n, 10), remaining)
	return n, nil
}

func (b *MemoryBackend) Close() error {
	b.cache.Stop()
	return nil
}
