package lock

import (
	"context"
	"sync"
	"time"
)

type memoryLease struct {
	token     string
	expiresAt time.Time
}

// MemoryBackend holds leases in process memory. It only coordinates
// goroutines of one instance and serves single-node runs and tests.
type MemoryBackend struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		leases: make(map[string]memoryLease),
		now:    time.Now,
	}
}

func (b *MemoryBackend) live(key string) (memoryLease, bool) {
	l, ok := b.leases[key]
	if !ok {
		return memoryLease{}, false
	}
	if !b.now().Before(l.expiresAt) {
		delete(b.leases, key)
		return memoryLease{}, false
	}
	return l, true
}

func (b *MemoryBackend) ownsAll(keys []string, token string) bool {
	for _, k := range keys {
		l, ok := b.live(k)
		if !ok || l.token != token {
			return false
		}
	}
	return true
}

func (b *MemoryBackend) Acquire(_ context.Context, keys []string, token string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, k := range keys {
		if _, ok := b.live(k); ok {
			return false, nil
		}
	}
	expiresAt := b.now().Add(ttl)
	for _, k := range keys {
		b.leases[k] = memoryLease{token: token, expiresAt: expiresAt}
	}
	return true, nil
}

func (b *MemoryBackend) Release(_ context.Context, keys []string, token string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	released := 0
	for _, k := range keys {
		if l, ok := b.live(k); ok && l.token == token {
			delete(b.leases, k)
			released++
		}
	}
	return released == len(keys), nil
}

func (b *MemoryBackend) Extend(_ context.Context, keys []string, token string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.ownsAll(keys, token) {
		return false, nil
	}
	expiresAt := b.now().Add(ttl)
	for _, k := range keys {
		b.leases[k] = memoryLease{token: token, expiresAt: expiresAt}
	}
	return true, nil
}

func (b *MemoryBackend) IsHeld(_ context.Context, keys []string, token string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ownsAll(keys, token), nil
}
