package replay

import (
	"context"
	"sync"
	"time"
)

// memoryBackend is a minimal linearizable Backend used only by this
// package's own tests, exercising the Store's floor-clamping logic
// without a real database.
type memoryBackend struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiry
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{entries: make(map[string]time.Time)}
}

func (b *memoryBackend) RegisterIfAbsent(ctx context.Context, namespace Namespace, hash string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := string(namespace) + ":" + hash
	if exp, ok := b.entries[key]; ok && time.Now().Before(exp) {
		return false, nil
	}
	b.entries[key] = time.Now().Add(ttl)
	return true, nil
}
