package session

import (
	"context"
	"sync"
)

// memoryBackend keeps slots in process memory.
type memoryBackend struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		slots: make(map[string][]byte),
	}
}

func (b *memoryBackend) get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	val, ok := b.slots[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (b *memoryBackend) set(_ context.Context, key string, val []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := make([]byte, len(val))
	copy(stored, val)
	b.slots[key] = stored
	return nil
}

func (b *memoryBackend) del(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.slots, key)
	return nil
}

func (b *memoryBackend) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.slots = make(map[string][]byte)
	return nil
}
