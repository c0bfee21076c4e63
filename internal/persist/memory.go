package persist

import (
	"context"
	"sync"
)

// MemorySpace is an in-process shared key-value space.
// Handles returned by Handle behave like independent execution contexts.
type MemorySpace struct {
	mu   sync.RWMutex
	data map[string][]byte
	hub  *Hub
}

// NewMemorySpace creates an empty space.
func NewMemorySpace() *MemorySpace {
	return &MemorySpace{
		data: make(map[string][]byte),
		hub:  NewHub(),
	}
}

// Handle returns a new handle with its own origin.
func (s *MemorySpace) Handle() Backend {
	return &memoryHandle{space: s, origin: newOrigin()}
}

// Close stops change delivery for every handle.
func (s *MemorySpace) Close() error {
	return s.hub.Close()
}

type memoryHandle struct {
	space  *MemorySpace
	origin string
}

func (h *memoryHandle) Get(_ context.Context, key string) ([]byte, bool, error) {
	h.space.mu.RLock()
	v, ok := h.space.data[key]
	h.space.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (h *memoryHandle) Set(_ context.Context, key string, value []byte) error {
	v := append([]byte(nil), value...)

	h.space.mu.Lock()
	h.space.data[key] = v
	h.space.mu.Unlock()

	return h.space.hub.Publish(Change{Key: key, NewValue: v, Origin: h.origin})
}

func (h *memoryHandle) Remove(_ context.Context, key string) error {
	h.space.mu.Lock()
	_, existed := h.space.data[key]
	delete(h.space.data, key)
	h.space.mu.Unlock()

	if !existed {
		return nil
	}
	return h.space.hub.Publish(Change{Key: key, Removed: true, Origin: h.origin})
}

func (h *memoryHandle) Watch(key string, fn func(Change)) (func(), error) {
	return h.space.hub.Subscribe(key, h.origin, fn)
}

func (h *memoryHandle) Close() error { return nil }
