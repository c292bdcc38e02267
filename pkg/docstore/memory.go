// ABOUTME: In-memory document store for tests and single-process runs
// ABOUTME: Map-backed records with the same watch semantics as durable backends

package docstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps records in a map
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	hub     *hub
	closed  bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]byte),
		hub:     newHub(),
	}
}

// Get returns a copy of the record at key
func (ms *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if ms.closed {
		return nil, ErrClosed
	}
	value, ok := ms.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(value), nil
}

// Put replaces the record at key and notifies watchers
func (ms *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrClosed
	}
	ms.records[key] = cloneBytes(value)
	ms.hub.publish(Snapshot{Key: key, Value: cloneBytes(value), Exists: true})
	return nil
}

// Merge patches the record at key under the store lock and notifies watchers
func (ms *MemoryStore) Merge(ctx context.Context, key string, patch []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrClosed
	}
	value, err := mergeObject(ms.records[key], patch)
	if err != nil {
		return fmt.Errorf("merge %s: %w", key, err)
	}
	ms.records[key] = value
	ms.hub.publish(Snapshot{Key: key, Value: cloneBytes(value), Exists: true})
	return nil
}

// Delete removes the record at key and notifies watchers when it existed
func (ms *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrClosed
	}
	if _, ok := ms.records[key]; !ok {
		return nil
	}
	delete(ms.records, key)
	ms.hub.publish(Snapshot{Key: key})
	return nil
}

// Watch streams the state of key
func (ms *MemoryStore) Watch(ctx context.Context, key string) (<-chan Snapshot, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if ms.closed {
		return nil, ErrClosed
	}

	initial := Snapshot{Key: key}
	if value, ok := ms.records[key]; ok {
		initial.Value = cloneBytes(value)
		initial.Exists = true
	}
	return ms.hub.subscribe(ctx, initial)
}

// Len returns the number of stored records
func (ms *MemoryStore) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.records)
}

// Keys returns every stored key
func (ms *MemoryStore) Keys() []string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	keys := make([]string, 0, len(ms.records))
	for k := range ms.records {
		keys = append(keys, k)
	}
	return keys
}

// Watchers returns the number of open watches
func (ms *MemoryStore) Watchers() int {
	return ms.hub.count()
}

// Close ends every watch and rejects later calls
func (ms *MemoryStore) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return nil
	}
	ms.closed = true
	ms.hub.close()
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
