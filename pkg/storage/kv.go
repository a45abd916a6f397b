// Pantry keeps its cache snapshot in a key-value holder. Holders only need to store opaque byte values under
// string keys; the cache engine produces and consumes the bytes itself.

package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

var ErrKeyNotFound = errors.New("key was not found")

// KeyValueHolder is a durable (or not so durable) home for byte values.
type KeyValueHolder interface {
	// Get returns the stored value or an error wrapping ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores `value` under `key`, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes `key`; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

var _ KeyValueHolder = (*InMemoryKeyValueHolder)(nil)

type InMemoryKeyValueHolder struct { // Implements KeyValueHolder.
	mux  sync.RWMutex
	data map[string][]byte
}

// NewInMemoryKeyValueHolder is the constructor for InMemoryKeyValueHolder.
func NewInMemoryKeyValueHolder() *InMemoryKeyValueHolder {
	return &InMemoryKeyValueHolder{data: make(map[string][]byte)}
}

func (i *InMemoryKeyValueHolder) Get(_ context.Context, key string) ([]byte, error) {
	i.mux.RLock()
	defer i.mux.RUnlock()

	if value, exists := i.data[key]; exists {
		return slices.Clone(value), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
}

func (i *InMemoryKeyValueHolder) Set(_ context.Context, key string, value []byte) error {
	i.mux.Lock()
	defer i.mux.Unlock()
	i.data[key] = slices.Clone(value)
	return nil
}

func (i *InMemoryKeyValueHolder) Delete(_ context.Context, key string) error {
	i.mux.Lock()
	defer i.mux.Unlock()
	delete(i.data, key)
	return nil
}

// Keys returns the stored keys in lexicographic order.
func (i *InMemoryKeyValueHolder) Keys() []string {
	i.mux.RLock()
	defer i.mux.RUnlock()
	return slices.Sorted(maps.Keys(i.data))
}

func (i *InMemoryKeyValueHolder) Close() error { return nil }
