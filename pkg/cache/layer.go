// Front ends (e.g. the Redis port) talk to a cache through Layer, so they can run against an engine or
// against NoOp when caching is disabled.

package cache

import "time"

// Layer is the string-keyed cache API shared by Engine and NoOp.
type Layer[V any] interface {
	// Get returns the value of `key` and whether it was found.
	Get(key string) (V, bool)
	// SetWithTTL stores `value` under `key`; a non-positive `ttl` means the default TTL.
	SetWithTTL(key string, value V, ttl time.Duration)
	// Invalidate removes `key` and reports whether it was present.
	Invalidate(key string) bool
	// InvalidatePattern removes every key matched by the regular expression `pattern`.
	InvalidatePattern(pattern string) (int, error)
	Keys() []string // Returns the keys of all live entries.
	Clear()         // Removes every entry.
	Stats() Stats
}

// NoOp is a cache layer that doesn't store any items.
// It is used when cache is disabled.
type NoOp[V any] struct { // Implements Layer.
}

var _ Layer[int] = (*NoOp[int])(nil)

// NewNoOp returns a no-operation cache layer that does not store any items.
func NewNoOp[V any]() *NoOp[V] {
	return &NoOp[V]{}
}

// Get always returns false, indicating the key is not found.
func (n *NoOp[V]) Get(string) (V, bool) {
	var zero V
	return zero, false
}

func (n *NoOp[V]) SetWithTTL(string, V, time.Duration) {}

func (n *NoOp[V]) Invalidate(string) bool { return false }

func (n *NoOp[V]) InvalidatePattern(string) (int, error) { return 0, nil }

// Keys always returns nil, as there are no keys stored.
func (n *NoOp[V]) Keys() []string { return nil }

func (n *NoOp[V]) Clear() {}

func (n *NoOp[V]) Stats() Stats { return Stats{} }
