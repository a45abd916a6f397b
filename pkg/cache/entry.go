package cache

import "time"

// entry is a single cached key along with the bookkeeping needed for expiration and LRU eviction.
type entry[V any] struct {
	key            string
	value          V
	createdAt      time.Time     // Time of insertion or of the last overwrite.
	ttl            time.Duration // The entry is gone once it gets older than this.
	schemaVersion  string
	accessCount    uint64    // Starts at 1; a Set counts as the first access.
	lastAccessedAt time.Time // Only used for eviction ordering, never for expiration.
	// node is the position of this entry in the engine's insertion-order list.
	node *linkedListNode[*entry[V]]
}

func (e *entry[V]) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// touch records a successful read.
func (e *entry[V]) touch(now time.Time) {
	e.accessCount++
	if now.After(e.lastAccessedAt) {
		e.lastAccessedAt = now
	}
}
