// Pantry keeps remote lookup results in memory to avoid fetching them again. An engine is a bounded map of
// entries with a TTL each; entries expire lazily on access, and when the engine is full the coldest 20% of
// its entries (by last access) are evicted at once. After every mutation the whole content is written to a
// backing store as one snapshot, which the next engine loads on construction.

package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/mod/semver"
	"golang.org/x/sync/singleflight"

	"github.com/nobletooth/pantry/pkg/storage"
	"github.com/nobletooth/pantry/pkg/utils"
)

// evictionFraction is the share of entries evicted at once when the engine is full.
const evictionFraction = 0.2

// Stats is a point-in-time view of an engine.
type Stats struct {
	TotalEntries       int
	ExpiredEntries     int     // Entries past their TTL that were not accessed since; counted, not removed.
	AverageAccessCount float64 // Zero when empty.
	MemoryUsageBytes   int     // Size of the entries in their snapshot encoding.
	// Lifetime counters of this engine instance.
	Hits, Misses, Evictions, PersistFailures uint64
}

// Engine is a thread-safe, capacity bounded, expirable cache whose content survives restarts through a
// snapshot in a storage.BlobStore.
type Engine[V any] struct {
	opts      Options
	codec     Codec[V]
	store     storage.BlobStore
	logger    *slog.Logger
	metrics   *engineMetrics
	persister *persister
	now       func() time.Time

	mux     sync.Mutex // Guards entries and order.
	entries map[string]*entry[V]
	order   *linkedList[*entry[V]] // Entries from the oldest inserted to the newest.

	fetches                      singleflight.Group
	hits, misses, evictedEntries atomic.Uint64
}

var _ Layer[[]byte] = (*Engine[[]byte])(nil)

// New is the constructor for Engine. It loads the previous snapshot from `store`; an absent, unreadable or
// incompatible snapshot results in an empty engine rather than an error. Only invalid options fail.
func New[V any](ctx context.Context, opts Options, store storage.BlobStore, codec Codec[V]) (*Engine[V], error) {
	return newEngine(ctx, opts, store, codec, time.Now)
}

func newEngine[V any](ctx context.Context, opts Options, store storage.BlobStore, codec Codec[V],
	now func() time.Time) (*Engine[V], error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache options: %w", err)
	}
	if store == nil || codec == nil {
		return nil, errors.New("expected a non-nil backing store and codec")
	}
	opts = opts.withDefaults()
	logger := slog.With("cache", opts.Name)
	metrics := newEngineMetrics(opts.Name)
	e := &Engine[V]{
		opts:      opts,
		codec:     codec,
		store:     store,
		logger:    logger,
		metrics:   metrics,
		persister: newPersister(store, opts.PersistTimeout, logger, metrics),
		now:       now,
		entries:   make(map[string]*entry[V], opts.MaxSize),
		order:     new(linkedList[*entry[V]]),
	}

	e.mux.Lock()
	defer e.mux.Unlock()
	e.loadLocked(ctx)
	if opts.AsyncPersist {
		e.persister.start()
	}
	return e, nil
}

// loadLocked restores the stored snapshot, drops expired entries and writes the cleaned snapshot back.
func (e *Engine[V]) loadLocked(ctx context.Context) {
	blob, err := e.store.Load(ctx)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		e.logger.Info("No cache snapshot was found; starting cold.")
	case err != nil:
		e.logger.Warn("Failed to load cache snapshot; starting cold.", "error", err)
	default:
		if err := e.restoreLocked(blob); err != nil {
			e.resetLocked()
			e.logger.Warn("Discarded cache snapshot; starting cold.", "error", err)
		}
	}

	now := e.now()
	swept := 0
	for _, ent := range slices.Collect(e.order.Values()) {
		if ent.expired(now) {
			e.removeLocked(ent)
			swept++
		}
	}
	e.metrics.expirations.Add(float64(swept))
	// A smaller capacity than the one the snapshot was written with.
	for len(e.entries) > e.opts.MaxSize {
		e.evictLocked(len(e.entries) - e.opts.MaxSize)
	}
	e.logger.Info("Loaded cache snapshot.", "entries", len(e.entries), "expired", swept)
	e.persistLocked()
}

func (e *Engine[V]) restoreLocked(blob []byte) error {
	snap, err := unmarshalSnapshot(blob)
	if err != nil {
		return err
	}
	if snap.SchemaVersion != e.opts.SchemaVersion {
		return fmt.Errorf("%w: stored %q, want %q (%s)", ErrSchemaMismatch, snap.SchemaVersion,
			e.opts.SchemaVersion, versionChange(snap.SchemaVersion, e.opts.SchemaVersion))
	}

	for i := range snap.Records {
		rec := &snap.Records[i]
		if rec.SchemaVersion != e.opts.SchemaVersion {
			e.logger.Warn("Dropped a snapshot record of another schema version.",
				"key", rec.Key, "schema_version", rec.SchemaVersion)
			continue
		}
		value, err := e.codec.Decode(rec.Value)
		if err != nil {
			e.logger.Warn("Dropped a snapshot record that failed to decode.", "key", rec.Key, "error", err)
			continue
		}
		if old, exists := e.entries[rec.Key]; exists {
			e.removeLocked(old)
		}
		e.insertLocked(&entry[V]{
			key:            rec.Key,
			value:          value,
			createdAt:      rec.CreatedAt,
			ttl:            rec.TTL,
			schemaVersion:  rec.SchemaVersion,
			accessCount:    max(rec.AccessCount, 1),
			lastAccessedAt: latest(rec.CreatedAt, rec.LastAccessedAt),
		})
	}
	return nil
}

// versionChange describes how `to` relates to `from` when both are semantic versions.
func versionChange(from, to string) string {
	canonical := func(v string) string {
		if !strings.HasPrefix(v, "v") {
			v = "v" + v
		}
		return v
	}
	from, to = canonical(from), canonical(to)
	if !semver.IsValid(from) || !semver.IsValid(to) {
		return "unordered"
	}
	if semver.Compare(from, to) < 0 {
		return "upgrade"
	}
	return "downgrade"
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// Get returns the value of `key` and whether it was found. Finding an expired entry removes it.
// A hit is not persisted: the access bookkeeping reaches the store with the next mutation.
func (e *Engine[V]) Get(key string) (V, bool /*found*/) {
	e.mux.Lock()
	defer e.mux.Unlock()

	now := e.now()
	ent, found := e.entries[key]
	if found && ent.expired(now) {
		e.removeLocked(ent)
		e.metrics.expirations.Inc()
		found = false
	}
	if !found {
		e.misses.Add(1)
		e.metrics.misses.Inc()
		return *new(V), false
	}
	ent.touch(now)
	e.hits.Add(1)
	e.metrics.hits.Inc()
	return ent.value, true
}

// Set stores `value` under `key` with the default TTL.
func (e *Engine[V]) Set(key string, value V) {
	e.SetWithTTL(key, value, 0)
}

// SetWithTTL stores `value` under `key`; a non-positive `ttl`, explicit or not, means the default TTL. When
// the engine is full, the coldest entries are evicted before the insertion.
func (e *Engine[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = e.opts.DefaultTTL
	}
	e.mux.Lock()
	defer e.mux.Unlock()

	if len(e.entries) >= e.opts.MaxSize {
		e.evictLocked(max(1, int(math.Ceil(float64(len(e.entries))*evictionFraction))))
	}
	now := e.now()
	if old, exists := e.entries[key]; exists {
		// Overwrites reset the bookkeeping and make the key the newest inserted one.
		old.value, old.createdAt, old.ttl = value, now, ttl
		old.schemaVersion, old.accessCount, old.lastAccessedAt = e.opts.SchemaVersion, 1, now
		e.order.MoveToBack(old.node)
	} else {
		e.insertLocked(&entry[V]{
			key:            key,
			value:          value,
			createdAt:      now,
			ttl:            ttl,
			schemaVersion:  e.opts.SchemaVersion,
			accessCount:    1,
			lastAccessedAt: now,
		})
	}
	e.persistLocked()
}

// GetOrSet returns the cached value of `key`, or calls `fetch` on a miss and caches its result for `ttl`.
// Like SetWithTTL, a non-positive `ttl` means the default TTL; there is no way to fetch without caching.
// A failing fetch leaves the cache untouched and its error is returned as is. The engine puts no deadline
// on `fetch`. With DedupeFetches, concurrent misses on `key` share the first caller's fetch, which then runs
// detached from that caller's cancellation; every caller still stops waiting when its own `ctx` is done.
func (e *Engine[V]) GetOrSet(ctx context.Context, key string, ttl time.Duration,
	fetch func(ctx context.Context) (V, error)) (V, error) {
	if value, found := e.Get(key); found {
		return value, nil
	}
	if !e.opts.DedupeFetches {
		return e.fetchAndSet(ctx, key, ttl, fetch)
	}
	shared := e.fetches.DoChan(key, func() (any, error) {
		return e.fetchAndSet(context.WithoutCancel(ctx), key, ttl, fetch)
	})
	select {
	case result := <-shared:
		if result.Err != nil {
			return *new(V), result.Err
		}
		value, _ := result.Val.(V)
		return value, nil
	case <-ctx.Done():
		return *new(V), ctx.Err()
	}
}

func (e *Engine[V]) fetchAndSet(ctx context.Context, key string, ttl time.Duration,
	fetch func(ctx context.Context) (V, error)) (V, error) {
	value, err := fetch(ctx)
	if err != nil {
		e.metrics.fetchErr.Inc()
		return value, err
	}
	e.metrics.fetchOK.Inc()
	e.SetWithTTL(key, value, ttl)
	return value, nil
}

// Invalidate removes `key` and reports whether it was present.
func (e *Engine[V]) Invalidate(key string) bool /*removed*/ {
	e.mux.Lock()
	defer e.mux.Unlock()

	ent, exists := e.entries[key]
	if exists {
		e.removeLocked(ent)
	}
	e.persistLocked()
	return exists
}

// InvalidatePattern removes every key that `pattern` matches anywhere in, e.g. "gallery" matches
// "gallery_paginated_1_20_all". It returns the number of removed keys.
func (e *Engine[V]) InvalidatePattern(pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid invalidation pattern %q: %w", pattern, err)
	}
	e.mux.Lock()
	defer e.mux.Unlock()

	removed := 0
	for _, ent := range slices.Collect(e.order.Values()) {
		if re.MatchString(ent.key) {
			e.removeLocked(ent)
			removed++
		}
	}
	e.persistLocked()
	return removed, nil
}

// Clear removes every entry.
func (e *Engine[V]) Clear() {
	e.mux.Lock()
	defer e.mux.Unlock()

	e.resetLocked()
	e.persistLocked()
}

func (e *Engine[V]) resetLocked() {
	clear(e.entries)
	e.order.Clear()
	e.metrics.entries.Set(0)
}

// Keys returns the keys of unexpired entries, oldest inserted first.
func (e *Engine[V]) Keys() []string {
	e.mux.Lock()
	defer e.mux.Unlock()

	now := e.now()
	keys := make([]string, 0, len(e.entries))
	for ent := range e.order.Values() {
		if !ent.expired(now) {
			keys = append(keys, ent.key)
		}
	}
	return keys
}

// Stats computes the current statistics without changing any entry.
func (e *Engine[V]) Stats() Stats {
	e.mux.Lock()
	defer e.mux.Unlock()

	stats := Stats{
		TotalEntries:    len(e.entries),
		Hits:            e.hits.Load(),
		Misses:          e.misses.Load(),
		Evictions:       e.evictedEntries.Load(),
		PersistFailures: e.persister.failures.Load(),
	}
	now := e.now()
	var accesses uint64
	for ent := range e.order.Values() {
		if ent.expired(now) {
			stats.ExpiredEntries++
		}
		accesses += ent.accessCount
		if rec, err := e.recordOf(ent); err == nil {
			stats.MemoryUsageBytes += encodedRecordSize(rec)
		}
	}
	if stats.TotalEntries > 0 {
		stats.AverageAccessCount = float64(accesses) / float64(stats.TotalEntries)
	}
	return stats
}

// Flush waits until every snapshot of the mutations made so far reached the backing store.
func (e *Engine[V]) Flush(ctx context.Context) error {
	return e.persister.flush(ctx)
}

// Close writes the pending snapshot and stops the background writer; the engine stays usable and persists
// synchronously afterward. It does not close the backing store.
func (e *Engine[V]) Close() error {
	e.mux.Lock()
	defer e.mux.Unlock()
	e.persister.close()
	return nil
}

func (e *Engine[V]) insertLocked(ent *entry[V]) {
	ent.node = e.order.PushBack(ent)
	e.entries[ent.key] = ent
	e.metrics.entries.Set(float64(len(e.entries)))
}

func (e *Engine[V]) removeLocked(ent *entry[V]) {
	if ent.node == nil {
		utils.RaiseInvariant("cache", "entry_without_node",
			"Cache entry is missing from the insertion order list.", "key", ent.key)
	} else {
		e.order.Remove(ent.node)
		ent.node = nil
	}
	delete(e.entries, ent.key)
	e.metrics.entries.Set(float64(len(e.entries)))
}

// evictLocked removes the `count` least recently accessed entries; ties go to the oldest inserted one.
func (e *Engine[V]) evictLocked(count int) {
	candidates := slices.Collect(e.order.Values())
	slices.SortStableFunc(candidates, func(a, b *entry[V]) int {
		return a.lastAccessedAt.Compare(b.lastAccessedAt)
	})
	count = min(count, len(candidates))
	for _, victim := range candidates[:count] {
		e.removeLocked(victim)
	}
	e.evictedEntries.Add(uint64(count))
	e.metrics.evictions.Add(float64(count))
	e.logger.Debug("Evicted cache entries.", "count", count, "remaining", len(e.entries))
}

func (e *Engine[V]) recordOf(ent *entry[V]) (*record, error) {
	value, err := e.codec.Encode(ent.value)
	if err != nil {
		return nil, err
	}
	return &record{
		Key:            ent.key,
		Value:          value,
		CreatedAt:      ent.createdAt,
		TTL:            ent.ttl,
		SchemaVersion:  ent.schemaVersion,
		AccessCount:    ent.accessCount,
		LastAccessedAt: ent.lastAccessedAt,
	}, nil
}

// persistLocked hands the current content to the persister. Values that fail to encode are left out.
func (e *Engine[V]) persistLocked() {
	snap := &snapshot{SchemaVersion: e.opts.SchemaVersion, Records: make([]record, 0, len(e.entries))}
	for ent := range e.order.Values() {
		rec, err := e.recordOf(ent)
		if err != nil {
			e.logger.Error("Failed to encode cache value; leaving it out of the snapshot.",
				"key", ent.key, "error", err)
			continue
		}
		snap.Records = append(snap.Records, *rec)
	}
	e.persister.submit(marshalSnapshot(snap))
}
