package cache

import (
	"errors"
	"flag"
	"time"
)

var (
	cacheName           = flag.String("cache_name", "pantry", "Name of the cache, used as a label on logs and metrics.")
	cacheMaxSize        = flag.Int("cache_max_size", 1000, "Maximum number of entries the cache holds.")
	cacheDefaultTTL     = flag.Duration("cache_default_ttl", time.Hour, "TTL of entries set without one.")
	cacheSchemaVersion  = flag.String("cache_schema_version", "1.0.0", "Version tag of stored entries; bump it to start cold.")
	cacheAsyncPersist   = flag.Bool("cache_async_persist", true, "Write snapshots from a background goroutine.")
	cacheDedupeFetches  = flag.Bool("cache_dedupe_fetches", true, "Share one fetch between concurrent misses on a key.")
	cachePersistTimeout = flag.Duration("cache_persist_timeout", defaultPersistTimeout, "Timeout of one snapshot write.")
)

const defaultPersistTimeout = 5 * time.Second

// Options are fixed for the lifetime of an engine.
type Options struct {
	Name          string        // Label of logs and metrics; defaults to "default".
	MaxSize       int           // Capacity bound; must be positive.
	DefaultTTL    time.Duration // TTL of entries set without an explicit one; must be positive.
	SchemaVersion string        // Opaque tag; snapshots with another tag are discarded on load.
	// AsyncPersist moves snapshot writes to a background goroutine, so mutations don't wait for the store.
	AsyncPersist bool
	// DedupeFetches makes concurrent GetOrSet misses on the same key share a single fetch.
	DedupeFetches  bool
	PersistTimeout time.Duration // Timeout of one snapshot write; defaults to 5s.
}

// OptionsFromFlags builds engine options from the command line flags.
func OptionsFromFlags() Options {
	return Options{
		Name:           *cacheName,
		MaxSize:        *cacheMaxSize,
		DefaultTTL:     *cacheDefaultTTL,
		SchemaVersion:  *cacheSchemaVersion,
		AsyncPersist:   *cacheAsyncPersist,
		DedupeFetches:  *cacheDedupeFetches,
		PersistTimeout: *cachePersistTimeout,
	}
}

// Validate reports every invalid option at once.
func (o Options) Validate() error {
	var errs []error
	if o.MaxSize <= 0 {
		errs = append(errs, errors.New("max size must be positive"))
	}
	if o.DefaultTTL <= 0 {
		errs = append(errs, errors.New("default TTL must be positive"))
	}
	if o.SchemaVersion == "" {
		errs = append(errs, errors.New("schema version must not be empty"))
	}
	if o.PersistTimeout < 0 {
		errs = append(errs, errors.New("persist timeout must not be negative"))
	}
	return errors.Join(errs...)
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "default"
	}
	if o.PersistTimeout == 0 {
		o.PersistTimeout = defaultPersistTimeout
	}
	return o
}
