// Pantry picks its snapshot backing store with flags; every store keeps the snapshot under --snapshot_key.

package storage

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeSQLite StoreType = "sqlite"
	StoreTypeClover StoreType = "clover"
	StoreTypeRedis  StoreType = "redis"
)

var (
	storeType   = flag.String("snapshot_store", string(StoreTypeFile), "Snapshot store: memory/file/sqlite/clover/redis")
	snapshotKey = flag.String("snapshot_key", "pantry_snapshot", "The key the cache snapshot is stored under.")
	dataDir     = flag.String("data_dir", "./data", "Directory of the file, sqlite and clover snapshot stores.")

	redisAddress     = flag.String("redis_address", "localhost:6379", "The ip:port of the redis snapshot store.")
	redisPassword    = flag.String("redis_password", "", "Password of the redis snapshot store.")
	redisDB          = flag.Int("redis_db", 0, "Database number of the redis snapshot store.")
	redisKeyPrefix   = flag.String("redis_key_prefix", "pantry:", "Prefix prepended to keys in the redis snapshot store.")
	redisDialTimeout = flag.Duration("redis_dial_timeout", 5*time.Second, "Dial timeout of the redis snapshot store.")
)

// newHolderFromFlags builds the key value holder selected by --snapshot_store.
func newHolderFromFlags(ctx context.Context) (KeyValueHolder, error) {
	switch StoreType(*storeType) {
	case StoreTypeMemory:
		return NewInMemoryKeyValueHolder(), nil
	case StoreTypeFile:
		return NewFileKeyValueHolder(*dataDir)
	case StoreTypeSQLite:
		return NewSQLiteKeyValueHolder(ctx, filepath.Join(*dataDir, "pantry.sqlite"))
	case StoreTypeClover:
		return NewCloverKeyValueHolder(filepath.Join(*dataDir, "clover"))
	case StoreTypeRedis:
		return DialRedisKeyValueHolder(ctx, &redis.Options{
			Addr:        *redisAddress,
			Password:    *redisPassword,
			DB:          *redisDB,
			DialTimeout: *redisDialTimeout,
		}, *redisKeyPrefix)
	default:
		return nil, fmt.Errorf("unknown snapshot store %q", *storeType)
	}
}

// NewBlobStoreFromFlags builds the snapshot blob store configured via flags.
func NewBlobStoreFromFlags(ctx context.Context) (*KeyedBlobStore, error) {
	holder, err := newHolderFromFlags(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s snapshot store: %w", *storeType, err)
	}
	store, err := NewBlobStore(holder, *snapshotKey)
	if err != nil {
		_ = holder.Close()
		return nil, err
	}
	slog.Info("Snapshot store is ready.", "type", *storeType, "key", *snapshotKey)
	return store, nil
}
