package config

import "time"

// Config is the schema of the YAML config file. Every leaf field carries the name of the command line flag
// it sets; nil (absent) fields leave their flag untouched.
type Config struct {
	Log      *LogConfig      `yaml:"log"`
	Cache    *CacheConfig    `yaml:"cache"`
	Snapshot *SnapshotConfig `yaml:"snapshot"`
	Server   *ServerConfig   `yaml:"server"`
}

type LogConfig struct {
	HandlerType *string `yaml:"handler_type" flag:"log_handler_type" validate:"omitempty,oneof=json text"`
	Level       *string `yaml:"level" flag:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Output      *string `yaml:"output" flag:"log_output" validate:"omitempty,oneof=stdout stderr"`
}

type CacheConfig struct {
	Name           *string        `yaml:"name" flag:"cache_name" validate:"omitempty,min=1"`
	MaxSize        *int           `yaml:"max_size" flag:"cache_max_size" validate:"omitempty,gt=0"`
	DefaultTTL     *time.Duration `yaml:"default_ttl" flag:"cache_default_ttl" validate:"omitempty,gt=0"`
	SchemaVersion  *string        `yaml:"schema_version" flag:"cache_schema_version" validate:"omitempty,min=1"`
	AsyncPersist   *bool          `yaml:"async_persist" flag:"cache_async_persist"`
	DedupeFetches  *bool          `yaml:"dedupe_fetches" flag:"cache_dedupe_fetches"`
	PersistTimeout *time.Duration `yaml:"persist_timeout" flag:"cache_persist_timeout" validate:"omitempty,gt=0"`
}

type SnapshotConfig struct {
	Store   *string           `yaml:"store" flag:"snapshot_store" validate:"omitempty,oneof=memory file sqlite clover redis"`
	Key     *string           `yaml:"key" flag:"snapshot_key" validate:"omitempty,min=1"`
	DataDir *string           `yaml:"data_dir" flag:"data_dir" validate:"omitempty,min=1"`
	Redis   *RedisStoreConfig `yaml:"redis"`
}

type RedisStoreConfig struct {
	Address     *string        `yaml:"address" flag:"redis_address" validate:"omitempty,hostname_port"`
	Password    *string        `yaml:"password" flag:"redis_password"`
	DB          *int           `yaml:"db" flag:"redis_db" validate:"omitempty,gte=0"`
	KeyPrefix   *string        `yaml:"key_prefix" flag:"redis_key_prefix"`
	DialTimeout *time.Duration `yaml:"dial_timeout" flag:"redis_dial_timeout" validate:"omitempty,gt=0"`
}

type ServerConfig struct {
	Address        *string `yaml:"address" flag:"address"`
	MetricsAddress *string `yaml:"metrics_address" flag:"metrics_address"`
}
