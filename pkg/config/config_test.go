package config

import (
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	_ "github.com/nobletooth/pantry/pkg/utils" // Registers the log flags.
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	for _, testCase := range []struct {
		name      string
		document  string
		expectErr bool
		check     func(t *testing.T, conf *Config)
	}{
		{
			name:     "empty",
			document: "",
			check: func(t *testing.T, conf *Config) {
				assert.Nil(t, conf.Cache)
				assert.Nil(t, conf.Log)
			},
		},
		{
			name: "full_cache_section",
			document: `
cache:
  name: pages
  max_size: 100
  default_ttl: 5m
  schema_version: "2.0.0"
  async_persist: true
`,
			check: func(t *testing.T, conf *Config) {
				require.NotNil(t, conf.Cache)
				assert.Equal(t, "pages", *conf.Cache.Name)
				assert.Equal(t, 100, *conf.Cache.MaxSize)
				assert.Equal(t, 5*time.Minute, *conf.Cache.DefaultTTL)
				assert.Equal(t, "2.0.0", *conf.Cache.SchemaVersion)
				assert.True(t, *conf.Cache.AsyncPersist)
				assert.Nil(t, conf.Cache.DedupeFetches, "Unset fields must stay nil")
			},
		},
		{
			name:     "nested_redis_section",
			document: "snapshot:\n  store: redis\n  redis:\n    address: localhost:6379\n    db: 2\n",
			check: func(t *testing.T, conf *Config) {
				require.NotNil(t, conf.Snapshot)
				require.NotNil(t, conf.Snapshot.Redis)
				assert.Equal(t, "localhost:6379", *conf.Snapshot.Redis.Address)
				assert.Equal(t, 2, *conf.Snapshot.Redis.DB)
			},
		},
		{name: "unknown_field", document: "cache:\n  max_entries: 10\n", expectErr: true},
		{name: "non_positive_max_size", document: "cache:\n  max_size: 0\n", expectErr: true},
		{name: "negative_ttl", document: "cache:\n  default_ttl: -1s\n", expectErr: true},
		{name: "unknown_store", document: "snapshot:\n  store: floppy\n", expectErr: true},
		{name: "unknown_log_level", document: "log:\n  level: loud\n", expectErr: true},
		{name: "malformed_yaml", document: "cache: [", expectErr: true},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			conf, err := ParseConfig([]byte(testCase.document))
			if testCase.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			testCase.check(t, conf)
		})
	}
}

func TestCollectFlags(t *testing.T) {
	maxSize, ttl, level := 10, 90*time.Second, "debug"
	dedupe := false
	conf := &Config{
		Log:   &LogConfig{Level: &level},
		Cache: &CacheConfig{MaxSize: &maxSize, DefaultTTL: &ttl, DedupeFetches: &dedupe},
	}
	flags := make(map[string]string)
	require.NoError(t, collectFlags(flags, reflect.ValueOf(conf)))
	assert.Equal(t, map[string]string{
		"log_level":            "debug",
		"cache_max_size":       "10",
		"cache_default_ttl":    "1m30s",
		"cache_dedupe_fetches": "false",
	}, flags)
}

func TestGetDefinedFlags(t *testing.T) {
	definedFlags, err := getDefinedFlags(reflect.TypeOf(Config{}))
	require.NoError(t, err)
	for _, flagName := range []string{"log_level", "cache_max_size", "snapshot_store", "redis_address", "address"} {
		assert.Contains(t, definedFlags, flagName)
	}

	type duplicated struct {
		A *string `flag:"same"`
		B *string `flag:"same"`
	}
	_, err = getDefinedFlags(reflect.TypeOf(duplicated{}))
	assert.Error(t, err)
}

func TestSetConfigFlags(t *testing.T) {
	SetTestFlag(t, "log_level", "info")
	SetTestFlag(t, "log_handler_type", "json")
	level, handlerType := "debug", "text"
	conf := &Config{Log: &LogConfig{Level: &level, HandlerType: &handlerType}}

	applied, err := setConfigFlags(conf, map[string]struct{}{"log_handler_type": {}})
	require.NoError(t, err)
	assert.Equal(t, []string{"log_level"}, applied)
	assert.Equal(t, "debug", flag.Lookup("log_level").Value.String())
	assert.Equal(t, "json", flag.Lookup("log_handler_type").Value.String(), "Command line flags must win")
}

func TestInitFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  output: stderr\n"), 0o644))
	SetTestFlag(t, "config_file", path)
	prevOutput := flag.Lookup("log_output").Value.String()
	t.Cleanup(func() { require.NoError(t, flag.Set("log_output", prevOutput)) })

	InitFlags()
	assert.Equal(t, "stderr", flag.Lookup("log_output").Value.String())
}

func TestInitFlags_MissingFile(t *testing.T) {
	SetTestFlag(t, "config_file", filepath.Join(t.TempDir(), "absent.yaml"))
	SetTestFlag(t, "log_level", "error")
	InitFlags() // Must not fail; defaults stay in place.
	assert.Equal(t, "error", flag.Lookup("log_level").Value.String())
}

func TestParseConfig_ExampleFile(t *testing.T) {
	configBytes, err := os.ReadFile(filepath.Join("..", "..", "config.example.yaml"))
	require.NoError(t, err)
	conf, err := ParseConfig(configBytes)
	require.NoError(t, err)
	require.NotNil(t, conf.Cache)
	assert.Equal(t, time.Hour, *conf.Cache.DefaultTTL)
	assert.Equal(t, "1.0.0", *conf.Cache.SchemaVersion)
	assert.Equal(t, "pantry:", *conf.Snapshot.Redis.KeyPrefix)
}
