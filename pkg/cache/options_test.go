package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nobletooth/pantry/pkg/config"
)

func TestOptionsFromFlags(t *testing.T) {
	config.SetTestFlag(t, "cache_name", "pages")
	config.SetTestFlag(t, "cache_max_size", "25")
	config.SetTestFlag(t, "cache_default_ttl", "90s")
	config.SetTestFlag(t, "cache_schema_version", "2.0.0")
	config.SetTestFlag(t, "cache_async_persist", "false")

	opts := OptionsFromFlags()
	assert.Equal(t, "pages", opts.Name)
	assert.Equal(t, 25, opts.MaxSize)
	assert.Equal(t, 90*time.Second, opts.DefaultTTL)
	assert.Equal(t, "2.0.0", opts.SchemaVersion)
	assert.False(t, opts.AsyncPersist)
	assert.True(t, opts.DedupeFetches)
	assert.NoError(t, opts.Validate())
}
