package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoOp(t *testing.T) {
	var layer Layer[string] = NewNoOp[string]()
	layer.SetWithTTL("key", "value", time.Minute)

	_, found := layer.Get("key")
	assert.False(t, found)
	assert.False(t, layer.Invalidate("key"))
	removed, err := layer.InvalidatePattern(".*")
	assert.NoError(t, err)
	assert.Zero(t, removed)
	assert.Nil(t, layer.Keys())
	layer.Clear()
	assert.Equal(t, Stats{}, layer.Stats())
}
