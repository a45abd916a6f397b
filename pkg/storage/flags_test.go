package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nobletooth/pantry/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBlobStoreFromFlags(t *testing.T) {
	ctx := context.Background()
	for _, testCase := range []struct {
		name      string
		storeType StoreType
	}{
		{name: "memory", storeType: StoreTypeMemory},
		{name: "file", storeType: StoreTypeFile},
		{name: "sqlite", storeType: StoreTypeSQLite},
		{name: "clover", storeType: StoreTypeClover},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			config.SetTestFlag(t, "snapshot_store", string(testCase.storeType))
			config.SetTestFlag(t, "data_dir", t.TempDir())
			config.SetTestFlag(t, "snapshot_key", "flag_snapshot")
			store, err := NewBlobStoreFromFlags(ctx)
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			require.NoError(t, store.Save(ctx, []byte("payload")))
			got, err := store.Load(ctx)
			assert.NoError(t, err)
			assert.Equal(t, []byte("payload"), got)
		})
	}

	t.Run("file_store_uses_snapshot_key", func(t *testing.T) {
		dir := t.TempDir()
		config.SetTestFlag(t, "snapshot_store", string(StoreTypeFile))
		config.SetTestFlag(t, "data_dir", dir)
		config.SetTestFlag(t, "snapshot_key", "named")
		store, err := NewBlobStoreFromFlags(ctx)
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, []byte("x")))
		_, err = os.Stat(filepath.Join(dir, "named"+fileHolderExt))
		assert.NoError(t, err)
	})
	t.Run("unknown_store", func(t *testing.T) {
		config.SetTestFlag(t, "snapshot_store", "floppy")
		_, err := NewBlobStoreFromFlags(ctx)
		assert.Error(t, err)
	})
}
