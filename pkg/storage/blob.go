// A blob store is the backing store of a cache engine: it holds exactly one snapshot blob that is replaced
// wholesale on every save.

package storage

import (
	"context"
	"errors"
	"fmt"
)

// BlobStore loads and saves a single opaque blob.
type BlobStore interface {
	// Load returns the last saved blob or an error wrapping ErrKeyNotFound if nothing was saved yet.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the stored blob.
	Save(ctx context.Context, blob []byte) error
	Close() error
}

// KeyedBlobStore keeps the blob under a fixed key of a KeyValueHolder.
type KeyedBlobStore struct { // Implements BlobStore.
	holder KeyValueHolder
	key    string
}

var _ BlobStore = (*KeyedBlobStore)(nil)

// NewBlobStore is the constructor for KeyedBlobStore.
func NewBlobStore(holder KeyValueHolder, key string) (*KeyedBlobStore, error) {
	if holder == nil {
		return nil, errors.New("expected a non-nil key value holder")
	}
	if key == "" {
		return nil, errors.New("expected a non-empty snapshot key")
	}
	return &KeyedBlobStore{holder: holder, key: key}, nil
}

func (k *KeyedBlobStore) Load(ctx context.Context) ([]byte, error) {
	blob, err := k.holder.Get(ctx, k.key)
	if err != nil {
		return nil, fmt.Errorf("failed to load blob %q: %w", k.key, err)
	}
	return blob, nil
}

func (k *KeyedBlobStore) Save(ctx context.Context, blob []byte) error {
	if err := k.holder.Set(ctx, k.key, blob); err != nil {
		return fmt.Errorf("failed to save blob %q: %w", k.key, err)
	}
	return nil
}

func (k *KeyedBlobStore) Close() error {
	return k.holder.Close()
}
