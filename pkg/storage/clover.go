package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/ostafen/clover"
)

const (
	cloverCollection = "pantry_kv"
	cloverKeyField   = "key"
	cloverValueField = "value"
)

// CloverKeyValueHolder stores one document per key in an embedded CloverDB collection.
// Values are kept base64-encoded since documents are JSON-like.
type CloverKeyValueHolder struct { // Implements KeyValueHolder.
	mux sync.Mutex // Makes the delete + insert pair in Set atomic.
	db  *clover.DB
}

var _ KeyValueHolder = (*CloverKeyValueHolder)(nil)

// NewCloverKeyValueHolder opens the CloverDB directory at `dir`.
func NewCloverKeyValueHolder(dir string) (*CloverKeyValueHolder, error) {
	if dir == "" {
		return nil, errors.New("expected a non-empty clover directory")
	}
	db, err := clover.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open clover db %s: %w", dir, err)
	}
	exists, err := db.HasCollection(cloverCollection)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		if err := db.CreateCollection(cloverCollection); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create collection: %w", err)
		}
	}
	return &CloverKeyValueHolder{db: db}, nil
}

func (c *CloverKeyValueHolder) query(key string) *clover.Query {
	return c.db.Query(cloverCollection).Where(clover.Field(cloverKeyField).Eq(key))
}

func (c *CloverKeyValueHolder) Get(_ context.Context, key string) ([]byte, error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	docs, err := c.query(key).FindAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query key %s: %w", key, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	encoded, ok := docs[0].Get(cloverValueField).(string)
	if !ok {
		return nil, fmt.Errorf("document for key %s has no string value", key)
	}
	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode value of key %s: %w", key, err)
	}
	return value, nil
}

func (c *CloverKeyValueHolder) Set(_ context.Context, key string, value []byte) error {
	c.mux.Lock()
	defer c.mux.Unlock()

	if err := c.query(key).Delete(); err != nil {
		return fmt.Errorf("failed to drop previous value of key %s: %w", key, err)
	}
	doc := clover.NewDocument()
	doc.Set(cloverKeyField, key)
	doc.Set(cloverValueField, base64.StdEncoding.EncodeToString(value))
	if err := c.db.Insert(cloverCollection, doc); err != nil {
		return fmt.Errorf("failed to insert key %s: %w", key, err)
	}
	return nil
}

func (c *CloverKeyValueHolder) Delete(_ context.Context, key string) error {
	c.mux.Lock()
	defer c.mux.Unlock()

	if err := c.query(key).Delete(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (c *CloverKeyValueHolder) Close() error {
	return c.db.Close()
}
