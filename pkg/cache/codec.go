package cache

import (
	"bytes"

	"github.com/bytedance/sonic"
)

// Codec turns cached values into bytes and back. The engine only needs it for snapshots and memory usage
// estimates; values are kept decoded in memory.
type Codec[V any] interface {
	Encode(value V) ([]byte, error)
	Decode(data []byte) (V, error)
}

// JSONCodec encodes values as JSON, compatible with encoding/json struct tags.
type JSONCodec[V any] struct{} // Implements Codec.

var _ Codec[map[string]int] = JSONCodec[map[string]int]{}

func (JSONCodec[V]) Encode(value V) ([]byte, error) {
	return sonic.ConfigStd.Marshal(value)
}

func (JSONCodec[V]) Decode(data []byte) (V, error) {
	var value V
	err := sonic.ConfigStd.Unmarshal(data, &value)
	return value, err
}

// BytesCodec stores byte slices as they are.
type BytesCodec struct{} // Implements Codec.

var _ Codec[[]byte] = BytesCodec{}

func (BytesCodec) Encode(value []byte) ([]byte, error) {
	return bytes.Clone(value), nil
}

func (BytesCodec) Decode(data []byte) ([]byte, error) {
	return bytes.Clone(data), nil
}
