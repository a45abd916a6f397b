package cache

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestSnapshot_MarshalUnmarshal(t *testing.T) {
	createdAt := time.Unix(1_700_000_000, 123)
	original := &snapshot{SchemaVersion: "3.1.4", Records: []record{
		{
			Key: "gallery_all", Value: []byte(`{"items":[1,2]}`), CreatedAt: createdAt, TTL: time.Minute,
			SchemaVersion: "3.1.4", AccessCount: 17, LastAccessedAt: createdAt.Add(time.Second),
		},
		{Key: "empty", Value: []byte{}, CreatedAt: createdAt, TTL: time.Hour, SchemaVersion: "3.1.4", AccessCount: 1,
			LastAccessedAt: createdAt},
	}}

	blob := marshalSnapshot(original)
	assert.Equal(t, "PSNP", string(blob[:4]))
	parsed, err := unmarshalSnapshot(blob)
	require.NoError(t, err)
	require.Len(t, parsed.Records, 2)
	assert.Equal(t, original.SchemaVersion, parsed.SchemaVersion)
	first := parsed.Records[0]
	assert.Equal(t, "gallery_all", first.Key)
	assert.Equal(t, `{"items":[1,2]}`, string(first.Value))
	assert.True(t, createdAt.Equal(first.CreatedAt))
	assert.Equal(t, time.Minute, first.TTL)
	assert.Equal(t, uint64(17), first.AccessCount)
	assert.True(t, createdAt.Add(time.Second).Equal(first.LastAccessedAt))
	assert.Equal(t, "empty", parsed.Records[1].Key)
	assert.Empty(t, parsed.Records[1].Value)
}

func TestSnapshot_Empty(t *testing.T) {
	parsed, err := unmarshalSnapshot(marshalSnapshot(&snapshot{SchemaVersion: "1"}))
	require.NoError(t, err)
	assert.Equal(t, "1", parsed.SchemaVersion)
	assert.Empty(t, parsed.Records)
}

// withHeader frames `payload` as a snapshot blob with a valid checksum.
func withHeader(payload []byte) []byte {
	blob := append([]byte("PSNP"), binary.BigEndian.AppendUint64(nil, xxhash.Sum64(payload))...)
	return append(blob, payload...)
}

func TestSnapshot_SkipsUnknownFields(t *testing.T) {
	payload := protowire.AppendTag(nil, snapshotSchemaVersionField, protowire.BytesType)
	payload = protowire.AppendString(payload, "1")
	payload = protowire.AppendTag(payload, 42, protowire.VarintType)
	payload = protowire.AppendVarint(payload, 99)
	rec := protowire.AppendTag(nil, recordKeyField, protowire.BytesType)
	rec = protowire.AppendString(rec, "k")
	rec = protowire.AppendTag(rec, 15, protowire.BytesType)
	rec = protowire.AppendString(rec, "from the future")
	payload = protowire.AppendTag(payload, snapshotRecordField, protowire.BytesType)
	payload = protowire.AppendBytes(payload, rec)

	parsed, err := unmarshalSnapshot(withHeader(payload))
	require.NoError(t, err)
	require.Len(t, parsed.Records, 1)
	assert.Equal(t, "k", parsed.Records[0].Key)
}

func TestSnapshot_EmptyKey(t *testing.T) {
	original := &snapshot{SchemaVersion: "1", Records: []record{{Key: "", Value: []byte(`"v"`), SchemaVersion: "1"}}}
	parsed, err := unmarshalSnapshot(marshalSnapshot(original))
	require.NoError(t, err)
	require.Len(t, parsed.Records, 1)
	assert.Equal(t, "", parsed.Records[0].Key)
	assert.Equal(t, `"v"`, string(parsed.Records[0].Value))
}

func TestSnapshot_Corrupt(t *testing.T) {
	valid := marshalSnapshot(&snapshot{SchemaVersion: "1", Records: []record{{Key: "a", SchemaVersion: "1"}}})
	for _, testCase := range []struct {
		name string
		blob []byte
	}{
		{name: "empty", blob: nil},
		{name: "short header", blob: []byte("PSN")},
		{name: "wrong magic", blob: append([]byte("XSNP"), valid[4:]...)},
		{name: "checksum mismatch", blob: append(append([]byte{}, valid...), 0x08)},
		{name: "truncated payload", blob: withHeader(valid[snapshotHeaderSize : len(valid)-1])},
		{name: "record without key", blob: withHeader(protowire.AppendBytes(
			protowire.AppendTag(nil, snapshotRecordField, protowire.BytesType), []byte{}))},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := unmarshalSnapshot(testCase.blob)
			assert.ErrorIs(t, err, ErrCorruptSnapshot)
		})
	}
}

func TestEncodedRecordSize(t *testing.T) {
	r := &record{Key: "k", Value: []byte("value"), SchemaVersion: "1"}
	blob := marshalSnapshot(&snapshot{Records: []record{*r}})
	empty := marshalSnapshot(&snapshot{})
	assert.Equal(t, len(blob)-len(empty), encodedRecordSize(r))
}
