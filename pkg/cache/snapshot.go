// A snapshot is the whole content of an engine serialized into one blob. Its layout is:
//
//	"PSNP" | xxhash64(payload) as 8 big-endian bytes | payload
//
// The payload is protobuf wire format of:
//
//	message Snapshot { string schema_version = 1; repeated Record records = 2; }
//	message Record {
//	  string key = 1; bytes value = 2; int64 created_at_unix_nanos = 3; int64 ttl_nanos = 4;
//	  string schema_version = 5; uint64 access_count = 6; int64 last_accessed_at_unix_nanos = 7;
//	}
//
// Unknown fields are skipped so newer writers can add fields without breaking older readers.

package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrCorruptSnapshot is returned when a snapshot blob cannot be parsed or fails its checksum.
	ErrCorruptSnapshot = errors.New("corrupt cache snapshot")
	// ErrSchemaMismatch is returned when a snapshot was written with a different schema version.
	ErrSchemaMismatch = errors.New("cache snapshot schema version mismatch")
)

var snapshotMagic = []byte("PSNP")

const snapshotHeaderSize = 4 /*magic*/ + 8 /*checksum*/

const (
	snapshotSchemaVersionField protowire.Number = 1
	snapshotRecordField        protowire.Number = 2

	recordKeyField            protowire.Number = 1
	recordValueField          protowire.Number = 2
	recordCreatedAtField      protowire.Number = 3
	recordTTLField            protowire.Number = 4
	recordSchemaVersionField  protowire.Number = 5
	recordAccessCountField    protowire.Number = 6
	recordLastAccessedAtField protowire.Number = 7
)

// record is the encoded form of one entry.
type record struct {
	Key            string
	Value          []byte
	CreatedAt      time.Time
	TTL            time.Duration
	SchemaVersion  string
	AccessCount    uint64
	LastAccessedAt time.Time
}

type snapshot struct {
	SchemaVersion string
	Records       []record
}

func appendRecord(b []byte, r *record) []byte {
	b = protowire.AppendTag(b, recordKeyField, protowire.BytesType)
	b = protowire.AppendString(b, r.Key)
	b = protowire.AppendTag(b, recordValueField, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Value)
	b = protowire.AppendTag(b, recordCreatedAtField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.CreatedAt.UnixNano()))
	b = protowire.AppendTag(b, recordTTLField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.TTL))
	b = protowire.AppendTag(b, recordSchemaVersionField, protowire.BytesType)
	b = protowire.AppendString(b, r.SchemaVersion)
	b = protowire.AppendTag(b, recordAccessCountField, protowire.VarintType)
	b = protowire.AppendVarint(b, r.AccessCount)
	b = protowire.AppendTag(b, recordLastAccessedAtField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.LastAccessedAt.UnixNano()))
	return b
}

// encodedRecordSize is the number of bytes `r` takes in a snapshot, including its field header.
func encodedRecordSize(r *record) int {
	size := protowire.SizeBytes(len(appendRecord(nil, r)))
	return protowire.SizeTag(snapshotRecordField) + size
}

func marshalSnapshot(s *snapshot) []byte {
	payload := protowire.AppendTag(nil, snapshotSchemaVersionField, protowire.BytesType)
	payload = protowire.AppendString(payload, s.SchemaVersion)
	for i := range s.Records {
		payload = protowire.AppendTag(payload, snapshotRecordField, protowire.BytesType)
		payload = protowire.AppendBytes(payload, appendRecord(nil, &s.Records[i]))
	}

	blob := make([]byte, 0, snapshotHeaderSize+len(payload))
	blob = append(blob, snapshotMagic...)
	blob = binary.BigEndian.AppendUint64(blob, xxhash.Sum64(payload))
	return append(blob, payload...)
}

// unmarshalSnapshot parses a blob written by marshalSnapshot. Every failure wraps ErrCorruptSnapshot.
func unmarshalSnapshot(blob []byte) (*snapshot, error) {
	if len(blob) < snapshotHeaderSize || !bytes.Equal(blob[:len(snapshotMagic)], snapshotMagic) {
		return nil, fmt.Errorf("%w: missing snapshot header", ErrCorruptSnapshot)
	}
	payload := blob[snapshotHeaderSize:]
	if checksum := binary.BigEndian.Uint64(blob[len(snapshotMagic):]); checksum != xxhash.Sum64(payload) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}

	s := &snapshot{}
	err := consumeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == snapshotSchemaVersionField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			s.SchemaVersion = v
			return n, nil
		case num == snapshotRecordField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			r, err := unmarshalRecord(v)
			if err != nil {
				return 0, err
			}
			s.Records = append(s.Records, *r)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	return s, nil
}

func unmarshalRecord(b []byte) (*record, error) {
	r := &record{}
	hasKey := false // Empty keys are valid; only a missing key field is not.
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ == protowire.BytesType {
			switch num {
			case recordKeyField:
				v, n := protowire.ConsumeString(b)
				r.Key, hasKey = v, true
				return n, nil
			case recordValueField:
				v, n := protowire.ConsumeBytes(b)
				r.Value = bytes.Clone(v)
				return n, nil
			case recordSchemaVersionField:
				v, n := protowire.ConsumeString(b)
				r.SchemaVersion = v
				return n, nil
			}
		}
		if typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			switch num {
			case recordCreatedAtField:
				r.CreatedAt = time.Unix(0, int64(v))
				return n, nil
			case recordTTLField:
				r.TTL = time.Duration(int64(v))
				return n, nil
			case recordAccessCountField:
				r.AccessCount = v
				return n, nil
			case recordLastAccessedAtField:
				r.LastAccessedAt = time.Unix(0, int64(v))
				return n, nil
			}
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot record: %w", err)
	}
	if !hasKey {
		return nil, errors.New("snapshot record has no key")
	}
	return r, nil
}

// consumeFields walks the fields of one message. `consume` gets the bytes right after the field tag and
// returns how many of them the field value took, or a negative protowire error code.
func consumeFields(b []byte,
	consume func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n, err := consume(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}
