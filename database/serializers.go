package database

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// CompositeKey is the secondary index key. Ordering is nationality bytewise,
// then age.
type CompositeKey struct {
	Nationality string
	Age         int32
}

func compareCompositeKeys(a, b CompositeKey) int {
	if c := bytes.Compare([]byte(a.Nationality), []byte(b.Nationality)); c != 0 {
		return c
	}
	switch {
	case a.Age < b.Age:
		return -1
	case a.Age > b.Age:
		return 1
	default:
		return 0
	}
}

func compareUUIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

func compareRecordIDs(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// uuidKeySerializer encodes primary keys as their raw 16 bytes.
type uuidKeySerializer struct{}

func (uuidKeySerializer) Serialize(v uuid.UUID) ([]byte, error) {
	return v[:], nil
}

func (uuidKeySerializer) Deserialize(data []byte) (uuid.UUID, error) {
	id, err := uuid.FromBytes(data)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("failed to decode row id: %w", err)
	}
	return id, nil
}

func (uuidKeySerializer) Size() int { return 16 }

// compositeKeySerializer encodes the nationality bytes followed by the age
// as little-endian. The encoding is variable length; the node codec frames it.
type compositeKeySerializer struct{}

func (compositeKeySerializer) Serialize(v CompositeKey) ([]byte, error) {
	buf := make([]byte, 0, len(v.Nationality)+4)
	buf = append(buf, v.Nationality...)
	return binary.LittleEndian.AppendUint32(buf, uint32(v.Age)), nil
}

func (compositeKeySerializer) Deserialize(data []byte) (CompositeKey, error) {
	if len(data) < 4 {
		return CompositeKey{}, fmt.Errorf("composite key of %d bytes: %w", len(data), ErrCorrupted)
	}
	split := len(data) - 4
	return CompositeKey{
		Nationality: string(data[:split]),
		Age:         int32(binary.LittleEndian.Uint32(data[split:])),
	}, nil
}

func (compositeKeySerializer) Size() int { return -1 }

// recordIDSerializer encodes index values, record ids, as little-endian u32.
type recordIDSerializer struct{}

func (recordIDSerializer) Serialize(v uint32) ([]byte, error) {
	return binary.LittleEndian.AppendUint32(nil, v), nil
}

func (recordIDSerializer) Deserialize(data []byte) (uint32, error) {
	return binary.LittleEndian.Uint32(data), nil
}

func (recordIDSerializer) Size() int { return 4 }
