package database

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Row is one stored entity: a unique 16-byte id, the composite secondary key
// fields, and an opaque application payload.
type Row struct {
	ID          uuid.UUID
	Nationality string
	Age         int32
	Payload     []byte
}

// encodeRow frames a row as
// id(16) | age(4) | natLen(4) | nationality | payloadLen(4) | payload
// with little-endian integers.
func encodeRow(row Row) []byte {
	buf := make([]byte, 0, 16+4+4+len(row.Nationality)+4+len(row.Payload))
	buf = append(buf, row.ID[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(row.Age))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(row.Nationality)))
	buf = append(buf, row.Nationality...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(row.Payload)))
	buf = append(buf, row.Payload...)
	return buf
}

func decodeRow(data []byte) (*Row, error) {
	if len(data) < 16+4+4 {
		return nil, fmt.Errorf("row of %d bytes: %w", len(data), ErrCorrupted)
	}
	var row Row
	copy(row.ID[:], data[:16])
	row.Age = int32(binary.LittleEndian.Uint32(data[16:]))
	offset := 20

	natLen := int(int32(binary.LittleEndian.Uint32(data[offset:])))
	offset += 4
	if natLen < 0 || offset+natLen > len(data) {
		return nil, fmt.Errorf("row nationality of %d bytes: %w", natLen, ErrCorrupted)
	}
	row.Nationality = string(data[offset : offset+natLen])
	offset += natLen

	if offset+4 > len(data) {
		return nil, fmt.Errorf("row truncated at payload length: %w", ErrCorrupted)
	}
	payloadLen := int(int32(binary.LittleEndian.Uint32(data[offset:])))
	offset += 4
	if payloadLen < 0 || offset+payloadLen > len(data) {
		return nil, fmt.Errorf("row payload of %d bytes: %w", payloadLen, ErrCorrupted)
	}
	if payloadLen > 0 {
		row.Payload = append([]byte(nil), data[offset:offset+payloadLen]...)
	}
	return &row, nil
}
