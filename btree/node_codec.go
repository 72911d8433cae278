package btree

import (
	"encoding/binary"
	"fmt"
)

// MaxNodeSize is the 64 KiB bound on the serialized form of a single node; an
// encoded node must be strictly smaller.
const MaxNodeSize = 64 << 10

// encodeNode serializes a node.
// Format:
//   - Prefix (12 bytes): ParentID u32, EntriesCount u32, ChildrenCount u32
//   - Entries: key || value when the key encoding is fixed size, otherwise
//     keyLen i32 || key || value
//   - Children: u32 each
//
// All integers are little-endian. Values must be fixed size; the node id is
// not part of the body, it lives in the record head.
func encodeNode[K, V any](n *TreeNode[K, V], keys Serializer[K], values Serializer[V]) ([]byte, error) {
	if values.Size() < 0 {
		return nil, fmt.Errorf("variable-length values: %w", ErrNotSupported)
	}
	fixedKeys := keys.Size() >= 0

	buf := binary.LittleEndian.AppendUint32(nil, n.ParentID)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(n.Entries)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(n.ChildIDs)))

	for i, e := range n.Entries {
		key, err := keys.Serialize(e.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize key %d of node %d: %w", i, n.ID, err)
		}
		if fixedKeys {
			if len(key) != keys.Size() {
				return nil, fmt.Errorf("key %d of node %d encoded to %d bytes, expected %d: %w",
					i, n.ID, len(key), keys.Size(), ErrCorrupted)
			}
		} else {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(key)))
		}
		buf = append(buf, key...)

		value, err := values.Serialize(e.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize value %d of node %d: %w", i, n.ID, err)
		}
		if len(value) != values.Size() {
			return nil, fmt.Errorf("value %d of node %d encoded to %d bytes, expected %d: %w",
				i, n.ID, len(value), values.Size(), ErrCorrupted)
		}
		buf = append(buf, value...)
	}

	for _, id := range n.ChildIDs {
		buf = binary.LittleEndian.AppendUint32(buf, id)
	}

	if len(buf) >= MaxNodeSize {
		return nil, fmt.Errorf("node %d serialized to %d bytes: %w", n.ID, len(buf), ErrTooLarge)
	}
	return buf, nil
}

// decodeNode deserializes a node body. The id is supplied by the caller since
// it is the record id of the chain head, not part of the body.
func decodeNode[K, V any](data []byte, id uint32, keys Serializer[K], values Serializer[V]) (*TreeNode[K, V], error) {
	if values.Size() < 0 {
		return nil, fmt.Errorf("variable-length values: %w", ErrNotSupported)
	}
	if len(data) < 12 {
		return nil, fmt.Errorf("node %d body of %d bytes: %w", id, len(data), ErrCorrupted)
	}

	parentID := binary.LittleEndian.Uint32(data[0:])
	entryCount := binary.LittleEndian.Uint32(data[4:])
	childCount := binary.LittleEndian.Uint32(data[8:])
	if entryCount > MaxNodeSize || childCount > MaxNodeSize {
		return nil, fmt.Errorf("node %d claims %d entries and %d children: %w",
			id, entryCount, childCount, ErrCorrupted)
	}
	offset := 12

	node := &TreeNode[K, V]{
		ID:       id,
		ParentID: parentID,
		Entries:  make([]Entry[K, V], 0, entryCount),
	}

	for i := 0; i < int(entryCount); i++ {
		keyLen := keys.Size()
		if keyLen < 0 {
			if offset+4 > len(data) {
				return nil, fmt.Errorf("node %d truncated at key %d length: %w", id, i, ErrCorrupted)
			}
			keyLen = int(int32(binary.LittleEndian.Uint32(data[offset:])))
			offset += 4
			if keyLen < 0 {
				return nil, fmt.Errorf("node %d key %d length %d: %w", id, i, keyLen, ErrCorrupted)
			}
		}
		if offset+keyLen > len(data) {
			return nil, fmt.Errorf("node %d truncated at key %d: %w", id, i, ErrCorrupted)
		}
		key, err := keys.Deserialize(data[offset : offset+keyLen])
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize key %d of node %d: %w", i, id, err)
		}
		offset += keyLen

		valueLen := values.Size()
		if offset+valueLen > len(data) {
			return nil, fmt.Errorf("node %d truncated at value %d: %w", id, i, ErrCorrupted)
		}
		value, err := values.Deserialize(data[offset : offset+valueLen])
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize value %d of node %d: %w", i, id, err)
		}
		offset += valueLen

		node.Entries = append(node.Entries, Entry[K, V]{Key: key, Value: value})
	}

	if childCount > 0 {
		node.ChildIDs = make([]uint32, 0, childCount)
		for i := 0; i < int(childCount); i++ {
			if offset+4 > len(data) {
				return nil, fmt.Errorf("node %d truncated at child %d: %w", id, i, ErrCorrupted)
			}
			node.ChildIDs = append(node.ChildIDs, binary.LittleEndian.Uint32(data[offset:]))
			offset += 4
		}
	}
	return node, nil
}
