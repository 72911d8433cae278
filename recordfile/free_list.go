package recordfile

import (
	"encoding/binary"
	"fmt"

	"ChainDB/blockfile"
)

// The free list is record 0. Its payload is a stack of 4-byte little-endian
// block ids appended to the tail block's content; the content length of every
// block in the chain stays a multiple of 4.

// freeListTail walks record 0 and returns open handles for its last block and
// the block before it (nil when the chain has a single block). Intermediate
// blocks are released during the walk.
func (s *Storage) freeListTail() (last, prev *blockfile.Block, err error) {
	head, err := s.blocks.Find(FreeListRecordID)
	if err != nil {
		return nil, nil, err
	}
	if head == nil {
		return nil, nil, fmt.Errorf("free-list record missing: %w", ErrCorrupted)
	}

	last = head
	for {
		next, err := last.Header(blockfile.HeaderNextBlockID)
		if err != nil {
			releasePair(last, prev)
			return nil, nil, err
		}
		if next == 0 {
			return last, prev, nil
		}
		if prev != nil {
			if err := prev.Release(); err != nil {
				releasePair(last, nil)
				return nil, nil, err
			}
		}
		prev = last
		last, err = s.findChainLink(FreeListRecordID, uint32(next))
		if err != nil {
			releasePair(nil, prev)
			return nil, nil, err
		}
	}
}

// tryFindFreeBlock pops the most recently freed block id. When the tail block
// of the free list is empty, the id popped from its predecessor is reused and
// the tail block itself takes that slot on the stack, shrinking the chain.
func (s *Storage) tryFindFreeBlock() (uint32, bool, error) {
	last, prev, err := s.freeListTail()
	if err != nil {
		return 0, false, err
	}

	length, err := last.Header(blockfile.HeaderContentLength)
	if err != nil {
		releasePair(last, prev)
		return 0, false, err
	}
	if length%4 != 0 {
		releasePair(last, prev)
		return 0, false, fmt.Errorf("free-list block %d content length %d: %w",
			last.ID(), length, ErrCorrupted)
	}

	if length > 0 {
		var raw [4]byte
		if err := last.ReadContent(raw[:], 0, int(length)-4, 4); err != nil {
			releasePair(last, prev)
			return 0, false, err
		}
		if err := last.SetHeader(blockfile.HeaderContentLength, length-4); err != nil {
			releasePair(last, prev)
			return 0, false, err
		}
		releasePair(last, prev)
		return binary.LittleEndian.Uint32(raw[:]), true, nil
	}

	if prev == nil {
		releasePair(last, nil)
		return 0, false, nil
	}

	prevLen, err := prev.Header(blockfile.HeaderContentLength)
	if err != nil {
		releasePair(last, prev)
		return 0, false, err
	}
	if prevLen <= 0 || prevLen%4 != 0 {
		releasePair(last, prev)
		return 0, false, fmt.Errorf("free-list block %d content length %d: %w",
			prev.ID(), prevLen, ErrCorrupted)
	}

	var raw [4]byte
	if err := prev.ReadContent(raw[:], 0, int(prevLen)-4, 4); err != nil {
		releasePair(last, prev)
		return 0, false, err
	}
	freeID := binary.LittleEndian.Uint32(raw[:])

	// The empty tail leaves the chain and its own id takes over the slot just
	// popped, so it becomes the next reuse candidate.
	binary.LittleEndian.PutUint32(raw[:], last.ID())
	if err := prev.WriteContent(raw[:], 0, int(prevLen)-4, 4); err != nil {
		releasePair(last, prev)
		return 0, false, err
	}
	if err := prev.SetHeader(blockfile.HeaderNextBlockID, 0); err != nil {
		releasePair(last, prev)
		return 0, false, err
	}
	if err := last.SetHeader(blockfile.HeaderPreviousBlockID, 0); err != nil {
		releasePair(last, prev)
		return 0, false, err
	}
	releasePair(last, prev)
	return freeID, true, nil
}

// markAsFree pushes id onto the free-list stack, growing a new tail block
// when the current tail is full.
func (s *Storage) markAsFree(id uint32) error {
	last, prev, err := s.freeListTail()
	if err != nil {
		return err
	}
	if prev != nil {
		if err := prev.Release(); err != nil {
			last.Release()
			return err
		}
	}

	length, err := last.Header(blockfile.HeaderContentLength)
	if err != nil {
		last.Release()
		return err
	}
	if length%4 != 0 {
		last.Release()
		return fmt.Errorf("free-list block %d content length %d: %w", last.ID(), length, ErrCorrupted)
	}

	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], id)

	if int(length)+4 <= s.blocks.BlockContentSize() {
		if err := last.WriteContent(raw[:], 0, int(length), 4); err != nil {
			last.Release()
			return err
		}
		if err := last.SetHeader(blockfile.HeaderContentLength, length+4); err != nil {
			last.Release()
			return err
		}
		return last.Release()
	}

	// Tail is full: grow the chain by a fresh block. The new tail starts with
	// exactly one stacked id, so its content length is 4.
	tail, err := s.blocks.CreateNew()
	if err != nil {
		last.Release()
		return err
	}
	if err := last.SetHeader(blockfile.HeaderNextBlockID, int64(tail.ID())); err != nil {
		releasePair(last, tail)
		return err
	}
	if err := tail.SetHeader(blockfile.HeaderPreviousBlockID, int64(last.ID())); err != nil {
		releasePair(last, tail)
		return err
	}
	if err := tail.WriteContent(raw[:], 0, 0, 4); err != nil {
		releasePair(last, tail)
		return err
	}
	if err := tail.SetHeader(blockfile.HeaderContentLength, 4); err != nil {
		releasePair(last, tail)
		return err
	}
	if err := last.Release(); err != nil {
		tail.Release()
		return err
	}
	return tail.Release()
}

func releasePair(a, b *blockfile.Block) {
	if a != nil {
		a.Release()
	}
	if b != nil {
		b.Release()
	}
}
