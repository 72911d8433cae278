// Package recordfile stores variable-length records as chains of fixed-size
// blocks. Record id 0 is reserved for the free-block list; reusable block ids
// are kept there as a LIFO stack of little-endian uint32 values.
package recordfile

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ChainDB/blockfile"
	"ChainDB/logging"
)

const (
	// MaxRecordSize caps a single record payload at 4 MiB.
	MaxRecordSize = 4 << 20
	// FreeListRecordID is the reserved record holding reusable block ids.
	FreeListRecordID = 0
)

var (
	// ErrNotFound is returned when a record chain is expected to exist but does not.
	ErrNotFound = errors.New("record not found")
	// ErrCorrupted signals a broken chain or malformed free list.
	ErrCorrupted = errors.New("record file corrupted")
	// ErrTooLarge is returned for payloads beyond MaxRecordSize.
	ErrTooLarge = errors.New("record exceeds maximum size")
)

// Storage composes a block storage into a record store.
type Storage struct {
	blocks *blockfile.Storage
	mu     sync.Mutex
	log    *slog.Logger
}

// NewStorage wraps blocks, creating the free-list record (block 0) if the
// underlying file is empty.
func NewStorage(blocks *blockfile.Storage) (*Storage, error) {
	s := &Storage{
		blocks: blocks,
		log:    logging.WithComponent("recordfile"),
	}
	head, err := blocks.Find(FreeListRecordID)
	if err != nil {
		return nil, err
	}
	if head == nil {
		head, err = blocks.CreateNew()
		if err != nil {
			return nil, fmt.Errorf("failed to create free-list record: %w", err)
		}
		if head.ID() != FreeListRecordID {
			return nil, fmt.Errorf("free-list head landed at block %d: %w", head.ID(), ErrCorrupted)
		}
	}
	if err := head.Release(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open creates a record storage over the block file at path.
func Open(path string, opts blockfile.Options) (*Storage, error) {
	blocks, err := blockfile.Open(path, opts)
	if err != nil {
		return nil, err
	}
	storage, err := NewStorage(blocks)
	if err != nil {
		blocks.Close()
		return nil, err
	}
	return storage, nil
}

// Blocks exposes the underlying block storage.
func (s *Storage) Blocks() *blockfile.Storage {
	return s.blocks
}

// Close flushes cached blocks and closes the underlying stream.
func (s *Storage) Close() error {
	return s.blocks.Close()
}

// Create allocates an empty record and returns its id.
func (s *Storage) Create() (uint32, error) {
	return s.CreateWith(func(uint32) ([]byte, error) { return nil, nil })
}

// CreateBytes allocates a record holding data and returns its id.
func (s *Storage) CreateBytes(data []byte) (uint32, error) {
	return s.CreateWith(func(uint32) ([]byte, error) { return data, nil })
}

// CreateWith allocates a head block, hands its id to gen, and writes the
// generated payload. The callback lets callers embed the record's own id in
// its payload.
func (s *Storage) CreateWith(gen func(id uint32) ([]byte, error)) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.allocateBlock()
	if err != nil {
		return 0, err
	}
	id := head.ID()

	data, err := gen(id)
	if err != nil {
		s.freeBlock(head)
		return 0, err
	}
	if len(data) > MaxRecordSize {
		s.freeBlock(head)
		return 0, fmt.Errorf("payload of %d bytes: %w", len(data), ErrTooLarge)
	}

	if err := s.writeChain([]*blockfile.Block{head}, data); err != nil {
		return 0, err
	}
	s.log.Debug("record created", "id", id, "bytes", len(data))
	return id, nil
}

// Find returns the record payload, or nil without error when id does not name
// a live record head.
func (s *Storage) Find(id uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.blocks.Find(id)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, nil
	}

	deleted, err := head.Header(blockfile.HeaderIsDeleted)
	if err != nil {
		return nil, err
	}
	prev, err := head.Header(blockfile.HeaderPreviousBlockID)
	if err != nil {
		return nil, err
	}
	if deleted != 0 || prev != 0 {
		return nil, head.Release()
	}

	length, err := head.Header(blockfile.HeaderRecordLength)
	if err != nil {
		return nil, err
	}
	if length < 0 || length > MaxRecordSize {
		head.Release()
		return nil, fmt.Errorf("record %d length %d: %w", id, length, ErrCorrupted)
	}

	buf := make([]byte, length)
	off := 0
	block := head
	for {
		contentLen, err := block.Header(blockfile.HeaderContentLength)
		if err != nil {
			return nil, err
		}
		if contentLen < 0 || contentLen > int64(s.blocks.BlockContentSize()) {
			block.Release()
			return nil, fmt.Errorf("record %d block %d content length %d: %w",
				id, block.ID(), contentLen, ErrCorrupted)
		}
		if off+int(contentLen) > len(buf) {
			block.Release()
			return nil, fmt.Errorf("record %d chain longer than its length %d: %w", id, length, ErrCorrupted)
		}
		if err := block.ReadContent(buf, off, 0, int(contentLen)); err != nil {
			return nil, err
		}
		off += int(contentLen)

		next, err := block.Header(blockfile.HeaderNextBlockID)
		if err != nil {
			return nil, err
		}
		if err := block.Release(); err != nil {
			return nil, err
		}
		if next == 0 {
			break
		}
		block, err = s.findChainLink(id, uint32(next))
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Update rewrites the record in place. The head id is preserved; the chain
// grows or shrinks as needed, surplus blocks go back to the free list.
func (s *Storage) Update(id uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(data) > MaxRecordSize {
		return fmt.Errorf("payload of %d bytes: %w", len(data), ErrTooLarge)
	}
	chain, err := s.findBlocks(id)
	if err != nil {
		return err
	}
	if err := s.writeChain(chain, data); err != nil {
		return err
	}
	s.log.Debug("record updated", "id", id, "bytes", len(data))
	return nil
}

// Delete tombstones every block of the record and pushes their ids onto the
// free list.
func (s *Storage) Delete(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain, err := s.findBlocks(id)
	if err != nil {
		return err
	}
	for _, block := range chain {
		if err := s.freeBlock(block); err != nil {
			return err
		}
	}
	s.log.Debug("record deleted", "id", id, "blocks", len(chain))
	return nil
}

// findBlocks walks the chain of record id and returns open handles for every
// block, head first. The caller owns their release.
func (s *Storage) findBlocks(id uint32) ([]*blockfile.Block, error) {
	head, err := s.blocks.Find(id)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	deleted, err := head.Header(blockfile.HeaderIsDeleted)
	if err != nil {
		return nil, err
	}
	prev, err := head.Header(blockfile.HeaderPreviousBlockID)
	if err != nil {
		return nil, err
	}
	if deleted != 0 || prev != 0 {
		head.Release()
		return nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}

	chain := []*blockfile.Block{head}
	block := head
	for {
		next, err := block.Header(blockfile.HeaderNextBlockID)
		if err != nil {
			releaseAll(chain)
			return nil, err
		}
		if next == 0 {
			return chain, nil
		}
		block, err = s.findChainLink(id, uint32(next))
		if err != nil {
			releaseAll(chain)
			return nil, err
		}
		chain = append(chain, block)
	}
}

// findChainLink loads a non-head chain block and validates it is live.
func (s *Storage) findChainLink(record, id uint32) (*blockfile.Block, error) {
	block, err := s.blocks.Find(id)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("record %d chain link %d missing: %w", record, id, ErrCorrupted)
	}
	deleted, err := block.Header(blockfile.HeaderIsDeleted)
	if err != nil {
		return nil, err
	}
	if deleted != 0 {
		block.Release()
		return nil, fmt.Errorf("record %d chain link %d is deleted: %w", record, id, ErrCorrupted)
	}
	return block, nil
}

// writeChain lays data across the given blocks in order, allocating extra
// blocks or freeing surplus ones, then releases every handle it used.
func (s *Storage) writeChain(chain []*blockfile.Block, data []byte) error {
	contentSize := s.blocks.BlockContentSize()
	needed := (len(data) + contentSize - 1) / contentSize
	if needed == 0 {
		needed = 1
	}

	for len(chain) < needed {
		block, err := s.allocateBlock()
		if err != nil {
			releaseAll(chain)
			return err
		}
		chain = append(chain, block)
	}
	surplus := chain[needed:]
	chain = chain[:needed]

	off := 0
	for i, block := range chain {
		n := len(data) - off
		if n > contentSize {
			n = contentSize
		}
		if n > 0 {
			if err := block.WriteContent(data, off, 0, n); err != nil {
				releaseAll(chain[i:])
				releaseAll(surplus)
				return err
			}
		}
		var next, prev int64
		if i+1 < len(chain) {
			next = int64(chain[i+1].ID())
		}
		if i > 0 {
			prev = int64(chain[i-1].ID())
		}
		if err := setHeaders(block, map[int]int64{
			blockfile.HeaderNextBlockID:     next,
			blockfile.HeaderPreviousBlockID: prev,
			blockfile.HeaderContentLength:   int64(n),
			blockfile.HeaderIsDeleted:       0,
		}); err != nil {
			releaseAll(chain[i:])
			releaseAll(surplus)
			return err
		}
		if i == 0 {
			if err := block.SetHeader(blockfile.HeaderRecordLength, int64(len(data))); err != nil {
				releaseAll(chain[i:])
				releaseAll(surplus)
				return err
			}
		}
		off += n
		if err := block.Release(); err != nil {
			releaseAll(chain[i+1:])
			releaseAll(surplus)
			return err
		}
	}

	for _, block := range surplus {
		if err := s.freeBlock(block); err != nil {
			return err
		}
	}
	return nil
}

// allocateBlock reuses a block from the free list when one is available,
// otherwise extends the file.
func (s *Storage) allocateBlock() (*blockfile.Block, error) {
	id, ok, err := s.tryFindFreeBlock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.blocks.CreateNew()
	}

	block, err := s.blocks.Find(id)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("free list named missing block %d: %w", id, ErrCorrupted)
	}
	for field := blockfile.HeaderNextBlockID; field <= blockfile.HeaderIsDeleted; field++ {
		if err := block.SetHeader(field, 0); err != nil {
			block.Release()
			return nil, err
		}
	}
	s.log.Debug("block reused", "id", id)
	return block, nil
}

// freeBlock tombstones the block and pushes its id onto the free list. The
// handle is released.
func (s *Storage) freeBlock(block *blockfile.Block) error {
	id := block.ID()
	if err := block.SetHeader(blockfile.HeaderIsDeleted, 1); err != nil {
		block.Release()
		return err
	}
	if err := block.Release(); err != nil {
		return err
	}
	return s.markAsFree(id)
}

func setHeaders(block *blockfile.Block, fields map[int]int64) error {
	for field, value := range fields {
		if err := block.SetHeader(field, value); err != nil {
			return err
		}
	}
	return nil
}

func releaseAll(blocks []*blockfile.Block) {
	for _, b := range blocks {
		b.Release()
	}
}
