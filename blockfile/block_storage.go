package blockfile

import (
	"fmt"
	"log/slog"
	"sync"

	"ChainDB/logging"
)

// Storage partitions a Stream into fixed-size blocks and hands out cached
// block handles. The cache is keyed by block id; a handle stays cached until
// it is released, at which point its dirty sector is written through.
type Storage struct {
	stream Stream

	blockSize    int
	headerSize   int
	contentSize  int
	sectorSize   int
	headerFields int

	blocks   map[uint32]*Block
	mu       sync.Mutex
	disposed bool
	log      *slog.Logger
}

// NewStorage wraps stream in a block storage with the given geometry. The
// stream length must already be a multiple of the block size.
func NewStorage(stream Stream, opts Options) (*Storage, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	size, err := stream.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to size stream: %w", err)
	}
	if size%int64(opts.BlockSize) != 0 {
		return nil, fmt.Errorf("stream length %d is not a multiple of block size %d: %w",
			size, opts.BlockSize, ErrCorrupted)
	}
	return &Storage{
		stream:       stream,
		blockSize:    opts.BlockSize,
		headerSize:   opts.BlockHeaderSize,
		contentSize:  opts.BlockSize - opts.BlockHeaderSize,
		sectorSize:   opts.sectorSize(),
		headerFields: opts.BlockHeaderSize / 8,
		blocks:       make(map[uint32]*Block),
		log:          logging.WithComponent("blockfile"),
	}, nil
}

// Open creates a block storage over the file at path.
func Open(path string, opts Options) (*Storage, error) {
	stream, err := OpenFileStream(path)
	if err != nil {
		return nil, err
	}
	storage, err := NewStorage(stream, opts)
	if err != nil {
		stream.Close()
		return nil, err
	}
	return storage, nil
}

// BlockSize returns the page size in bytes.
func (s *Storage) BlockSize() int { return s.blockSize }

// BlockHeaderSize returns the per-page header size in bytes.
func (s *Storage) BlockHeaderSize() int { return s.headerSize }

// BlockContentSize returns the usable content bytes per page.
func (s *Storage) BlockContentSize() int { return s.contentSize }

// DiskSectorSize returns the size of the buffered first sector.
func (s *Storage) DiskSectorSize() int { return s.sectorSize }

// CreateNew extends the stream by exactly one zero-filled block and returns a
// handle whose id is the new last page index.
func (s *Storage) CreateNew() (*Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, ErrDisposed
	}

	size, err := s.stream.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to size stream: %w", err)
	}
	if size%int64(s.blockSize) != 0 {
		return nil, fmt.Errorf("stream length %d is not a multiple of block size %d: %w",
			size, s.blockSize, ErrCorrupted)
	}

	id := uint32(size / int64(s.blockSize))
	zero := make([]byte, s.blockSize)
	if _, err := s.stream.WriteAt(zero, size); err != nil {
		return nil, fmt.Errorf("failed to allocate block %d: %w", id, err)
	}

	block := &Block{
		id:      id,
		storage: s,
		sector:  make([]byte, s.sectorSize),
	}
	s.blocks[id] = block
	s.log.Debug("block allocated", "id", id)
	return block, nil
}

// Find returns the cached handle for id, loading its first sector from the
// stream on a miss. A nil block with nil error means the id is past the end
// of the file.
func (s *Storage) Find(id uint32) (*Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, ErrDisposed
	}

	if block, ok := s.blocks[id]; ok {
		return block, nil
	}

	size, err := s.stream.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to size stream: %w", err)
	}
	if (int64(id)+1)*int64(s.blockSize) > size {
		return nil, nil
	}

	sector := make([]byte, s.sectorSize)
	if _, err := s.stream.ReadAt(sector, int64(id)*int64(s.blockSize)); err != nil {
		return nil, fmt.Errorf("failed to read block %d sector: %w", id, err)
	}

	block := &Block{
		id:      id,
		storage: s,
		sector:  sector,
	}
	s.blocks[id] = block
	return block, nil
}

// ReleaseAll releases every cached block, flushing dirty sectors.
func (s *Storage) ReleaseAll() error {
	s.mu.Lock()
	cached := make([]*Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		cached = append(cached, b)
	}
	s.mu.Unlock()

	for _, b := range cached {
		if err := b.Release(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases all cached blocks and closes the stream. The storage must
// not be used afterwards.
func (s *Storage) Close() error {
	if err := s.ReleaseAll(); err != nil {
		return err
	}
	s.mu.Lock()
	s.disposed = true
	s.mu.Unlock()
	return s.stream.Close()
}

func (s *Storage) evict(id uint32) {
	s.mu.Lock()
	delete(s.blocks, id)
	s.mu.Unlock()
}
