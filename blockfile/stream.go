package blockfile

import (
	"fmt"
	"os"
	"sync"
)

// Stream is the byte-addressed persistence abstraction underneath a block
// storage. FileStream is the production implementation; MemStream keeps
// everything in memory for tests.
type Stream interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Size() (int64, error)
	Sync() error
	Close() error
}

// FileStream is a Stream backed by a single exclusively owned file.
type FileStream struct {
	file     *os.File
	filePath string
}

// OpenFileStream opens or creates the file at path for read/write.
func OpenFileStream(path string) (*FileStream, error) {
	if path == "" {
		return nil, fmt.Errorf("open stream: %w", ErrEmptyPath)
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &FileStream{file: file, filePath: path}, nil
}

func (s *FileStream) ReadAt(p []byte, off int64) (int, error) {
	if s.file == nil {
		return 0, ErrDisposed
	}
	return s.file.ReadAt(p, off)
}

func (s *FileStream) WriteAt(p []byte, off int64) (int, error) {
	if s.file == nil {
		return 0, ErrDisposed
	}
	return s.file.WriteAt(p, off)
}

func (s *FileStream) Size() (int64, error) {
	if s.file == nil {
		return 0, ErrDisposed
	}
	stat, err := s.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", s.filePath, err)
	}
	return stat.Size(), nil
}

func (s *FileStream) Sync() error {
	if s.file == nil {
		return ErrDisposed
	}
	return s.file.Sync()
}

// Close syncs and closes the underlying file. Closing twice is a no-op.
func (s *FileStream) Close() error {
	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		s.file = nil
		return fmt.Errorf("failed to sync before close: %w", err)
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// MemStream is an in-memory Stream used by tests and throwaway stores.
type MemStream struct {
	data []byte
	mu   sync.RWMutex
}

// NewMemStream returns an empty in-memory stream.
func NewMemStream() *MemStream {
	return &MemStream{}
}

func (s *MemStream) ReadAt(p []byte, off int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	// Reads past the end are zero-filled, mirroring a sparse file.
	for i := range p {
		p[i] = 0
	}
	if off >= int64(len(s.data)) {
		return len(p), nil
	}
	copy(p, s.data[off:])
	return len(p), nil
}

func (s *MemStream) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	end := off + int64(len(p))
	if end > int64(len(s.data)) {
		grown := make([]byte, end)
		copy(grown, s.data)
		s.data = grown
	}
	copy(s.data[off:], p)
	return len(p), nil
}

func (s *MemStream) Size() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.data)), nil
}

func (s *MemStream) Sync() error { return nil }

func (s *MemStream) Close() error { return nil }
