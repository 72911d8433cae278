package blockfile

import "errors"

var (
	// ErrDisposed is returned when a stream, storage or block is used after release.
	ErrDisposed = errors.New("storage is disposed")
	// ErrOutOfRange is returned for offsets, lengths or header indices outside bounds.
	ErrOutOfRange = errors.New("argument out of range")
	// ErrCorrupted signals an on-disk layout violation, such as a file length
	// that is not a multiple of the block size.
	ErrCorrupted = errors.New("block file corrupted")
	// ErrEmptyPath is returned when a storage is opened with an empty path.
	ErrEmptyPath = errors.New("path is empty")
)
