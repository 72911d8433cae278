// Package database is the domain boundary of the storage stack: rows keyed
// by a 16-byte id live as records in a data file, indexed by a unique
// primary B-tree (id → record id) and a non-unique secondary B-tree
// ((nationality, age) → record id), each in its own file.
package database

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"ChainDB/blockfile"
	"ChainDB/btree"
	"ChainDB/logging"
	"ChainDB/recordfile"
)

const (
	// PrimaryIndexSuffix is appended to the data path for the primary index file.
	PrimaryIndexSuffix = ".pidx"
	// SecondaryIndexSuffix is appended to the data path for the secondary index file.
	SecondaryIndexSuffix = ".sidx"
)

var (
	// ErrDisposed is returned for any call after Close.
	ErrDisposed = errors.New("database is closed")
	// ErrNotFound is returned when deleting a row whose id is not indexed.
	ErrNotFound = errors.New("row not found")
	// ErrKeyExists is returned when inserting a row with an already used id.
	ErrKeyExists = errors.New("row id already exists")
	// ErrCorrupted signals a malformed stored row or a dangling index entry.
	ErrCorrupted = errors.New("database corrupted")
)

// Options configures the files and trees of a database.
type Options struct {
	// DataBlockSize is the block size of the data file.
	DataBlockSize int
	// IndexBlockSize is the block size of both index files.
	IndexBlockSize int
	// MinEntriesPerNode is T for both index trees.
	MinEntriesPerNode int
	// CacheCapacity bounds the node cache of each index tree.
	CacheCapacity int
}

// DefaultOptions returns the standard geometry: 4 KiB data blocks, 40 KiB
// index blocks.
func DefaultOptions() Options {
	return Options{
		DataBlockSize:     blockfile.DefaultBlockSize,
		IndexBlockSize:    blockfile.DefaultIndexBlockSize,
		MinEntriesPerNode: btree.DefaultMinEntriesPerNode,
		CacheCapacity:     btree.DefaultCacheCapacity,
	}
}

// DB is a single-process handle on one table: a data file plus two index
// files. It is not safe for concurrent use and is single-use; Close disposes
// it permanently.
type DB struct {
	data      *recordfile.Storage
	primaryIX *recordfile.Storage
	secondIX  *recordfile.Storage

	primary   *btree.Tree[uuid.UUID, uint32]
	secondary *btree.Tree[CompositeKey, uint32]

	closed bool
	log    *slog.Logger
}

// Open opens (creating when absent) the database at path together with its
// `.pidx` and `.sidx` index files.
func Open(path string, opts Options) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("failed to open database: %w", blockfile.ErrEmptyPath)
	}
	defaults := DefaultOptions()
	if opts.DataBlockSize <= 0 {
		opts.DataBlockSize = defaults.DataBlockSize
	}
	if opts.IndexBlockSize <= 0 {
		opts.IndexBlockSize = defaults.IndexBlockSize
	}

	data, err := recordfile.Open(path, blockfile.Options{
		BlockSize:       opts.DataBlockSize,
		BlockHeaderSize: blockfile.DefaultBlockHeaderSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}

	indexOpts := blockfile.Options{
		BlockSize:       opts.IndexBlockSize,
		BlockHeaderSize: blockfile.DefaultBlockHeaderSize,
	}
	primaryIX, err := recordfile.Open(path+PrimaryIndexSuffix, indexOpts)
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("failed to open primary index: %w", err)
	}
	secondIX, err := recordfile.Open(path+SecondaryIndexSuffix, indexOpts)
	if err != nil {
		primaryIX.Close()
		data.Close()
		return nil, fmt.Errorf("failed to open secondary index: %w", err)
	}

	primaryNodes, err := btree.NewNodeManager(primaryIX, btree.Config[uuid.UUID, uint32]{
		Keys:              uuidKeySerializer{},
		Values:            recordIDSerializer{},
		Compare:           compareUUIDs,
		MinEntriesPerNode: opts.MinEntriesPerNode,
		CacheCapacity:     opts.CacheCapacity,
	})
	if err == nil {
		var secondaryNodes *btree.NodeManager[CompositeKey, uint32]
		secondaryNodes, err = btree.NewNodeManager(secondIX, btree.Config[CompositeKey, uint32]{
			Keys:              compositeKeySerializer{},
			Values:            recordIDSerializer{},
			Compare:           compareCompositeKeys,
			MinEntriesPerNode: opts.MinEntriesPerNode,
			CacheCapacity:     opts.CacheCapacity,
		})
		if err == nil {
			db := &DB{
				data:      data,
				primaryIX: primaryIX,
				secondIX:  secondIX,
				primary:   btree.New(primaryNodes, true),
				secondary: btree.New(secondaryNodes, false),
				log:       logging.WithComponent("database"),
			}
			db.log.Info("database opened", "path", path)
			return db, nil
		}
	}

	secondIX.Close()
	primaryIX.Close()
	data.Close()
	return nil, fmt.Errorf("failed to open index trees: %w", err)
}

// Insert stores a row and indexes it under its id and its composite key.
func (db *DB) Insert(row Row) error {
	if db.closed {
		return ErrDisposed
	}
	existing, err := db.primary.Get(row.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("row %s: %w", row.ID, ErrKeyExists)
	}

	recordID, err := db.data.CreateBytes(encodeRow(row))
	if err != nil {
		return fmt.Errorf("failed to store row %s: %w", row.ID, err)
	}
	if err := db.primary.Insert(row.ID, recordID); err != nil {
		db.data.Delete(recordID)
		return err
	}
	if err := db.secondary.Insert(secondaryKey(row), recordID); err != nil {
		db.primary.Delete(row.ID)
		db.data.Delete(recordID)
		return err
	}
	db.log.Debug("row inserted", "id", row.ID, "record", recordID)
	return nil
}

// Find returns the row stored under id, or nil when absent.
func (db *DB) Find(id uuid.UUID) (*Row, error) {
	if db.closed {
		return nil, ErrDisposed
	}
	entry, err := db.primary.Get(id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	return db.loadRow(entry.Value)
}

// FindBy returns a lazy iterator over all rows whose composite key equals
// (nationality, age).
func (db *DB) FindBy(nationality string, age int32) *RowIterator {
	if db.closed {
		return &RowIterator{err: ErrDisposed}
	}
	key := CompositeKey{Nationality: nationality, Age: age}
	return &RowIterator{db: db, key: key, entries: db.secondary.LargerThanOrEqual(key)}
}

// Delete removes the row with row's id from both indexes and deletes its
// record. It fails with ErrNotFound when the id is not indexed.
func (db *DB) Delete(row Row) error {
	if db.closed {
		return ErrDisposed
	}
	entry, err := db.primary.Get(row.ID)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("row %s: %w", row.ID, ErrNotFound)
	}
	recordID := entry.Value

	if _, err := db.primary.Delete(row.ID); err != nil {
		return err
	}
	if _, err := db.secondary.DeleteBy(secondaryKey(row), recordID, compareRecordIDs); err != nil {
		return err
	}
	if err := db.data.Delete(recordID); err != nil {
		return fmt.Errorf("failed to delete row %s: %w", row.ID, err)
	}
	db.log.Debug("row deleted", "id", row.ID, "record", recordID)
	return nil
}

// Close flushes and closes all three files. The handle must not be used
// afterwards.
func (db *DB) Close() error {
	if db.closed {
		return ErrDisposed
	}
	db.closed = true

	err := db.data.Close()
	if e := db.primaryIX.Close(); err == nil {
		err = e
	}
	if e := db.secondIX.Close(); err == nil {
		err = e
	}
	db.log.Info("database closed")
	return err
}

func (db *DB) loadRow(recordID uint32) (*Row, error) {
	payload, err := db.data.Find(recordID)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, fmt.Errorf("index names missing record %d: %w", recordID, ErrCorrupted)
	}
	return decodeRow(payload)
}

func secondaryKey(row Row) CompositeKey {
	return CompositeKey{Nationality: row.Nationality, Age: row.Age}
}
