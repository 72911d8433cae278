package database

import "ChainDB/btree"

// RowIterator walks all rows sharing one composite key, loading each row
// lazily on Next.
type RowIterator struct {
	db      *DB
	key     CompositeKey
	entries *btree.Iterator[CompositeKey, uint32]

	row  *Row
	done bool
	err  error
}

// Next advances to the next matching row. It returns false when the matches
// are exhausted or an error occurred; check Err afterwards.
func (it *RowIterator) Next() bool {
	if it.err != nil || it.done {
		return false
	}
	if !it.entries.Next() {
		it.err = it.entries.Err()
		it.done = true
		it.row = nil
		return false
	}
	if compareCompositeKeys(it.entries.Key(), it.key) != 0 {
		it.done = true
		it.row = nil
		return false
	}
	row, err := it.db.loadRow(it.entries.Value())
	if err != nil {
		it.err = err
		it.done = true
		it.row = nil
		return false
	}
	it.row = row
	return true
}

// Row returns the row the iterator currently points at, or nil before the
// first Next and after exhaustion.
func (it *RowIterator) Row() *Row {
	return it.row
}

// Err returns the first error the iterator ran into, if any.
func (it *RowIterator) Err() error {
	return it.err
}
