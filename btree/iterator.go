package btree

import "fmt"

// Iterator is a lazy, single-pass scan over a key range. It starts one step
// before the first entry; each Next advances and reports whether an entry is
// available. Mutating the tree during iteration is not supported.
type Iterator[K, V any] struct {
	tree      *Tree[K, V]
	node      *TreeNode[K, V]
	index     int
	ascending bool
	entry     Entry[K, V]
	done      bool
	err       error
}

// LargerThanOrEqual scans entries with key >= key in ascending key order.
func (t *Tree[K, V]) LargerThanOrEqual(key K) *Iterator[K, V] {
	node, r, err := t.findNodeForIteration(key, true)
	if err != nil {
		return &Iterator[K, V]{err: err}
	}
	start := r
	if r < 0 {
		start = ^r
	}
	return &Iterator[K, V]{tree: t, node: node, index: start - 1, ascending: true}
}

// LargerThan scans entries with key > key in ascending key order.
func (t *Tree[K, V]) LargerThan(key K) *Iterator[K, V] {
	node, r, err := t.findNodeForIteration(key, false)
	if err != nil {
		return &Iterator[K, V]{err: err}
	}
	start := r + 1
	if r < 0 {
		start = ^r
	}
	return &Iterator[K, V]{tree: t, node: node, index: start - 1, ascending: true}
}

// LessThanOrEqual scans entries with key <= key in descending key order.
func (t *Tree[K, V]) LessThanOrEqual(key K) *Iterator[K, V] {
	node, r, err := t.findNodeForIteration(key, false)
	if err != nil {
		return &Iterator[K, V]{err: err}
	}
	start := r
	if r < 0 {
		start = ^r - 1
	}
	return &Iterator[K, V]{tree: t, node: node, index: start + 1}
}

// LessThan scans entries with key < key in descending key order.
func (t *Tree[K, V]) LessThan(key K) *Iterator[K, V] {
	node, r, err := t.findNodeForIteration(key, true)
	if err != nil {
		return &Iterator[K, V]{err: err}
	}
	start := r - 1
	if r < 0 {
		start = ^r - 1
	}
	return &Iterator[K, V]{tree: t, node: node, index: start + 1}
}

// Next advances to the following entry. It returns false when the scan is
// exhausted or failed; Err distinguishes the two.
func (it *Iterator[K, V]) Next() bool {
	if it.err != nil || it.done || it.node == nil {
		return false
	}
	var ok bool
	var err error
	if it.ascending {
		ok, err = it.moveNext()
	} else {
		ok, err = it.movePrev()
	}
	if err != nil {
		it.err = err
		return false
	}
	if !ok {
		it.done = true
		return false
	}
	it.entry = it.node.Entries[it.index]
	return true
}

// Key returns the key of the current entry.
func (it *Iterator[K, V]) Key() K {
	return it.entry.Key
}

// Value returns the value of the current entry.
func (it *Iterator[K, V]) Value() V {
	return it.entry.Value
}

// Err returns the first error the scan hit, if any.
func (it *Iterator[K, V]) Err() error {
	return it.err
}

// moveNext steps to the successor entry: into the subtree right of the
// current entry when at an internal node, along the leaf otherwise, climbing
// to the parent when the leaf is exhausted.
func (it *Iterator[K, V]) moveNext() (bool, error) {
	t := it.tree
	if !it.node.IsLeaf() {
		node, err := t.child(it.node, it.index+1)
		if err != nil {
			return false, err
		}
		for !node.IsLeaf() {
			node, err = t.child(node, 0)
			if err != nil {
				return false, err
			}
		}
		it.node = node
		it.index = 0
		return len(node.Entries) > 0, nil
	}

	it.index++
	if it.index < len(it.node.Entries) {
		return true, nil
	}
	for {
		if it.node.ParentID == 0 {
			return false, nil
		}
		parent, err := t.nodes.Find(it.node.ParentID)
		if err != nil {
			return false, err
		}
		if parent == nil {
			return false, fmt.Errorf("node %d parent %d missing: %w", it.node.ID, it.node.ParentID, ErrCorrupted)
		}
		i, err := childIndex(parent, it.node.ID)
		if err != nil {
			return false, err
		}
		it.node = parent
		it.index = i
		if i < len(parent.Entries) {
			return true, nil
		}
	}
}

// movePrev mirrors moveNext for descending scans.
func (it *Iterator[K, V]) movePrev() (bool, error) {
	t := it.tree
	if !it.node.IsLeaf() {
		node, err := t.child(it.node, it.index)
		if err != nil {
			return false, err
		}
		for !node.IsLeaf() {
			node, err = t.child(node, len(node.ChildIDs)-1)
			if err != nil {
				return false, err
			}
		}
		it.node = node
		it.index = len(node.Entries) - 1
		return it.index >= 0, nil
	}

	it.index--
	if it.index >= 0 {
		return true, nil
	}
	for {
		if it.node.ParentID == 0 {
			return false, nil
		}
		parent, err := t.nodes.Find(it.node.ParentID)
		if err != nil {
			return false, err
		}
		if parent == nil {
			return false, fmt.Errorf("node %d parent %d missing: %w", it.node.ID, it.node.ParentID, ErrCorrupted)
		}
		i, err := childIndex(parent, it.node.ID)
		if err != nil {
			return false, err
		}
		it.node = parent
		it.index = i - 1
		if it.index >= 0 {
			return true, nil
		}
	}
}
