package btree

import "fmt"

// Tree is a B-tree over a node manager. A unique tree rejects duplicate
// keys; a non-unique tree allows them and routes duplicates through the
// matching occurrence during descent.
type Tree[K, V any] struct {
	nodes  *NodeManager[K, V]
	unique bool
}

// New builds a tree over nodes.
func New[K, V any](nodes *NodeManager[K, V], unique bool) *Tree[K, V] {
	return &Tree[K, V]{nodes: nodes, unique: unique}
}

// Nodes exposes the underlying node manager.
func (t *Tree[K, V]) Nodes() *NodeManager[K, V] {
	return t.nodes
}

// Get returns the entry stored under key, or nil when absent. In a
// non-unique tree an arbitrary matching occurrence is returned.
func (t *Tree[K, V]) Get(key K) (*Entry[K, V], error) {
	node := t.nodes.RootNode()
	for {
		r := t.searchEntries(node, key)
		if r >= 0 {
			entry := node.Entries[r]
			return &entry, nil
		}
		if node.IsLeaf() {
			return nil, nil
		}
		child, err := t.child(node, ^r)
		if err != nil {
			return nil, err
		}
		node = child
	}
}

// searchEntries binary-searches the node for key. It returns the index of an
// equal key, or the bitwise complement of the insertion index when absent.
func (t *Tree[K, V]) searchEntries(node *TreeNode[K, V], key K) int {
	compare := t.nodes.KeyComparer()
	lo, hi := 0, len(node.Entries)-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		c := compare(node.Entries[mid].Key, key)
		if c == 0 {
			return mid
		}
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return ^lo
}

// searchEntriesOccurrence is searchEntries pinned to the first or last of a
// run of equal keys, used by scans to position correctly on duplicates.
func (t *Tree[K, V]) searchEntriesOccurrence(node *TreeNode[K, V], key K, first bool) int {
	compare := t.nodes.KeyComparer()
	lo, hi := 0, len(node.Entries)-1
	found := -1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		c := compare(node.Entries[mid].Key, key)
		switch {
		case c == 0:
			found = mid
			if first {
				hi = mid - 1
			} else {
				lo = mid + 1
			}
		case c < 0:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	if found >= 0 {
		return found
	}
	return ^lo
}

// findNodeForInsertion descends to the node where key should be inserted.
// The returned index is the match index when the key exists, or the bitwise
// complement of the insertion index. In a non-unique tree an internal match
// keeps descending left of the matched entry so duplicates land in leaves.
func (t *Tree[K, V]) findNodeForInsertion(key K) (*TreeNode[K, V], int, error) {
	node := t.nodes.RootNode()
	for {
		if len(node.Entries) == 0 {
			return node, ^0, nil
		}
		r := t.searchEntries(node, key)
		if r >= 0 {
			if node.IsLeaf() || t.unique {
				return node, r, nil
			}
			child, err := t.child(node, r)
			if err != nil {
				return nil, 0, err
			}
			node = child
			continue
		}
		if node.IsLeaf() {
			return node, r, nil
		}
		child, err := t.child(node, ^r)
		if err != nil {
			return nil, 0, err
		}
		node = child
	}
}

// findNodeForIteration descends to the leaf bounding key. On an equal-key
// hit it follows the first occurrence when moveLeft, else the last, so that
// scans start on the correct side of a duplicate run.
func (t *Tree[K, V]) findNodeForIteration(key K, moveLeft bool) (*TreeNode[K, V], int, error) {
	node := t.nodes.RootNode()
	for {
		r := t.searchEntriesOccurrence(node, key, moveLeft)
		if node.IsLeaf() {
			return node, r, nil
		}
		childIdx := 0
		switch {
		case r >= 0 && moveLeft:
			childIdx = r
		case r >= 0:
			childIdx = r + 1
		default:
			childIdx = ^r
		}
		child, err := t.child(node, childIdx)
		if err != nil {
			return nil, 0, err
		}
		node = child
	}
}

// child loads the i-th child of node, failing when the link is broken.
func (t *Tree[K, V]) child(node *TreeNode[K, V], i int) (*TreeNode[K, V], error) {
	child, err := t.nodes.Find(node.ChildIDs[i])
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, fmt.Errorf("node %d child %d missing: %w", node.ID, node.ChildIDs[i], ErrCorrupted)
	}
	return child, nil
}

// childIndex returns the position of id among parent's children.
func childIndex[K, V any](parent *TreeNode[K, V], id uint32) (int, error) {
	for i, childID := range parent.ChildIDs {
		if childID == id {
			return i, nil
		}
	}
	return 0, fmt.Errorf("node %d is not a child of node %d: %w", id, parent.ID, ErrCorrupted)
}
