package btree

import "fmt"

// Delete removes the entry stored under key from a unique tree and reports
// whether a matching entry existed. Underflowing nodes rebalance by
// borrowing from a sibling or merging; all touched nodes are flushed before
// Delete returns.
func (t *Tree[K, V]) Delete(key K) (bool, error) {
	node := t.nodes.RootNode()
	for {
		r := t.searchEntries(node, key)
		if r >= 0 {
			if err := t.removeAt(node, r); err != nil {
				return false, err
			}
			if err := t.nodes.SaveChanges(); err != nil {
				return false, err
			}
			return true, nil
		}
		if node.IsLeaf() {
			return false, nil
		}
		child, err := t.child(node, ^r)
		if err != nil {
			return false, err
		}
		node = child
	}
}

// DeleteBy removes every entry of a non-unique tree whose key equals key and
// whose value matches under valueCompare. It reports whether anything was
// removed.
func (t *Tree[K, V]) DeleteBy(key K, value V, valueCompare Comparer[V]) (bool, error) {
	removed := false
	for {
		matched, err := t.removeMatch(key, value, valueCompare)
		if err != nil {
			return removed, err
		}
		if !matched {
			break
		}
		removed = true
	}
	if removed {
		if err := t.nodes.SaveChanges(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// removeMatch scans the run of entries equal to key and removes the first
// one whose value matches.
func (t *Tree[K, V]) removeMatch(key K, value V, valueCompare Comparer[V]) (bool, error) {
	compare := t.nodes.KeyComparer()
	it := t.LargerThanOrEqual(key)
	for it.Next() {
		if compare(it.Key(), key) != 0 {
			break
		}
		if valueCompare(it.Value(), value) == 0 {
			return true, t.removeAt(it.node, it.index)
		}
	}
	return false, it.Err()
}

// removeAt deletes the entry at index. An internal entry is first swapped
// with its in-order predecessor so the removal always happens at a leaf;
// the leaf rebalances when it underflows.
func (t *Tree[K, V]) removeAt(node *TreeNode[K, V], index int) error {
	target := node
	if !node.IsLeaf() {
		leaf, err := t.rightmostLeaf(node.ChildIDs[index])
		if err != nil {
			return err
		}
		last := len(leaf.Entries) - 1
		node.Entries[index] = leaf.Entries[last]
		leaf.Entries = leaf.Entries[:last]
		t.nodes.MarkAsChanged(node)
		t.nodes.MarkAsChanged(leaf)
		target = leaf
	} else {
		node.Entries = removeEntry(node.Entries, index)
		t.nodes.MarkAsChanged(node)
	}

	if len(target.Entries) < t.nodes.MinEntriesPerNode() && target.ParentID != 0 {
		return t.rebalance(target)
	}
	return nil
}

// rightmostLeaf descends from id through last children to a leaf.
func (t *Tree[K, V]) rightmostLeaf(id uint32) (*TreeNode[K, V], error) {
	node, err := t.nodes.Find(id)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, fmt.Errorf("node %d missing: %w", id, ErrCorrupted)
	}
	for !node.IsLeaf() {
		node, err = t.child(node, len(node.ChildIDs)-1)
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

// rebalance restores the minimum entry count of an underflowing non-root
// node: borrow from the right sibling, else from the left, else merge with a
// sibling and recurse when the parent underflows in turn.
func (t *Tree[K, V]) rebalance(node *TreeNode[K, V]) error {
	minEntries := t.nodes.MinEntriesPerNode()
	parent, err := t.nodes.Find(node.ParentID)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("node %d parent %d missing: %w", node.ID, node.ParentID, ErrCorrupted)
	}
	i, err := childIndex(parent, node.ID)
	if err != nil {
		return err
	}

	if i < len(parent.ChildIDs)-1 {
		right, err := t.child(parent, i+1)
		if err != nil {
			return err
		}
		if len(right.Entries) > minEntries {
			return t.rotateLeft(node, parent, right, i)
		}
	}
	if i > 0 {
		left, err := t.child(parent, i-1)
		if err != nil {
			return err
		}
		if len(left.Entries) > minEntries {
			return t.rotateRight(node, parent, left, i)
		}
	}
	return t.merge(node, parent, i)
}

// rotateLeft pulls the separator down into node and the right sibling's
// first entry up into the parent.
func (t *Tree[K, V]) rotateLeft(node, parent, right *TreeNode[K, V], i int) error {
	node.Entries = append(node.Entries, parent.Entries[i])
	parent.Entries[i] = right.Entries[0]
	right.Entries = removeEntry(right.Entries, 0)

	if !node.IsLeaf() {
		moved := right.ChildIDs[0]
		right.ChildIDs = removeChildID(right.ChildIDs, 0)
		node.ChildIDs = append(node.ChildIDs, moved)
		if err := t.reparent(moved, node.ID); err != nil {
			return err
		}
	}
	t.nodes.MarkAsChanged(node)
	t.nodes.MarkAsChanged(parent)
	t.nodes.MarkAsChanged(right)
	return nil
}

// rotateRight pulls the separator down into node and the left sibling's last
// entry up into the parent.
func (t *Tree[K, V]) rotateRight(node, parent, left *TreeNode[K, V], i int) error {
	node.Entries = insertEntry(node.Entries, 0, parent.Entries[i-1])
	last := len(left.Entries) - 1
	parent.Entries[i-1] = left.Entries[last]
	left.Entries = left.Entries[:last]

	if !node.IsLeaf() {
		moved := left.ChildIDs[len(left.ChildIDs)-1]
		left.ChildIDs = left.ChildIDs[:len(left.ChildIDs)-1]
		node.ChildIDs = insertChildID(node.ChildIDs, 0, moved)
		if err := t.reparent(moved, node.ID); err != nil {
			return err
		}
	}
	t.nodes.MarkAsChanged(node)
	t.nodes.MarkAsChanged(parent)
	t.nodes.MarkAsChanged(left)
	return nil
}

// merge folds node and a sibling into one: the left of the pair receives the
// separator and everything from the right, and the right is deleted. An
// emptied root hands the tree over to the merged node.
func (t *Tree[K, V]) merge(node, parent *TreeNode[K, V], i int) error {
	var left, right *TreeNode[K, V]
	var separatorIdx int
	if i < len(parent.ChildIDs)-1 {
		sibling, err := t.child(parent, i+1)
		if err != nil {
			return err
		}
		left, right, separatorIdx = node, sibling, i
	} else {
		sibling, err := t.child(parent, i-1)
		if err != nil {
			return err
		}
		left, right, separatorIdx = sibling, node, i-1
	}

	left.Entries = append(left.Entries, parent.Entries[separatorIdx])
	left.Entries = append(left.Entries, right.Entries...)
	for _, childID := range right.ChildIDs {
		if err := t.reparent(childID, left.ID); err != nil {
			return err
		}
	}
	left.ChildIDs = append(left.ChildIDs, right.ChildIDs...)
	parent.Entries = removeEntry(parent.Entries, separatorIdx)
	parent.ChildIDs = removeChildID(parent.ChildIDs, separatorIdx+1)
	t.nodes.MarkAsChanged(left)
	t.nodes.MarkAsChanged(parent)
	if err := t.nodes.Delete(right); err != nil {
		return err
	}

	if parent.ParentID == 0 && len(parent.Entries) == 0 {
		if err := t.nodes.MakeRoot(left); err != nil {
			return err
		}
		return t.nodes.Delete(parent)
	}
	if parent.ParentID != 0 && len(parent.Entries) < t.nodes.MinEntriesPerNode() {
		return t.rebalance(parent)
	}
	return nil
}

func (t *Tree[K, V]) reparent(childID, parentID uint32) error {
	child, err := t.nodes.Find(childID)
	if err != nil {
		return err
	}
	if child == nil {
		return fmt.Errorf("node %d missing: %w", childID, ErrCorrupted)
	}
	child.ParentID = parentID
	t.nodes.MarkAsChanged(child)
	return nil
}
