package btree

import (
	"encoding/binary"
	"testing"

	"ChainDB/blockfile"
	"ChainDB/recordfile"
)

func newTestRecords(t *testing.T) *recordfile.Storage {
	t.Helper()
	blocks, err := blockfile.NewStorage(blockfile.NewMemStream(), blockfile.Options{
		BlockSize: 128, BlockHeaderSize: 48,
	})
	if err != nil {
		t.Fatalf("Failed to create block storage: %v", err)
	}
	records, err := recordfile.NewStorage(blocks)
	if err != nil {
		t.Fatalf("Failed to create record storage: %v", err)
	}
	return records
}

func newTestManager(t *testing.T, records *recordfile.Storage) *NodeManager[int32, uint32] {
	t.Helper()
	manager, err := NewNodeManager(records, Config[int32, uint32]{
		Keys:              int32Key{},
		Values:            uint32Value{},
		Compare:           compareInt32,
		MinEntriesPerNode: 2,
	})
	if err != nil {
		t.Fatalf("Failed to create node manager: %v", err)
	}
	return manager
}

func TestFreshManagerPinsRoot(t *testing.T) {
	records := newTestRecords(t)
	manager := newTestManager(t, records)

	pointer, err := records.Find(RootPointerRecordID)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(pointer) != 4 || binary.LittleEndian.Uint32(pointer) != 2 {
		t.Errorf("Expected root pointer naming record 2, got %x", pointer)
	}

	root := manager.RootNode()
	if root == nil || root.ID != 2 {
		t.Fatalf("Expected root at record 2, got %+v", root)
	}
	if len(root.Entries) != 0 || !root.IsLeaf() {
		t.Errorf("Expected an empty leaf root")
	}
	if manager.MinEntriesPerNode() != 2 {
		t.Errorf("Expected T=2, got %d", manager.MinEntriesPerNode())
	}
}

func TestManagerDefaults(t *testing.T) {
	records := newTestRecords(t)
	manager, err := NewNodeManager(records, Config[int32, uint32]{
		Keys:    int32Key{},
		Values:  uint32Value{},
		Compare: compareInt32,
	})
	if err != nil {
		t.Fatalf("Failed to create node manager: %v", err)
	}
	if manager.MinEntriesPerNode() != DefaultMinEntriesPerNode {
		t.Errorf("Expected default T, got %d", manager.MinEntriesPerNode())
	}

	if _, err := NewNodeManager(records, Config[int32, uint32]{}); err == nil {
		t.Errorf("Expected error for missing serializers")
	}
}

func TestCreateAndFindSameInstance(t *testing.T) {
	records := newTestRecords(t)
	manager := newTestManager(t, records)

	node, err := manager.Create([]Entry[int32, uint32]{{Key: 1, Value: 10}}, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	found, err := manager.Find(node.ID)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if found != node {
		t.Errorf("Expected the live instance, got a different one")
	}

	missing, err := manager.Find(9999)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for an absent node")
	}
}

func TestSaveChangesPersists(t *testing.T) {
	records := newTestRecords(t)
	manager := newTestManager(t, records)

	root := manager.RootNode()
	root.Entries = append(root.Entries, Entry[int32, uint32]{Key: 42, Value: 7})
	manager.MarkAsChanged(root)
	if err := manager.SaveChanges(); err != nil {
		t.Fatalf("SaveChanges failed: %v", err)
	}

	reopened := newTestManager(t, records)
	got := reopened.RootNode()
	if got.ID != root.ID {
		t.Errorf("Expected root id %d after reopen, got %d", root.ID, got.ID)
	}
	if len(got.Entries) != 1 || got.Entries[0].Key != 42 || got.Entries[0].Value != 7 {
		t.Errorf("Root entries did not persist: %+v", got.Entries)
	}
}

func TestUnsavedChangesNotPersisted(t *testing.T) {
	records := newTestRecords(t)
	manager := newTestManager(t, records)

	root := manager.RootNode()
	root.Entries = append(root.Entries, Entry[int32, uint32]{Key: 1, Value: 1})
	manager.MarkAsChanged(root)

	reopened := newTestManager(t, records)
	if len(reopened.RootNode().Entries) != 0 {
		t.Errorf("Expected dirty state to stay in memory until SaveChanges")
	}
}

func TestRootPointerFollowsNewRoot(t *testing.T) {
	records := newTestRecords(t)
	manager := newTestManager(t, records)

	left := manager.RootNode()
	right, err := manager.Create(nil, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	root, err := manager.CreateNewRoot(5, 50, left.ID, right.ID)
	if err != nil {
		t.Fatalf("CreateNewRoot failed: %v", err)
	}
	if manager.RootNode() != root {
		t.Errorf("Expected new root to be pinned")
	}

	pointer, err := records.Find(RootPointerRecordID)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if binary.LittleEndian.Uint32(pointer) != root.ID {
		t.Errorf("Expected root pointer %d, got %d", root.ID, binary.LittleEndian.Uint32(pointer))
	}

	// MakeRoot repins an existing node.
	if err := manager.MakeRoot(left); err != nil {
		t.Fatalf("MakeRoot failed: %v", err)
	}
	if manager.RootNode() != left || left.ParentID != 0 {
		t.Errorf("Expected left node as root with no parent")
	}
	pointer, _ = records.Find(RootPointerRecordID)
	if binary.LittleEndian.Uint32(pointer) != left.ID {
		t.Errorf("Expected root pointer %d after MakeRoot", left.ID)
	}
}

func TestDeleteDropsNode(t *testing.T) {
	records := newTestRecords(t)
	manager := newTestManager(t, records)

	node, err := manager.Create([]Entry[int32, uint32]{{Key: 1, Value: 1}}, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	manager.MarkAsChanged(node)
	if err := manager.Delete(node); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	found, err := manager.Find(node.ID)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if found != nil {
		t.Errorf("Expected nil after delete")
	}
	// Deleted nodes must not resurface through SaveChanges.
	if err := manager.SaveChanges(); err != nil {
		t.Fatalf("SaveChanges failed: %v", err)
	}
	payload, err := records.Find(node.ID)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if payload != nil {
		t.Errorf("Expected record %d to stay deleted", node.ID)
	}
}
