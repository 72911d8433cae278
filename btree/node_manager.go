package btree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/ristretto/v2"

	"ChainDB/logging"
	"ChainDB/recordfile"
)

const (
	// RootPointerRecordID is the record whose 4-byte payload names the root node.
	RootPointerRecordID = 1
	// DefaultMinEntriesPerNode is T, the minimum entry count of non-root nodes.
	DefaultMinEntriesPerNode = 36
	// DefaultCacheCapacity bounds the retention tier of the node cache.
	DefaultCacheCapacity = 200

	// Stale identity-map entries are swept once per this many node loads.
	sweepInterval = 1000
)

// Config parameterizes a node manager.
type Config[K, V any] struct {
	Keys              Serializer[K]
	Values            Serializer[V]
	Compare           Comparer[K]
	MinEntriesPerNode int
	CacheCapacity     int
}

// NodeManager owns the lifetime of tree nodes: it loads them from records,
// tracks dirty ones, and pins the root. Loaded nodes sit in an identity map
// so every lookup of an id yields the same instance; an admission-controlled
// retention cache decides which clean nodes stay resident, and eviction from
// it prunes the identity map.
type NodeManager[K, V any] struct {
	records    *recordfile.Storage
	keys       Serializer[K]
	values     Serializer[V]
	compare    Comparer[K]
	minEntries int

	mu        sync.Mutex
	root      *TreeNode[K, V]
	loaded    map[uint32]*TreeNode[K, V]
	dirty     map[uint32]*TreeNode[K, V]
	loads     int
	retention *ristretto.Cache[uint32, *TreeNode[K, V]]
	log       *slog.Logger
}

// NewNodeManager builds a manager over records, pinning the root. On a fresh
// store it creates the root pointer record (id 1) and an empty root node
// (id 2); otherwise it reads the pointer and loads the named node.
func NewNodeManager[K, V any](records *recordfile.Storage, cfg Config[K, V]) (*NodeManager[K, V], error) {
	if cfg.Keys == nil || cfg.Values == nil || cfg.Compare == nil {
		return nil, errors.New("key serializer, value serializer and comparer are required")
	}
	if cfg.MinEntriesPerNode <= 0 {
		cfg.MinEntriesPerNode = DefaultMinEntriesPerNode
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = DefaultCacheCapacity
	}

	m := &NodeManager[K, V]{
		records:    records,
		keys:       cfg.Keys,
		values:     cfg.Values,
		compare:    cfg.Compare,
		minEntries: cfg.MinEntriesPerNode,
		loaded:     make(map[uint32]*TreeNode[K, V]),
		dirty:      make(map[uint32]*TreeNode[K, V]),
		log:        logging.WithComponent("btree"),
	}
	retention, err := ristretto.NewCache(&ristretto.Config[uint32, *TreeNode[K, V]]{
		NumCounters: int64(cfg.CacheCapacity) * 10,
		MaxCost:     int64(cfg.CacheCapacity),
		BufferItems: 64,
		OnEvict:     m.onEvict,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create node cache: %w", err)
	}
	m.retention = retention

	if err := m.loadRoot(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *NodeManager[K, V]) loadRoot() error {
	payload, err := m.records.Find(RootPointerRecordID)
	if err != nil {
		return err
	}

	if payload == nil {
		initial := binary.LittleEndian.AppendUint32(nil, RootPointerRecordID+1)
		id, err := m.records.CreateBytes(initial)
		if err != nil {
			return fmt.Errorf("failed to create root pointer record: %w", err)
		}
		if id != RootPointerRecordID {
			return fmt.Errorf("root pointer landed at record %d: %w", id, ErrCorrupted)
		}
		root, err := m.Create(nil, nil)
		if err != nil {
			return fmt.Errorf("failed to create initial root node: %w", err)
		}
		if root.ID != RootPointerRecordID+1 {
			return fmt.Errorf("initial root landed at record %d: %w", root.ID, ErrCorrupted)
		}
		m.setRoot(root)
		return nil
	}

	if len(payload) != 4 {
		return fmt.Errorf("root pointer payload of %d bytes: %w", len(payload), ErrCorrupted)
	}
	rootID := binary.LittleEndian.Uint32(payload)
	root, err := m.Find(rootID)
	if err != nil {
		return err
	}
	if root == nil {
		return fmt.Errorf("root node %d missing: %w", rootID, ErrCorrupted)
	}
	m.setRoot(root)
	return nil
}

// RootNode returns the pinned root.
func (m *NodeManager[K, V]) RootNode() *TreeNode[K, V] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root
}

// MinEntriesPerNode returns T.
func (m *NodeManager[K, V]) MinEntriesPerNode() int {
	return m.minEntries
}

// KeyComparer returns the configured key ordering.
func (m *NodeManager[K, V]) KeyComparer() Comparer[K] {
	return m.compare
}

// EntryComparer orders entries by key only, so a probe entry with a zero
// value can be compared against stored entries.
func (m *NodeManager[K, V]) EntryComparer() Comparer[Entry[K, V]] {
	return func(a, b Entry[K, V]) int {
		return m.compare(a.Key, b.Key)
	}
}

// Create allocates a record for a new node. The node learns its id from the
// record allocator before its first serialization.
func (m *NodeManager[K, V]) Create(entries []Entry[K, V], childIDs []uint32) (*TreeNode[K, V], error) {
	var node *TreeNode[K, V]
	_, err := m.records.CreateWith(func(id uint32) ([]byte, error) {
		node = &TreeNode[K, V]{ID: id, Entries: entries, ChildIDs: childIDs}
		return encodeNode(node, m.keys, m.values)
	})
	if err != nil {
		return nil, err
	}
	m.register(node)
	m.log.Debug("node created", "id", node.ID, "entries", len(entries), "children", len(childIDs))
	return node, nil
}

// Find returns the node stored at id, or nil when the record does not exist.
// The root, dirty nodes and already loaded nodes are returned as the live
// instance; anything else is decoded from its record.
func (m *NodeManager[K, V]) Find(id uint32) (*TreeNode[K, V], error) {
	m.mu.Lock()
	if m.root != nil && m.root.ID == id {
		defer m.mu.Unlock()
		return m.root, nil
	}
	if node, ok := m.dirty[id]; ok {
		m.mu.Unlock()
		return node, nil
	}
	if node, ok := m.loaded[id]; ok {
		m.mu.Unlock()
		return node, nil
	}
	m.mu.Unlock()

	if node, ok := m.retention.Get(id); ok && node != nil {
		m.mu.Lock()
		m.loaded[id] = node
		m.mu.Unlock()
		return node, nil
	}

	data, err := m.records.Find(id)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	node, err := decodeNode(data, id, m.keys, m.values)
	if err != nil {
		return nil, err
	}
	m.register(node)
	return node, nil
}

// MarkAsChanged queues the node for the next SaveChanges.
func (m *NodeManager[K, V]) MarkAsChanged(node *TreeNode[K, V]) {
	m.mu.Lock()
	m.dirty[node.ID] = node
	m.mu.Unlock()
}

// SaveChanges rewrites the record of every dirty node and clears the dirty set.
func (m *NodeManager[K, V]) SaveChanges() error {
	m.mu.Lock()
	pending := make([]*TreeNode[K, V], 0, len(m.dirty))
	for _, node := range m.dirty {
		pending = append(pending, node)
	}
	m.mu.Unlock()

	for _, node := range pending {
		data, err := encodeNode(node, m.keys, m.values)
		if err != nil {
			return err
		}
		if err := m.records.Update(node.ID, data); err != nil {
			return fmt.Errorf("failed to save node %d: %w", node.ID, err)
		}
	}

	m.mu.Lock()
	m.dirty = make(map[uint32]*TreeNode[K, V])
	m.mu.Unlock()
	if len(pending) > 0 {
		m.log.Debug("dirty nodes flushed", "count", len(pending))
	}
	return nil
}

// Delete removes the node's record and drops it from every cache tier. If
// the deleted node was the root, the root slot stays empty until MakeRoot or
// CreateNewRoot repins it.
func (m *NodeManager[K, V]) Delete(node *TreeNode[K, V]) error {
	if err := m.records.Delete(node.ID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.dirty, node.ID)
	delete(m.loaded, node.ID)
	if m.root == node {
		m.root = nil
	}
	m.mu.Unlock()
	m.retention.Del(node.ID)
	return nil
}

// CreateNewRoot allocates a root holding a single separator entry over two
// children and repins the root pointer. The caller fixes up the children's
// parent ids.
func (m *NodeManager[K, V]) CreateNewRoot(key K, value V, leftID, rightID uint32) (*TreeNode[K, V], error) {
	root, err := m.Create([]Entry[K, V]{{Key: key, Value: value}}, []uint32{leftID, rightID})
	if err != nil {
		return nil, err
	}
	if err := m.setRootPointer(root.ID); err != nil {
		return nil, err
	}
	m.setRoot(root)
	return root, nil
}

// MakeRoot promotes an existing node to root and repins the root pointer.
func (m *NodeManager[K, V]) MakeRoot(node *TreeNode[K, V]) error {
	node.ParentID = 0
	if err := m.setRootPointer(node.ID); err != nil {
		return err
	}
	m.mu.Lock()
	m.root = node
	m.dirty[node.ID] = node
	m.mu.Unlock()
	return nil
}

func (m *NodeManager[K, V]) setRootPointer(id uint32) error {
	payload := binary.LittleEndian.AppendUint32(nil, id)
	if err := m.records.Update(RootPointerRecordID, payload); err != nil {
		return fmt.Errorf("failed to update root pointer: %w", err)
	}
	return nil
}

func (m *NodeManager[K, V]) setRoot(node *TreeNode[K, V]) {
	m.mu.Lock()
	m.root = node
	m.mu.Unlock()
}

func (m *NodeManager[K, V]) register(node *TreeNode[K, V]) {
	m.mu.Lock()
	m.loaded[node.ID] = node
	m.loads++
	if m.loads%sweepInterval == 0 {
		m.sweepLocked()
	}
	m.mu.Unlock()
	m.retention.Set(node.ID, node, 1)
}

// sweepLocked drops clean loaded nodes the retention tier no longer holds.
func (m *NodeManager[K, V]) sweepLocked() {
	for id, node := range m.loaded {
		if node == m.root {
			continue
		}
		if _, ok := m.dirty[id]; ok {
			continue
		}
		if _, ok := m.retention.Get(id); !ok {
			delete(m.loaded, id)
		}
	}
}

func (m *NodeManager[K, V]) onEvict(item *ristretto.Item[*TreeNode[K, V]]) {
	node := item.Value
	if node == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if node == m.root {
		return
	}
	if _, ok := m.dirty[node.ID]; ok {
		return
	}
	if m.loaded[node.ID] == node {
		delete(m.loaded, node.ID)
	}
}
