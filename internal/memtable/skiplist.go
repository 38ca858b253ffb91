// Package memtable implements the ordered in-memory map behind a memory
// segment.
//
// The SkipList has the following concurrency properties:
//   - lock-free reads (concurrent reads are safe without locking)
//   - writes require external synchronization
//   - nodes are never removed; a delete is stored as a tombstone value
package memtable

import (
	"math/rand"
	"sync/atomic"

	"github.com/aalhour/segmentkv/internal/keys"
)

const (
	// DefaultMaxHeight is the default maximum height for skip list nodes.
	DefaultMaxHeight = 12

	// DefaultBranchingFactor is the default branching factor.
	// On average, 1/branchingFactor nodes will be promoted to next level.
	DefaultBranchingFactor = 4
)

// skipNode represents a node in the skip list.
type skipNode struct {
	key   []byte
	value atomic.Pointer[[]byte]
	// next[i] is the next node at level i.
	next []atomic.Pointer[skipNode]
}

func newSkipNode(key []byte, height int) *skipNode {
	return &skipNode{
		key:  key,
		next: make([]atomic.Pointer[skipNode], height),
	}
}

func (n *skipNode) getNext(level int) *skipNode {
	return n.next[level].Load()
}

func (n *skipNode) setNext(level int, node *skipNode) {
	n.next[level].Store(node)
}

func (n *skipNode) loadValue() []byte {
	if v := n.value.Load(); v != nil {
		return *v
	}
	return nil
}

// SkipList is a skip list map from key to value.
type SkipList struct {
	head      *skipNode
	maxHeight atomic.Int32
	compare   keys.Comparator
	rng       *rand.Rand
	count     atomic.Int64

	kMaxHeight  int
	kScaledInvB uint32 // scaled inverse of the branching factor
}

// NewSkipList creates a new skip list with the given comparator.
func NewSkipList(cmp keys.Comparator) *SkipList {
	sl := &SkipList{
		head:        newSkipNode(nil, DefaultMaxHeight),
		compare:     keys.OrBytewise(cmp),
		rng:         rand.New(rand.NewSource(0xDEADBEEF)),
		kMaxHeight:  DefaultMaxHeight,
		kScaledInvB: uint32(0xFFFFFFFF) / uint32(DefaultBranchingFactor),
	}
	sl.maxHeight.Store(1)
	return sl
}

// Put maps key to value. If the key was present its previous value is
// returned and the node is updated in place.
// REQUIRES: External synchronization (mutex).
// REQUIRES: key and value are not modified afterwards.
func (sl *SkipList) Put(key, value []byte) (prev []byte, existed bool) {
	var prevNodes [DefaultMaxHeight]*skipNode
	x := sl.findGreaterOrEqual(key, prevNodes[:])

	if x != nil && sl.compare(key, x.key) == 0 {
		prev = x.loadValue()
		x.value.Store(&value)
		return prev, true
	}

	height := sl.randomHeight()
	maxH := int(sl.maxHeight.Load())
	if height > maxH {
		for i := maxH; i < height; i++ {
			prevNodes[i] = sl.head
		}
		sl.maxHeight.Store(int32(height))
	}

	node := newSkipNode(key, height)
	node.value.Store(&value)
	for i := range height {
		node.setNext(i, prevNodes[i].getNext(i))
		prevNodes[i].setNext(i, node)
	}

	sl.count.Add(1)
	return nil, false
}

// Get returns the value stored for key.
func (sl *SkipList) Get(key []byte) ([]byte, bool) {
	x := sl.findGreaterOrEqual(key, nil)
	if x != nil && sl.compare(key, x.key) == 0 {
		return x.loadValue(), true
	}
	return nil, false
}

// Count returns the number of distinct keys.
func (sl *SkipList) Count() int64 {
	return sl.count.Load()
}

// findGreaterOrEqual finds the first node with key >= given key.
// If prev is not nil, fills in prev[level] with the predecessor at each level.
func (sl *SkipList) findGreaterOrEqual(key []byte, prev []*skipNode) *skipNode {
	x := sl.head
	level := int(sl.maxHeight.Load()) - 1

	for {
		next := x.getNext(level)
		if next != nil && sl.compare(key, next.key) > 0 {
			x = next
		} else {
			if prev != nil {
				prev[level] = x
			}
			if level == 0 {
				return next
			}
			level--
		}
	}
}

func (sl *SkipList) randomHeight() int {
	height := 1
	for height < sl.kMaxHeight && sl.rng.Uint32() < sl.kScaledInvB {
		height++
	}
	return height
}

// Iterator walks the skip list in key order.
type Iterator struct {
	list *SkipList
	node *skipNode
}

// NewIterator creates an iterator. It is not valid until a Seek method is called.
func (sl *SkipList) NewIterator() *Iterator {
	return &Iterator{list: sl}
}

// Valid returns true if the iterator is positioned at a node.
func (it *Iterator) Valid() bool {
	return it.node != nil
}

// Key returns the key at the current position.
// REQUIRES: Valid()
func (it *Iterator) Key() []byte {
	return it.node.key
}

// Value returns the value at the current position.
// REQUIRES: Valid()
func (it *Iterator) Value() []byte {
	return it.node.loadValue()
}

// Next advances to the next position.
// REQUIRES: Valid()
func (it *Iterator) Next() {
	it.node = it.node.getNext(0)
}

// Seek positions the iterator at the first entry with key >= target.
func (it *Iterator) Seek(target []byte) {
	it.node = it.list.findGreaterOrEqual(target, nil)
}

// SeekToFirst positions the iterator at the first entry.
func (it *Iterator) SeekToFirst() {
	it.node = it.list.head.getNext(0)
}
