package memtable

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/aalhour/segmentkv/internal/iterator"
	"github.com/aalhour/segmentkv/internal/keys"
)

// nodeOverhead approximates the per-entry bookkeeping of the skip list.
const nodeOverhead = 64

// MemTable is the ordered map of a memory or log segment. Reads are
// lock-free; writes are serialized by an internal mutex.
type MemTable struct {
	mu       sync.Mutex
	skiplist *SkipList
	compare  keys.Comparator

	memoryUsage atomic.Int64
}

// New creates an empty MemTable.
func New(cmp keys.Comparator) *MemTable {
	cmp = keys.OrBytewise(cmp)
	return &MemTable{
		skiplist: NewSkipList(cmp),
		compare:  cmp,
	}
}

// Put stores a copy of key and value and returns the previous value, if any.
// A zero-length value is a tombstone.
func (mt *MemTable) Put(key, value []byte) (prev []byte, existed bool) {
	k := bytes.Clone(key)
	v := make([]byte, len(value))
	copy(v, value)

	mt.mu.Lock()
	prev, existed = mt.skiplist.Put(k, v)
	mt.mu.Unlock()

	if existed {
		mt.memoryUsage.Add(int64(len(v) - len(prev)))
	} else {
		mt.memoryUsage.Add(int64(len(k) + len(v) + nodeOverhead))
	}
	return prev, existed
}

// Get returns the raw value for key, tombstones included.
func (mt *MemTable) Get(key []byte) ([]byte, bool) {
	return mt.skiplist.Get(key)
}

// Count returns the number of distinct keys.
func (mt *MemTable) Count() int64 {
	return mt.skiplist.Count()
}

// Empty reports whether nothing was ever written.
func (mt *MemTable) Empty() bool {
	return mt.skiplist.Count() == 0
}

// ApproximateMemoryUsage returns the bytes held by keys, values and nodes.
func (mt *MemTable) ApproximateMemoryUsage() int64 {
	return mt.memoryUsage.Load()
}

// NewIterator returns a lookup iterator over [lower, upper]. Nil bounds are
// unbounded. The iterator observes writes made after its creation when they
// land ahead of its position.
func (mt *MemTable) NewIterator(lower, upper []byte) iterator.LookupIterator {
	it := mt.skiplist.NewIterator()
	if lower != nil {
		it.Seek(lower)
	} else {
		it.SeekToFirst()
	}
	return &lookupIterator{it: it, upper: upper, cmp: mt.compare}
}

// lookupIterator adapts the skip list iterator to iterator.LookupIterator.
type lookupIterator struct {
	it    *Iterator
	upper []byte
	cmp   keys.Comparator
}

func (li *lookupIterator) valid() bool {
	if !li.it.Valid() {
		return false
	}
	return li.upper == nil || li.cmp(li.it.Key(), li.upper) <= 0
}

func (li *lookupIterator) PeekKey() ([]byte, error) {
	if !li.valid() {
		return nil, iterator.ErrEndOfIterator
	}
	return li.it.Key(), nil
}

func (li *lookupIterator) Next() (iterator.KeyValue, error) {
	if !li.valid() {
		return iterator.KeyValue{}, iterator.ErrEndOfIterator
	}
	kv := iterator.KeyValue{Key: li.it.Key(), Value: li.it.Value()}
	li.it.Next()
	return kv, nil
}
