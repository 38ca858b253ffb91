package iterator

import (
	"container/heap"
	"errors"

	"github.com/aalhour/segmentkv/internal/keys"
)

// -----------------------------------------------------------------------------
// MergingIterator
// -----------------------------------------------------------------------------

// MergingIterator merges per-segment iterators into one sorted sequence.
//
// Children are ordered oldest to newest. When several children hold the same
// key only the entry of the newest child is emitted, tombstones included; the
// older duplicates are consumed and dropped. A min-heap keyed by (key, newest
// first) finds the next entry.
type MergingIterator struct {
	children []LookupIterator
	cmp      keys.Comparator
	minHeap  *iterHeap
	started  bool
	err      error
}

// NewMergingIterator creates a merging iterator. A nil comparator means
// bytewise order.
func NewMergingIterator(children []LookupIterator, cmp keys.Comparator) *MergingIterator {
	cmp = keys.OrBytewise(cmp)
	return &MergingIterator{
		children: children,
		cmp:      cmp,
		minHeap: &iterHeap{
			items: make([]heapItem, 0, len(children)),
			cmp:   cmp,
		},
	}
}

// PeekKey returns the next key without consuming it.
func (mi *MergingIterator) PeekKey() ([]byte, error) {
	if err := mi.init(); err != nil {
		return nil, err
	}
	if mi.minHeap.Len() == 0 {
		return nil, ErrEndOfIterator
	}
	return mi.minHeap.items[0].key, nil
}

// Next returns the newest entry for the smallest remaining key.
func (mi *MergingIterator) Next() (KeyValue, error) {
	if err := mi.init(); err != nil {
		return KeyValue{}, err
	}
	if mi.minHeap.Len() == 0 {
		return KeyValue{}, ErrEndOfIterator
	}

	top := heap.Pop(mi.minHeap).(heapItem)
	kv, err := mi.children[top.index].Next()
	if err != nil {
		return mi.fail(err)
	}
	if err := mi.push(top.index); err != nil {
		return mi.fail(err)
	}

	// Drop older entries for keys up to the emitted one.
	for mi.minHeap.Len() > 0 && mi.cmp(mi.minHeap.items[0].key, kv.Key) <= 0 {
		stale := heap.Pop(mi.minHeap).(heapItem)
		if err := mi.skipThrough(stale.index, kv.Key); err != nil {
			return mi.fail(err)
		}
		if err := mi.push(stale.index); err != nil {
			return mi.fail(err)
		}
	}
	return kv, nil
}

// Err returns the first error encountered, if any.
func (mi *MergingIterator) Err() error {
	return mi.err
}

func (mi *MergingIterator) init() error {
	if mi.err != nil {
		return mi.err
	}
	if mi.started {
		return nil
	}
	mi.started = true
	for i, child := range mi.children {
		key, err := child.PeekKey()
		if errors.Is(err, ErrEndOfIterator) {
			continue
		}
		if err != nil {
			mi.err = err
			return err
		}
		mi.minHeap.items = append(mi.minHeap.items, heapItem{index: i, key: key})
	}
	heap.Init(mi.minHeap)
	return nil
}

// push adds child i to the heap if it has entries left.
func (mi *MergingIterator) push(i int) error {
	key, err := mi.children[i].PeekKey()
	if errors.Is(err, ErrEndOfIterator) {
		return nil
	}
	if err != nil {
		return err
	}
	heap.Push(mi.minHeap, heapItem{index: i, key: key})
	return nil
}

// skipThrough advances child i past every key <= key.
func (mi *MergingIterator) skipThrough(i int, key []byte) error {
	for {
		next, err := mi.children[i].PeekKey()
		if errors.Is(err, ErrEndOfIterator) {
			return nil
		}
		if err != nil {
			return err
		}
		if mi.cmp(next, key) > 0 {
			return nil
		}
		if _, err := mi.children[i].Next(); err != nil {
			return err
		}
	}
}

func (mi *MergingIterator) fail(err error) (KeyValue, error) {
	mi.err = err
	return KeyValue{}, err
}

// -----------------------------------------------------------------------------
// Heap implementation
// -----------------------------------------------------------------------------

type heapItem struct {
	index int
	key   []byte
}

type iterHeap struct {
	items []heapItem
	cmp   keys.Comparator
}

func (h *iterHeap) Len() int { return len(h.items) }

func (h *iterHeap) Less(i, j int) bool {
	c := h.cmp(h.items[i].key, h.items[j].key)
	if c != 0 {
		return c < 0
	}
	// Equal keys: the newer child wins.
	return h.items[i].index > h.items[j].index
}

func (h *iterHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *iterHeap) Push(x any) {
	h.items = append(h.items, x.(heapItem))
}

func (h *iterHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
