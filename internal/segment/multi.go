package segment

import (
	"github.com/aalhour/segmentkv/internal/iterator"
	"github.com/aalhour/segmentkv/internal/keys"
)

// Multi is a read-only view over segments ordered oldest first. It owns no
// references; whoever builds it keeps the segments alive.
type Multi struct {
	segs []Segment
	cmp  keys.Comparator
}

// NewMulti returns a view over segs, oldest first.
func NewMulti(segs []Segment, cmp keys.Comparator) *Multi {
	return &Multi{segs: segs, cmp: keys.OrBytewise(cmp)}
}

// Segments returns the underlying segments, oldest first.
func (m *Multi) Segments() []Segment {
	return m.segs
}

func (m *Multi) LowerID() uint64 {
	if len(m.segs) == 0 {
		return 0
	}
	return m.segs[0].LowerID()
}

func (m *Multi) UpperID() uint64 {
	if len(m.segs) == 0 {
		return 0
	}
	return m.segs[len(m.segs)-1].UpperID()
}

// Get returns the value from the newest segment that holds key.
func (m *Multi) Get(key []byte) ([]byte, bool, error) {
	for i := len(m.segs) - 1; i >= 0; i-- {
		v, found, err := m.segs[i].Get(key)
		if err != nil {
			return nil, false, err
		}
		if found {
			return v, true, nil
		}
	}
	return nil, false, nil
}

func (m *Multi) Put(key, value []byte) ([]byte, bool, error) {
	immutable(m)
	return nil, false, nil
}

func (m *Multi) Remove(key []byte) ([]byte, bool, error) {
	immutable(m)
	return nil, false, nil
}

// Lookup merges the per-segment scans; the newest segment wins on equal keys.
func (m *Multi) Lookup(lower, upper []byte) iterator.LookupIterator {
	children := make([]iterator.LookupIterator, len(m.segs))
	for i, s := range m.segs {
		children[i] = s.Lookup(lower, upper)
	}
	return iterator.NewMergingIterator(children, m.cmp)
}

// Size sums the sizes of the segments.
func (m *Multi) Size() int64 {
	var n int64
	for _, s := range m.segs {
		n += s.Size()
	}
	return n
}

func (m *Multi) Files() []string {
	var out []string
	for _, s := range m.segs {
		out = append(out, s.Files()...)
	}
	return out
}

// Close is a no-op; the view does not own its segments.
func (m *Multi) Close() error { return nil }
