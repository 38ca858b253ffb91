package segmentkv

// state.go implements the copy-on-write database state.

import (
	"sync/atomic"

	"github.com/aalhour/segmentkv/internal/keys"
	"github.com/aalhour/segmentkv/internal/segment"
)

// dbState is one immutable view of the database: the sealed segments,
// oldest first, the active memory segment, and a multi view over both.
//
// A state is reference counted. The database holds one reference on the
// published state; readers take another for the length of a lookup or scan.
// A state holds one reference on each of its segments and drops them when
// its own count reaches zero.
type dbState struct {
	refs     atomic.Int32
	segments []segment.Owned
	memory   *segment.Memory
	view     *segment.Multi
	release  func(segment.Owned)
}

func newState(segs []segment.Owned, mem *segment.Memory, cmp keys.Comparator, release func(segment.Owned)) *dbState {
	all := make([]segment.Segment, 0, len(segs)+1)
	for _, s := range segs {
		s.Ref()
		all = append(all, s)
	}
	mem.Ref()
	all = append(all, mem)

	st := &dbState{
		segments: segs,
		memory:   mem,
		view:     segment.NewMulti(all, cmp),
		release:  release,
	}
	st.refs.Store(1)
	return st
}

// tryRef takes a reference unless the state was already released.
func (st *dbState) tryRef() bool {
	for {
		n := st.refs.Load()
		if n <= 0 {
			return false
		}
		if st.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (st *dbState) unref() {
	if st.refs.Add(-1) != 0 {
		return
	}
	for _, s := range st.segments {
		if s.Unref() {
			st.release(s)
		}
	}
	if st.memory.Unref() {
		st.release(st.memory)
	}
}

// withSegments returns a copy of the segment list. The list of a published
// state is never modified in place.
func (st *dbState) withSegments() []segment.Owned {
	out := make([]segment.Owned, len(st.segments), len(st.segments)+1)
	copy(out, st.segments)
	return out
}
