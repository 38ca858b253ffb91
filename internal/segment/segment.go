// Package segment implements the four kinds of segment: the mutable memory
// segment, immutable disk and log segments, and the read-only multi view that
// composes them.
//
// A segment maps keys to values. A zero-length value is a tombstone and is
// returned as found; interpreting it as deleted is up to the caller.
package segment

import (
	"fmt"
	"sync/atomic"

	"github.com/aalhour/segmentkv/internal/iterator"
)

// Segment is the contract shared by all segment kinds.
type Segment interface {
	// LowerID and UpperID bound the inclusive id range of the segment. A
	// higher UpperID is more recent.
	LowerID() uint64
	UpperID() uint64

	// Get returns the raw value for key, tombstones included.
	Get(key []byte) (value []byte, found bool, err error)

	// Put and Remove are only valid on the mutable memory segment; every
	// other kind panics.
	Put(key, value []byte) (prev []byte, existed bool, err error)
	Remove(key []byte) (prev []byte, existed bool, err error)

	// Lookup returns the entries in [lower, upper]. Nil bounds are open.
	Lookup(lower, upper []byte) iterator.LookupIterator

	// Size approximates the bytes held by the segment.
	Size() int64

	// Files returns the base names of the files backing the segment.
	Files() []string

	Close() error
}

// Owned is a segment with a reference count. Database states and snapshots
// each hold one reference on every segment they list.
type Owned interface {
	Segment

	Ref()

	// Unref drops a reference and reports whether it was the last one.
	Unref() bool

	// MarkObsolete records that the segment's files are no longer needed
	// once the last reference is dropped.
	MarkObsolete()
	Obsolete() bool
}

// RefCount implements the counting half of Owned.
type RefCount struct {
	refs     atomic.Int32
	obsolete atomic.Bool
}

// Ref adds a reference.
func (r *RefCount) Ref() {
	r.refs.Add(1)
}

// Unref drops a reference and reports whether it was the last one.
func (r *RefCount) Unref() bool {
	n := r.refs.Add(-1)
	if n < 0 {
		panic("segment: reference count dropped below zero")
	}
	return n == 0
}

// Refs returns the current number of references.
func (r *RefCount) Refs() int32 {
	return r.refs.Load()
}

// MarkObsolete flags the segment's files for removal.
func (r *RefCount) MarkObsolete() {
	r.obsolete.Store(true)
}

// Obsolete reports whether MarkObsolete was called.
func (r *RefCount) Obsolete() bool {
	return r.obsolete.Load()
}

// immutable panics on a mutation of a sealed segment.
func immutable(s Segment) {
	panic(fmt.Sprintf("segment: %s is immutable", Describe(s)))
}

// Describe returns a short human-readable name for s.
func Describe(s Segment) string {
	switch s := s.(type) {
	case *Memory:
		return fmt.Sprintf("memory[%d]", s.id)
	case *Log:
		return fmt.Sprintf("log[%d]", s.id)
	case *Disk:
		return fmt.Sprintf("disk[%d..%d]", s.lo, s.hi)
	case *Multi:
		return fmt.Sprintf("multi[%d segments]", len(s.segs))
	default:
		return fmt.Sprintf("segment[%d..%d]", s.LowerID(), s.UpperID())
	}
}
