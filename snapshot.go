package segmentkv

// snapshot.go implements snapshot management.
//
// A snapshot is a read-only view over a fixed list of segments. Taking one
// seals the memory segment when it holds data, so later writes land in a
// fresh segment the snapshot does not list. The snapshot holds a reference
// on each listed segment until it is released; merged segments keep their
// files until then.

import (
	"sync/atomic"

	"github.com/aalhour/segmentkv/internal/segment"
)

// Snapshot provides a consistent read view of the database.
type Snapshot struct {
	db       *Database
	segments []segment.Owned
	view     *segment.Multi

	refs     atomic.Int32
	released atomic.Bool
}

// Snapshot returns a view of the database as of this call. The caller must
// call Release when done.
func (db *Database) Snapshot() (*Snapshot, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed.Load() {
		return nil, ErrDBClosed
	}
	st := db.state.Load()
	if !st.memory.Empty() {
		next, err := db.sealMemoryLocked(st)
		if err != nil {
			return nil, err
		}
		st = next
	}
	return newSnapshot(db, st.segments), nil
}

// newSnapshot references segs. segs must be kept alive by the caller for the
// duration of the call.
func newSnapshot(db *Database, segs []segment.Owned) *Snapshot {
	views := make([]segment.Segment, len(segs))
	for i, s := range segs {
		s.Ref()
		views[i] = s
	}
	s := &Snapshot{
		db:       db,
		segments: segs,
		view:     segment.NewMulti(views, db.cmp),
	}
	s.refs.Store(1)
	return s
}

// Get returns the value key had when the snapshot was taken.
func (s *Snapshot) Get(key []byte) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if err := s.check(); err != nil {
		return nil, err
	}
	return getLive(s.view, key)
}

// Lookup returns an iterator over the live entries with keys in
// [lower, upper] as of the snapshot. The iterator stays valid after the
// snapshot is released.
func (s *Snapshot) Lookup(lower, upper []byte) (*Iterator, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.refs.Add(1)
	return newIterator(s.db, s.view.Lookup(lower, upper), s.unref), nil
}

// Release releases the snapshot. Further calls have no effect.
func (s *Snapshot) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.unref()
	}
}

func (s *Snapshot) check() error {
	if s.released.Load() {
		return ErrSnapshotReleased
	}
	if s.db.closed.Load() {
		return ErrDBClosed
	}
	return nil
}

func (s *Snapshot) unref() {
	if s.refs.Add(-1) != 0 {
		return
	}
	for _, seg := range s.segments {
		if seg.Unref() {
			s.db.release(seg)
		}
	}
}
