package segmentkv

// db.go implements the Database type and its read and write paths.

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/aalhour/segmentkv/internal/compaction"
	"github.com/aalhour/segmentkv/internal/flush"
	"github.com/aalhour/segmentkv/internal/keys"
	"github.com/aalhour/segmentkv/internal/logging"
	"github.com/aalhour/segmentkv/internal/reclaim"
	"github.com/aalhour/segmentkv/internal/segment"
	"github.com/aalhour/segmentkv/vfs"
)

// Database is an open segment database. All methods are safe for
// concurrent use.
type Database struct {
	path   string
	opts   Options
	fs     vfs.FS
	cmp    keys.Comparator
	logger logging.Logger

	lock      io.Closer
	deleter   *reclaim.Deleter
	reclaimer *reclaim.Queue
	merger    *merger
	compactor *compaction.Job
	flusher   *flush.Job

	// mu serializes mutations, memory swaps and state publication. It is
	// never held across disk I/O other than the log append of a mutation.
	mu    sync.Mutex
	state atomic.Pointer[dbState]

	// mergeMu admits one merge at a time.
	mergeMu sync.Mutex

	nextSegID atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	bgMu  sync.Mutex
	bgErr error
}

// Stats describes the current segment list.
type Stats struct {
	// NumberOfSegments counts the sealed segments, excluding the active
	// memory segment.
	NumberOfSegments int

	// MemoryBytes is the approximate size of the memory and log segments,
	// the active one included.
	MemoryBytes int64

	// DiskBytes is the size of the key and data files of disk segments.
	DiskBytes int64
}

// Get returns the value for key, or ErrNotFound.
func (db *Database) Get(key []byte) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	st, err := db.acquire()
	if err != nil {
		return nil, err
	}
	defer st.unref()
	return getLive(st.view, key)
}

// Put sets key to value. A nil value is rejected; an empty value removes
// the key.
func (db *Database) Put(key, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if value == nil {
		return ErrInvalidValue
	}
	return db.mutate(func(st *dbState) error {
		_, _, err := st.memory.Put(key, value)
		return err
	})
}

// Remove deletes key and returns the value it had. When the key is absent
// nothing is written and ErrNotFound is returned.
func (db *Database) Remove(key []byte) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	var prev []byte
	err := db.mutate(func(st *dbState) error {
		v, err := getLive(st.view, key)
		if err != nil {
			return err
		}
		prev = v
		_, _, err = st.memory.Remove(key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

// Write applies every operation of wb atomically. The batch is logged as a
// single record.
func (db *Database) Write(wb *WriteBatch) error {
	if wb == nil || wb.Count() == 0 {
		return nil
	}
	recs := wb.internal.Records()
	for _, r := range recs {
		if err := checkKey(r.Key); err != nil {
			return err
		}
	}
	return db.mutate(func(st *dbState) error {
		return st.memory.Write(recs)
	})
}

// Lookup returns an iterator over the live entries with keys in
// [lower, upper]. Nil bounds are open. The iterator reads a snapshot taken
// by this call and must be released.
func (db *Database) Lookup(lower, upper []byte) (*Iterator, error) {
	snap, err := db.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()
	return snap.Lookup(lower, upper)
}

// Stats returns the current segment counts and sizes.
func (db *Database) Stats() Stats {
	st, err := db.acquire()
	if err != nil {
		return Stats{}
	}
	defer st.unref()

	s := Stats{
		NumberOfSegments: len(st.segments),
		MemoryBytes:      st.memory.Size(),
	}
	for _, seg := range st.segments {
		if _, ok := seg.(*segment.Disk); ok {
			s.DiskBytes += seg.Size()
		} else {
			s.MemoryBytes += seg.Size()
		}
	}
	return s
}

// Compact merges segments until at most n remain. It blocks until done.
func (db *Database) Compact(n int) error {
	if db.closed.Load() {
		return ErrDBClosed
	}
	return db.mergeDownTo(max(n, 1), compaction.ReasonManual, 0, nil)
}

// Close merges down to MaxSegments, flushes every memory segment and
// releases the directory.
func (db *Database) Close() error {
	return db.CloseWithMerge(db.opts.MaxSegments)
}

// CloseWithMerge closes the database after merging down to n segments.
// n <= 0 skips the merge. Calling it again returns the first result.
func (db *Database) CloseWithMerge(n int) error {
	db.closeOnce.Do(func() {
		db.closeErr = db.close(n)
	})
	return db.closeErr
}

func (db *Database) close(n int) error {
	// Writers check closed under mu, so no mutation lands after this. The
	// active memory joins the segment list so the closing merge covers it.
	var errs []error
	db.mu.Lock()
	db.closed.Store(true)
	if st := db.state.Load(); st != nil && !st.memory.Empty() {
		if _, err := db.sealMemoryLocked(st); err != nil {
			errs = append(errs, err)
		}
	}
	db.mu.Unlock()

	if db.merger != nil {
		db.merger.stop()
	}

	if n > 0 {
		if err := db.mergeDownTo(n, compaction.ReasonClose, 0, nil); err != nil {
			errs = append(errs, fmt.Errorf("closing merge: %w", err))
		}
	}
	if err := db.flushAll(); err != nil {
		errs = append(errs, err)
	}

	db.mu.Lock()
	st := db.state.Swap(nil)
	db.mu.Unlock()
	if st != nil {
		st.unref()
	}
	db.reclaimer.Stop()

	if len(errs) == 0 {
		if _, err := db.deleter.DeleteScheduled(); err != nil {
			errs = append(errs, fmt.Errorf("delete scheduled files: %w", err))
		}
	} else if err := db.deleter.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := db.lock.Close(); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}

	if bg := db.backgroundError(); bg != nil {
		errs = append([]error{fmt.Errorf("%w: %w", ErrBackgroundError, bg)}, errs...)
	}
	err := errors.Join(errs...)
	if err != nil {
		db.logger.Errorf("%sclose %s: %v", logging.NSDB, db.path, err)
	} else {
		db.logger.Infof("%sclosed %s", logging.NSDB, db.path)
	}
	return err
}

// flushAll writes the active memory segment and every sealed memory or log
// segment to disk. Flushed sources are marked obsolete and their logs
// scheduled for removal.
func (db *Database) flushAll() error {
	st := db.state.Load()
	if err := st.memory.Close(); err != nil {
		return fmt.Errorf("close log of %s: %w", segment.Describe(st.memory), err)
	}

	var pending []segment.Owned
	for _, s := range st.segments {
		if _, ok := s.(*segment.Disk); !ok {
			pending = append(pending, s)
		}
	}
	pending = append(pending, st.memory)

	results, err := db.flusher.RunAll(pending, runtime.GOMAXPROCS(0))
	var files []string
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		if r.Disk != nil {
			if cerr := r.Disk.Close(); cerr != nil {
				db.logger.Warnf("%sclose %s: %v", logging.NSFlush, segment.Describe(r.Disk), cerr)
			}
		}
		r.Source.MarkObsolete()
		files = append(files, r.Source.Files()...)
	}
	if serr := db.deleter.Schedule(files); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// acquire returns the published state with a reference taken.
func (db *Database) acquire() (*dbState, error) {
	for {
		if db.closed.Load() {
			return nil, ErrDBClosed
		}
		st := db.state.Load()
		if st == nil {
			return nil, ErrDBClosed
		}
		if st.tryRef() {
			return st, nil
		}
	}
}

// mutate runs fn against the published state under mu, after sealing the
// memory segment if it is full.
func (db *Database) mutate(fn func(st *dbState) error) error {
	db.mu.Lock()
	if db.closed.Load() {
		db.mu.Unlock()
		return ErrDBClosed
	}
	if bg := db.backgroundError(); bg != nil {
		db.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrBackgroundError, bg)
	}
	st := db.state.Load()
	if st.memory.Size() > db.opts.MaxMemoryBytes {
		var err error
		if st, err = db.sealMemoryLocked(st); err != nil {
			db.mu.Unlock()
			return err
		}
	}
	err := fn(st)
	n := len(st.segments)
	db.mu.Unlock()

	if err == nil && db.merger != nil && n > 2*db.opts.MaxSegments {
		db.merger.wake()
	}
	return err
}

// sealMemoryLocked moves the active memory segment into the segment list
// and publishes a state with a fresh one.
func (db *Database) sealMemoryLocked(st *dbState) (*dbState, error) {
	old := st.memory
	if err := old.Close(); err != nil {
		return nil, fmt.Errorf("seal %s: %w", segment.Describe(old), err)
	}
	segs := append(st.withSegments(), segment.Owned(old))
	next := newState(segs, db.newMemory(), db.cmp, db.release)
	db.publishLocked(next)
	db.logger.Debugf("%ssealed %s (%d bytes), %d segments", logging.NSDB, segment.Describe(old), old.Size(), len(segs))
	return next, nil
}

func (db *Database) publishLocked(next *dbState) {
	if old := db.state.Swap(next); old != nil {
		old.unref()
	}
}

func (db *Database) newMemory() *segment.Memory {
	return segment.NewMemory(db.nextSegID.Add(1), segment.MemoryOptions{
		FS:      db.fs,
		Dir:     db.path,
		Compare: db.cmp,
		WAL:     db.opts.walOptions(),
	})
}

func (db *Database) release(s segment.Owned) {
	db.reclaimer.Release(s)
}

// setBackgroundError records the first asynchronous failure. Later writes
// fail with it and Close reports it.
func (db *Database) setBackgroundError(err error) {
	if err == nil {
		return
	}
	db.bgMu.Lock()
	defer db.bgMu.Unlock()
	if db.bgErr == nil {
		db.bgErr = err
		db.logger.Errorf("%sbackground error: %v", logging.NSDB, err)
	}
}

func (db *Database) backgroundError() error {
	db.bgMu.Lock()
	defer db.bgMu.Unlock()
	return db.bgErr
}

// getLive returns a copy of the value for key, or ErrNotFound when the key
// is absent or deleted.
func getLive(s segment.Segment, key []byte) ([]byte, error) {
	v, found, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	if !found || len(v) == 0 {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func checkKey(key []byte) error {
	if !keys.Valid(key) {
		return fmt.Errorf("%w: %d bytes", ErrInvalidKeyLength, len(key))
	}
	return nil
}
