package segmentkv

// recovery.go implements Open, which rebuilds the segment list from the
// files of a database directory, and Destroy.

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/aalhour/segmentkv/internal/compaction"
	"github.com/aalhour/segmentkv/internal/flush"
	"github.com/aalhour/segmentkv/internal/logging"
	"github.com/aalhour/segmentkv/internal/reclaim"
	"github.com/aalhour/segmentkv/internal/segment"
	"github.com/aalhour/segmentkv/vfs"
)

// Open opens the database in path.
//
// Files listed in the deleted log are removed first. Every log is then
// replayed into a log segment and every key/data pair is mapped as a disk
// segment. Segments already covered by a newer one are dropped.
func Open(path string, opts *Options) (*Database, error) {
	o := opts.normalize()
	fsys := o.FS

	maxID, err := checkDir(fsys, path, o.CreateIfNeeded)
	if err != nil {
		return nil, err
	}

	lock, err := lockDir(fsys, path)
	if err != nil {
		return nil, err
	}

	db := &Database{
		path:    path,
		opts:    o,
		fs:      fsys,
		cmp:     o.compare(),
		lock:    lock,
		deleter: reclaim.NewDeleter(fsys, path, segment.DeletedFileName),
	}
	// The caller's logger may be shared, so fatal messages reach this
	// database through a wrapper rather than a handler set on it.
	db.logger = logging.WithFatalHandler(o.Logger, func(msg string) {
		db.setBackgroundError(fmt.Errorf("%w: %s", logging.ErrFatal, msg))
	})
	logger := db.logger

	n, err := db.deleter.DeleteScheduled()
	if err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("%w: deleted log: %w", ErrCorruption, err)
	}
	if n > 0 {
		logger.Infof("%sremoved %d files scheduled for deletion", logging.NSRecovery, n)
	}

	disk := segment.DiskOptions{
		Compare:         db.cmp,
		BloomBitsPerKey: o.BloomBitsPerKey,
	}
	segs, err := segment.Load(fsys, path, segment.LoadOptions{
		Disk:          disk,
		BatchReadMode: o.BatchReadMode,
		Logger:        logger,
	})
	if err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("%w: %w", ErrCorruption, err)
	}
	for _, s := range segs {
		maxID = max(maxID, s.UpperID())
	}
	db.nextSegID.Store(maxID)

	db.compactor = &compaction.Job{FS: fsys, Dir: path, Disk: disk, Logger: logger}
	db.flusher = &flush.Job{FS: fsys, Dir: path, Disk: disk, Logger: logger}
	db.reclaimer = reclaim.NewQueue(fsys, path, logger)
	db.state.Store(newState(segs, db.newMemory(), db.cmp, db.release))

	if !o.DisableAutoMerge {
		db.merger = newMerger(db)
		db.merger.start()
	}

	logger.Infof("%sopened %s: %d segments, next id %d", logging.NSDB, path, len(segs), maxID+1)
	return db, nil
}

// Destroy removes the database in path. It fails when the directory does not
// hold a database or the database is open.
func Destroy(path string) error {
	fsys := vfs.Default()
	if _, err := checkDir(fsys, path, false); err != nil {
		return err
	}
	lock, err := lockDir(fsys, path)
	if err != nil {
		return err
	}
	names, err := fsys.ListDir(path)
	if err != nil {
		_ = lock.Close()
		return err
	}
	var errs []error
	for _, name := range names {
		if name == segment.LockFileName {
			continue
		}
		if err := fsys.Remove(filepath.Join(path, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	errs = append(errs, lock.Close())
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return fsys.RemoveAll(path)
}

// checkDir verifies that path is a directory holding only database files,
// creating it when create is set. It returns the highest segment id named by
// any entry.
func checkDir(fsys vfs.FS, path string, create bool) (uint64, error) {
	info, err := fsys.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !create {
			return 0, fmt.Errorf("%w: %s", ErrDBNotFound, path)
		}
		if err := fsys.MkdirAll(path, 0o755); err != nil {
			return 0, err
		}
		return 0, nil
	case err != nil:
		return 0, err
	case !info.IsDir():
		return 0, fmt.Errorf("%w: %s is not a directory", ErrDBInvalid, path)
	}

	names, err := fsys.ListDir(path)
	if err != nil {
		return 0, err
	}
	var maxID uint64
	for _, name := range names {
		fn, ok := segment.ParseFileName(name)
		if !ok {
			return 0, fmt.Errorf("%w: unexpected file %q in %s", ErrDBInvalid, name, path)
		}
		maxID = max(maxID, fn.Hi)
	}
	return maxID, nil
}

func lockDir(fsys vfs.FS, path string) (io.Closer, error) {
	lock, err := fsys.Lock(filepath.Join(path, segment.LockFileName))
	if errors.Is(err, vfs.ErrLocked) {
		return nil, fmt.Errorf("%w: %s", ErrDBInUse, path)
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return lock, nil
}
