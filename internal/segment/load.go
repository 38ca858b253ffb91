package segment

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aalhour/segmentkv/internal/logging"
	"github.com/aalhour/segmentkv/internal/vfs"
	"github.com/aalhour/segmentkv/internal/wal"
)

// LoadOptions configures Load.
type LoadOptions struct {
	Disk          DiskOptions
	BatchReadMode wal.BatchReadMode
	Logger        logging.Logger
}

// Load opens every segment found in dir, oldest first.
//
// Leftovers of interrupted writes (a *.tmp file) are removed together with
// the final-named files of the same segment, and so is a data file whose key
// file is missing. After sorting by UpperID, any
// segment whose id range is contained in a later segment's range is pruned
// and its files removed: it is a log or a set of segments that was already
// flushed or merged but not yet deleted.
func Load(fsys vfs.FS, dir string, opts LoadOptions) (segs []Owned, err error) {
	logger := logging.OrDefault(opts.Logger)

	if err := purgeTemp(fsys, dir, logger); err != nil {
		return nil, err
	}

	names, err := fsys.ListDir(dir)
	if err != nil {
		return nil, err
	}
	if err := purgeOrphanData(fsys, dir, names, logger); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			for _, s := range segs {
				_ = s.Close()
			}
			segs = nil
		}
	}()

	for _, name := range names {
		fn, ok := ParseFileName(name)
		if !ok {
			continue
		}
		switch fn.Kind {
		case KindLog:
			l, stats, err := OpenLog(fsys, dir, fn.Lo, LogOptions{
				Compare:       opts.Disk.Compare,
				BatchReadMode: opts.BatchReadMode,
			})
			if err != nil {
				return segs, err
			}
			if stats.Truncated {
				logger.Warnf("%sreplayed %s: %d records, dropped %d records of a torn tail (%s)",
					logging.NSLog, name, stats.Records, stats.PartialRecords, opts.BatchReadMode)
			} else {
				logger.Debugf("%sreplayed %s: %d records, %d batches", logging.NSLog, name, stats.Records, stats.Batches)
			}
			segs = append(segs, l)
		case KindKeys:
			d, err := OpenDisk(fsys, dir, fn.Lo, fn.Hi, opts.Disk)
			if err != nil {
				return segs, err
			}
			segs = append(segs, d)
		}
	}

	SortByRecency(segs)
	segs, pruned := Prune(segs)
	for _, s := range pruned {
		logger.Infof("%spruning %s, covered by a newer segment", logging.NSRecovery, Describe(s))
		if err := s.Close(); err != nil {
			return segs, err
		}
		if err := RemoveFiles(fsys, dir, s); err != nil {
			return segs, err
		}
	}
	if len(pruned) > 0 {
		logger.Infof("%spruned %d segments at open", logging.NSRecovery, len(pruned))
	}
	return segs, nil
}

// SortByRecency orders segments by UpperID. On equal UpperID the segment
// with the higher LowerID sorts first, and a log sorts before a disk segment
// with the same range, so the older copy is the one Prune drops.
func SortByRecency[S Segment](segs []S) {
	slices.SortStableFunc(segs, func(a, b S) int {
		if c := cmp.Compare(a.UpperID(), b.UpperID()); c != 0 {
			return c
		}
		if c := cmp.Compare(b.LowerID(), a.LowerID()); c != 0 {
			return c
		}
		return kindRank(a) - kindRank(b)
	})
}

// Prune removes every segment whose id range is contained in the range of a
// later segment. segs must be sorted with SortByRecency.
func Prune[S Segment](segs []S) (kept, pruned []S) {
	for i, s := range segs {
		covered := false
		for _, later := range segs[i+1:] {
			if s.LowerID() >= later.LowerID() && s.UpperID() <= later.UpperID() {
				covered = true
				break
			}
		}
		if covered {
			pruned = append(pruned, s)
		} else {
			kept = append(kept, s)
		}
	}
	return kept, pruned
}

// RemoveFiles deletes the files backing s. Missing files are ignored.
func RemoveFiles(fsys vfs.FS, dir string, s Segment) error {
	var errs []error
	for _, name := range s.Files() {
		if err := fsys.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func purgeTemp(fsys vfs.FS, dir string, logger logging.Logger) error {
	names, err := fsys.ListDir(dir)
	if err != nil {
		return err
	}
	seen := make(map[FileName]bool)
	for _, name := range names {
		fn, ok := ParseFileName(name)
		if !ok || !fn.Temp {
			continue
		}
		fn.Kind = KindKeys
		if seen[fn] {
			continue
		}
		seen[fn] = true
		logger.Warnf("%sremoving incomplete segment %s", logging.NSRecovery, strings.TrimSuffix(name, TempSuffix))
		for _, n := range []string{
			KeysName(fn.Lo, fn.Hi),
			DataName(fn.Lo, fn.Hi),
			KeysName(fn.Lo, fn.Hi) + TempSuffix,
			DataName(fn.Lo, fn.Hi) + TempSuffix,
		} {
			if err := fsys.Remove(filepath.Join(dir, n)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("remove %s: %w", n, err)
			}
		}
	}
	return nil
}

// purgeOrphanData removes data files without a key file. The writer renames
// the data file first, so a crash between the two renames leaves one behind.
func purgeOrphanData(fsys vfs.FS, dir string, names []string, logger logging.Logger) error {
	present := make(map[string]bool, len(names))
	for _, name := range names {
		present[name] = true
	}
	for _, name := range names {
		fn, ok := ParseFileName(name)
		if !ok || fn.Kind != KindData || fn.Temp || present[KeysName(fn.Lo, fn.Hi)] {
			continue
		}
		logger.Warnf("%sremoving %s, its key file is missing", logging.NSRecovery, name)
		if err := fsys.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

func kindRank(s Segment) int {
	switch s.(type) {
	case *Log, *Memory:
		return 0
	default:
		return 1
	}
}
