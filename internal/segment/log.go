package segment

import (
	"fmt"
	"path/filepath"

	"github.com/aalhour/segmentkv/internal/iterator"
	"github.com/aalhour/segmentkv/internal/keys"
	"github.com/aalhour/segmentkv/internal/memtable"
	"github.com/aalhour/segmentkv/internal/vfs"
	"github.com/aalhour/segmentkv/internal/wal"
)

// LogOptions configures log replay.
type LogOptions struct {
	Compare       keys.Comparator
	BatchReadMode wal.BatchReadMode
}

// Log is the log of a memory segment that was never flushed, replayed into
// an ordered map at open. It is immutable.
type Log struct {
	RefCount

	id uint64
	mt *memtable.MemTable
}

// OpenLog replays log.<id> from dir.
func OpenLog(fs vfs.FS, dir string, id uint64, opts LogOptions) (*Log, wal.ReplayStats, error) {
	name := LogName(id)
	f, err := fs.Open(filepath.Join(dir, name))
	if err != nil {
		return nil, wal.ReplayStats{}, err
	}
	defer f.Close()

	mt := memtable.New(opts.Compare)
	stats, err := wal.Replay(f, opts.BatchReadMode, func(key, value []byte) {
		mt.Put(key, value)
	})
	if err != nil {
		return nil, stats, fmt.Errorf("%s: %w", name, err)
	}
	return &Log{id: id, mt: mt}, stats, nil
}

func (l *Log) LowerID() uint64 { return l.id }
func (l *Log) UpperID() uint64 { return l.id }

// Get returns the raw value for key.
func (l *Log) Get(key []byte) ([]byte, bool, error) {
	v, ok := l.mt.Get(key)
	return v, ok, nil
}

func (l *Log) Put(key, value []byte) ([]byte, bool, error) {
	immutable(l)
	return nil, false, nil
}

func (l *Log) Remove(key []byte) ([]byte, bool, error) {
	immutable(l)
	return nil, false, nil
}

// Lookup returns the entries in [lower, upper].
func (l *Log) Lookup(lower, upper []byte) iterator.LookupIterator {
	return l.mt.NewIterator(lower, upper)
}

// Size returns the approximate memory used by the replayed entries.
func (l *Log) Size() int64 {
	return l.mt.ApproximateMemoryUsage()
}

// Count returns the number of distinct keys.
func (l *Log) Count() int64 {
	return l.mt.Count()
}

func (l *Log) Files() []string {
	return []string{LogName(l.id)}
}

func (l *Log) Close() error { return nil }
