package segment

import (
	"path/filepath"
	"sync"

	"github.com/aalhour/segmentkv/internal/iterator"
	"github.com/aalhour/segmentkv/internal/keys"
	"github.com/aalhour/segmentkv/internal/memtable"
	"github.com/aalhour/segmentkv/internal/vfs"
	"github.com/aalhour/segmentkv/internal/wal"
)

// MemoryOptions configures a memory segment.
type MemoryOptions struct {
	FS vfs.FS

	// Dir is the database directory. An empty Dir keeps the segment in
	// memory only, without a log.
	Dir string

	Compare keys.Comparator
	WAL     wal.WriterOptions
}

// Memory is the mutable segment. Every mutation is appended to the segment's
// log before it is applied to the ordered map. The log file is created on the
// first mutation, so an unused segment leaves nothing on disk.
type Memory struct {
	RefCount

	id   uint64
	opts MemoryOptions
	mt   *memtable.MemTable

	mu  sync.Mutex
	log *wal.Writer
}

// NewMemory creates an empty memory segment with the given id.
func NewMemory(id uint64, opts MemoryOptions) *Memory {
	if opts.FS == nil {
		opts.FS = vfs.Default()
	}
	return &Memory{
		id:   id,
		opts: opts,
		mt:   memtable.New(opts.Compare),
	}
}

func (m *Memory) LowerID() uint64 { return m.id }
func (m *Memory) UpperID() uint64 { return m.id }

// Get returns the raw value for key.
func (m *Memory) Get(key []byte) ([]byte, bool, error) {
	v, ok := m.mt.Get(key)
	return v, ok, nil
}

// Put logs and applies one mutation.
func (m *Memory) Put(key, value []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureLog(); err != nil {
		return nil, false, err
	}
	if m.log != nil {
		if err := m.log.Add(key, value); err != nil {
			return nil, false, err
		}
	}
	prev, existed := m.mt.Put(key, value)
	return prev, existed, nil
}

// Remove writes a tombstone for key.
func (m *Memory) Remove(key []byte) ([]byte, bool, error) {
	return m.Put(key, []byte{})
}

// Write logs recs as one batch and applies them in order.
func (m *Memory) Write(recs []wal.Record) error {
	if len(recs) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureLog(); err != nil {
		return err
	}
	if m.log != nil {
		if err := m.log.AddBatch(recs); err != nil {
			return err
		}
	}
	for _, r := range recs {
		m.mt.Put(r.Key, r.Value)
	}
	return nil
}

// Lookup returns the entries in [lower, upper].
func (m *Memory) Lookup(lower, upper []byte) iterator.LookupIterator {
	return m.mt.NewIterator(lower, upper)
}

// Size returns the approximate memory used by the entries.
func (m *Memory) Size() int64 {
	return m.mt.ApproximateMemoryUsage()
}

// Empty reports whether no mutation was applied.
func (m *Memory) Empty() bool {
	return m.mt.Empty()
}

// Count returns the number of distinct keys.
func (m *Memory) Count() int64 {
	return m.mt.Count()
}

// Files returns the log file, if it was created.
func (m *Memory) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.log == nil {
		return nil
	}
	return []string{LogName(m.id)}
}

// Sync flushes and syncs the log.
func (m *Memory) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.log == nil {
		return nil
	}
	return m.log.Sync()
}

// Close flushes and closes the log. The ordered map stays readable.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.log == nil {
		return nil
	}
	return m.log.Close()
}

func (m *Memory) ensureLog() error {
	if m.log != nil || m.opts.Dir == "" {
		return nil
	}
	f, err := m.opts.FS.Create(filepath.Join(m.opts.Dir, LogName(m.id)))
	if err != nil {
		return err
	}
	m.log = wal.NewWriter(f, m.opts.WAL)
	return nil
}
