package segment

import (
	"path/filepath"

	"github.com/aalhour/segmentkv/internal/iterator"
	"github.com/aalhour/segmentkv/internal/keys"
	"github.com/aalhour/segmentkv/internal/table"
	"github.com/aalhour/segmentkv/internal/vfs"
)

// DiskOptions configures writing and opening disk segments.
type DiskOptions struct {
	Compare keys.Comparator

	// BloomBitsPerKey enables the in-memory bloom filter when positive.
	BloomBitsPerKey int

	// PurgeTombstones drops tombstones while writing.
	PurgeTombstones bool
}

// Disk is an immutable segment backed by a mapped key file and data file.
type Disk struct {
	RefCount

	lo, hi uint64
	r      *table.Reader
}

// OpenDisk maps keys.<lo>.<hi> and data.<lo>.<hi> from dir.
func OpenDisk(fs vfs.FS, dir string, lo, hi uint64, opts DiskOptions) (*Disk, error) {
	return openDisk(fs, dir, lo, hi, table.ReaderOptions{
		Compare:         opts.Compare,
		BloomBitsPerKey: opts.BloomBitsPerKey,
	})
}

// WriteDisk drains it into a new disk segment covering [lo, hi] and opens it.
// The writer's sparse index and bloom filter are handed to the reader.
func WriteDisk(fs vfs.FS, dir string, lo, hi uint64, it iterator.LookupIterator, opts DiskOptions) (*Disk, *table.Result, error) {
	res, err := table.WriteFiles(fs,
		filepath.Join(dir, KeysName(lo, hi)),
		filepath.Join(dir, DataName(lo, hi)),
		it,
		table.WriterOptions{
			Compare:         opts.Compare,
			PurgeTombstones: opts.PurgeTombstones,
			BloomBitsPerKey: opts.BloomBitsPerKey,
		})
	if err != nil {
		return nil, nil, err
	}
	d, err := openDisk(fs, dir, lo, hi, table.ReaderOptions{
		Compare:         opts.Compare,
		Index:           res.Index,
		Filter:          res.Filter,
		BloomBitsPerKey: opts.BloomBitsPerKey,
	})
	if err != nil {
		return nil, nil, err
	}
	return d, res, nil
}

func openDisk(fs vfs.FS, dir string, lo, hi uint64, ropts table.ReaderOptions) (*Disk, error) {
	r, err := table.Open(fs,
		filepath.Join(dir, KeysName(lo, hi)),
		filepath.Join(dir, DataName(lo, hi)),
		ropts)
	if err != nil {
		return nil, err
	}
	return &Disk{lo: lo, hi: hi, r: r}, nil
}

func (d *Disk) LowerID() uint64 { return d.lo }
func (d *Disk) UpperID() uint64 { return d.hi }

// Get returns a copy of the raw value for key.
func (d *Disk) Get(key []byte) ([]byte, bool, error) {
	return d.r.Get(key)
}

func (d *Disk) Put(key, value []byte) ([]byte, bool, error) {
	immutable(d)
	return nil, false, nil
}

func (d *Disk) Remove(key []byte) ([]byte, bool, error) {
	immutable(d)
	return nil, false, nil
}

// Lookup returns the entries in [lower, upper].
func (d *Disk) Lookup(lower, upper []byte) iterator.LookupIterator {
	return d.r.NewIterator(lower, upper)
}

// Size returns the combined size of the key and data files.
func (d *Disk) Size() int64 {
	return d.r.KeyBytes() + d.r.DataBytes()
}

func (d *Disk) Files() []string {
	return []string{KeysName(d.lo, d.hi), DataName(d.lo, d.hi)}
}

// Reader exposes the underlying table reader.
func (d *Disk) Reader() *table.Reader {
	return d.r
}

// Close unmaps the files.
func (d *Disk) Close() error {
	return d.r.Close()
}
