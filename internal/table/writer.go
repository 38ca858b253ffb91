// Package table reads and writes the key and data files of a disk segment.
//
// The key file is a sequence of key blocks (see package block); the data
// file is the concatenation of the values in key order. The writer is
// single-pass over a sorted input and is shared by memory flushes and
// segment merges.
package table

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/aalhour/segmentkv/internal/block"
	"github.com/aalhour/segmentkv/internal/filter"
	"github.com/aalhour/segmentkv/internal/iterator"
	"github.com/aalhour/segmentkv/internal/keys"
	"github.com/aalhour/segmentkv/internal/vfs"
)

// TempSuffix marks files that are still being written.
const TempSuffix = ".tmp"

var (
	// ErrCorrupt is returned when a key or data file violates the format.
	ErrCorrupt = errors.New("table: corrupt segment file")

	// ErrUnsorted is returned when entries are added out of order.
	ErrUnsorted = errors.New("table: keys added out of order")

	// ErrInvalidKey is returned for empty or oversized keys.
	ErrInvalidKey = errors.New("table: invalid key length")
)

// WriterOptions configures a Writer.
type WriterOptions struct {
	// Compare orders keys. Nil means bytewise.
	Compare keys.Comparator

	// PurgeTombstones drops zero-length values instead of writing them.
	// Only safe when no older segment can hold the key.
	PurgeTombstones bool

	// BloomBitsPerKey builds an in-memory bloom filter when positive.
	BloomBitsPerKey int
}

// Result describes a finished segment.
type Result struct {
	// Index is the sparse index: the first key of every block.IndexInterval-th block.
	Index [][]byte

	// Filter is the bloom filter, or nil when disabled.
	Filter *filter.Filter

	Entries   int
	Purged    int
	Blocks    int
	KeyBytes  int64
	DataBytes int64
}

// Writer streams sorted entries into a key file and a data file.
type Writer struct {
	opts    WriterOptions
	cmp     keys.Comparator
	data    *bufio.Writer
	keysBuf *bufio.Writer
	blocks  *block.Writer
	bloom   *filter.Builder
	offset  uint64
	lastKey keys.Buffer
	hasLast bool
	purged  int
}

// NewWriter creates a writer over the given key and data streams.
func NewWriter(keysW, dataW io.Writer, opts WriterOptions) *Writer {
	w := &Writer{
		opts:    opts,
		cmp:     keys.OrBytewise(opts.Compare),
		data:    bufio.NewWriterSize(dataW, 64*1024),
		keysBuf: bufio.NewWriterSize(keysW, 16*block.Size),
	}
	w.blocks = block.NewWriter(w.keysBuf)
	if opts.BloomBitsPerKey > 0 {
		w.bloom = filter.NewBuilder(opts.BloomBitsPerKey)
	}
	return w
}

// Add appends an entry. Keys must be strictly ascending.
func (w *Writer) Add(key, value []byte) error {
	if !keys.Valid(key) {
		return fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(key))
	}
	if w.hasLast && w.lastKey.Compare(w.cmp, key) >= 0 {
		return fmt.Errorf("%w: %q after %q", ErrUnsorted, key, w.lastKey.Bytes())
	}
	w.lastKey.Set(key)
	w.hasLast = true

	if len(value) == 0 && w.opts.PurgeTombstones {
		w.purged++
		return nil
	}

	if _, err := w.data.Write(value); err != nil {
		return err
	}
	h := block.Handle{Offset: w.offset, Length: uint32(len(value))}
	w.offset += uint64(len(value))

	if err := w.blocks.Add(key, h); err != nil {
		return err
	}
	if w.bloom != nil {
		w.bloom.AddKey(key)
	}
	return nil
}

// Finish closes the last block and flushes both streams.
func (w *Writer) Finish() (*Result, error) {
	if err := w.blocks.Finish(); err != nil {
		return nil, err
	}
	if err := w.keysBuf.Flush(); err != nil {
		return nil, err
	}
	if err := w.data.Flush(); err != nil {
		return nil, err
	}
	res := &Result{
		Index:     w.blocks.Index(),
		Entries:   w.blocks.Entries(),
		Purged:    w.purged,
		Blocks:    w.blocks.Blocks(),
		KeyBytes:  int64(w.blocks.Blocks()) * block.Size,
		DataBytes: int64(w.offset),
	}
	if w.bloom != nil {
		res.Filter = w.bloom.Finish()
	}
	return res, nil
}

// WriteFiles drains it into keysPath and dataPath. Both files are written
// under a TempSuffix name, synced, and renamed into place data first, so a
// crash never leaves a key file without its data file. On failure the
// temporary files are removed and no file appears under the final names.
func WriteFiles(fs vfs.FS, keysPath, dataPath string, it iterator.LookupIterator, opts WriterOptions) (res *Result, err error) {
	keysTmp := keysPath + TempSuffix
	dataTmp := dataPath + TempSuffix

	var keysFile, dataFile vfs.WritableFile
	dataRenamed := false
	defer func() {
		if err == nil {
			return
		}
		if keysFile != nil {
			_ = keysFile.Close()
		}
		if dataFile != nil {
			_ = dataFile.Close()
		}
		_ = fs.Remove(keysTmp)
		_ = fs.Remove(dataTmp)
		if dataRenamed {
			_ = fs.Remove(dataPath)
		}
	}()

	if keysFile, err = fs.Create(keysTmp); err != nil {
		return nil, err
	}
	if dataFile, err = fs.Create(dataTmp); err != nil {
		return nil, err
	}

	w := NewWriter(keysFile, dataFile, opts)
	for {
		var kv iterator.KeyValue
		kv, err = it.Next()
		if errors.Is(err, iterator.ErrEndOfIterator) {
			err = nil
			break
		}
		if err != nil {
			return nil, err
		}
		if err = w.Add(kv.Key, kv.Value); err != nil {
			return nil, err
		}
	}
	if res, err = w.Finish(); err != nil {
		return nil, err
	}

	for _, f := range []vfs.WritableFile{keysFile, dataFile} {
		if err = f.Sync(); err != nil {
			return nil, err
		}
	}
	closeKeys, closeData := keysFile.Close(), dataFile.Close()
	keysFile, dataFile = nil, nil
	if err = errors.Join(closeKeys, closeData); err != nil {
		return nil, err
	}

	if err = fs.Rename(dataTmp, dataPath); err != nil {
		return nil, err
	}
	dataRenamed = true
	if err = fs.Rename(keysTmp, keysPath); err != nil {
		return nil, err
	}
	if err = fs.SyncDir(filepath.Dir(keysPath)); err != nil {
		return nil, err
	}
	return res, nil
}
