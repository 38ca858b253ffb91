package table

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aalhour/segmentkv/internal/block"
	"github.com/aalhour/segmentkv/internal/filter"
	"github.com/aalhour/segmentkv/internal/iterator"
	"github.com/aalhour/segmentkv/internal/keys"
	"github.com/aalhour/segmentkv/internal/vfs"
)

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	// Compare orders keys. Nil means bytewise.
	Compare keys.Comparator

	// Index is the sparse index produced by the writer. When nil it is
	// rebuilt from the key file.
	Index [][]byte

	// Filter is the bloom filter produced by the writer. When nil and
	// BloomBitsPerKey is positive, it is built on the first lookup.
	Filter *filter.Filter

	BloomBitsPerKey int
}

// Reader serves point lookups and range scans over a mapped key file and
// data file. A Reader is safe for concurrent use until Close.
type Reader struct {
	keysFile vfs.MappedFile
	dataFile vfs.MappedFile
	keyData  []byte
	valData  []byte
	blocks   int
	index    [][]byte
	cmp      keys.Comparator

	bloomBits  int
	filterOnce sync.Once
	filter     *filter.Filter
	filterErr  error
}

// searchContext holds the scratch buffers of one lookup.
type searchContext struct {
	key    keys.Buffer
	probe  keys.Buffer
	cursor block.Cursor
}

var searchPool = sync.Pool{
	New: func() any { return new(searchContext) },
}

// Open maps keysPath and dataPath.
func Open(fs vfs.FS, keysPath, dataPath string, opts ReaderOptions) (*Reader, error) {
	kf, err := fs.Mmap(keysPath)
	if err != nil {
		return nil, err
	}
	df, err := fs.Mmap(dataPath)
	if err != nil {
		_ = kf.Close()
		return nil, err
	}
	r, err := newReader(kf, df, opts)
	if err != nil {
		_ = kf.Close()
		_ = df.Close()
		return nil, fmt.Errorf("%s: %w", keysPath, err)
	}
	return r, nil
}

func newReader(kf, df vfs.MappedFile, opts ReaderOptions) (*Reader, error) {
	r := &Reader{
		keysFile:  kf,
		dataFile:  df,
		keyData:   kf.Bytes(),
		valData:   df.Bytes(),
		cmp:       keys.OrBytewise(opts.Compare),
		bloomBits: opts.BloomBitsPerKey,
		filter:    opts.Filter,
	}
	if len(r.keyData)%block.Size != 0 {
		return nil, fmt.Errorf("%w: key file length %d is not a multiple of %d", ErrCorrupt, len(r.keyData), block.Size)
	}
	r.blocks = len(r.keyData) / block.Size

	if opts.Index != nil {
		r.index = opts.Index
		return r, nil
	}
	var kb keys.Buffer
	for i := 0; i < r.blocks; i += block.IndexInterval {
		if err := block.FirstKey(block.Bytes(r.keyData, i), &kb); err != nil {
			return nil, err
		}
		r.index = append(r.index, kb.Copy())
	}
	return r, nil
}

// Close unmaps both files.
func (r *Reader) Close() error {
	return errors.Join(r.keysFile.Close(), r.dataFile.Close())
}

// Blocks returns the number of key blocks.
func (r *Reader) Blocks() int { return r.blocks }

// Index returns the sparse index.
func (r *Reader) Index() [][]byte { return r.index }

// KeyBytes returns the size of the key file.
func (r *Reader) KeyBytes() int64 { return int64(len(r.keyData)) }

// DataBytes returns the size of the data file.
func (r *Reader) DataBytes() int64 { return int64(len(r.valData)) }

// Get returns a copy of the value stored for key. A tombstone is returned as
// an empty non-nil value with found set.
func (r *Reader) Get(key []byte) (value []byte, found bool, err error) {
	if r.blocks == 0 {
		return nil, false, nil
	}
	if r.bloomBits > 0 || r.filter != nil {
		f, err := r.bloomFilter()
		if err != nil {
			return nil, false, err
		}
		if !f.MayContain(key) {
			return nil, false, nil
		}
	}

	ctx := searchPool.Get().(*searchContext)
	defer searchPool.Put(ctx)

	low, high := r.indexRange(key)
	b, err := r.searchBlocks(ctx, key, low, high)
	if err != nil {
		return nil, false, err
	}
	h, found, err := r.scanBlock(ctx, b, key)
	if err != nil || !found {
		return nil, false, err
	}
	value, err = r.value(h)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// indexRange narrows the search to the blocks between two sampled blocks.
func (r *Reader) indexRange(key []byte) (low, high int) {
	i := sort.Search(len(r.index), func(i int) bool {
		return r.cmp(r.index[i], key) >= 0
	})
	if i < len(r.index) && r.cmp(r.index[i], key) == 0 {
		b := i * block.IndexInterval
		return b, b
	}
	low = max(i-1, 0) * block.IndexInterval
	high = min(low+block.IndexInterval-1, r.blocks-1)
	return low, high
}

// searchBlocks returns the last block in [low, high] whose first key is <= key.
func (r *Reader) searchBlocks(ctx *searchContext, key []byte, low, high int) (int, error) {
	for high-low > 1 {
		mid := low + (high-low)/2
		if err := block.FirstKey(block.Bytes(r.keyData, mid), &ctx.probe); err != nil {
			return 0, err
		}
		if ctx.probe.Compare(r.cmp, key) > 0 {
			high = mid - 1
		} else {
			low = mid
		}
	}
	if high > low {
		if err := block.FirstKey(block.Bytes(r.keyData, high), &ctx.probe); err != nil {
			return 0, err
		}
		if ctx.probe.Compare(r.cmp, key) <= 0 {
			return high, nil
		}
	}
	return low, nil
}

func (r *Reader) scanBlock(ctx *searchContext, b int, key []byte) (block.Handle, bool, error) {
	c := &ctx.cursor
	c.Reset(block.Bytes(r.keyData, b), &ctx.key)
	for {
		ok, err := c.Next()
		if err != nil {
			return block.Handle{}, false, err
		}
		if !ok {
			return block.Handle{}, false, nil
		}
		switch cmp := ctx.key.Compare(r.cmp, key); {
		case cmp == 0:
			return c.Handle(), true, nil
		case cmp > 0:
			return block.Handle{}, false, nil
		}
	}
}

// value copies the value at h out of the data file.
func (r *Reader) value(h block.Handle) ([]byte, error) {
	end := h.Offset + uint64(h.Length)
	if end < h.Offset || end > uint64(len(r.valData)) {
		return nil, fmt.Errorf("%w: value [%d, %d) outside data file of %d bytes", ErrCorrupt, h.Offset, end, len(r.valData))
	}
	v := make([]byte, h.Length)
	copy(v, r.valData[h.Offset:end])
	return v, nil
}

func (r *Reader) bloomFilter() (*filter.Filter, error) {
	r.filterOnce.Do(func() {
		if r.filter != nil {
			return
		}
		b := filter.NewBuilder(r.bloomBits)
		r.filterErr = r.forEach(func(key []byte, _ block.Handle) error {
			b.AddKey(key)
			return nil
		})
		if r.filterErr == nil {
			r.filter = b.Finish()
		}
	})
	return r.filter, r.filterErr
}

// forEach calls fn for every entry in key order. key aliases a scratch buffer.
func (r *Reader) forEach(fn func(key []byte, h block.Handle) error) error {
	var kb keys.Buffer
	var c block.Cursor
	for i := 0; i < r.blocks; i++ {
		c.Reset(block.Bytes(r.keyData, i), &kb)
		for {
			ok, err := c.Next()
			if err != nil {
				return fmt.Errorf("block %d: %w", i, err)
			}
			if !ok {
				break
			}
			if err := fn(c.Key(), c.Handle()); err != nil {
				return err
			}
		}
	}
	return nil
}

// NewIterator returns an iterator over the keys in [lower, upper]. A nil
// bound is open. Keys and values are copied out of the mapped files.
func (r *Reader) NewIterator(lower, upper []byte) iterator.LookupIterator {
	it := &tableIterator{r: r, lower: lower, upper: upper}
	if lower != nil && r.blocks > 0 {
		ctx := searchPool.Get().(*searchContext)
		low, high := r.indexRange(lower)
		it.blk, it.err = r.searchBlocks(ctx, lower, low, high)
		searchPool.Put(ctx)
	}
	return it
}

type tableIterator struct {
	r       *Reader
	lower   []byte
	upper   []byte
	blk     int
	cursor  block.Cursor
	key     keys.Buffer
	started bool
	pending *iterator.KeyValue
	done    bool
	err     error
}

func (it *tableIterator) PeekKey() ([]byte, error) {
	if err := it.fill(); err != nil {
		return nil, err
	}
	return it.pending.Key, nil
}

func (it *tableIterator) Next() (iterator.KeyValue, error) {
	if err := it.fill(); err != nil {
		return iterator.KeyValue{}, err
	}
	kv := *it.pending
	it.pending = nil
	return kv, nil
}

func (it *tableIterator) fill() error {
	if it.err != nil {
		return it.err
	}
	if it.pending != nil {
		return nil
	}
	if it.done {
		return iterator.ErrEndOfIterator
	}
	r := it.r
	for {
		if !it.started {
			if it.blk >= r.blocks {
				it.done = true
				return iterator.ErrEndOfIterator
			}
			it.cursor.Reset(block.Bytes(r.keyData, it.blk), &it.key)
			it.started = true
		}
		ok, err := it.cursor.Next()
		if err != nil {
			it.err = err
			return err
		}
		if !ok {
			it.blk++
			it.started = false
			continue
		}
		if it.lower != nil && it.key.Compare(r.cmp, it.lower) < 0 {
			continue
		}
		if it.upper != nil && it.key.Compare(r.cmp, it.upper) > 0 {
			it.done = true
			return iterator.ErrEndOfIterator
		}
		v, err := r.value(it.cursor.Handle())
		if err != nil {
			it.err = err
			return err
		}
		it.pending = &iterator.KeyValue{Key: it.key.Copy(), Value: v}
		return nil
	}
}
