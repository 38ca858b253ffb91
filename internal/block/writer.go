package block

import (
	"bytes"
	"io"

	"github.com/aalhour/segmentkv/internal/encoding"
	"github.com/aalhour/segmentkv/internal/keys"
)

// Writer packs entries into fixed-size blocks and writes every completed
// block to the underlying writer. Entries must be added in ascending key
// order. A Writer is single-pass and not safe for concurrent use.
type Writer struct {
	w       io.Writer
	buf     [Size]byte
	n       int // bytes used in the current block
	entries int // entries in the current block
	blocks  int // completed blocks
	total   int
	prev    keys.Buffer
	index   [][]byte
}

// NewWriter creates a block writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Add appends an entry. The current block is closed first when the entry
// would leave no room for the end-of-block sentinel.
// REQUIRES: keys.Valid(key).
func (w *Writer) Add(key []byte, h Handle) error {
	if w.entries > 0 && w.n+FieldLen+len(key)+TrailerLen >= Size-FieldLen {
		if err := w.flushBlock(); err != nil {
			return err
		}
	}
	if w.entries == 0 {
		if w.blocks%IndexInterval == 0 {
			w.index = append(w.index, bytes.Clone(key))
		}
		w.prev.Reset()
	}

	field, stored := keys.EncodeField(w.prev.Bytes(), key)
	encoding.EncodeFixed16(w.buf[w.n:], field)
	w.n += FieldLen
	w.n += copy(w.buf[w.n:], stored)
	encoding.EncodeFixed64(w.buf[w.n:], h.Offset)
	encoding.EncodeFixed32(w.buf[w.n+8:], h.Length)
	w.n += TrailerLen

	w.prev.Set(key)
	w.entries++
	w.total++
	return nil
}

// Finish closes the last block. The writer must not be used afterwards.
func (w *Writer) Finish() error {
	if w.entries == 0 {
		return nil
	}
	return w.flushBlock()
}

// Index returns the sparse index: the first key of every IndexInterval-th
// block, in block order.
func (w *Writer) Index() [][]byte {
	return w.index
}

// Blocks returns the number of blocks written so far.
func (w *Writer) Blocks() int {
	return w.blocks
}

// Entries returns the number of entries added.
func (w *Writer) Entries() int {
	return w.total
}

func (w *Writer) flushBlock() error {
	encoding.EncodeFixed16(w.buf[w.n:], keys.EndOfBlock)
	if _, err := w.w.Write(w.buf[:]); err != nil {
		return err
	}
	clear(w.buf[:])
	w.n = 0
	w.entries = 0
	w.blocks++
	return nil
}
