package wal

import (
	"bufio"

	"github.com/aalhour/segmentkv/internal/encoding"
	"github.com/aalhour/segmentkv/internal/mempool"
	"github.com/aalhour/segmentkv/internal/vfs"
)

// WriterOptions controls durability of log writes.
type WriterOptions struct {
	// DisableWriteFlush leaves records in the user-space buffer until the
	// buffer fills or the writer is closed.
	DisableWriteFlush bool

	// EnableSyncWrite syncs the file after every write. It overrides
	// DisableWriteFlush.
	EnableSyncWrite bool
}

// Writer appends records to a log file. It is not safe for concurrent use;
// the owning memory segment serializes writes.
type Writer struct {
	f      vfs.WritableFile
	buf    *bufio.Writer
	opts   WriterOptions
	size   int64
	closed bool
}

// NewWriter creates a writer appending to f.
func NewWriter(f vfs.WritableFile, opts WriterOptions) *Writer {
	return &Writer{
		f:    f,
		buf:  bufio.NewWriterSize(f, 64*1024),
		opts: opts,
	}
}

// Add writes a single record and commits it.
func (w *Writer) Add(key, value []byte) error {
	if w.closed {
		return ErrClosed
	}
	if err := w.writeRecord(key, value); err != nil {
		return err
	}
	return w.commit()
}

// AddBatch writes recs as one framed batch and commits it. An empty batch
// writes nothing.
func (w *Writer) AddBatch(recs []Record) error {
	if w.closed {
		return ErrClosed
	}
	if len(recs) == 0 {
		return nil
	}
	var marker [LengthSize]byte
	encoding.EncodeInt32(marker[:], -int32(len(recs)))

	if err := w.write(marker[:]); err != nil {
		return err
	}
	for _, r := range recs {
		if err := w.writeRecord(r.Key, r.Value); err != nil {
			return err
		}
	}
	if err := w.write(marker[:]); err != nil {
		return err
	}
	return w.commit()
}

// Size returns the number of bytes written, buffered bytes included.
func (w *Writer) Size() int64 {
	return w.size
}

// Flush pushes buffered records to the file.
func (w *Writer) Flush() error {
	return w.buf.Flush()
}

// Sync flushes and syncs the file.
func (w *Writer) Sync() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

// Close flushes buffered records and closes the file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	flushErr := w.buf.Flush()
	closeErr := w.f.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (w *Writer) writeRecord(key, value []byte) error {
	n := 2*LengthSize + len(key) + len(value)
	rec := mempool.GlobalPool.Get(n)
	rec = encoding.AppendInt32(rec, int32(len(key)))
	rec = append(rec, key...)
	rec = encoding.AppendInt32(rec, int32(len(value)))
	rec = append(rec, value...)
	err := w.write(rec)
	mempool.GlobalPool.Put(rec)
	return err
}

func (w *Writer) write(p []byte) error {
	n, err := w.buf.Write(p)
	w.size += int64(n)
	return err
}

func (w *Writer) commit() error {
	switch {
	case w.opts.EnableSyncWrite:
		return w.Sync()
	case w.opts.DisableWriteFlush:
		return nil
	default:
		return w.buf.Flush()
	}
}
