// Package batch collects puts and removes that are applied atomically.
//
// A batch reaches the log as one framed record group (see package wal) and
// is applied to the memory segment in insertion order, so a later operation
// on the same key wins.
package batch

import (
	"github.com/aalhour/segmentkv/internal/wal"
)

// recordOverhead is the framing cost of one record in the log.
const recordOverhead = 2 * wal.LengthSize

// WriteBatch is an ordered list of mutations. A zero-length value is a
// removal. WriteBatch is not safe for concurrent use.
type WriteBatch struct {
	records []wal.Record
	size    int
}

// New creates an empty WriteBatch.
func New() *WriteBatch {
	return &WriteBatch{}
}

// Put appends a put of key. Key and value are copied.
func (wb *WriteBatch) Put(key, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	wb.add(key, v)
}

// Remove appends a removal of key.
func (wb *WriteBatch) Remove(key []byte) {
	wb.add(key, []byte{})
}

func (wb *WriteBatch) add(key, value []byte) {
	k := make([]byte, len(key))
	copy(k, key)
	wb.records = append(wb.records, wal.Record{Key: k, Value: value})
	wb.size += recordOverhead + len(k) + len(value)
}

// Count returns the number of operations.
func (wb *WriteBatch) Count() int {
	return len(wb.records)
}

// Empty reports whether the batch holds no operations.
func (wb *WriteBatch) Empty() bool {
	return len(wb.records) == 0
}

// Size returns the number of bytes the batch occupies in the log.
func (wb *WriteBatch) Size() int {
	if len(wb.records) == 0 {
		return 0
	}
	return 2*wal.LengthSize + wb.size
}

// Records returns the operations in insertion order. The slice aliases the
// batch.
func (wb *WriteBatch) Records() []wal.Record {
	return wb.records
}

// Handler receives the operations of a batch.
type Handler interface {
	Put(key, value []byte) error
	Remove(key []byte) error
}

// Iterate calls h for every operation in order and stops at the first error.
func (wb *WriteBatch) Iterate(h Handler) error {
	for _, r := range wb.records {
		var err error
		if len(r.Value) == 0 {
			err = h.Remove(r.Key)
		} else {
			err = h.Put(r.Key, r.Value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Clear removes all operations, keeping the allocated capacity.
func (wb *WriteBatch) Clear() {
	clear(wb.records)
	wb.records = wb.records[:0]
	wb.size = 0
}
