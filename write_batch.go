package segmentkv

// write_batch.go implements the public WriteBatch API for atomic writes.

import (
	"github.com/aalhour/segmentkv/internal/batch"
)

// WriteBatch holds a collection of writes to be applied atomically.
// Keys and values are copied, so you can modify them after calling
// Put or Remove.
//
// A WriteBatch can be reused by calling Clear() after Write().
//
// Example:
//
//	wb := segmentkv.NewWriteBatch()
//	wb.Put([]byte("key1"), []byte("value1"))
//	wb.Put([]byte("key2"), []byte("value2"))
//	wb.Remove([]byte("key3"))
//	err := db.Write(wb)
//	wb.Clear() // Reuse the batch
type WriteBatch struct {
	internal *batch.WriteBatch
}

var batchPool = batch.NewPool()

// NewWriteBatch creates a new empty WriteBatch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{
		internal: batch.New(),
	}
}

// AcquireWriteBatch returns an empty WriteBatch from a shared pool. Return it
// with ReleaseWriteBatch once written.
func AcquireWriteBatch() *WriteBatch {
	return &WriteBatch{
		internal: batchPool.Get(),
	}
}

// ReleaseWriteBatch returns wb to the shared pool. wb must not be used
// afterwards.
func ReleaseWriteBatch(wb *WriteBatch) {
	if wb == nil || wb.internal == nil {
		return
	}
	batchPool.Put(wb.internal)
	wb.internal = nil
}

// Put adds a key-value pair to the batch. An empty value removes the key.
func (wb *WriteBatch) Put(key, value []byte) {
	wb.internal.Put(key, value)
}

// Remove adds a removal of key to the batch.
func (wb *WriteBatch) Remove(key []byte) {
	wb.internal.Remove(key)
}

// Count returns the number of operations in the batch.
func (wb *WriteBatch) Count() int {
	return wb.internal.Count()
}

// Size returns the number of bytes the batch takes in the log.
func (wb *WriteBatch) Size() int {
	return wb.internal.Size()
}

// Clear removes all operations from the batch.
func (wb *WriteBatch) Clear() {
	wb.internal.Clear()
}
