// Package mempool provides pooled byte buffers for log record encoding and
// backup copies.
package mempool

import "sync"

// Pool manages reusable byte slices in size buckets.
type Pool struct {
	pools [len(BucketSizes)]sync.Pool
}

// BucketSizes defines the buffer size buckets.
var BucketSizes = [5]int{
	256,
	1024,
	4 * 1024,
	16 * 1024,
	64 * 1024,
}

// CopyBufferSize is the buffer size used for streaming file copies.
const CopyBufferSize = 64 * 1024

// NewPool creates a new Pool.
func NewPool() *Pool {
	bp := &Pool{}
	for i := range bp.pools {
		size := BucketSizes[i]
		bp.pools[i] = sync.Pool{
			New: func() any {
				buf := make([]byte, 0, size)
				return &buf
			},
		}
	}
	return bp
}

// Get returns an empty slice with capacity of at least minSize.
func (bp *Pool) Get(minSize int) []byte {
	bucket := bp.getBucket(minSize)
	if bucket < 0 {
		return make([]byte, 0, minSize)
	}

	bufPtr, ok := bp.pools[bucket].Get().(*[]byte)
	if !ok || cap(*bufPtr) < minSize {
		return make([]byte, 0, BucketSizes[bucket])
	}
	return (*bufPtr)[:0]
}

// Put returns a byte slice to the pool. The slice is filed under the largest
// bucket it can fully serve; slices smaller than the first bucket or far
// larger than the last one are dropped.
func (bp *Pool) Put(buf []byte) {
	c := cap(buf)
	if c < BucketSizes[0] || c > BucketSizes[len(BucketSizes)-1]*2 {
		return
	}
	bucket := 0
	for i, size := range BucketSizes {
		if c >= size {
			bucket = i
		}
	}
	buf = buf[:0]
	bp.pools[bucket].Put(&buf)
}

func (bp *Pool) getBucket(size int) int {
	for i, bucketSize := range BucketSizes {
		if size <= bucketSize {
			return i
		}
	}
	return -1
}

// GlobalPool is the default buffer pool.
var GlobalPool = NewPool()
