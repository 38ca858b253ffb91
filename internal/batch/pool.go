package batch

import (
	"sync"
	"sync/atomic"
)

// DefaultMaxPooledOps is the largest batch, in operations, returned to a pool.
// Larger batches are left to the garbage collector.
const DefaultMaxPooledOps = 64 * 1024

// Pool recycles WriteBatch values.
//
//	wb := pool.Get()
//	defer pool.Put(wb)
//	wb.Put(key, value)
//	db.Write(wb)
type Pool struct {
	pool sync.Pool

	gets      atomic.Uint64
	puts      atomic.Uint64
	discarded atomic.Uint64
}

// PoolStats reports pool usage.
type PoolStats struct {
	Gets      uint64
	Puts      uint64
	Discarded uint64
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{
		pool: sync.Pool{New: func() any { return New() }},
	}
}

// Get returns an empty batch.
func (p *Pool) Get() *WriteBatch {
	p.gets.Add(1)
	wb := p.pool.Get().(*WriteBatch)
	wb.Clear()
	return wb
}

// Put returns wb to the pool. wb must not be used afterwards.
func (p *Pool) Put(wb *WriteBatch) {
	if wb == nil {
		return
	}
	p.puts.Add(1)
	if cap(wb.records) > DefaultMaxPooledOps {
		p.discarded.Add(1)
		return
	}
	wb.Clear()
	p.pool.Put(wb)
}

// Stats returns a snapshot of the counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Gets:      p.gets.Load(),
		Puts:      p.puts.Load(),
		Discarded: p.discarded.Load(),
	}
}
