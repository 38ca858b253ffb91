// Package filter implements the in-memory Bloom filter kept per disk segment.
//
// The filter is cache-local: every probe for a key lands in one 64-byte
// cache line chosen by the low half of the key's XXH3 hash, and the high half
// drives the probes inside that line. Filters are rebuilt from the key file
// when a segment is opened and never persisted.
package filter

import (
	"github.com/aalhour/segmentkv/internal/checksum"
)

const (
	// CacheLineSize is the size of a CPU cache line in bytes.
	CacheLineSize = 64

	// CacheLineBits is the number of bits in a cache line.
	CacheLineBits = CacheLineSize * 8

	// DefaultBitsPerKey gives roughly a 1% false positive rate.
	DefaultBitsPerKey = 10
)

// Builder collects key hashes and builds a Filter.
type Builder struct {
	bitsPerKey int
	hashes     []uint64
}

// NewBuilder creates a builder. bitsPerKey below 1 is raised to 1.
func NewBuilder(bitsPerKey int) *Builder {
	if bitsPerKey < 1 {
		bitsPerKey = 1
	}
	return &Builder{
		bitsPerKey: bitsPerKey,
		hashes:     make([]uint64, 0, 256),
	}
}

// AddKey adds a key to the filter.
func (b *Builder) AddKey(key []byte) {
	b.hashes = append(b.hashes, checksum.Sum64(key))
}

// NumKeys returns the number of keys added.
func (b *Builder) NumKeys() int {
	return len(b.hashes)
}

// Finish builds the filter. The builder is reset and may be reused.
func (b *Builder) Finish() *Filter {
	n := len(b.hashes)
	if n == 0 {
		return &Filter{}
	}

	lines := (n*b.bitsPerKey + CacheLineBits - 1) / CacheLineBits
	f := &Filter{
		data:      make([]byte, lines*CacheLineSize),
		numProbes: chooseNumProbes(b.bitsPerKey * 1000),
	}
	for _, h := range b.hashes {
		f.add(h)
	}
	b.hashes = b.hashes[:0]
	return f
}

// Filter answers set membership with false positives but no false negatives.
// A Filter is immutable and safe for concurrent use.
type Filter struct {
	data      []byte
	numProbes int
}

// MayContain returns false only if key was definitely not added.
// A nil or empty filter contains nothing.
func (f *Filter) MayContain(key []byte) bool {
	if f == nil || len(f.data) == 0 {
		return false
	}
	h := checksum.Sum64(key)
	line := f.line(uint32(h))
	p := uint32(h >> 32)
	for range f.numProbes {
		// 9-bit address within a 512-bit cache line.
		bitpos := p >> (32 - 9)
		if line[bitpos>>3]&(1<<(bitpos&7)) == 0 {
			return false
		}
		p *= 0x9e3779b9
	}
	return true
}

// ApproximateMemory returns the size of the bit array in bytes.
func (f *Filter) ApproximateMemory() int {
	if f == nil {
		return 0
	}
	return len(f.data)
}

func (f *Filter) add(h uint64) {
	line := f.line(uint32(h))
	p := uint32(h >> 32)
	for range f.numProbes {
		bitpos := p >> (32 - 9)
		line[bitpos>>3] |= 1 << (bitpos & 7)
		p *= 0x9e3779b9
	}
}

// line selects the cache line for the low half of a hash using
// (h * lines) >> 32 instead of a modulo.
func (f *Filter) line(h uint32) []byte {
	lines := uint64(len(f.data) / CacheLineSize)
	off := int((uint64(h)*lines)>>32) * CacheLineSize
	return f.data[off : off+CacheLineSize]
}

// chooseNumProbes picks the probe count for a bits-per-key budget given in
// thousandths of a bit.
func chooseNumProbes(millibitsPerKey int) int {
	switch {
	case millibitsPerKey <= 2080:
		return 1
	case millibitsPerKey <= 3580:
		return 2
	case millibitsPerKey <= 5100:
		return 3
	case millibitsPerKey <= 6640:
		return 4
	case millibitsPerKey <= 8300:
		return 5
	case millibitsPerKey <= 10070:
		return 6
	case millibitsPerKey <= 11720:
		return 7
	case millibitsPerKey <= 14001:
		return 8
	case millibitsPerKey <= 16050:
		return 9
	case millibitsPerKey <= 18300:
		return 10
	case millibitsPerKey <= 22001:
		return 11
	case millibitsPerKey <= 25501:
		return 12
	case millibitsPerKey > 50000:
		return 24
	default:
		return (millibitsPerKey-1)/2000 - 1
	}
}
