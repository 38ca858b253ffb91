// Package checksum wraps the XXH3 hash used for bloom filter probes and for
// the file checksums recorded in backup metadata.
package checksum

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// Sum64 returns the XXH3 64-bit hash of data.
func Sum64(data []byte) uint64 {
	return xxh3.Hash(data)
}

// Sum64Seed returns the seeded XXH3 64-bit hash of data.
func Sum64Seed(data []byte, seed uint64) uint64 {
	return xxh3.HashSeed(data, seed)
}

// Hasher computes an XXH3 hash over a stream.
type Hasher struct {
	h *xxh3.Hasher
	n int64
}

// NewHasher returns a streaming hasher.
func NewHasher() *Hasher {
	return &Hasher{h: xxh3.New()}
}

// Write adds data to the running hash. It never fails.
func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.h.Write(p)
	h.n += int64(n)
	return n, err
}

// Sum64 returns the hash of everything written so far.
func (h *Hasher) Sum64() uint64 {
	return h.h.Sum64()
}

// Size returns the number of bytes written so far.
func (h *Hasher) Size() int64 {
	return h.n
}

// Reset clears the running hash.
func (h *Hasher) Reset() {
	h.h.Reset()
	h.n = 0
}

// Format renders a checksum the way backup metadata stores it.
func Format(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}
