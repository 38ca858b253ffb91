// Package keys holds the key representation shared by every segment kind:
// the comparator type, key validation, the reusable key buffer and the
// 16-bit key-length field used by the key-file block codec.
//
// Key-length field layout:
//
//	bit 15      set: prefix-compressed entry
//	bits 8..14  shared prefix length with the previous key in the block (0..127)
//	bits 0..7   stored suffix length (1..255)
//
// With bit 15 clear the field is a plain key length (1..MaxKeySize) and the
// full key follows. 0xFFFF is reserved as the end-of-block sentinel and is
// never produced for an entry.
package keys

import (
	"bytes"
	"errors"
)

const (
	// MaxKeySize is the largest key accepted by the engine.
	MaxKeySize = 1024

	// CompressedBit marks a prefix-compressed key-length field.
	CompressedBit uint16 = 0x8000

	// MaxPrefixLen is the largest shared prefix a compressed field can carry.
	MaxPrefixLen = 0x7F

	// MaxSuffixLen is the largest suffix a compressed field can carry.
	MaxSuffixLen = 0xFF

	// EndOfBlock terminates the entries of a key block.
	EndOfBlock uint16 = 0xFFFF
)

var (
	// ErrInvalidField is returned when a key-length field cannot be decoded.
	ErrInvalidField = errors.New("keys: invalid key length field")

	// ErrShortBuffer is returned when the key bytes run past the input.
	ErrShortBuffer = errors.New("keys: key bytes truncated")
)

// Comparator compares two keys and returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
type Comparator func(a, b []byte) int

// Bytewise is the default comparator using bytes.Compare.
func Bytewise(a, b []byte) int {
	return bytes.Compare(a, b)
}

// OrBytewise returns cmp, or Bytewise when cmp is nil.
func OrBytewise(cmp Comparator) Comparator {
	if cmp == nil {
		return Bytewise
	}
	return cmp
}

// Valid reports whether key has an acceptable length.
func Valid(key []byte) bool {
	return len(key) > 0 && len(key) <= MaxKeySize
}

// SharedPrefix returns the length of the common prefix of a and b.
func SharedPrefix(a, b []byte) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// EncodeField chooses the key-length field for key given the previous key in
// the same block (nil at a block boundary). It returns the field and the bytes
// that must be stored after it.
//
// The compressed form is used only when it is representable: a non-empty
// shared prefix of at most MaxPrefixLen bytes, a suffix of 1..MaxSuffixLen
// bytes, and a field value other than EndOfBlock. Otherwise the plain form is
// returned.
// REQUIRES: Valid(key).
func EncodeField(prev, key []byte) (uint16, []byte) {
	p := SharedPrefix(prev, key)
	s := len(key) - p
	if p > 0 && p <= MaxPrefixLen && s > 0 && s <= MaxSuffixLen {
		field := CompressedBit | uint16(p)<<8 | uint16(s)
		if field != EndOfBlock {
			return field, key[p:]
		}
	}
	return uint16(len(key)), key
}

// DecodeField splits a key-length field into its parts. For a plain field the
// prefix is 0 and the suffix is the whole key length.
func DecodeField(field uint16) (prefix, suffix int, compressed bool, err error) {
	if field == EndOfBlock {
		return 0, 0, false, ErrInvalidField
	}
	if field&CompressedBit != 0 {
		prefix = int(field>>8) & MaxPrefixLen
		suffix = int(field) & MaxSuffixLen
		if suffix == 0 {
			return 0, 0, true, ErrInvalidField
		}
		return prefix, suffix, true, nil
	}
	if field == 0 || int(field) > MaxKeySize {
		return 0, 0, false, ErrInvalidField
	}
	return 0, int(field), false, nil
}
