// Package encoding provides the fixed-width binary primitives shared by the
// key-file block codec and the write-ahead log.
//
// All multi-byte integers are encoded in little-endian format.
package encoding

import (
	"encoding/binary"
	"errors"
)

// ErrBufferTooSmall is returned when a buffer does not hold enough bytes.
var ErrBufferTooSmall = errors.New("encoding: buffer too small")

// -----------------------------------------------------------------------------
// Fixed-width encoding (little-endian)
// -----------------------------------------------------------------------------

// EncodeFixed16 encodes a uint16 into a 2-byte little-endian buffer.
// REQUIRES: dst has at least 2 bytes.
func EncodeFixed16(dst []byte, value uint16) {
	binary.LittleEndian.PutUint16(dst, value)
}

// DecodeFixed16 decodes a uint16 from a 2-byte little-endian buffer.
// REQUIRES: src has at least 2 bytes.
func DecodeFixed16(src []byte) uint16 {
	return binary.LittleEndian.Uint16(src)
}

// EncodeFixed32 encodes a uint32 into a 4-byte little-endian buffer.
// REQUIRES: dst has at least 4 bytes.
func EncodeFixed32(dst []byte, value uint32) {
	binary.LittleEndian.PutUint32(dst, value)
}

// DecodeFixed32 decodes a uint32 from a 4-byte little-endian buffer.
// REQUIRES: src has at least 4 bytes.
func DecodeFixed32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// EncodeFixed64 encodes a uint64 into an 8-byte little-endian buffer.
// REQUIRES: dst has at least 8 bytes.
func EncodeFixed64(dst []byte, value uint64) {
	binary.LittleEndian.PutUint64(dst, value)
}

// DecodeFixed64 decodes a uint64 from an 8-byte little-endian buffer.
// REQUIRES: src has at least 8 bytes.
func DecodeFixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// EncodeInt32 encodes a signed 32-bit integer as its two's complement
// little-endian form. Log records use negative lengths as batch markers.
func EncodeInt32(dst []byte, value int32) {
	binary.LittleEndian.PutUint32(dst, uint32(value))
}

// DecodeInt32 decodes a signed 32-bit integer.
func DecodeInt32(src []byte) int32 {
	return int32(binary.LittleEndian.Uint32(src))
}

// -----------------------------------------------------------------------------
// Appending variants (for building strings/slices)
// -----------------------------------------------------------------------------

// AppendFixed16 appends a uint16 in little-endian format.
func AppendFixed16(dst []byte, value uint16) []byte {
	return binary.LittleEndian.AppendUint16(dst, value)
}

// AppendFixed32 appends a uint32 in little-endian format.
func AppendFixed32(dst []byte, value uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, value)
}

// AppendFixed64 appends a uint64 in little-endian format.
func AppendFixed64(dst []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, value)
}

// AppendInt32 appends a signed 32-bit integer in little-endian format.
func AppendInt32(dst []byte, value int32) []byte {
	return binary.LittleEndian.AppendUint32(dst, uint32(value))
}

// -----------------------------------------------------------------------------
// Slice reader
// -----------------------------------------------------------------------------

// Slice is a cursor over a byte buffer. Getters return false instead of
// panicking when the buffer runs short.
type Slice struct {
	data []byte
	pos  int
}

// NewSlice creates a cursor positioned at the start of data.
func NewSlice(data []byte) *Slice {
	return &Slice{data: data}
}

// Reset repositions the cursor at the start of data.
func (s *Slice) Reset(data []byte) {
	s.data = data
	s.pos = 0
}

// Remaining returns the number of unread bytes.
func (s *Slice) Remaining() int {
	return len(s.data) - s.pos
}

// Offset returns the number of bytes consumed so far.
func (s *Slice) Offset() int {
	return s.pos
}

// Advance skips n bytes. It reports false if fewer than n remain.
func (s *Slice) Advance(n int) bool {
	if n < 0 || s.Remaining() < n {
		return false
	}
	s.pos += n
	return true
}

// GetFixed16 reads a little-endian uint16.
func (s *Slice) GetFixed16() (uint16, bool) {
	if s.Remaining() < 2 {
		return 0, false
	}
	v := DecodeFixed16(s.data[s.pos:])
	s.pos += 2
	return v, true
}

// PeekFixed16 reads a little-endian uint16 without consuming it.
func (s *Slice) PeekFixed16() (uint16, bool) {
	if s.Remaining() < 2 {
		return 0, false
	}
	return DecodeFixed16(s.data[s.pos:]), true
}

// GetFixed32 reads a little-endian uint32.
func (s *Slice) GetFixed32() (uint32, bool) {
	if s.Remaining() < 4 {
		return 0, false
	}
	v := DecodeFixed32(s.data[s.pos:])
	s.pos += 4
	return v, true
}

// GetFixed64 reads a little-endian uint64.
func (s *Slice) GetFixed64() (uint64, bool) {
	if s.Remaining() < 8 {
		return 0, false
	}
	v := DecodeFixed64(s.data[s.pos:])
	s.pos += 8
	return v, true
}

// GetBytes returns the next n bytes without copying.
func (s *Slice) GetBytes(n int) ([]byte, bool) {
	if n < 0 || s.Remaining() < n {
		return nil, false
	}
	b := s.data[s.pos : s.pos+n]
	s.pos += n
	return b, true
}
