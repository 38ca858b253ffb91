// Package block implements the key-file block codec.
//
// A key file is a sequence of fixed-size blocks. Each block holds encoded
// entries followed by the end-of-block sentinel and zero padding:
//
//	entry:  [field: u16][key bytes][data offset: u64][data length: u32]
//	block:  [entry 1]...[entry N][0xFFFF][0x00 padding up to Size]
//
// The field is the key-length field from package keys. Prefix compression
// only refers to the previous entry of the same block, so every block can be
// decoded on its own. The data file holds the values back to back in write
// order; offsets index into it.
package block

import (
	"errors"
	"fmt"

	"github.com/aalhour/segmentkv/internal/encoding"
	"github.com/aalhour/segmentkv/internal/keys"
)

const (
	// Size is the fixed size of every key block.
	Size = 4096

	// IndexInterval is the sampling interval of the sparse index: the first
	// key of every IndexInterval-th block is kept in memory.
	IndexInterval = 16

	// FieldLen is the size of the key-length field.
	FieldLen = 2

	// TrailerLen is the size of the data offset and length that follow a key.
	TrailerLen = 12
)

// ErrCorrupt is returned when a key block violates the layout.
var ErrCorrupt = errors.New("block: corrupt key block")

// Handle locates a value in the data file.
type Handle struct {
	Offset uint64
	Length uint32
}

// Count returns the number of blocks in a key file of the given length.
func Count(fileLen int) int {
	if fileLen <= 0 {
		return 0
	}
	return (fileLen-1)/Size + 1
}

// Bytes returns block i of a key file.
func Bytes(file []byte, i int) []byte {
	start := i * Size
	end := min(start+Size, len(file))
	return file[start:end]
}

// Cursor decodes the entries of one block in order. The key buffer is
// supplied by the caller so that a scan can reuse one buffer across blocks.
type Cursor struct {
	s      encoding.Slice
	key    *keys.Buffer
	handle Handle
	done   bool
}

// NewCursor returns a cursor positioned before the first entry of blk.
func NewCursor(blk []byte, key *keys.Buffer) *Cursor {
	c := &Cursor{}
	c.Reset(blk, key)
	return c
}

// Reset repositions the cursor before the first entry of blk and clears the
// key buffer.
func (c *Cursor) Reset(blk []byte, key *keys.Buffer) {
	c.s.Reset(blk)
	c.key = key
	c.key.Reset()
	c.handle = Handle{}
	c.done = false
}

// Next decodes the next entry. It returns false at the end-of-block sentinel.
func (c *Cursor) Next() (bool, error) {
	if c.done {
		return false, nil
	}
	field, ok := c.s.GetFixed16()
	if !ok {
		return false, fmt.Errorf("%w: missing end-of-block marker", ErrCorrupt)
	}
	if field == keys.EndOfBlock {
		c.done = true
		return false, nil
	}
	_, suffix, _, err := keys.DecodeField(field)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	stored, ok := c.s.GetBytes(suffix)
	if !ok {
		return false, fmt.Errorf("%w: key runs past block end", ErrCorrupt)
	}
	if _, err := c.key.Decode(field, stored); err != nil {
		return false, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	off, ok1 := c.s.GetFixed64()
	n, ok2 := c.s.GetFixed32()
	if !ok1 || !ok2 {
		return false, fmt.Errorf("%w: entry trailer runs past block end", ErrCorrupt)
	}
	c.handle = Handle{Offset: off, Length: n}
	return true, nil
}

// Key returns the current key. It aliases the cursor's key buffer.
func (c *Cursor) Key() []byte {
	return c.key.Bytes()
}

// KeyBuffer returns the buffer holding the current key.
func (c *Cursor) KeyBuffer() *keys.Buffer {
	return c.key
}

// Handle returns the data location of the current entry.
func (c *Cursor) Handle() Handle {
	return c.handle
}

// FirstKey decodes the first key of blk into key. Blocks are never empty, so
// a leading sentinel is corruption.
func FirstKey(blk []byte, key *keys.Buffer) error {
	var c Cursor
	c.Reset(blk, key)
	ok, err := c.Next()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: empty block", ErrCorrupt)
	}
	return nil
}
