// Package wal implements the write-ahead log of a memory segment.
//
// A log is a sequence of records, all integers little-endian:
//
//	record: [key length: i32][key][value length: i32][value]
//	batch:  [-N: i32][record 1]...[record N][-N: i32]
//
// A negative length opens a batch of N records and must be repeated as the
// footer once all N records are written. A zero-length value is a tombstone.
// Records are applied in log order, so the last write of a key wins.
package wal

import (
	"errors"
	"fmt"
)

// LengthSize is the size of every length field.
const LengthSize = 4

// BatchReadMode decides what replay does with a batch whose footer is
// missing or does not match its header, which is what a crash in the middle
// of a batch write leaves behind. A truncated trailing single record is
// handled the same way.
type BatchReadMode int

const (
	// DiscardPartial drops the incomplete batch.
	DiscardPartial BatchReadMode = iota

	// ApplyPartial applies the complete records read before the truncation.
	ApplyPartial

	// ReturnOpenError fails the replay.
	ReturnOpenError
)

// String returns the mode name.
func (m BatchReadMode) String() string {
	switch m {
	case DiscardPartial:
		return "DiscardPartial"
	case ApplyPartial:
		return "ApplyPartial"
	case ReturnOpenError:
		return "ReturnOpenError"
	default:
		return fmt.Sprintf("BatchReadMode(%d)", int(m))
	}
}

var (
	// ErrCorruptLog is returned for records that cannot have been written by
	// a Writer, such as an out-of-range key length.
	ErrCorruptLog = errors.New("wal: corrupt log")

	// ErrPartialBatch is returned under ReturnOpenError when the log ends in
	// an incomplete batch or record.
	ErrPartialBatch = errors.New("wal: incomplete batch at end of log")

	// ErrClosed is returned when writing to a closed writer.
	ErrClosed = errors.New("wal: writer closed")
)

// Record is one key/value pair of a log.
type Record struct {
	Key   []byte
	Value []byte
}
