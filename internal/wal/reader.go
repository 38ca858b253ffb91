package wal

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/aalhour/segmentkv/internal/encoding"
	"github.com/aalhour/segmentkv/internal/keys"
)

// ReplayStats summarizes a replay.
type ReplayStats struct {
	// Records is the number of records applied.
	Records int

	// Batches is the number of complete batches applied.
	Batches int

	// Truncated is set when the log ended in an incomplete batch or record.
	Truncated bool

	// PartialRecords is the number of records of an incomplete batch that
	// were applied under ApplyPartial.
	PartialRecords int
}

// errTorn marks input that ends in the middle of a record or batch.
var errTorn = errors.New("wal: torn write")

// Replay reads the log from r and calls apply for every record in log order.
// Replay stops at the first incomplete batch or record and handles it
// according to mode. apply receives freshly allocated slices.
func Replay(r io.Reader, mode BatchReadMode, apply func(key, value []byte)) (ReplayStats, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var stats ReplayStats

	for {
		n, err := readLength(br)
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, partial(&stats, mode, nil, apply)
		}

		if n >= 0 {
			rec, err := readRecordBody(br, n)
			if errors.Is(err, errTorn) {
				return stats, partial(&stats, mode, nil, apply)
			}
			if err != nil {
				return stats, err
			}
			apply(rec.Key, rec.Value)
			stats.Records++
			continue
		}

		if n == math.MinInt32 {
			return stats, fmt.Errorf("%w: batch header %d", ErrCorruptLog, n)
		}
		count := int(-n)
		pending := make([]Record, 0, min(count, 1024))
		complete := true
		for range count {
			rec, err := readRecord(br)
			if err != nil {
				complete = false
				break
			}
			pending = append(pending, rec)
		}
		if complete {
			footer, err := readLength(br)
			complete = err == nil && footer == n
		}
		if !complete {
			return stats, partial(&stats, mode, pending, apply)
		}

		for _, rec := range pending {
			apply(rec.Key, rec.Value)
		}
		stats.Records += len(pending)
		stats.Batches++
	}
}

// partial handles an incomplete tail. pending holds the complete records
// of the unfinished batch, if any.
func partial(stats *ReplayStats, mode BatchReadMode, pending []Record, apply func(key, value []byte)) error {
	stats.Truncated = true
	switch mode {
	case ApplyPartial:
		for _, rec := range pending {
			apply(rec.Key, rec.Value)
		}
		stats.Records += len(pending)
		stats.PartialRecords = len(pending)
		return nil
	case ReturnOpenError:
		return ErrPartialBatch
	default:
		return nil
	}
}

// readLength reads one i32. It returns io.EOF only at a clean boundary and
// errTorn when the input stops inside the field.
func readLength(br *bufio.Reader) (int32, error) {
	var b [LengthSize]byte
	_, err := io.ReadFull(br, b[:])
	switch {
	case err == nil:
		return encoding.DecodeInt32(b[:]), nil
	case errors.Is(err, io.EOF):
		return 0, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return 0, errTorn
	default:
		return 0, err
	}
}

// readRecord reads a whole record inside a batch, where any failure,
// including a clean EOF, leaves the batch incomplete.
func readRecord(br *bufio.Reader) (Record, error) {
	n, err := readLength(br)
	if err != nil {
		return Record{}, errTorn
	}
	if n < 0 {
		return Record{}, errTorn
	}
	return readRecordBody(br, n)
}

func readRecordBody(br *bufio.Reader, keyLen int32) (Record, error) {
	if keyLen == 0 || keyLen > keys.MaxKeySize {
		return Record{}, fmt.Errorf("%w: key length %d", ErrCorruptLog, keyLen)
	}
	key := make([]byte, keyLen)
	if err := readFull(br, key); err != nil {
		return Record{}, err
	}
	valLen, err := readLength(br)
	if err != nil {
		return Record{}, errTorn
	}
	if valLen < 0 {
		return Record{}, fmt.Errorf("%w: value length %d", ErrCorruptLog, valLen)
	}
	value, err := readN(br, int64(valLen))
	if err != nil {
		return Record{}, err
	}
	return Record{Key: key, Value: value}, nil
}

// readN reads n bytes, growing the buffer as data arrives so that a garbage
// length at the torn tail of a log does not allocate up front.
func readN(br *bufio.Reader, n int64) ([]byte, error) {
	if n <= 64*1024 {
		p := make([]byte, n)
		return p, readFull(br, p)
	}
	var buf bytes.Buffer
	buf.Grow(64 * 1024)
	copied, err := io.CopyN(&buf, br, n)
	if copied < n {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, errTorn
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

func readFull(br *bufio.Reader, p []byte) error {
	_, err := io.ReadFull(br, p)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errTorn
	}
	return err
}
