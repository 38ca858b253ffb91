// Package compression provides the stream codecs used for backups.
//
// Segment files are stored uncompressed so that they can be memory-mapped;
// compression only applies to the copies written by Database.Backup.
package compression

import (
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type represents a compression algorithm.
type Type uint8

const (
	// NoCompression copies bytes unchanged.
	NoCompression Type = iota

	// SnappyCompression uses the Snappy framing format.
	SnappyCompression

	// ZstdCompression uses Zstandard.
	ZstdCompression

	// LZ4Compression uses the LZ4 frame format.
	LZ4Compression
)

// String returns the name used in backup metadata and on the command line.
func (t Type) String() string {
	switch t {
	case NoCompression:
		return "none"
	case SnappyCompression:
		return "snappy"
	case ZstdCompression:
		return "zstd"
	case LZ4Compression:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// Extension returns the file suffix for compressed copies.
func (t Type) Extension() string {
	switch t {
	case SnappyCompression:
		return ".sz"
	case ZstdCompression:
		return ".zst"
	case LZ4Compression:
		return ".lz4"
	default:
		return ""
	}
}

// ParseType parses a name produced by String.
func ParseType(name string) (Type, error) {
	switch name {
	case "none", "":
		return NoCompression, nil
	case "snappy":
		return SnappyCompression, nil
	case "zstd":
		return ZstdCompression, nil
	case "lz4":
		return LZ4Compression, nil
	default:
		return 0, fmt.Errorf("compression: unsupported type %q", name)
	}
}

// NewWriter wraps w with a compressing writer. Close flushes the codec but
// does not close w.
func NewWriter(t Type, w io.Writer) (io.WriteCloser, error) {
	switch t {
	case NoCompression:
		return nopWriteCloser{w}, nil
	case SnappyCompression:
		return snappy.NewBufferedWriter(w), nil
	case ZstdCompression:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return enc, nil
	case LZ4Compression:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("compression: unsupported type %s", t)
	}
}

// NewReader wraps r with a decompressing reader. Close releases codec
// resources but does not close r.
func NewReader(t Type, r io.Reader) (io.ReadCloser, error) {
	switch t {
	case NoCompression:
		return io.NopCloser(r), nil
	case SnappyCompression:
		return io.NopCloser(snappy.NewReader(r)), nil
	case ZstdCompression:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		return dec.IOReadCloser(), nil
	case LZ4Compression:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("compression: unsupported type %s", t)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
