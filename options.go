package segmentkv

// options.go implements database configuration options.

import (
	"time"

	"github.com/aalhour/segmentkv/internal/compression"
	"github.com/aalhour/segmentkv/internal/filter"
	"github.com/aalhour/segmentkv/internal/keys"
	"github.com/aalhour/segmentkv/internal/logging"
	"github.com/aalhour/segmentkv/internal/wal"
	"github.com/aalhour/segmentkv/vfs"
)

// Logger is an alias for the logging.Logger interface.
// This allows users to pass their own logger implementation.
type Logger = logging.Logger

// BatchReadMode selects how an incomplete batch at the end of a log is
// handled when the log is replayed at open.
type BatchReadMode = wal.BatchReadMode

const (
	// DiscardPartial drops the incomplete batch.
	DiscardPartial = wal.DiscardPartial
	// ApplyPartial applies the complete records of the incomplete batch.
	ApplyPartial = wal.ApplyPartial
	// ReturnOpenError fails Open.
	ReturnOpenError = wal.ReturnOpenError
)

// CompressionType is an alias for the compression type used by backups.
type CompressionType = compression.Type

// Compression type constants.
const (
	CompressionNone   = compression.NoCompression
	CompressionSnappy = compression.SnappyCompression
	CompressionZstd   = compression.ZstdCompression
	CompressionLZ4    = compression.LZ4Compression
)

// MaxKeySize is the largest key accepted.
const MaxKeySize = keys.MaxKeySize

const (
	// MinMaxSegments is the smallest accepted MaxSegments.
	MinMaxSegments = 8

	// MinMaxMemoryBytes is the smallest accepted MaxMemoryBytes.
	MinMaxMemoryBytes = 1 << 20

	defaultMergeInterval = time.Second
	defaultMergeThrottle = 100 * time.Millisecond
)

// Options configures a Database. Open copies the options; later changes to
// the struct have no effect.
type Options struct {
	// CreateIfNeeded creates the directory when it does not exist.
	CreateIfNeeded bool

	// DisableAutoMerge stops the background merger. Segments are then only
	// merged by Close and Compact.
	DisableAutoMerge bool

	// MaxSegments is the segment count the merger keeps the database under.
	// Values below MinMaxSegments are raised.
	MaxSegments int

	// MaxMemoryBytes is the size at which the memory segment is sealed and
	// replaced. Values below MinMaxMemoryBytes are raised.
	MaxMemoryBytes int64

	// DisableWriteFlush leaves log records buffered in user space until the
	// buffer fills. A process crash can lose the buffered writes.
	DisableWriteFlush bool

	// EnableSyncWrite syncs the log after every write. It overrides
	// DisableWriteFlush.
	EnableSyncWrite bool

	// BatchReadMode decides what happens to a batch cut short by a crash.
	BatchReadMode BatchReadMode

	// UserKeyCompare orders keys. Nil means bytes.Compare. A database must
	// always be opened with the same order. It may treat distinct byte
	// strings as equal, so setting it disables the bloom filter.
	UserKeyCompare func(a, b []byte) int

	// BloomBitsPerKey sizes the in-memory bloom filter of each disk segment.
	// Zero uses the default of 10; a negative value disables the filter. It
	// is ignored when UserKeyCompare is set.
	BloomBitsPerKey int

	// MergeInterval is how often the merger checks the segment count.
	// Zero uses one second.
	MergeInterval time.Duration

	// MergeThrottle is the pause between two merges. Zero uses 100ms; a
	// negative value disables the pause.
	MergeThrottle time.Duration

	// FS is the filesystem. Nil uses the OS filesystem.
	FS vfs.FS

	// Logger is the logger for database operations.
	// If nil, a default logger writing warnings to stderr is used.
	Logger Logger
}

// DefaultOptions returns a new Options with default values.
func DefaultOptions() *Options {
	return &Options{
		MaxSegments:     MinMaxSegments,
		MaxMemoryBytes:  MinMaxMemoryBytes,
		BatchReadMode:   DiscardPartial,
		BloomBitsPerKey: filter.DefaultBitsPerKey,
		MergeInterval:   defaultMergeInterval,
		MergeThrottle:   defaultMergeThrottle,
	}
}

// normalize returns a copy of o with defaults filled in and bounds applied.
func (o *Options) normalize() Options {
	var out Options
	if o != nil {
		out = *o
	}
	out.MaxSegments = max(out.MaxSegments, MinMaxSegments)
	out.MaxMemoryBytes = max(out.MaxMemoryBytes, MinMaxMemoryBytes)
	switch {
	case out.BloomBitsPerKey == 0:
		out.BloomBitsPerKey = filter.DefaultBitsPerKey
	case out.BloomBitsPerKey < 0:
		out.BloomBitsPerKey = 0
	}
	// The filter hashes raw key bytes.
	if out.UserKeyCompare != nil {
		out.BloomBitsPerKey = 0
	}
	if out.MergeInterval <= 0 {
		out.MergeInterval = defaultMergeInterval
	}
	switch {
	case out.MergeThrottle == 0:
		out.MergeThrottle = defaultMergeThrottle
	case out.MergeThrottle < 0:
		out.MergeThrottle = 0
	}
	if out.FS == nil {
		out.FS = vfs.Default()
	}
	out.Logger = logging.OrDefault(out.Logger)
	return out
}

func (o *Options) compare() keys.Comparator {
	if o.UserKeyCompare == nil {
		return keys.Bytewise
	}
	return o.UserKeyCompare
}

func (o *Options) walOptions() wal.WriterOptions {
	return wal.WriterOptions{
		DisableWriteFlush: o.DisableWriteFlush,
		EnableSyncWrite:   o.EnableSyncWrite,
	}
}
