package compaction

import (
	"time"

	"github.com/aalhour/segmentkv/internal/logging"
	"github.com/aalhour/segmentkv/internal/segment"
	"github.com/aalhour/segmentkv/internal/vfs"
)

// Job runs compactions into a database directory.
type Job struct {
	FS     vfs.FS
	Dir    string
	Disk   segment.DiskOptions
	Logger logging.Logger
}

// Stats describes a finished compaction.
type Stats struct {
	InputSegments int
	InputBytes    int64
	OutputBytes   int64
	Entries       int
	Purged        int
	Duration      time.Duration
}

// Run merges c's inputs into keys.<lo>.<hi> and data.<lo>.<hi>, where lo and
// hi span the window. The inputs are left untouched.
func (j *Job) Run(c *Compaction) (*segment.Disk, Stats, error) {
	start := time.Now()
	logger := logging.OrDefault(j.Logger)

	views := make([]segment.Segment, len(c.Inputs))
	for i, s := range c.Inputs {
		views[i] = s
	}
	merged := segment.NewMulti(views, j.Disk.Compare)

	opts := j.Disk
	opts.PurgeTombstones = c.PurgeTombstones
	d, res, err := segment.WriteDisk(j.FS, j.Dir, c.LowerID(), c.UpperID(), merged.Lookup(nil, nil), opts)
	if err != nil {
		logger.Errorf("%smerge of %s failed: %v", logging.NSMerge, c, err)
		return nil, Stats{}, err
	}

	st := Stats{
		InputSegments: len(c.Inputs),
		InputBytes:    c.InputBytes(),
		OutputBytes:   res.KeyBytes + res.DataBytes,
		Entries:       res.Entries,
		Purged:        res.Purged,
		Duration:      time.Since(start),
	}
	logger.Infof("%smerged %s into %s: %d entries, %d tombstones purged, %d -> %d bytes in %v",
		logging.NSMerge, c, segment.KeysName(c.LowerID(), c.UpperID()),
		st.Entries, st.Purged, st.InputBytes, st.OutputBytes, st.Duration)
	return d, st, nil
}
