// Package flush writes memory and log segments to disk segments.
package flush

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aalhour/segmentkv/internal/logging"
	"github.com/aalhour/segmentkv/internal/segment"
	"github.com/aalhour/segmentkv/internal/vfs"
)

// ErrNoOutput is returned when a segment holds no entries.
var ErrNoOutput = errors.New("flush: no output")

// Job flushes segments into a database directory.
type Job struct {
	FS     vfs.FS
	Dir    string
	Disk   segment.DiskOptions
	Logger logging.Logger
}

// Result is the outcome of flushing one segment.
type Result struct {
	Source segment.Owned
	Disk   *segment.Disk
	Err    error
}

type counter interface {
	Count() int64
}

// Run writes s to keys.<lo>.<hi> and data.<lo>.<hi>. Tombstones are kept,
// since older segments may still hold the deleted keys.
func (j *Job) Run(s segment.Segment) (*segment.Disk, error) {
	if c, ok := s.(counter); ok && c.Count() == 0 {
		return nil, ErrNoOutput
	}
	start := time.Now()
	opts := j.Disk
	opts.PurgeTombstones = false

	d, res, err := segment.WriteDisk(j.FS, j.Dir, s.LowerID(), s.UpperID(), s.Lookup(nil, nil), opts)
	if err != nil {
		return nil, fmt.Errorf("flush %s: %w", segment.Describe(s), err)
	}
	logging.OrDefault(j.Logger).Infof("%sflushed %s to %s: %d entries, %d bytes in %v",
		logging.NSFlush, segment.Describe(s), segment.KeysName(s.LowerID(), s.UpperID()),
		res.Entries, res.KeyBytes+res.DataBytes, time.Since(start))
	return d, nil
}

// RunAll flushes segs concurrently, at most limit at a time, and waits for
// every flush to finish. Results are in the order of segs. The returned
// error is the first failure; segments without entries are not failures.
func (j *Job) RunAll(segs []segment.Owned, limit int) ([]Result, error) {
	results := make([]Result, len(segs))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, s := range segs {
		results[i].Source = s
		g.Go(func() error {
			d, err := j.Run(s)
			if errors.Is(err, ErrNoOutput) {
				return nil
			}
			results[i].Disk, results[i].Err = d, err
			return err
		})
	}
	return results, g.Wait()
}
