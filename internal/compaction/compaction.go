// Package compaction merges runs of adjacent segments into one disk segment.
//
// The picker chooses a window of the segment list; the job streams the
// window's newest-wins merge through the disk writer. Publishing the result
// is left to the caller, which owns the database state.
package compaction

import (
	"fmt"

	"github.com/aalhour/segmentkv/internal/segment"
)

// Compaction describes one merge: the segments in [Start, End) of the list
// it was picked from.
type Compaction struct {
	Inputs []segment.Owned
	Start  int
	End    int

	// PurgeTombstones is set when the window starts at the oldest segment,
	// so no older segment can still hold a deleted key.
	PurgeTombstones bool

	Reason Reason
}

// Reason records why a merge ran.
type Reason int

const (
	ReasonUnknown Reason = iota
	// ReasonBackground is the merger keeping the segment count bounded.
	ReasonBackground
	// ReasonClose is the final merge while closing.
	ReasonClose
	// ReasonManual is an explicit request.
	ReasonManual
)

func (r Reason) String() string {
	switch r {
	case ReasonBackground:
		return "background"
	case ReasonClose:
		return "close"
	case ReasonManual:
		return "manual"
	default:
		return "unknown"
	}
}

// LowerID returns the lower id of the merged segment.
func (c *Compaction) LowerID() uint64 {
	return c.Inputs[0].LowerID()
}

// UpperID returns the upper id of the merged segment.
func (c *Compaction) UpperID() uint64 {
	return c.Inputs[len(c.Inputs)-1].UpperID()
}

// InputBytes sums the sizes of the inputs.
func (c *Compaction) InputBytes() int64 {
	var n int64
	for _, s := range c.Inputs {
		n += s.Size()
	}
	return n
}

func (c *Compaction) String() string {
	return fmt.Sprintf("%d segments [%d, %d) ids %d..%d (%s, purge=%v)",
		len(c.Inputs), c.Start, c.End, c.LowerID(), c.UpperID(), c.Reason, c.PurgeTombstones)
}
