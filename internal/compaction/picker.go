package compaction

import "github.com/aalhour/segmentkv/internal/segment"

// MinWindow is the smallest number of segments a window spans when the list
// is long enough.
const MinWindow = 4

// PickCompaction chooses the next window to merge, or nil when segs already
// holds at most target segments.
//
// The window starts at the smallest segment, the first one on ties. If that
// is the newest segment it starts one earlier. The window spans
// max(len/2, MinWindow) segments, cut off at the end of the list. Every
// window holds at least two segments, so each merge shrinks the list and
// repeated picking terminates.
func PickCompaction(segs []segment.Owned, target int, reason Reason) *Compaction {
	n := len(segs)
	if n <= max(target, 1) {
		return nil
	}

	start := 0
	smallest := segs[0].Size()
	for i := 1; i < n; i++ {
		if sz := segs[i].Size(); sz < smallest {
			start, smallest = i, sz
		}
	}
	if start == n-1 {
		start--
	}
	end := min(start+max(n/2, MinWindow), n)

	inputs := make([]segment.Owned, end-start)
	copy(inputs, segs[start:end])
	return &Compaction{
		Inputs:          inputs,
		Start:           start,
		End:             end,
		PurgeTombstones: start == 0,
		Reason:          reason,
	}
}
