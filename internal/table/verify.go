package table

import (
	"fmt"

	"github.com/aalhour/segmentkv/internal/block"
	"github.com/aalhour/segmentkv/internal/keys"
)

// BlockInfo summarizes one key block.
type BlockInfo struct {
	Index    int
	Entries  int
	FirstKey []byte
	LastKey  []byte
}

// Stats summarizes a segment.
type Stats struct {
	Blocks     int
	Entries    int
	Tombstones int
	KeyBytes   int64
	DataBytes  int64
}

// BlockInfos describes every key block.
func (r *Reader) BlockInfos() ([]BlockInfo, error) {
	out := make([]BlockInfo, 0, r.blocks)
	var kb keys.Buffer
	var c block.Cursor
	for i := 0; i < r.blocks; i++ {
		info := BlockInfo{Index: i}
		c.Reset(block.Bytes(r.keyData, i), &kb)
		for {
			ok, err := c.Next()
			if err != nil {
				return nil, fmt.Errorf("block %d: %w", i, err)
			}
			if !ok {
				break
			}
			if info.Entries == 0 {
				info.FirstKey = kb.Copy()
			}
			info.Entries++
		}
		if info.Entries > 0 {
			info.LastKey = kb.Copy()
		}
		out = append(out, info)
	}
	return out, nil
}

// Verify walks the whole key file and checks that keys are strictly
// ascending, that values are laid out back to back and cover the data file,
// that no block is empty and that the sparse index matches.
func (r *Reader) Verify() (Stats, error) {
	st := Stats{Blocks: r.blocks, KeyBytes: r.KeyBytes(), DataBytes: r.DataBytes()}
	var prev keys.Buffer
	hasPrev := false
	var next uint64
	var kb keys.Buffer
	var c block.Cursor

	for i := 0; i < r.blocks; i++ {
		c.Reset(block.Bytes(r.keyData, i), &kb)
		n := 0
		for {
			ok, err := c.Next()
			if err != nil {
				return st, fmt.Errorf("block %d: %w", i, err)
			}
			if !ok {
				break
			}
			if n == 0 && i%block.IndexInterval == 0 {
				j := i / block.IndexInterval
				if j >= len(r.index) || kb.Compare(r.cmp, r.index[j]) != 0 {
					return st, fmt.Errorf("%w: index entry %d does not match block %d", ErrCorrupt, j, i)
				}
			}
			if hasPrev && prev.CompareBuffer(r.cmp, &kb) >= 0 {
				return st, fmt.Errorf("%w: block %d: key %q not after %q", ErrCorrupt, i, kb.Bytes(), prev.Bytes())
			}
			prev.Set(kb.Bytes())
			hasPrev = true

			h := c.Handle()
			if h.Offset != next {
				return st, fmt.Errorf("%w: block %d: value offset %d, want %d", ErrCorrupt, i, h.Offset, next)
			}
			next += uint64(h.Length)
			if h.Length == 0 {
				st.Tombstones++
			}
			st.Entries++
			n++
		}
		if n == 0 {
			return st, fmt.Errorf("%w: block %d is empty", ErrCorrupt, i)
		}
	}
	if next != uint64(len(r.valData)) {
		return st, fmt.Errorf("%w: values cover %d of %d data bytes", ErrCorrupt, next, len(r.valData))
	}
	return st, nil
}
