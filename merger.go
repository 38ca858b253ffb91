package segmentkv

// merger.go implements the background merge loop and the merge step shared
// with Close and Compact.

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aalhour/segmentkv/internal/compaction"
	"github.com/aalhour/segmentkv/internal/logging"
	"github.com/aalhour/segmentkv/internal/segment"
)

// errMergeConflict is returned when a merge window no longer matches the
// published segment list.
var errMergeConflict = errors.New("segmentkv: merge window changed concurrently")

// merger runs merges on one goroutine. It wakes on a timer or when a writer
// sees the segment count grow past twice the target.
type merger struct {
	db       *Database
	interval time.Duration
	throttle time.Duration

	wakeCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

func newMerger(db *Database) *merger {
	return &merger{
		db:       db,
		interval: db.opts.MergeInterval,
		throttle: db.opts.MergeThrottle,
		wakeCh:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

func (m *merger) start() {
	m.done.Add(1)
	go m.run()
}

// wake schedules a pass without blocking.
func (m *merger) wake() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

// stop waits for the running pass, if any, to finish.
func (m *merger) stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.done.Wait()
}

func (m *merger) run() {
	defer m.done.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
		case <-m.wakeCh:
		}
		err := m.db.mergeDownTo(m.db.opts.MaxSegments, compaction.ReasonBackground, m.throttle, m.stopCh)
		if err != nil {
			m.db.setBackgroundError(fmt.Errorf("background merge: %w", err))
			return
		}
	}
}

// mergeDownTo merges windows of the segment list until at most target
// segments remain. A closed stop channel ends the loop between steps.
func (db *Database) mergeDownTo(target int, reason compaction.Reason, throttle time.Duration, stop <-chan struct{}) error {
	db.mergeMu.Lock()
	defer db.mergeMu.Unlock()
	// Close may have run its own merge while this call waited.
	if reason == compaction.ReasonManual && db.closed.Load() {
		return ErrDBClosed
	}

	for steps := 0; ; steps++ {
		if stopped(stop) {
			return nil
		}
		if steps > 0 && throttle > 0 {
			select {
			case <-stop:
				return nil
			case <-time.After(throttle):
			}
		}

		st := db.state.Load()
		if st == nil || !st.tryRef() {
			return ErrDBClosed
		}
		c := compaction.PickCompaction(st.segments, target, reason)
		if c == nil {
			st.unref()
			return nil
		}
		d, _, err := db.compactor.Run(c)
		if err == nil {
			err = db.installMerge(c, d)
		}
		st.unref()
		if err != nil {
			return err
		}
	}
}

// installMerge replaces the merged window with d and schedules the inputs'
// files for removal.
func (db *Database) installMerge(c *compaction.Compaction, d *segment.Disk) error {
	db.mu.Lock()
	cur := db.state.Load()
	if !sameWindow(cur, c) {
		db.mu.Unlock()
		db.logger.Fatalf("%smerge window %s no longer matches the segment list", logging.NSMerge, c)
		_ = d.Close()
		_ = segment.RemoveFiles(db.fs, db.path, d)
		return fmt.Errorf("%w: %s", errMergeConflict, c)
	}

	segs := make([]segment.Owned, 0, len(cur.segments)-len(c.Inputs)+1)
	segs = append(segs, cur.segments[:c.Start]...)
	segs = append(segs, d)
	segs = append(segs, cur.segments[c.End:]...)
	for _, s := range c.Inputs {
		s.MarkObsolete()
	}
	db.publishLocked(newState(segs, cur.memory, db.cmp, db.release))
	db.mu.Unlock()

	var files []string
	for _, s := range c.Inputs {
		files = append(files, s.Files()...)
	}
	if err := db.deleter.Schedule(files); err != nil {
		return fmt.Errorf("schedule merged files: %w", err)
	}
	return nil
}

// sameWindow reports whether the inputs of c still sit at [Start, End) of
// the published list.
func sameWindow(st *dbState, c *compaction.Compaction) bool {
	if st == nil || c.End > len(st.segments) {
		return false
	}
	for i, s := range c.Inputs {
		if st.segments[c.Start+i] != s {
			return false
		}
	}
	return true
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
