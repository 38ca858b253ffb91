package reclaim

import (
	"sync"
	"sync/atomic"

	"github.com/aalhour/segmentkv/internal/logging"
	"github.com/aalhour/segmentkv/internal/segment"
	"github.com/aalhour/segmentkv/internal/vfs"
)

// Queue closes released segments on a background goroutine and removes the
// files of those marked obsolete.
type Queue struct {
	fs     vfs.FS
	dir    string
	logger logging.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []segment.Owned
	busy    bool
	stopped bool
	done    chan struct{}

	closed  atomic.Int64
	removed atomic.Int64
}

// NewQueue starts a queue for segments of dir.
func NewQueue(fsys vfs.FS, dir string, logger logging.Logger) *Queue {
	q := &Queue{
		fs:     fsys,
		dir:    dir,
		logger: logging.OrDefault(logger),
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Release hands over a segment whose last reference was dropped. It never
// blocks. After Stop the segment is reclaimed on the caller's goroutine.
func (q *Queue) Release(s segment.Owned) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.reclaim(s)
		return
	}
	q.pending = append(q.pending, s)
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Drain blocks until every released segment has been reclaimed.
func (q *Queue) Drain() {
	q.mu.Lock()
	for len(q.pending) > 0 || q.busy {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

// Stop reclaims what is pending and stops the goroutine.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

// Closed returns the number of segments closed so far.
func (q *Queue) Closed() int64 { return q.closed.Load() }

// Removed returns the number of obsolete segments whose files were removed.
func (q *Queue) Removed() int64 { return q.removed.Load() }

func (q *Queue) run() {
	defer close(q.done)
	q.mu.Lock()
	for {
		for len(q.pending) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		batch := q.pending
		q.pending = nil
		q.busy = true
		q.mu.Unlock()

		for _, s := range batch {
			q.reclaim(s)
		}

		q.mu.Lock()
		q.busy = false
		q.cond.Broadcast()
	}
}

func (q *Queue) reclaim(s segment.Owned) {
	if err := s.Close(); err != nil {
		q.logger.Warnf("%sclose %s: %v", logging.NSReclaim, segment.Describe(s), err)
	}
	q.closed.Add(1)
	if !s.Obsolete() {
		return
	}
	if err := segment.RemoveFiles(q.fs, q.dir, s); err != nil {
		q.logger.Warnf("%sremove %s: %v", logging.NSReclaim, segment.Describe(s), err)
		return
	}
	q.removed.Add(1)
	q.logger.Debugf("%sremoved %v", logging.NSReclaim, s.Files())
}
