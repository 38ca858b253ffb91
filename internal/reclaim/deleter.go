// Package reclaim removes the files of superseded segments.
//
// Removal happens in two steps. A Deleter durably records the files of a
// segment as soon as it is superseded, so a crash never leaks them; the
// next open removes everything recorded. A Queue closes a segment and
// removes its files once the last reference to it is dropped, so readers
// and snapshots never see a file disappear underneath them.
package reclaim

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aalhour/segmentkv/internal/vfs"
)

// Deleter appends file names to the deleted log of a database directory.
// Each Schedule call writes one line of comma-separated names and syncs it.
type Deleter struct {
	fs   vfs.FS
	dir  string
	name string

	mu sync.Mutex
	f  vfs.WritableFile
}

// NewDeleter returns a deleter for dir. The log file name is name, created
// on the first Schedule.
func NewDeleter(fsys vfs.FS, dir, name string) *Deleter {
	return &Deleter{fs: fsys, dir: dir, name: name}
}

// Schedule durably records files for removal.
func (d *Deleter) Schedule(files []string) error {
	if len(files) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f == nil {
		f, err := d.fs.Create(filepath.Join(d.dir, d.name))
		if err != nil {
			return err
		}
		d.f = f
	}
	if _, err := io.WriteString(d.f, strings.Join(files, ",")+"\n"); err != nil {
		return err
	}
	return d.f.Sync()
}

// DeleteScheduled removes every recorded file that still exists and then
// the log itself. It returns the number of files removed.
func (d *Deleter) DeleteScheduled() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f != nil {
		err := d.f.Close()
		d.f = nil
		if err != nil {
			return 0, err
		}
	}

	path := filepath.Join(d.dir, d.name)
	names, err := readScheduled(d.fs, path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, name := range names {
		if filepath.Base(name) != name || name == d.name {
			continue
		}
		err := d.fs.Remove(filepath.Join(d.dir, name))
		switch {
		case err == nil:
			removed++
		case errors.Is(err, fs.ErrNotExist):
		default:
			return removed, err
		}
	}
	if err := d.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return removed, err
	}
	return removed, d.fs.SyncDir(d.dir)
}

// Close closes the log without removing anything.
func (d *Deleter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

func readScheduled(fsys vfs.FS, path string) ([]string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		for _, name := range strings.Split(sc.Text(), ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	return names, sc.Err()
}
