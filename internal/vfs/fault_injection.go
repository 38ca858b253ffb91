package vfs

import (
	"errors"
	"io"
	"maps"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrInjectedWriteError is returned when a write error is injected.
	ErrInjectedWriteError = errors.New("vfs: injected write error")

	// ErrInjectedSyncError is returned when a sync error is injected.
	ErrInjectedSyncError = errors.New("vfs: injected sync error")

	// ErrInjectedRenameError is returned when a rename error is injected.
	ErrInjectedRenameError = errors.New("vfs: injected rename error")
)

// FaultInjectionFS wraps an FS and allows injecting errors.
// It tracks unsynced bytes per file so tests can simulate losing them in a
// crash.
type FaultInjectionFS struct {
	base FS

	mu sync.RWMutex

	// Per-file written and synced sizes, keyed by absolute path.
	fileState map[string]*fileState

	// Error injection. Patterns are filepath.Match globs on the base name;
	// an empty pattern matches every file.
	writeErrorPattern  *string
	renameErrorPattern *string
	injectSyncError    bool

	// When false, every write fails. Used to simulate a crash.
	filesystemActive bool
}

type fileState struct {
	pos       int64
	syncedPos int64
}

// NewFaultInjectionFS creates a new fault-injecting filesystem wrapper.
func NewFaultInjectionFS(base FS) *FaultInjectionFS {
	return &FaultInjectionFS{
		base:             base,
		fileState:        make(map[string]*fileState),
		filesystemActive: true,
	}
}

// SetFilesystemActive enables or disables writes.
func (fs *FaultInjectionFS) SetFilesystemActive(active bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.filesystemActive = active
}

// InjectWriteError makes creates and writes fail for files whose base name
// matches pattern.
func (fs *FaultInjectionFS) InjectWriteError(pattern string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.writeErrorPattern = &pattern
}

// InjectRenameError makes renames fail when the source base name matches pattern.
func (fs *FaultInjectionFS) InjectRenameError(pattern string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.renameErrorPattern = &pattern
}

// InjectSyncError makes every Sync fail.
func (fs *FaultInjectionFS) InjectSyncError() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectSyncError = true
}

// ClearErrors clears all error injection.
func (fs *FaultInjectionFS) ClearErrors() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.writeErrorPattern = nil
	fs.renameErrorPattern = nil
	fs.injectSyncError = false
}

// DropUnsyncedData simulates a crash by truncating every tracked file to the
// size it had at its last Sync.
func (fs *FaultInjectionFS) DropUnsyncedData() error {
	fs.mu.Lock()
	states := make(map[string]*fileState)
	maps.Copy(states, fs.fileState)
	fs.mu.Unlock()

	for path, state := range states {
		if state.syncedPos >= state.pos {
			continue
		}
		if err := os.Truncate(path, state.syncedPos); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		fs.mu.Lock()
		if s, ok := fs.fileState[path]; ok {
			s.pos = state.syncedPos
		}
		fs.mu.Unlock()
	}
	return nil
}

// FileState returns the tracked sizes of a file.
func (fs *FaultInjectionFS) FileState(name string) (syncedPos, currentPos int64, ok bool) {
	absPath, _ := filepath.Abs(name)
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	state, exists := fs.fileState[absPath]
	if !exists {
		return 0, 0, false
	}
	return state.syncedPos, state.pos, true
}

func matches(pattern *string, name string) bool {
	if pattern == nil {
		return false
	}
	if *pattern == "" {
		return true
	}
	ok, _ := filepath.Match(*pattern, filepath.Base(name))
	return ok
}

func (fs *FaultInjectionFS) writeError(name string) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if !fs.filesystemActive || matches(fs.writeErrorPattern, name) {
		return ErrInjectedWriteError
	}
	return nil
}

// Create creates a new writable file with fault injection.
func (fs *FaultInjectionFS) Create(name string) (WritableFile, error) {
	if err := fs.writeError(name); err != nil {
		return nil, err
	}

	baseFile, err := fs.base.Create(name)
	if err != nil {
		return nil, err
	}

	absPath, _ := filepath.Abs(name)
	fs.mu.Lock()
	fs.fileState[absPath] = &fileState{}
	fs.mu.Unlock()

	return &faultWritableFile{base: baseFile, fs: fs, path: absPath}, nil
}

// Open opens an existing file for sequential reading.
func (fs *FaultInjectionFS) Open(name string) (SequentialFile, error) {
	return fs.base.Open(name)
}

// Mmap maps an existing file.
func (fs *FaultInjectionFS) Mmap(name string) (MappedFile, error) {
	return fs.base.Mmap(name)
}

// Rename renames a file, carrying its tracked state along.
func (fs *FaultInjectionFS) Rename(oldname, newname string) error {
	fs.mu.RLock()
	inject := !fs.filesystemActive || matches(fs.renameErrorPattern, oldname)
	fs.mu.RUnlock()
	if inject {
		return ErrInjectedRenameError
	}

	if err := fs.base.Rename(oldname, newname); err != nil {
		return err
	}

	oldAbs, _ := filepath.Abs(oldname)
	newAbs, _ := filepath.Abs(newname)
	fs.mu.Lock()
	if state, ok := fs.fileState[oldAbs]; ok {
		fs.fileState[newAbs] = state
		delete(fs.fileState, oldAbs)
	}
	fs.mu.Unlock()
	return nil
}

// Remove deletes a file and forgets its state.
func (fs *FaultInjectionFS) Remove(name string) error {
	if err := fs.base.Remove(name); err != nil {
		return err
	}
	absPath, _ := filepath.Abs(name)
	fs.mu.Lock()
	delete(fs.fileState, absPath)
	fs.mu.Unlock()
	return nil
}

// RemoveAll removes a directory tree.
func (fs *FaultInjectionFS) RemoveAll(path string) error {
	return fs.base.RemoveAll(path)
}

// MkdirAll creates directories.
func (fs *FaultInjectionFS) MkdirAll(path string, perm os.FileMode) error {
	return fs.base.MkdirAll(path, perm)
}

// Stat returns file info.
func (fs *FaultInjectionFS) Stat(name string) (os.FileInfo, error) {
	return fs.base.Stat(name)
}

// Exists returns true if the file exists.
func (fs *FaultInjectionFS) Exists(name string) bool {
	return fs.base.Exists(name)
}

// ListDir lists a directory.
func (fs *FaultInjectionFS) ListDir(path string) ([]string, error) {
	return fs.base.ListDir(path)
}

// Lock acquires a file lock.
func (fs *FaultInjectionFS) Lock(name string) (io.Closer, error) {
	return fs.base.Lock(name)
}

// SyncDir syncs a directory.
func (fs *FaultInjectionFS) SyncDir(path string) error {
	return fs.base.SyncDir(path)
}

// faultWritableFile wraps WritableFile with fault injection.
type faultWritableFile struct {
	base WritableFile
	fs   *FaultInjectionFS
	path string
}

func (f *faultWritableFile) Write(p []byte) (int, error) {
	if err := f.fs.writeError(f.path); err != nil {
		return 0, err
	}

	n, err := f.base.Write(p)

	f.fs.mu.Lock()
	if state, ok := f.fs.fileState[f.path]; ok {
		state.pos += int64(n)
	}
	f.fs.mu.Unlock()

	return n, err
}

func (f *faultWritableFile) Close() error {
	return f.base.Close()
}

func (f *faultWritableFile) Sync() error {
	f.fs.mu.RLock()
	inject := f.fs.injectSyncError
	f.fs.mu.RUnlock()
	if inject {
		return ErrInjectedSyncError
	}

	if err := f.base.Sync(); err != nil {
		return err
	}

	f.fs.mu.Lock()
	if state, ok := f.fs.fileState[f.path]; ok {
		state.syncedPos = state.pos
	}
	f.fs.mu.Unlock()
	return nil
}
