// Package vfs exposes the filesystem abstraction used by segmentkv so that
// callers can supply their own implementation or wrap the default one, for
// example with fault injection in tests.
package vfs

import (
	ivfs "github.com/aalhour/segmentkv/internal/vfs"
)

// FS is the filesystem interface.
type FS = ivfs.FS

// WritableFile is a file that can be written to.
type WritableFile = ivfs.WritableFile

// SequentialFile is a file that can be read sequentially.
type SequentialFile = ivfs.SequentialFile

// MappedFile is a read-only view of a whole file.
type MappedFile = ivfs.MappedFile

// FaultInjectionFS wraps an FS and injects errors.
type FaultInjectionFS = ivfs.FaultInjectionFS

// Errors returned by the filesystem layer.
var (
	ErrLocked              = ivfs.ErrLocked
	ErrInjectedWriteError  = ivfs.ErrInjectedWriteError
	ErrInjectedSyncError   = ivfs.ErrInjectedSyncError
	ErrInjectedRenameError = ivfs.ErrInjectedRenameError
)

// Default returns the OS filesystem.
func Default() FS {
	return ivfs.Default()
}

// NewFaultInjectionFS wraps base with fault injection.
func NewFaultInjectionFS(base FS) *FaultInjectionFS {
	return ivfs.NewFaultInjectionFS(base)
}
