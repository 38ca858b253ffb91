package segmentkv

import "errors"

// Errors returned by Database operations. Errors are wrapped with context;
// test for them with errors.Is.
var (
	// ErrDBNotFound is returned by Open when the directory does not exist
	// and CreateIfNeeded is not set.
	ErrDBNotFound = errors.New("segmentkv: database not found")

	// ErrDBInvalid is returned by Open when the path is not a directory or
	// holds files that do not belong to a database.
	ErrDBInvalid = errors.New("segmentkv: path is not a valid database")

	// ErrDBInUse is returned by Open when another process holds the lock.
	ErrDBInUse = errors.New("segmentkv: database in use")

	// ErrCorruption is returned when segments or the deleted log cannot be
	// loaded.
	ErrCorruption = errors.New("segmentkv: corruption detected")

	// ErrBackgroundError is returned when a background merge failed. Once
	// set, writes fail and Close reports it.
	ErrBackgroundError = errors.New("segmentkv: background error")

	// ErrDBClosed is returned by operations on a closed database.
	ErrDBClosed = errors.New("segmentkv: database is closed")

	// ErrInvalidKeyLength is returned for keys that are empty or longer
	// than MaxKeySize.
	ErrInvalidKeyLength = errors.New("segmentkv: invalid key length")

	// ErrNotFound is returned when a key is absent or deleted.
	ErrNotFound = errors.New("segmentkv: key not found")

	// ErrInvalidValue is returned by Put for a nil value.
	ErrInvalidValue = errors.New("segmentkv: invalid value")

	// ErrSnapshotReleased is returned by reads on a released snapshot.
	ErrSnapshotReleased = errors.New("segmentkv: snapshot released")
)
