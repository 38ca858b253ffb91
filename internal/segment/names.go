package segment

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// LockFileName guards a database directory against concurrent opens.
	LockFileName = "lockfile"

	// DeletedFileName is the durable list of files awaiting removal.
	DeletedFileName = "deleted"

	// TempSuffix marks a key or data file that was not completely written.
	TempSuffix = ".tmp"
)

// FileKind classifies a directory entry.
type FileKind int

const (
	KindUnknown FileKind = iota
	KindLock
	KindDeleted
	KindLog
	KindKeys
	KindData
)

// LogName returns the log file name of memory segment id.
func LogName(id uint64) string {
	return fmt.Sprintf("log.%d", id)
}

// KeysName returns the key file name of the segment covering [lo, hi].
func KeysName(lo, hi uint64) string {
	return fmt.Sprintf("keys.%d.%d", lo, hi)
}

// DataName returns the data file name of the segment covering [lo, hi].
func DataName(lo, hi uint64) string {
	return fmt.Sprintf("data.%d.%d", lo, hi)
}

// FileName describes a parsed directory entry.
type FileName struct {
	Kind FileKind
	Lo   uint64
	Hi   uint64
	Temp bool
}

// ParseFileName classifies name. Unknown names report ok == false.
func ParseFileName(name string) (fn FileName, ok bool) {
	switch name {
	case LockFileName:
		return FileName{Kind: KindLock}, true
	case DeletedFileName:
		return FileName{Kind: KindDeleted}, true
	}

	base, temp := strings.CutSuffix(name, TempSuffix)
	fn.Temp = temp

	prefix, ids, found := strings.Cut(base, ".")
	if !found {
		return FileName{}, false
	}
	switch prefix {
	case "log":
		if temp {
			return FileName{}, false
		}
		id, err := strconv.ParseUint(ids, 10, 64)
		if err != nil {
			return FileName{}, false
		}
		fn.Kind, fn.Lo, fn.Hi = KindLog, id, id
		return fn, true
	case "keys", "data":
		loStr, hiStr, found := strings.Cut(ids, ".")
		if !found {
			return FileName{}, false
		}
		lo, err1 := strconv.ParseUint(loStr, 10, 64)
		hi, err2 := strconv.ParseUint(hiStr, 10, 64)
		if err1 != nil || err2 != nil || lo > hi {
			return FileName{}, false
		}
		fn.Kind, fn.Lo, fn.Hi = KindKeys, lo, hi
		if prefix == "data" {
			fn.Kind = KindData
		}
		return fn, true
	}
	return FileName{}, false
}
