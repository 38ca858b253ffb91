// recovery_test.go - Open validation, log replay after a crash, batch read
// modes, leftover cleanup and Destroy.

package segmentkv

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/aalhour/segmentkv/internal/segment"
	"github.com/aalhour/segmentkv/vfs"
)

// crash abandons db without flushing or merging, the way a killed process
// would, and releases its lock so the directory can be reopened.
func crash(t *testing.T, db *Database) {
	t.Helper()
	db.mu.Lock()
	db.closed.Store(true)
	db.mu.Unlock()
	if db.merger != nil {
		db.merger.stop()
	}
	db.reclaimer.Stop()
	_ = db.deleter.Close()
	if err := db.lock.Close(); err != nil {
		t.Fatalf("release lock: %v", err)
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s) error = %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func countPrefix(names []string, prefix string) int {
	n := 0
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			n++
		}
	}
	return n
}

// =============================================================================
// Open Validation Tests
// =============================================================================

func TestOpenCreate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, dir, testOptions())
	defer db.Close()

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("Stat(%s) = %v, %v, want a directory", dir, info, err)
	}
	if names := listDir(t, dir); !slices.Equal(names, []string{segment.LockFileName}) {
		t.Errorf("fresh database holds %v, want only the lock file", names)
	}
}

func TestOpenNotFound(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	opts := testOptions()
	opts.CreateIfNeeded = false

	if _, err := Open(dir, opts); !errors.Is(err, ErrDBNotFound) {
		t.Errorf("Open() error = %v, want ErrDBNotFound", err)
	}
}

func TestOpenInvalid(t *testing.T) {
	t.Run("not a directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Open(path, testOptions()); !errors.Is(err, ErrDBInvalid) {
			t.Errorf("Open() error = %v, want ErrDBInvalid", err)
		}
	})
	t.Run("foreign file", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Open(dir, testOptions()); !errors.Is(err, ErrDBInvalid) {
			t.Errorf("Open() error = %v, want ErrDBInvalid", err)
		}
	})
}

func TestOpenInUse(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, testOptions())
	defer db.Close()

	if _, err := Open(dir, testOptions()); !errors.Is(err, ErrDBInUse) {
		t.Errorf("second Open() error = %v, want ErrDBInUse", err)
	}
}

func TestOpenCorruptKeyFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, segment.KeysName(1, 1)), []byte("short"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, segment.DataName(1, 1)), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir, testOptions()); !errors.Is(err, ErrCorruption) {
		t.Errorf("Open() error = %v, want ErrCorruption", err)
	}
}

// =============================================================================
// Close and Reopen Tests
// =============================================================================

func TestCloseFlushesAndRemovesLogs(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, testOptions())
	mustPut(t, db, "a", "1")
	seal(t, db)
	mustPut(t, db, "b", "2")
	if err := db.CloseWithMerge(0); err != nil {
		t.Fatalf("CloseWithMerge(0) error = %v", err)
	}

	names := listDir(t, dir)
	if n := countPrefix(names, "log."); n != 0 {
		t.Errorf("%d logs left after close: %v", n, names)
	}
	if n := countPrefix(names, "keys."); n != 2 {
		t.Errorf("%d key files after close, want 2: %v", n, names)
	}
	if slices.Contains(names, segment.DeletedFileName) {
		t.Errorf("deleted log left after close: %v", names)
	}

	db = openTestDB(t, dir, testOptions())
	defer db.Close()
	mustGet(t, db, "a", "1")
	mustGet(t, db, "b", "2")
}

func TestCloseReportsFlushFailure(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.NewFaultInjectionFS(vfs.Default())
	opts := testOptions()
	opts.FS = fs
	db := openTestDB(t, dir, opts)
	mustPut(t, db, "a", "1")

	fs.InjectWriteError("keys.*")
	if err := db.Close(); !errors.Is(err, vfs.ErrInjectedWriteError) {
		t.Fatalf("Close() error = %v, want ErrInjectedWriteError", err)
	}

	// The log of the unflushed segment survives and is replayed.
	if n := countPrefix(listDir(t, dir), "log."); n != 1 {
		t.Errorf("%d logs after failed close, want 1", n)
	}
	db = openTestDB(t, dir, testOptions())
	defer db.Close()
	mustGet(t, db, "a", "1")
}

func TestReopenIDsKeepIncreasing(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, testOptions())
	mustPut(t, db, "k", "old")
	db.Close()

	db = openTestDB(t, dir, testOptions())
	mustPut(t, db, "k", "new")
	db.Close()

	db = openTestDB(t, dir, testOptions())
	defer db.Close()
	mustGet(t, db, "k", "new")
}

func TestCrashReplaysLog(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, testOptions())
	mustPut(t, db, "a", "1")
	mustPut(t, db, "b", "2")
	if _, err := db.Remove([]byte("a")); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	wb := NewWriteBatch()
	wb.Put([]byte("c"), []byte("3"))
	wb.Put([]byte("d"), []byte("4"))
	if err := db.Write(wb); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	crash(t, db)

	db = openTestDB(t, dir, testOptions())
	defer db.Close()
	want := []entry{{"b", "2"}, {"c", "3"}, {"d", "4"}}
	if got := scanDB(t, db); !slices.Equal(got, want) {
		t.Errorf("scan after crash = %v, want %v", got, want)
	}
}

func TestCrashBeforeDeletedFilesRemoved(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.DisableAutoMerge = true
	db := openTestDB(t, dir, opts)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		mustPut(t, db, k, k)
		seal(t, db)
	}
	snap, err := db.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if err := db.Compact(1); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	// The snapshot pins the merged logs, so they are still on disk when the
	// process dies.
	if v, err := snap.Get([]byte("c")); err != nil || string(v) != "c" {
		t.Fatalf("snapshot Get(c) = %q, %v, want %q", v, err, "c")
	}
	crash(t, db)
	names := listDir(t, dir)
	if !slices.Contains(names, segment.DeletedFileName) || countPrefix(names, "log.") != 5 {
		t.Fatalf("expected 5 pinned logs and a deleted log before reopen: %v", names)
	}

	db = openTestDB(t, dir, opts)
	defer db.Close()
	names = listDir(t, dir)
	if n := countPrefix(names, "log."); n != 0 {
		t.Errorf("%d logs left after reopen: %v", n, names)
	}
	if db.Stats().NumberOfSegments != 1 {
		t.Errorf("NumberOfSegments = %d, want 1", db.Stats().NumberOfSegments)
	}
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		mustGet(t, db, k, k)
	}
}

func TestOpenRemovesTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, testOptions())
	mustPut(t, db, "a", "1")
	db.Close()

	// A merge into [1, 5] that died before renaming its key file, and a data
	// file whose key file never appeared.
	orphan := segment.DataName(6, 6)
	for _, name := range []string{segment.KeysName(1, 5) + segment.TempSuffix, segment.DataName(1, 5), orphan} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("partial"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	db = openTestDB(t, dir, testOptions())
	defer db.Close()
	names := listDir(t, dir)
	for _, name := range names {
		if strings.HasSuffix(name, segment.TempSuffix) || name == segment.DataName(1, 5) || name == orphan {
			t.Errorf("leftover %s not removed: %v", name, names)
		}
	}
	mustGet(t, db, "a", "1")
}

// =============================================================================
// Batch Read Mode Tests
// =============================================================================

func TestBatchReadModes(t *testing.T) {
	// setup leaves a log whose last batch lost its footer.
	setup := func(t *testing.T) string {
		dir := t.TempDir()
		db := openTestDB(t, dir, testOptions())
		mustPut(t, db, "base", "1")
		wb := NewWriteBatch()
		wb.Put([]byte("b1"), []byte("x"))
		wb.Put([]byte("b2"), []byte("y"))
		if err := db.Write(wb); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		crash(t, db)

		path := filepath.Join(dir, segment.LogName(1))
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat(%s) error = %v", path, err)
		}
		if err := os.Truncate(path, info.Size()-4); err != nil {
			t.Fatal(err)
		}
		return dir
	}

	tests := []struct {
		mode    BatchReadMode
		want    []entry
		wantErr error
	}{
		{DiscardPartial, []entry{{"base", "1"}}, nil},
		{ApplyPartial, []entry{{"b1", "x"}, {"b2", "y"}, {"base", "1"}}, nil},
		{ReturnOpenError, nil, ErrCorruption},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			dir := setup(t)
			opts := testOptions()
			opts.BatchReadMode = tt.mode

			db, err := Open(dir, opts)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Open() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer db.Close()
			if got := scanDB(t, db); !slices.Equal(got, tt.want) {
				t.Errorf("scan = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Destroy Tests
// =============================================================================

func TestDestroy(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, dir, testOptions())
	mustPut(t, db, "a", "1")

	if err := Destroy(dir); !errors.Is(err, ErrDBInUse) {
		t.Errorf("Destroy(open db) error = %v, want ErrDBInUse", err)
	}
	db.Close()

	if err := Destroy(dir); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("Stat after Destroy error = %v, want not exist", err)
	}
	if err := Destroy(dir); !errors.Is(err, ErrDBNotFound) {
		t.Errorf("Destroy(missing) error = %v, want ErrDBNotFound", err)
	}
}

func TestDestroyRefusesForeignDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "important.doc"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Destroy(dir); !errors.Is(err, ErrDBInvalid) {
		t.Errorf("Destroy() error = %v, want ErrDBInvalid", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "important.doc")); err != nil {
		t.Errorf("foreign file removed: %v", err)
	}
}
