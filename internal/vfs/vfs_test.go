package vfs

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestOSFS_Create(t *testing.T) {
	fs := Default()
	path := filepath.Join(t.TempDir(), "test.txt")

	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	n, err := f.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != 5 {
		t.Errorf("Write returned %d, want 5", n)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("Content = %q, want 'hello'", data)
	}
}

func TestOSFS_Open(t *testing.T) {
	fs := Default()
	path := filepath.Join(t.TempDir(), "test.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	f, err := fs.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("Content = %q", data)
	}
}

func TestOSFS_Mmap(t *testing.T) {
	fs := Default()
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.1.1")
	want := bytes.Repeat([]byte("0123456789"), 1000)
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	m, err := fs.Mmap(path)
	if err != nil {
		t.Fatalf("Mmap failed: %v", err)
	}
	if !bytes.Equal(m.Bytes(), want) {
		t.Errorf("mapped %d bytes, content mismatch", len(m.Bytes()))
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if m.Bytes() != nil {
		t.Error("Bytes() after Close should be nil")
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestOSFS_MmapEmptyFile(t *testing.T) {
	fs := Default()
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	m, err := fs.Mmap(path)
	if err != nil {
		t.Fatalf("Mmap(empty) failed: %v", err)
	}
	if len(m.Bytes()) != 0 {
		t.Errorf("len = %d, want 0", len(m.Bytes()))
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestOSFS_MmapMissing(t *testing.T) {
	if _, err := Default().Mmap(filepath.Join(t.TempDir(), "missing")); !os.IsNotExist(err) {
		t.Errorf("Mmap(missing) error = %v, want not-exist", err)
	}
}

func TestOSFS_RenameRemove(t *testing.T) {
	fs := Default()
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "keys.1.2.tmp")
	newPath := filepath.Join(dir, "keys.1.2")
	if err := os.WriteFile(oldPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := fs.Rename(oldPath, newPath); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if fs.Exists(oldPath) || !fs.Exists(newPath) {
		t.Fatal("rename did not move the file")
	}
	if err := fs.SyncDir(dir); err != nil {
		t.Fatalf("SyncDir failed: %v", err)
	}
	if err := fs.Remove(newPath); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if fs.Exists(newPath) {
		t.Error("file still exists after Remove")
	}
}

func TestOSFS_ListDirStat(t *testing.T) {
	fs := Default()
	dir := t.TempDir()
	for _, name := range []string{"log.3", "keys.1.2", "data.1.2"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	names, err := fs.ListDir(dir)
	if err != nil {
		t.Fatalf("ListDir failed: %v", err)
	}
	slices.Sort(names)
	if !slices.Equal(names, []string{"data.1.2", "keys.1.2", "log.3"}) {
		t.Errorf("ListDir = %v", names)
	}

	info, err := fs.Stat(filepath.Join(dir, "log.3"))
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 5 {
		t.Errorf("Size = %d, want 5", info.Size())
	}

	sub := filepath.Join(dir, "a", "b")
	if err := fs.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := fs.RemoveAll(filepath.Join(dir, "a")); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	if fs.Exists(sub) {
		t.Error("RemoveAll left the directory")
	}
}

func TestOSFS_Lock(t *testing.T) {
	fs := Default()
	path := filepath.Join(t.TempDir(), "lockfile")

	lock, err := fs.Lock(path)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	// flock locks are per open file description, so a second open conflicts
	// even inside one process.
	if _, err := fs.Lock(path); !errors.Is(err, ErrLocked) {
		t.Errorf("second Lock error = %v, want ErrLocked", err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	lock2, err := fs.Lock(path)
	if err != nil {
		t.Fatalf("Lock after release failed: %v", err)
	}
	_ = lock2.Close()
}
