package segment

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/aalhour/segmentkv/internal/iterator"
	"github.com/aalhour/segmentkv/internal/logging"
	"github.com/aalhour/segmentkv/internal/vfs"
	"github.com/aalhour/segmentkv/internal/wal"
)

// =============================================================================
// Helpers
// =============================================================================

func newMemory(t *testing.T, dir string, id uint64) *Memory {
	t.Helper()
	return NewMemory(id, MemoryOptions{FS: vfs.Default(), Dir: dir})
}

func mustPut(t *testing.T, s Segment, key, value string) {
	t.Helper()
	if _, _, err := s.Put([]byte(key), []byte(value)); err != nil {
		t.Fatalf("Put(%q) failed: %v", key, err)
	}
}

func flush(t *testing.T, dir string, m *Memory, purge bool) *Disk {
	t.Helper()
	d, _, err := WriteDisk(vfs.Default(), dir, m.LowerID(), m.UpperID(), m.Lookup(nil, nil), DiskOptions{PurgeTombstones: purge})
	if err != nil {
		t.Fatalf("WriteDisk failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func scan(t *testing.T, s Segment) []iterator.KeyValue {
	t.Helper()
	kvs, err := iterator.Collect(s.Lookup(nil, nil))
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	return kvs
}

func assertGet(t *testing.T, s Segment, key, want string) {
	t.Helper()
	got, found, err := s.Get([]byte(key))
	if err != nil || !found {
		t.Fatalf("Get(%q) = found %v, err %v", key, found, err)
	}
	if string(got) != want {
		t.Errorf("Get(%q) = %q, want %q", key, got, want)
	}
}

func assertPanics(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s did not panic", name)
		}
	}()
	fn()
}

// =============================================================================
// Memory segment
// =============================================================================

func TestMemoryCreatesLogLazily(t *testing.T) {
	dir := t.TempDir()
	m := newMemory(t, dir, 7)

	if vfs.Default().Exists(filepath.Join(dir, "log.7")) {
		t.Fatal("log created before the first write")
	}
	if len(m.Files()) != 0 {
		t.Errorf("Files() = %v, want none", m.Files())
	}

	mustPut(t, m, "a", "1")
	if !vfs.Default().Exists(filepath.Join(dir, "log.7")) {
		t.Fatal("log not created by the first write")
	}
	if got := m.Files(); len(got) != 1 || got[0] != "log.7" {
		t.Errorf("Files() = %v, want [log.7]", got)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestMemoryPutRemoveAndPrevious(t *testing.T) {
	m := NewMemory(1, MemoryOptions{})

	if _, existed, _ := m.Put([]byte("k"), []byte("v1")); existed {
		t.Error("first Put reported a previous value")
	}
	prev, existed, _ := m.Put([]byte("k"), []byte("v2"))
	if !existed || string(prev) != "v1" {
		t.Errorf("second Put prev = %q, %v; want v1, true", prev, existed)
	}
	prev, existed, _ = m.Remove([]byte("k"))
	if !existed || string(prev) != "v2" {
		t.Errorf("Remove prev = %q, %v; want v2, true", prev, existed)
	}

	got, found, _ := m.Get([]byte("k"))
	if !found || len(got) != 0 {
		t.Errorf("Get after Remove = %q, %v; want tombstone", got, found)
	}
}

func TestMemoryLogReplaysIntoLogSegment(t *testing.T) {
	dir := t.TempDir()
	m := newMemory(t, dir, 3)
	mustPut(t, m, "a", "1")
	mustPut(t, m, "b", "2")
	if _, _, err := m.Remove([]byte("a")); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	err := m.Write([]wal.Record{
		{Key: []byte("c"), Value: []byte("3")},
		{Key: []byte("b"), Value: []byte("22")},
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	l, stats, err := OpenLog(vfs.Default(), dir, 3, LogOptions{})
	if err != nil {
		t.Fatalf("OpenLog failed: %v", err)
	}
	if stats.Records != 5 || stats.Batches != 1 {
		t.Errorf("stats = %+v, want 5 records in 1 batch", stats)
	}
	if l.LowerID() != 3 || l.UpperID() != 3 {
		t.Errorf("ids = %d..%d, want 3..3", l.LowerID(), l.UpperID())
	}

	want := scan(t, m)
	got := scan(t, l)
	if len(got) != len(want) {
		t.Fatalf("replayed %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i].Key, want[i].Key) || !bytes.Equal(got[i].Value, want[i].Value) {
			t.Errorf("entry %d = %s=%q, want %s=%q", i, got[i].Key, got[i].Value, want[i].Key, want[i].Value)
		}
	}
}

func TestMemoryWithoutDirWritesNoFiles(t *testing.T) {
	m := NewMemory(1, MemoryOptions{})
	mustPut(t, m, "a", "1")
	if len(m.Files()) != 0 {
		t.Errorf("Files() = %v, want none", m.Files())
	}
	if m.Empty() || m.Count() != 1 {
		t.Errorf("Empty, Count = %v, %d", m.Empty(), m.Count())
	}
}

// =============================================================================
// Disk segment
// =============================================================================

func TestFlushKeepsTombstoneWithoutPurge(t *testing.T) {
	dir := t.TempDir()
	m := NewMemory(1, MemoryOptions{})
	mustPut(t, m, "mykey", "myvalue")
	if _, _, err := m.Remove([]byte("mykey")); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	d := flush(t, dir, m, false)
	kvs := scan(t, d)
	if len(kvs) != 1 {
		t.Fatalf("scan returned %d entries, want 1", len(kvs))
	}
	if string(kvs[0].Key) != "mykey" || len(kvs[0].Value) != 0 {
		t.Errorf("entry = %s=%q, want mykey with empty value", kvs[0].Key, kvs[0].Value)
	}
}

func TestFlushDropsTombstoneWithPurge(t *testing.T) {
	dir := t.TempDir()
	m := NewMemory(1, MemoryOptions{})
	mustPut(t, m, "mykey", "myvalue")
	if _, _, err := m.Remove([]byte("mykey")); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	d := flush(t, dir, m, true)
	if kvs := scan(t, d); len(kvs) != 0 {
		t.Errorf("scan returned %d entries, want 0", len(kvs))
	}
}

func TestDiskGetWrittenAndMissingKeys(t *testing.T) {
	dir := t.TempDir()
	m := NewMemory(4, MemoryOptions{})
	mustPut(t, m, "mykey", "myvalue")
	mustPut(t, m, "mykey2", "myvalue2")
	mustPut(t, m, "mykey3", "myvalue3")

	d := flush(t, dir, m, false)
	assertGet(t, d, "mykey", "myvalue")
	assertGet(t, d, "mykey2", "myvalue2")
	assertGet(t, d, "mykey3", "myvalue3")
	if _, found, err := d.Get([]byte("mykey4")); found || err != nil {
		t.Errorf("Get(mykey4) = found %v, err %v; want absent", found, err)
	}

	if got := d.Files(); len(got) != 2 || got[0] != "keys.4.4" || got[1] != "data.4.4" {
		t.Errorf("Files() = %v", got)
	}
	if d.Size() <= 0 {
		t.Errorf("Size() = %d, want > 0", d.Size())
	}
}

func TestOpenDiskMatchesWrittenSegment(t *testing.T) {
	dir := t.TempDir()
	m := NewMemory(2, MemoryOptions{})
	for i := 0; i < 2000; i++ {
		mustPut(t, m, string(rune('a'+i%26))+string(rune('a'+i/26%26))+"-key", "v")
	}
	flush(t, dir, m, false)

	d, err := OpenDisk(vfs.Default(), dir, 2, 2, DiskOptions{BloomBitsPerKey: 10})
	if err != nil {
		t.Fatalf("OpenDisk failed: %v", err)
	}
	defer d.Close()
	if got, want := len(scan(t, d)), int(m.Count()); got != want {
		t.Errorf("scan returned %d entries, want %d", got, want)
	}
	assertGet(t, d, "ba-key", "v")
}

// =============================================================================
// Immutability
// =============================================================================

func TestImmutableSegmentsPanic(t *testing.T) {
	dir := t.TempDir()
	m := NewMemory(1, MemoryOptions{})
	mustPut(t, m, "a", "1")
	d := flush(t, dir, m, false)
	multi := NewMulti([]Segment{d, m}, nil)

	for _, s := range []Segment{d, multi, &Log{id: 1}} {
		assertPanics(t, Describe(s)+".Put", func() { _, _, _ = s.Put([]byte("a"), []byte("1")) })
		assertPanics(t, Describe(s)+".Remove", func() { _, _, _ = s.Remove([]byte("a")) })
	}
}

// =============================================================================
// Multi segment
// =============================================================================

func TestMultiNewestWins(t *testing.T) {
	dir := t.TempDir()
	old := NewMemory(1, MemoryOptions{})
	mustPut(t, old, "a", "old")
	mustPut(t, old, "b", "old")
	mustPut(t, old, "c", "old")
	disk := flush(t, dir, old, false)

	mid := NewMemory(2, MemoryOptions{})
	mustPut(t, mid, "b", "mid")
	if _, _, err := mid.Remove([]byte("c")); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	newest := NewMemory(3, MemoryOptions{})
	mustPut(t, newest, "d", "new")

	multi := NewMulti([]Segment{disk, mid, newest}, nil)
	if multi.LowerID() != 1 || multi.UpperID() != 3 {
		t.Errorf("ids = %d..%d, want 1..3", multi.LowerID(), multi.UpperID())
	}

	assertGet(t, multi, "a", "old")
	assertGet(t, multi, "b", "mid")
	assertGet(t, multi, "d", "new")
	if v, found, _ := multi.Get([]byte("c")); !found || len(v) != 0 {
		t.Errorf("Get(c) = %q, %v; want tombstone", v, found)
	}

	kvs := scan(t, multi)
	want := []string{"a=old", "b=mid", "c=", "d=new"}
	if len(kvs) != len(want) {
		t.Fatalf("scan returned %d entries, want %d", len(kvs), len(want))
	}
	for i, kv := range kvs {
		if got := string(kv.Key) + "=" + string(kv.Value); got != want[i] {
			t.Errorf("entry %d = %s, want %s", i, got, want[i])
		}
	}

	bounded, err := iterator.Collect(multi.Lookup([]byte("b"), []byte("c")))
	if err != nil || len(bounded) != 2 {
		t.Errorf("bounded scan = %v, %v; want 2 entries", bounded, err)
	}
}

// =============================================================================
// Names, loading and pruning
// =============================================================================

func TestParseFileName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
		want FileName
	}{
		{"lockfile", true, FileName{Kind: KindLock}},
		{"deleted", true, FileName{Kind: KindDeleted}},
		{"log.12", true, FileName{Kind: KindLog, Lo: 12, Hi: 12}},
		{"keys.1.9", true, FileName{Kind: KindKeys, Lo: 1, Hi: 9}},
		{"data.1.9", true, FileName{Kind: KindData, Lo: 1, Hi: 9}},
		{"keys.1.9.tmp", true, FileName{Kind: KindKeys, Lo: 1, Hi: 9, Temp: true}},
		{"keys.9.1", false, FileName{}},
		{"keys.1", false, FileName{}},
		{"log.x", false, FileName{}},
		{"LOCK", false, FileName{}},
		{"log.1.tmp", false, FileName{}},
	}
	for _, tt := range tests {
		got, ok := ParseFileName(tt.name)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseFileName(%q) = %+v, %v; want %+v, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

type fakeSegment struct {
	Memory
	lo, hi uint64
}

func (f *fakeSegment) LowerID() uint64 { return f.lo }
func (f *fakeSegment) UpperID() uint64 { return f.hi }

func TestSortAndPrune(t *testing.T) {
	segs := []Segment{
		&fakeSegment{lo: 6, hi: 9},
		&Log{id: 5},
		&fakeSegment{lo: 1, hi: 5},
		&Log{id: 9},
		&Log{id: 10},
		&fakeSegment{lo: 10, hi: 10},
	}
	SortByRecency(segs)

	var order []string
	for _, s := range segs {
		order = append(order, Describe(s))
	}
	want := []string{"log[5]", "segment[1..5]", "log[9]", "segment[6..9]", "log[10]", "segment[10..10]"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	kept, pruned := Prune(segs)
	if len(kept) != 3 || len(pruned) != 3 {
		t.Fatalf("kept %d, pruned %d; want 3 and 3", len(kept), len(pruned))
	}
	for _, s := range pruned {
		if _, ok := s.(*Log); !ok {
			t.Errorf("pruned %s, want only logs", Describe(s))
		}
	}
}

func TestLoadPurgesTempAndPrunesCoveredLogs(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()

	// log.1 was flushed to keys.1.1 but never deleted.
	m1 := newMemory(t, dir, 1)
	mustPut(t, m1, "a", "1")
	_ = m1.Close()
	flush(t, dir, m1, false)

	// log.2 is live.
	m2 := newMemory(t, dir, 2)
	mustPut(t, m2, "b", "2")
	_ = m2.Close()

	// keys.3.3 failed halfway.
	for _, name := range []string{"keys.3.3.tmp", "data.3.3"} {
		f, err := fs.Create(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		_ = f.Close()
	}

	segs, err := Load(fs, dir, LoadOptions{Logger: logging.Discard})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer func() {
		for _, s := range segs {
			_ = s.Close()
		}
	}()

	if len(segs) != 2 {
		t.Fatalf("loaded %d segments, want 2", len(segs))
	}
	if _, ok := segs[0].(*Disk); !ok {
		t.Errorf("segs[0] = %s, want disk", Describe(segs[0]))
	}
	if _, ok := segs[1].(*Log); !ok {
		t.Errorf("segs[1] = %s, want log", Describe(segs[1]))
	}

	names, _ := fs.ListDir(dir)
	for _, gone := range []string{"log.1", "keys.3.3.tmp", "data.3.3"} {
		for _, n := range names {
			if n == gone {
				t.Errorf("%s still present after Load", gone)
			}
		}
	}
	assertGet(t, NewMulti([]Segment{segs[0], segs[1]}, nil), "a", "1")
}

func TestLoadRemovesDataWithoutKeys(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()

	m1 := newMemory(t, dir, 1)
	mustPut(t, m1, "a", "1")
	_ = m1.Close()
	flush(t, dir, m1, false)

	// A flush of [2, 4] that crashed after renaming its data file.
	f, err := fs.Create(filepath.Join(dir, DataName(2, 4)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_ = f.Close()

	segs, err := Load(fs, dir, LoadOptions{Logger: logging.Discard})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer func() {
		for _, s := range segs {
			_ = s.Close()
		}
	}()

	if len(segs) != 1 {
		t.Fatalf("loaded %d segments, want 1", len(segs))
	}
	names, _ := fs.ListDir(dir)
	if containsName(names, DataName(2, 4)) {
		t.Errorf("%s still present after Load", DataName(2, 4))
	}
	if !containsName(names, DataName(1, 1)) {
		t.Errorf("data file of keys.1.1 removed: %v", names)
	}
	assertGet(t, segs[0], "a", "1")
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// =============================================================================
// Reference counts
// =============================================================================

func TestRefCount(t *testing.T) {
	var r RefCount
	r.Ref()
	r.Ref()
	if r.Unref() {
		t.Error("Unref reported last reference with one left")
	}
	if !r.Unref() {
		t.Error("Unref did not report the last reference")
	}
	if r.Obsolete() {
		t.Error("new RefCount is obsolete")
	}
	r.MarkObsolete()
	if !r.Obsolete() {
		t.Error("MarkObsolete had no effect")
	}
	assertPanics(t, "Unref below zero", func() { r.Unref() })
}
