package memtable

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/aalhour/segmentkv/internal/iterator"
)

// =============================================================================
// SkipList
// =============================================================================

func TestSkipListEmpty(t *testing.T) {
	sl := NewSkipList(nil)
	if sl.Count() != 0 {
		t.Errorf("Count = %d, want 0", sl.Count())
	}
	if _, ok := sl.Get([]byte("key")); ok {
		t.Error("empty list should not contain any key")
	}
	it := sl.NewIterator()
	it.SeekToFirst()
	if it.Valid() {
		t.Error("iterator should be invalid on empty list")
	}
}

func TestSkipListPutOverwrite(t *testing.T) {
	sl := NewSkipList(nil)
	if _, existed := sl.Put([]byte("k"), []byte("v1")); existed {
		t.Error("first Put reported an existing key")
	}
	prev, existed := sl.Put([]byte("k"), []byte("v2"))
	if !existed || string(prev) != "v1" {
		t.Errorf("second Put = %q, %v, want v1, true", prev, existed)
	}
	if v, ok := sl.Get([]byte("k")); !ok || string(v) != "v2" {
		t.Errorf("Get = %q, %v", v, ok)
	}
	if sl.Count() != 1 {
		t.Errorf("Count = %d, want 1", sl.Count())
	}
}

func TestSkipListSortedIteration(t *testing.T) {
	sl := NewSkipList(nil)
	rng := rand.New(rand.NewSource(42))
	want := map[string]string{}
	for range 2000 {
		k := fmt.Sprintf("key%05d", rng.Intn(5000))
		v := fmt.Sprintf("v%d", rng.Int())
		sl.Put([]byte(k), []byte(v))
		want[k] = v
	}

	var sorted []string
	for k := range want {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	it := sl.NewIterator()
	i := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if string(it.Key()) != sorted[i] {
			t.Fatalf("key[%d] = %q, want %q", i, it.Key(), sorted[i])
		}
		if string(it.Value()) != want[sorted[i]] {
			t.Fatalf("value[%d] = %q, want %q", i, it.Value(), want[sorted[i]])
		}
		i++
	}
	if i != len(sorted) {
		t.Errorf("iterated %d keys, want %d", i, len(sorted))
	}

	it.Seek([]byte("key02500"))
	if it.Valid() && bytes.Compare(it.Key(), []byte("key02500")) < 0 {
		t.Errorf("Seek landed before target: %q", it.Key())
	}
}

func TestSkipListCustomComparator(t *testing.T) {
	reverse := func(a, b []byte) int { return bytes.Compare(b, a) }
	sl := NewSkipList(reverse)
	for _, k := range []string{"a", "c", "b"} {
		sl.Put([]byte(k), []byte(k))
	}
	var got []string
	it := sl.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	if fmt.Sprint(got) != "[c b a]" {
		t.Errorf("order = %v, want [c b a]", got)
	}
}

// =============================================================================
// MemTable
// =============================================================================

func TestMemTablePutGet(t *testing.T) {
	mt := New(nil)
	if !mt.Empty() {
		t.Error("new memtable should be empty")
	}

	key := []byte("mykey")
	val := []byte("myvalue")
	mt.Put(key, val)
	key[0], val[0] = 'X', 'X'

	v, ok := mt.Get([]byte("mykey"))
	if !ok || string(v) != "myvalue" {
		t.Errorf("Get = %q, %v; Put must copy its arguments", v, ok)
	}
	if mt.Empty() || mt.Count() != 1 {
		t.Errorf("Count = %d", mt.Count())
	}
}

func TestMemTableTombstone(t *testing.T) {
	mt := New(nil)
	mt.Put([]byte("k"), []byte("v"))
	prev, existed := mt.Put([]byte("k"), nil)
	if !existed || string(prev) != "v" {
		t.Errorf("tombstone Put returned %q, %v", prev, existed)
	}
	v, ok := mt.Get([]byte("k"))
	if !ok || len(v) != 0 {
		t.Errorf("Get = %q, %v, want tombstone", v, ok)
	}
	if v == nil {
		t.Error("tombstone value should be empty, not nil")
	}
}

func TestMemTableMemoryUsage(t *testing.T) {
	mt := New(nil)
	mt.Put([]byte("key"), bytes.Repeat([]byte("v"), 100))
	first := mt.ApproximateMemoryUsage()
	if first < 103 {
		t.Fatalf("usage = %d, want >= 103", first)
	}
	mt.Put([]byte("key"), bytes.Repeat([]byte("v"), 10))
	if got := mt.ApproximateMemoryUsage(); got != first-90 {
		t.Errorf("usage after shrink = %d, want %d", got, first-90)
	}
}

func TestMemTableIteratorBounds(t *testing.T) {
	mt := New(nil)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		mt.Put([]byte(k), []byte("v"+k))
	}

	tests := []struct {
		lower, upper []byte
		want         string
	}{
		{nil, nil, "[a b c d e]"},
		{[]byte("b"), []byte("d"), "[b c d]"},
		{[]byte("bb"), nil, "[c d e]"},
		{nil, []byte("a"), "[a]"},
		{[]byte("f"), nil, "[]"},
		{[]byte("c"), []byte("b"), "[]"},
	}
	for _, tt := range tests {
		kvs, err := iterator.Collect(mt.NewIterator(tt.lower, tt.upper))
		if err != nil {
			t.Fatalf("Collect() error = %v", err)
		}
		var got []string
		for _, kv := range kvs {
			got = append(got, string(kv.Key))
		}
		if fmt.Sprint(got) != tt.want {
			t.Errorf("range [%s, %s] = %v, want %s", tt.lower, tt.upper, got, tt.want)
		}
	}
}

func TestMemTableIteratorPeek(t *testing.T) {
	mt := New(nil)
	mt.Put([]byte("a"), []byte("1"))
	it := mt.NewIterator(nil, nil)
	if k, err := it.PeekKey(); err != nil || string(k) != "a" {
		t.Fatalf("PeekKey = %q, %v", k, err)
	}
	if kv, err := it.Next(); err != nil || string(kv.Value) != "1" {
		t.Fatalf("Next = %v, %v", kv, err)
	}
	if _, err := it.PeekKey(); !errors.Is(err, iterator.ErrEndOfIterator) {
		t.Errorf("PeekKey at end error = %v", err)
	}
}

func TestMemTableConcurrentReadsDuringWrites(t *testing.T) {
	mt := New(nil)
	const n = 2000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range n {
			mt.Put([]byte(fmt.Sprintf("key%05d", i)), []byte(fmt.Sprintf("val%05d", i)))
		}
	}()

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range n {
				k := []byte(fmt.Sprintf("key%05d", i))
				if v, ok := mt.Get(k); ok && string(v) != fmt.Sprintf("val%05d", i) {
					t.Errorf("Get(%s) = %q", k, v)
					return
				}
			}
		}()
	}
	wg.Wait()

	if mt.Count() != n {
		t.Errorf("Count = %d, want %d", mt.Count(), n)
	}
}
