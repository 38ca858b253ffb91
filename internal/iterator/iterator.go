// Package iterator defines the forward-only lookup iterator shared by all
// segment kinds and the newest-wins merge over several of them.
package iterator

import (
	"errors"
	"slices"
)

// ErrEndOfIterator is returned by PeekKey and Next once the iterator is
// exhausted.
var ErrEndOfIterator = errors.New("iterator: end of iterator")

// KeyValue is one entry of a segment. A zero-length Value is a tombstone.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// IsTombstone reports whether the entry marks a deleted key.
func (kv KeyValue) IsTombstone() bool {
	return len(kv.Value) == 0
}

// LookupIterator is a lazy, forward-only, single-pass sequence of entries in
// ascending key order with no duplicate keys. It is not restartable.
type LookupIterator interface {
	// PeekKey returns the key the next call to Next will return, without
	// consuming it.
	PeekKey() ([]byte, error)

	// Next returns the next entry and advances.
	Next() (KeyValue, error)
}

// sliceIterator iterates over an in-memory sorted slice.
type sliceIterator struct {
	kvs []KeyValue
	pos int
}

// FromSlice returns an iterator over kvs.
// REQUIRES: kvs is sorted by key with no duplicates.
func FromSlice(kvs []KeyValue) LookupIterator {
	return &sliceIterator{kvs: kvs}
}

// Empty returns an iterator with no entries.
func Empty() LookupIterator {
	return &sliceIterator{}
}

func (it *sliceIterator) PeekKey() ([]byte, error) {
	if it.pos >= len(it.kvs) {
		return nil, ErrEndOfIterator
	}
	return it.kvs[it.pos].Key, nil
}

func (it *sliceIterator) Next() (KeyValue, error) {
	if it.pos >= len(it.kvs) {
		return KeyValue{}, ErrEndOfIterator
	}
	kv := it.kvs[it.pos]
	it.pos++
	return kv, nil
}

// Collect drains it into a slice.
func Collect(it LookupIterator) ([]KeyValue, error) {
	var out []KeyValue
	for {
		kv, err := it.Next()
		if errors.Is(err, ErrEndOfIterator) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, kv)
	}
}

// Clone returns a deep copy of kv.
func Clone(kv KeyValue) KeyValue {
	return KeyValue{Key: slices.Clone(kv.Key), Value: slices.Clone(kv.Value)}
}
