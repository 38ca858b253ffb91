package segmentkv

// iterator.go implements the public range iterator.

import (
	"errors"

	"github.com/aalhour/segmentkv/internal/iterator"
)

// Iterator walks the live entries of a range in ascending key order.
// Removed keys are skipped. An Iterator is not safe for concurrent use.
//
//	it, err := db.Lookup(nil, nil)
//	if err != nil { ... }
//	defer it.Release()
//	for it.Next() {
//		fmt.Printf("%s=%s\n", it.Key(), it.Value())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	db      *Database
	it      iterator.LookupIterator
	release func()

	key   []byte
	value []byte
	err   error
	done  bool
}

func newIterator(db *Database, it iterator.LookupIterator, release func()) *Iterator {
	return &Iterator{db: db, it: it, release: release}
}

// Next advances to the next live entry and reports whether there is one.
// It fails with ErrDBClosed once the database is closed.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if it.db.closed.Load() {
		it.err = ErrDBClosed
		it.finish()
		return false
	}
	for {
		kv, err := it.it.Next()
		if errors.Is(err, iterator.ErrEndOfIterator) {
			it.finish()
			return false
		}
		if err != nil {
			it.err = err
			it.finish()
			return false
		}
		if kv.IsTombstone() {
			continue
		}
		it.key, it.value = kv.Key, kv.Value
		return true
	}
}

// Key returns the key of the current entry. The slice must not be modified.
func (it *Iterator) Key() []byte {
	return it.key
}

// Value returns the value of the current entry. The slice must not be
// modified.
func (it *Iterator) Value() []byte {
	return it.value
}

// Err returns the error that ended the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Release drops the iterator's hold on the segments it reads. It is safe to
// call more than once.
func (it *Iterator) Release() {
	it.finish()
}

func (it *Iterator) finish() {
	it.done = true
	it.key, it.value = nil, nil
	if it.release != nil {
		it.release()
		it.release = nil
	}
}
