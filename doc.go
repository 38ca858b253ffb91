/*
Package segmentkv provides a pure-Go embedded durable key/value store built
on sorted segments.

Writes go to a memory segment backed by a write-ahead log. A full memory
segment is sealed and a fresh one takes its place; a background merger
rewrites runs of adjacent segments into single disk segments, keeping the
segment count bounded. A disk segment is a pair of files: a key file of
fixed-size, prefix-compressed key blocks and a data file of values, both
memory-mapped for reads.

# Usage

	db, err := segmentkv.Open("/tmp/db", &segmentkv.Options{CreateIfNeeded: true})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		return err
	}
	v, err := db.Get([]byte("k"))

# Concurrency

A Database is safe for concurrent use by multiple goroutines. Reads never
block on writers or on merges. Individual Iterator instances are not safe
for concurrent use; each goroutine should use its own iterator.

# Files

A database directory holds log.<id> files for unflushed memory segments,
keys.<lo>.<hi> and data.<lo>.<hi> pairs for disk segments, a lockfile, and
a deleted file listing superseded files that the next Open removes. Any
other entry makes Open fail with ErrDBInvalid.
*/
package segmentkv
