package kv

import (
	"bytes"

	bolt "go.etcd.io/bbolt"
)

// RawIterator walks raw key/value pairs from one column family's cursor
// in a fixed direction, optionally bounded to [lo, hi).
type RawIterator struct {
	cursor  *bolt.Cursor
	dir     Direction
	lo, hi  []byte
	started bool
	key     []byte
	value   []byte
	done    bool
}

func newRawIterator(cursor *bolt.Cursor, from, hi []byte, dir Direction) *RawIterator {
	return &RawIterator{cursor: cursor, dir: dir, lo: from, hi: hi}
}

// Next advances the iterator and reports whether a pair is available.
func (it *RawIterator) Next() bool {
	if it.done {
		return false
	}
	var k, v []byte
	if !it.started {
		it.started = true
		switch {
		case it.dir == Forward && it.lo != nil:
			k, v = it.cursor.Seek(it.lo)
		case it.dir == Forward:
			k, v = it.cursor.First()
		case it.dir == Reverse && it.lo != nil:
			k, v = it.seekReverseFrom(it.lo)
		default:
			k, v = it.cursor.Last()
		}
	} else if it.dir == Forward {
		k, v = it.cursor.Next()
	} else {
		k, v = it.cursor.Prev()
	}

	if k == nil {
		it.done = true
		return false
	}
	if it.dir == Forward && it.hi != nil && bytes.Compare(k, it.hi) >= 0 {
		it.done = true
		return false
	}
	it.key = append([]byte(nil), k...)
	it.value = append([]byte(nil), v...)
	return true
}

// seekReverseFrom positions the cursor at the last key <= from.
func (it *RawIterator) seekReverseFrom(from []byte) ([]byte, []byte) {
	k, v := it.cursor.Seek(from)
	if k == nil {
		return it.cursor.Last()
	}
	if bytes.Equal(k, from) {
		return k, v
	}
	// Seek landed on the first key > from; step back one.
	return it.cursor.Prev()
}

// Key returns the current key. Valid only after a true-returning Next.
func (it *RawIterator) Key() []byte { return it.key }

// Value returns the current value. Valid only after a true-returning Next.
func (it *RawIterator) Value() []byte { return it.value }
