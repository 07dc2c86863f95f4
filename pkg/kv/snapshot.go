package kv

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Direction selects the scan order for an iteration.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

// Snapshot is a consistent, read-only view of the store (spec §5's
// "read snapshot" access mode).
type Snapshot struct {
	tx *bolt.Tx
}

// Close releases the underlying read transaction.
func (s *Snapshot) Close() error {
	return s.tx.Rollback()
}

func (s *Snapshot) bucket(cf ColumnFamily) (*bolt.Bucket, error) {
	bucket := s.tx.Bucket([]byte(cf))
	if bucket == nil {
		return nil, fmt.Errorf("column family %q not found", cf)
	}
	return bucket, nil
}

// Get reads key from cf.
func (s *Snapshot) Get(cf ColumnFamily, key []byte) ([]byte, bool, error) {
	bucket, err := s.bucket(cf)
	if err != nil {
		return nil, false, err
	}
	v := bucket.Get(key)
	if v == nil {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// MultiGet reads several keys from cf in one pass.
func (s *Snapshot) MultiGet(cf ColumnFamily, keys [][]byte) ([][]byte, error) {
	bucket, err := s.bucket(cf)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(keys))
	for i, k := range keys {
		if v := bucket.Get(k); v != nil {
			out[i] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

// First returns the lowest-keyed entry in cf.
func (s *Snapshot) First(cf ColumnFamily) (key, value []byte, ok bool, err error) {
	bucket, err := s.bucket(cf)
	if err != nil {
		return nil, nil, false, err
	}
	k, v := bucket.Cursor().First()
	if k == nil {
		return nil, nil, false, nil
	}
	return append([]byte(nil), k...), append([]byte(nil), v...), true, nil
}

// Last returns the highest-keyed entry in cf.
func (s *Snapshot) Last(cf ColumnFamily) (key, value []byte, ok bool, err error) {
	bucket, err := s.bucket(cf)
	if err != nil {
		return nil, nil, false, err
	}
	k, v := bucket.Cursor().Last()
	if k == nil {
		return nil, nil, false, nil
	}
	return append([]byte(nil), k...), append([]byte(nil), v...), true, nil
}

// Iterate scans the entirety of cf in the given direction.
func (s *Snapshot) Iterate(cf ColumnFamily, dir Direction) (*RawIterator, error) {
	bucket, err := s.bucket(cf)
	if err != nil {
		return nil, err
	}
	return newRawIterator(bucket.Cursor(), nil, nil, dir), nil
}

// IterateFrom scans cf starting at (and including, if present) key, in the
// given direction.
func (s *Snapshot) IterateFrom(cf ColumnFamily, key []byte, dir Direction) (*RawIterator, error) {
	bucket, err := s.bucket(cf)
	if err != nil {
		return nil, err
	}
	return newRawIterator(bucket.Cursor(), key, nil, dir), nil
}

// IterateRange scans [lo, hi) of cf in the given direction. A nil bound on
// the appropriate side means "unbounded".
func (s *Snapshot) IterateRange(cf ColumnFamily, lo, hi []byte, dir Direction) (*RawIterator, error) {
	bucket, err := s.bucket(cf)
	if err != nil {
		return nil, err
	}
	it := newRawIterator(bucket.Cursor(), lo, hi, dir)
	return it, nil
}
