package kv

import (
	"bytes"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Batch buffers writes across one or more column families for atomic
// commit. Reads issued against the same Batch see its own pending writes
// (BoltDB's transaction semantics); reads from any other Snapshot see
// only state committed before the batch began.
type Batch struct {
	tx *bolt.Tx
}

func (b *Batch) bucket(cf ColumnFamily) (*bolt.Bucket, error) {
	bucket := b.tx.Bucket([]byte(cf))
	if bucket == nil {
		return nil, fmt.Errorf("column family %q not found", cf)
	}
	return bucket, nil
}

// Put stores key -> value in cf.
func (b *Batch) Put(cf ColumnFamily, key, value []byte) error {
	bucket, err := b.bucket(cf)
	if err != nil {
		return err
	}
	return bucket.Put(key, value)
}

// Delete removes key from cf. Idempotent: deleting an absent key is not
// an error.
func (b *Batch) Delete(cf ColumnFamily, key []byte) error {
	bucket, err := b.bucket(cf)
	if err != nil {
		return err
	}
	return bucket.Delete(key)
}

// DeleteRange removes every key in [lo, hi) from cf. A nil hi means "to
// the end of the column family".
func (b *Batch) DeleteRange(cf ColumnFamily, lo, hi []byte) error {
	bucket, err := b.bucket(cf)
	if err != nil {
		return err
	}
	c := bucket.Cursor()
	for k, _ := c.Seek(lo); k != nil; k, _ = c.Next() {
		if hi != nil && bytes.Compare(k, hi) >= 0 {
			break
		}
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}

// Get reads key from cf, seeing this batch's own pending writes.
func (b *Batch) Get(cf ColumnFamily, key []byte) ([]byte, bool, error) {
	bucket, err := b.bucket(cf)
	if err != nil {
		return nil, false, err
	}
	v := bucket.Get(key)
	if v == nil {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (b *Batch) commit() error {
	return b.tx.Commit()
}

func (b *Batch) rollback() error {
	return b.tx.Rollback()
}

// Commit flushes this batch. WriteGuard.Commit wraps this for Lock's
// batches; a batch obtained directly from AccessDirect has no WriteGuard
// to commit through, so this is exported for that caller.
func (b *Batch) Commit() error {
	return b.commit()
}

// Rollback discards this batch's pending writes. Exported for the same
// reason as Commit: AccessDirect's batch has no WriteGuard to roll back
// through.
func (b *Batch) Rollback() error {
	return b.rollback()
}
