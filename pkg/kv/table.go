package kv

// Table is a typed accessor over a single column family, translating
// between domain keys/values and the raw bytes the Store persists. It
// favors generics over a trait-object table registry per DESIGN NOTES
// §9: one monomorphized Table[K,V] per column family, no runtime type
// assertions at the call site.
type Table[K any, V any] struct {
	cf    ColumnFamily
	codec Codec[K, V]
}

// NewTable builds a Table bound to cf using codec for key/value encoding.
func NewTable[K any, V any](cf ColumnFamily, codec Codec[K, V]) Table[K, V] {
	return Table[K, V]{cf: cf, codec: codec}
}

// Get reads key from snap, decoding the stored value.
func (t Table[K, V]) Get(snap *Snapshot, key K) (V, bool, error) {
	var zero V
	raw, ok, err := snap.Get(t.cf, t.codec.Key.EncodeKey(key))
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := t.codec.Value.DecodeValue(raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Put writes key -> value into batch.
func (t Table[K, V]) Put(batch *Batch, key K, value V) error {
	return batch.Put(t.cf, t.codec.Key.EncodeKey(key), t.codec.Value.EncodeValue(value))
}

// Delete removes key from batch.
func (t Table[K, V]) Delete(batch *Batch, key K) error {
	return batch.Delete(t.cf, t.codec.Key.EncodeKey(key))
}

// GetFromBatch reads key from batch, seeing the batch's own pending writes.
func (t Table[K, V]) GetFromBatch(batch *Batch, key K) (V, bool, error) {
	var zero V
	raw, ok, err := batch.Get(t.cf, t.codec.Key.EncodeKey(key))
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := t.codec.Value.DecodeValue(raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// First returns the lowest-keyed entry.
func (t Table[K, V]) First(snap *Snapshot) (K, V, bool, error) {
	var zeroK K
	var zeroV V
	rk, rv, ok, err := snap.First(t.cf)
	if err != nil || !ok {
		return zeroK, zeroV, false, err
	}
	return t.decodePair(rk, rv, zeroK, zeroV)
}

// Last returns the highest-keyed entry.
func (t Table[K, V]) Last(snap *Snapshot) (K, V, bool, error) {
	var zeroK K
	var zeroV V
	rk, rv, ok, err := snap.Last(t.cf)
	if err != nil || !ok {
		return zeroK, zeroV, false, err
	}
	return t.decodePair(rk, rv, zeroK, zeroV)
}

func (t Table[K, V]) decodePair(rk, rv []byte, zeroK K, zeroV V) (K, V, bool, error) {
	k, err := t.codec.Key.DecodeKey(rk)
	if err != nil {
		return zeroK, zeroV, false, err
	}
	v, err := t.codec.Value.DecodeValue(rv)
	if err != nil {
		return zeroK, zeroV, false, err
	}
	return k, v, true, nil
}

// TableIterator wraps a RawIterator, decoding each pair through codec.
type TableIterator[K any, V any] struct {
	raw   *RawIterator
	codec Codec[K, V]
	err   error
}

// Next advances the iterator, decoding the next pair.
func (it *TableIterator[K, V]) Next() bool {
	if it.err != nil {
		return false
	}
	return it.raw.Next()
}

// KV decodes the current pair. Valid only after a true-returning Next.
func (it *TableIterator[K, V]) KV() (K, V, error) {
	var zeroK K
	var zeroV V
	k, err := it.codec.Key.DecodeKey(it.raw.Key())
	if err != nil {
		it.err = err
		return zeroK, zeroV, err
	}
	v, err := it.codec.Value.DecodeValue(it.raw.Value())
	if err != nil {
		it.err = err
		return zeroK, zeroV, err
	}
	return k, v, nil
}

// Err returns the first decode error encountered, if any.
func (it *TableIterator[K, V]) Err() error { return it.err }

// Iterate scans the entire table in the given direction.
func (t Table[K, V]) Iterate(snap *Snapshot, dir Direction) (*TableIterator[K, V], error) {
	raw, err := snap.Iterate(t.cf, dir)
	if err != nil {
		return nil, err
	}
	return &TableIterator[K, V]{raw: raw, codec: t.codec}, nil
}

// IterateFrom scans starting at key in the given direction.
func (t Table[K, V]) IterateFrom(snap *Snapshot, key K, dir Direction) (*TableIterator[K, V], error) {
	raw, err := snap.IterateFrom(t.cf, t.codec.Key.EncodeKey(key), dir)
	if err != nil {
		return nil, err
	}
	return &TableIterator[K, V]{raw: raw, codec: t.codec}, nil
}

// GroupTable is a Table whose key codec also knows how to compute a
// group's byte range, letting callers scan one logical group (e.g. one
// entity's partition of substates) without decoding every key.
type GroupTable[K any, V any, G any] struct {
	Table[K, V]
	groupCodec GroupKeyCodec[K, G]
}

// NewGroupTable builds a GroupTable bound to cf.
func NewGroupTable[K any, V any, G any](cf ColumnFamily, codec GroupKeyCodec[K, G], valueCodec ValueCodec[V]) GroupTable[K, V, G] {
	return GroupTable[K, V, G]{
		Table:      NewTable[K, V](cf, Codec[K, V]{Key: codec, Value: valueCodec}),
		groupCodec: codec,
	}
}

// IterateGroup scans every entry belonging to group, in ascending sort-key order.
func (t GroupTable[K, V, G]) IterateGroup(snap *Snapshot, group G) (*TableIterator[K, V], error) {
	lo, hi := t.groupCodec.EncodeGroupRange(group)
	raw, err := snap.IterateRange(t.Table.cf, lo, hi, Forward)
	if err != nil {
		return nil, err
	}
	return &TableIterator[K, V]{raw: raw, codec: t.Table.codec}, nil
}

// DeleteGroup removes every entry belonging to group from batch.
func (t GroupTable[K, V, G]) DeleteGroup(batch *Batch, group G) error {
	lo, hi := t.groupCodec.EncodeGroupRange(group)
	return batch.DeleteRange(t.Table.cf, lo, hi)
}
