package substate

import (
	"testing"

	"github.com/coreledger/corestate/pkg/kv"
	"github.com/coreledger/corestate/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *kv.Store {
	t.Helper()
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTopOfLedgerView_GetAbsentIsNotFound(t *testing.T) {
	store := openTestStore(t)
	err := store.View(func(snap *kv.Snapshot) error {
		view := NewTopOfLedgerView(snap)
		_, ok, err := view.Get(ledger.PartitionKey{NodeKey: []byte("acct-1"), PartitionNum: 0}, []byte("balance"))
		require.NoError(t, err)
		assert.False(t, ok, "pre-genesis reads must look absent rather than zero-valued")
		return nil
	})
	require.NoError(t, err)
}

func TestTopOfLedgerView_ListEntriesFromStopsAtPartitionBoundary(t *testing.T) {
	store := openTestStore(t)
	partition := ledger.PartitionKey{NodeKey: []byte("acct-1"), PartitionNum: 1}
	otherPartition := ledger.PartitionKey{NodeKey: []byte("acct-1"), PartitionNum: 2}

	err := store.Update(func(batch *kv.Batch) error {
		if err := substatesTable.Put(batch, ledger.SubstateKey{NodeKey: partition.NodeKey, PartitionNum: partition.PartitionNum, SortKey: []byte("a")}, []byte("1")); err != nil {
			return err
		}
		if err := substatesTable.Put(batch, ledger.SubstateKey{NodeKey: partition.NodeKey, PartitionNum: partition.PartitionNum, SortKey: []byte("b")}, []byte("2")); err != nil {
			return err
		}
		return substatesTable.Put(batch, ledger.SubstateKey{NodeKey: otherPartition.NodeKey, PartitionNum: otherPartition.PartitionNum, SortKey: []byte("z")}, []byte("3"))
	})
	require.NoError(t, err)

	err = store.View(func(snap *kv.Snapshot) error {
		view := NewTopOfLedgerView(snap)
		entries, err := view.ListEntriesFrom(partition, nil)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, []byte("a"), entries[0].SortKey)
		assert.Equal(t, []byte("b"), entries[1].SortKey)
		return nil
	})
	require.NoError(t, err)
}

func TestTopOfLedgerView_ListEntriesFromOffset(t *testing.T) {
	store := openTestStore(t)
	partition := ledger.PartitionKey{NodeKey: []byte("acct-1"), PartitionNum: 1}

	err := store.Update(func(batch *kv.Batch) error {
		for _, sk := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
			if err := substatesTable.Put(batch, ledger.SubstateKey{NodeKey: partition.NodeKey, PartitionNum: partition.PartitionNum, SortKey: sk}, []byte("v")); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = store.View(func(snap *kv.Snapshot) error {
		view := NewTopOfLedgerView(snap)
		entries, err := view.ListEntriesFrom(partition, []byte("b"))
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, []byte("b"), entries[0].SortKey)
		assert.Equal(t, []byte("c"), entries[1].SortKey)
		return nil
	})
	require.NoError(t, err)
}

func TestApplyDiff_DeltaSetsAndDeletes(t *testing.T) {
	store := openTestStore(t)
	partition := ledger.PartitionKey{NodeKey: []byte("acct-1"), PartitionNum: 0}

	err := store.Update(func(batch *kv.Batch) error {
		return substatesTable.Put(batch, ledger.SubstateKey{NodeKey: partition.NodeKey, PartitionNum: partition.PartitionNum, SortKey: []byte("gone")}, []byte("stale"))
	})
	require.NoError(t, err)

	var diff ledger.SubstateDiff
	diff.AddDelta(partition, []byte("gone"), ledger.DeleteUpdate())
	diff.AddDelta(partition, []byte("new"), ledger.SetUpdate([]byte("v")))

	err = store.Update(func(batch *kv.Batch) error {
		return ApplyDiff(batch, diff)
	})
	require.NoError(t, err)

	err = store.View(func(snap *kv.Snapshot) error {
		view := NewTopOfLedgerView(snap)
		_, ok, err := view.Get(partition, []byte("gone"))
		require.NoError(t, err)
		assert.False(t, ok)

		v, ok, err := view.Get(partition, []byte("new"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v"), v)
		return nil
	})
	require.NoError(t, err)
}

func TestApplyDiff_ResetReplacesPartitionWholesale(t *testing.T) {
	store := openTestStore(t)
	partition := ledger.PartitionKey{NodeKey: []byte("acct-1"), PartitionNum: 0}

	err := store.Update(func(batch *kv.Batch) error {
		return substatesTable.Put(batch, ledger.SubstateKey{NodeKey: partition.NodeKey, PartitionNum: partition.PartitionNum, SortKey: []byte("old")}, []byte("1"))
	})
	require.NoError(t, err)

	var diff ledger.SubstateDiff
	diff.SetReset(partition, map[string][]byte{"replacement": []byte("2")})

	err = store.Update(func(batch *kv.Batch) error {
		return ApplyDiff(batch, diff)
	})
	require.NoError(t, err)

	err = store.View(func(snap *kv.Snapshot) error {
		view := NewTopOfLedgerView(snap)
		_, ok, err := view.Get(partition, []byte("old"))
		require.NoError(t, err)
		assert.False(t, ok, "reset must clear entries absent from the replacement map")

		v, ok, err := view.Get(partition, []byte("replacement"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("2"), v)
		return nil
	})
	require.NoError(t, err)
}

type fakeHistoricalReader struct {
	values map[ledger.StateVersion]map[string][]byte
}

func (f *fakeHistoricalReader) LeafValue(_ *kv.Snapshot, version ledger.StateVersion, key ledger.SubstateKey) ([]byte, bool, error) {
	byVersion, ok := f.values[version]
	if !ok {
		return nil, false, nil
	}
	v, ok := byVersion[string(kv.SubstateKeyCodec{}.EncodeKey(key))]
	return v, ok, nil
}

func TestHistoricalView_PinnedVersionResolvesThroughReader(t *testing.T) {
	reader := &fakeHistoricalReader{values: map[ledger.StateVersion]map[string][]byte{}}
	view := NewHistoricalView(reader, ledger.StateVersion(42))
	assert.Equal(t, ledger.StateVersion(42), view.Version())

	key := ledger.SubstateKey{NodeKey: []byte("acct-1"), PartitionNum: 0, SortKey: []byte("balance")}
	reader.values[ledger.StateVersion(42)] = map[string][]byte{string(kv.SubstateKeyCodec{}.EncodeKey(key)): []byte("100")}
	v, ok, err := view.Get(nil, ledger.PartitionKey{NodeKey: key.NodeKey, PartitionNum: key.PartitionNum}, key.SortKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("100"), v)
}
