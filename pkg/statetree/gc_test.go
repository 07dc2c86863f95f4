package statetree

import (
	"testing"

	"github.com/coreledger/corestate/pkg/kv"
	"github.com/coreledger/corestate/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGC_PostOrderSubtreeCrashResume covers spec §8 scenario 3: a
// partition reset records a Subtree stale part, a GC run past the horizon
// succeeds, a second run over the already-cleaned horizon also succeeds,
// and afterwards no stale-part list remains below the horizon.
func TestGC_PostOrderSubtreeCrashResume(t *testing.T) {
	store := openTestStore(t)
	tree := NewTree()
	partition := ledger.PartitionKey{NodeKey: []byte("acct-1"), PartitionNum: 0}
	fieldA := ledger.SubstateKey{NodeKey: partition.NodeKey, PartitionNum: partition.PartitionNum, SortKey: []byte("a")}
	fieldB := ledger.SubstateKey{NodeKey: partition.NodeKey, PartitionNum: partition.PartitionNum, SortKey: []byte("b")}

	err := store.Update(func(batch *kv.Batch) error {
		_, err := tree.Put(batch, ledger.PreGenesis, ledger.StateVersion(1), []Update{
			{Key: fieldA, Value: []byte("1")},
			{Key: fieldB, Value: []byte("2")},
		})
		return err
	})
	require.NoError(t, err)

	var resetResult CommitResult
	err = store.Update(func(batch *kv.Batch) error {
		var err error
		resetResult, err = tree.ResetPartition(batch, ledger.StateVersion(1), ledger.StateVersion(2), partition, map[string][]byte{
			"c": []byte("3"),
		})
		return err
	})
	require.NoError(t, err)
	require.NotEmpty(t, resetResult.StaleParts)

	// Advance enough versions that version 2's stale-part list (recorded
	// by the reset commit) falls below the retained horizon.
	gc := NewGC(store, tree, Config{IntervalSeconds: 1, HistoryLength: 1})
	err = store.Update(func(batch *kv.Batch) error {
		if _, err := tree.Put(batch, ledger.StateVersion(2), ledger.StateVersion(3), nil); err != nil {
			return err
		}
		_, err := tree.Put(batch, ledger.StateVersion(3), ledger.StateVersion(4), nil)
		return err
	})
	require.NoError(t, err)

	require.NoError(t, gc.Run())

	// A second run over an already-clean horizon must be a no-op, not an
	// error — simulating resumption after a crash mid previous run.
	require.NoError(t, gc.Run())

	err = store.View(func(snap *kv.Snapshot) error {
		versions, err := staleVersionsBelow(snap, ledger.StateVersion(4))
		require.NoError(t, err)
		assert.Empty(t, versions, "gc must clear every stale-part list below the horizon")
		return nil
	})
	require.NoError(t, err)
}

func TestGC_NoOpBelowHistoryLength(t *testing.T) {
	store := openTestStore(t)
	tree := NewTree()
	gc := NewGC(store, tree, Config{IntervalSeconds: 1, HistoryLength: 100})

	key := ledger.SubstateKey{NodeKey: []byte("acct-1"), PartitionNum: 0, SortKey: []byte("a")}
	err := store.Update(func(batch *kv.Batch) error {
		_, err := tree.Put(batch, ledger.PreGenesis, ledger.StateVersion(1), []Update{{Key: key, Value: []byte("1")}})
		return err
	})
	require.NoError(t, err)

	require.NoError(t, gc.Run())

	err = store.View(func(snap *kv.Snapshot) error {
		v, ok, err := tree.LeafValue(snap, ledger.StateVersion(1), key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("1"), v)
		return nil
	})
	require.NoError(t, err)
}
