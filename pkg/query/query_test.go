package query

import (
	"testing"

	"github.com/coreledger/corestate/pkg/kv"
	"github.com/coreledger/corestate/pkg/ledger"
	"github.com/coreledger/corestate/pkg/statetree"
	"github.com/coreledger/corestate/pkg/substate"
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

func TestQuerier_TopOfLedgerReadsCFSubstatesDirectly(t *testing.T) {
	store := openTestStore(t)
	partition := ledger.PartitionKey{NodeKey: []byte("acct-1"), PartitionNum: 0}

	err := store.Update(func(batch *kv.Batch) error {
		var diff ledger.SubstateDiff
		diff.AddDelta(partition, []byte("balance"), ledger.SetUpdate([]byte("100")))
		return substate.ApplyDiff(batch, diff)
	})
	require.NoError(t, err)

	q := NewQuerier(store)
	view, snap, err := q.TopOfLedger()
	require.NoError(t, err)
	defer snap.Close()

	v, ok, err := view.Get(partition, []byte("balance"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("100"), v)
}

func TestQuerier_AtResolvesThroughStateHashTree(t *testing.T) {
	store := openTestStore(t)
	partition := ledger.PartitionKey{NodeKey: []byte("acct-1"), PartitionNum: 0}
	key := ledger.SubstateKey{NodeKey: partition.NodeKey, PartitionNum: partition.PartitionNum, SortKey: []byte("balance")}

	tree := statetree.NewTree()
	err := store.Update(func(batch *kv.Batch) error {
		_, err := tree.Put(batch, ledger.PreGenesis, ledger.StateVersion(1), []statetree.Update{
			{Key: key, Value: []byte("100")},
		})
		return err
	})
	require.NoError(t, err)

	q := NewQuerier(store)
	view, snap, err := q.At(ledger.StateVersion(1))
	require.NoError(t, err)
	defer snap.Close()

	assert.Equal(t, ledger.StateVersion(1), view.Version())
	v, ok, err := view.Get(snap, partition, []byte("balance"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("100"), v)
}
