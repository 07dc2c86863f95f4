package accumulator

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

func leafHash(b byte) ledger.Hash {
	return ledger.HashConcat([]byte{b})
}

func TestAppendLeaves_SingleLeafRootIsTheLeafItself(t *testing.T) {
	slice := AppendLeaves(Frontier{}, []ledger.Hash{leafHash(1)})
	assert.Equal(t, leafHash(1), slice.Frontier.Root())
	assert.Empty(t, slice.NewInternal)
	assert.Equal(t, uint64(1), slice.Frontier.LeafCount)
}

func TestAppendLeaves_TwoLeavesMergeIntoOnePeak(t *testing.T) {
	slice := AppendLeaves(Frontier{}, []ledger.Hash{leafHash(1), leafHash(2)})
	require.Len(t, slice.Frontier.Peaks, 1)
	assert.Len(t, slice.NewInternal, 1)
	assert.Equal(t, slice.Frontier.Peaks[0], slice.Frontier.Root())
	assert.Equal(t, ledger.HashConcat(leafHash(1)[:], leafHash(2)[:]), slice.Frontier.Root())
}

func TestAppendLeaves_RootStableAcrossIncrementalVsBatchAppend(t *testing.T) {
	leaves := []ledger.Hash{leafHash(1), leafHash(2), leafHash(3), leafHash(4), leafHash(5)}

	batch := AppendLeaves(Frontier{}, leaves)

	incremental := Frontier{}
	for _, l := range leaves {
		incremental = AppendLeaves(incremental, []ledger.Hash{l}).Frontier
	}

	assert.Equal(t, batch.Frontier.Root(), incremental.Root())
	assert.Equal(t, batch.Frontier.LeafCount, incremental.LeafCount)
}

func TestAccumulator_AppendPersistsAndResumesFromParentVersion(t *testing.T) {
	store := openTestStore(t)
	acc := NewTransactionAccumulator()

	var rootV1, rootV2 ledger.Hash
	err := store.Update(func(batch *kv.Batch) error {
		var err error
		rootV1, err = acc.Append(batch, ledger.PreGenesis, ledger.StateVersion(1), []ledger.Hash{leafHash(1)})
		if err != nil {
			return err
		}
		rootV2, err = acc.Append(batch, ledger.StateVersion(1), ledger.StateVersion(2), []ledger.Hash{leafHash(2)})
		return err
	})
	require.NoError(t, err)
	assert.NotEqual(t, rootV1, rootV2)

	err = store.View(func(snap *kv.Snapshot) error {
		got1, ok, err := acc.Root(snap, ledger.StateVersion(1))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, rootV1, got1)

		got2, ok, err := acc.Root(snap, ledger.StateVersion(2))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, rootV2, got2)
		return nil
	})
	require.NoError(t, err)
}

func TestAccumulator_ResetAtEpochStartsFreshFrontier(t *testing.T) {
	store := openTestStore(t)
	acc := NewReceiptAccumulator()

	err := store.Update(func(batch *kv.Batch) error {
		if _, err := acc.Append(batch, ledger.PreGenesis, ledger.StateVersion(1), []ledger.Hash{leafHash(9), leafHash(8)}); err != nil {
			return err
		}
		return acc.ResetAtEpoch(batch, ledger.StateVersion(2))
	})
	require.NoError(t, err)

	var rootAfterReset ledger.Hash
	err = store.Update(func(batch *kv.Batch) error {
		var err error
		rootAfterReset, err = acc.Append(batch, ledger.StateVersion(2), ledger.StateVersion(3), []ledger.Hash{leafHash(1)})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, leafHash(1), rootAfterReset, "first append after an epoch reset must start from an empty frontier")
}
