package mempool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreledger/corestate/pkg/config"
	"github.com/coreledger/corestate/pkg/ledger"
)

func hashFor(b byte) ledger.Hash {
	var h ledger.Hash
	h[0] = b
	return h
}

func txn(payload byte, tip uint32, size int) NewTransaction {
	return NewTransaction{
		PayloadHash:   hashFor(payload),
		IntentHash:    hashFor(payload),
		NotarizedHash: hashFor(payload),
		Raw:           make([]byte, size),
		TipPercentage: tip,
		EndEpoch:      ledger.Epoch(100),
		Source:        SourceGossip,
	}
}

func TestAddTransaction_AdmitsWhenRoomAvailable(t *testing.T) {
	m := New(config.MempoolConfig{MaxTransactionCount: 10, MaxTotalTransactionsSize: 1 << 20})

	evicted, err := m.AddTransaction(txn(1, 5, 10), time.Unix(0, 0))
	require.NoError(t, err)
	assert.Empty(t, evicted)
	assert.Equal(t, 1, m.Len())
}

func TestAddTransaction_DuplicatePayloadPanics(t *testing.T) {
	m := New(config.MempoolConfig{MaxTransactionCount: 10, MaxTotalTransactionsSize: 1 << 20})
	now := time.Unix(0, 0)

	_, err := m.AddTransaction(txn(1, 5, 10), now)
	require.NoError(t, err)

	assert.Panics(t, func() {
		_, _ = m.AddTransaction(txn(1, 9, 10), now)
	})
}

func TestAddTransaction_PriorityEvictionTieBreak(t *testing.T) {
	m := New(config.MempoolConfig{MaxTransactionCount: 2, MaxTotalTransactionsSize: 1 << 20})
	now := time.Unix(0, 0)

	low := txn(1, 1, 10)
	alsoLow := txn(2, 1, 10)
	_, err := m.AddTransaction(low, now)
	require.NoError(t, err)
	_, err = m.AddTransaction(alsoLow, now)
	require.NoError(t, err)

	// A strictly higher-tip transaction must evict the single worst
	// entry among the two lowest-priority occupants (count ceiling is 2,
	// so exactly one must go to make room).
	high := txn(3, 10, 10)
	evicted, err := m.AddTransaction(high, now)
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	assert.Equal(t, 2, m.Len())

	// A transaction with a tip that does not beat the worst candidate
	// that would need to be evicted is rejected with a minimum tip hint.
	insufficient := txn(4, 1, 10)
	_, err = m.AddTransaction(insufficient, now)
	require.Error(t, err)
	var thresholdErr *PriorityThresholdNotMetError
	require.ErrorAs(t, err, &thresholdErr)
	require.NotNil(t, thresholdErr.MinTipRequired)
	assert.Equal(t, uint32(2), *thresholdErr.MinTipRequired)
}

func TestRemoveByIntentHash_RemovesAllSharedPayloads(t *testing.T) {
	m := New(config.MempoolConfig{MaxTransactionCount: 10, MaxTotalTransactionsSize: 1 << 20})
	now := time.Unix(0, 0)

	shared := txn(1, 5, 10)
	shared.IntentHash = hashFor(0xAA)
	second := txn(2, 5, 10)
	second.IntentHash = hashFor(0xAA)

	_, err := m.AddTransaction(shared, now)
	require.NoError(t, err)
	_, err = m.AddTransaction(second, now)
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())

	m.RemoveByIntentHash(hashFor(0xAA))
	assert.Equal(t, 0, m.Len())
}

func TestRemoveTxnsWhereEndEpochExpired(t *testing.T) {
	m := New(config.MempoolConfig{MaxTransactionCount: 10, MaxTotalTransactionsSize: 1 << 20})
	now := time.Unix(0, 0)

	expiring := txn(1, 5, 10)
	expiring.EndEpoch = ledger.Epoch(5)
	stillValid := txn(2, 5, 10)
	stillValid.EndEpoch = ledger.Epoch(50)

	_, err := m.AddTransaction(expiring, now)
	require.NoError(t, err)
	_, err = m.AddTransaction(stillValid, now)
	require.NoError(t, err)

	removed := m.RemoveTransactionsWhereEndEpochExpired(ledger.Epoch(10))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, m.Len())
}

func TestGetProposalTransactions_OrdersByPriorityAndRespectsBudget(t *testing.T) {
	m := New(config.MempoolConfig{MaxTransactionCount: 10, MaxTotalTransactionsSize: 1 << 20})
	now := time.Unix(0, 0)

	_, err := m.AddTransaction(txn(1, 1, 10), now)
	require.NoError(t, err)
	_, err = m.AddTransaction(txn(2, 9, 10), now)
	require.NoError(t, err)
	_, err = m.AddTransaction(txn(3, 5, 10), now)
	require.NoError(t, err)

	selected := m.GetProposalTransactions(2, 1<<20, nil)
	require.Len(t, selected, 2)
	assert.Equal(t, hashFor(2), selected[0].PayloadHash, "highest tip proposed first")
	assert.Equal(t, hashFor(3), selected[1].PayloadHash)
}

func TestGetKRandomTransactions_ReturnsDistinctEntriesUpToPoolSize(t *testing.T) {
	m := New(config.MempoolConfig{MaxTransactionCount: 10, MaxTotalTransactionsSize: 1 << 20})
	now := time.Unix(0, 0)

	for i := byte(1); i <= 5; i++ {
		_, err := m.AddTransaction(txn(i, uint32(i), 10), now)
		require.NoError(t, err)
	}

	sample := m.GetKRandomTransactions(3)
	require.Len(t, sample, 3)
	seen := make(map[ledger.Hash]struct{})
	for _, e := range sample {
		seen[e.PayloadHash] = struct{}{}
	}
	assert.Len(t, seen, 3, "sample without replacement must not repeat entries")

	full := m.GetKRandomTransactions(100)
	assert.Len(t, full, 5, "k >= pool size returns the whole pool")
}
