package mempool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreledger/corestate/pkg/config"
	"github.com/coreledger/corestate/pkg/ledger"
	"github.com/coreledger/corestate/pkg/notify"
)

func TestListener_RemovesCommittedIntentsAndUpdatesCache(t *testing.T) {
	pool := New(config.MempoolConfig{MaxTransactionCount: 10, MaxTotalTransactionsSize: 1 << 20})
	cache, err := NewPendingResultCache(64, 64)
	require.NoError(t, err)

	now := time.Unix(0, 0)
	intent := hashFor(0xAA)
	tx := txn(1, 5, 10)
	tx.IntentHash = intent
	_, err = pool.AddTransaction(tx, now)
	require.NoError(t, err)
	require.Equal(t, 1, pool.Len())

	broker := notify.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	listener := &Listener{Mempool: pool, Cache: cache}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Run(ctx, sub)

	broker.Publish(notify.CommitCompleted{
		StateVersion:          ledger.StateVersion(9),
		CommittedIntentHashes: []ledger.Hash{intent},
	})

	require.Eventually(t, func() bool {
		return pool.Len() == 0
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		rec, ok := cache.GetPendingTransactionRecord(intent, tx.PayloadHash, ledger.Epoch(0))
		return ok && rec.LastOutcome == OutcomeIntentHashCommitted
	}, time.Second, time.Millisecond)

	assert.Equal(t, 0, pool.Len())
}
