package mempool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreledger/corestate/pkg/execution"
	"github.com/coreledger/corestate/pkg/ledger"
	"github.com/coreledger/corestate/pkg/preparator"
)

func TestTrackTransactionResult_TemporaryRejectionSetsRecalculationDue(t *testing.T) {
	cache, err := NewPendingResultCache(64, 64)
	require.NoError(t, err)

	intent := hashFor(1)
	payload := hashFor(2)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }

	cache.TrackTransactionResult(intent, payload, preparator.ExecutionAttempt{
		Kind:         preparator.AttemptFromExecution,
		RejectReason: execution.RejectFeeLoanNotRepaid,
	})

	rec, ok := cache.byPayload.Get(payload)
	require.True(t, ok)
	assert.Equal(t, OutcomeFeeLoanNotRepaid, rec.LastOutcome)
	assert.Nil(t, rec.EarliestPermanentRejection)
	require.NotNil(t, rec.RecalculationDue)
	assert.True(t, rec.RecalculationDue.After(now))
}

func TestRecalculationBackoff(t *testing.T) {
	cache, err := NewPendingResultCache(64, 64)
	require.NoError(t, err)

	intent := hashFor(1)
	payload := hashFor(2)
	base := time.Unix(1000, 0)
	cache.now = func() time.Time { return base }

	attempt := preparator.ExecutionAttempt{Kind: preparator.AttemptFromExecution, RejectReason: execution.RejectFeeLoanNotRepaid}

	cache.TrackTransactionResult(intent, payload, attempt)
	first, _ := cache.byPayload.Get(payload)
	firstDelay := first.RecalculationDue.Sub(base)

	cache.TrackTransactionResult(intent, payload, attempt)
	second, _ := cache.byPayload.Get(payload)
	secondDelay := second.RecalculationDue.Sub(base)

	assert.Greater(t, secondDelay, firstDelay, "each successive temporary rejection doubles the recalculation delay")
	assert.LessOrEqual(t, secondDelay, maxRecalculationDelay, "delay must clamp to MAX_RECALCULATION_DELAY")

	// Enough repeated rejections must saturate at the ceiling.
	for i := 0; i < 10; i++ {
		cache.TrackTransactionResult(intent, payload, attempt)
	}
	saturated, _ := cache.byPayload.Get(payload)
	assert.Equal(t, maxRecalculationDelay, saturated.RecalculationDue.Sub(base))
}

func TestTrackTransactionResult_PermanentRejectionNeverResets(t *testing.T) {
	cache, err := NewPendingResultCache(64, 64)
	require.NoError(t, err)

	intent := hashFor(1)
	payload := hashFor(2)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }

	cache.TrackTransactionResult(intent, payload, preparator.ExecutionAttempt{
		Kind:         preparator.AttemptFromExecution,
		RejectReason: execution.RejectEpochNoLongerOK,
	})
	first, ok := cache.byPayload.Get(payload)
	require.True(t, ok)
	require.NotNil(t, first.EarliestPermanentRejection)
	assert.Equal(t, OutcomeEpochNoLongerValid, *first.EarliestPermanentRejection)
	assert.Nil(t, first.RecalculationDue)

	// A later temporary-looking attempt must not reset the earliest
	// permanent rejection or revive a recalculation_due.
	cache.TrackTransactionResult(intent, payload, preparator.ExecutionAttempt{
		Kind:         preparator.AttemptFromExecution,
		RejectReason: execution.RejectFeeLoanNotRepaid,
	})
	second, ok := cache.byPayload.Get(payload)
	require.True(t, ok)
	require.NotNil(t, second.EarliestPermanentRejection)
	assert.Equal(t, OutcomeEpochNoLongerValid, *second.EarliestPermanentRejection)
	assert.Nil(t, second.RecalculationDue)
}

func TestTrackCommittedTransactions_RejectsSharedPayloadsAsIntentHashCommitted(t *testing.T) {
	cache, err := NewPendingResultCache(64, 64)
	require.NoError(t, err)

	intent := hashFor(1)
	payload := hashFor(2)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }

	cache.TrackTransactionResult(intent, payload, preparator.ExecutionAttempt{
		Kind:         preparator.AttemptFromExecution,
		RejectReason: execution.RejectFeeLoanNotRepaid,
	})

	cache.TrackCommittedTransactions(now, ledger.StateVersion(7), []ledger.Hash{intent})

	rec, ok := cache.byPayload.Get(payload)
	require.True(t, ok)
	assert.Equal(t, OutcomeIntentHashCommitted, rec.LastOutcome)
	assert.Nil(t, rec.RecalculationDue)
}

func TestGetPendingTransactionRecord_SynthesizesFromCommittedIntent(t *testing.T) {
	cache, err := NewPendingResultCache(64, 64)
	require.NoError(t, err)

	intent := hashFor(5)
	now := time.Unix(1000, 0)
	cache.TrackCommittedTransactions(now, ledger.StateVersion(3), []ledger.Hash{intent})

	rec, ok := cache.GetPendingTransactionRecord(intent, hashFor(99), ledger.Epoch(0))
	require.True(t, ok)
	assert.Equal(t, OutcomeIntentHashCommitted, rec.LastOutcome)
}
