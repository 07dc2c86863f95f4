package execution

import (
	"context"
	"testing"

	"github.com/coreledger/corestate/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nullExecutor is a minimal SeriesExecutor test double: it writes one
// substate entry per transaction (keyed by the transaction's ledger
// hash) and rejects empty-payload transactions. Grounded on the
// teacher's pattern of small in-package fakes over a transaction's
// components (metrics_collector.go calls manager methods directly
// rather than mocking an interface) — there is no engine to mock against
// here, so the double plays the engine's role directly.
type nullExecutor struct {
	version ledger.StateVersion
	hashes  ledger.LedgerHashes
	pending *ProcessedCommitResult
}

func newNullExecutor() *nullExecutor {
	return &nullExecutor{version: ledger.PreGenesis}
}

func (e *nullExecutor) LatestStateVersion() ledger.StateVersion { return e.version }
func (e *nullExecutor) LatestLedgerHashes() ledger.LedgerHashes { return e.hashes }
func (e *nullExecutor) EpochHeader() ledger.LedgerHeader        { return ledger.LedgerHeader{} }

func (e *nullExecutor) execute(tx ValidatedTransaction) (*ProcessedCommitResult, *ProcessedRejectResult, error) {
	if len(tx.Prepared.Raw.Raw) == 0 {
		return nil, &ProcessedRejectResult{Reason: RejectErrorBeforeLoan, Detail: "empty payload"}, nil
	}
	key := ledger.SubstateKey{NodeKey: []byte("null-executor"), PartitionNum: 0, SortKey: tx.Prepared.Identifiers.LedgerHash[:]}
	diff := ledger.SubstateDiff{}
	diff.AddDelta(ledger.PartitionKey{NodeKey: key.NodeKey, PartitionNum: key.PartitionNum}, key.SortKey, ledger.SetUpdate(tx.Prepared.Raw.Raw))
	return &ProcessedCommitResult{
		Diff:        diff,
		ReceiptHash: tx.Prepared.Identifiers.LedgerHash,
		FeeSummary:  ledger.ReceiptFeeSummary{ExecutionCostUnitsConsumed: uint64(len(tx.Prepared.Raw.Raw))},
	}, nil, nil
}

func (e *nullExecutor) ExecuteAndUpdateState(_ context.Context, tx ValidatedTransaction) (*ProcessedCommitResult, *ProcessedRejectResult, error) {
	commit, reject, err := e.execute(tx)
	if err != nil || reject != nil {
		return nil, reject, err
	}
	return commit, nil, e.UpdateState(*commit)
}

func (e *nullExecutor) ExecuteNoStateUpdate(_ context.Context, tx ValidatedTransaction) (*ProcessedCommitResult, *ProcessedRejectResult, error) {
	return e.execute(tx)
}

func (e *nullExecutor) UpdateState(commit ProcessedCommitResult) error {
	next, err := e.version.Next()
	if err != nil {
		return err
	}
	e.version = next
	e.hashes = ledger.LedgerHashes{StateRoot: commit.ReceiptHash}
	return nil
}

func (e *nullExecutor) CaptureNextEngineReceipt() ledger.Hash { return ledger.ZeroHash }
func (e *nullExecutor) RetrieveCapturedEngineReceipt() (ledger.Hash, bool) {
	return ledger.ZeroHash, false
}

func (e *nullExecutor) StartCommitBuilder() CommitBuilder { return newBasicCommitBuilder() }

func (e *nullExecutor) FinalizeSeries(_ string) (EndState, error) {
	return EndState{StateVersion: e.version, LedgerHashes: e.hashes}, nil
}

func (e *nullExecutor) PeekEndState() EndState {
	return EndState{StateVersion: e.version, LedgerHashes: e.hashes}
}

func transactionFor(payload string) ValidatedTransaction {
	raw := ledger.LedgerTransaction{Kind: ledger.KindUser, Raw: []byte(payload)}
	return ValidatedTransaction{Prepared: ledger.PreparedLedgerTransaction{
		Raw:         raw,
		Identifiers: ledger.TransactionIdentifiers{LedgerHash: raw.LedgerHash()},
	}}
}

func TestNullExecutor_CommitAdvancesStateVersion(t *testing.T) {
	exec := newNullExecutor()
	commit, reject, err := exec.ExecuteAndUpdateState(context.Background(), transactionFor("payload"))
	require.NoError(t, err)
	require.Nil(t, reject)
	require.NotNil(t, commit)
	assert.Equal(t, ledger.StateVersion(1), exec.LatestStateVersion())
}

func TestNullExecutor_EmptyPayloadRejects(t *testing.T) {
	exec := newNullExecutor()
	commit, reject, err := exec.ExecuteNoStateUpdate(context.Background(), transactionFor(""))
	require.NoError(t, err)
	assert.Nil(t, commit)
	require.NotNil(t, reject)
	assert.Equal(t, RejectErrorBeforeLoan, reject.Reason)
}

func TestCache_LookupMissesUntilStored(t *testing.T) {
	cache, err := NewCache(16)
	require.NoError(t, err)

	parent := ledger.HashBytes([]byte("parent"))
	digest := Digest([]ledger.Hash{ledger.HashBytes([]byte("tx1"))})

	_, ok := cache.Lookup(parent, digest)
	assert.False(t, ok)

	cache.ProgressBase(parent)
	result := Result{Commit: &ProcessedCommitResult{ReceiptHash: ledger.HashBytes([]byte("receipt"))}}
	cache.Store(parent, digest, result)

	got, ok := cache.Lookup(parent, digest)
	require.True(t, ok)
	assert.Equal(t, result.Commit.ReceiptHash, got.Commit.ReceiptHash)
}

func TestCache_ProgressBaseInvalidatesPriorEntries(t *testing.T) {
	cache, err := NewCache(16)
	require.NoError(t, err)

	parentA := ledger.HashBytes([]byte("a"))
	digest := Digest([]ledger.Hash{ledger.HashBytes([]byte("tx1"))})

	cache.ProgressBase(parentA)
	cache.Store(parentA, digest, Result{Commit: &ProcessedCommitResult{}})

	parentB := ledger.HashBytes([]byte("b"))
	cache.ProgressBase(parentB)

	_, ok := cache.Lookup(parentA, digest)
	assert.False(t, ok, "rotating the progress base must drop entries keyed against the old base")
}
