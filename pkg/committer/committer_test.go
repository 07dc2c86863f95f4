package committer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreledger/corestate/pkg/accumulator"
	"github.com/coreledger/corestate/pkg/execution"
	"github.com/coreledger/corestate/pkg/kv"
	"github.com/coreledger/corestate/pkg/ledger"
	"github.com/coreledger/corestate/pkg/notify"
)

// fakeExecutor is a minimal execution.SeriesExecutor test double, grounded
// on pkg/execution's own nullExecutor: it returns a commit with an empty
// substate diff and a receipt hash equal to the transaction's ledger hash,
// and never rejects, so these tests can focus on the
// Committer's invariant checks rather than execution semantics.
type fakeExecutor struct {
	version ledger.StateVersion
	hashes  ledger.LedgerHashes
}

func (e *fakeExecutor) LatestStateVersion() ledger.StateVersion { return e.version }
func (e *fakeExecutor) LatestLedgerHashes() ledger.LedgerHashes { return e.hashes }
func (e *fakeExecutor) EpochHeader() ledger.LedgerHeader        { return ledger.LedgerHeader{} }

func (e *fakeExecutor) ExecuteAndUpdateState(_ context.Context, tx execution.ValidatedTransaction) (*execution.ProcessedCommitResult, *execution.ProcessedRejectResult, error) {
	commit := &execution.ProcessedCommitResult{ReceiptHash: tx.Prepared.Identifiers.LedgerHash}
	next, err := e.version.Next()
	if err != nil {
		return nil, nil, err
	}
	e.version = next
	e.hashes = ledger.LedgerHashes{StateRoot: commit.ReceiptHash}
	return commit, nil, nil
}

func (e *fakeExecutor) ExecuteNoStateUpdate(ctx context.Context, tx execution.ValidatedTransaction) (*execution.ProcessedCommitResult, *execution.ProcessedRejectResult, error) {
	return &execution.ProcessedCommitResult{ReceiptHash: tx.Prepared.Identifiers.LedgerHash}, nil, nil
}

func (e *fakeExecutor) UpdateState(commit execution.ProcessedCommitResult) error { return nil }

func (e *fakeExecutor) CaptureNextEngineReceipt() ledger.Hash { return ledger.ZeroHash }
func (e *fakeExecutor) RetrieveCapturedEngineReceipt() (ledger.Hash, bool) {
	return ledger.ZeroHash, false
}

func (e *fakeExecutor) StartCommitBuilder() execution.CommitBuilder { return execution.NewCommitBuilder() }

func (e *fakeExecutor) FinalizeSeries(_ string) (execution.EndState, error) {
	return execution.EndState{StateVersion: e.version, LedgerHashes: e.hashes}, nil
}

func (e *fakeExecutor) PeekEndState() execution.EndState {
	return execution.EndState{StateVersion: e.version, LedgerHashes: e.hashes}
}

func openTestDeps(t *testing.T) (*Deps, *fakeExecutor) {
	t.Helper()
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cache, err := execution.NewCache(16)
	require.NoError(t, err)

	exec := &fakeExecutor{version: ledger.PreGenesis}
	broker := notify.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return &Deps{
		Store:           store,
		Executor:        exec,
		Cache:           cache,
		TransactionAccu: accumulator.NewTransactionAccumulator(),
		ReceiptAccu:     accumulator.NewReceiptAccumulator(),
		Broker:          broker,
	}, exec
}

func rawUserTxn(payload string) []byte {
	return append([]byte{0x00}, []byte(payload)...)
}

func proofFor(version ledger.StateVersion, transactionRoot ledger.Hash) ledger.LedgerProof {
	return ledger.LedgerProof{
		LedgerHeader: ledger.LedgerHeader{
			StateVersion: version,
			Hashes:       ledger.LedgerHashes{TransactionRoot: transactionRoot},
		},
	}
}

func TestCommit_AppliesTransactionsAndAdvancesVersion(t *testing.T) {
	deps, _ := openTestDeps(t)

	txn := rawUserTxn("payload")
	leafHash := ledger.LedgerTransaction{Kind: ledger.KindUser, Raw: txn}.LedgerHash()
	root := accumulator.AppendLeaves(accumulator.Frontier{}, []ledger.Hash{leafHash}).Frontier.Root()

	summary, err := deps.Commit(context.Background(), CommitRequest{
		Transactions: [][]byte{txn},
		Proof:        proofFor(1, root),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NumUserTransactions)
	assert.Equal(t, ledger.StateVersion(1), deps.Executor.LatestStateVersion())
}

func TestCommit_TransactionRootMismatchIsRejected(t *testing.T) {
	deps, _ := openTestDeps(t)

	txn := rawUserTxn("payload")
	wrongRoot := ledger.HashBytes([]byte("not-the-real-root"))

	_, err := deps.Commit(context.Background(), CommitRequest{
		Transactions: [][]byte{txn},
		Proof:        proofFor(1, wrongRoot),
	})
	require.Error(t, err)

	var invalidErr *InvalidCommitRequestError
	require.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, TransactionRootMismatch, invalidErr.Kind)
	assert.Equal(t, ledger.PreGenesis, deps.Executor.LatestStateVersion(), "a rejected commit must not advance state")
}

func TestCommit_EmptyPayloadFailsParsing(t *testing.T) {
	deps, _ := openTestDeps(t)

	_, err := deps.Commit(context.Background(), CommitRequest{
		Transactions: [][]byte{{}},
		Proof:        proofFor(1, ledger.ZeroHash),
	})
	require.Error(t, err)

	var invalidErr *InvalidCommitRequestError
	require.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, TransactionParsingFailed, invalidErr.Kind)
}

func TestCommit_SecondBatchChainsOffFirstVersion(t *testing.T) {
	deps, _ := openTestDeps(t)

	first := rawUserTxn("one")
	firstLeaf := ledger.LedgerTransaction{Kind: ledger.KindUser, Raw: first}.LedgerHash()
	firstSlice := accumulator.AppendLeaves(accumulator.Frontier{}, []ledger.Hash{firstLeaf})

	_, err := deps.Commit(context.Background(), CommitRequest{
		Transactions: [][]byte{first},
		Proof:        proofFor(1, firstSlice.Frontier.Root()),
	})
	require.NoError(t, err)

	second := rawUserTxn("two")
	secondLeaf := ledger.LedgerTransaction{Kind: ledger.KindUser, Raw: second}.LedgerHash()
	secondSlice := accumulator.AppendLeaves(firstSlice.Frontier, []ledger.Hash{secondLeaf})

	summary, err := deps.Commit(context.Background(), CommitRequest{
		Transactions: [][]byte{second},
		Proof:        proofFor(2, secondSlice.Frontier.Root()),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NumUserTransactions)
	assert.Equal(t, ledger.StateVersion(2), deps.Executor.LatestStateVersion())
}
