// Package execution defines the narrow seam between this repository and
// an external execution engine (VM, cost model, schema resolution — all
// out of scope per spec §1). SeriesExecutor is the capability interface
// the Committer and Preparator drive; Cache memoizes its results, which
// the Committer looks up only to count hits and misses: it executes every
// transaction of a batch whether or not the lookup hits.
package execution

import (
	"context"

	"github.com/coreledger/corestate/pkg/ledger"
)

// ValidatedTransaction is a transaction that has passed the ledger
// transaction validator and is ready for execution. The validator itself
// lives outside this repository; SeriesExecutor only consumes its output.
type ValidatedTransaction struct {
	Prepared ledger.PreparedLedgerTransaction
	Label    string
}

// RejectReason discriminates why execute_and_update_state or
// execute_no_state_update declined a transaction (spec §4.H rejection
// table feeds from this).
type RejectReason string

const (
	RejectFeeLoanNotRepaid  RejectReason = "fee_loan_not_repaid"
	RejectErrorBeforeLoan   RejectReason = "error_before_fee_loan"
	RejectEpochNotYetValid  RejectReason = "epoch_not_yet_valid"
	RejectEpochNoLongerOK   RejectReason = "epoch_no_longer_valid"
	RejectExecutionTooLong  RejectReason = "execution_took_too_long"
)

// ProcessedRejectResult is returned when execution declines a
// transaction. It never advances state.
type ProcessedRejectResult struct {
	Reason RejectReason
	Detail string
}

// ProcessedCommitResult is the successful outcome of executing one
// transaction: the substate diff it produced, its receipt identity, and
// the fee summary the Preparator's vertex-limit accounting needs.
type ProcessedCommitResult struct {
	Diff        ledger.SubstateDiff
	ReceiptHash ledger.Hash
	FeeSummary  ledger.ReceiptFeeSummary
}

// EndState is returned by FinalizeSeries: the resulting ledger position
// and whatever epoch/protocol transition the series produced.
type EndState struct {
	StateVersion        ledger.StateVersion
	LedgerHashes        ledger.LedgerHashes
	EpochChange         *ledger.NextEpoch
	NextProtocolVersion *ledger.ProtocolVersion
}

// SeriesExecutor drives a sequence of validated transactions against a
// point-in-time database snapshot (spec §4.E). Defined as a narrow
// capability interface, not a trait-object hierarchy, per DESIGN NOTES
// §9: callers depend only on the handful of methods they actually use.
type SeriesExecutor interface {
	LatestStateVersion() ledger.StateVersion
	LatestLedgerHashes() ledger.LedgerHashes
	EpochHeader() ledger.LedgerHeader

	ExecuteAndUpdateState(ctx context.Context, tx ValidatedTransaction) (*ProcessedCommitResult, *ProcessedRejectResult, error)
	ExecuteNoStateUpdate(ctx context.Context, tx ValidatedTransaction) (*ProcessedCommitResult, *ProcessedRejectResult, error)
	UpdateState(commit ProcessedCommitResult) error

	CaptureNextEngineReceipt() ledger.Hash
	RetrieveCapturedEngineReceipt() (ledger.Hash, bool)

	StartCommitBuilder() CommitBuilder
	FinalizeSeries(situation string) (EndState, error)

	// PeekEndState reports the epoch/protocol-version transition implied
	// by transactions applied so far, without ending the series. The
	// Preparator polls this after each committed proposal (spec §4.G step
	// 4: "after each committed transaction, if next_protocol_version is
	// now set or epoch_change occurred, stop").
	PeekEndState() EndState
}

// CommitBuilder records, for each transaction of one commit batch, its
// substate diff and its receipt hash, for the Committer's single atomic
// write (spec §4.F step 6). It holds no hash-tree diffs, accumulator
// slices or node-ancestry deltas. Diffs and ReceiptHashes hand the record back
// to the Committer once the series has finished executing, in the order
// RecordDiff/RecordReceiptHash were called.
type CommitBuilder interface {
	RecordDiff(diff ledger.SubstateDiff)
	RecordReceiptHash(h ledger.Hash)

	Diffs() []ledger.SubstateDiff
	ReceiptHashes() []ledger.Hash
}
