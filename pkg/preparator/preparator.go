// Package preparator implements spec §4.G: building one speculative
// vertex of transactions against a committed baseline, for the consensus
// layer to propose. Grounded on the teacher's pkg/scheduler.Scheduler:
// a single-pass loop over candidate items that logs and skips a failing
// item rather than aborting the whole cycle, generalized from "schedule
// every service, continuing past per-service errors" into "admit every
// proposed transaction that fits the vertex budget, continuing past
// per-transaction rejections".
package preparator

import (
	"context"
	"fmt"

	"github.com/coreledger/corestate/pkg/config"
	"github.com/coreledger/corestate/pkg/execution"
	"github.com/coreledger/corestate/pkg/kv"
	"github.com/coreledger/corestate/pkg/ledger"
	corelog "github.com/coreledger/corestate/pkg/log"
	"github.com/coreledger/corestate/pkg/metrics"
)

// AttemptKind discriminates why an executed proposal is being fed to the
// pending-result cache (spec §4.G step 4).
type AttemptKind string

const (
	AttemptValidationError AttemptKind = "validation_error"
	AttemptFromExecution   AttemptKind = "from_execution"
)

// ExecutionAttempt is what the Preparator hands the mempool's
// pending-result cache after each proposed transaction is tried, whether
// it was rejected or admitted, so later recalculation scheduling (spec
// §4.H) can see how a transaction fared.
type ExecutionAttempt struct {
	Kind         AttemptKind
	RejectReason execution.RejectReason
	Detail       string
}

// ResultTracker is the narrow capability interface the mempool's
// PendingResultCache satisfies (DESIGN NOTES §9: depend on the method you
// use, not the whole mempool package) — kept here rather than imported so
// pkg/preparator has no compile-time dependency on pkg/mempool.
type ResultTracker interface {
	TrackTransactionResult(intentHash, payloadHash ledger.Hash, attempt ExecutionAttempt)
}

// RoundHistory carries what the synthesized round-update transaction
// needs: the round/epoch this vertex extends and the leader history
// since the last round update. The consensus round-advancement logic
// that produces this value is out of scope (spec §1); the Preparator
// only needs enough to build one round-update transaction payload.
type RoundHistory struct {
	Epoch     ledger.Epoch
	Round     ledger.Round
	GapRounds []ledger.Round
	Leader    string
}

func (h RoundHistory) encode() []byte {
	out := []byte{0x01}
	out = append(out, h.Epoch.Bytes()...)
	var roundBuf [8]byte
	for i := 0; i < 8; i++ {
		roundBuf[i] = byte(uint64(h.Round) >> (56 - 8*i))
	}
	out = append(out, roundBuf[:]...)
	out = append(out, byte(len(h.GapRounds)))
	for _, r := range h.GapRounds {
		var b [8]byte
		for i := 0; i < 8; i++ {
			b[i] = byte(uint64(r) >> (56 - 8*i))
		}
		out = append(out, b[:]...)
	}
	out = append(out, []byte(h.Leader)...)
	return out
}

// CommittedProposal is one proposed transaction the Preparator executed
// and admitted into the vertex.
type CommittedProposal struct {
	PayloadHash ledger.Hash
	IntentHash  ledger.Hash
	ReceiptHash ledger.Hash
}

// RejectedProposal is one proposed transaction the Preparator declined,
// along with why.
type RejectedProposal struct {
	PayloadHash ledger.Hash
	IntentHash  ledger.Hash
	Reason      string
}

// StopReason records why the Preparator stopped admitting proposals
// before exhausting the candidate list.
type StopReason string

const (
	StopProposalsExhausted  StopReason = "proposals_exhausted"
	StopVertexLimitReached  StopReason = "vertex_limit_reached"
	StopEpochChange         StopReason = "epoch_change"
	StopNextProtocolVersion StopReason = "next_protocol_version"
)

// PrepareRequest is spec §4.G's request: a committed baseline, the
// already-prepared ancestor transactions building on it, and the
// candidate proposals to try admitting.
type PrepareRequest struct {
	BaselineLedgerHashes ledger.LedgerHashes
	AncestorTransactions []execution.ValidatedTransaction
	AncestorLedgerHashes ledger.LedgerHashes
	Round                RoundHistory
	ProposedTransactions [][]byte
	Limits               config.VertexLimitsConfig
}

// PrepareResult is spec §4.G's response.
type PrepareResult struct {
	Committed           []CommittedProposal
	Rejected            []RejectedProposal
	NextEpoch           *ledger.NextEpoch
	NextProtocolVersion *ledger.ProtocolVersion
	LedgerHashes        ledger.LedgerHashes
	StopReason          StopReason
}

// vertexBudget tracks the four hard ceilings of spec §4.G against one
// vertex's accumulated admissions and rejections.
type vertexBudget struct {
	limits config.VertexLimitsConfig

	count             uint32
	totalSize         uint64
	totalCostConsumed uint64
	totalRejectedCost uint64
}

func (b *vertexBudget) fitsPreBudget(size uint64) bool {
	return b.count < b.limits.MaxTransactionCount &&
		b.totalSize+size <= uint64(b.limits.MaxTotalTransactionSize)
}

func (b *vertexBudget) fitsPostBudget(fee ledger.ReceiptFeeSummary) bool {
	return b.totalCostConsumed+fee.ExecutionCostUnitsConsumed <= b.limits.MaxTotalExecutionCostUnitsConsumed
}

func (b *vertexBudget) admit(size uint64, fee ledger.ReceiptFeeSummary) {
	b.count++
	b.totalSize += size
	b.totalCostConsumed += fee.ExecutionCostUnitsConsumed
}

// chargeRejection records a rejected transaction's cost against the
// rejected-cost ceiling, reporting whether the vertex is still within
// budget afterward.
func (b *vertexBudget) chargeRejection(fee ledger.ReceiptFeeSummary) bool {
	b.totalRejectedCost += fee.ExecutionCostUnitsConsumed
	return b.totalRejectedCost <= b.limits.MaxTotalRejectedExecutionCostUnits
}

func preparedTransaction(raw []byte, kind ledger.TransactionKind) ledger.PreparedLedgerTransaction {
	txn := ledger.LedgerTransaction{Kind: kind, Raw: raw}
	return ledger.PreparedLedgerTransaction{
		Raw:         txn,
		Identifiers: txn.IdentifiersFor(),
	}
}

func parseProposal(raw []byte) (ledger.PreparedLedgerTransaction, error) {
	if len(raw) == 0 {
		return ledger.PreparedLedgerTransaction{}, fmt.Errorf("empty transaction payload")
	}
	if raw[0] != 0x00 {
		return ledger.PreparedLedgerTransaction{}, fmt.Errorf("proposed transaction must be user kind, got tag %#x", raw[0])
	}
	return preparedTransaction(raw, ledger.KindUser), nil
}

// Prepare runs spec §4.G's full procedure: assert the baseline, replay
// ancestors, synthesize and execute the round-update transaction, then
// admit proposed user transactions one at a time until a vertex limit,
// an epoch change, or a protocol-version change stops it.
func Prepare(ctx context.Context, store *kv.Store, exec execution.SeriesExecutor, tracker ResultTracker, req PrepareRequest) (PrepareResult, error) {
	logger := corelog.WithComponent("preparator")
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PrepareDuration)

	// Step 1: the baseline must match what a committed read snapshot
	// would show. A mismatch means the caller is preparing against a
	// baseline this node never committed — an invariant violation.
	if exec.LatestLedgerHashes() != req.BaselineLedgerHashes {
		panic(fmt.Sprintf("preparator: baseline ledger hashes %+v do not match series_executor.latest_ledger_hashes() %+v",
			req.BaselineLedgerHashes, exec.LatestLedgerHashes()))
	}
	if err := store.View(func(*kv.Snapshot) error { return nil }); err != nil {
		panic(fmt.Sprintf("preparator: opening read snapshot: %v", err))
	}

	// Step 2: replay ancestors. The execution cache makes this near-free
	// when the ancestors were already speculatively executed once.
	for i, anc := range req.AncestorTransactions {
		_, reject, err := exec.ExecuteAndUpdateState(ctx, anc)
		if err != nil {
			panic(fmt.Sprintf("preparator: replaying ancestor %d: %v", i, err))
		}
		if reject != nil {
			panic(fmt.Sprintf("preparator: ancestor %d rejected on replay after already being admitted: %s", i, reject.Reason))
		}
	}
	if exec.LatestLedgerHashes() != req.AncestorLedgerHashes {
		panic(fmt.Sprintf("preparator: post-replay ledger hashes %+v do not match ancestor_ledger_hashes %+v",
			exec.LatestLedgerHashes(), req.AncestorLedgerHashes))
	}

	// Step 3: the round-update transaction must fit an empty vertex by
	// construction.
	roundTxn := execution.ValidatedTransaction{Prepared: preparedTransaction(req.Round.encode(), ledger.KindRoundUpdate)}
	_, roundReject, err := exec.ExecuteAndUpdateState(ctx, roundTxn)
	if err != nil {
		panic(fmt.Sprintf("preparator: executing round-update transaction: %v", err))
	}
	if roundReject != nil {
		panic(fmt.Sprintf("preparator: round-update transaction rejected: %s", roundReject.Reason))
	}

	budget := &vertexBudget{limits: req.Limits}
	result := PrepareResult{StopReason: StopProposalsExhausted}

	for _, raw := range req.ProposedTransactions {
		size := uint64(len(raw))

		// Pre-budget check: if it would not fit, skip — never reject.
		if !budget.fitsPreBudget(size) {
			continue
		}

		prepared, err := parseProposal(raw)
		if err != nil {
			result.Rejected = append(result.Rejected, RejectedProposal{Reason: "parse_error"})
			continue
		}

		// Validation belongs to the out-of-scope execution engine (spec
		// §1); the only validation this repository performs is the parse
		// check above, so there is no separate validate-then-reject step
		// here beyond what parseProposal already covers.

		commit, reject, err := exec.ExecuteNoStateUpdate(ctx, execution.ValidatedTransaction{Prepared: prepared})
		if err != nil {
			logger.Error().Err(err).Str("payload_hash", prepared.Identifiers.LedgerHash.String()).Msg("execute_no_state_update failed, skipping transaction")
			continue
		}
		if reject != nil {
			result.Rejected = append(result.Rejected, RejectedProposal{
				PayloadHash: prepared.Identifiers.LedgerHash,
				IntentHash:  prepared.Identifiers.IntentHash,
				Reason:      string(reject.Reason),
			})
			if tracker != nil {
				tracker.TrackTransactionResult(prepared.Identifiers.IntentHash, prepared.Identifiers.LedgerHash, ExecutionAttempt{
					Kind:         AttemptFromExecution,
					RejectReason: reject.Reason,
					Detail:       reject.Detail,
				})
			}
			if !budget.chargeRejection(commit.FeeSummary) {
				result.StopReason = StopVertexLimitReached
				break
			}
			continue
		}

		if !budget.fitsPostBudget(commit.FeeSummary) {
			result.Rejected = append(result.Rejected, RejectedProposal{
				PayloadHash: prepared.Identifiers.LedgerHash,
				IntentHash:  prepared.Identifiers.IntentHash,
				Reason:      "vertex_limit_reached",
			})
			result.StopReason = StopVertexLimitReached
			break
		}

		if err := exec.UpdateState(*commit); err != nil {
			panic(fmt.Sprintf("preparator: update_state after successful execution: %v", err))
		}
		budget.admit(size, commit.FeeSummary)
		result.Committed = append(result.Committed, CommittedProposal{
			PayloadHash: prepared.Identifiers.LedgerHash,
			IntentHash:  prepared.Identifiers.IntentHash,
			ReceiptHash: commit.ReceiptHash,
		})
		if tracker != nil {
			tracker.TrackTransactionResult(prepared.Identifiers.IntentHash, prepared.Identifiers.LedgerHash, ExecutionAttempt{Kind: AttemptFromExecution})
		}

		peek := exec.PeekEndState()
		if peek.NextProtocolVersion != nil {
			result.NextProtocolVersion = peek.NextProtocolVersion
			result.StopReason = StopNextProtocolVersion
			break
		}
		if peek.EpochChange != nil {
			result.NextEpoch = peek.EpochChange
			result.StopReason = StopEpochChange
			break
		}
	}

	switch result.StopReason {
	case StopVertexLimitReached:
		metrics.PrepareStopReasonsTotal.WithLabelValues("vertex_limit_reached").Inc()
	case StopEpochChange:
		metrics.PrepareStopReasonsTotal.WithLabelValues("epoch_change").Inc()
	case StopNextProtocolVersion:
		metrics.PrepareStopReasonsTotal.WithLabelValues("next_protocol_version").Inc()
	default:
		metrics.PrepareStopReasonsTotal.WithLabelValues("proposals_exhausted").Inc()
	}

	end, err := exec.FinalizeSeries("prepare")
	if err != nil {
		panic(fmt.Sprintf("preparator: finalize_series failed: %v", err))
	}
	result.LedgerHashes = end.LedgerHashes
	if result.NextEpoch == nil {
		result.NextEpoch = end.EpochChange
	}
	if result.NextProtocolVersion == nil {
		result.NextProtocolVersion = end.NextProtocolVersion
	}

	logger.Debug().
		Int("committed", len(result.Committed)).
		Int("rejected", len(result.Rejected)).
		Str("stop_reason", string(result.StopReason)).
		Msg("prepare cycle complete")

	return result, nil
}
