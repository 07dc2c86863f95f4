// Package committer implements spec §4.F: the single writer that turns a
// batch of raw transactions plus a ledger proof into one durable, atomic
// store update. Grounded on the teacher's pkg/manager/fsm.go
// (WarrenFSM.Apply): a single mutex-held command application against a
// storage.Store, generalized from "one JSON command -> one bucket write"
// to "N parsed ledger transactions -> one atomic multi-CF batch". The
// panic-on-invariant-violation discipline is new: warren's FSM returns
// errors for everything since a Raft log is never supposed to be
// internally inconsistent, whereas an accepted consensus proof here
// carries a stronger guarantee (spec §7) — violating it after the
// transaction-root check implies a local or peer bug worth crashing on.
package committer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/coreledger/corestate/pkg/accumulator"
	"github.com/coreledger/corestate/pkg/config"
	"github.com/coreledger/corestate/pkg/execution"
	"github.com/coreledger/corestate/pkg/kv"
	"github.com/coreledger/corestate/pkg/ledger"
	corelog "github.com/coreledger/corestate/pkg/log"
	"github.com/coreledger/corestate/pkg/metrics"
	"github.com/coreledger/corestate/pkg/notify"
	"github.com/coreledger/corestate/pkg/statetree"
	"github.com/coreledger/corestate/pkg/substate"
)

// InvalidCommitRequestErrorKind discriminates the two recoverable commit
// failures (spec §4.F/§6). Every other failure panics.
type InvalidCommitRequestErrorKind string

const (
	TransactionParsingFailed InvalidCommitRequestErrorKind = "TransactionParsingFailed"
	TransactionRootMismatch  InvalidCommitRequestErrorKind = "TransactionRootMismatch"
)

// InvalidCommitRequestError is returned (never panicked) for the two
// recoverable commit failures.
type InvalidCommitRequestError struct {
	Kind    InvalidCommitRequestErrorKind
	Message string
}

func (e *InvalidCommitRequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// CommitRequest is the external commit entry point's input (spec §6).
type CommitRequest struct {
	Transactions    [][]byte
	Proof           ledger.LedgerProof
	VertexStore     []byte
	SelfValidatorID string
}

// SystemCommitRequest is used for genesis/protocol-update/scenario
// batches: transactions arrive pre-validated, so parsing never fails,
// but pre/post invariants still apply.
type SystemCommitRequest struct {
	Transactions              [][]byte
	Proof                     ledger.LedgerProof
	RequireCommittedSuccesses bool
}

// CommitSummary is returned on a successful commit.
type CommitSummary struct {
	ValidatorRoundCounters map[string]uint64
	NumUserTransactions    int
}

// Deps bundles everything a commit needs: the store to write to, the
// series executor driving transaction application (the state hash tree is
// updated by commit itself, from the executor's diffs), the execution
// cache (consulted only to count hits and misses), the two Merkle
// accumulators, and the commit-completion broker.
type Deps struct {
	Store           *kv.Store
	Executor        execution.SeriesExecutor
	Cache           *execution.Cache
	TransactionAccu *accumulator.Accumulator
	ReceiptAccu     *accumulator.Accumulator
	Broker          *notify.Broker

	// DatabaseFlags gates the two optional Step 6 indexes (spec §4.F step
	// 6 "optional local executions (if the index is enabled)", §6). Zero
	// value (both disabled) matches a node that never opted in.
	DatabaseFlags config.DatabaseFlags
}

// parsedTransaction is a raw transaction after minimal wire parsing: a
// one-byte kind discriminator followed by the transaction payload. A real
// engine's schema/signature parsing is out of scope (spec §1); this
// repository only needs Kind and a stable identity hash.
type parsedTransaction struct {
	prepared ledger.PreparedLedgerTransaction
}

func parseTransaction(raw []byte) (parsedTransaction, error) {
	if len(raw) == 0 {
		return parsedTransaction{}, fmt.Errorf("empty transaction payload")
	}
	kind, err := kindFromTag(raw[0])
	if err != nil {
		return parsedTransaction{}, err
	}
	txn := ledger.LedgerTransaction{Kind: kind, Raw: raw}
	return parsedTransaction{
		prepared: ledger.PreparedLedgerTransaction{
			Raw:         txn,
			Identifiers: txn.IdentifiersFor(),
		},
	}, nil
}

func kindFromTag(tag byte) (ledger.TransactionKind, error) {
	switch tag {
	case 0x00:
		return ledger.KindUser, nil
	case 0x01:
		return ledger.KindRoundUpdate, nil
	case 0x02:
		return ledger.KindGenesis, nil
	case 0x03:
		return ledger.KindFlash, nil
	default:
		return "", fmt.Errorf("unknown transaction kind tag %#x", tag)
	}
}

// Commit runs the full parse -> invariant -> root-check -> execute ->
// invariant -> write -> notify procedure of spec §4.F for a batch of
// externally-validated transactions.
func (d *Deps) Commit(ctx context.Context, req CommitRequest) (CommitSummary, error) {
	return d.commit(ctx, req.Transactions, req.Proof, req.VertexStore, req.SelfValidatorID, false)
}

// CommitSystem is the genesis/protocol-update/scenario entry point:
// transactions arrive pre-validated, so step 1 never returns
// TransactionParsingFailed for a well-formed batch, but every invariant
// still applies. Any execution rejection is an invariant violation and
// panics, as it does for Commit; requireCommittedSuccesses only changes
// the panic message to name that requirement.
func (d *Deps) CommitSystem(ctx context.Context, req SystemCommitRequest) (CommitSummary, error) {
	return d.commit(ctx, req.Transactions, req.Proof, nil, "", req.RequireCommittedSuccesses)
}

func (d *Deps) commit(ctx context.Context, rawTxns [][]byte, proof ledger.LedgerProof, vertexStore []byte, selfValidatorID string, requireCommittedSuccesses bool) (CommitSummary, error) {
	timer := metrics.NewTimer()
	correlationID := uuid.New().String()
	logger := corelog.WithStateVersion(proof.LedgerHeader.StateVersion).With().Str("correlation_id", correlationID).Logger()
	defer timer.ObserveDuration(metrics.CommitDuration)

	if len(rawTxns) == 0 {
		panic("committer: commit request carries zero transactions")
	}

	// Step 1: parse. A parsing failure is the one step 1 error that
	// reaches the caller rather than panicking: malformed bytes can
	// arrive from outside consensus (e.g. a local re-parse), so they are
	// not yet a broken invariant.
	parsed := make([]parsedTransaction, 0, len(rawTxns))
	roundCounters := make(map[string]uint64)
	for i, raw := range rawTxns {
		p, err := parseTransaction(raw)
		if err != nil {
			metrics.CommitsTotal.WithLabelValues("parse_failed").Inc()
			return CommitSummary{}, &InvalidCommitRequestError{
				Kind:    TransactionParsingFailed,
				Message: fmt.Sprintf("transaction %d: %v", i, err),
			}
		}
		if p.prepared.Raw.Kind == ledger.KindRoundUpdate && selfValidatorID != "" {
			roundCounters[selfValidatorID]++
		}
		parsed = append(parsed, p)
	}

	// Step 2: pre-commit invariant — the proof's state version must be
	// exactly |transactions| past what this node has already committed.
	baseVersion := uint64(proof.LedgerHeader.StateVersion) - uint64(len(parsed))
	if ledger.StateVersion(baseVersion) != d.Executor.LatestStateVersion() {
		panic(fmt.Sprintf("committer: proof state version %d minus %d transactions != series_executor.latest_state_version() (%d)",
			proof.LedgerHeader.StateVersion, len(parsed), d.Executor.LatestStateVersion()))
	}
	parentVersion := ledger.StateVersion(baseVersion)

	// Step 3: transaction-root check, recomputed from the persisted
	// frontier at parentVersion — this must run before Step 4 so a bad
	// proof is rejected without ever touching the executor. The execution
	// cache, keyed by (parent_transaction_root, next_transactions_digest),
	// is consulted only to count hit/miss for the Preparator's speculative
	// path (a hit means the Preparator already ran this exact batch
	// against this exact parent root); the root check itself always
	// recomputes, since the cache holds an execution outcome, not a root.
	leafHashes := make([]ledger.Hash, len(parsed))
	for i, p := range parsed {
		leafHashes[i] = p.prepared.Identifiers.LedgerHash
	}
	parentRoot := d.Executor.LatestLedgerHashes().TransactionRoot
	digest := execution.Digest(leafHashes)
	if _, ok := d.Cache.Lookup(parentRoot, digest); ok {
		metrics.ExecutionCacheHitsTotal.Inc()
	} else {
		metrics.ExecutionCacheMissesTotal.Inc()
	}

	var frontier accumulator.Frontier
	if err := d.Store.View(func(snap *kv.Snapshot) error {
		f, ok, err := d.TransactionAccu.FrontierAt(snap, parentVersion)
		if err != nil {
			return err
		}
		if ok {
			frontier = f
		}
		return nil
	}); err != nil {
		panic(fmt.Sprintf("committer: reading parent transaction frontier: %v", err))
	}
	expectedRoot := accumulator.AppendLeaves(frontier, leafHashes).Frontier.Root()
	if expectedRoot != proof.LedgerHeader.Hashes.TransactionRoot {
		metrics.CommitsTotal.WithLabelValues("transaction_root_mismatch").Inc()
		return CommitSummary{}, &InvalidCommitRequestError{
			Kind:    TransactionRootMismatch,
			Message: "computed transaction root does not match proof",
		}
	}

	// Step 4: execute. Past this point every failure is an invariant
	// violation — the proof was accepted by consensus, so the network
	// considers this exact batch committable, and local divergence from
	// that agreement is a bug worth crashing on rather than returning.
	receiptHashes := make([]ledger.Hash, 0, len(parsed))
	localExecutions := make([][]byte, 0, len(parsed))
	var numUserTxns int
	builder := d.Executor.StartCommitBuilder()
	for _, p := range parsed {
		if p.prepared.Raw.Kind == ledger.KindUser {
			numUserTxns++
		}
		commit, reject, err := d.Executor.ExecuteAndUpdateState(ctx, execution.ValidatedTransaction{Prepared: p.prepared})
		if err != nil {
			panic(fmt.Sprintf("committer: execution error after accepted proof: %v", err))
		}
		if reject != nil {
			if requireCommittedSuccesses {
				panic(fmt.Sprintf("committer: required committed success but transaction rejected: %s", reject.Reason))
			}
			panic(fmt.Sprintf("committer: execution rejected transaction after accepted proof: %s", reject.Reason))
		}
		if builder != nil {
			builder.RecordDiff(commit.Diff)
			builder.RecordReceiptHash(commit.ReceiptHash)
		}
		receiptHashes = append(receiptHashes, commit.ReceiptHash)
		if d.DatabaseFlags.EnableLocalTransactionExecutionIndex {
			localExecutions = append(localExecutions, encodeLocalExecution(commit.FeeSummary))
		}
	}

	end, err := d.Executor.FinalizeSeries("commit")
	if err != nil {
		panic(fmt.Sprintf("committer: finalize_series failed after accepted proof: %v", err))
	}

	// The commit builder hands back every transaction's diff in
	// execution order; combine them into the one diff this commit applies
	// to the substate store and state hash tree (spec §4.C, I4: "V's
	// substate updates" means the whole batch applied once, not per
	// transaction).
	var combinedDiff ledger.SubstateDiff
	if builder != nil {
		for _, diff := range builder.Diffs() {
			combinedDiff.Merge(diff)
		}
	}

	// Step 5: post-commit invariant — the version the executor landed on
	// must match the proof exactly.
	if end.StateVersion != proof.LedgerHeader.StateVersion {
		panic(fmt.Sprintf("committer: resulting state version %d != proof state version %d", end.StateVersion, proof.LedgerHeader.StateVersion))
	}

	// Step 6: write everything in one atomic batch — raw transactions,
	// identifiers and index entries, receipts, the optional local-execution
	// and account-change indexes, accumulator slices, the proof, the
	// combined substate diff, and the resulting state hash tree update
	// (spec §4.F step 6).
	tree := statetree.NewTree()
	localExecIdx := 0
	err = d.Store.Update(func(batch *kv.Batch) error {
		for i, p := range parsed {
			versionKey := ledger.StateVersion(baseVersion + 1 + uint64(i))
			ids := p.prepared.Identifiers
			if err := batch.Put(kv.CFRawTransactions, versionKey.Bytes(), p.prepared.Raw.Raw); err != nil {
				return err
			}
			if err := batch.Put(kv.CFTxnIdentifiers, versionKey.Bytes(), ids.LedgerHash[:]); err != nil {
				return err
			}
			if err := batch.Put(kv.CFLedgerTxnIndex, ids.LedgerHash[:], versionKey.Bytes()); err != nil {
				return err
			}
			if p.prepared.Raw.Kind == ledger.KindUser {
				// I3 / spec §8: a second commit of an already-committed
				// intent hash is a fatal bug, and must be caught before
				// this batch (and any entry in it) becomes durable.
				if _, ok, err := batch.Get(kv.CFIntentIndex, ids.IntentHash[:]); err != nil {
					return err
				} else if ok {
					panic(fmt.Sprintf("committer: intent hash %s committed twice", ids.IntentHash))
				}
				if err := batch.Put(kv.CFIntentIndex, ids.IntentHash[:], versionKey.Bytes()); err != nil {
					return err
				}
				if err := batch.Put(kv.CFNotarizedIndex, ids.NotarizedHash[:], versionKey.Bytes()); err != nil {
					return err
				}
			}
			if d.DatabaseFlags.EnableLocalTransactionExecutionIndex {
				if err := batch.Put(kv.CFLocalExecution, versionKey.Bytes(), localExecutions[localExecIdx]); err != nil {
					return err
				}
				localExecIdx++
			}
		}
		for i, h := range receiptHashes {
			versionKey := ledger.StateVersion(baseVersion + 1 + uint64(i))
			if err := batch.Put(kv.CFLedgerReceipt, versionKey.Bytes(), h[:]); err != nil {
				return err
			}
		}
		if _, err := d.TransactionAccu.Append(batch, parentVersion, end.StateVersion, leafHashes); err != nil {
			return err
		}
		if _, err := d.ReceiptAccu.Append(batch, parentVersion, end.StateVersion, receiptHashes); err != nil {
			return err
		}
		proofBytes, err := encodeProof(proof)
		if err != nil {
			return err
		}
		if err := batch.Put(kv.CFLedgerProof, end.StateVersion.Bytes(), proofBytes); err != nil {
			return err
		}
		if vertexStore != nil {
			if err := batch.Put(kv.CFVertexStore, end.StateVersion.Bytes(), vertexStore); err != nil {
				return err
			}
		}
		if err := substate.ApplyDiff(batch, combinedDiff); err != nil {
			return fmt.Errorf("substate update: %w", err)
		}
		if _, err := tree.ApplyDiff(batch, parentVersion, end.StateVersion, combinedDiff); err != nil {
			return fmt.Errorf("state hash tree update: %w", err)
		}
		if d.DatabaseFlags.EnableAccountChangeIndex {
			for _, pd := range combinedDiff.Partitions {
				key := append(append([]byte(nil), pd.Key.NodeKey...), end.StateVersion.Bytes()...)
				if err := batch.Put(kv.CFAccountChanges, key, []byte{}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return CommitSummary{}, fmt.Errorf("committer: atomic write failed: %w", err)
	}

	// Step 7: post-write. Cache base rotates, mempool is notified, metrics
	// advance — strictly after the write above is durable.
	d.Cache.ProgressBase(end.LedgerHashes.TransactionRoot)
	if d.Broker != nil {
		intentHashes := make([]ledger.Hash, 0, numUserTxns)
		for _, p := range parsed {
			if p.prepared.Raw.Kind == ledger.KindUser {
				intentHashes = append(intentHashes, p.prepared.Identifiers.IntentHash)
			}
		}
		d.Broker.Publish(notify.CommitCompleted{
			StateVersion:          end.StateVersion,
			CommittedIntentHashes: intentHashes,
		})
	}
	metrics.StateVersionCurrent.Set(float64(end.StateVersion))
	metrics.CommittedTransactionsTotal.Add(float64(len(parsed)))
	metrics.CommitsTotal.WithLabelValues("success").Inc()

	logger.Info().Int("num_transactions", len(parsed)).Msg("commit applied")

	return CommitSummary{
		ValidatorRoundCounters: roundCounters,
		NumUserTransactions:    numUserTxns,
	}, nil
}

// encodeLocalExecution persists the slice of a transaction's execution
// result this repository actually has visibility into — the vertex-limit
// fee summary — for the optional local-execution index (spec §4.F step
// 6 "optional local executions (if the index is enabled)"). The full
// local execution trace belongs to the out-of-scope execution engine.
func encodeLocalExecution(fee ledger.ReceiptFeeSummary) []byte {
	out := make([]byte, 16)
	for i := 0; i < 8; i++ {
		out[i] = byte(fee.ExecutionCostUnitsConsumed >> (56 - 8*i))
		out[8+i] = byte(fee.TotalSizeBytes >> (56 - 8*i))
	}
	return out
}

func encodeProof(proof ledger.LedgerProof) ([]byte, error) {
	// The proof's own wire encoding is out of this repository's scope
	// (spec §1: schema/SBOR encoding belongs to the execution engine);
	// persist enough to answer "what was proof at version V" by storing
	// its header's state, transaction and receipt roots back to back (96
	// bytes), which is all invariant checks ever compare against.
	h := proof.LedgerHeader.Hashes
	out := make([]byte, 0, 96)
	out = append(out, h.StateRoot[:]...)
	out = append(out, h.TransactionRoot[:]...)
	out = append(out, h.ReceiptRoot[:]...)
	return out, nil
}
