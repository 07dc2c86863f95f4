package ledger

// TransactionKind is the sum-type discriminant for LedgerTransaction.
// Mirrors the const-block string-enum style used throughout this corpus
// for closed sets (e.g. NodeStatus, ServiceMode in the teacher's types
// package).
type TransactionKind string

const (
	KindUser        TransactionKind = "user"
	KindRoundUpdate TransactionKind = "round_update"
	KindGenesis     TransactionKind = "genesis"
	KindFlash       TransactionKind = "flash"
)

// LedgerTransaction is a raw canonical transaction of one of the four
// kinds. Hashing is always over Raw, never over a parsed representation,
// so two nodes that disagree about internal parsing can still agree on
// identity.
type LedgerTransaction struct {
	Kind TransactionKind
	Raw  []byte
}

// LedgerHash returns the wire-identity hash of the transaction.
func (t LedgerTransaction) LedgerHash() Hash {
	return HashBytes(t.Raw)
}

// IdentifiersFor computes t's TransactionIdentifiers. Real schema/notary
// parsing belongs to the out-of-scope execution engine (spec §1), so this
// repository cannot see the boundary between a user transaction's intent
// and its notarized (signed) envelope; it only has Raw, which is already
// the fully-wrapped wire form. IntentHash is therefore derived from the
// payload with the kind tag stripped — stable across re-parses of the
// same bytes, which is all I3's replay-uniqueness check needs —
// NotarizedHash is set equal to LedgerHash, since this repository cannot
// distinguish "signed" from "wire" without that missing parse step.
// Non-user kinds keep both at the zero hash (see TransactionIdentifiers).
func (t LedgerTransaction) IdentifiersFor() TransactionIdentifiers {
	ids := TransactionIdentifiers{LedgerHash: t.LedgerHash()}
	if t.Kind == KindUser {
		ids.IntentHash = HashBytes(t.Raw[1:])
		ids.NotarizedHash = ids.LedgerHash
	}
	return ids
}

// TransactionIdentifiers names the three identity levels of a user
// transaction (see GLOSSARY): the replay-uniqueness key, the signed form,
// and the wire form. Non-user transactions (round-update, genesis, flash)
// only populate LedgerHash; IntentHash/NotarizedHash are the zero hash.
type TransactionIdentifiers struct {
	IntentHash     Hash
	NotarizedHash  Hash
	LedgerHash     Hash
}

// ExecutableTransaction is the narrow capability interface an external
// execution engine implements for a parsed, validated transaction. The
// engine itself (VM, cost model, schema resolution) is out of scope for
// this repository; this interface is the seam the Committer, Preparator,
// and execution.SeriesExecutor code against.
type ExecutableTransaction interface {
	Kind() TransactionKind
}

// PreparedLedgerTransaction pairs a raw transaction with its cached
// identifiers and executable form. Immutable after construction: every
// field is computed once during preparation and never mutated.
type PreparedLedgerTransaction struct {
	Raw         LedgerTransaction
	Identifiers TransactionIdentifiers
	Executable  ExecutableTransaction
}

// CommittedTransactionIdentifiers records everything needed to answer
// "what happened at version V" without re-reading the full receipt.
type CommittedTransactionIdentifiers struct {
	StateVersion          StateVersion
	ProposerTimestampMs   int64
	ResultantLedgerHashes LedgerHashes
	PayloadIdentifiers    TransactionIdentifiers
}

// LedgerHashes bundles the three accumulator/tree roots that together
// determine a state version's identity. Spec invariant I4: this value at
// version V must equal the recomputed roots after applying V's substate
// updates to the hash tree rooted at V-1.
type LedgerHashes struct {
	StateRoot       Hash
	TransactionRoot Hash
	ReceiptRoot     Hash
}

// ReceiptFeeSummary is the minimal fee/cost surface the Preparator needs
// to re-check vertex limits after executing a transaction (spec §4.G step
// 4). A full fee summary belongs to the execution engine; this is just
// the slice of it this repository's vertex-limit accounting consumes.
type ReceiptFeeSummary struct {
	ExecutionCostUnitsConsumed uint64
	TotalSizeBytes             uint64
}
