package kv

// ColumnFamily names one bucket of the store. Physical bucket names equal
// the ColumnFamily string; the set below is exactly the CF list spec.md
// §4.A enumerates.
type ColumnFamily string

const (
	CFRawTransactions   ColumnFamily = "raw_txn"
	CFTxnIdentifiers    ColumnFamily = "txn_identifiers"
	CFLedgerReceipt     ColumnFamily = "ledger_receipt"
	CFLocalExecution    ColumnFamily = "local_execution"
	CFLedgerProof       ColumnFamily = "ledger_proof"
	CFEpochProof        ColumnFamily = "epoch_proof"
	CFIntentIndex       ColumnFamily = "intent_index"
	CFNotarizedIndex    ColumnFamily = "notarized_index"
	CFLedgerTxnIndex    ColumnFamily = "ledger_txn_index"
	CFSubstates         ColumnFamily = "substates"
	CFNodeAncestry      ColumnFamily = "node_ancestry"
	CFVertexStore       ColumnFamily = "vertex_store"
	CFJMTNodes          ColumnFamily = "jmt_nodes"
	CFStaleParts        ColumnFamily = "stale_parts"
	CFTxnAccuSlices     ColumnFamily = "txn_accu_slices"
	CFReceiptAccuSlices ColumnFamily = "receipt_accu_slices"
	CFExtensions        ColumnFamily = "extensions"
	CFAccountChanges    ColumnFamily = "account_changes"
	CFScenarios         ColumnFamily = "scenarios"
)

// AllColumnFamilies lists every bucket Open must create on open.
var AllColumnFamilies = []ColumnFamily{
	CFRawTransactions,
	CFTxnIdentifiers,
	CFLedgerReceipt,
	CFLocalExecution,
	CFLedgerProof,
	CFEpochProof,
	CFIntentIndex,
	CFNotarizedIndex,
	CFLedgerTxnIndex,
	CFSubstates,
	CFNodeAncestry,
	CFVertexStore,
	CFJMTNodes,
	CFStaleParts,
	CFTxnAccuSlices,
	CFReceiptAccuSlices,
	CFExtensions,
	CFAccountChanges,
	CFScenarios,
}
