/*
Package ledger defines the data model shared by every state-manager
subsystem: state versions, transactions, proofs, substate keys, and the
invariants that must hold across them.

# Invariants

These must always hold across the store, the committer, and the mempool:

  - I1: max_state_version(raw_transactions) = max_state_version(identifiers)
    = max_state_version(receipts) = max_state_version(proofs, including
    non-end-of-epoch proofs).
  - I2: every proof at version V covers exactly the transactions in
    (prev_proof_version, V].
  - I3: for any committed user transaction, its intent hash is unique
    across all committed transactions; a second occurrence is a fatal bug.
  - I4: resultant_ledger_hashes at V equal the recomputed accumulator
    roots after applying V's substate updates to the hash tree at V-1.
  - I5: a mempool entry's notarized_hash is unique; intent_hash ->
    {notarized_hash} is a maintained index.
  - I6: total bytes of raw across mempool entries <= the configured size
    budget; entry count <= the configured count budget.
  - I7: every JMT node referenced by a non-stale version is reachable from
    some retained root.

# Lifecycles

Mempool entries are created on admission and removed on commit, expiry,
or priority eviction. Pending-records live in an LRU until displaced. JMT
nodes are created by commits, marked stale by later commits, and
physically deleted by the garbage collector once their owning version is
older than state_version_history_length. Committed transactions are
retained indefinitely.
*/
package ledger
