package ledger

import "time"

// ProofOriginKind discriminates how a LedgerProof came to exist.
type ProofOriginKind string

const (
	OriginGenesis        ProofOriginKind = "genesis"
	OriginConsensus       ProofOriginKind = "consensus"
	OriginProtocolUpdate  ProofOriginKind = "protocol_update"
)

// ProofOrigin is the sum type `Genesis | Consensus | ProtocolUpdate{version,
// batch_idx}`. Only ProtocolUpdate populates Version/BatchIndex.
type ProofOrigin struct {
	Kind        ProofOriginKind
	Version     ProtocolVersion
	BatchIndex  uint32
}

// TimestampedSignature is one validator's vote over a proof, with the wall
// time at which it was produced (used only for observability; consensus
// validity is assumed, not re-derived here).
type TimestampedSignature struct {
	ValidatorID string
	Signature   []byte
	TimestampMs int64
}

// LedgerHeader is the consensus-agreed summary of a state version: what
// epoch/round it falls in, what it hashes to, and what (if anything)
// changes about the next epoch or protocol version.
type LedgerHeader struct {
	Epoch               Epoch
	Round               Round
	StateVersion        StateVersion
	Hashes              LedgerHashes
	ProposerTimestampMs int64
	NextEpoch           *NextEpoch
	NextProtocolVersion *ProtocolVersion
}

// NextEpoch carries the validator set and parameters taking effect at the
// epoch boundary this header closes.
type NextEpoch struct {
	Epoch      Epoch
	Validators []string
}

// LedgerProof is the certificate the Committer treats as authoritative
// truth: a state_version bound to hashes and validator signatures. Spec
// invariant I2: the proof at version V covers exactly the transactions in
// (prev_proof_version, V].
type LedgerProof struct {
	LedgerHeader          LedgerHeader
	OpaqueHash            Hash
	TimestampedSignatures []TimestampedSignature
	Origin                ProofOrigin
}

// ReceivedAt returns the header's proposer timestamp as a wall-clock
// time, used only for metrics/logging (never for correctness).
func (p LedgerProof) ReceivedAt() time.Time {
	return time.UnixMilli(p.LedgerHeader.ProposerTimestampMs)
}
