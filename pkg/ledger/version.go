package ledger

import (
	"encoding/binary"
	"fmt"
)

// StateVersion is a monotonically increasing ledger position. Version 0
// (PreGenesis) precedes the first committed transaction; version N is the
// state reached after exactly N committed transactions.
type StateVersion uint64

// PreGenesis is the version before any transaction has been committed.
const PreGenesis StateVersion = 0

// Next returns the successor version, or an error if doing so would
// overflow. Spec invariant: state-version arithmetic is checked, and an
// overflow here is unrecoverable (the caller should panic, not retry).
func (v StateVersion) Next() (StateVersion, error) {
	if v == ^StateVersion(0) {
		return 0, fmt.Errorf("state version overflow: %d has no successor", v)
	}
	return v + 1, nil
}

// Add advances v by delta transactions, erroring on overflow.
func (v StateVersion) Add(delta uint64) (StateVersion, error) {
	if delta > uint64(^StateVersion(0))-uint64(v) {
		return 0, fmt.Errorf("state version overflow: %d + %d", v, delta)
	}
	return v + StateVersion(delta), nil
}

// Bytes encodes v as 8 big-endian bytes, preserving numeric ordering under
// lexicographic byte comparison — required by every version-keyed column
// family (spec §6).
func (v StateVersion) Bytes() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

// DecodeStateVersion is the inverse of Bytes.
func DecodeStateVersion(b []byte) (StateVersion, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("state version: expected 8 bytes, got %d", len(b))
	}
	return StateVersion(binary.BigEndian.Uint64(b)), nil
}

// Epoch is a monotonic counter that advances on designated (epoch-change)
// transactions.
type Epoch uint64

// Bytes encodes e as 8 big-endian bytes.
func (e Epoch) Bytes() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(e))
	return b[:]
}

// DecodeEpoch is the inverse of Epoch.Bytes.
func DecodeEpoch(b []byte) (Epoch, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("epoch: expected 8 bytes, got %d", len(b))
	}
	return Epoch(binary.BigEndian.Uint64(b)), nil
}

// Round is a monotonic within-epoch counter advanced by round-update
// transactions.
type Round uint64

// ProtocolVersion identifies an engine/schema protocol revision.
type ProtocolVersion string
