package kv

import (
	"fmt"

	"github.com/coreledger/corestate/pkg/ledger"
)

// RawBytesCodec is the identity codec, used for []byte keys/values and for
// column families (vertex_store, extensions) that store opaque blobs.
type RawBytesCodec struct{}

func (RawBytesCodec) EncodeKey(k []byte) []byte          { return k }
func (RawBytesCodec) DecodeKey(b []byte) ([]byte, error) { return b, nil }
func (RawBytesCodec) EncodeValue(v []byte) []byte        { return v }
func (RawBytesCodec) DecodeValue(b []byte) ([]byte, error) {
	return b, nil
}

// StringKeyCodec keys a table by a plain string (used for extensions and
// scenario-name lookups).
type StringKeyCodec struct{}

func (StringKeyCodec) EncodeKey(k string) []byte { return []byte(k) }
func (StringKeyCodec) DecodeKey(b []byte) (string, error) {
	return string(b), nil
}

// StateVersionKeyCodec encodes a StateVersion as 8 big-endian bytes
// (spec §6: `version -> ...: version.to_be_bytes()`), preserving numeric
// order under byte comparison.
type StateVersionKeyCodec struct{}

func (StateVersionKeyCodec) EncodeKey(v ledger.StateVersion) []byte { return v.Bytes() }
func (StateVersionKeyCodec) DecodeKey(b []byte) (ledger.StateVersion, error) {
	return ledger.DecodeStateVersion(b)
}

// EpochKeyCodec encodes an Epoch as 8 big-endian bytes.
type EpochKeyCodec struct{}

func (EpochKeyCodec) EncodeKey(e ledger.Epoch) []byte { return e.Bytes() }
func (EpochKeyCodec) DecodeKey(b []byte) (ledger.Epoch, error) {
	return ledger.DecodeEpoch(b)
}

// HashKeyCodec encodes a Hash as its raw 32 bytes (spec §6: `hash -> ...:
// raw 32 bytes`), used for the intent/notarized/ledger-hash indexes.
type HashKeyCodec struct{}

func (HashKeyCodec) EncodeKey(h ledger.Hash) []byte { return h[:] }
func (HashKeyCodec) DecodeKey(b []byte) (ledger.Hash, error) {
	if len(b) != 32 {
		return ledger.Hash{}, fmt.Errorf("hash key: expected 32 bytes, got %d", len(b))
	}
	var h ledger.Hash
	copy(h[:], b)
	return h, nil
}

// SubstateKeyCodec implements the wire format mandated by spec §4.A:
//
//	[len(node_key):u8][node_key][partition_num:u8][sort_key]
//
// This is NOT globally order-preserving (the length prefix breaks
// lexicographic order across differing node-key lengths) but IS
// order-preserving within a fixed (node_key, partition_num) group, which
// is exactly the property PartitionGroup range scans need.
type SubstateKeyCodec struct{}

func (SubstateKeyCodec) EncodeKey(k ledger.SubstateKey) []byte {
	out := make([]byte, 0, 2+len(k.NodeKey)+len(k.SortKey))
	out = append(out, byte(len(k.NodeKey)))
	out = append(out, k.NodeKey...)
	out = append(out, k.PartitionNum)
	out = append(out, k.SortKey...)
	return out
}

func (SubstateKeyCodec) DecodeKey(b []byte) (ledger.SubstateKey, error) {
	if len(b) < 2 {
		return ledger.SubstateKey{}, fmt.Errorf("substate key: too short (%d bytes)", len(b))
	}
	nodeLen := int(b[0])
	if len(b) < 1+nodeLen+1 {
		return ledger.SubstateKey{}, fmt.Errorf("substate key: truncated node key (want %d bytes)", nodeLen)
	}
	nodeKey := append([]byte{}, b[1:1+nodeLen]...)
	partition := b[1+nodeLen]
	sortKey := append([]byte(nil), b[2+nodeLen:]...)
	return ledger.SubstateKey{NodeKey: nodeKey, PartitionNum: partition, SortKey: sortKey}, nil
}

// EncodeGroupRange returns the half-open byte range covering every
// substate key in the given partition, letting callers prefix-scan one
// entity's partition without decoding every key along the way.
func (SubstateKeyCodec) EncodeGroupRange(group ledger.PartitionKey) (lo, hi []byte) {
	prefix := make([]byte, 0, 2+len(group.NodeKey))
	prefix = append(prefix, byte(len(group.NodeKey)))
	prefix = append(prefix, group.NodeKey...)
	prefix = append(prefix, group.PartitionNum)
	lo = prefix
	hi = incrementBytes(prefix)
	return lo, hi
}

// incrementBytes returns the lexicographically smallest byte string
// strictly greater than every string with prefix b, or nil if b is all
// 0xFF (meaning "no upper bound").
func incrementBytes(b []byte) []byte {
	out := append([]byte(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

var _ GroupKeyCodec[ledger.SubstateKey, ledger.PartitionKey] = SubstateKeyCodec{}

// EntityCreationKey is the "entity-type+creation index" wire encoding
// named in spec §6 ([type:u8][version:be8][idx_within_txn:be4]). No code
// in this repository writes or reads keys of this form; the account-change
// index is keyed by node key and state version instead.
type EntityCreationKey struct {
	EntityType  uint8
	Version     ledger.StateVersion
	IndexInTxn  uint32
}

type EntityCreationKeyCodec struct{}

func (EntityCreationKeyCodec) EncodeKey(k EntityCreationKey) []byte {
	out := make([]byte, 0, 13)
	out = append(out, k.EntityType)
	out = append(out, k.Version.Bytes()...)
	out = append(out, byte(k.IndexInTxn>>24), byte(k.IndexInTxn>>16), byte(k.IndexInTxn>>8), byte(k.IndexInTxn))
	return out
}

func (EntityCreationKeyCodec) DecodeKey(b []byte) (EntityCreationKey, error) {
	if len(b) != 13 {
		return EntityCreationKey{}, fmt.Errorf("entity creation key: expected 13 bytes, got %d", len(b))
	}
	v, err := ledger.DecodeStateVersion(b[1:9])
	if err != nil {
		return EntityCreationKey{}, err
	}
	idx := uint32(b[9])<<24 | uint32(b[10])<<16 | uint32(b[11])<<8 | uint32(b[12])
	return EntityCreationKey{EntityType: b[0], Version: v, IndexInTxn: idx}, nil
}
