package statetree

import (
	"fmt"

	"github.com/coreledger/corestate/pkg/kv"
	"github.com/coreledger/corestate/pkg/ledger"
)

// StalePartKind discriminates the two shapes of staleness a commit can
// record (spec §4.C): a single superseded node, or an entire subtree
// invalidated in one step by a partition reset.
type StalePartKind string

const (
	StaleNode    StalePartKind = "node"
	StaleSubtree StalePartKind = "subtree"
)

// StalePart is one entry of the diff a commit at version V produces:
// either "this exact node is superseded" or "this whole subtree root
// (and everything under it) is superseded".
type StalePart struct {
	Kind StalePartKind
	Key  NodeKey // the stale Node's key, or the stale Subtree's root key
}

func (p StalePart) encode() []byte {
	var kindByte byte
	if p.Kind == StaleSubtree {
		kindByte = 1
	}
	out := make([]byte, 0, 1+len(p.Key.Bytes()))
	out = append(out, kindByte)
	out = append(out, p.Key.Bytes()...)
	return out
}

func decodeStalePart(b []byte) (StalePart, error) {
	if len(b) < 1 {
		return StalePart{}, fmt.Errorf("stale part: empty encoding")
	}
	key, err := DecodeNodeKey(b[1:])
	if err != nil {
		return StalePart{}, fmt.Errorf("stale part: %w", err)
	}
	kind := StaleNode
	if b[0] == 1 {
		kind = StaleSubtree
	}
	return StalePart{Kind: kind, Key: key}, nil
}

// stalePartsKeyCodec keys the stale_parts bucket by
// [version:be8][seq:be4], matching spec.md's `stale_parts[version→list]`
// (a list per version, here modeled as a dense per-version sequence so
// each entry is independently addressable and deletable by the GC).
type stalePartsKeyCodec struct{}

type stalePartsKey struct {
	Version ledger.StateVersion
	Seq     uint32
}

func (stalePartsKeyCodec) EncodeKey(k stalePartsKey) []byte {
	out := make([]byte, 0, 12)
	out = append(out, k.Version.Bytes()...)
	out = append(out, byte(k.Seq>>24), byte(k.Seq>>16), byte(k.Seq>>8), byte(k.Seq))
	return out
}

func (stalePartsKeyCodec) DecodeKey(b []byte) (stalePartsKey, error) {
	if len(b) != 12 {
		return stalePartsKey{}, fmt.Errorf("stale parts key: expected 12 bytes, got %d", len(b))
	}
	version, err := ledger.DecodeStateVersion(b[:8])
	if err != nil {
		return stalePartsKey{}, err
	}
	seq := uint32(b[8])<<24 | uint32(b[9])<<16 | uint32(b[10])<<8 | uint32(b[11])
	return stalePartsKey{Version: version, Seq: seq}, nil
}

func (stalePartsKeyCodec) EncodeGroupRange(version ledger.StateVersion) (lo, hi []byte) {
	lo = version.Bytes()
	nextVersion, err := version.Next()
	if err != nil {
		return lo, nil
	}
	hi = nextVersion.Bytes()
	return lo, hi
}

type stalePartValueCodec struct{}

func (stalePartValueCodec) EncodeValue(p StalePart) []byte          { return p.encode() }
func (stalePartValueCodec) DecodeValue(b []byte) (StalePart, error) { return decodeStalePart(b) }

var staleParts = kv.NewGroupTable[stalePartsKey, StalePart, ledger.StateVersion](
	kv.CFStaleParts, stalePartsKeyCodec{}, stalePartValueCodec{})

// recordStaleParts appends parts as the stale-part list for version.
func recordStaleParts(batch *kv.Batch, version ledger.StateVersion, parts []StalePart) error {
	for i, p := range parts {
		if err := staleParts.Put(batch, stalePartsKey{Version: version, Seq: uint32(i)}, p); err != nil {
			return fmt.Errorf("record stale part %d at version %d: %w", i, version, err)
		}
	}
	return nil
}

// staleVersionsBelow iterates every version with a recorded stale-part
// list strictly less than horizon, in ascending order.
func staleVersionsBelow(snap *kv.Snapshot, horizon ledger.StateVersion) ([]ledger.StateVersion, error) {
	rawIt, err := snap.IterateRange(kv.CFStaleParts, nil, horizon.Bytes(), kv.Forward)
	if err != nil {
		return nil, fmt.Errorf("stale versions: %w", err)
	}
	seen := map[ledger.StateVersion]bool{}
	var out []ledger.StateVersion
	for rawIt.Next() {
		k, err := stalePartsKeyCodec{}.DecodeKey(rawIt.Key())
		if err != nil {
			return nil, fmt.Errorf("stale versions: %w", err)
		}
		if !seen[k.Version] {
			seen[k.Version] = true
			out = append(out, k.Version)
		}
	}
	return out, nil
}
