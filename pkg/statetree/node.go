// Package statetree implements the Jellyfish Merkle Tree that indexes
// substate identity (spec §4.C): a versioned, append-mostly 16-way
// (one nibble per level) radix tree over substate keys, plus the background garbage
// collector that reclaims stale nodes once they fall outside the
// retained history horizon.
package statetree

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/coreledger/corestate/pkg/ledger"
)

// NibblePath is the path from the tree root to a node, expressed as a
// sequence of 4-bit nibbles over the hashed substate key. Internal
// nodes branch on one nibble per level. A substate's path has two
// segments: the nibbles of one hash over its node key and partition
// number together, then the nibbles of the hash of its sort key.
type NibblePath []byte

// NodeKey identifies one versioned node in the tree: the version at
// which it was created, and its path from the root.
type NodeKey struct {
	Version ledger.StateVersion
	Path    NibblePath
}

// jmtNodesKindNode and jmtNodesKindLeafValue distinguish the two kinds
// of row the CFJMTNodes bucket carries: tree nodes proper, and the
// leaf_key -> value side-map entries spec §4.B's historical view reads
// through. Both live in jmt_nodes rather than a dedicated CF, since
// spec.md's column-family table names no separate bucket for the side
// map (DESIGN.md records this as an Open Question resolution).
const (
	jmtNodesKindNode      byte = 0x00
	jmtNodesKindLeafValue byte = 0x01
)

// Bytes encodes a NodeKey as [kind=0x00][version:be8][path_len:be2][path...],
// ordering keys by version, then path length, then path — needed so a
// version-prefix range scan (used by ancestry-aware iteration, spec
// §4.C) can be expressed as a plain byte-range scan.
func (k NodeKey) Bytes() []byte {
	out := make([]byte, 0, 11+len(k.Path))
	out = append(out, jmtNodesKindNode)
	out = append(out, k.Version.Bytes()...)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(k.Path)))
	out = append(out, lenBuf[:]...)
	out = append(out, k.Path...)
	return out
}

// DecodeNodeKey is the inverse of NodeKey.Bytes.
func DecodeNodeKey(b []byte) (NodeKey, error) {
	if len(b) < 11 || b[0] != jmtNodesKindNode {
		return NodeKey{}, fmt.Errorf("node key: not a tree-node key (%d bytes)", len(b))
	}
	version, err := ledger.DecodeStateVersion(b[1:9])
	if err != nil {
		return NodeKey{}, fmt.Errorf("node key: %w", err)
	}
	pathLen := int(binary.BigEndian.Uint16(b[9:11]))
	if len(b) != 11+pathLen {
		return NodeKey{}, fmt.Errorf("node key: expected %d path bytes, got %d", pathLen, len(b)-11)
	}
	path := append(NibblePath(nil), b[11:]...)
	return NodeKey{Version: version, Path: path}, nil
}

// LeafValueSideMapKey encodes a leaf_value_id lookup key for the
// jmt_nodes bucket's leaf_key -> value side map.
func LeafValueSideMapKey(leafValueID ledger.Hash) []byte {
	out := make([]byte, 0, 33)
	out = append(out, jmtNodesKindLeafValue)
	out = append(out, leafValueID[:]...)
	return out
}

// NodeKind discriminates the three node shapes a JMT position can hold.
type NodeKind string

const (
	NodeNull     NodeKind = "null"
	NodeLeaf     NodeKind = "leaf"
	NodeInternal NodeKind = "internal"
)

// Child is one of an internal node's (up to 16) populated nibble slots.
type Child struct {
	Nibble  byte
	Version ledger.StateVersion
	Hash    ledger.Hash
	IsLeaf  bool
}

// Node is one versioned tree node. Exactly one of the three shapes is
// populated, selected by Kind — modeled as a tagged struct rather than
// an interface hierarchy, since the set of shapes is closed and every
// consumer (hasher, GC, historical reader) switches on all three.
type Node struct {
	Kind NodeKind

	// Leaf fields.
	LeafKeyHash ledger.Hash // hash of the full substate key this leaf terminates on
	LeafValueID ledger.Hash // lookup key into the leaf_key -> value side map

	// Internal fields.
	Children []Child
}

// NullNode is the canonical empty-tree node.
var NullNode = Node{Kind: NodeNull}

// Hash computes this node's content hash: for a leaf, the hash of its
// (key_hash, value_id) pair; for an internal node, the hash of its
// sorted children's (nibble, hash) pairs; for null, the zero hash.
func (n Node) Hash() ledger.Hash {
	switch n.Kind {
	case NodeNull:
		return ledger.ZeroHash
	case NodeLeaf:
		return ledger.HashConcat(n.LeafKeyHash[:], n.LeafValueID[:])
	case NodeInternal:
		h := ledger.ZeroHash.String() // stable seed distinct from leaf/null encodings
		buf := []byte(h)
		children := append([]Child(nil), n.Children...)
		sort.Slice(children, func(i, j int) bool { return children[i].Nibble < children[j].Nibble })
		for _, c := range children {
			buf = append(buf, c.Nibble)
			buf = append(buf, c.Hash[:]...)
		}
		return ledger.HashBytes(buf)
	default:
		return ledger.ZeroHash
	}
}

// ChildAt returns the child at nibble, if populated.
func (n Node) ChildAt(nibble byte) (Child, bool) {
	for _, c := range n.Children {
		if c.Nibble == nibble {
			return c, true
		}
	}
	return Child{}, false
}

// WithChild returns a copy of n with nibble set to child, replacing any
// existing entry at that nibble. n must be NodeInternal or NodeNull
// (promoted to NodeInternal).
func (n Node) WithChild(child Child) Node {
	out := Node{Kind: NodeInternal}
	replaced := false
	for _, c := range n.Children {
		if c.Nibble == child.Nibble {
			out.Children = append(out.Children, child)
			replaced = true
		} else {
			out.Children = append(out.Children, c)
		}
	}
	if !replaced {
		out.Children = append(out.Children, child)
	}
	return out
}
