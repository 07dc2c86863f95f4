package statetree

import (
	"fmt"

	"github.com/coreledger/corestate/pkg/kv"
	"github.com/coreledger/corestate/pkg/ledger"
)

// nodeKeyCodec adapts NodeKey's own Bytes()/DecodeNodeKey to kv.KeyCodec.
type nodeKeyCodec struct{}

func (nodeKeyCodec) EncodeKey(k NodeKey) []byte         { return k.Bytes() }
func (nodeKeyCodec) DecodeKey(b []byte) (NodeKey, error) { return DecodeNodeKey(b) }

// nodeValueCodec encodes a Node as:
//
//	[kind:u8][leaf_key_hash:32][leaf_value_id:32]              (leaf)
//	[kind:u8][num_children:u8]{[nibble:u8][version:be8][hash:32][is_leaf:u8]}*  (internal)
//	[kind:u8]                                                   (null)
type nodeValueCodec struct{}

const (
	wireKindNull     byte = 0
	wireKindLeaf     byte = 1
	wireKindInternal byte = 2
)

func (nodeValueCodec) EncodeValue(n Node) []byte {
	switch n.Kind {
	case NodeLeaf:
		out := make([]byte, 0, 65)
		out = append(out, wireKindLeaf)
		out = append(out, n.LeafKeyHash[:]...)
		out = append(out, n.LeafValueID[:]...)
		return out
	case NodeInternal:
		out := make([]byte, 0, 2+len(n.Children)*42)
		out = append(out, wireKindInternal, byte(len(n.Children)))
		for _, c := range n.Children {
			out = append(out, c.Nibble)
			out = append(out, c.Version.Bytes()...)
			out = append(out, c.Hash[:]...)
			if c.IsLeaf {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
		return out
	default:
		return []byte{wireKindNull}
	}
}

func (nodeValueCodec) DecodeValue(b []byte) (Node, error) {
	if len(b) == 0 {
		return Node{}, fmt.Errorf("jmt node: empty encoding")
	}
	switch b[0] {
	case wireKindNull:
		return NullNode, nil
	case wireKindLeaf:
		if len(b) != 65 {
			return Node{}, fmt.Errorf("jmt leaf node: expected 65 bytes, got %d", len(b))
		}
		var keyHash, valueID ledger.Hash
		copy(keyHash[:], b[1:33])
		copy(valueID[:], b[33:65])
		return Node{Kind: NodeLeaf, LeafKeyHash: keyHash, LeafValueID: valueID}, nil
	case wireKindInternal:
		if len(b) < 2 {
			return Node{}, fmt.Errorf("jmt internal node: truncated")
		}
		count := int(b[1])
		children := make([]Child, 0, count)
		offset := 2
		for i := 0; i < count; i++ {
			if offset+42 > len(b) {
				return Node{}, fmt.Errorf("jmt internal node: truncated child %d", i)
			}
			nibble := b[offset]
			version, err := ledger.DecodeStateVersion(b[offset+1 : offset+9])
			if err != nil {
				return Node{}, fmt.Errorf("jmt internal node: child %d: %w", i, err)
			}
			var h ledger.Hash
			copy(h[:], b[offset+9:offset+41])
			isLeaf := b[offset+41] == 1
			children = append(children, Child{Nibble: nibble, Version: version, Hash: h, IsLeaf: isLeaf})
			offset += 42
		}
		return Node{Kind: NodeInternal, Children: children}, nil
	default:
		return Node{}, fmt.Errorf("jmt node: unknown kind byte %d", b[0])
	}
}

var nodesTable = kv.NewTable[NodeKey, Node](kv.CFJMTNodes, kv.Codec[NodeKey, Node]{
	Key:   nodeKeyCodec{},
	Value: nodeValueCodec{},
})

// putSideMapValue and getSideMapValue are the untyped escape hatch used for the leaf-value
// side map, whose keys (LeafValueSideMapKey) share the jmt_nodes bucket
// but don't fit the NodeKey codec.
func putSideMapValue(batch *kv.Batch, leafValueID ledger.Hash, value []byte) error {
	return batch.Put(kv.CFJMTNodes, LeafValueSideMapKey(leafValueID), value)
}

func getSideMapValue(snap *kv.Snapshot, leafValueID ledger.Hash) ([]byte, bool, error) {
	return snap.Get(kv.CFJMTNodes, LeafValueSideMapKey(leafValueID))
}

// rootKeyCodec keys the per-version root pointer table.
type rootKeyCodec struct{}

func (rootKeyCodec) EncodeKey(v ledger.StateVersion) []byte { return v.Bytes() }
func (rootKeyCodec) DecodeKey(b []byte) (ledger.StateVersion, error) {
	return ledger.DecodeStateVersion(b)
}

var rootsTable = kv.NewTable[ledger.StateVersion, NodeKey](kv.CFNodeAncestry, kv.Codec[ledger.StateVersion, NodeKey]{
	Key:   rootKeyCodec{},
	Value: nodeKeyValueCodec{},
})

// nodeKeyValueCodec lets a NodeKey itself be stored as a value (the
// per-version root pointer).
type nodeKeyValueCodec struct{}

func (nodeKeyValueCodec) EncodeValue(k NodeKey) []byte { return k.Bytes() }
func (nodeKeyValueCodec) DecodeValue(b []byte) (NodeKey, error) {
	return DecodeNodeKey(b)
}
