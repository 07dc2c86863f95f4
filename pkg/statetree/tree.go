package statetree

import (
	"fmt"

	"github.com/coreledger/corestate/pkg/kv"
	"github.com/coreledger/corestate/pkg/ledger"
)

// nibblesOf splits a 32-byte hash into 64 nibbles, high nibble first per
// byte — the path alphabet the tree branches on.
func nibblesOf(h ledger.Hash) NibblePath {
	out := make(NibblePath, 0, 64)
	for _, b := range h {
		out = append(out, b>>4, b&0x0F)
	}
	return out
}

// partitionPrefixPath is the path segment for one partition: the nibbles
// of a single hash over the node key followed by the partition number,
// so the entity and the partition share one tier. Every substate in the same partition
// shares this 64-nibble prefix, so the node at this depth is exactly
// that partition's subtree root — the node a partition reset marks
// stale as a single Subtree record (spec §4.C).
func partitionPrefixPath(key ledger.PartitionKey) NibblePath {
	prefixBytes := make([]byte, 0, len(key.NodeKey)+1)
	prefixBytes = append(prefixBytes, key.NodeKey...)
	prefixBytes = append(prefixBytes, key.PartitionNum)
	return nibblesOf(ledger.HashBytes(prefixBytes))
}

// substatePath is the full 128-nibble path a substate key occupies:
// its partition's prefix, followed by a sort-key-tier suffix.
func substatePath(key ledger.SubstateKey) NibblePath {
	prefix := partitionPrefixPath(ledger.PartitionKey{NodeKey: key.NodeKey, PartitionNum: key.PartitionNum})
	suffix := nibblesOf(ledger.HashBytes(key.SortKey))
	return append(prefix, suffix...)
}

// Update is one substate write to apply in a single commit: key
// identifies the substate, value is its new raw value (nil meaning the
// substate was deleted at this version — still written as a leaf whose
// LeafValueID is the zero hash; LeafValue reports such a leaf as absent,
// the same as a key that was never written).
type Update struct {
	Key   ledger.SubstateKey
	Value []byte // nil means deleted
}

// CommitResult is the diff produced by one Put (spec §4.C: "produces a
// diff {new_nodes, stale_parts}").
type CommitResult struct {
	Root       NodeKey
	RootHash   ledger.Hash
	StaleParts []StalePart
}

// Tree is the Jellyfish Merkle Tree over substate identity, versioned
// by ledger.StateVersion and backed by kv.CFJMTNodes / kv.CFStaleParts.
type Tree struct{}

// NewTree constructs the tree accessor. Tree is stateless; all state
// lives in the kv.Store passed to each call, matching pkg/kv's
// Store/Batch/Snapshot split.
func NewTree() *Tree { return &Tree{} }

// Put commits a batch of substate updates on top of parentVersion's
// tree (ledger.PreGenesis with no prior root for the very first
// commit), writing the new nodes and recording stale parts into batch,
// and returns the new root plus the diff.
func (t *Tree) Put(batch *kv.Batch, parentVersion ledger.StateVersion, newVersion ledger.StateVersion, updates []Update) (CommitResult, error) {
	// PreGenesis (version 0) has no recorded root until a genesis commit
	// writes one; GetFromBatch simply reports ok=false in that case,
	// which insertAtRoot treats as "start a fresh tree".
	parentRoot, haveParent, err := rootsTable.GetFromBatch(batch, parentVersion)
	if err != nil {
		return CommitResult{}, fmt.Errorf("jmt put: load parent root: %w", err)
	}

	var stale []StalePart
	currentRootKey := parentRoot
	currentRootPresent := haveParent

	for _, u := range updates {
		keyHash := ledger.HashBytes(kv.SubstateKeyCodec{}.EncodeKey(u.Key))
		path := substatePath(u.Key)

		var valueID ledger.Hash
		if u.Value != nil {
			valueID = ledger.HashBytes(u.Value)
			if err := putSideMapValue(batch, valueID, u.Value); err != nil {
				return CommitResult{}, fmt.Errorf("jmt put: side map: %w", err)
			}
		} else {
			valueID = ledger.ZeroHash
		}
		leaf := Node{Kind: NodeLeaf, LeafKeyHash: keyHash, LeafValueID: valueID}

		newRootKey, newStale, err := t.insertAtRoot(batch, newVersion, currentRootKey, currentRootPresent, path, leaf)
		if err != nil {
			return CommitResult{}, fmt.Errorf("jmt put: %w", err)
		}
		stale = append(stale, newStale...)
		currentRootKey = newRootKey
		currentRootPresent = true
	}

	if !currentRootPresent {
		// No parent root and no updates: the new version gets a fresh
		// empty (null) root. With a parent root and no updates, the
		// parent's root key is carried forward unchanged instead.
		currentRootKey = NodeKey{Version: newVersion, Path: nil}
		if err := nodesTable.Put(batch, currentRootKey, NullNode); err != nil {
			return CommitResult{}, fmt.Errorf("jmt put: write empty root: %w", err)
		}
	}

	if err := rootsTable.Put(batch, newVersion, currentRootKey); err != nil {
		return CommitResult{}, fmt.Errorf("jmt put: record root: %w", err)
	}
	if err := recordStaleParts(batch, newVersion, stale); err != nil {
		return CommitResult{}, err
	}

	rootNode, _, err := nodesTable.GetFromBatch(batch, currentRootKey)
	if err != nil {
		return CommitResult{}, fmt.Errorf("jmt put: reload root: %w", err)
	}
	return CommitResult{Root: currentRootKey, RootHash: rootNode.Hash(), StaleParts: stale}, nil
}

// insertAtRoot walks down from root (or creates a fresh path through an
// absent root) along path, writing new internal/leaf nodes at
// newVersion and collecting the stale parts superseded along the way.
func (t *Tree) insertAtRoot(batch *kv.Batch, newVersion ledger.StateVersion, root NodeKey, rootPresent bool, path NibblePath, leaf Node) (NodeKey, []StalePart, error) {
	var current Node
	if rootPresent {
		n, ok, err := nodesTable.GetFromBatch(batch, root)
		if err != nil {
			return NodeKey{}, nil, fmt.Errorf("load root %+v: %w", root, err)
		}
		if ok {
			current = n
		}
	}

	newKey, stale, err := t.insert(batch, newVersion, NibblePath{}, current, rootPresent, path, leaf)
	if err != nil {
		return NodeKey{}, nil, err
	}
	if rootPresent {
		stale = append(stale, StalePart{Kind: StaleNode, Key: root})
	}
	return newKey, stale, nil
}

// insert recursively places leaf at the position path descends to,
// starting from the node currently stored at prefix (absent if
// !present), returning the new node's key and any StaleNode entries for
// nodes it replaced along the way (the replaced root itself is handled
// by the caller).
func (t *Tree) insert(batch *kv.Batch, newVersion ledger.StateVersion, prefix NibblePath, current Node, present bool, path NibblePath, leaf Node) (NodeKey, []StalePart, error) {
	if len(path) == 0 {
		key := NodeKey{Version: newVersion, Path: append(NibblePath(nil), prefix...)}
		if err := nodesTable.Put(batch, key, leaf); err != nil {
			return NodeKey{}, nil, err
		}
		return key, nil, nil
	}

	if !present || current.Kind == NodeNull {
		// Absent subtree: build a fresh chain of single-child internal
		// nodes down to the leaf, deepest first.
		return t.buildChain(batch, newVersion, prefix, path, leaf)
	}

	if current.Kind == NodeLeaf {
		// A leaf occupies this position but the new key diverges (or
		// collides) here; since path is derived from a 256-bit hash,
		// collisions are treated as an update to the same leaf only
		// when the full paths match exactly, which insert() only
		// reaches with path fully consumed — so reaching here with a
		// non-empty path and an existing leaf is a genuine (if
		// astronomically unlikely) hash collision. Replace it; the
		// existing leaf becomes unreachable from the new root.
		return t.buildChain(batch, newVersion, prefix, path, leaf)
	}

	nibble := path[0]
	child, hasChild := current.ChildAt(nibble)
	var childNode Node
	childPresent := false
	if hasChild {
		var err error
		childKey := NodeKey{Version: child.Version, Path: append(append(NibblePath(nil), prefix...), nibble)}
		childNode, childPresent, err = nodesTable.GetFromBatch(batch, childKey)
		if err != nil {
			return NodeKey{}, nil, fmt.Errorf("load child at nibble %x: %w", nibble, err)
		}
	}

	childPrefix := append(append(NibblePath(nil), prefix...), nibble)
	newChildKey, childStale, err := t.insert(batch, newVersion, childPrefix, childNode, childPresent, path[1:], leaf)
	if err != nil {
		return NodeKey{}, nil, err
	}
	if hasChild {
		oldChildKey := NodeKey{Version: child.Version, Path: childPrefix}
		childStale = append(childStale, StalePart{Kind: StaleNode, Key: oldChildKey})
	}

	newChildNode, _, err := nodesTable.GetFromBatch(batch, newChildKey)
	if err != nil {
		return NodeKey{}, nil, err
	}
	updated := current.WithChild(Child{
		Nibble:  nibble,
		Version: newVersion,
		Hash:    newChildNode.Hash(),
		IsLeaf:  newChildNode.Kind == NodeLeaf,
	})
	newKey := NodeKey{Version: newVersion, Path: append(NibblePath(nil), prefix...)}
	if err := nodesTable.Put(batch, newKey, updated); err != nil {
		return NodeKey{}, nil, err
	}
	return newKey, childStale, nil
}

// buildChain writes a fresh single-child internal-node chain from
// prefix down through every remaining nibble in path, terminating in
// leaf, and returns the key of the node written at prefix.
func (t *Tree) buildChain(batch *kv.Batch, newVersion ledger.StateVersion, prefix NibblePath, path NibblePath, leaf Node) (NodeKey, []StalePart, error) {
	if len(path) == 0 {
		key := NodeKey{Version: newVersion, Path: append(NibblePath(nil), prefix...)}
		return key, nil, nodesTable.Put(batch, key, leaf)
	}
	nibble := path[0]
	childPrefix := append(append(NibblePath(nil), prefix...), nibble)
	childKey, _, err := t.buildChain(batch, newVersion, childPrefix, path[1:], leaf)
	if err != nil {
		return NodeKey{}, nil, err
	}
	childNode, _, err := nodesTable.GetFromBatch(batch, childKey)
	if err != nil {
		return NodeKey{}, nil, err
	}
	node := Node{Kind: NodeInternal, Children: []Child{{
		Nibble:  nibble,
		Version: newVersion,
		Hash:    childNode.Hash(),
		IsLeaf:  childNode.Kind == NodeLeaf,
	}}}
	key := NodeKey{Version: newVersion, Path: append(NibblePath(nil), prefix...)}
	if err := nodesTable.Put(batch, key, node); err != nil {
		return NodeKey{}, nil, err
	}
	return key, nil, nil
}

// resolveSideMap fetches the actual substate bytes a leaf points to. A
// zero LeafValueID means the substate was deleted at the version that
// wrote this leaf.
func (t *Tree) resolveSideMap(snap *kv.Snapshot, leaf Node) ([]byte, bool, error) {
	if leaf.LeafValueID == ledger.ZeroHash {
		return nil, false, nil
	}
	value, ok, err := getSideMapValue(snap, leaf.LeafValueID)
	if err != nil {
		return nil, false, fmt.Errorf("resolve side map: %w", err)
	}
	return value, ok, nil
}

// Root returns the root node key recorded for version.
func (t *Tree) Root(snap *kv.Snapshot, version ledger.StateVersion) (NodeKey, bool, error) {
	return rootsTable.Get(snap, version)
}

// LeafValue implements substate.HistoricalReader: resolve key's
// substate value as observed at version, by walking the tree rooted at
// version's root along the hash-of-key path down to its leaf, then the
// leaf_key -> value side map.
func (t *Tree) LeafValue(snap *kv.Snapshot, version ledger.StateVersion, key ledger.SubstateKey) ([]byte, bool, error) {
	root, ok, err := rootsTable.Get(snap, version)
	if err != nil {
		return nil, false, fmt.Errorf("leaf value: load root: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	keyHash := ledger.HashBytes(kv.SubstateKeyCodec{}.EncodeKey(key))
	path := substatePath(key)

	nodeKey := root
	node, ok, err := nodesTable.Get(snap, nodeKey)
	if err != nil {
		return nil, false, fmt.Errorf("leaf value: load root node: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	for {
		switch node.Kind {
		case NodeNull:
			return nil, false, nil
		case NodeLeaf:
			if node.LeafKeyHash != keyHash {
				return nil, false, nil
			}
			return t.resolveSideMap(snap, node)
		case NodeInternal:
			if len(path) == 0 {
				return nil, false, nil
			}
			child, ok := node.ChildAt(path[0])
			if !ok {
				return nil, false, nil
			}
			childKey := NodeKey{Version: child.Version, Path: append(append(NibblePath(nil), nodeKey.Path...), path[0])}
			next, ok, err := nodesTable.Get(snap, childKey)
			if err != nil {
				return nil, false, fmt.Errorf("leaf value: load child: %w", err)
			}
			if !ok {
				return nil, false, nil
			}
			nodeKey, node, path = childKey, next, path[1:]
		default:
			return nil, false, nil
		}
	}
}

// ResetPartition replaces an entire partition's contents in one step:
// the partition's old subtree (if any existed under parentVersion) is
// marked stale as a single Subtree record, and newValues becomes the
// partition's complete content at newVersion — spec §4.C's "when a
// partition is reset, the whole sub-tree root is marked stale as a
// single Subtree record".
func (t *Tree) ResetPartition(batch *kv.Batch, parentVersion, newVersion ledger.StateVersion, partitionKey ledger.PartitionKey, newValues map[string][]byte) (CommitResult, error) {
	prefix := partitionPrefixPath(partitionKey)

	globalRoot, globalRootPresent, err := rootsTable.GetFromBatch(batch, parentVersion)
	if err != nil {
		return CommitResult{}, fmt.Errorf("jmt reset partition: load parent root: %w", err)
	}

	oldPartitionRootKey, oldPartitionRootPresent, err := t.walkToPrefix(batch, globalRoot, globalRootPresent, prefix)
	if err != nil {
		return CommitResult{}, fmt.Errorf("jmt reset partition: locate old subtree: %w", err)
	}

	// Build the new partition subtree from scratch, directly at prefix,
	// ignoring any old content reachable there.
	subtreeRootKey := NodeKey{Version: newVersion, Path: append(NibblePath(nil), prefix...)}
	subtreePresent := false
	var subtreeNode Node
	var entryStale []StalePart
	for sortKey, value := range newValues {
		substateKey := ledger.SubstateKey{NodeKey: partitionKey.NodeKey, PartitionNum: partitionKey.PartitionNum, SortKey: []byte(sortKey)}
		keyHash := ledger.HashBytes(kv.SubstateKeyCodec{}.EncodeKey(substateKey))
		suffix := nibblesOf(ledger.HashBytes([]byte(sortKey)))

		valueID := ledger.ZeroHash
		if value != nil {
			valueID = ledger.HashBytes(value)
			if err := putSideMapValue(batch, valueID, value); err != nil {
				return CommitResult{}, fmt.Errorf("jmt reset partition: side map: %w", err)
			}
		}
		leaf := Node{Kind: NodeLeaf, LeafKeyHash: keyHash, LeafValueID: valueID}

		newKey, newStale, err := t.insert(batch, newVersion, prefix, subtreeNode, subtreePresent, suffix, leaf)
		if err != nil {
			return CommitResult{}, fmt.Errorf("jmt reset partition: %w", err)
		}
		entryStale = append(entryStale, newStale...)
		subtreeRootKey = newKey
		subtreePresent = true
		subtreeNode, _, err = nodesTable.GetFromBatch(batch, subtreeRootKey)
		if err != nil {
			return CommitResult{}, fmt.Errorf("jmt reset partition: reload subtree root: %w", err)
		}
	}
	if len(newValues) == 0 {
		subtreeNode = NullNode
		if err := nodesTable.Put(batch, subtreeRootKey, subtreeNode); err != nil {
			return CommitResult{}, fmt.Errorf("jmt reset partition: write empty subtree: %w", err)
		}
	}

	// Splice the new subtree into the full tree by rewriting ancestors
	// from the true root down to prefix.
	var globalRootNode Node
	if globalRootPresent {
		globalRootNode, _, err = nodesTable.GetFromBatch(batch, globalRoot)
		if err != nil {
			return CommitResult{}, fmt.Errorf("jmt reset partition: load global root: %w", err)
		}
	}
	newGlobalRootKey, spliceStale, err := t.insert(batch, newVersion, NibblePath{}, globalRootNode, globalRootPresent, prefix, subtreeNode)
	if err != nil {
		return CommitResult{}, fmt.Errorf("jmt reset partition: splice: %w", err)
	}

	// Upgrade the splice's StaleNode entry for the old partition root
	// (if any) to StaleSubtree, since its entire subtree — not just that
	// one node — is superseded.
	stale := append(entryStale, spliceStale...)
	for i, p := range stale {
		if oldPartitionRootPresent && p.Key.Version == oldPartitionRootKey.Version && string(p.Key.Path) == string(oldPartitionRootKey.Path) {
			stale[i].Kind = StaleSubtree
		}
	}
	if globalRootPresent {
		stale = append(stale, StalePart{Kind: StaleNode, Key: globalRoot})
	}

	if err := rootsTable.Put(batch, newVersion, newGlobalRootKey); err != nil {
		return CommitResult{}, fmt.Errorf("jmt reset partition: record root: %w", err)
	}
	if err := recordStaleParts(batch, newVersion, stale); err != nil {
		return CommitResult{}, err
	}

	newGlobalRootNode, _, err := nodesTable.GetFromBatch(batch, newGlobalRootKey)
	if err != nil {
		return CommitResult{}, fmt.Errorf("jmt reset partition: reload root: %w", err)
	}
	return CommitResult{Root: newGlobalRootKey, RootHash: newGlobalRootNode.Hash(), StaleParts: stale}, nil
}

// ApplyDiff commits every partition in diff on top of parentVersion's
// tree in a single step: delta partitions thread through the same
// per-substate insert Put uses, reset partitions splice in a fresh
// subtree the way ResetPartition does, and exactly one stale-part list
// is recorded at newVersion. Grounded on Put and ResetPartition's own
// bodies rather than calling them in sequence — each records its own
// stale-part list starting at sequence 0, and two such calls for the
// same newVersion would overwrite each other's entries in
// kv.CFStaleParts. Spec §4.F step 6 requires the whole commit's
// substate updates and JMT update land in one atomic batch; this is
// the entry point the Committer calls to do that (spec §4.C).
func (t *Tree) ApplyDiff(batch *kv.Batch, parentVersion, newVersion ledger.StateVersion, diff ledger.SubstateDiff) (CommitResult, error) {
	currentRootKey, currentRootPresent, err := rootsTable.GetFromBatch(batch, parentVersion)
	if err != nil {
		return CommitResult{}, fmt.Errorf("jmt apply diff: load parent root: %w", err)
	}

	var stale []StalePart

	for _, pd := range diff.Partitions {
		switch pd.Updates.Kind {
		case ledger.PartitionDelta:
			for sortKey, upd := range pd.Updates.Delta {
				substateKey := ledger.SubstateKey{NodeKey: pd.Key.NodeKey, PartitionNum: pd.Key.PartitionNum, SortKey: []byte(sortKey)}
				keyHash := ledger.HashBytes(kv.SubstateKeyCodec{}.EncodeKey(substateKey))
				path := substatePath(substateKey)

				valueID := ledger.ZeroHash
				if upd.Kind == ledger.UpdateSet {
					valueID = ledger.HashBytes(upd.Value)
					if err := putSideMapValue(batch, valueID, upd.Value); err != nil {
						return CommitResult{}, fmt.Errorf("jmt apply diff: side map: %w", err)
					}
				}
				leaf := Node{Kind: NodeLeaf, LeafKeyHash: keyHash, LeafValueID: valueID}

				newRootKey, newStale, err := t.insertAtRoot(batch, newVersion, currentRootKey, currentRootPresent, path, leaf)
				if err != nil {
					return CommitResult{}, fmt.Errorf("jmt apply diff: %w", err)
				}
				stale = append(stale, newStale...)
				currentRootKey, currentRootPresent = newRootKey, true
			}

		case ledger.PartitionReset:
			prefix := partitionPrefixPath(pd.Key)

			oldPartitionRootKey, oldPartitionRootPresent, err := t.walkToPrefix(batch, currentRootKey, currentRootPresent, prefix)
			if err != nil {
				return CommitResult{}, fmt.Errorf("jmt apply diff: locate old subtree: %w", err)
			}

			subtreeRootKey := NodeKey{Version: newVersion, Path: append(NibblePath(nil), prefix...)}
			subtreePresent := false
			var subtreeNode Node
			var entryStale []StalePart
			for sortKey, value := range pd.Updates.Reset {
				substateKey := ledger.SubstateKey{NodeKey: pd.Key.NodeKey, PartitionNum: pd.Key.PartitionNum, SortKey: []byte(sortKey)}
				keyHash := ledger.HashBytes(kv.SubstateKeyCodec{}.EncodeKey(substateKey))
				suffix := nibblesOf(ledger.HashBytes([]byte(sortKey)))

				valueID := ledger.ZeroHash
				if value != nil {
					valueID = ledger.HashBytes(value)
					if err := putSideMapValue(batch, valueID, value); err != nil {
						return CommitResult{}, fmt.Errorf("jmt apply diff: reset side map: %w", err)
					}
				}
				leaf := Node{Kind: NodeLeaf, LeafKeyHash: keyHash, LeafValueID: valueID}

				newKey, newStale, err := t.insert(batch, newVersion, prefix, subtreeNode, subtreePresent, suffix, leaf)
				if err != nil {
					return CommitResult{}, fmt.Errorf("jmt apply diff: reset: %w", err)
				}
				entryStale = append(entryStale, newStale...)
				subtreeRootKey = newKey
				subtreePresent = true
				subtreeNode, _, err = nodesTable.GetFromBatch(batch, subtreeRootKey)
				if err != nil {
					return CommitResult{}, fmt.Errorf("jmt apply diff: reload subtree root: %w", err)
				}
			}
			if len(pd.Updates.Reset) == 0 {
				subtreeNode = NullNode
				if err := nodesTable.Put(batch, subtreeRootKey, subtreeNode); err != nil {
					return CommitResult{}, fmt.Errorf("jmt apply diff: write empty subtree: %w", err)
				}
			}

			var globalRootNode Node
			if currentRootPresent {
				globalRootNode, _, err = nodesTable.GetFromBatch(batch, currentRootKey)
				if err != nil {
					return CommitResult{}, fmt.Errorf("jmt apply diff: load global root: %w", err)
				}
			}
			newGlobalRootKey, spliceStale, err := t.insert(batch, newVersion, NibblePath{}, globalRootNode, currentRootPresent, prefix, subtreeNode)
			if err != nil {
				return CommitResult{}, fmt.Errorf("jmt apply diff: splice: %w", err)
			}

			resetStale := append(entryStale, spliceStale...)
			for i, p := range resetStale {
				if oldPartitionRootPresent && p.Key.Version == oldPartitionRootKey.Version && string(p.Key.Path) == string(oldPartitionRootKey.Path) {
					resetStale[i].Kind = StaleSubtree
				}
			}
			if currentRootPresent {
				resetStale = append(resetStale, StalePart{Kind: StaleNode, Key: currentRootKey})
			}
			stale = append(stale, resetStale...)
			currentRootKey, currentRootPresent = newGlobalRootKey, true
		}
	}

	if !currentRootPresent {
		currentRootKey = NodeKey{Version: newVersion, Path: nil}
		if err := nodesTable.Put(batch, currentRootKey, NullNode); err != nil {
			return CommitResult{}, fmt.Errorf("jmt apply diff: write empty root: %w", err)
		}
	}

	if err := rootsTable.Put(batch, newVersion, currentRootKey); err != nil {
		return CommitResult{}, fmt.Errorf("jmt apply diff: record root: %w", err)
	}
	if err := recordStaleParts(batch, newVersion, stale); err != nil {
		return CommitResult{}, err
	}

	rootNode, _, err := nodesTable.GetFromBatch(batch, currentRootKey)
	if err != nil {
		return CommitResult{}, fmt.Errorf("jmt apply diff: reload root: %w", err)
	}
	return CommitResult{Root: currentRootKey, RootHash: rootNode.Hash(), StaleParts: stale}, nil
}

// walkToPrefix descends from root along prefix, returning the node key
// found at that exact depth, if the path is fully populated.
func (t *Tree) walkToPrefix(batch *kv.Batch, root NodeKey, rootPresent bool, prefix NibblePath) (NodeKey, bool, error) {
	if !rootPresent {
		return NodeKey{}, false, nil
	}
	nodeKey := root
	node, ok, err := nodesTable.GetFromBatch(batch, nodeKey)
	if err != nil || !ok {
		return NodeKey{}, false, err
	}
	for _, nibble := range prefix {
		if node.Kind != NodeInternal {
			return NodeKey{}, false, nil
		}
		child, ok := node.ChildAt(nibble)
		if !ok {
			return NodeKey{}, false, nil
		}
		childKey := NodeKey{Version: child.Version, Path: append(append(NibblePath(nil), nodeKey.Path...), nibble)}
		next, ok, err := nodesTable.GetFromBatch(batch, childKey)
		if err != nil || !ok {
			return NodeKey{}, false, err
		}
		nodeKey, node = childKey, next
	}
	return nodeKey, true, nil
}
