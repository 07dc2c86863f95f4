package ledger

import (
	"bytes"
	"fmt"
)

// MaxNodeKeyLen bounds a substate node key. Spec invariant: node_key
// length is constant in a running system, but the wire format still
// carries an explicit length prefix so the codec never has to assume it.
const MaxNodeKeyLen = 32

// SubstateKey identifies the smallest addressable unit of ledger state:
// (node, partition, sort) -> bytes. NodeKey groups substates belonging to
// one entity; PartitionNum groups substates within that entity;
// SortKey orders substates within a partition.
type SubstateKey struct {
	NodeKey      []byte
	PartitionNum uint8
	SortKey      []byte
}

// Validate checks the node-key length bound.
func (k SubstateKey) Validate() error {
	if len(k.NodeKey) == 0 || len(k.NodeKey) > MaxNodeKeyLen {
		return fmt.Errorf("substate key: node key length %d out of range (1..%d)", len(k.NodeKey), MaxNodeKeyLen)
	}
	return nil
}

// PartitionKey is the (node, partition) pair a PartitionUpdates applies
// to; it is the unit a Reset replaces wholesale.
type PartitionKey struct {
	NodeKey      []byte
	PartitionNum uint8
}

// Equal reports whether two partition keys address the same partition.
func (k PartitionKey) Equal(other PartitionKey) bool {
	return k.PartitionNum == other.PartitionNum && bytes.Equal(k.NodeKey, other.NodeKey)
}

// DatabaseUpdateKind discriminates Set vs Delete.
type DatabaseUpdateKind uint8

const (
	UpdateSet DatabaseUpdateKind = iota
	UpdateDelete
)

// DatabaseUpdate is `Set(bytes) | Delete`, the smallest substate write.
type DatabaseUpdate struct {
	Kind  DatabaseUpdateKind
	Value []byte
}

// SetUpdate constructs a Set update.
func SetUpdate(value []byte) DatabaseUpdate {
	return DatabaseUpdate{Kind: UpdateSet, Value: value}
}

// DeleteUpdate constructs a Delete update.
func DeleteUpdate() DatabaseUpdate {
	return DatabaseUpdate{Kind: UpdateDelete}
}

// PartitionUpdatesKind discriminates Delta vs Reset.
type PartitionUpdatesKind uint8

const (
	PartitionDelta PartitionUpdatesKind = iota
	PartitionReset
)

// PartitionUpdates is `Delta{per-sort-key updates} | Reset{new map}`. A
// Reset semantically replaces the entire partition: the state hash tree
// records the old partition root as a single stale Subtree rather than
// one stale Node per removed leaf.
type PartitionUpdates struct {
	Kind  PartitionUpdatesKind
	Delta map[string]DatabaseUpdate // keyed by string(sort_key)
	Reset map[string][]byte         // keyed by string(sort_key); full replacement
}

// PartitionDiff pairs a partition's identity with its updates. PartitionKey
// embeds a []byte and so cannot itself be a map key; SubstateDiff keys its
// map by the partition's encoded string form instead (see
// PartitionKey.String) and carries the structured key alongside the value.
type PartitionDiff struct {
	Key     PartitionKey
	Updates PartitionUpdates
}

// String returns a canonical, comparable representation of k suitable for
// use as a map key.
func (k PartitionKey) String() string {
	return string(k.NodeKey) + "\x00" + string([]byte{k.PartitionNum})
}

// SubstateDiff is everything one commit changes, grouped by partition.
type SubstateDiff struct {
	Partitions map[string]PartitionDiff
}

// Merge folds other's partitions into d, in the order the transactions
// that produced them executed: a later Reset replaces whatever d already
// had for that partition outright (a reset wholesale replaces, so
// anything recorded before it within the same commit is moot); a later
// Delta against a partition d already has a Reset for is applied onto
// that Reset's replacement map instead of starting a new Delta entry,
// since the partition's net effect for this commit is still "replaced,
// then touched here"; otherwise same-kind entries merge key-by-key,
// later entries winning on conflicting sort keys. Used to combine each
// transaction's execution diff into the commit batch's single combined
// diff (spec §4.F step 6).
func (d *SubstateDiff) Merge(other SubstateDiff) {
	if len(other.Partitions) == 0 {
		return
	}
	if d.Partitions == nil {
		d.Partitions = make(map[string]PartitionDiff)
	}
	for k, incoming := range other.Partitions {
		existing, ok := d.Partitions[k]
		if !ok {
			d.Partitions[k] = incoming
			continue
		}
		switch incoming.Updates.Kind {
		case PartitionReset:
			d.Partitions[k] = incoming
		case PartitionDelta:
			switch existing.Updates.Kind {
			case PartitionReset:
				for sortKey, upd := range incoming.Updates.Delta {
					if upd.Kind == UpdateDelete {
						delete(existing.Updates.Reset, sortKey)
					} else {
						existing.Updates.Reset[sortKey] = upd.Value
					}
				}
				d.Partitions[k] = existing
			case PartitionDelta:
				for sortKey, upd := range incoming.Updates.Delta {
					existing.Updates.Delta[sortKey] = upd
				}
				d.Partitions[k] = existing
			}
		}
	}
}

// AddDelta records a per-sort-key update against a partition, creating the
// partition's delta entry on first use. Panics if the partition already
// has a Reset recorded (a partition is reset or delta'd within one commit,
// never both).
func (d *SubstateDiff) AddDelta(key PartitionKey, sortKey []byte, update DatabaseUpdate) {
	if d.Partitions == nil {
		d.Partitions = make(map[string]PartitionDiff)
	}
	k := key.String()
	entry, ok := d.Partitions[k]
	if !ok {
		entry = PartitionDiff{Key: key, Updates: PartitionUpdates{Kind: PartitionDelta, Delta: map[string]DatabaseUpdate{}}}
	}
	if entry.Updates.Kind != PartitionDelta {
		panic(fmt.Sprintf("substate diff: partition %x/%d already has a reset recorded", key.NodeKey, key.PartitionNum))
	}
	entry.Updates.Delta[string(sortKey)] = update
	d.Partitions[k] = entry
}

// SetReset records a full-partition replacement, overriding any delta
// previously recorded for the same partition within this diff.
func (d *SubstateDiff) SetReset(key PartitionKey, newValues map[string][]byte) {
	if d.Partitions == nil {
		d.Partitions = make(map[string]PartitionDiff)
	}
	d.Partitions[key.String()] = PartitionDiff{
		Key:     key,
		Updates: PartitionUpdates{Kind: PartitionReset, Reset: newValues},
	}
}
