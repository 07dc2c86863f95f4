// Package substate implements the two substate database views of spec
// §4.B: a top-of-ledger view reading kv.CFSubstates directly, and a
// historical view at an arbitrary retained version V reading through
// the state hash tree.
package substate

import (
	"bytes"
	"fmt"

	"github.com/coreledger/corestate/pkg/kv"
	"github.com/coreledger/corestate/pkg/ledger"
)

var substatesTable = kv.NewGroupTable[ledger.SubstateKey, []byte, ledger.PartitionKey](
	kv.CFSubstates, kv.SubstateKeyCodec{}, kv.RawBytesCodec{})

// ApplyDiff writes diff's partitions into kv.CFSubstates, the
// top-of-ledger view's backing store: a delta partition sets or deletes
// one row per sort key, a reset partition clears every existing row in
// the partition group and writes newValues' rows in its place. Called
// from the same atomic batch as the state hash tree's own diff apply
// (spec §4.F step 6: "the substate updates, JMT update... in the same
// atomic batch").
func ApplyDiff(batch *kv.Batch, diff ledger.SubstateDiff) error {
	for _, pd := range diff.Partitions {
		switch pd.Updates.Kind {
		case ledger.PartitionDelta:
			for sortKey, upd := range pd.Updates.Delta {
				key := ledger.SubstateKey{NodeKey: pd.Key.NodeKey, PartitionNum: pd.Key.PartitionNum, SortKey: []byte(sortKey)}
				if upd.Kind == ledger.UpdateDelete {
					if err := substatesTable.Delete(batch, key); err != nil {
						return fmt.Errorf("apply diff: delete %x/%d: %w", pd.Key.NodeKey, pd.Key.PartitionNum, err)
					}
					continue
				}
				if err := substatesTable.Put(batch, key, upd.Value); err != nil {
					return fmt.Errorf("apply diff: set %x/%d: %w", pd.Key.NodeKey, pd.Key.PartitionNum, err)
				}
			}
		case ledger.PartitionReset:
			if err := substatesTable.DeleteGroup(batch, pd.Key); err != nil {
				return fmt.Errorf("apply diff: reset %x/%d: %w", pd.Key.NodeKey, pd.Key.PartitionNum, err)
			}
			for sortKey, value := range pd.Updates.Reset {
				key := ledger.SubstateKey{NodeKey: pd.Key.NodeKey, PartitionNum: pd.Key.PartitionNum, SortKey: []byte(sortKey)}
				if value == nil {
					continue
				}
				if err := substatesTable.Put(batch, key, value); err != nil {
					return fmt.Errorf("apply diff: reset write %x/%d: %w", pd.Key.NodeKey, pd.Key.PartitionNum, err)
				}
			}
		}
	}
	return nil
}

// TopOfLedgerView reads the current, uncommitted-to-history substate
// values directly out of the CFSubstates column family.
type TopOfLedgerView struct {
	snap *kv.Snapshot
}

// NewTopOfLedgerView wraps snap for substate reads.
func NewTopOfLedgerView(snap *kv.Snapshot) *TopOfLedgerView {
	return &TopOfLedgerView{snap: snap}
}

// Get returns the value at (partitionKey, sortKey), or ok=false if
// absent. Per DESIGN.md's pre-genesis Open Question resolution, an
// absent value is indistinguishable from "never created" and from "set
// then deleted". This view keeps no create-vs-delete history.
func (v *TopOfLedgerView) Get(partitionKey ledger.PartitionKey, sortKey []byte) ([]byte, bool, error) {
	key := ledger.SubstateKey{
		NodeKey:      partitionKey.NodeKey,
		PartitionNum: partitionKey.PartitionNum,
		SortKey:      sortKey,
	}
	return substatesTable.Get(v.snap, key)
}

// Entry is one (sort_key, value) pair within a partition.
type Entry struct {
	SortKey []byte
	Value   []byte
}

// ListEntriesFrom iterates every entry in partitionKey's partition with
// sort_key >= from (or from the start, if from is nil), stopping at the
// first key whose partition differs — spec §4.B's "iter<(sort_key,
// value)> ... terminating at the first key whose partition changes".
func (v *TopOfLedgerView) ListEntriesFrom(partitionKey ledger.PartitionKey, from []byte) ([]Entry, error) {
	lo, hi := kv.SubstateKeyCodec{}.EncodeGroupRange(partitionKey)
	if from != nil {
		withFrom := kv.SubstateKeyCodec{}.EncodeKey(ledger.SubstateKey{
			NodeKey:      partitionKey.NodeKey,
			PartitionNum: partitionKey.PartitionNum,
			SortKey:      from,
		})
		if bytes.Compare(withFrom, lo) > 0 {
			lo = withFrom
		}
	}
	rawIt, err := v.snap.IterateRange(kv.CFSubstates, lo, hi, kv.Forward)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	var out []Entry
	for rawIt.Next() {
		decoded, err := kv.SubstateKeyCodec{}.DecodeKey(rawIt.Key())
		if err != nil {
			return nil, fmt.Errorf("list entries: decode key: %w", err)
		}
		out = append(out, Entry{SortKey: decoded.SortKey, Value: append([]byte(nil), rawIt.Value()...)})
	}
	return out, nil
}

// HistoricalReader is the narrow capability pkg/statetree's JMT
// implements so pkg/substate can resolve a leaf at an arbitrary
// retained version without importing the tree package's internals
// (DESIGN NOTES §9: capability interface over the consumer, not the
// producer).
type HistoricalReader interface {
	// LeafValue resolves the substate leaf for key as observed at
	// version, returning ok=false if the entity/partition/sort-key
	// was never created by that version.
	LeafValue(snap *kv.Snapshot, version ledger.StateVersion, key ledger.SubstateKey) (value []byte, ok bool, err error)
}

// HistoricalView reproduces the exact substate state observable at a
// retained version V ≤ top-of-ledger, by resolving each key's leaf in
// the state hash tree rooted at V through its HistoricalReader.
type HistoricalView struct {
	reader  HistoricalReader
	version ledger.StateVersion
}

// NewHistoricalView builds a view pinned to version, backed by reader
// (normally a *statetree.Tree).
func NewHistoricalView(reader HistoricalReader, version ledger.StateVersion) *HistoricalView {
	return &HistoricalView{reader: reader, version: version}
}

// Get resolves (partitionKey, sortKey) as of the view's pinned version.
func (v *HistoricalView) Get(snap *kv.Snapshot, partitionKey ledger.PartitionKey, sortKey []byte) ([]byte, bool, error) {
	key := ledger.SubstateKey{
		NodeKey:      partitionKey.NodeKey,
		PartitionNum: partitionKey.PartitionNum,
		SortKey:      sortKey,
	}
	return v.reader.LeafValue(snap, v.version, key)
}

// Version returns the version this view is pinned to.
func (v *HistoricalView) Version() ledger.StateVersion { return v.version }
