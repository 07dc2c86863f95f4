// Package accumulator implements the two epoch-aware, append-only
// Merkle accumulators of spec §4.D: one over ledger-transaction
// hashes, one over receipt hashes. Each is a Merkle Mountain Range —
// a frontier of complete-subtree "peak" hashes, one per set bit of the
// current leaf count — so appending a leaf touches O(log n) hashes
// rather than the whole history.
package accumulator

import (
	"encoding/binary"
	"fmt"

	"github.com/coreledger/corestate/pkg/kv"
	"github.com/coreledger/corestate/pkg/ledger"
)

// Frontier is the minimal state needed to append further leaves: the
// leaf count (whose binary representation selects which peaks are
// populated) and the peak hashes themselves, smallest subtree first.
type Frontier struct {
	LeafCount uint64
	Peaks     []ledger.Hash
}

// Slice is the diff one commit's appends produce: the new leaves and
// every new internal node created while folding them into the
// frontier — persisted per version (spec §4.D: "emits a slice...
// persisted per version").
type Slice struct {
	NewLeaves   []ledger.Hash
	NewInternal []ledger.Hash
	Frontier    Frontier
}

// Root folds the frontier's peaks into a single root hash, highest
// (largest-subtree) peak first, matching the order AppendLeaves folds
// new internal nodes.
func (f Frontier) Root() ledger.Hash {
	if len(f.Peaks) == 0 {
		return ledger.ZeroHash
	}
	root := f.Peaks[len(f.Peaks)-1]
	for i := len(f.Peaks) - 2; i >= 0; i-- {
		root = ledger.HashConcat(root[:], f.Peaks[i][:])
	}
	return root
}

// AppendLeaves folds leafHashes one at a time onto frontier, returning
// the updated frontier and the Slice describing every new node created.
func AppendLeaves(frontier Frontier, leafHashes []ledger.Hash) Slice {
	// Expand the compact peak list to one slot per bit of the leaf count.
	var peaks []ledger.Hash
	next := 0
	for level := 0; frontier.LeafCount>>uint(level) != 0; level++ {
		if bitSet(frontier.LeafCount, level) {
			peaks = append(peaks, frontier.Peaks[next])
			next++
		} else {
			peaks = append(peaks, ledger.ZeroHash)
		}
	}
	count := frontier.LeafCount
	var newInternal []ledger.Hash

	for _, leaf := range leafHashes {
		carry := leaf
		level := 0
		for level < len(peaks) && bitSet(count, level) {
			carry = ledger.HashConcat(peaks[level][:], carry[:])
			newInternal = append(newInternal, carry)
			peaks[level] = ledger.ZeroHash
			level++
		}
		if level == len(peaks) {
			peaks = append(peaks, carry)
		} else {
			peaks[level] = carry
		}
		count++
	}

	compact := make([]ledger.Hash, 0, len(peaks))
	for level, p := range peaks {
		if bitSet(count, level) {
			compact = append(compact, p)
		}
	}

	return Slice{
		NewLeaves:   leafHashes,
		NewInternal: newInternal,
		Frontier:    Frontier{LeafCount: count, Peaks: compact},
	}
}

func bitSet(n uint64, bit int) bool {
	return n&(1<<uint(bit)) != 0
}

// Accumulator persists one Merkle accumulator's per-version slices to a
// chosen column family.
type Accumulator struct {
	cf kv.ColumnFamily
}

// NewTransactionAccumulator builds the accumulator over ledger
// transaction hashes (kv.CFTxnAccuSlices).
func NewTransactionAccumulator() *Accumulator {
	return &Accumulator{cf: kv.CFTxnAccuSlices}
}

// NewReceiptAccumulator builds the accumulator over receipt hashes
// (kv.CFReceiptAccuSlices).
func NewReceiptAccumulator() *Accumulator {
	return &Accumulator{cf: kv.CFReceiptAccuSlices}
}

var sliceCodec = kv.Codec[ledger.StateVersion, Slice]{
	Key:   kv.StateVersionKeyCodec{},
	Value: sliceValueCodec{},
}

// Append commits leafHashes at newVersion, loading parentVersion's
// frontier (the empty frontier if parentVersion has no recorded slice,
// i.e. the very first commit or an epoch base), persisting the new
// slice, and returning the resulting root hash.
func (a *Accumulator) Append(batch *kv.Batch, parentVersion, newVersion ledger.StateVersion, leafHashes []ledger.Hash) (ledger.Hash, error) {
	table := kv.NewTable[ledger.StateVersion, Slice](a.cf, sliceCodec)

	frontier := Frontier{}
	if parentSlice, ok, err := table.GetFromBatch(batch, parentVersion); err != nil {
		return ledger.Hash{}, fmt.Errorf("accumulator append: load parent slice: %w", err)
	} else if ok {
		frontier = parentSlice.Frontier
	}

	slice := AppendLeaves(frontier, leafHashes)
	if err := table.Put(batch, newVersion, slice); err != nil {
		return ledger.Hash{}, fmt.Errorf("accumulator append: %w", err)
	}
	return slice.Frontier.Root(), nil
}

// ResetAtEpoch starts a fresh accumulator at newVersion — spec §4.D:
// "at epoch boundaries the accumulators reset conceptually (tracked via
// epoch_identifiers.state_version as the slice base)". The next Append
// whose parentVersion is newVersion starts from an empty frontier.
func (a *Accumulator) ResetAtEpoch(batch *kv.Batch, newVersion ledger.StateVersion) error {
	table := kv.NewTable[ledger.StateVersion, Slice](a.cf, sliceCodec)
	return table.Put(batch, newVersion, Slice{Frontier: Frontier{}})
}

// Root returns the root recorded at version, if any.
func (a *Accumulator) Root(snap *kv.Snapshot, version ledger.StateVersion) (ledger.Hash, bool, error) {
	table := kv.NewTable[ledger.StateVersion, Slice](a.cf, sliceCodec)
	slice, ok, err := table.Get(snap, version)
	if err != nil || !ok {
		return ledger.Hash{}, ok, err
	}
	return slice.Frontier.Root(), true, nil
}

// FrontierAt returns the frontier recorded at version, if any. Unlike
// Root, this exposes the full peak list so a caller can project the root
// a pending batch of leaves would produce (via AppendLeaves) before
// deciding whether to persist it.
func (a *Accumulator) FrontierAt(snap *kv.Snapshot, version ledger.StateVersion) (Frontier, bool, error) {
	table := kv.NewTable[ledger.StateVersion, Slice](a.cf, sliceCodec)
	slice, ok, err := table.Get(snap, version)
	if err != nil || !ok {
		return Frontier{}, ok, err
	}
	return slice.Frontier, true, nil
}

type sliceValueCodec struct{}

func (sliceValueCodec) EncodeValue(s Slice) []byte {
	out := make([]byte, 0, 8+4+len(s.NewLeaves)*32+4+len(s.NewInternal)*32+4+len(s.Frontier.Peaks)*32)
	var countBuf [8]byte
	binary.BigEndian.PutUint64(countBuf[:], s.Frontier.LeafCount)
	out = append(out, countBuf[:]...)
	out = appendHashList(out, s.NewLeaves)
	out = appendHashList(out, s.NewInternal)
	out = appendHashList(out, s.Frontier.Peaks)
	return out
}

func appendHashList(out []byte, hashes []ledger.Hash) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(hashes)))
	out = append(out, lenBuf[:]...)
	for _, h := range hashes {
		out = append(out, h[:]...)
	}
	return out
}

func readHashList(b []byte) ([]ledger.Hash, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("accumulator slice: truncated hash list length")
	}
	count := int(binary.BigEndian.Uint32(b[:4]))
	b = b[4:]
	if len(b) < count*32 {
		return nil, nil, fmt.Errorf("accumulator slice: truncated hash list body")
	}
	out := make([]ledger.Hash, count)
	for i := 0; i < count; i++ {
		copy(out[i][:], b[i*32:(i+1)*32])
	}
	return out, b[count*32:], nil
}

func (sliceValueCodec) DecodeValue(b []byte) (Slice, error) {
	if len(b) < 8 {
		return Slice{}, fmt.Errorf("accumulator slice: truncated leaf count")
	}
	leafCount := binary.BigEndian.Uint64(b[:8])
	rest := b[8:]

	newLeaves, rest, err := readHashList(rest)
	if err != nil {
		return Slice{}, err
	}
	newInternal, rest, err := readHashList(rest)
	if err != nil {
		return Slice{}, err
	}
	peaks, _, err := readHashList(rest)
	if err != nil {
		return Slice{}, err
	}
	return Slice{
		NewLeaves:   newLeaves,
		NewInternal: newInternal,
		Frontier:    Frontier{LeafCount: leafCount, Peaks: peaks},
	}, nil
}
