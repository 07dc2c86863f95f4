package statetree

import (
	"fmt"

	"github.com/coreledger/corestate/pkg/kv"
	"github.com/coreledger/corestate/pkg/ledger"
)

// deleteBuffer accumulates pending node/stale-list deletes in memory,
// flushing to a fresh write batch once it reaches limit keys — bounding
// GC memory use per spec §4.C ("batched deletes with a bounded
// in-memory buffer").
type deleteBuffer struct {
	store    *kv.Store
	limit    int
	nodeKeys []NodeKey
	staleFor []ledger.StateVersion
}

func newDeleteBuffer(store *kv.Store, limit int) *deleteBuffer {
	return &deleteBuffer{store: store, limit: limit}
}

func (b *deleteBuffer) deleteNode(key NodeKey) error {
	b.nodeKeys = append(b.nodeKeys, key)
	return b.flushIfFull()
}

func (b *deleteBuffer) deleteStalePartList(version ledger.StateVersion) error {
	b.staleFor = append(b.staleFor, version)
	return b.flushIfFull()
}

func (b *deleteBuffer) flushIfFull() error {
	if len(b.nodeKeys)+len(b.staleFor) < b.limit {
		return nil
	}
	return b.flush()
}

// flush writes the buffered deletes through Store.AccessDirect rather
// than Store.Update: GC's deletes are confined to versions strictly
// below the retained history horizon, so they can never touch a row the
// Committer's exclusive Lock-held batch is writing, and taking that same
// lock here would serialize GC behind every commit for no reason (spec
// §5's three-mode lock design).
func (b *deleteBuffer) flush() error {
	if len(b.nodeKeys) == 0 && len(b.staleFor) == 0 {
		return nil
	}
	batch, err := b.store.AccessDirect()
	if err != nil {
		return err
	}
	if err := func() error {
		for _, key := range b.nodeKeys {
			if err := nodesTable.Delete(batch, key); err != nil {
				return fmt.Errorf("delete node %+v: %w", key, err)
			}
		}
		for _, version := range b.staleFor {
			lo, hi := stalePartsKeyCodec{}.EncodeGroupRange(version)
			if err := batch.DeleteRange(kv.CFStaleParts, lo, hi); err != nil {
				return fmt.Errorf("delete stale-part list at version %d: %w", version, err)
			}
		}
		return nil
	}(); err != nil {
		batch.Rollback()
		return err
	}
	if err := batch.Commit(); err != nil {
		return err
	}
	b.nodeKeys = b.nodeKeys[:0]
	b.staleFor = b.staleFor[:0]
	return nil
}
