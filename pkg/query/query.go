// Package query serves spec §4.B's two substate read paths behind one
// entry point: top-of-ledger, read straight out of kv.CFSubstates, and
// historical-at-version, read by walking pkg/statetree's state hash tree
// (spec §4.B: "required to reproduce the exact state observable at V for
// any V <= top-of-ledger within the configured history horizon").
package query

import (
	"github.com/coreledger/corestate/pkg/kv"
	"github.com/coreledger/corestate/pkg/ledger"
	"github.com/coreledger/corestate/pkg/statetree"
	"github.com/coreledger/corestate/pkg/substate"
)

// Querier opens read views against a store, choosing the top-of-ledger
// path or the state-hash-tree path depending on the requested version.
type Querier struct {
	store *kv.Store
	tree  *statetree.Tree
}

// NewQuerier builds a Querier over store, using a fresh state hash tree
// accessor to serve versions below top-of-ledger.
func NewQuerier(store *kv.Store) *Querier {
	return &Querier{store: store, tree: statetree.NewTree()}
}

// TopOfLedger opens a consistent top-of-ledger substate view. The caller
// must Close the returned snapshot once done reading.
func (q *Querier) TopOfLedger() (*substate.TopOfLedgerView, *kv.Snapshot, error) {
	snap, err := q.store.Snapshot()
	if err != nil {
		return nil, nil, err
	}
	return substate.NewTopOfLedgerView(snap), snap, nil
}

// At opens a historical substate view pinned to version, backed by the
// state hash tree rooted at that version. The caller must Close the
// returned snapshot once done reading.
func (q *Querier) At(version ledger.StateVersion) (*substate.HistoricalView, *kv.Snapshot, error) {
	snap, err := q.store.Snapshot()
	if err != nil {
		return nil, nil, err
	}
	return substate.NewHistoricalView(q.tree, version), snap, nil
}
