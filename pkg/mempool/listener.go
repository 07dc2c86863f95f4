package mempool

import (
	"context"
	"time"

	"github.com/coreledger/corestate/pkg/notify"
)

// Listener applies commit-completion events to a Mempool and its
// PendingResultCache, closing spec §4.F step 7's hand-off ("hand
// committed user-transaction identifiers... to the mempool manager")
// without pkg/committer importing this package directly. Grounded on the
// teacher's pkg/events subscriber pattern (`sub := broker.Subscribe()`
// followed by `for event := range sub`), generalized from an unbounded
// select-on-EventType loop to the one fixed event this package cares
// about.
type Listener struct {
	Mempool *Mempool
	Cache   *PendingResultCache
}

// Run consumes events from sub until ctx is cancelled or the broker
// closes the subscription. Each event removes its committed intents'
// transactions from the pool and marks their pending records committed.
func (l *Listener) Run(ctx context.Context, sub notify.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			l.apply(event)
		}
	}
}

func (l *Listener) apply(event notify.CommitCompleted) {
	for _, intentHash := range event.CommittedIntentHashes {
		l.Mempool.RemoveByIntentHash(intentHash)
	}
	if l.Cache != nil {
		l.Cache.TrackCommittedTransactions(time.Now(), event.StateVersion, event.CommittedIntentHashes)
	}
}
