// Package notify fans out commit-completion events from the Committer to
// whatever else in-process needs to react to a durable write — primarily
// the mempool manager (spec §4.F step 7: "hand committed user-transaction
// identifiers and nullifications to the mempool manager") — without the
// Committer importing the Mempool package directly.
package notify

import (
	"sync"
	"time"

	"github.com/coreledger/corestate/pkg/ledger"
)

// CommitCompleted is published once per durable commit, after the
// database write has become durable and the store's write lock has been
// released (spec §5: "mempool notification happens after the database
// write is durable").
type CommitCompleted struct {
	StateVersion          ledger.StateVersion
	CommittedIntentHashes []ledger.Hash
	Timestamp             time.Time
}

// Subscriber is a channel that receives commit-completion events.
type Subscriber chan CommitCompleted

// Broker fans a single authoritative stream of CommitCompleted events out
// to any number of subscribers, adapted from the teacher's
// pkg/events.Broker (authoritative subscriber set, buffered dispatch
// channel, drop-on-full-subscriber-buffer semantics) to one fixed event
// type instead of a string-keyed EventType enum.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	eventCh     chan CommitCompleted
	stopCh      chan struct{}
}

// NewBroker builds a Broker whose dispatch loop has not yet started.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan CommitCompleted, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's dispatch loop in its own goroutine.
func (b *Broker) Start() {
	go b.run()
}

// Stop halts the dispatch loop. Subsequent Publish calls are dropped.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe registers a new subscriber and returns its channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes sub.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish enqueues event for dispatch, stamping Timestamp if unset.
func (b *Broker) Publish(event CommitCompleted) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event CommitCompleted) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
