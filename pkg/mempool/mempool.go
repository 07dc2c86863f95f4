// Package mempool implements spec §4.H: the priority-ordered transaction
// pool the Preparator draws proposals from, and the pending-result cache
// that remembers why a transaction was last rejected so the gossip layer
// can avoid resubmitting it too soon.
//
// Grounded on the teacher's pkg/events.Broker split between an
// authoritative subscriber set and cheap derived views: Mempool keeps one
// authoritative payload-hash map plus index-only structures (a
// container/heap priority queue, an intent multi-index, an end-epoch
// index) that are always kept in sync with it rather than recomputed.
package mempool

import (
	"container/heap"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/coreledger/corestate/pkg/config"
	"github.com/coreledger/corestate/pkg/ledger"
	"github.com/coreledger/corestate/pkg/metrics"
)

// Source records who handed a transaction to the mempool.
type Source string

const (
	SourceGossip   Source = "gossip"
	SourceRPC      Source = "rpc"
	SourceInternal Source = "internal"
)

// Entry is one admitted transaction's mempool bookkeeping.
type Entry struct {
	PayloadHash   ledger.Hash
	IntentHash    ledger.Hash
	NotarizedHash ledger.Hash
	Raw           []byte
	TipPercentage uint32
	AddedAt       time.Time
	EndEpoch      ledger.Epoch
	Source        Source

	heapIndex int // position in Mempool.priority, maintained by container/heap
	listIndex int // position in Mempool.all, maintained by swap-remove
}

func (e *Entry) size() uint64 { return uint64(len(e.Raw)) }

// higherPriority reports whether a is proposed/retained before b: higher
// tip wins; ties broken by earlier AddedAt; final tiebreak by ascending
// NotarizedHash for determinism (spec.md §4.H).
func higherPriority(a, b *Entry) bool {
	if a.TipPercentage != b.TipPercentage {
		return a.TipPercentage > b.TipPercentage
	}
	if !a.AddedAt.Equal(b.AddedAt) {
		return a.AddedAt.Before(b.AddedAt)
	}
	return bytesLess(a.NotarizedHash[:], b.NotarizedHash[:])
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// priorityQueue is a container/heap.Interface ordered best-priority-first,
// the same indexed-heap shape as the corpus's own priority-queue
// consumer, the order book in core/amm.go.
type priorityQueue []*Entry

func (q priorityQueue) Len() int            { return len(q) }
func (q priorityQueue) Less(i, j int) bool  { return higherPriority(q[i], q[j]) }
func (q priorityQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIndex = i
	q[j].heapIndex = j
}

func (q *priorityQueue) Push(x any) {
	e := x.(*Entry)
	e.heapIndex = len(*q)
	*q = append(*q, e)
}

func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*q = old[:n-1]
	return e
}

// AddErrorKind discriminates add_transaction's structured failure modes.
type AddErrorKind string

const AddErrorPriorityThresholdNotMet AddErrorKind = "priority_threshold_not_met"

// PriorityThresholdNotMetError is returned when a new transaction cannot
// be admitted without evicting a transaction of equal or higher priority.
// MinTipRequired is nil when the pool could not free enough room at all
// (spec.md §4.H step 3); otherwise it names the tip the caller would need
// to beat the transaction that would have been evicted.
type PriorityThresholdNotMetError struct {
	MinTipRequired *uint32
	Tip            uint32
}

func (e *PriorityThresholdNotMetError) Error() string {
	if e.MinTipRequired == nil {
		return fmt.Sprintf("mempool: priority threshold not met: tip %d insufficient, pool exhausted", e.Tip)
	}
	return fmt.Sprintf("mempool: priority threshold not met: tip %d, need at least %d", e.Tip, *e.MinTipRequired)
}

// NewTransaction is add_transaction's input: the candidate's identity,
// payload, priority, and lifetime.
type NewTransaction struct {
	PayloadHash   ledger.Hash
	IntentHash    ledger.Hash
	NotarizedHash ledger.Hash
	Raw           []byte
	TipPercentage uint32
	EndEpoch      ledger.Epoch
	Source        Source
}

// Mempool is the priority-ordered pool of not-yet-committed transactions
// (spec §4.H). All mutation happens under a single RW lock (spec §5
// "mempool internal indexes are always mutated under its single RW
// lock").
type Mempool struct {
	mu sync.RWMutex

	limits config.MempoolConfig

	byPayload  map[ledger.Hash]*Entry
	priority   priorityQueue
	all        []*Entry // swap-remove backed, for O(k) random sampling
	byIntent   map[ledger.Hash]map[ledger.Hash]struct{}
	byEndEpoch map[ledger.Epoch]map[ledger.Hash]struct{}

	totalSize  uint64
	totalCount uint32
}

// New builds an empty Mempool bounded by limits.
func New(limits config.MempoolConfig) *Mempool {
	return &Mempool{
		limits:     limits,
		byPayload:  make(map[ledger.Hash]*Entry),
		byIntent:   make(map[ledger.Hash]map[ledger.Hash]struct{}),
		byEndEpoch: make(map[ledger.Epoch]map[ledger.Hash]struct{}),
	}
}

func (m *Mempool) fits(needSize uint64, needCount uint32) bool {
	return m.totalCount+needCount <= m.limits.MaxTransactionCount &&
		m.totalSize+needSize <= uint64(m.limits.MaxTotalTransactionsSize)
}

func (m *Mempool) fitsAfterFreeing(needSize uint64, needCount uint32, freedSize uint64, freedCount uint32) bool {
	return (m.totalCount-freedCount)+needCount <= m.limits.MaxTransactionCount &&
		(m.totalSize-freedSize)+needSize <= uint64(m.limits.MaxTotalTransactionsSize)
}

// AddTransaction runs spec.md §4.H's five-step admission algorithm.
func (m *Mempool) AddTransaction(tx NewTransaction, now time.Time) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byPayload[tx.PayloadHash]; exists {
		panic(fmt.Sprintf("mempool: duplicate payload hash %s on add_transaction", tx.PayloadHash))
	}

	candidate := &Entry{
		PayloadHash:   tx.PayloadHash,
		IntentHash:    tx.IntentHash,
		NotarizedHash: tx.NotarizedHash,
		Raw:           tx.Raw,
		TipPercentage: tx.TipPercentage,
		AddedAt:       now,
		EndEpoch:      tx.EndEpoch,
		Source:        tx.Source,
	}
	needSize, needCount := candidate.size(), uint32(1)

	if m.fits(needSize, needCount) {
		m.insertLocked(candidate)
		metrics.MempoolAdmissionsTotal.WithLabelValues("admitted").Inc()
		m.refreshGaugesLocked()
		return nil, nil
	}

	// Walk the priority index from lowest priority, accumulating eviction
	// candidates until both ceilings would be satisfiable.
	ordered := make([]*Entry, len(m.priority))
	copy(ordered, m.priority)
	sort.Slice(ordered, func(i, j int) bool { return higherPriority(ordered[j], ordered[i]) })

	var evicted []*Entry
	var freedSize uint64
	var freedCount uint32
	for _, e := range ordered {
		if m.fitsAfterFreeing(needSize, needCount, freedSize, freedCount) {
			break
		}
		evicted = append(evicted, e)
		freedSize += e.size()
		freedCount++
	}

	if !m.fitsAfterFreeing(needSize, needCount, freedSize, freedCount) {
		metrics.MempoolAdmissionsTotal.WithLabelValues("priority_threshold_not_met").Inc()
		return nil, &PriorityThresholdNotMetError{Tip: tx.TipPercentage}
	}

	// worst_evicted: the highest-priority transaction among those
	// tentatively chosen for eviction — the last one accumulated, since
	// ordered walks lowest-to-highest.
	worstEvicted := evicted[len(evicted)-1]
	if !higherPriority(candidate, worstEvicted) {
		min := worstEvicted.TipPercentage + 1
		metrics.MempoolAdmissionsTotal.WithLabelValues("priority_threshold_not_met").Inc()
		return nil, &PriorityThresholdNotMetError{MinTipRequired: &min, Tip: tx.TipPercentage}
	}

	for _, e := range evicted {
		m.removeLocked(e)
	}
	m.insertLocked(candidate)
	metrics.MempoolAdmissionsTotal.WithLabelValues("admitted").Inc()
	metrics.MempoolEvictionsTotal.Add(float64(len(evicted)))
	m.refreshGaugesLocked()
	return evicted, nil
}

func (m *Mempool) insertLocked(e *Entry) {
	m.byPayload[e.PayloadHash] = e
	heap.Push(&m.priority, e)

	e.listIndex = len(m.all)
	m.all = append(m.all, e)

	if m.byIntent[e.IntentHash] == nil {
		m.byIntent[e.IntentHash] = make(map[ledger.Hash]struct{})
	}
	m.byIntent[e.IntentHash][e.PayloadHash] = struct{}{}

	if m.byEndEpoch[e.EndEpoch] == nil {
		m.byEndEpoch[e.EndEpoch] = make(map[ledger.Hash]struct{})
	}
	m.byEndEpoch[e.EndEpoch][e.PayloadHash] = struct{}{}

	m.totalSize += e.size()
	m.totalCount++
}

func (m *Mempool) removeLocked(e *Entry) {
	delete(m.byPayload, e.PayloadHash)

	if e.heapIndex >= 0 && e.heapIndex < len(m.priority) && m.priority[e.heapIndex] == e {
		heap.Remove(&m.priority, e.heapIndex)
	}

	last := len(m.all) - 1
	if i := e.listIndex; i >= 0 && i <= last && m.all[i] == e {
		m.all[i] = m.all[last]
		m.all[i].listIndex = i
		m.all[last] = nil
		m.all = m.all[:last]
	}

	if set := m.byIntent[e.IntentHash]; set != nil {
		delete(set, e.PayloadHash)
		if len(set) == 0 {
			delete(m.byIntent, e.IntentHash)
		}
	}
	if set := m.byEndEpoch[e.EndEpoch]; set != nil {
		delete(set, e.PayloadHash)
		if len(set) == 0 {
			delete(m.byEndEpoch, e.EndEpoch)
		}
	}

	m.totalSize -= e.size()
	m.totalCount--
}

// RemoveByPayloadHash evicts one entry, if present.
func (m *Mempool) RemoveByPayloadHash(payloadHash ledger.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byPayload[payloadHash]
	if !ok {
		return
	}
	m.removeLocked(e)
	m.refreshGaugesLocked()
}

// RemoveByIntentHash evicts every payload sharing intentHash.
func (m *Mempool) RemoveByIntentHash(intentHash ledger.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.byIntent[intentHash]
	if !ok {
		return
	}
	payloads := make([]ledger.Hash, 0, len(set))
	for p := range set {
		payloads = append(payloads, p)
	}
	for _, p := range payloads {
		e, ok := m.byPayload[p]
		if !ok {
			panic(fmt.Sprintf("mempool: intent index referenced missing payload %s", p))
		}
		m.removeLocked(e)
	}
	m.refreshGaugesLocked()
}

// RemoveTransactionsWhereEndEpochExpired evicts every entry whose
// end-epoch is at or before epoch, using the end-epoch index rather than
// a full scan, and reports how many were removed.
func (m *Mempool) RemoveTransactionsWhereEndEpochExpired(epoch ledger.Epoch) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var toRemove []ledger.Hash
	for e, set := range m.byEndEpoch {
		if e > epoch {
			continue
		}
		for p := range set {
			toRemove = append(toRemove, p)
		}
	}
	for _, p := range toRemove {
		e, ok := m.byPayload[p]
		if !ok {
			panic(fmt.Sprintf("mempool: end-epoch index referenced missing payload %s", p))
		}
		m.removeLocked(e)
	}
	m.refreshGaugesLocked()
	return len(toRemove)
}

// GetProposalTransactions walks the priority index from highest priority,
// skipping excluded, accumulating up to maxCount transactions within
// maxBytes. Examined candidates are capped at max(maxCount, 1000) so a
// size-dominated limit can't force a full scan of the pool.
func (m *Mempool) GetProposalTransactions(maxCount uint32, maxBytes uint64, excluded map[ledger.Hash]struct{}) []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	examineCap := maxCount
	if examineCap < 1000 {
		examineCap = 1000
	}

	ordered := make([]*Entry, len(m.priority))
	copy(ordered, m.priority)
	sort.Slice(ordered, func(i, j int) bool { return higherPriority(ordered[i], ordered[j]) })

	var selected []*Entry
	var size uint64
	var count uint32
	for i, e := range ordered {
		if uint32(i) >= examineCap {
			break
		}
		if _, skip := excluded[e.PayloadHash]; skip {
			continue
		}
		if count >= maxCount || size+e.size() > maxBytes {
			continue
		}
		selected = append(selected, e)
		size += e.size()
		count++
	}
	return selected
}

// GetKRandomTransactions returns an expected-O(k) uniform sample without
// replacement, for gossip fan-out. Draws indices into the swap-remove
// backed all slice, redrawing on collision — cheap so long as k is much
// smaller than the pool size, which gossip sampling always is.
func (m *Mempool) GetKRandomTransactions(k int) []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.all)
	if k >= n {
		out := make([]*Entry, n)
		copy(out, m.all)
		return out
	}
	if k <= 0 {
		return nil
	}

	seen := make(map[int]struct{}, k)
	out := make([]*Entry, 0, k)
	for len(out) < k {
		i := rand.IntN(n)
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, m.all[i])
	}
	return out
}

// Len reports the current transaction count.
func (m *Mempool) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.all)
}

func (m *Mempool) refreshGaugesLocked() {
	metrics.MempoolSizeTransactions.Set(float64(m.totalCount))
	metrics.MempoolSizeBytes.Set(float64(m.totalSize))
}
