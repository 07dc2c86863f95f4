package execution

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/coreledger/corestate/pkg/ledger"
)

// cacheKey is (parent_transaction_root, next_transactions_digest) —
// spec §4.E's memoization key.
type cacheKey struct {
	parentTransactionRoot ledger.Hash
	nextTransactionsDigest ledger.Hash
}

// Result is what the cache stores per key: either a successful
// commit-shaped result or a rejection, matching ExecuteAndUpdateState's
// own result shape.
type Result struct {
	Commit *ProcessedCommitResult
	Reject *ProcessedRejectResult
}

// Cache memoizes execution results keyed by (parent_transaction_root,
// next_transactions_digest). The Committer looks a batch up only to count
// hits and misses; it executes every transaction whether or not the
// lookup hits, and no cached result replaces an execution. Backed by
// an LRU (the corpus's standard choice for bounded caches — see
// pkg/mempool's Pending-Result Cache) rather than an unbounded map, since
// a long-running node would otherwise accumulate one entry per
// speculative prepare forever.
type Cache struct {
	mu   sync.RWMutex
	lru  *lru.Cache[cacheKey, Result]
	base ledger.Hash
}

// NewCache builds a cache holding up to capacity entries.
func NewCache(capacity int) (*Cache, error) {
	l, err := lru.New[cacheKey, Result](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Digest hashes an ordered sequence of transaction ledger hashes into the
// cache key's "next_transactions_digest" component.
func Digest(transactionHashes []ledger.Hash) ledger.Hash {
	parts := make([][]byte, len(transactionHashes))
	for i, h := range transactionHashes {
		b := h
		parts[i] = b[:]
	}
	return ledger.HashConcat(parts...)
}

// Lookup returns a cached result for (parentRoot, digest), if present and
// still based on the cache's current progress base.
func (c *Cache) Lookup(parentRoot, digest ledger.Hash) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if parentRoot != c.base {
		return Result{}, false
	}
	return c.lru.Get(cacheKey{parentTransactionRoot: parentRoot, nextTransactionsDigest: digest})
}

// Store records a result for (parentRoot, digest).
func (c *Cache) Store(parentRoot, digest ledger.Hash, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(cacheKey{parentTransactionRoot: parentRoot, nextTransactionsDigest: digest}, result)
}

// ProgressBase rotates the cache at commit time (spec §4.E): entries keyed
// against a transaction root other than the new base can never hit again,
// so they are dropped outright rather than left to age out of the LRU on
// their own.
func (c *Cache) ProgressBase(transactionRoot ledger.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = transactionRoot
	for _, k := range c.lru.Keys() {
		if k.parentTransactionRoot != transactionRoot {
			c.lru.Remove(k)
		}
	}
}
