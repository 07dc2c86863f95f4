package mempool

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/coreledger/corestate/pkg/execution"
	"github.com/coreledger/corestate/pkg/ledger"
	"github.com/coreledger/corestate/pkg/preparator"
	lru "github.com/hashicorp/golang-lru/v2"
)

// AttemptOutcome names the reason the most recent execution attempt
// against a payload did not result in a durable commit (spec.md §4.H
// rejection table). The zero value is used for a non-rejection
// (commitable) attempt.
type AttemptOutcome string

const (
	OutcomeFeeLoanNotRepaid    AttemptOutcome = "fee_loan_not_repaid"
	OutcomeErrorBeforeLoan     AttemptOutcome = "error_before_fee_loan"
	OutcomeEpochNotYetValid    AttemptOutcome = "epoch_not_yet_valid"
	OutcomeEpochNoLongerValid  AttemptOutcome = "epoch_no_longer_valid"
	OutcomeValidationPermanent AttemptOutcome = "validation_permanent"
	OutcomeIntentHashCommitted AttemptOutcome = "intent_hash_committed"
	OutcomeExecutionTookTooLong AttemptOutcome = "execution_took_too_long"
)

type permanence string

const (
	permanenceTemporary permanence = "temporary"
	permanencePayload   permanence = "payload_permanent"
	permanenceIntent    permanence = "intent_permanent"
)

const (
	temporaryBaseDelay             = 2 * time.Minute
	executionTooLongBaseDelay      = 10 * time.Minute
	maxRecalculationDelay          = 30 * time.Minute
	nonRejectionRecalculationDelay = 5 * time.Second
)

// Record is one payload's pending-result bookkeeping: the outcome of its
// last attempt, and when it may next be tried again.
type Record struct {
	IntentHash    ledger.Hash
	PayloadHash   ledger.Hash
	LastOutcome   AttemptOutcome
	LastDetail    string
	LastAttemptAt time.Time

	RejectionCount    int
	NonRejectionCount int

	// EarliestPermanentRejection is set once and never reset, the first
	// time an attempt returns a payload- or intent-permanent reason.
	EarliestPermanentRejection *AttemptOutcome

	// RecalculationDue is nil when recalculation_due = Never (a permanent
	// rejection); otherwise the time at which the transaction may be
	// retried.
	RecalculationDue *time.Time
}

type committedIntent struct {
	StateVersion ledger.StateVersion
	Timestamp    time.Time
}

// PendingResultCache is spec.md §4.H's Pending-Result Cache: an LRU of
// per-payload attempt history plus a companion LRU of recently-committed
// intents, used to avoid re-proposing transactions that are known to
// fail or have already landed under a different payload. It never blocks
// the mempool — a lookup miss or LRU eviction only means "no hint",
// never an error.
type PendingResultCache struct {
	mu sync.Mutex

	byPayload        *lru.Cache[ledger.Hash, *Record]
	committedIntents *lru.Cache[ledger.Hash, committedIntent]
	payloadsByIntent map[ledger.Hash]map[ledger.Hash]struct{}

	now func() time.Time
}

// NewPendingResultCache builds a cache with the given LRU capacities.
func NewPendingResultCache(payloadCapacity, committedIntentCapacity int) (*PendingResultCache, error) {
	byPayload, err := lru.New[ledger.Hash, *Record](payloadCapacity)
	if err != nil {
		return nil, fmt.Errorf("pending result cache: payload lru: %w", err)
	}
	committed, err := lru.New[ledger.Hash, committedIntent](committedIntentCapacity)
	if err != nil {
		return nil, fmt.Errorf("pending result cache: committed-intent lru: %w", err)
	}
	return &PendingResultCache{
		byPayload:        byPayload,
		committedIntents: committed,
		payloadsByIntent: make(map[ledger.Hash]map[ledger.Hash]struct{}),
		now:              time.Now,
	}, nil
}

// classify maps a preparator.ExecutionAttempt onto this cache's outcome
// and permanence vocabulary. A zero RejectReason means the attempt was a
// non-rejection (the transaction was commitable).
//
// The validator that distinguishes payload-permanent (too large,
// deserialization, signature) from intent-permanent (intent-hash
// rejected, header, id, call-data) validation failures lives in the
// out-of-scope execution engine (spec.md §1); this repository only sees
// preparator.AttemptValidationError as an undifferentiated kind, so both
// collapse to OutcomeValidationPermanent classified intent-permanent —
// the stricter of the two, since an intent-permanent rejection also
// blocks every other payload sharing the intent.
func classify(attempt preparator.ExecutionAttempt) (outcome AttemptOutcome, perm permanence, isRejection bool) {
	if attempt.RejectReason == "" && attempt.Kind != preparator.AttemptValidationError {
		return "", "", false
	}
	isRejection = true
	if attempt.Kind == preparator.AttemptValidationError {
		return OutcomeValidationPermanent, permanenceIntent, true
	}
	switch attempt.RejectReason {
	case execution.RejectFeeLoanNotRepaid:
		return OutcomeFeeLoanNotRepaid, permanenceTemporary, true
	case execution.RejectErrorBeforeLoan:
		return OutcomeErrorBeforeLoan, permanenceTemporary, true
	case execution.RejectEpochNotYetValid:
		return OutcomeEpochNotYetValid, permanenceTemporary, true
	case execution.RejectEpochNoLongerOK:
		return OutcomeEpochNoLongerValid, permanenceIntent, true
	case execution.RejectExecutionTooLong:
		return OutcomeExecutionTookTooLong, permanenceTemporary, true
	default:
		panic(fmt.Sprintf("pending result cache: unrecognized reject reason %q", attempt.RejectReason))
	}
}

func baseDelay(outcome AttemptOutcome) time.Duration {
	if outcome == OutcomeExecutionTookTooLong {
		return executionTooLongBaseDelay
	}
	return temporaryBaseDelay
}

// recalculationDelay computes base_delay × 2^max(0, (rejection_count − 1) −
// non_rejection_count/2), clamped to MAX_RECALCULATION_DELAY. The first
// rejection (rejection_count == 1, no intervening non-rejections) must
// therefore land on base_delay itself, doubling on each subsequent
// rejection — the −1 keeps rejection_count 1-indexed while the exponent
// is 0-indexed. The exponent's fractional halving of non-rejections isn't
// expressible through backoff.ExponentialBackOff's own stateful
// NextBackOff(), so the package is used only as the parameter holder
// (InitialInterval, Multiplier, MaxInterval) and the interval is computed
// directly from those fields (DESIGN.md Open Question resolution).
func recalculationDelay(outcome AttemptOutcome, rejectionCount, nonRejectionCount int) time.Duration {
	params := backoff.NewExponentialBackOff()
	params.InitialInterval = baseDelay(outcome)
	params.Multiplier = 2
	params.MaxInterval = maxRecalculationDelay

	exponent := (rejectionCount - 1) - nonRejectionCount/2
	if exponent < 0 {
		exponent = 0
	}
	delay := time.Duration(float64(params.InitialInterval) * math.Pow(params.Multiplier, float64(exponent)))
	if delay > params.MaxInterval {
		delay = params.MaxInterval
	}
	return delay
}

func ptrTime(t time.Time) *time.Time { return &t }

// TrackTransactionResult records the outcome of one execution attempt
// against payloadHash, called by the Preparator after every
// execute_no_state_update (spec.md §4.H "on any execution attempt").
// Satisfies preparator.ResultTracker.
func (c *PendingResultCache) TrackTransactionResult(intentHash, payloadHash ledger.Hash, attempt preparator.ExecutionAttempt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	rec, ok := c.byPayload.Get(payloadHash)
	if !ok {
		rec = &Record{IntentHash: intentHash, PayloadHash: payloadHash}
	}

	if c.payloadsByIntent[intentHash] == nil {
		c.payloadsByIntent[intentHash] = make(map[ledger.Hash]struct{})
	}
	c.payloadsByIntent[intentHash][payloadHash] = struct{}{}

	outcome, perm, isRejection := classify(attempt)
	rec.LastAttemptAt = now
	rec.LastDetail = attempt.Detail

	if !isRejection {
		rec.NonRejectionCount++
		if rec.EarliestPermanentRejection == nil {
			rec.RecalculationDue = ptrTime(now.Add(nonRejectionRecalculationDelay))
		}
		c.byPayload.Add(payloadHash, rec)
		return
	}

	rec.LastOutcome = outcome
	rec.RejectionCount++

	if perm == permanenceTemporary && rec.EarliestPermanentRejection == nil {
		rec.RecalculationDue = ptrTime(now.Add(recalculationDelay(outcome, rec.RejectionCount, rec.NonRejectionCount)))
	} else {
		if rec.EarliestPermanentRejection == nil {
			permanent := outcome
			rec.EarliestPermanentRejection = &permanent
		}
		rec.RecalculationDue = nil
	}

	c.byPayload.Add(payloadHash, rec)
}

// TrackCommittedTransactions records that intentHashes landed at
// resultantVersion: each intent is remembered in the committed-intent
// LRU, and every payload this cache has ever seen for that intent is
// marked permanently rejected with IntentHashCommitted (spec.md §4.H).
func (c *PendingResultCache) TrackCommittedTransactions(now time.Time, resultantVersion ledger.StateVersion, intentHashes []ledger.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, intent := range intentHashes {
		c.committedIntents.Add(intent, committedIntent{StateVersion: resultantVersion, Timestamp: now})

		for payload := range c.payloadsByIntent[intent] {
			rec, ok := c.byPayload.Get(payload)
			if !ok {
				rec = &Record{IntentHash: intent, PayloadHash: payload}
			}
			outcome := OutcomeIntentHashCommitted
			rec.LastOutcome = outcome
			rec.LastAttemptAt = now
			rec.RejectionCount++
			if rec.EarliestPermanentRejection == nil {
				rec.EarliestPermanentRejection = &outcome
			}
			rec.RecalculationDue = nil
			c.byPayload.Add(payload, rec)
		}
	}
}

// GetPendingTransactionRecord returns the stored record for payloadHash,
// if any; otherwise, if intentHash has already committed, synthesizes a
// transient IntentHashCommitted record. invalidFromEpoch is accepted for
// call-site symmetry with spec.md §4.H but does not change the lookup:
// epoch-scoped invalidation is the execution engine's concern (spec §1),
// not this cache's.
func (c *PendingResultCache) GetPendingTransactionRecord(intentHash, payloadHash ledger.Hash, invalidFromEpoch ledger.Epoch) (*Record, bool) {
	_ = invalidFromEpoch
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.byPayload.Get(payloadHash); ok {
		return rec, true
	}
	if committed, ok := c.committedIntents.Get(intentHash); ok {
		outcome := OutcomeIntentHashCommitted
		return &Record{
			IntentHash:                 intentHash,
			PayloadHash:                payloadHash,
			LastOutcome:                outcome,
			LastAttemptAt:              committed.Timestamp,
			EarliestPermanentRejection: &outcome,
		}, true
	}
	return nil, false
}
