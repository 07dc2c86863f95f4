package execution

import "github.com/coreledger/corestate/pkg/ledger"

// basicCommitBuilder is the in-package CommitBuilder implementation used
// by nullExecutor and available to any SeriesExecutor that has no reason
// to accumulate state beyond what spec §4.F step 6 writes. Real engines
// may implement CommitBuilder themselves against their own internal
// staging structures; this type exists so tests and the null executor do
// not need one.
type basicCommitBuilder struct {
	diffs        []ledger.SubstateDiff
	receiptHashes []ledger.Hash
}

func newBasicCommitBuilder() *basicCommitBuilder {
	return &basicCommitBuilder{}
}

// NewCommitBuilder constructs the default CommitBuilder. Exported so a
// SeriesExecutor implemented outside this package (or a test double) can
// return a working builder from StartCommitBuilder instead of nil.
func NewCommitBuilder() CommitBuilder {
	return newBasicCommitBuilder()
}

func (b *basicCommitBuilder) RecordDiff(diff ledger.SubstateDiff) {
	b.diffs = append(b.diffs, diff)
}

func (b *basicCommitBuilder) RecordReceiptHash(h ledger.Hash) {
	b.receiptHashes = append(b.receiptHashes, h)
}

func (b *basicCommitBuilder) Diffs() []ledger.SubstateDiff { return b.diffs }

func (b *basicCommitBuilder) ReceiptHashes() []ledger.Hash { return b.receiptHashes }
