package main

import (
	"fmt"
	"sync"

	"intent-chain/core"
	"intent-chain/core/builder"
	"intent-chain/core/packager"
	"intent-chain/core/scheduler"
)

// Mempool accumulates gossiped symbolic transactions between block-time
// ticks and produces the next candidate block on demand.
type Mempool struct {
	mu      sync.Mutex
	pending []*core.SymbolicTransaction
}

// NewMempool builds an empty Mempool.
func NewMempool() *Mempool {
	return &Mempool{}
}

// Submit queues a freshly gossiped transaction for inclusion in the next
// produced block.
func (m *Mempool) Submit(tx *core.SymbolicTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, tx)
}

// Produce packages and evaluates every currently pending transaction
// against b's committed state, drops whichever fail, and returns a
// candidate block extending b's tip together with the StateDiff that block
// would apply. It does not commit anything: the caller still has to hand
// the block to b.Consume.
func (m *Mempool) Produce(b *builder.BlockStateBuilder, eval builder.Evaluator) (*core.Block, *core.StateDiff, error) {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	if len(batch) == 0 {
		return nil, core.NewStateDiff(), nil
	}

	expanded := make([]*core.ExpandedTransaction, 0, len(batch))
	for _, tx := range batch {
		packaged, err := packager.PackageTransaction(tx, b)
		if err != nil {
			continue
		}
		expanded = append(expanded, packaged)
	}

	outcomes := scheduler.ExecuteMany(b, expanded, eval.Evaluate)

	diff := core.NewStateDiff()
	included := make([]*core.ExpandedTransaction, 0, len(expanded))
	for i, outcome := range outcomes {
		if outcome.Err != nil {
			continue
		}
		diff.Merge(outcome.Diff)
		included = append(included, expanded[i])
	}

	tip := b.Last()
	tipHash, err := tip.Hash()
	if err != nil {
		return nil, nil, fmt.Errorf("devnode: hash current tip: %w", err)
	}

	return core.NewBlock(tip, tipHash, included), diff, nil
}
