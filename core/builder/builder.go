// Package builder is the single point through which blocks are applied to
// chain state: it validates lineage, schedules and evaluates a block's
// transactions, and folds the result into both the account state and the
// predicate module cache.
package builder

import (
	"bytes"
	"fmt"

	"intent-chain/core"
	"intent-chain/core/scheduler"
)

// Evaluator is the subset of evaluator.Evaluator the builder depends on,
// kept as an interface so tests can substitute a fake instead of wiring a
// real VM.
type Evaluator interface {
	Evaluate(tx *core.ExpandedTransaction, view core.State) (*core.StateDiff, error)
}

// BlockStateBuilder keeps a bounded window of recent blocks for lineage
// checks and is the only type allowed to mutate state and codecache, and
// only by consuming a well-formed next block.
type BlockStateBuilder struct {
	historyLen int
	state      core.State
	codecache  core.State
	evaluate   Evaluator
	recent     []*core.Block // front = most recent
}

// NewBlockStateBuilder builds a builder seeded with a known chain tip
// (normally genesis) and, optionally, older blocks behind it, both newest
// first. historyLen bounds how many recent blocks are kept; at least one
// block must be supplied since there is no chain to extend otherwise.
func NewBlockStateBuilder(historyLen int, state, codecache core.State, eval Evaluator, recent ...*core.Block) (*BlockStateBuilder, error) {
	if historyLen <= 0 {
		return nil, fmt.Errorf("builder: history length must be positive")
	}
	if len(recent) == 0 {
		return nil, core.ErrNoInitialBlocks
	}
	kept := make([]*core.Block, len(recent))
	copy(kept, recent)
	if len(kept) > historyLen {
		kept = kept[:historyLen]
	}
	return &BlockStateBuilder{
		historyLen: historyLen,
		state:      state,
		codecache:  codecache,
		evaluate:   eval,
		recent:     kept,
	}, nil
}

// Last returns the current chain tip.
func (b *BlockStateBuilder) Last() *core.Block {
	return b.recent[0]
}

// Recent returns the kept window of recent blocks, newest first.
func (b *BlockStateBuilder) Recent() []*core.Block {
	out := make([]*core.Block, len(b.recent))
	copy(out, b.recent)
	return out
}

// Get implements core.State by delegating to the backing account store, so
// the builder itself can stand in for state wherever a read-only view is
// needed.
func (b *BlockStateBuilder) Get(addr core.Address) (*core.ExpandedAccount, error) {
	return b.state.Get(addr)
}

// Apply always panics: state may only change by consuming a block through
// Consume, never by an arbitrary diff applied out of band.
func (b *BlockStateBuilder) Apply(diff *core.StateDiff) error {
	panic("builder: direct state mutation is not allowed; consume a block instead")
}

// Consume validates block's lineage against the current tip, schedules and
// evaluates its transactions, and folds the resulting diff into both the
// account state and the predicate module cache. A transaction whose
// evaluation fails contributes nothing to the diff but does not abort the
// rest of the block.
func (b *BlockStateBuilder) Consume(block *core.Block) error {
	tip := b.Last()
	tipHash, err := tip.Hash()
	if err != nil {
		return fmt.Errorf("builder: hash current tip: %w", err)
	}
	if !bytes.Equal(tipHash, block.Parent) {
		return core.ErrInvalidBlockParent
	}
	if tip.Height+1 != block.Height {
		return core.ErrInvalidBlockHeight
	}

	outcomes := scheduler.ExecuteMany(b.state, block.Transactions, b.evaluate.Evaluate)

	merged := core.NewStateDiff()
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			continue
		}
		merged.Merge(outcome.Diff)
	}

	if err := b.codecache.Apply(tryPrecompilePredicates(merged)); err != nil {
		return fmt.Errorf("builder: update predicate cache: %w", err)
	}
	if err := b.state.Apply(merged); err != nil {
		return fmt.Errorf("builder: apply block diff: %w", err)
	}

	b.recent = append([]*core.Block{block}, b.recent...)
	if len(b.recent) > b.historyLen {
		b.recent = b.recent[:b.historyLen]
	}
	return nil
}
