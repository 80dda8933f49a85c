// Package scheduler extracts each transaction's read/write set and
// schedules a batch of transactions into dependency-respecting waves so
// independent transactions execute in parallel while conflicting ones still
// execute in block order.
package scheduler

import (
	"runtime"
	"sync"

	"intent-chain/core"
)

// TransactionRefs is the conservative read/write set a transaction touches:
// every address whose account must be read to evaluate the transaction's
// predicates (including ancestors, since predicate evaluation always
// consults them), and every address the transaction proposes to change.
type TransactionRefs struct {
	Reads  map[core.Address]bool
	Writes map[core.Address]bool
}

// ExtractRefs walks every proposal and intent in tx, collecting the
// addresses referenced by AccountRef code, AccountRef/ProposalRef
// parameters, the written accounts themselves, and all of their ancestors.
func ExtractRefs(tx *core.ExpandedTransaction) TransactionRefs {
	writes := make(map[core.Address]bool)
	tx.Proposals.ForEach(func(addr core.Address, _ core.ExpandedAccountChange) {
		writes[addr] = true
	})

	reads := make(map[core.Address]bool)
	addRead := func(addr core.Address) {
		if !writes[addr] {
			reads[addr] = true
		}
		for _, ancestor := range addr.Ancestors() {
			if !writes[ancestor] {
				reads[ancestor] = true
			}
		}
	}

	walk := func(t *core.ExpandedTree) {
		if t == nil {
			return
		}
		t.ForEachLeaf(func(pred core.ExpandedPredicate) {
			if pred.Code.IsAccountRef() {
				addRead(pred.Code.RefAddress)
			}
			for _, p := range pred.Params {
				if p.IsAccountRef() || p.IsProposalRef() {
					addRead(p.RefAddress)
				}
			}
		})
	}

	tx.Proposals.ForEach(func(addr core.Address, change core.ExpandedAccountChange) {
		addRead(addr) // the current account must be read to validate the change
		switch change.Kind {
		case core.ChangeCreateAccount:
			walk(change.NewAccount.Predicates)
		case core.ChangeReplacePredicates:
			walk(change.NewPredicates)
		}
	})
	for _, intent := range tx.Intents {
		walk(intent.Expectations)
	}

	return TransactionRefs{Reads: reads, Writes: writes}
}

// conflicts reports whether a and b may not execute concurrently: either
// writes the other reads or writes, or reads what the other writes.
func conflicts(a, b TransactionRefs) bool {
	for addr := range a.Writes {
		if b.Writes[addr] || b.Reads[addr] {
			return true
		}
	}
	for addr := range a.Reads {
		if b.Writes[addr] {
			return true
		}
	}
	return false
}

// Outcome is one transaction's evaluation result: either a diff to merge
// into state, or an error. A per-transaction error never aborts the rest of
// the batch.
type Outcome struct {
	Diff *core.StateDiff
	Err  error
}

// EvaluateFunc evaluates a single transaction against a read-through view
// of state (base plus everything already committed by earlier waves in
// this batch) and returns the diff it produces.
type EvaluateFunc func(tx *core.ExpandedTransaction, view core.State) (*core.StateDiff, error)

// ExecuteMany schedules txs into dependency-respecting waves and evaluates
// each wave's transactions concurrently, bounded by GOMAXPROCS workers.
// Results are returned in the same order as txs regardless of the order
// transactions actually finish executing in.
func ExecuteMany(base core.State, txs []*core.ExpandedTransaction, evaluate EvaluateFunc) []Outcome {
	n := len(txs)
	results := make([]Outcome, n)
	if n == 0 {
		return results
	}

	refs := make([]TransactionRefs, n)
	for i, tx := range txs {
		refs[i] = ExtractRefs(tx)
	}

	// Conflicts are resolved by block order: if i < j conflict, j must wait
	// for i. This keeps execution deterministic and equivalent to running
	// the batch strictly in order, while independent transactions still run
	// in parallel.
	dependents := make([][]int, n)
	indegree := make([]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if conflicts(refs[i], refs[j]) {
				dependents[i] = append(dependents[i], j)
				indegree[j]++
			}
		}
	}

	maxWorkers := runtime.GOMAXPROCS(0)
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	sem := make(chan struct{}, maxWorkers)

	accumulated := core.NewStateDiff()
	wave := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			wave = append(wave, i)
		}
	}

	for len(wave) > 0 {
		view := core.NewOverlay(base, accumulated)
		var wg sync.WaitGroup
		wg.Add(len(wave))
		for _, idx := range wave {
			idx := idx
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				diff, err := evaluate(txs[idx], view)
				results[idx] = Outcome{Diff: diff, Err: err}
			}()
		}
		wg.Wait()

		var next []int
		for _, idx := range wave {
			if results[idx].Err == nil && results[idx].Diff != nil {
				accumulated.Merge(results[idx].Diff)
			}
			for _, dep := range dependents[idx] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		wave = next
	}

	return results
}
