// Package evaluator turns a fully expanded transaction into the StateDiff
// it produces, by collecting every predicate tree that governs the
// accounts it touches (the account's own predicates, every ancestor's
// predicates, and every intent's expectations), running each through the
// predicate VM, and only committing the proposed changes if all of them
// hold.
package evaluator

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"intent-chain/core"
	"intent-chain/core/vm"
)

// Predicator runs a single resolved predicate against an evaluation
// context and reports whether it held. *vm.VM satisfies this; evaluator
// depends on the interface rather than the concrete type both so it can be
// tested without a real sandbox and so a future lighter-weight VM tier (the
// reference codebase's own SuperLightVM/LightVM/HeavyVM split) can be
// substituted without touching this package.
type Predicator interface {
	Evaluate(pred core.ExpandedPredicate, context []byte, view core.State) (bool, error)
}

// Evaluator evaluates expanded transactions against a view of state.
type Evaluator struct {
	vm Predicator
}

// New builds an Evaluator backed by v.
func New(v Predicator) *Evaluator {
	return &Evaluator{vm: v}
}

type pendingChange struct {
	addr    core.Address
	current *core.ExpandedAccount
	next    *core.ExpandedAccount
}

// Evaluate computes the resulting account for every proposal in tx,
// collects the predicate trees that govern each one (its own account
// predicates plus every ancestor's), collects every intent's expectations,
// and runs them all through the VM. If every tree reduces to true, it
// returns the StateDiff the transaction produces. Otherwise it returns a
// typed error (ErrPredicateRejected, ErrVMTrap, ErrVMOutOfFuel) without
// mutating view — evaluation is read-only until every predicate has passed.
func (e *Evaluator) Evaluate(tx *core.ExpandedTransaction, view core.State) (*core.StateDiff, error) {
	ctxBlob, err := msgpack.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("evaluator: encode context: %w", err)
	}

	var pendings []pendingChange
	var rangeErr error
	tx.Proposals.ForEach(func(addr core.Address, change core.ExpandedAccountChange) {
		if rangeErr != nil {
			return
		}
		next, err := change.Apply(change.Current)
		if err != nil {
			rangeErr = fmt.Errorf("evaluator: account %s: %w", addr, err)
			return
		}
		pendings = append(pendings, pendingChange{addr: addr, current: change.Current, next: next})
	})
	if rangeErr != nil {
		return nil, rangeErr
	}

	for _, pc := range pendings {
		ok, err := e.accountPredicatesHold(pc, view, ctxBlob)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("evaluator: account %s: %w", pc.addr, core.ErrPredicateRejected)
		}
	}

	for i, intent := range tx.Intents {
		ok, err := e.evaluateTree(intent.Expectations, ctxBlob, view)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("evaluator: intent %d: %w", i, core.ErrPredicateRejected)
		}
	}

	diff := core.NewStateDiff()
	for _, pc := range pendings {
		if pc.next != nil {
			diff.Set(pc.addr, *pc.next)
		} else {
			diff.Remove(pc.addr)
		}
	}
	return diff, nil
}

// accountPredicatesHold reports whether every predicate tree governing
// pc.addr holds: the account's own predicates (as they stood before this
// change — an account cannot rewrite its own authorization in the same
// breath it uses to authorize a change) and every ancestor's predicates.
func (e *Evaluator) accountPredicatesHold(pc pendingChange, view core.State, ctxBlob []byte) (bool, error) {
	if pc.current != nil {
		ok, err := e.evaluateTree(pc.current.Predicates, ctxBlob, view)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	for _, ancestor := range pc.addr.Ancestors() {
		acc, err := view.Get(ancestor)
		if err != nil {
			return false, err
		}
		if acc == nil {
			continue
		}
		ok, err := e.evaluateTree(acc.Predicates, ctxBlob, view)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// evaluateTree runs every leaf of tree through the VM and reduces the
// result with the tree's own Not/And/Or structure. A nil tree holds
// unconditionally (an account with no predicates imposes no constraint).
// view is passed through to the VM unchanged, for syscall_read_account.
func (e *Evaluator) evaluateTree(tree *core.ExpandedTree, ctxBlob []byte, view core.State) (bool, error) {
	if tree == nil {
		return true, nil
	}

	var results []bool
	var leafErr error
	tree.ForEachLeaf(func(pred core.ExpandedPredicate) {
		if leafErr != nil {
			return
		}
		ok, err := e.vm.Evaluate(pred, ctxBlob, view)
		if err != nil {
			leafErr = translateVMError(err)
			return
		}
		results = append(results, ok)
	})
	if leafErr != nil {
		return false, leafErr
	}

	i := 0
	return tree.Reduce(func() bool {
		v := results[i]
		i++
		return v
	}), nil
}

func translateVMError(err error) error {
	switch {
	case errors.Is(err, vm.ErrOutOfBudget):
		return fmt.Errorf("evaluator: %w", core.ErrVMOutOfFuel)
	case errors.Is(err, vm.ErrTrap):
		return fmt.Errorf("evaluator: %w", core.ErrVMTrap)
	default:
		return err
	}
}
