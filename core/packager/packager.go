// Package packager resolves a freshly submitted, symbolic transaction into
// a fully expanded one: every account reference, proposal reference and
// calldata reference in every predicate is looked up against state (or
// against the transaction's own proposals) and replaced with its resolved
// payload, so the result is self-contained and can be scheduled and
// evaluated without touching state again to find out what a predicate is
// even talking about.
package packager

import (
	"fmt"

	"intent-chain/core"
)

// PackageTransaction resolves tx against state, producing a transaction
// ready for the scheduler and evaluator. It does not mutate state.
func PackageTransaction(tx *core.SymbolicTransaction, state core.State) (*core.ExpandedTransaction, error) {
	proposalStates, err := resolvedProposalStates(tx.Proposals, state)
	if err != nil {
		return nil, err
	}

	expandedProposals := core.NewProposals[core.ExpandedCode, core.ExpandedParam]()
	var rangeErr error
	tx.Proposals.ForEach(func(addr core.Address, change core.SymbolicAccountChange) {
		if rangeErr != nil {
			return
		}
		expanded, err := packageAccountChange(addr, change, state, proposalStates)
		if err != nil {
			rangeErr = fmt.Errorf("packager: account %s: %w", addr, err)
			return
		}
		expandedProposals.Set(addr, expanded)
	})
	if rangeErr != nil {
		return nil, rangeErr
	}

	expandedIntents := make([]*core.ExpandedIntent, len(tx.Intents))
	for i, intent := range tx.Intents {
		expanded, err := packageIntent(intent, state, proposalStates)
		if err != nil {
			return nil, fmt.Errorf("packager: intent %d: %w", i, err)
		}
		expandedIntents[i] = expanded
	}

	return &core.ExpandedTransaction{
		Intents:   expandedIntents,
		Proposals: expandedProposals,
		Producer:  tx.Producer,
		Signature: tx.Signature,
	}, nil
}

// resolvedProposalStates computes, for every proposed address, the raw
// account-state bytes a ProposalRef parameter pointing at it should see:
// the state an account would have immediately after this transaction's
// proposed change is applied. It also enforces the existence invariant each
// change kind requires, surfacing the same errors a direct
// AccountChange.Apply would.
func resolvedProposalStates(
	proposals *core.Proposals[core.SymbolicCode, core.SymbolicParam],
	state core.State,
) (map[core.Address][]byte, error) {
	out := make(map[core.Address][]byte, proposals.Len())
	var rangeErr error
	proposals.ForEach(func(addr core.Address, change core.SymbolicAccountChange) {
		if rangeErr != nil {
			return
		}
		current, err := state.Get(addr)
		if err != nil {
			rangeErr = err
			return
		}
		switch change.Kind {
		case core.ChangeCreateAccount:
			if current != nil {
				rangeErr = fmt.Errorf("account %s: %w", addr, core.ErrAccountAlreadyExists)
				return
			}
			out[addr] = change.NewAccount.State
		case core.ChangeReplaceState:
			if current == nil {
				rangeErr = fmt.Errorf("account %s: %w", addr, core.ErrAccountDoesNotExist)
				return
			}
			out[addr] = change.NewState
		case core.ChangeReplacePredicates:
			if current == nil {
				rangeErr = fmt.Errorf("account %s: %w", addr, core.ErrAccountDoesNotExist)
				return
			}
			out[addr] = current.State
		case core.ChangeDeleteAccount:
			if current == nil {
				rangeErr = fmt.Errorf("account %s: %w", addr, core.ErrAccountDoesNotExist)
				return
			}
			// No resulting state to reference; a ProposalRef against a
			// deleted account is only satisfiable if nothing dereferences
			// it, so this is left absent rather than erroring eagerly.
		}
	})
	if rangeErr != nil {
		return nil, rangeErr
	}
	return out, nil
}

func packageAccountChange(
	addr core.Address,
	change core.SymbolicAccountChange,
	state core.State,
	proposalStates map[core.Address][]byte,
) (core.ExpandedAccountChange, error) {
	switch change.Kind {
	case core.ChangeCreateAccount:
		tree, err := expandTree(change.NewAccount.Predicates, state, nil, proposalStates)
		if err != nil {
			return core.ExpandedAccountChange{}, err
		}
		// ChangeCreateAccount has no Current: the existence invariant
		// requires there to be none.
		return core.CreateAccountChange(core.NewAccount(change.NewAccount.State, tree)), nil
	case core.ChangeReplaceState:
		current, err := state.Get(addr)
		if err != nil {
			return core.ExpandedAccountChange{}, err
		}
		expanded := core.ReplaceStateChange[core.ExpandedCode, core.ExpandedParam](change.NewState)
		expanded.Current = current
		return expanded, nil
	case core.ChangeReplacePredicates:
		tree, err := expandTree(change.NewPredicates, state, nil, proposalStates)
		if err != nil {
			return core.ExpandedAccountChange{}, err
		}
		current, err := state.Get(addr)
		if err != nil {
			return core.ExpandedAccountChange{}, err
		}
		expanded := core.ReplacePredicatesChange(tree)
		expanded.Current = current
		return expanded, nil
	case core.ChangeDeleteAccount:
		current, err := state.Get(addr)
		if err != nil {
			return core.ExpandedAccountChange{}, err
		}
		expanded := core.DeleteAccountChange[core.ExpandedCode, core.ExpandedParam]()
		expanded.Current = current
		return expanded, nil
	default:
		return core.ExpandedAccountChange{}, fmt.Errorf("packager: unknown account change kind %d", change.Kind)
	}
}

func packageIntent(
	intent *core.SymbolicIntent,
	state core.State,
	proposalStates map[core.Address][]byte,
) (*core.ExpandedIntent, error) {
	tree, err := expandTree(intent.Expectations, state, intent.Calldata, proposalStates)
	if err != nil {
		return nil, err
	}
	return &core.ExpandedIntent{
		RecentBlockhash: intent.RecentBlockhash,
		Expectations:    tree,
		Calldata:        intent.Calldata,
	}, nil
}

func expandTree(
	tree *core.SymbolicTree,
	state core.State,
	calldata *core.Calldata,
	proposalStates map[core.Address][]byte,
) (*core.ExpandedTree, error) {
	if tree == nil {
		return nil, nil
	}
	return core.TryMapTree(tree, func(pred core.SymbolicPredicate) (core.ExpandedPredicate, error) {
		code, err := expandCode(pred.Code, state)
		if err != nil {
			return core.ExpandedPredicate{}, err
		}
		params := make([]core.ExpandedParam, len(pred.Params))
		for i, p := range pred.Params {
			ep, err := expandParam(p, state, calldata, proposalStates)
			if err != nil {
				return core.ExpandedPredicate{}, err
			}
			params[i] = ep
		}
		return core.ExpandedPredicate{Code: code, Params: params}, nil
	})
}

func expandCode(code core.SymbolicCode, state core.State) (core.ExpandedCode, error) {
	if !code.IsAccountRef() {
		return core.ExpandedCode{Code: code.Inline, Entrypoint: "predicate"}, nil
	}
	acc, err := state.Get(code.RefAddress)
	if err != nil {
		return core.ExpandedCode{}, err
	}
	if acc == nil {
		return core.ExpandedCode{}, fmt.Errorf("%s: %w", code.RefAddress, core.ErrCodeDoesNotExist)
	}
	return core.ExpandedCode{
		Code:       acc.State,
		Entrypoint: code.RefEntry,
		RefAddress: code.RefAddress,
		IsRef:      true,
	}, nil
}

func expandParam(
	p core.SymbolicParam,
	state core.State,
	calldata *core.Calldata,
	proposalStates map[core.Address][]byte,
) (core.ExpandedParam, error) {
	switch p.Kind {
	case core.ParamInline:
		return core.ExpandedParam{Kind: core.ParamInline, Data: p.Inline}, nil
	case core.ParamAccountRef:
		acc, err := state.Get(p.RefAddress)
		if err != nil {
			return core.ExpandedParam{}, err
		}
		if acc == nil {
			return core.ExpandedParam{}, fmt.Errorf("%s: %w", p.RefAddress, core.ErrAccountRefDoesNotExist)
		}
		return core.ExpandedParam{Kind: core.ParamAccountRef, RefAddress: p.RefAddress, Data: acc.State}, nil
	case core.ParamProposalRef:
		data, ok := proposalStates[p.RefAddress]
		if !ok {
			return core.ExpandedParam{}, fmt.Errorf("%s: %w", p.RefAddress, core.ErrProposalDoesNotExist)
		}
		return core.ExpandedParam{Kind: core.ParamProposalRef, RefAddress: p.RefAddress, Data: data}, nil
	case core.ParamCalldataRef:
		if calldata == nil {
			return core.ExpandedParam{}, fmt.Errorf("%s: %w", p.CalldataID, core.ErrCalldataNotFound)
		}
		data, ok := calldata.Get(p.CalldataID)
		if !ok {
			return core.ExpandedParam{}, fmt.Errorf("%s: %w", p.CalldataID, core.ErrCalldataNotFound)
		}
		return core.ExpandedParam{Kind: core.ParamCalldataRef, CalldataID: p.CalldataID, Data: data}, nil
	default:
		return core.ExpandedParam{}, fmt.Errorf("packager: unknown param kind %d", p.Kind)
	}
}
