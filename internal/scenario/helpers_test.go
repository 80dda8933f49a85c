// Package scenario exercises packager, evaluator, scheduler and builder
// together against the end-to-end scenarios a real deployment would run:
// installing a predicate, minting and transferring a token balance, and
// rejecting malformed blocks and unauthorized transfers.
//
// There is no wasm module under test here (core/vm's sandbox is exercised
// directly in its own package). stdPredicator stands in for the VM, the
// same way evaluator's own tests substitute a fake Predicator: it resolves
// a small fixed set of builtin predicates by the tag carried in their
// inline code, exactly as the real VM would resolve a module by its
// content hash.
package scenario

import (
	"crypto/ed25519"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"intent-chain/core"
)

const (
	tagAny     = "std:any"
	tagUintGTE = "std:uint_gte"
	tagEd25519 = "std:ed25519"
)

// stdPredicator implements evaluator.Predicator against inline "bytecode"
// that is really just one of the tags above, so these tests can drive the
// real evaluator/scheduler/builder machinery without a wasm fixture.
type stdPredicator struct{}

func (stdPredicator) Evaluate(pred core.ExpandedPredicate, ctx []byte, view core.State) (bool, error) {
	switch string(pred.Code.Code) {
	case tagAny:
		return true, nil
	case tagUintGTE:
		if len(pred.Params) != 2 {
			return false, fmt.Errorf("scenario: uint_gte wants 2 params, got %d", len(pred.Params))
		}
		proposal, err := decodeUint64(pred.Params[0].Data)
		if err != nil {
			return false, err
		}
		current, err := decodeUint64(pred.Params[1].Data)
		if err != nil {
			return false, err
		}
		return proposal >= current, nil
	case tagEd25519:
		if len(pred.Params) != 3 {
			return false, fmt.Errorf("scenario: ed25519 wants 3 params, got %d", len(pred.Params))
		}
		pub, sig, msg := pred.Params[0].Data, pred.Params[1].Data, pred.Params[2].Data
		if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
			return false, nil
		}
		return ed25519.Verify(pub, msg, sig), nil
	default:
		return false, fmt.Errorf("scenario: unknown builtin predicate %q", pred.Code.Code)
	}
}

func decodeUint64(b []byte) (uint64, error) {
	var v uint64
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return 0, fmt.Errorf("scenario: decode uint64: %w", err)
	}
	return v, nil
}

func mustUint64(n uint64) []byte {
	b, err := msgpack.Marshal(n)
	if err != nil {
		panic(err)
	}
	return b
}

func anyExpandedLeaf() *core.ExpandedTree {
	return core.LeafTree(core.ExpandedPredicate{Code: core.ExpandedCode{Code: []byte(tagAny)}})
}

func immutableLeaf(tag string) *core.SymbolicTree {
	return core.LeafTree(core.SymbolicPredicate{Code: core.InlineCode([]byte(tag))})
}

func uintGTESymbolicLeaf(proposal, current core.SymbolicParam) *core.SymbolicTree {
	return core.LeafTree(core.SymbolicPredicate{
		Code:   core.InlineCode([]byte(tagUintGTE)),
		Params: []core.SymbolicParam{proposal, current},
	})
}

func ed25519SymbolicLeaf(pubkey, sig, msg core.SymbolicParam) *core.SymbolicTree {
	return core.LeafTree(core.SymbolicPredicate{
		Code:   core.InlineCode([]byte(tagEd25519)),
		Params: []core.SymbolicParam{pubkey, sig, msg},
	})
}

// walletPredicates builds the tree installed on every wallet this package
// creates: Or(uint_gte(proposal, 0), ed25519(ownerPub, no signature, no
// message)). The proposal reference is resolved once, at creation, so the
// first branch always holds and the tree does not gate later transfers;
// transferExpectations carries that check instead.
func walletPredicates(walletAddr core.Address, ownerPub ed25519.PublicKey) *core.SymbolicTree {
	return core.OrTree(
		uintGTESymbolicLeaf(core.ProposalRefParam(walletAddr), core.InlineParam(mustUint64(0))),
		ed25519SymbolicLeaf(core.InlineParam(ownerPub), core.InlineParam(nil), core.InlineParam(nil)),
	)
}

// transferExpectations is the intent-level authorization check a transfer
// out of fromAddr must satisfy: the proposed balance is not lower than the
// current one, or the owner's signature over msg is present in calldata.
// Unlike an account's own predicate tree (frozen at install time), an
// intent's expectations are resolved fresh against every transaction that
// carries them, so this is where a real balance/signature check belongs.
func transferExpectations(fromAddr core.Address, ownerPub ed25519.PublicKey) *core.SymbolicTree {
	return core.OrTree(
		uintGTESymbolicLeaf(core.ProposalRefParam(fromAddr), core.AccountRefParam(fromAddr)),
		ed25519SymbolicLeaf(core.InlineParam(ownerPub), core.CalldataRefParam("sig"), core.CalldataRefParam("msg")),
	)
}
