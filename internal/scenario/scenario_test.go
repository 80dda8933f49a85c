package scenario

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"reflect"
	"testing"

	"intent-chain/core"
	"intent-chain/core/builder"
	"intent-chain/core/evaluator"
	"intent-chain/core/packager"
	"intent-chain/core/scheduler"
)

// S1 — Genesis and stdlib install. Starting from an empty store, installing
// bytecode at /predicates/std with an immutable_state && immutable_predicates
// predicate tree succeeds once; a second install to the same address is
// rejected in packaging, before the evaluator ever runs.
func TestS1GenesisAndStdlibInstall(t *testing.T) {
	state := core.NewInMemoryStateStore()
	stdAddr := core.MustAddress("/predicates/std")
	bytecode := []byte("\x00asm-stdlib-bytecode")

	install := func() *core.SymbolicTransaction {
		tx := &core.SymbolicTransaction{Proposals: core.NewProposals[core.SymbolicCode, core.SymbolicParam]()}
		tx.Proposals.Set(stdAddr, core.CreateAccountChange(core.SymbolicAccount{
			State: bytecode,
			Predicates: core.AndTree(
				immutableLeaf("std:immutable_state"),
				immutableLeaf("std:immutable_predicates"),
			),
		}))
		return tx
	}

	expanded, err := packager.PackageTransaction(install(), state)
	if err != nil {
		t.Fatalf("package install: %v", err)
	}

	eval := evaluator.New(stdPredicator{})
	diff, err := eval.Evaluate(expanded, state)
	if err != nil {
		t.Fatalf("evaluate install: %v", err)
	}
	if diff.Len() != 1 {
		t.Fatalf("expected 1 diff entry, got %d", diff.Len())
	}
	if err := state.Apply(diff); err != nil {
		t.Fatalf("apply install diff: %v", err)
	}

	got, err := state.Get(stdAddr)
	if err != nil {
		t.Fatalf("get installed account: %v", err)
	}
	if got == nil || !bytes.Equal(got.State, bytecode) {
		t.Fatalf("expected installed bytecode at %s, got %+v", stdAddr, got)
	}

	_, err = packager.PackageTransaction(install(), state)
	if !errors.Is(err, core.ErrAccountAlreadyExists) {
		t.Fatalf("expected a second install to fail with ErrAccountAlreadyExists, got %v", err)
	}
}

// installTokenAccount seeds a token contract account directly into state
// (bypassing packaging, since nothing governs its own installation here)
// with a permissive "any" predicate, so token-level changes are gated only
// by the wallet/intent checks under test.
func installTokenAccount(t *testing.T, state *core.InMemoryStateStore, addr core.Address, balance uint64) {
	t.Helper()
	diff := core.NewStateDiff()
	diff.Set(addr, core.ExpandedAccount{State: mustUint64(balance), Predicates: anyExpandedLeaf()})
	if err := state.Apply(diff); err != nil {
		t.Fatalf("seed token account: %v", err)
	}
}

// S2 — Token mint. With /token/usdx installed, minting 1000 to a fresh
// wallet produces exactly the diff and predicate shape the mint call
// promises.
func TestS2TokenMint(t *testing.T) {
	state := core.NewInMemoryStateStore()
	tokenAddr := core.MustAddress("/token/usdx")
	walletAddr := core.MustAddress("/token/usdx/wallet1.eth")
	installTokenAccount(t, state, tokenAddr, 0)

	ownerPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate wallet key: %v", err)
	}

	tx := &core.SymbolicTransaction{Proposals: core.NewProposals[core.SymbolicCode, core.SymbolicParam]()}
	tx.Proposals.Set(walletAddr, core.CreateAccountChange(core.SymbolicAccount{
		State:      mustUint64(1000),
		Predicates: walletPredicates(walletAddr, ownerPub),
	}))
	tx.Proposals.Set(tokenAddr, core.ReplaceStateChange[core.SymbolicCode, core.SymbolicParam](mustUint64(1000)))

	expanded, err := packager.PackageTransaction(tx, state)
	if err != nil {
		t.Fatalf("package mint: %v", err)
	}

	diff, err := evaluator.New(stdPredicator{}).Evaluate(expanded, state)
	if err != nil {
		t.Fatalf("evaluate mint: %v", err)
	}
	if diff.Len() != 2 {
		t.Fatalf("expected exactly 2 diff entries, got %d", diff.Len())
	}

	walletAcc, err := diff.Get(walletAddr)
	if err != nil || walletAcc == nil {
		t.Fatalf("diff get wallet: %v, %+v", err, walletAcc)
	}
	if !bytes.Equal(walletAcc.State, mustUint64(1000)) {
		t.Fatalf("wallet state = %x, want msgpack(1000)", walletAcc.State)
	}

	wantTree := core.OrTree(
		core.LeafTree(core.ExpandedPredicate{
			Code: core.ExpandedCode{Code: []byte(tagUintGTE), Entrypoint: "predicate"},
			Params: []core.ExpandedParam{
				{Kind: core.ParamProposalRef, RefAddress: walletAddr, Data: mustUint64(1000)},
				{Kind: core.ParamInline, Data: mustUint64(0)},
			},
		}),
		core.LeafTree(core.ExpandedPredicate{
			Code: core.ExpandedCode{Code: []byte(tagEd25519), Entrypoint: "predicate"},
			Params: []core.ExpandedParam{
				{Kind: core.ParamInline, Data: ownerPub},
				{Kind: core.ParamInline},
				{Kind: core.ParamInline},
			},
		}),
	)
	if !reflect.DeepEqual(walletAcc.Predicates, wantTree) {
		t.Fatalf("wallet predicate tree = %#v, want %#v", walletAcc.Predicates, wantTree)
	}

	tokenAcc, err := diff.Get(tokenAddr)
	if err != nil || tokenAcc == nil {
		t.Fatalf("diff get token: %v, %+v", err, tokenAcc)
	}
	if !bytes.Equal(tokenAcc.State, mustUint64(1000)) {
		t.Fatalf("token state = %x, want msgpack(1000)", tokenAcc.State)
	}
}

// mintedSetup installs /token/usdx and mints 1000 to alice's wallet,
// committing the result, so S3/S4 can start from "after S2".
func mintedSetup(t *testing.T) (state *core.InMemoryStateStore, tokenAddr, aliceAddr core.Address, alicePub ed25519.PublicKey, alicePriv ed25519.PrivateKey) {
	t.Helper()
	state = core.NewInMemoryStateStore()
	tokenAddr = core.MustAddress("/token/usdx")
	aliceAddr = core.MustAddress("/token/usdx/alice.eth")
	installTokenAccount(t, state, tokenAddr, 0)

	alicePub, alicePriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate alice key: %v", err)
	}

	tx := &core.SymbolicTransaction{Proposals: core.NewProposals[core.SymbolicCode, core.SymbolicParam]()}
	tx.Proposals.Set(aliceAddr, core.CreateAccountChange(core.SymbolicAccount{
		State:      mustUint64(1000),
		Predicates: walletPredicates(aliceAddr, alicePub),
	}))
	tx.Proposals.Set(tokenAddr, core.ReplaceStateChange[core.SymbolicCode, core.SymbolicParam](mustUint64(1000)))

	expanded, err := packager.PackageTransaction(tx, state)
	if err != nil {
		t.Fatalf("package mint: %v", err)
	}
	diff, err := evaluator.New(stdPredicator{}).Evaluate(expanded, state)
	if err != nil {
		t.Fatalf("evaluate mint: %v", err)
	}
	if err := state.Apply(diff); err != nil {
		t.Fatalf("apply mint diff: %v", err)
	}
	return state, tokenAddr, aliceAddr, alicePub, alicePriv
}

// transferTx builds a signed-or-not transfer of amount from fromAddr (whose
// current balance is fromCurrent) to a freshly created toAddr.
func transferTx(
	fromAddr, toAddr core.Address,
	fromOwnerPub, toOwnerPub ed25519.PublicKey,
	fromCurrent, amount uint64,
	msg, sig []byte,
) *core.SymbolicTransaction {
	tx := &core.SymbolicTransaction{Proposals: core.NewProposals[core.SymbolicCode, core.SymbolicParam]()}
	tx.Proposals.Set(fromAddr, core.ReplaceStateChange[core.SymbolicCode, core.SymbolicParam](mustUint64(fromCurrent-amount)))
	tx.Proposals.Set(toAddr, core.CreateAccountChange(core.SymbolicAccount{
		State:      mustUint64(amount),
		Predicates: walletPredicates(toAddr, toOwnerPub),
	}))

	calldata := core.NewCalldata()
	calldata.Set("sig", sig)
	calldata.Set("msg", msg)

	intent := &core.SymbolicIntent{
		Expectations: transferExpectations(fromAddr, fromOwnerPub),
		Calldata:     calldata,
	}
	tx.Intents = []*core.SymbolicIntent{intent}
	return tx
}

// S3 — Token transfer. After S2, alice sends bob 400 with a valid
// signature: alice ends at 600, bob at 400, and the token supply is
// untouched since the transfer never proposes a change to it.
func TestS3TokenTransfer(t *testing.T) {
	state, tokenAddr, aliceAddr, alicePub, alicePriv := mintedSetup(t)
	bobAddr := core.MustAddress("/token/usdx/bob.eth")
	bobPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate bob key: %v", err)
	}

	msg := []byte("transfer:alice.eth->bob.eth:400")
	sig := ed25519.Sign(alicePriv, msg)

	tx := transferTx(aliceAddr, bobAddr, alicePub, bobPub, 1000, 400, msg, sig)
	expanded, err := packager.PackageTransaction(tx, state)
	if err != nil {
		t.Fatalf("package transfer: %v", err)
	}
	diff, err := evaluator.New(stdPredicator{}).Evaluate(expanded, state)
	if err != nil {
		t.Fatalf("evaluate transfer: %v", err)
	}
	if err := state.Apply(diff); err != nil {
		t.Fatalf("apply transfer diff: %v", err)
	}

	aliceAcc, _ := state.Get(aliceAddr)
	if !bytes.Equal(aliceAcc.State, mustUint64(600)) {
		t.Fatalf("alice balance = %x, want msgpack(600)", aliceAcc.State)
	}
	bobAcc, _ := state.Get(bobAddr)
	if !bytes.Equal(bobAcc.State, mustUint64(400)) {
		t.Fatalf("bob balance = %x, want msgpack(400)", bobAcc.State)
	}
	tokenAcc, _ := state.Get(tokenAddr)
	if !bytes.Equal(tokenAcc.State, mustUint64(1000)) {
		t.Fatalf("token state = %x, want unchanged msgpack(1000)", tokenAcc.State)
	}
}

// S4 — Unauthorized transfer. As S3 but the calldata signature does not
// verify: the balance-down proposal has no other authorization, so the
// intent's expectations reject it and the evaluator returns
// ErrPredicateRejected without touching state.
func TestS4UnauthorizedTransfer(t *testing.T) {
	state, _, aliceAddr, alicePub, _ := mintedSetup(t)
	bobAddr := core.MustAddress("/token/usdx/bob.eth")
	bobPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate bob key: %v", err)
	}

	forgerPub, forgerPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate forger key: %v", err)
	}
	_ = forgerPub
	msg := []byte("transfer:alice.eth->bob.eth:400")
	wrongSig := ed25519.Sign(forgerPriv, msg) // signed by the wrong key

	tx := transferTx(aliceAddr, bobAddr, alicePub, bobPub, 1000, 400, msg, wrongSig)
	expanded, err := packager.PackageTransaction(tx, state)
	if err != nil {
		t.Fatalf("package transfer: %v", err)
	}

	_, err = evaluator.New(stdPredicator{}).Evaluate(expanded, state)
	if !errors.Is(err, core.ErrPredicateRejected) {
		t.Fatalf("expected ErrPredicateRejected, got %v", err)
	}

	aliceAcc, _ := state.Get(aliceAddr)
	if !bytes.Equal(aliceAcc.State, mustUint64(1000)) {
		t.Fatalf("alice balance changed despite rejected transfer: %x", aliceAcc.State)
	}
	if _, err := state.Get(bobAddr); err != nil {
		t.Fatalf("get bob: %v", err)
	}
	if acc, _ := state.Get(bobAddr); acc != nil {
		t.Fatalf("expected bob to not exist after a rejected transfer, got %+v", acc)
	}
}

// S5 — Block lineage violation. Consuming B1 at height 1 succeeds; a block
// claiming height 3 on top of it is rejected, and the builder's retained
// window still holds only B0 and B1.
func TestS5BlockLineageViolation(t *testing.T) {
	state := core.NewInMemoryStateStore()
	codecache := core.NewInMemoryStateStore()
	eval := evaluator.New(stdPredicator{})
	genesis := core.GenesisBlock()

	b, err := builder.NewBlockStateBuilder(8, state, codecache, eval, genesis)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}

	genesisHash, err := genesis.Hash()
	if err != nil {
		t.Fatalf("hash genesis: %v", err)
	}
	b1 := core.NewBlock(genesis, genesisHash, nil)
	if err := b.Consume(b1); err != nil {
		t.Fatalf("consume B1: %v", err)
	}

	b1Hash, err := b1.Hash()
	if err != nil {
		t.Fatalf("hash B1: %v", err)
	}
	b3 := &core.Block{Height: 3, Parent: b1Hash}
	err = b.Consume(b3)
	if !errors.Is(err, core.ErrInvalidBlockHeight) {
		t.Fatalf("expected ErrInvalidBlockHeight consuming B3, got %v", err)
	}

	recent := b.Recent()
	if len(recent) != 2 {
		t.Fatalf("expected the retained window to hold only B0 and B1, got %d blocks", len(recent))
	}
	gotB1Hash, err := recent[0].Hash()
	if err != nil || !bytes.Equal(gotB1Hash, b1Hash) {
		t.Fatalf("most recent retained block is not B1: err=%v hash=%x", err, gotB1Hash)
	}
	gotGenesisHash, err := recent[1].Hash()
	if err != nil || !bytes.Equal(gotGenesisHash, genesisHash) {
		t.Fatalf("oldest retained block is not B0: err=%v hash=%x", err, gotGenesisHash)
	}
}

// S6 — Parallel-safe ordering. tx1 writes /a, tx2 reads /a (via an
// AccountRef parameter) and writes /b. The scheduler must run tx2 after
// tx1 so it observes tx1's post-state, while still returning results in
// block order.
func TestS6ParallelSafeOrdering(t *testing.T) {
	addrA := core.MustAddress("/a")
	addrB := core.MustAddress("/b")

	base := core.NewInMemoryStateStore()
	seed := core.NewStateDiff()
	seed.Set(addrA, core.ExpandedAccount{State: mustUint64(1)})
	if err := base.Apply(seed); err != nil {
		t.Fatalf("seed /a: %v", err)
	}

	tx1 := &core.ExpandedTransaction{Proposals: core.NewProposals[core.ExpandedCode, core.ExpandedParam]()}
	tx1.Proposals.Set(addrA, core.ReplaceStateChange[core.ExpandedCode, core.ExpandedParam](mustUint64(2)))

	tx2 := &core.ExpandedTransaction{Proposals: core.NewProposals[core.ExpandedCode, core.ExpandedParam]()}
	tx2.Proposals.Set(addrB, core.CreateAccountChange(core.ExpandedAccount{
		Predicates: core.LeafTree(core.ExpandedPredicate{
			Code:   core.ExpandedCode{Code: []byte(tagUintGTE)},
			Params: []core.ExpandedParam{{Kind: core.ParamAccountRef, RefAddress: addrA}},
		}),
	}))

	var observedA []byte
	evaluate := func(tx *core.ExpandedTransaction, view core.State) (*core.StateDiff, error) {
		diff := core.NewStateDiff()
		var rangeErr error
		tx.Proposals.ForEach(func(addr core.Address, change core.ExpandedAccountChange) {
			if rangeErr != nil {
				return
			}
			if addr.Equal(addrB) {
				aAcc, err := view.Get(addrA)
				if err != nil {
					rangeErr = err
					return
				}
				observedA = aAcc.State
				diff.Set(addrB, core.ExpandedAccount{State: aAcc.State})
				return
			}
			current, err := view.Get(addr)
			if err != nil {
				rangeErr = err
				return
			}
			next, err := change.Apply(current)
			if err != nil {
				rangeErr = err
				return
			}
			diff.Set(addr, *next)
		})
		if rangeErr != nil {
			return nil, rangeErr
		}
		return diff, nil
	}

	outcomes := scheduler.ExecuteMany(base, []*core.ExpandedTransaction{tx1, tx2}, evaluate)
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Err != nil {
		t.Fatalf("tx1 outcome error: %v", outcomes[0].Err)
	}
	if outcomes[1].Err != nil {
		t.Fatalf("tx2 outcome error: %v", outcomes[1].Err)
	}
	if !bytes.Equal(observedA, mustUint64(2)) {
		t.Fatalf("tx2 observed /a = %x, want tx1's post-state msgpack(2)", observedA)
	}

	final := core.NewStateDiff()
	final.Merge(outcomes[0].Diff).Merge(outcomes[1].Diff)
	if err := base.Apply(final); err != nil {
		t.Fatalf("apply merged diff: %v", err)
	}

	aAcc, _ := base.Get(addrA)
	if !bytes.Equal(aAcc.State, mustUint64(2)) {
		t.Fatalf("final /a = %x, want msgpack(2)", aAcc.State)
	}
	bAcc, _ := base.Get(addrB)
	if !bytes.Equal(bAcc.State, mustUint64(2)) {
		t.Fatalf("final /b = %x, want tx1's post-state of /a", bAcc.State)
	}
}
