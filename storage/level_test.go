package storage

import (
	"path/filepath"
	"testing"

	"intent-chain/core"
)

func openTestLevelStore(t *testing.T) *LevelStore {
	t.Helper()
	dir := t.TempDir()
	s, err := OpenLevelStore(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("open level store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLevelStoreGetMissReturnsNilNil(t *testing.T) {
	s := openTestLevelStore(t)

	account, err := s.Get(core.MustAddress("/token/usdx"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account != nil {
		t.Fatalf("expected nil account for a miss, got %+v", account)
	}
}

func TestLevelStoreApplyThenGetRoundTrips(t *testing.T) {
	s := openTestLevelStore(t)
	addr := core.MustAddress("/token/usdx")

	diff := core.NewStateDiff()
	diff.Set(addr, core.ExpandedAccount{State: []byte("supply=100")})
	if err := s.Apply(diff); err != nil {
		t.Fatalf("apply: %v", err)
	}

	account, err := s.Get(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if account == nil || string(account.State) != "supply=100" {
		t.Fatalf("unexpected account after apply: %+v", account)
	}
}

func TestLevelStoreApplyBatchesUpsertsAndDeletesAtomically(t *testing.T) {
	s := openTestLevelStore(t)
	alice := core.MustAddress("/token/usdx/alice")
	bob := core.MustAddress("/token/usdx/bob")

	seed := core.NewStateDiff()
	seed.Set(alice, core.ExpandedAccount{State: []byte("balance=10")})
	seed.Set(bob, core.ExpandedAccount{State: []byte("balance=0")})
	if err := s.Apply(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	transfer := core.NewStateDiff()
	transfer.Remove(alice)
	transfer.Set(bob, core.ExpandedAccount{State: []byte("balance=10")})
	if err := s.Apply(transfer); err != nil {
		t.Fatalf("apply transfer: %v", err)
	}

	if account, err := s.Get(alice); err != nil || account != nil {
		t.Fatalf("expected alice deleted, got %+v, err %v", account, err)
	}
	bobAccount, err := s.Get(bob)
	if err != nil {
		t.Fatalf("get bob: %v", err)
	}
	if bobAccount == nil || string(bobAccount.State) != "balance=10" {
		t.Fatalf("unexpected bob account: %+v", bobAccount)
	}
}

func TestLevelStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state")
	addr := core.MustAddress("/token/usdx")

	s, err := OpenLevelStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	diff := core.NewStateDiff()
	diff.Set(addr, core.ExpandedAccount{State: []byte("supply=100")})
	if err := s.Apply(diff); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenLevelStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	account, err := reopened.Get(addr)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if account == nil || string(account.State) != "supply=100" {
		t.Fatalf("state did not survive reopen: %+v", account)
	}
}
