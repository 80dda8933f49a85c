package core

import (
	"fmt"
	"sync"
)

// ChangeKind tags which of the four account mutations a proposal describes.
type ChangeKind int

const (
	ChangeCreateAccount ChangeKind = iota
	ChangeReplaceState
	ChangeReplacePredicates
	ChangeDeleteAccount
)

// AccountChange is one of the four mutations a transaction may propose for
// a single account: bring it into existence, replace its state, replace its
// governing predicates, or remove it entirely. Current is the account as it
// stood at packaging time, attached by the packager for every kind but
// ChangeCreateAccount (which by definition has none); it is what Apply and
// predicate evaluation both treat as "the current account" for this change,
// so a packaged transaction's validity does not depend on re-reading state
// at evaluation time.
type AccountChange[C, P any] struct {
	Kind          ChangeKind
	NewAccount    Account[C, P]
	NewState      []byte
	NewPredicates *PredicateTree[C, P]
	Current       *ExpandedAccount
}

type SymbolicAccountChange = AccountChange[SymbolicCode, SymbolicParam]
type ExpandedAccountChange = AccountChange[ExpandedCode, ExpandedParam]

func CreateAccountChange[C, P any](acc Account[C, P]) AccountChange[C, P] {
	return AccountChange[C, P]{Kind: ChangeCreateAccount, NewAccount: acc}
}

func ReplaceStateChange[C, P any](state []byte) AccountChange[C, P] {
	return AccountChange[C, P]{Kind: ChangeReplaceState, NewState: state}
}

func ReplacePredicatesChange[C, P any](tree *PredicateTree[C, P]) AccountChange[C, P] {
	return AccountChange[C, P]{Kind: ChangeReplacePredicates, NewPredicates: tree}
}

func DeleteAccountChange[C, P any]() AccountChange[C, P] {
	return AccountChange[C, P]{Kind: ChangeDeleteAccount}
}

// Apply computes the resulting account for this change given the account
// currently stored at the target address (nil if none). It enforces the
// existence invariants every change kind requires: CreateAccount needs no
// prior account, the other three need one. The returned account is nil iff
// the change is a deletion.
func (c AccountChange[C, P]) Apply(current *Account[C, P]) (*Account[C, P], error) {
	switch c.Kind {
	case ChangeCreateAccount:
		if current != nil {
			return nil, ErrAccountAlreadyExists
		}
		acc := c.NewAccount
		return &acc, nil
	case ChangeReplaceState:
		if current == nil {
			return nil, ErrAccountDoesNotExist
		}
		next := *current
		next.State = c.NewState
		return &next, nil
	case ChangeReplacePredicates:
		if current == nil {
			return nil, ErrAccountDoesNotExist
		}
		next := *current
		next.Predicates = c.NewPredicates
		return &next, nil
	case ChangeDeleteAccount:
		if current == nil {
			return nil, ErrAccountDoesNotExist
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("transaction: unknown account change kind %d", c.Kind)
	}
}

// Proposals is an ordered Address-to-AccountChange map: iteration order is
// insertion order, both because transaction hashing must be deterministic
// and because the scheduler's read/write set extraction walks proposals in
// a stable order.
type Proposals[C, P any] struct {
	entries []proposalEntry[C, P]
	index   map[Address]int
}

type proposalEntry[C, P any] struct {
	Address Address
	Change  AccountChange[C, P]
}

func NewProposals[C, P any]() *Proposals[C, P] {
	return &Proposals[C, P]{index: make(map[Address]int)}
}

// Set inserts or overwrites the proposed change for an address.
func (p *Proposals[C, P]) Set(addr Address, change AccountChange[C, P]) {
	if i, ok := p.index[addr]; ok {
		p.entries[i].Change = change
		return
	}
	p.index[addr] = len(p.entries)
	p.entries = append(p.entries, proposalEntry[C, P]{Address: addr, Change: change})
}

// Get looks up the change proposed for an address.
func (p *Proposals[C, P]) Get(addr Address) (AccountChange[C, P], bool) {
	i, ok := p.index[addr]
	if !ok {
		return AccountChange[C, P]{}, false
	}
	return p.entries[i].Change, true
}

// Len reports the number of proposed changes.
func (p *Proposals[C, P]) Len() int { return len(p.entries) }

// ForEach visits proposals in insertion order.
func (p *Proposals[C, P]) ForEach(visit func(addr Address, change AccountChange[C, P])) {
	for _, e := range p.entries {
		visit(e.Address, e.Change)
	}
}

// Transaction is a self-contained set of intents together with the account
// mutations that satisfy them, attributed to the producer (solver) that
// composed it. C/P distinguish a freshly submitted transaction (still
// symbolic) from one the packager has fully resolved against state.
type Transaction[C, P any] struct {
	Intents  []*Intent[C, P]
	Proposals *Proposals[C, P]
	Producer  Address
	Signature []byte

	hashOnce sync.Once
	hash     Multihash
	hashErr  error
}

type SymbolicTransaction = Transaction[SymbolicCode, SymbolicParam]
type ExpandedTransaction = Transaction[ExpandedCode, ExpandedParam]

type transactionWire[C, P any] struct {
	Intents   []*Intent[C, P]
	Proposals []proposalEntry[C, P]
	Producer  Address
}

// Hash is the transaction's content hash, memoized on first call. It
// intentionally excludes Signature: the signature authenticates this hash,
// so it cannot also be covered by it.
func (tx *Transaction[C, P]) Hash() (Multihash, error) {
	tx.hashOnce.Do(func() {
		var entries []proposalEntry[C, P]
		if tx.Proposals != nil {
			entries = tx.Proposals.entries
		}
		tx.hash, tx.hashErr = hashValue(transactionWire[C, P]{
			Intents:   tx.Intents,
			Proposals: entries,
			Producer:  tx.Producer,
		})
	})
	return tx.hash, tx.hashErr
}
