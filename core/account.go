package core

// Account is the persistent state living at an address: an opaque state
// blob interpreted by whatever code governs the account, and the predicate
// tree that must hold for any proposed change to this account to be
// admitted. C/P track the same symbolic/expanded distinction as
// PredicateTree: a freshly submitted account's predicates still carry
// unresolved references, while one read back out of state after packaging
// carries resolved ones.
type Account[C, P any] struct {
	State      []byte
	Predicates *PredicateTree[C, P]
}

type SymbolicAccount = Account[SymbolicCode, SymbolicParam]
type ExpandedAccount = Account[ExpandedCode, ExpandedParam]

// NewAccount builds an account with the given state and governing
// predicates.
func NewAccount[C, P any](state []byte, predicates *PredicateTree[C, P]) Account[C, P] {
	return Account[C, P]{State: state, Predicates: predicates}
}

// IsContract reports whether this account's state looks like WASM bytecode
// (the `\0asm` magic header), i.e. whether it should be offered to the
// predicate VM's precompile cache when observed in a committed block.
func (a Account[C, P]) IsContract() bool {
	return len(a.State) >= 4 &&
		a.State[0] == 0x00 && a.State[1] == 'a' && a.State[2] == 's' && a.State[3] == 'm'
}
