package core

import "sync"

// Intent is a partial, signed description of a desired state transition: a
// recent block hash anchoring it to a point in history, the predicate tree
// that must hold for the intent to be considered satisfied, and the
// calldata a solver's composed transaction will pass to predicates that
// reference it.
type Intent[C, P any] struct {
	RecentBlockhash Multihash
	Expectations    *PredicateTree[C, P]
	Calldata        *Calldata

	hashOnce        sync.Once
	hash            Multihash
	hashErr         error
	signingHashOnce sync.Once
	signingHash     Multihash
	signingHashErr  error
}

// SymbolicIntent and ExpandedIntent name the two stages an intent passes
// through: as submitted by a user/solver, and after the packager has
// resolved all of its references against state.
type SymbolicIntent = Intent[SymbolicCode, SymbolicParam]
type ExpandedIntent = Intent[ExpandedCode, ExpandedParam]

type intentWire[C, P any] struct {
	RecentBlockhash Multihash
	Expectations    *PredicateTree[C, P]
	Calldata        *Calldata
}

// Hash is the intent's full content hash, memoized on first call. It is
// used for replay-suppression (core/history) and watcher lookups.
func (i *Intent[C, P]) Hash() (Multihash, error) {
	i.hashOnce.Do(func() {
		i.hash, i.hashErr = hashValue(intentWire[C, P]{
			RecentBlockhash: i.RecentBlockhash,
			Expectations:    i.Expectations,
			Calldata:        i.Calldata,
		})
	})
	return i.hash, i.hashErr
}

// SigningHash is the hash a user's private key signs to authorize this
// intent. It is computed identically to Hash today but is deliberately
// cached behind its own sync.Once rather than sharing Hash's cache: the
// reference implementation this is ported from shared a single cache for
// both and that coupling is a bug waiting to happen the moment the two
// hashes need to diverge (e.g. a future fee field that must be covered by
// Hash but not by what the wallet signs).
func (i *Intent[C, P]) SigningHash() (Multihash, error) {
	i.signingHashOnce.Do(func() {
		i.signingHash, i.signingHashErr = hashValue(intentWire[C, P]{
			RecentBlockhash: i.RecentBlockhash,
			Expectations:    i.Expectations,
			Calldata:        i.Calldata,
		})
	})
	return i.signingHash, i.signingHashErr
}
