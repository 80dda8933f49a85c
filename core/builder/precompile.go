package builder

import (
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"

	"intent-chain/core"
	"intent-chain/core/vm"
)

var wasmMagic = []byte{0x00, 'a', 's', 'm'}

// tryPrecompilePredicates scans a diff's upserted accounts for ones whose
// state looks like a wasm binary, compiles and serializes each one it can,
// and returns a diff of cache entries keyed by content hash under
// "/predcache/<key>". Bytecode is compiled again for every diff that
// upserts it. Nothing in this module reads these entries back: the VM
// compiles predicates through its own in-process vm.ModuleCache and does
// not consult the "/predcache/<key>" accounts.
//
// A compile failure is not an error here: it just means that particular
// account's state isn't predicate bytecode, or isn't valid wasm, and is
// silently skipped rather than failing the whole block.
func tryPrecompilePredicates(diff *core.StateDiff) *core.StateDiff {
	out := core.NewStateDiff()

	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)

	for _, entry := range diff.Iter() {
		if entry.Account == nil {
			continue
		}
		code := entry.Account.State
		if len(code) < len(wasmMagic) || !bytesHavePrefix(code, wasmMagic) {
			continue
		}

		module, err := wasmer.NewModule(store, code)
		if err != nil {
			continue
		}
		serialized, err := module.Serialize()
		if err != nil {
			continue
		}

		addr, err := core.NewAddress(fmt.Sprintf("/predcache/%s", vm.Key(code)))
		if err != nil {
			continue
		}
		out.Set(addr, core.ExpandedAccount{State: serialized, Predicates: sentinelPredicates()})
	}

	return out
}

// sentinelPredicates is the single-leaf, Inline-empty predicate tree a
// precompile cache entry is given in place of a nil tree. Nothing proposes
// changes to a /predcache/ account through the normal transaction path, so
// this tree is never actually evaluated; it exists so the account's
// Predicates field holds the documented sentinel value rather than an
// absent one.
func sentinelPredicates() *core.ExpandedTree {
	return core.LeafTree(core.ExpandedPredicate{Code: core.ExpandedCode{Code: []byte{}}})
}

func bytesHavePrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
