package vm

import (
	"github.com/vmihailenco/msgpack/v5"

	"intent-chain/core"
)

// encodeParams serializes a predicate's already-resolved parameters into
// the flat byte blob the guest ABI expects: an array of raw data payloads,
// in the same order predicate.Params lists them in. Predicates only ever
// see the resolved bytes, never which kind of reference produced them —
// that provenance exists solely for the scheduler's read-set extraction.
func encodeParams(params []core.ExpandedParam) ([]byte, error) {
	payloads := make([][]byte, len(params))
	for i, p := range params {
		payloads[i] = p.Data
	}
	return msgpack.Marshal(payloads)
}
