package core

import (
	"github.com/multiformats/go-multihash"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/sha3"
)

// Multihash is the self-describing hash envelope used for every structural
// hash in the system (blocks, transactions, intents, predicate bytecode).
type Multihash = multihash.Multihash

// hashValue MessagePack-encodes v and wraps its SHA3-256 digest in a
// multihash envelope. Every Hash()/SigningHash() method in this package is
// built on top of this so the wire form and the hash form never disagree
// about what bytes were hashed.
func hashValue(v any) (Multihash, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	sum := sha3.Sum256(raw)
	return multihash.Encode(sum[:], multihash.SHA3_256)
}
