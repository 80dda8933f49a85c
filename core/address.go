// Package core implements the account and predicate data model: addresses,
// accounts, predicate trees, intents, transactions, blocks and the
// accumulating StateDiff that ties them together.
package core

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/sha3"
)

// AddressSize is the width in bytes of an Address.
const AddressSize = 32

// Address identifies an account. It has two textual forms: a hierarchical
// path ("/token/usdx/alice.eth") and a base58 encoding of its raw 32 bytes.
//
// An address built from a path retains that path so ancestry can be
// recomputed; an address built from raw bytes (base58 decode, or derivation)
// carries no path and has no ancestors.
type Address struct {
	id   [AddressSize]byte
	path string // canonical path, empty if this address has no known path
}

// Root is the address of the implicit "/" account. It is the fixed base
// case ancestors walk up to.
var Root = Address{path: "/"}

// NewAddress builds an address from a hierarchical path such as
// "/token/usdx/alice.eth". The path must start with "/"; its bytes are the
// SHA3-256 digest of "path:" followed by the normalized path string. "/"
// itself yields Root, whose bytes are all zero.
func NewAddress(path string) (Address, error) {
	norm, err := normalizePath(path)
	if err != nil {
		return Address{}, err
	}
	if norm == "/" {
		return Root, nil
	}
	return Address{id: hashPath(norm), path: norm}, nil
}

// MustAddress is NewAddress but panics on error; useful for constants in
// tests and genesis wiring.
func MustAddress(path string) Address {
	addr, err := NewAddress(path)
	if err != nil {
		panic(err)
	}
	return addr
}

// ParseAddress accepts either a hierarchical path (leading "/") or a base58
// encoding of 32 raw bytes.
func ParseAddress(s string) (Address, error) {
	if strings.HasPrefix(s, "/") {
		return NewAddress(s)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("address: invalid base58 %q: %w", s, err)
	}
	if len(raw) != AddressSize {
		return Address{}, fmt.Errorf(
			"address: expected %d raw bytes, got %d", AddressSize, len(raw))
	}
	var a Address
	copy(a.id[:], raw)
	return a, nil
}

// AddressFromBytes wraps a raw 32 byte identifier with no known path.
func AddressFromBytes(b [AddressSize]byte) Address {
	return Address{id: b}
}

func normalizePath(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("address: path %q must start with '/'", path)
	}
	if path == "/" {
		return "/", nil
	}
	trimmed := strings.TrimSuffix(path, "/")
	segments := strings.Split(strings.TrimPrefix(trimmed, "/"), "/")
	for _, seg := range segments {
		if seg == "" {
			return "", fmt.Errorf("address: empty path segment in %q", path)
		}
	}
	return "/" + strings.Join(segments, "/"), nil
}

func hashPath(normalized string) [AddressSize]byte {
	var out [AddressSize]byte
	sum := sha3.Sum256([]byte("path:" + normalized))
	copy(out[:], sum[:])
	return out
}

// Bytes returns the raw 32 byte identifier.
func (a Address) Bytes() [AddressSize]byte { return a.id }

// Path returns the canonical path and true if this address was constructed
// from a path. Addresses built from raw bytes or by Derive carry no path.
func (a Address) Path() (string, bool) {
	if a.path == "" {
		return "", false
	}
	return a.path, true
}

// String renders the base58 form of the address's raw bytes.
func (a Address) String() string {
	return base58.Encode(a.id[:])
}

// GoString renders a debug form, preferring the path when known.
func (a Address) GoString() string {
	if p, ok := a.Path(); ok {
		return fmt.Sprintf("address(%s)", p)
	}
	return fmt.Sprintf("address(%s)", a.String())
}

// Ancestors returns the address of every ancestor, nearest first: the
// ancestors of "/a/b/c" are "/a/b", "/a", "/". Returns nil if this address
// has no known path (e.g. it was derived or parsed from base58).
func (a Address) Ancestors() []Address {
	path, ok := a.Path()
	if !ok || path == "/" {
		return nil
	}
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	ancestors := make([]Address, 0, len(segments))
	for i := len(segments) - 1; i > 0; i-- {
		parent := "/" + strings.Join(segments[:i], "/")
		ancestors = append(ancestors, Address{id: hashPath(parent), path: parent})
	}
	ancestors = append(ancestors, Root)
	return ancestors
}

// Derive produces a new address related to this one by iterated hashing
// with a bump counter, stopping at the first result that does not lie on
// the Ed25519 curve (so no private key corresponds to it). Deterministic
// for the same (a, seeds). The derived address carries no path.
func (a Address) Derive(seeds ...[]byte) Address {
	var bump uint64
	for {
		h := sha3.New256()
		h.Write(a.id[:])
		for _, seed := range seeds {
			h.Write(seed)
		}
		var bumpBytes [8]byte
		putUint64LE(bumpBytes[:], bump)
		h.Write(bumpBytes[:])

		var candidate [AddressSize]byte
		copy(candidate[:], h.Sum(nil))
		key := Address{id: candidate}
		if !key.IsWallet() {
			return key
		}
		bump++
	}
}

func putUint64LE(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

// IsWallet reports whether this address lies on the Ed25519 curve, i.e.
// whether a private key could exist for it. Addresses for which this
// returns false are "program" addresses: writable only by the program that
// controls them, never by an external signer.
func (a Address) IsWallet() bool {
	_, err := new(edwards25519.Point).SetBytes(a.id[:])
	return err == nil
}

// AddressFromPublicKey derives the wallet address corresponding to an
// Ed25519 public key.
func AddressFromPublicKey(pub ed25519.PublicKey) Address {
	var id [AddressSize]byte
	copy(id[:], pub)
	return Address{id: id}
}

// Equal reports whether two addresses have the same raw bytes. Paths are
// not compared: two Address values with the same bytes are the same
// account regardless of how either was constructed.
func (a Address) Equal(other Address) bool { return a.id == other.id }

// Less provides a total order over addresses, used to keep upserts/deletes
// and proposal maps in deterministic iteration order.
func (a Address) Less(other Address) bool {
	for i := range a.id {
		if a.id[i] != other.id[i] {
			return a.id[i] < other.id[i]
		}
	}
	return false
}

// EncodeMsgpack implements the symbolic wire encoding: a plain 32 byte
// string. The path, if any, is not part of the wire form — it is a local
// convenience for ancestry computation and debugging only.
func (a Address) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeBytes(a.id[:])
}

// DecodeMsgpack implements the symbolic wire decoding.
func (a *Address) DecodeMsgpack(dec *msgpack.Decoder) error {
	raw, err := dec.DecodeBytes()
	if err != nil {
		return err
	}
	if len(raw) != AddressSize {
		return fmt.Errorf("address: decoded %d bytes, want %d", len(raw), AddressSize)
	}
	copy(a.id[:], raw)
	return nil
}
