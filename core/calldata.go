package core

import "github.com/vmihailenco/msgpack/v5"

// Calldata is an ordered string-to-bytes map: insertion order is preserved
// and is part of the wire form, because predicate parameters reference
// calldata entries by key and the hash of an intent must be stable
// regardless of Go's randomized map iteration order.
type Calldata struct {
	entries []calldataEntry
	index   map[string]int
}

type calldataEntry struct {
	Key   string
	Value []byte
}

// NewCalldata builds an empty ordered calldata map.
func NewCalldata() *Calldata {
	return &Calldata{index: make(map[string]int)}
}

// Set inserts or overwrites a key. Overwriting an existing key keeps its
// original position; a new key is appended.
func (c *Calldata) Set(key string, value []byte) {
	if i, ok := c.index[key]; ok {
		c.entries[i].Value = value
		return
	}
	c.index[key] = len(c.entries)
	c.entries = append(c.entries, calldataEntry{Key: key, Value: value})
}

// Get looks up a key, reporting whether it was present.
func (c *Calldata) Get(key string) ([]byte, bool) {
	i, ok := c.index[key]
	if !ok {
		return nil, false
	}
	return c.entries[i].Value, true
}

// Len reports the number of entries.
func (c *Calldata) Len() int { return len(c.entries) }

// ForEach visits entries in insertion order.
func (c *Calldata) ForEach(visit func(key string, value []byte)) {
	for _, e := range c.entries {
		visit(e.Key, e.Value)
	}
}

// EncodeMsgpack writes calldata as an ordered array of [key, value] pairs
// rather than a map, so the wire form is order-stable.
func (c *Calldata) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(len(c.entries)); err != nil {
		return err
	}
	for _, e := range c.entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsgpack reads calldata back from its ordered array-of-pairs form.
func (c *Calldata) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	c.entries = make([]calldataEntry, 0, n)
	c.index = make(map[string]int, n)
	for i := 0; i < n; i++ {
		var e calldataEntry
		if err := dec.Decode(&e); err != nil {
			return err
		}
		c.index[e.Key] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return nil
}
