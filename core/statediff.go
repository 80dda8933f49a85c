package core

// State is anything that can answer "what account lives here" and accept a
// batch of changes. It is intentionally a two-method interface: every
// concrete implementation (StateDiff, storage.MemoryStore,
// storage.LevelStore) is used purely through this interface, never
// downcast back to its concrete type.
type State interface {
	// Get returns the account at addr, or (nil, nil) if none exists. It
	// only returns a non-nil error for a genuine I/O failure.
	Get(addr Address) (*ExpandedAccount, error)
	// Apply merges diff's upserts and deletes into this state.
	Apply(diff *StateDiff) error
}

// DiffEntry is one accumulated change in a StateDiff: an upsert carries a
// non-nil Account, a delete carries a nil Account.
type DiffEntry struct {
	Address Address
	Account *ExpandedAccount
}

// StateDiff accumulates account upserts and deletes into a single ordered,
// replayable batch. upserts and deletes are disjoint: setting an address
// already marked for deletion un-marks it, and vice versa. Merge/Apply are
// associative but not commutative — applying b on top of a can produce a
// different result than applying a on top of b, because later writes to
// the same address win.
type StateDiff struct {
	upserts      []DiffEntry
	upsertIndex  map[Address]int
	deletes      []Address
	deleteIndex  map[Address]int
}

// NewStateDiff builds an empty diff.
func NewStateDiff() *StateDiff {
	return &StateDiff{
		upsertIndex: make(map[Address]int),
		deleteIndex: make(map[Address]int),
	}
}

// Set records an upsert, overwriting any previous upsert for the same
// address and clearing any pending delete for it.
func (d *StateDiff) Set(addr Address, account ExpandedAccount) {
	if i, ok := d.deleteIndex[addr]; ok {
		d.removeDeleteAt(i)
	}
	if i, ok := d.upsertIndex[addr]; ok {
		d.upserts[i].Account = &account
		return
	}
	d.upsertIndex[addr] = len(d.upserts)
	d.upserts = append(d.upserts, DiffEntry{Address: addr, Account: &account})
}

// Remove records a delete, overwriting any previous delete for the same
// address and clearing any pending upsert for it.
func (d *StateDiff) Remove(addr Address) {
	if i, ok := d.upsertIndex[addr]; ok {
		d.removeUpsertAt(i)
	}
	if _, ok := d.deleteIndex[addr]; ok {
		return
	}
	d.deleteIndex[addr] = len(d.deletes)
	d.deletes = append(d.deletes, addr)
}

func (d *StateDiff) removeUpsertAt(i int) {
	removed := d.upserts[i].Address
	d.upserts = append(d.upserts[:i], d.upserts[i+1:]...)
	delete(d.upsertIndex, removed)
	for j := i; j < len(d.upserts); j++ {
		d.upsertIndex[d.upserts[j].Address] = j
	}
}

func (d *StateDiff) removeDeleteAt(i int) {
	removed := d.deletes[i]
	d.deletes = append(d.deletes[:i], d.deletes[i+1:]...)
	delete(d.deleteIndex, removed)
	for j := i; j < len(d.deletes); j++ {
		d.deleteIndex[d.deletes[j]] = j
	}
}

// Iter yields every accumulated change, upserts first in insertion order,
// then deletes in insertion order.
func (d *StateDiff) Iter() []DiffEntry {
	out := make([]DiffEntry, 0, len(d.upserts)+len(d.deletes))
	out = append(out, d.upserts...)
	for _, addr := range d.deletes {
		out = append(out, DiffEntry{Address: addr, Account: nil})
	}
	return out
}

// Len reports the total number of accumulated changes.
func (d *StateDiff) Len() int { return len(d.upserts) + len(d.deletes) }

// Merge applies every change in other on top of this diff, address by
// address, in other's iteration order — the same effect as calling Set/
// Remove once per entry of other.Iter(). It mutates the receiver and
// returns it for chaining.
func (d *StateDiff) Merge(other *StateDiff) *StateDiff {
	for _, e := range other.Iter() {
		if e.Account != nil {
			d.Set(e.Address, *e.Account)
		} else {
			d.Remove(e.Address)
		}
	}
	return d
}

// Get implements State by consulting only this diff's own accumulated
// changes: deletes report no account, upserts report the upserted account,
// and addresses this diff says nothing about report no account either. A
// diff is usually layered in front of a backing State rather than queried
// on its own for this reason.
func (d *StateDiff) Get(addr Address) (*ExpandedAccount, error) {
	if _, ok := d.deleteIndex[addr]; ok {
		return nil, nil
	}
	if i, ok := d.upsertIndex[addr]; ok {
		return d.upserts[i].Account, nil
	}
	return nil, nil
}

// Apply implements State by merging diff into this one in place.
func (d *StateDiff) Apply(diff *StateDiff) error {
	d.Merge(diff)
	return nil
}

// Overlay layers a StateDiff in front of a backing State: Get consults the
// diff first and only falls through to base for addresses the diff has no
// opinion about. This is how the scheduler lets transactions in a later
// wave see the committed effects of earlier waves without merging them all
// the way down into the backing store first.
type Overlay struct {
	Base State
	Diff *StateDiff
}

// NewOverlay builds a read-through view of base with diff layered on top.
func NewOverlay(base State, diff *StateDiff) *Overlay {
	return &Overlay{Base: base, Diff: diff}
}

func (o *Overlay) Get(addr Address) (*ExpandedAccount, error) {
	if _, ok := o.Diff.deleteIndex[addr]; ok {
		return nil, nil
	}
	if i, ok := o.Diff.upsertIndex[addr]; ok {
		return o.Diff.upserts[i].Account, nil
	}
	return o.Base.Get(addr)
}

// Apply merges diff into the overlay's own accumulated diff, leaving Base
// untouched.
func (o *Overlay) Apply(diff *StateDiff) error {
	o.Diff.Merge(diff)
	return nil
}

// InMemoryStateStore is a plain map-backed State, used for the predicate
// code cache and in tests.
type InMemoryStateStore struct {
	accounts map[Address]ExpandedAccount
}

// NewInMemoryStateStore builds an empty in-memory store.
func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{accounts: make(map[Address]ExpandedAccount)}
}

func (s *InMemoryStateStore) Get(addr Address) (*ExpandedAccount, error) {
	acc, ok := s.accounts[addr]
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (s *InMemoryStateStore) Apply(diff *StateDiff) error {
	for _, e := range diff.Iter() {
		if e.Account != nil {
			s.accounts[e.Address] = *e.Account
		} else {
			delete(s.accounts, e.Address)
		}
	}
	return nil
}
