package storage

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/vmihailenco/msgpack/v5"

	"intent-chain/core"
)

// LevelStore is a core.State backed by a single goleveldb database, keyed
// by MessagePack-serialized core.Address and valued by MessagePack-serialized
// core.ExpandedAccount. A devnode opens one LevelStore per logical role it
// persists (state and cache) rather than tablespacing a single database, so
// the roles can be backed up, compacted or wiped independently. Blocks are
// not persisted.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore opens (creating if absent) the goleveldb database at path.
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open leveldb at %s: %w", path, err)
	}
	return &LevelStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *LevelStore) Close() error {
	return s.db.Close()
}

// Get implements core.State. A missing key is not an error: it reports
// (nil, nil), matching the "get is a total function" contract every
// core.State implementation must honor.
func (s *LevelStore) Get(addr core.Address) (*core.ExpandedAccount, error) {
	key, err := msgpack.Marshal(addr)
	if err != nil {
		return nil, fmt.Errorf("storage: encode key: %w", err)
	}
	raw, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get: %w", err)
	}
	var account core.ExpandedAccount
	if err := msgpack.Unmarshal(raw, &account); err != nil {
		return nil, fmt.Errorf("storage: decode account: %w", err)
	}
	return &account, nil
}

// Apply implements core.State. Every upsert and delete in diff is folded
// into a single leveldb.Batch so the whole diff lands atomically: a crash
// mid-write can never leave the store with only part of a block's effects
// applied.
func (s *LevelStore) Apply(diff *core.StateDiff) error {
	batch := new(leveldb.Batch)
	for _, entry := range diff.Iter() {
		key, err := msgpack.Marshal(entry.Address)
		if err != nil {
			return fmt.Errorf("storage: encode key: %w", err)
		}
		if entry.Account == nil {
			batch.Delete(key)
			continue
		}
		value, err := msgpack.Marshal(entry.Account)
		if err != nil {
			return fmt.Errorf("storage: encode account: %w", err)
		}
		batch.Put(key, value)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("storage: write batch: %w", err)
	}
	return nil
}
