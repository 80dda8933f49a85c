// Package testutil provides small fixtures shared by tests that need a real
// on-disk store rather than an in-memory one.
package testutil

import (
	"os"
	"path/filepath"

	"intent-chain/storage"
)

// Sandbox is an isolated temporary directory holding a devnode's three
// on-disk stores (state, blocks, cache), for tests that exercise
// storage.LevelStore instead of storage.MemoryStore.
type Sandbox struct {
	Root string
}

// NewSandbox creates a new Sandbox rooted at a fresh temporary directory.
func NewSandbox() (*Sandbox, error) {
	dir, err := os.MkdirTemp("", "intent_chain_sandbox")
	if err != nil {
		return nil, err
	}
	return &Sandbox{Root: dir}, nil
}

// Path returns the absolute path for a named subdirectory within the
// sandbox, such as one of the three store roles.
func (s *Sandbox) Path(name string) string {
	return filepath.Join(s.Root, name)
}

// OpenLevelStore opens a storage.LevelStore at the sandbox's subdirectory
// for the given logical role ("state", "blocks", or "cache").
func (s *Sandbox) OpenLevelStore(role string) (*storage.LevelStore, error) {
	return storage.OpenLevelStore(s.Path(role))
}

// Cleanup removes the sandbox directory and everything in it.
func (s *Sandbox) Cleanup() error {
	return os.RemoveAll(s.Root)
}
