package vm

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/wasmerio/wasmer-go/wasmer"
	"golang.org/x/crypto/sha3"
)

// ModuleCache compiles predicate bytecode into wasmer modules and keeps
// both an in-process and an on-disk copy, keyed by the SHA3-256 digest of
// the bytecode. Compiling WASM is expensive relative to evaluating a
// predicate, and the same account's code is typically invoked by many
// transactions in the same block, so this cache is what keeps evaluation
// throughput acceptable.
type ModuleCache struct {
	store   *wasmer.Store
	dir     string
	mu      sync.RWMutex
	modules map[string]*wasmer.Module
}

// NewModuleCache builds a cache backed by dir on disk (created if absent)
// and store for compiling fresh modules.
func NewModuleCache(store *wasmer.Store, dir string) (*ModuleCache, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &ModuleCache{
		store:   store,
		dir:     dir,
		modules: make(map[string]*wasmer.Module),
	}, nil
}

// Key returns the base58 cache key for a bytecode blob.
func Key(code []byte) string {
	sum := sha3.Sum256(code)
	return base58.Encode(sum[:])
}

// Load returns the compiled module for code, compiling and caching it if
// this is the first time it has been seen.
func (c *ModuleCache) Load(code []byte) (*wasmer.Module, error) {
	key := Key(code)

	c.mu.RLock()
	mod, ok := c.modules[key]
	c.mu.RUnlock()
	if ok {
		return mod, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if mod, ok := c.modules[key]; ok {
		return mod, nil
	}

	if c.dir != "" {
		if serialized, err := os.ReadFile(c.path(key)); err == nil {
			if mod, err := wasmer.DeserializeModule(c.store, serialized); err == nil {
				c.modules[key] = mod
				return mod, nil
			}
		}
	}

	mod, err := wasmer.NewModule(c.store, code)
	if err != nil {
		return nil, err
	}
	c.modules[key] = mod

	if c.dir != "" {
		if serialized, err := mod.Serialize(); err == nil {
			_ = os.WriteFile(c.path(key), serialized, 0o644)
		}
	}
	return mod, nil
}

func (c *ModuleCache) path(key string) string {
	return filepath.Join(c.dir, key)
}
