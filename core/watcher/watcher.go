// Package watcher provides a concurrent projection of a BlockStateBuilder
// that lets callers await a specific intent, transaction, account change or
// block height being included in a block, as blocks flow past in the
// background.
package watcher

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"intent-chain/core"
	"intent-chain/core/builder"
)

// ErrStopped is returned by pending awaiters when Stop is called before
// their event was observed.
var ErrStopped = errors.New("watcher: stopped while awaiting")

type watchlistKind int

const (
	kindIntent watchlistKind = iota
	kindTransaction
	kindAccountChange
	kindBlockHeight
)

// watchlistKey identifies one pending awaiter. Only the fields relevant to
// its kind are populated; Address and string are both comparable so this
// type is safe to use as a map key directly.
type watchlistKey struct {
	kind   watchlistKind
	hash   string
	addr   core.Address
	height uint64
}

func intentKey(h core.Multihash) watchlistKey      { return watchlistKey{kind: kindIntent, hash: string(h)} }
func transactionKey(h core.Multihash) watchlistKey { return watchlistKey{kind: kindTransaction, hash: string(h)} }
func accountChangeKey(addr core.Address) watchlistKey {
	return watchlistKey{kind: kindAccountChange, addr: addr}
}
func blockHeightKey(height uint64) watchlistKey {
	return watchlistKey{kind: kindBlockHeight, height: height}
}

// watchlistValue is what a signal delivers. Exactly one field is set,
// matching the key's kind; a mismatch between the key's kind and the value
// delivered for it is a bug in this package and panics loudly rather than
// silently returning a zero value to the caller.
type watchlistValue struct {
	kind  watchlistKind
	tx    *core.ExpandedTransaction
	block *core.Block
}

// BlockchainWatcher monitors a stream of incoming blocks, feeds them to an
// underlying BlockStateBuilder under an exclusive lock, and signals any
// awaiter whose watched event the block satisfies.
type BlockchainWatcher struct {
	watchlist sync.Map // watchlistKey -> chan watchlistValue

	mu sync.RWMutex
	b  *builder.BlockStateBuilder

	log *logrus.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New starts a background goroutine that drains blocks, applies each one to
// b, and signals matching awaiters. blocks is typically fed by the network
// layer's block topic subscription; closing it stops the watcher as
// cleanly as calling Stop. log defaults to logrus.StandardLogger() if nil.
func New(b *builder.BlockStateBuilder, blocks <-chan *core.Block, log *logrus.Logger) *BlockchainWatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	w := &BlockchainWatcher{
		b:      b,
		log:    log,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go w.run(blocks)
	return w
}

func (w *BlockchainWatcher) run(blocks <-chan *core.Block) {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case block, ok := <-blocks:
			if !ok {
				w.stopOnce.Do(func() { close(w.stopCh) })
				return
			}
			w.observe(block)

			w.mu.Lock()
			err := w.b.Consume(block)
			w.mu.Unlock()
			if err != nil {
				w.log.WithError(err).WithField("height", block.Height).Error("watcher: block rejected")
				continue
			}
			w.signal(blockHeightKey(block.Height), watchlistValue{kind: kindBlockHeight, block: block})
		}
	}
}

// observe signals every watchlist entry block's transactions satisfy,
// before the block is actually consumed into state — mirroring the
// reference watcher's visit order (signal, then consume).
func (w *BlockchainWatcher) observe(block *core.Block) {
	for _, tx := range block.Transactions {
		txHash, err := tx.Hash()
		if err != nil {
			w.log.WithError(err).Error("watcher: failed hashing transaction while observing block")
			continue
		}
		w.signal(transactionKey(txHash), watchlistValue{kind: kindTransaction, block: block})

		for _, intent := range tx.Intents {
			intentHash, err := intent.Hash()
			if err != nil {
				w.log.WithError(err).Error("watcher: failed hashing intent while observing block")
				continue
			}
			w.signal(intentKey(intentHash), watchlistValue{kind: kindIntent, tx: tx})
		}

		tx.Proposals.ForEach(func(addr core.Address, _ core.ExpandedAccountChange) {
			w.signal(accountChangeKey(addr), watchlistValue{kind: kindAccountChange, tx: tx})
		})
	}
}

func (w *BlockchainWatcher) signal(key watchlistKey, value watchlistValue) {
	raw, ok := w.watchlist.LoadAndDelete(key)
	if !ok {
		return
	}
	ch := raw.(chan watchlistValue)
	ch <- value
	close(ch)
}

func (w *BlockchainWatcher) register(key watchlistKey) chan watchlistValue {
	ch := make(chan watchlistValue, 1)
	w.watchlist.Store(key, ch)
	return ch
}

// Get reads the account at addr through a snapshot of the underlying
// builder, concurrent with other reads and with background block ingest.
func (w *BlockchainWatcher) Get(addr core.Address) (*core.ExpandedAccount, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.b.Get(addr)
}

// MostRecentBlock returns the current chain tip.
func (w *BlockchainWatcher) MostRecentBlock() *core.Block {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.b.Last()
}

// AwaitIntent blocks until a transaction carrying an intent with this hash
// is observed, or the watcher is stopped first.
func (w *BlockchainWatcher) AwaitIntent(hash core.Multihash) (*core.ExpandedTransaction, error) {
	v, err := w.await(intentKey(hash))
	if err != nil {
		return nil, err
	}
	if v.kind != kindIntent {
		panic("watcher: bug, incompatible signal type for intent awaiter")
	}
	return v.tx, nil
}

// AwaitTransaction blocks until a transaction with this hash is included in
// a block, or the watcher is stopped first.
func (w *BlockchainWatcher) AwaitTransaction(hash core.Multihash) (*core.Block, error) {
	v, err := w.await(transactionKey(hash))
	if err != nil {
		return nil, err
	}
	if v.kind != kindTransaction {
		panic("watcher: bug, incompatible signal type for transaction awaiter")
	}
	return v.block, nil
}

// AwaitAccountChange blocks until a transaction proposing a change to addr
// is included in a block, or the watcher is stopped first.
func (w *BlockchainWatcher) AwaitAccountChange(addr core.Address) (*core.ExpandedTransaction, error) {
	v, err := w.await(accountChangeKey(addr))
	if err != nil {
		return nil, err
	}
	if v.kind != kindAccountChange {
		panic("watcher: bug, incompatible signal type for account change awaiter")
	}
	return v.tx, nil
}

// AwaitBlockHeight blocks until a block at this height is consumed, or the
// watcher is stopped first.
func (w *BlockchainWatcher) AwaitBlockHeight(height uint64) (*core.Block, error) {
	v, err := w.await(blockHeightKey(height))
	if err != nil {
		return nil, err
	}
	if v.kind != kindBlockHeight {
		panic("watcher: bug, incompatible signal type for block height awaiter")
	}
	return v.block, nil
}

func (w *BlockchainWatcher) await(key watchlistKey) (watchlistValue, error) {
	ch := w.register(key)
	select {
	case v, ok := <-ch:
		if !ok {
			return watchlistValue{}, ErrStopped
		}
		return v, nil
	case <-w.stopCh:
		w.watchlist.Delete(key)
		return watchlistValue{}, ErrStopped
	}
}

// Stop terminates the background block-ingest goroutine. Awaiters already
// blocked in await return ErrStopped; it is safe to call Stop more than
// once.
func (w *BlockchainWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.doneCh
}
