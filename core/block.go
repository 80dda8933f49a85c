package core

import "sync"

// Block is a committed batch of fully expanded transactions, chained to its
// parent by hash. Blocks only ever carry expanded transactions: by the time
// a transaction is included in a block it has already been packaged and
// resolved against state.
type Block struct {
	Height       uint64
	Parent       Multihash
	Transactions []*ExpandedTransaction

	hashOnce sync.Once
	hash     Multihash
	hashErr  error
}

// GenesisBlock is the fixed height-0 block every chain starts from. It has
// no parent and no transactions.
func GenesisBlock() *Block {
	return &Block{Height: 0, Parent: nil, Transactions: nil}
}

// NewBlock builds a block extending parent at parent.Height+1.
func NewBlock(parent *Block, parentHash Multihash, txs []*ExpandedTransaction) *Block {
	return &Block{Height: parent.Height + 1, Parent: parentHash, Transactions: txs}
}

type blockWire struct {
	Height       uint64
	Parent       Multihash
	Transactions []Multihash
}

// Hash is the block's content hash, memoized on first call. It is computed
// over the block's height, parent hash and the hashes of its transactions
// rather than the full transaction bodies, so hashing a block never needs
// to re-hash calldata/predicate payloads already covered by each
// transaction's own Hash().
func (b *Block) Hash() (Multihash, error) {
	b.hashOnce.Do(func() {
		txHashes := make([]Multihash, len(b.Transactions))
		for i, tx := range b.Transactions {
			h, err := tx.Hash()
			if err != nil {
				b.hashErr = err
				return
			}
			txHashes[i] = h
		}
		b.hash, b.hashErr = hashValue(blockWire{
			Height:       b.Height,
			Parent:       b.Parent,
			Transactions: txHashes,
		})
	})
	return b.hash, b.hashErr
}
