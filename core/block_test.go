package core

import "testing"

func TestGenesisBlockHasNoParent(t *testing.T) {
	g := GenesisBlock()
	if g.Height != 0 {
		t.Fatalf("genesis height = %d, want 0", g.Height)
	}
	if g.Parent != nil {
		t.Fatalf("genesis parent should be nil")
	}
}

func TestBlockHashIsMemoizedAndStable(t *testing.T) {
	b := GenesisBlock()
	h1, err := b.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := b.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if string(h1) != string(h2) {
		t.Fatalf("hash is not stable across calls")
	}
}

func TestNewBlockExtendsParentHeight(t *testing.T) {
	g := GenesisBlock()
	gh, err := g.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	child := NewBlock(g, gh, nil)
	if child.Height != 1 {
		t.Fatalf("child height = %d, want 1", child.Height)
	}
	if string(child.Parent) != string(gh) {
		t.Fatalf("child parent does not match genesis hash")
	}
}

func TestDifferentBlocksHashDifferently(t *testing.T) {
	g := GenesisBlock()
	gh, _ := g.Hash()
	c1 := NewBlock(g, gh, nil)
	c2 := &Block{Height: 2, Parent: gh}

	h1, _ := c1.Hash()
	h2, _ := c2.Hash()
	if string(h1) == string(h2) {
		t.Fatalf("blocks with different heights should hash differently")
	}
}
