package core

import "fmt"

// SymbolicCode is a predicate's code reference before its references have
// been resolved against state: either inline bytecode or a pointer at
// another account's stored bytecode plus the entrypoint to invoke.
type SymbolicCode struct {
	Inline     []byte
	RefAddress Address
	RefEntry   string
}

// InlineCode wraps bytecode supplied directly in the predicate.
func InlineCode(code []byte) SymbolicCode { return SymbolicCode{Inline: code} }

// AccountRefCode points at bytecode stored in another account's state.
func AccountRefCode(addr Address, entrypoint string) SymbolicCode {
	return SymbolicCode{RefAddress: addr, RefEntry: entrypoint}
}

// IsAccountRef reports whether this code is a reference to another account,
// as opposed to bytecode supplied inline.
func (c SymbolicCode) IsAccountRef() bool { return c.RefEntry != "" }

// ParamKind tags which of the four reference forms a predicate parameter
// takes.
type ParamKind int

const (
	ParamInline ParamKind = iota
	ParamAccountRef
	ParamProposalRef
	ParamCalldataRef
)

// SymbolicParam is a predicate parameter before resolution: inline data, or
// a reference into an account, a sibling proposal, or intent calldata.
type SymbolicParam struct {
	Kind       ParamKind
	Inline     []byte
	RefAddress Address
	CalldataID string
}

func InlineParam(b []byte) SymbolicParam { return SymbolicParam{Kind: ParamInline, Inline: b} }
func AccountRefParam(addr Address) SymbolicParam {
	return SymbolicParam{Kind: ParamAccountRef, RefAddress: addr}
}
func ProposalRefParam(addr Address) SymbolicParam {
	return SymbolicParam{Kind: ParamProposalRef, RefAddress: addr}
}
func CalldataRefParam(key string) SymbolicParam {
	return SymbolicParam{Kind: ParamCalldataRef, CalldataID: key}
}

func (p SymbolicParam) IsInline() bool      { return p.Kind == ParamInline }
func (p SymbolicParam) IsAccountRef() bool  { return p.Kind == ParamAccountRef }
func (p SymbolicParam) IsProposalRef() bool { return p.Kind == ParamProposalRef }
func (p SymbolicParam) IsCalldataRef() bool { return p.Kind == ParamCalldataRef }

// ExpandedCode carries bytecode and entrypoint with all references already
// resolved against state. RefAddress/IsRef retain the provenance of an
// account-ref code even after resolution, so the scheduler can still tell
// that evaluating this predicate depends on RefAddress's account.
type ExpandedCode struct {
	Code       []byte
	Entrypoint string
	RefAddress Address
	IsRef      bool
}

// IsAccountRef reports whether this code was resolved from another
// account's bytecode, as opposed to supplied inline.
func (c ExpandedCode) IsAccountRef() bool { return c.IsRef }

// ExpandedParam carries a resolved parameter's payload alongside its
// original reference (where it had one), so evaluators can still reason
// about provenance (e.g. the scheduler's read-set extraction).
type ExpandedParam struct {
	Kind       ParamKind
	RefAddress Address
	CalldataID string
	Data       []byte
}

func (p ExpandedParam) IsAccountRef() bool  { return p.Kind == ParamAccountRef }
func (p ExpandedParam) IsProposalRef() bool { return p.Kind == ParamProposalRef }
func (p ExpandedParam) IsCalldataRef() bool { return p.Kind == ParamCalldataRef }

// Predicate pairs code with the parameters it is invoked with. C and P are
// the code/param representation for this predicate's stage: either
// (SymbolicCode, SymbolicParam) or (ExpandedCode, ExpandedParam).
type Predicate[C, P any] struct {
	Code   C
	Params []P
}

// SymbolicPredicate and ExpandedPredicate name the two concrete
// instantiations used throughout the system.
type SymbolicPredicate = Predicate[SymbolicCode, SymbolicParam]
type ExpandedPredicate = Predicate[ExpandedCode, ExpandedParam]

// TreeKind tags which connective a PredicateTree node represents.
type TreeKind int

const (
	TreeLeaf TreeKind = iota
	TreeNot
	TreeAnd
	TreeOr
)

// PredicateTree is a free boolean-expression tree over a predicate leaf
// type. Evaluation is logically short-circuiting, but leaves are required
// to be pure so any evaluation order (including parallel) yields the same
// result.
type PredicateTree[C, P any] struct {
	Kind  TreeKind
	Leaf  Predicate[C, P]   `msgpack:",omitempty"`
	Child *PredicateTree[C, P] `msgpack:",omitempty"`
	Left  *PredicateTree[C, P] `msgpack:",omitempty"`
	Right *PredicateTree[C, P] `msgpack:",omitempty"`
}

type SymbolicTree = PredicateTree[SymbolicCode, SymbolicParam]
type ExpandedTree = PredicateTree[ExpandedCode, ExpandedParam]

func LeafTree[C, P any](pred Predicate[C, P]) *PredicateTree[C, P] {
	return &PredicateTree[C, P]{Kind: TreeLeaf, Leaf: pred}
}

func NotTree[C, P any](t *PredicateTree[C, P]) *PredicateTree[C, P] {
	return &PredicateTree[C, P]{Kind: TreeNot, Child: t}
}

func AndTree[C, P any](l, r *PredicateTree[C, P]) *PredicateTree[C, P] {
	return &PredicateTree[C, P]{Kind: TreeAnd, Left: l, Right: r}
}

func OrTree[C, P any](l, r *PredicateTree[C, P]) *PredicateTree[C, P] {
	return &PredicateTree[C, P]{Kind: TreeOr, Left: l, Right: r}
}

// AsLeaf reports whether this node is a predicate leaf, and returns it.
func (t *PredicateTree[C, P]) AsLeaf() (Predicate[C, P], bool) {
	if t.Kind == TreeLeaf {
		return t.Leaf, true
	}
	return Predicate[C, P]{}, false
}

// ForEachLeaf visits every predicate leaf in the tree, in an unspecified
// but deterministic (left-to-right, depth-first) order. Leaves are pure, so
// callers may also choose to visit them in parallel.
func (t *PredicateTree[C, P]) ForEachLeaf(visit func(Predicate[C, P])) {
	switch t.Kind {
	case TreeLeaf:
		visit(t.Leaf)
	case TreeNot:
		t.Child.ForEachLeaf(visit)
	case TreeAnd, TreeOr:
		t.Left.ForEachLeaf(visit)
		t.Right.ForEachLeaf(visit)
	}
}

// MapTree applies a pure, infallible transform to every leaf, preserving
// tree structure. Used when a transform cannot fail; see TryMapTree for the
// fallible version used by the packager.
func MapTree[C, P, C2, P2 any](
	t *PredicateTree[C, P],
	op func(Predicate[C, P]) Predicate[C2, P2],
) *PredicateTree[C2, P2] {
	out, _ := TryMapTree(t, func(p Predicate[C, P]) (Predicate[C2, P2], error) {
		return op(p), nil
	})
	return out
}

// TryMapTree applies a fallible transform to every leaf, preserving tree
// structure, stopping at the first error. This is how the packager turns a
// SymbolicTree into an ExpandedTree.
func TryMapTree[C, P, C2, P2 any](
	t *PredicateTree[C, P],
	op func(Predicate[C, P]) (Predicate[C2, P2], error),
) (*PredicateTree[C2, P2], error) {
	switch t.Kind {
	case TreeLeaf:
		out, err := op(t.Leaf)
		if err != nil {
			return nil, err
		}
		return LeafTree(out), nil
	case TreeNot:
		child, err := TryMapTree(t.Child, op)
		if err != nil {
			return nil, err
		}
		return NotTree(child), nil
	case TreeAnd:
		l, err := TryMapTree(t.Left, op)
		if err != nil {
			return nil, err
		}
		r, err := TryMapTree(t.Right, op)
		if err != nil {
			return nil, err
		}
		return AndTree(l, r), nil
	case TreeOr:
		l, err := TryMapTree(t.Left, op)
		if err != nil {
			return nil, err
		}
		r, err := TryMapTree(t.Right, op)
		if err != nil {
			return nil, err
		}
		return OrTree(l, r), nil
	default:
		return nil, fmt.Errorf("predicate tree: unknown node kind %d", t.Kind)
	}
}

// Reduce folds a tree down to a single boolean following standard Not/And/Or
// semantics. `next` is called once per leaf, in the same order ForEachLeaf
// would visit them, and must supply that leaf's already-evaluated result.
func (t *PredicateTree[C, P]) Reduce(next func() bool) bool {
	switch t.Kind {
	case TreeLeaf:
		return next()
	case TreeNot:
		return !t.Child.Reduce(next)
	case TreeAnd:
		l := t.Left.Reduce(next)
		r := t.Right.Reduce(next)
		return l && r
	case TreeOr:
		l := t.Left.Reduce(next)
		r := t.Right.Reduce(next)
		return l || r
	default:
		return false
	}
}
