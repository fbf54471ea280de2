package tree

import "github.com/rcf-go/rcfcore/nodestore"

// Visitor accumulates a result R while a traversal walks from a leaf
// up to the root along the query path. Leaves are offered first, then
// each ancestor in turn, so a scoring visitor never needs to know the
// tree's depth in advance.
type Visitor[R any] interface {
	AcceptLeaf(leaf nodestore.Handle, depth int)
	Accept(node nodestore.Handle, depth int)
	Result() R
}

// MultiVisitor is a Visitor that can fork at a chosen interior node,
// producing independent results for each branch that Combine then
// folds into one. Traverse uses it when a visitor wants to see more
// than the single root-to-leaf path a plain Visitor is limited to.
type MultiVisitor[R any] interface {
	Visitor[R]
	// Fork reports whether the traversal should branch at node,
	// visiting both children's subtrees independently.
	Fork(node nodestore.Handle, depth int) bool
	// Combine merges two results produced by forked subtraversals.
	Combine(left, right R) R
}
