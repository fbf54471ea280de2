// Package tree implements RandomCutTree, a single random cut tree over
// points held in a shared PointStore. A tree never copies point data:
// every leaf holds a pointstore.Handle, and bounding boxes are cached
// on interior nodes. An insert or a delete invalidates the cached box
// of every ancestor on its path instead of extending or shrinking it;
// the box is recomputed from the children the next time it is read.
package tree

import (
	"math/rand"

	"github.com/go-kit/log"

	"github.com/rcf-go/rcfcore/internal/prng"
	"github.com/rcf-go/rcfcore/nodestore"
	"github.com/rcf-go/rcfcore/pointstore"
	"github.com/rcf-go/rcfcore/rcferrors"
)

// Config configures a single RandomCutTree.
type Config struct {
	Capacity       int
	RandomSeed     int64
	ComponentIndex int
}

// RandomCutTree owns one CompactNodeStore and an index from the point
// handles it has admitted back to their leaf, so Delete is O(1) to
// locate and O(depth) to splice.
type RandomCutTree struct {
	logger     log.Logger
	name       string
	capacity   int
	pointStore *pointstore.PointStore
	store      *nodestore.CompactNodeStore
	rng        *rand.Rand
	index      map[pointstore.Handle]nodestore.Handle
}

// New builds an empty tree with room for up to capacity leaves, backed
// by ps for point lookups. logger and name label this tree's metrics
// and log lines.
func New(cfg Config, ps *pointstore.PointStore, logger log.Logger, name string) *RandomCutTree {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &RandomCutTree{
		logger:     log.With(logger, "component", "tree", "tree", name),
		name:       name,
		capacity:   cfg.Capacity,
		pointStore: ps,
		store:      nodestore.New(cfg.Capacity, ps.Dimensions(), logger),
		rng:        prng.New(cfg.RandomSeed, cfg.ComponentIndex),
		index:      make(map[pointstore.Handle]nodestore.Handle, cfg.Capacity),
	}
}

// Size returns the number of distinct point handles this tree has
// admitted, counting duplicate-point merges once each.
func (t *RandomCutTree) Size() int { return len(t.index) }

// Mass returns the total number of points held in the tree, 0 when
// the tree is empty. Exposed for observability/CLI use; the insertion
// and deletion paths maintain it incrementally rather than computing
// it on demand.
func (t *RandomCutTree) Mass() int {
	root := t.store.Root()
	if root == nodestore.NullHandle {
		return 0
	}
	return t.store.Mass(root)
}

// Root returns the tree's root node handle, or nodestore.NullHandle
// when the tree is empty.
func (t *RandomCutTree) Root() nodestore.Handle { return t.store.Root() }

// Contains reports whether pointHandle is currently admitted by this
// tree, either as its own leaf or merged into a duplicate's mass.
func (t *RandomCutTree) Contains(pointHandle pointstore.Handle) bool {
	_, ok := t.index[pointHandle]
	return ok
}

// getValidBox returns h's bounding box, recomputing and caching it
// from h's children first if an earlier delete invalidated it. Leaves
// carry no cached box; theirs is always derived from the live point.
func (t *RandomCutTree) getValidBox(h nodestore.Handle) nodestore.BoundingBox {
	if t.store.IsLeaf(h) {
		return t.leafBox(h)
	}
	if box, valid := t.store.Box(h); valid {
		return box
	}
	left := t.getValidBox(t.store.Left(h))
	right := t.getValidBox(t.store.Right(h))
	merged := nodestore.MergeBoxes(left, right)
	t.store.SetBox(h, merged)
	metricBoundingBoxRecomputeTotal.WithLabelValues(t.name).Inc()
	return merged
}

func (t *RandomCutTree) leafBox(h nodestore.Handle) nodestore.BoundingBox {
	point, err := t.pointStore.Get(t.store.PointIndex(h))
	if err != nil {
		rcferrors.Fatalf("tree: leaf %d references point handle that is no longer live: %v", h, err)
	}
	return nodestore.DegenerateBox(point)
}

// sampleSeparatingCut draws a cut dimension and value from the box
// formed by merging box with point's degenerate box, choosing the
// dimension with probability proportional to its range in the merged
// box and the value uniformly within that dimension's merged range.
func (t *RandomCutTree) sampleSeparatingCut(box nodestore.BoundingBox, point []float64) (dim int, cutValue float64, mergedBox nodestore.BoundingBox) {
	mergedBox = nodestore.MergeBoxes(box, nodestore.DegenerateBox(point))

	ranges := make([]float64, len(mergedBox.Min))
	var totalRange float64
	for i := range mergedBox.Min {
		ranges[i] = mergedBox.Max[i] - mergedBox.Min[i]
		totalRange += ranges[i]
	}
	if totalRange <= 0 {
		// Every coordinate of the merged box already collapses to a
		// single value; point duplicates the subtree's box exactly.
		return 0, mergedBox.Min[0], mergedBox
	}

	target := t.rng.Float64() * totalRange
	for i, r := range ranges {
		if target < r || i == len(ranges)-1 {
			dim = i
			break
		}
		target -= r
	}
	cutValue = mergedBox.Min[dim] + t.rng.Float64()*ranges[dim]
	return dim, cutValue, mergedBox
}

// incrementAncestorMass adjusts mass by delta on from and every
// ancestor up to the root, invalidating each interior ancestor's
// cached box along the way.
func (t *RandomCutTree) incrementAncestorMass(from nodestore.Handle, delta int) {
	for h := from; h != nodestore.NullHandle; h = t.store.Parent(h) {
		t.store.SetMass(h, t.store.Mass(h)+delta)
		if !t.store.IsLeaf(h) {
			t.store.InvalidateBox(h)
		}
	}
}

// Add inserts pointHandle, previously stored in this tree's
// PointStore, at sequenceIndex. merged reports whether the point
// turned out to be an exact duplicate of an existing leaf: in that
// case no new leaf was allocated, the existing leaf's mass increased
// instead, and the caller owns deciding whether pointHandle's
// reference into the PointStore is still needed.
func (t *RandomCutTree) Add(pointHandle pointstore.Handle, sequenceIndex int64) (leaf nodestore.Handle, merged bool, err error) {
	point, err := t.pointStore.Get(pointHandle)
	if err != nil {
		return nodestore.NullHandle, false, err
	}

	if t.store.Root() == nodestore.NullHandle {
		leaf = t.store.AllocLeaf(pointHandle)
		t.store.SetRoot(leaf)
		t.index[pointHandle] = leaf
		return leaf, false, nil
	}

	node := t.store.Root()
	parent := nodestore.NullHandle

	for depth := 0; depth <= t.capacity+1; depth++ {
		if t.store.IsLeaf(node) {
			existing := t.store.PointIndex(node)
			equal, eqErr := t.pointStore.PointEquals(existing, point)
			if eqErr != nil {
				return nodestore.NullHandle, false, eqErr
			}
			if equal {
				t.incrementAncestorMass(node, 1)
				t.index[pointHandle] = node
				return node, true, nil
			}
		}

		box := t.getValidBox(node)
		dim, cutValue, mergedBox := t.sampleSeparatingCut(box, point)

		if cutValue < box.Min[dim] || cutValue >= box.Max[dim] {
			newLeaf := t.store.AllocLeaf(pointHandle)
			newInterior := t.store.AllocInterior(dim, cutValue)

			t.store.SetMass(newInterior, t.store.Mass(node)+1)
			t.store.SetBox(newInterior, mergedBox)

			if cutValue < box.Min[dim] {
				t.store.SetLeft(newInterior, newLeaf)
				t.store.SetRight(newInterior, node)
			} else {
				t.store.SetLeft(newInterior, node)
				t.store.SetRight(newInterior, newLeaf)
			}
			t.store.SetParent(newLeaf, newInterior)
			t.store.SetParent(node, newInterior)
			t.store.SetParent(newInterior, parent)

			if parent == nodestore.NullHandle {
				t.store.SetRoot(newInterior)
			} else if t.store.Left(parent) == node {
				t.store.SetLeft(parent, newInterior)
			} else {
				t.store.SetRight(parent, newInterior)
			}

			t.incrementAncestorMass(parent, 1)
			t.index[pointHandle] = newLeaf
			return newLeaf, false, nil
		}

		parent = node
		if point[t.store.CutDimension(node)] < t.store.CutValue(node) {
			node = t.store.Left(node)
		} else {
			node = t.store.Right(node)
		}
	}

	rcferrors.Fatalf("tree: insert of handle %d exceeded capacity-bounded depth, tree structure is corrupted", pointHandle)
	return nodestore.NullHandle, false, nil
}

// Delete removes pointHandle, admitted earlier by Add, from the tree.
// Deleting a handle this tree never admitted is a fatal programming
// error: the forest's SamplerPlusTree is the only caller, and it never
// deletes a handle the sampler did not just evict.
func (t *RandomCutTree) Delete(pointHandle pointstore.Handle, sequenceIndex int64) {
	leaf, ok := t.index[pointHandle]
	if !ok {
		rcferrors.Fatalf("tree: delete called with handle %d that this tree never admitted", pointHandle)
	}
	delete(t.index, pointHandle)

	t.incrementAncestorMass(leaf, -1)
	if t.store.Mass(leaf) > 0 {
		return
	}

	parent := t.store.Parent(leaf)
	if parent == nodestore.NullHandle {
		t.store.SetRoot(nodestore.NullHandle)
		t.store.FreeLeaf(leaf)
		return
	}

	sibling := t.store.Left(parent)
	if sibling == leaf {
		sibling = t.store.Right(parent)
	}
	grandparent := t.store.Parent(parent)
	t.store.SetParent(sibling, grandparent)
	if grandparent == nodestore.NullHandle {
		t.store.SetRoot(sibling)
	} else if t.store.Left(grandparent) == parent {
		t.store.SetLeft(grandparent, sibling)
	} else {
		t.store.SetRight(grandparent, sibling)
	}

	t.store.FreeLeaf(leaf)
	t.store.FreeInterior(parent)
}

// orderedChildren routes a query the same way Add routes an insert at
// this node: ties break right, so a point exactly equal to the cut
// value is treated as belonging to the same side a tied insert would
// have taken.
func (t *RandomCutTree) orderedChildren(h nodestore.Handle, queryPoint []float64) (near, far nodestore.Handle) {
	if queryPoint[t.store.CutDimension(h)] < t.store.CutValue(h) {
		return t.store.Left(h), t.store.Right(h)
	}
	return t.store.Right(h), t.store.Left(h)
}

// Traverse walks from the root to the leaf queryPoint's cuts route it
// to, calling visitor.Accept on each interior node on the way back up
// and visitor.AcceptLeaf at the bottom. When visitor also implements
// MultiVisitor and Fork reports true at a node, both children are
// visited in full and their results folded with Combine instead of
// following a single path.
func Traverse[R any](t *RandomCutTree, queryPoint []float64, visitor Visitor[R]) R {
	if t.store.Root() == nodestore.NullHandle {
		return visitor.Result()
	}
	return traverse(t, t.store.Root(), queryPoint, visitor, 0)
}

func traverse[R any](t *RandomCutTree, h nodestore.Handle, queryPoint []float64, visitor Visitor[R], depth int) R {
	if t.store.IsLeaf(h) {
		visitor.AcceptLeaf(h, depth)
		return visitor.Result()
	}

	if mv, ok := visitor.(MultiVisitor[R]); ok && mv.Fork(h, depth) {
		left := traverse(t, t.store.Left(h), queryPoint, visitor, depth+1)
		right := traverse(t, t.store.Right(h), queryPoint, visitor, depth+1)
		visitor.Accept(h, depth)
		return mv.Combine(left, right)
	}

	near, _ := t.orderedChildren(h, queryPoint)
	traverse(t, near, queryPoint, visitor, depth+1)
	visitor.Accept(h, depth)
	return visitor.Result()
}
