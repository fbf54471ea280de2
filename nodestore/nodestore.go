// Package nodestore implements CompactNodeStore, the column-oriented
// arena backing one RandomCutTree: interior nodes and leaves share a
// single handle space, distinguished by range, with masses and
// bounding boxes held in parallel arrays rather than per-node structs.
package nodestore

import (
	"github.com/go-kit/log"

	"github.com/rcf-go/rcfcore/pointstore"
	"github.com/rcf-go/rcfcore/rcferrors"
)

// Handle is a node identifier. Handles in [0, N) are interior nodes;
// handles in [N, 2N+1) are leaves. N is the store's capacity. 32 bits
// is chosen over 16 so a single tree's sampleSize is never capped by
// the handle width: 16 bits tops out at 32767, below realistic
// sampleSize configurations.
type Handle uint32

// NullHandle is the sentinel for "no node" (no parent, no child).
const NullHandle Handle = 1<<32 - 1

// BoundingBox is an axis-aligned box in the point's coordinate space.
type BoundingBox struct {
	Min []float64
	Max []float64
}

func newBox(dimensions int) BoundingBox {
	return BoundingBox{Min: make([]float64, dimensions), Max: make([]float64, dimensions)}
}

func (b *BoundingBox) resetToPoint(point []float64) {
	copy(b.Min, point)
	copy(b.Max, point)
}

// DegenerateBox returns the bounding box of a single point, used for
// leaves, which do not carry a cached box of their own.
func DegenerateBox(point []float64) BoundingBox {
	b := BoundingBox{Min: make([]float64, len(point)), Max: make([]float64, len(point))}
	b.resetToPoint(point)
	return b
}

// Contains reports whether point falls within b on every dimension.
func (b BoundingBox) Contains(point []float64) bool {
	for i, v := range point {
		if v < b.Min[i] || v > b.Max[i] {
			return false
		}
	}
	return true
}

// MergeBoxes returns the smallest box containing both a and b.
func MergeBoxes(a, b BoundingBox) BoundingBox {
	out := newBox(len(a.Min))
	for i := range out.Min {
		out.Min[i] = minFloat(a.Min[i], b.Min[i])
		out.Max[i] = maxFloat(a.Max[i], b.Max[i])
	}
	return out
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// CompactNodeStore is the parallel-array backing for one tree, fixed
// in size for the tree's lifetime: capacity is tied to the owning
// sampler's reservoir size, which never grows (a full reservoir only
// evicts to make room), so the node arrays never need to either. N is
// the capacity of interior nodes; leaf handles occupy [N, 2N+1) since
// a binary tree over N+1 leaves has exactly N interior nodes.
type CompactNodeStore struct {
	logger     log.Logger
	dimensions int
	n          int // interior node capacity; leaf handles start at n

	// interior node arrays, indexed by handle in [0, n)
	parent       []Handle
	left         []Handle
	right        []Handle
	cutDimension []int
	cutValue     []float64
	interiorMass []int
	box          []BoundingBox
	boxValid     []bool

	// leaf arrays, indexed by (handle - n) in [0, n+1)
	leafParent []Handle
	pointIndex []pointstore.Handle
	leafMass   []int

	freeInterior []Handle // stack of free interior handles
	freeLeaf     []Handle // stack of free leaf handles, absolute (in [n, 2n])

	root Handle
}

// New builds an empty store sized for up to capacity leaves.
func New(capacity int, dimensions int, logger log.Logger) *CompactNodeStore {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	n := capacity
	s := &CompactNodeStore{
		logger:       logger,
		dimensions:   dimensions,
		n:            n,
		root:         NullHandle,
		parent:       make([]Handle, n),
		left:         make([]Handle, n),
		right:        make([]Handle, n),
		cutDimension: make([]int, n),
		cutValue:     make([]float64, n),
		interiorMass: make([]int, n),
		box:          make([]BoundingBox, n),
		boxValid:     make([]bool, n),
		leafParent:   make([]Handle, n+1),
		pointIndex:   make([]pointstore.Handle, n+1),
		leafMass:     make([]int, n+1),
		freeInterior: make([]Handle, n),
		freeLeaf:     make([]Handle, n+1),
	}
	for i := 0; i < n; i++ {
		s.box[i] = newBox(dimensions)
		s.freeInterior[i] = Handle(n - 1 - i)
	}
	for i := 0; i <= n; i++ {
		s.freeLeaf[i] = Handle(n + n - i) // leaves occupy [n, 2n]; fill stack high-to-low like freeInterior
	}
	return s
}

// IsLeaf reports whether h denotes a leaf, per the handle range
// convention: leaves occupy [n, 2n+1).
func (s *CompactNodeStore) IsLeaf(h Handle) bool {
	return h != NullHandle && int(h) >= s.n
}

func (s *CompactNodeStore) leafOffset(h Handle) int { return int(h) - s.n }

// Root returns the tree's current root, or NullHandle if empty.
func (s *CompactNodeStore) Root() Handle { return s.root }

// SetRoot sets the tree's root handle.
func (s *CompactNodeStore) SetRoot(h Handle) { s.root = h }

// AllocLeaf takes a free leaf handle and initializes it to hold
// pointIndex with mass 1.
func (s *CompactNodeStore) AllocLeaf(pointIndex pointstore.Handle) Handle {
	if len(s.freeLeaf) == 0 {
		rcferrors.Fatalf("nodestore: out of leaf handles (capacity=%d); sampler admitted more handles than its reservoir allows", s.n+1)
	}
	top := len(s.freeLeaf) - 1
	h := s.freeLeaf[top]
	s.freeLeaf = s.freeLeaf[:top]

	off := s.leafOffset(h)
	s.leafParent[off] = NullHandle
	s.pointIndex[off] = pointIndex
	s.leafMass[off] = 1
	return h
}

// AllocInterior takes a free interior handle and initializes its cut.
func (s *CompactNodeStore) AllocInterior(cutDimension int, cutValue float64) Handle {
	if len(s.freeInterior) == 0 {
		rcferrors.Fatalf("nodestore: out of interior handles (capacity=%d); a tree with N leaves needs at most N-1 interior nodes", s.n)
	}
	top := len(s.freeInterior) - 1
	h := s.freeInterior[top]
	s.freeInterior = s.freeInterior[:top]

	s.parent[h] = NullHandle
	s.left[h] = NullHandle
	s.right[h] = NullHandle
	s.cutDimension[h] = cutDimension
	s.cutValue[h] = cutValue
	s.interiorMass[h] = 0
	s.boxValid[h] = false
	return h
}

// FreeLeaf returns a leaf handle to the free pool.
func (s *CompactNodeStore) FreeLeaf(h Handle) {
	if !s.IsLeaf(h) {
		rcferrors.Fatalf("nodestore: FreeLeaf called on non-leaf handle %d", h)
	}
	s.freeLeaf = append(s.freeLeaf, h)
}

// FreeInterior returns an interior handle to the free pool.
func (s *CompactNodeStore) FreeInterior(h Handle) {
	if s.IsLeaf(h) {
		rcferrors.Fatalf("nodestore: FreeInterior called on leaf handle %d", h)
	}
	s.freeInterior = append(s.freeInterior, h)
}

// Parent, Left, Right, CutDimension, CutValue, Mass are the read
// accessors a tree traversal uses; they dispatch on IsLeaf internally
// only where the attribute differs between the two node kinds.

func (s *CompactNodeStore) Parent(h Handle) Handle {
	if s.IsLeaf(h) {
		return s.leafParent[s.leafOffset(h)]
	}
	return s.parent[h]
}

func (s *CompactNodeStore) SetParent(h, p Handle) {
	if s.IsLeaf(h) {
		s.leafParent[s.leafOffset(h)] = p
		return
	}
	s.parent[h] = p
}

func (s *CompactNodeStore) Left(h Handle) Handle  { return s.left[h] }
func (s *CompactNodeStore) Right(h Handle) Handle { return s.right[h] }
func (s *CompactNodeStore) SetLeft(h, c Handle)   { s.left[h] = c }
func (s *CompactNodeStore) SetRight(h, c Handle)  { s.right[h] = c }

func (s *CompactNodeStore) CutDimension(h Handle) int { return s.cutDimension[h] }
func (s *CompactNodeStore) CutValue(h Handle) float64 { return s.cutValue[h] }

func (s *CompactNodeStore) Mass(h Handle) int {
	if s.IsLeaf(h) {
		return s.leafMass[s.leafOffset(h)]
	}
	return s.interiorMass[h]
}

func (s *CompactNodeStore) SetMass(h Handle, m int) {
	if s.IsLeaf(h) {
		s.leafMass[s.leafOffset(h)] = m
		return
	}
	s.interiorMass[h] = m
}

func (s *CompactNodeStore) PointIndex(h Handle) pointstore.Handle {
	return s.pointIndex[s.leafOffset(h)]
}

// Box returns the cached bounding box for an interior node and
// whether it is currently valid (false after an invalidating delete,
// until the owning tree recomputes and calls SetBox again).
func (s *CompactNodeStore) Box(h Handle) (BoundingBox, bool) {
	return s.box[h], s.boxValid[h]
}

func (s *CompactNodeStore) SetBox(h Handle, box BoundingBox) {
	copy(s.box[h].Min, box.Min)
	copy(s.box[h].Max, box.Max)
	s.boxValid[h] = true
}

func (s *CompactNodeStore) InvalidateBox(h Handle) {
	s.boxValid[h] = false
}

// Dimensions returns the coordinate space size boxes are held in.
func (s *CompactNodeStore) Dimensions() int { return s.dimensions }
