package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcf-go/rcfcore/config"
	"github.com/rcf-go/rcfcore/nodestore"
	"github.com/rcf-go/rcfcore/pointstore"
)

func newTestPointStore(t *testing.T, capacity int) *pointstore.PointStore {
	t.Helper()
	ps, err := pointstore.New(config.Config{
		Dimensions:            2,
		ShingleSize:           1,
		Capacity:              capacity,
		SampleSize:            capacity,
		NumberOfTrees:         1,
		TimeDecay:             0.01,
		InitialAcceptFraction: 1,
	}, nil, "test")
	require.NoError(t, err)
	return ps
}

func add(t *testing.T, ps *pointstore.PointStore, x, y float64) pointstore.Handle {
	t.Helper()
	h, err := ps.Add([]float64{x, y}, 0)
	require.NoError(t, err)
	return h
}

func TestAddSingleCreatesRoot(t *testing.T) {
	ps := newTestPointStore(t, 8)
	tr := New(Config{Capacity: 8, RandomSeed: 1}, ps, nil, "test")

	h := add(t, ps, 1, 1)
	leaf, merged, err := tr.Add(h, 0)
	require.NoError(t, err)
	assert.False(t, merged)
	assert.Equal(t, leaf, tr.Root())
	assert.True(t, tr.Contains(h))
	assert.Equal(t, 1, tr.Size())
}

func TestAddDuplicatePointIncrementsMass(t *testing.T) {
	ps := newTestPointStore(t, 8)
	tr := New(Config{Capacity: 8, RandomSeed: 2}, ps, nil, "test")

	h1 := add(t, ps, 3, 4)
	leaf1, _, err := tr.Add(h1, 0)
	require.NoError(t, err)

	h2 := add(t, ps, 3, 4)
	leaf2, merged, err := tr.Add(h2, 1)
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, leaf1, leaf2)
	assert.Equal(t, 2, tr.Size())
	assert.Equal(t, 2, tr.Mass())
}

func TestAddMultiplePointsBuildsTree(t *testing.T) {
	ps := newTestPointStore(t, 16)
	tr := New(Config{Capacity: 16, RandomSeed: 3}, ps, nil, "test")

	points := [][2]float64{{0, 0}, {10, 10}, {5, 5}, {-3, 7}, {2, -8}}
	for i, p := range points {
		h := add(t, ps, p[0], p[1])
		_, merged, err := tr.Add(h, int64(i))
		require.NoError(t, err)
		assert.False(t, merged)
	}
	assert.Equal(t, len(points), tr.Size())
}

func TestDeleteDecrementsMassWithoutSplicingDuplicate(t *testing.T) {
	ps := newTestPointStore(t, 8)
	tr := New(Config{Capacity: 8, RandomSeed: 4}, ps, nil, "test")

	h1 := add(t, ps, 1, 1)
	leaf, _, err := tr.Add(h1, 0)
	require.NoError(t, err)

	h2 := add(t, ps, 1, 1)
	_, merged, err := tr.Add(h2, 1)
	require.NoError(t, err)
	require.True(t, merged)

	tr.Delete(h2, 1)
	assert.False(t, tr.Contains(h2))
	assert.True(t, tr.Contains(h1))
	assert.Equal(t, leaf, tr.Root())
}

func TestDeleteLastPointEmptiesTree(t *testing.T) {
	ps := newTestPointStore(t, 8)
	tr := New(Config{Capacity: 8, RandomSeed: 5}, ps, nil, "test")

	h := add(t, ps, 1, 1)
	_, _, err := tr.Add(h, 0)
	require.NoError(t, err)

	tr.Delete(h, 0)
	assert.Equal(t, nodestore.NullHandle, tr.Root())
	assert.Equal(t, 0, tr.Size())
}

func TestDeleteSplicesSiblingIntoGrandparent(t *testing.T) {
	ps := newTestPointStore(t, 8)
	tr := New(Config{Capacity: 8, RandomSeed: 6}, ps, nil, "test")

	handles := make([]pointstore.Handle, 0, 3)
	pts := [][2]float64{{0, 0}, {100, 100}, {50, 50}}
	for i, p := range pts {
		h := add(t, ps, p[0], p[1])
		handles = append(handles, h)
		_, _, err := tr.Add(h, int64(i))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, tr.Size())

	tr.Delete(handles[1], 1)
	assert.Equal(t, 2, tr.Size())
	assert.False(t, tr.Contains(handles[1]))
	assert.True(t, tr.Contains(handles[0]))
	assert.True(t, tr.Contains(handles[2]))
}

func TestDeleteOfUnadmittedHandleIsFatal(t *testing.T) {
	ps := newTestPointStore(t, 8)
	tr := New(Config{Capacity: 8, RandomSeed: 7}, ps, nil, "test")

	h := add(t, ps, 1, 1)
	assert.Panics(t, func() {
		tr.Delete(h, 0)
	})
}

func TestBoundingBoxRecomputesAfterDelete(t *testing.T) {
	ps := newTestPointStore(t, 8)
	tr := New(Config{Capacity: 8, RandomSeed: 8}, ps, nil, "test")

	pts := [][2]float64{{-5, -5}, {10, 0}, {0, 10}, {10, 10}}
	handles := make([]pointstore.Handle, 0, len(pts))
	for i, p := range pts {
		h := add(t, ps, p[0], p[1])
		handles = append(handles, h)
		_, _, err := tr.Add(h, int64(i))
		require.NoError(t, err)
	}

	// copy the box: a valid cached box shares its slices with the node store.
	cached := tr.getValidBox(tr.Root())
	boxBefore := nodestore.BoundingBox{
		Min: append([]float64(nil), cached.Min...),
		Max: append([]float64(nil), cached.Max...),
	}

	tr.Delete(handles[0], 0)

	boxAfter := tr.getValidBox(tr.Root())
	assert.NotEqual(t, boxBefore, boxAfter)
}

type countingVisitor struct {
	leaves int
	nodes  int
}

func (v *countingVisitor) AcceptLeaf(leaf nodestore.Handle, depth int) { v.leaves++ }
func (v *countingVisitor) Accept(node nodestore.Handle, depth int)    { v.nodes++ }
func (v *countingVisitor) Result() int                                { return v.leaves + v.nodes }

func TestTraverseVisitsFromLeafToRoot(t *testing.T) {
	ps := newTestPointStore(t, 8)
	tr := New(Config{Capacity: 8, RandomSeed: 9}, ps, nil, "test")

	pts := [][2]float64{{0, 0}, {10, 10}, {5, 5}}
	for i, p := range pts {
		h := add(t, ps, p[0], p[1])
		_, _, err := tr.Add(h, int64(i))
		require.NoError(t, err)
	}

	v := &countingVisitor{}
	result := Traverse[int](tr, []float64{5, 5}, v)
	assert.Equal(t, 1, v.leaves)
	assert.Equal(t, result, v.leaves+v.nodes)
}

func TestTraverseOnEmptyTreeReturnsZeroResult(t *testing.T) {
	ps := newTestPointStore(t, 8)
	tr := New(Config{Capacity: 8, RandomSeed: 10}, ps, nil, "test")

	v := &countingVisitor{}
	result := Traverse[int](tr, []float64{0, 0}, v)
	assert.Equal(t, 0, result)
}
