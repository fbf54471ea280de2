package pointstore

import (
	"math"
	"testing"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcf-go/rcfcore/config"
)

func testConfig() config.Config {
	return config.Config{
		Dimensions:              4,
		ShingleSize:             2,
		Capacity:                16,
		SampleSize:              8,
		NumberOfTrees:           1,
		TimeDecay:               0.01,
		InitialAcceptFraction:   1,
		DynamicResizingEnabled:  true,
		InternalShinglingEnabled: false,
	}
}

func TestAddAndGetRoundTrip(t *testing.T) {
	ps, err := New(testConfig(), nil, "test")
	require.NoError(t, err)

	point := []float64{1, 2, 3, 4}
	h, err := ps.Add(point, 0)
	require.NoError(t, err)
	assert.NotEqual(t, NullHandle, h)

	got, err := ps.Get(h)
	require.NoError(t, err)
	if diff := deep.Equal(point, got); diff != nil {
		t.Errorf("round trip changed point: %v", diff)
	}
	assert.Equal(t, 1, ps.GetRefCount(h))
}

func TestAddRejectsWrongDimension(t *testing.T) {
	ps, err := New(testConfig(), nil, "test")
	require.NoError(t, err)

	_, err = ps.Add([]float64{1, 2, 3}, 0)
	assert.Error(t, err)
}

func TestPointEquals(t *testing.T) {
	ps, err := New(testConfig(), nil, "test")
	require.NoError(t, err)

	h, err := ps.Add([]float64{1, 2, 3, 4}, 0)
	require.NoError(t, err)

	eq, err := ps.PointEquals(h, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = ps.PointEquals(h, []float64{1, 2, 3, 5})
	require.NoError(t, err)
	assert.False(t, eq)
}

func TestRefCountingFreesHandle(t *testing.T) {
	ps, err := New(testConfig(), nil, "test")
	require.NoError(t, err)

	h, err := ps.Add([]float64{1, 2, 3, 4}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, ps.Size())

	ps.IncrementRefCount(h)
	assert.Equal(t, 2, ps.GetRefCount(h))

	assert.Equal(t, 1, ps.DecrementRefCount(h))
	assert.Equal(t, 1, ps.Size())

	assert.Equal(t, 0, ps.DecrementRefCount(h))
	assert.Equal(t, 0, ps.Size())
	assert.Equal(t, 0, ps.GetRefCount(h))
}

func TestDecrementRefCountBelowZeroIsFatal(t *testing.T) {
	ps, err := New(testConfig(), nil, "test")
	require.NoError(t, err)

	h, err := ps.Add([]float64{1, 2, 3, 4}, 0)
	require.NoError(t, err)
	ps.DecrementRefCount(h)

	assert.Panics(t, func() {
		ps.DecrementRefCount(h)
	})
}

func TestNegativeZeroNormalizedOnIngest(t *testing.T) {
	ps, err := New(testConfig(), nil, "test")
	require.NoError(t, err)

	negZero := []float64{1, 2, 3, 4}
	negZero[0] = negativeZero()

	h, err := ps.Add(negZero, 0)
	require.NoError(t, err)

	got, err := ps.Get(h)
	require.NoError(t, err)
	assert.Equal(t, float64(0), got[0])
	assert.False(t, isNegativeZero(got[0]))
}

func negativeZero() float64 {
	return math.Copysign(0, -1)
}

func isNegativeZero(v float64) bool {
	return floatBits(v) == floatBits(negativeZero())
}

func TestInternalShinglingBuffersUntilFull(t *testing.T) {
	cfg := testConfig()
	cfg.Dimensions = 4
	cfg.ShingleSize = 2
	cfg.InternalShinglingEnabled = true

	ps, err := New(cfg, nil, "test")
	require.NoError(t, err)

	h, err := ps.Add([]float64{1, 2}, 0)
	require.NoError(t, err)
	assert.Equal(t, NotReady, h)

	h, err = ps.Add([]float64{3, 4}, 1)
	require.NoError(t, err)
	require.NotEqual(t, NotReady, h)
	require.NotEqual(t, NullHandle, h)

	got, err := ps.Get(h)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, got)
}

func TestTransformToShingledPointDoesNotMutateState(t *testing.T) {
	cfg := testConfig()
	cfg.InternalShinglingEnabled = true
	ps, err := New(cfg, nil, "test")
	require.NoError(t, err)

	_, err = ps.Add([]float64{1, 2}, 0)
	require.NoError(t, err)

	preview, err := ps.TransformToShingledPoint([]float64{3, 4})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, preview)

	h, err := ps.Add([]float64{3, 4}, 1)
	require.NoError(t, err)
	got, err := ps.Get(h)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, got)
}

func TestTransformIndicesMapsToTail(t *testing.T) {
	cfg := testConfig()
	cfg.Dimensions = 6
	cfg.ShingleSize = 3
	cfg.InternalShinglingEnabled = true
	ps, err := New(cfg, nil, "test")
	require.NoError(t, err)

	mapped, err := ps.TransformIndices([]int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, mapped)

	_, err = ps.TransformIndices([]int{2})
	assert.Error(t, err)
}

func TestCompactionPreservesPointsAndAddresses(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 8
	cfg.DynamicResizingEnabled = false
	ps, err := New(cfg, nil, "test")
	require.NoError(t, err)

	handles := make([]Handle, 0, cfg.Capacity)
	for i := 0; i < cfg.Capacity; i++ {
		h, err := ps.Add([]float64{float64(i), float64(i), float64(i), float64(i)}, int64(i))
		require.NoError(t, err)
		handles = append(handles, h)
	}

	// free every other handle, forcing future appends to be unable to
	// reuse the contiguous gaps without compaction reclaiming space.
	for i := 0; i < len(handles); i += 2 {
		ps.DecrementRefCount(handles[i])
	}

	ps.compact()

	for i := 1; i < len(handles); i += 2 {
		got, err := ps.Get(handles[i])
		require.NoError(t, err)
		want := []float64{float64(i), float64(i), float64(i), float64(i)}
		if diff := deep.Equal(want, got); diff != nil {
			t.Errorf("compaction changed point at handle %d: %v", handles[i], diff)
		}
	}
}

func TestGrowthExtendsCapacityWithoutLosingData(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 64
	cfg.DynamicResizingEnabled = true
	ps, err := New(cfg, nil, "test")
	require.NoError(t, err)

	var last Handle
	for i := 0; i < 40; i++ {
		h, err := ps.Add([]float64{float64(i), float64(i), float64(i), float64(i)}, int64(i))
		require.NoError(t, err)
		last = h
	}

	got, err := ps.Get(last)
	require.NoError(t, err)
	assert.Equal(t, []float64{39, 39, 39, 39}, got)
	assert.Equal(t, 40, ps.Size())
}

func TestDirectLocationMapAddressing(t *testing.T) {
	cfg := testConfig()
	cfg.ShingleSize = 1
	cfg.Dimensions = 4
	cfg.DirectLocationMap = true
	ps, err := New(cfg, nil, "test")
	require.NoError(t, err)
	require.True(t, ps.directLocationMap)

	h1, err := ps.Add([]float64{1, 1, 1, 1}, 0)
	require.NoError(t, err)
	h2, err := ps.Add([]float64{2, 2, 2, 2}, 1)
	require.NoError(t, err)

	assert.Equal(t, 0, ps.address(h1))
	assert.Equal(t, ps.dimensions, ps.address(h2))

	// compaction must be a no-op for direct-mapped stores.
	ps.compact()
	got, err := ps.Get(h1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 1}, got)
}

func TestOverlapSharingReclaimsSpaceWithoutRotation(t *testing.T) {
	cfg := testConfig()
	cfg.Dimensions = 4
	cfg.ShingleSize = 2
	cfg.Capacity = 32
	cfg.InternalRotationEnabled = false
	ps, err := New(cfg, nil, "test")
	require.NoError(t, err)

	h1, err := ps.Add([]float64{1, 2, 3, 4}, 0)
	require.NoError(t, err)
	usedAfterFirst := ps.startOfFreeSegment

	h2, err := ps.Add([]float64{3, 4, 5, 6}, 1)
	require.NoError(t, err)
	usedAfterSecond := ps.startOfFreeSegment

	// the second point's leading baseDim values equal the first
	// point's trailing baseDim values, so only baseDim new values
	// should have been appended.
	assert.Equal(t, ps.baseDim, usedAfterSecond-usedAfterFirst)

	got1, err := ps.Get(h1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, got1)

	got2, err := ps.Get(h2)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4, 5, 6}, got2)
}

func TestGetNextSequenceIndexTracksHighestSeen(t *testing.T) {
	ps, err := New(testConfig(), nil, "test")
	require.NoError(t, err)

	_, err = ps.Add([]float64{1, 2, 3, 4}, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(6), ps.GetNextSequenceIndex())

	_, err = ps.Add([]float64{1, 2, 3, 4}, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(6), ps.GetNextSequenceIndex())
}

func TestFloat32TruncationOnIngest(t *testing.T) {
	cfg := testConfig()
	cfg.Precision = config.Float32
	ps, err := New(cfg, nil, "test")
	require.NoError(t, err)

	h, err := ps.Add([]float64{0.1, 0.2, 0.3, 0.4}, 0)
	require.NoError(t, err)

	got, err := ps.Get(h)
	require.NoError(t, err)
	assert.Equal(t, float64(float32(0.1)), got[0])
}
