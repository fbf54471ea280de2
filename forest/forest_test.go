package forest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcf-go/rcfcore/config"
	"github.com/rcf-go/rcfcore/nodestore"
	"github.com/rcf-go/rcfcore/pointstore"
	"github.com/rcf-go/rcfcore/tree"
)

func testConfig() config.Config {
	return config.Config{
		Dimensions:            2,
		ShingleSize:           1,
		Capacity:              64,
		SampleSize:            8,
		NumberOfTrees:         3,
		TimeDecay:             0.01,
		InitialAcceptFraction: 1,
	}
}

type leafCountVisitor struct {
	count int
}

func (v *leafCountVisitor) AcceptLeaf(leaf nodestore.Handle, depth int) { v.count++ }
func (v *leafCountVisitor) Accept(node nodestore.Handle, depth int)    {}
func (v *leafCountVisitor) Result() int                                { return v.count }

func sumAcc(acc, next int) int { return acc + next }

func TestUpdateAcceptsPointsAcrossAllComponents(t *testing.T) {
	f, err := New(testConfig(), nil, "test")
	require.NoError(t, err)
	defer f.Close()

	result, notReady, err := f.Update([]float64{1, 2})
	require.NoError(t, err)
	require.False(t, notReady)
	assert.Len(t, result.Components, 3)
	for _, outcome := range result.Components {
		assert.True(t, outcome.Accepted)
	}
	assert.Equal(t, 3, f.pointStore.GetRefCount(result.Handle))
}

func TestUpdateRejectedPointDropsToZeroRefCount(t *testing.T) {
	cfg := testConfig()
	cfg.InitialAcceptFraction = 1
	cfg.SampleSize = 1
	f, err := New(cfg, nil, "test")
	require.NoError(t, err)
	defer f.Close()

	// fill every sampler to capacity 1 first.
	_, _, err = f.Update([]float64{0, 0})
	require.NoError(t, err)

	// subsequent points may be accepted (evicting the first) or
	// rejected; either way refcount must track acceptance exactly.
	result, notReady, err := f.Update([]float64{100, 100})
	require.NoError(t, err)
	require.False(t, notReady)

	accepted := 0
	for _, outcome := range result.Components {
		if outcome.Accepted {
			accepted++
		}
	}
	assert.Equal(t, accepted, f.pointStore.GetRefCount(result.Handle))
}

func TestUpdateEvictionDecrementsEvictedRefCount(t *testing.T) {
	cfg := testConfig()
	cfg.SampleSize = 2
	cfg.NumberOfTrees = 1
	cfg.TimeDecay = 0.5
	f, err := New(cfg, nil, "test")
	require.NoError(t, err)
	defer f.Close()

	var lastEvicted pointstore.Handle
	sawEviction := false
	for i := 0; i < 20; i++ {
		x := float64(i)
		result, notReady, err := f.Update([]float64{x, -x})
		require.NoError(t, err)
		require.False(t, notReady)
		if result.Components[0].HasEvicted {
			sawEviction = true
			lastEvicted = result.Components[0].Evicted
			assert.False(t, f.components[0].tree.Contains(lastEvicted))
			assert.Equal(t, 0, f.pointStore.GetRefCount(lastEvicted))
		}
	}
	assert.True(t, sawEviction)
}

func TestTraverseSumsLeafCountsAcrossComponents(t *testing.T) {
	f, err := New(testConfig(), nil, "test")
	require.NoError(t, err)
	defer f.Close()

	for i := 0; i < 10; i++ {
		_, _, err := f.Update([]float64{float64(i), float64(-i)})
		require.NoError(t, err)
	}

	factory := func() tree.Visitor[int] { return &leafCountVisitor{} }
	total := Traverse[int](f, []float64{3, -3}, factory, sumAcc, 0)

	assert.Equal(t, len(f.components), total)
}

func TestForestsWithSameSeedProduceIdenticalRootMass(t *testing.T) {
	run := func() []int {
		cfg := testConfig()
		cfg.RandomSeed = 99
		f, err := New(cfg, nil, "test")
		require.NoError(t, err)
		defer f.Close()

		for i := 0; i < 30; i++ {
			_, _, err := f.Update([]float64{float64(i % 7), float64(i % 3)})
			require.NoError(t, err)
		}

		masses := make([]int, len(f.components))
		for i, c := range f.components {
			masses[i] = c.tree.Mass()
		}
		return masses
	}

	a := run()
	b := run()
	assert.Equal(t, a, b)
}
