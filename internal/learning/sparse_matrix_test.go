package learning

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet_EpsilonEviction(t *testing.T) {
	m := NewSparseMatrix([]int{10, 10}, Hyperbolic)

	require.NoError(t, m.Set([]int{1, 2}, 0.5))
	assert.Equal(t, 0.5, m.Get([]int{1, 2}, 0))
	assert.Equal(t, 1, m.ElementCount())

	// Writing a near-zero value removes the entry entirely.
	require.NoError(t, m.Set([]int{1, 2}, 1e-12))
	assert.Equal(t, 0, m.ElementCount())
	assert.Equal(t, 7.0, m.Get([]int{1, 2}, 7.0), "default returned for missing entry")
}

func TestSet_BoundsChecking(t *testing.T) {
	m := NewSparseMatrix([]int{4, 4}, Hyperbolic)
	assert.Error(t, m.Set([]int{4, 0}, 1.0))
	assert.Error(t, m.Set([]int{0, -1}, 1.0))
	assert.Error(t, m.Set([]int{0}, 1.0), "arity must match dimensions")
}

func TestDistance_Hyperbolic(t *testing.T) {
	m := NewSparseMatrix([]int{10, 10}, Hyperbolic)
	require.NoError(t, m.Set([]int{0, 0}, 1.0))
	require.NoError(t, m.Set([]int{0, 1}, 2.0))

	want := math.Abs(math.Asinh(1.0) - math.Asinh(2.0))
	assert.InDelta(t, want, m.Distance([]int{0, 0}, []int{0, 1}), 1e-12)
}

func TestDistance_Spherical(t *testing.T) {
	m := NewSparseMatrix([]int{10, 10}, Spherical)
	require.NoError(t, m.Set([]int{0, 0}, 1.0))
	require.NoError(t, m.Set([]int{0, 1}, 3.0))
	require.NoError(t, m.Set([]int{0, 2}, -2.0))

	// Same sign scalars are parallel on the unit sphere.
	assert.InDelta(t, 0.0, m.Distance([]int{0, 0}, []int{0, 1}), 1e-12)
	// Opposite sign scalars are antipodal.
	assert.InDelta(t, math.Pi, m.Distance([]int{0, 0}, []int{0, 2}), 1e-12)
	// A zero value yields a right angle.
	assert.InDelta(t, math.Pi/2, m.Distance([]int{0, 0}, []int{5, 5}), 1e-12)
}

func TestDistance_MixedIsMean(t *testing.T) {
	hyp := NewSparseMatrix([]int{10, 10}, Hyperbolic)
	sph := NewSparseMatrix([]int{10, 10}, Spherical)
	mix := NewSparseMatrix([]int{10, 10}, Mixed)
	for _, m := range []*SparseMatrix{hyp, sph, mix} {
		require.NoError(t, m.Set([]int{0, 0}, 1.5))
		require.NoError(t, m.Set([]int{0, 1}, -0.5))
	}
	want := 0.5*hyp.Distance([]int{0, 0}, []int{0, 1}) + 0.5*sph.Distance([]int{0, 0}, []int{0, 1})
	assert.InDelta(t, want, mix.Distance([]int{0, 0}, []int{0, 1}), 1e-12)
}

func TestNearestNeighbors_OrderedAscending(t *testing.T) {
	m := NewSparseMatrix([]int{10, 10}, Hyperbolic)
	require.NoError(t, m.Set([]int{0, 0}, 1.0))
	require.NoError(t, m.Set([]int{1, 1}, 1.1))
	require.NoError(t, m.Set([]int{2, 2}, 5.0))
	require.NoError(t, m.Set([]int{3, 3}, 50.0))

	neighbors := m.NearestNeighbors([]int{0, 0}, 2)
	require.Len(t, neighbors, 2)
	assert.Equal(t, []int{1, 1}, neighbors[0].Indices)
	assert.Equal(t, []int{2, 2}, neighbors[1].Indices)
	assert.LessOrEqual(t, neighbors[0].Distance, neighbors[1].Distance)
}

func TestRetrogradeUpdate_NeighborDecay(t *testing.T) {
	m := NewSparseMatrix([]int{10, 10}, Hyperbolic)
	require.NoError(t, m.Set([]int{0, 0}, 1.0))
	require.NoError(t, m.Set([]int{1, 1}, 1.2))
	require.NoError(t, m.Set([]int{2, 2}, 4.0))

	neighbors := m.NearestNeighbors([]int{0, 0}, 2)
	require.Len(t, neighbors, 2)

	delta, lr := 1.0, 0.1
	require.NoError(t, m.RetrogradeUpdate([]int{0, 0}, delta, lr, 2))

	assert.InDelta(t, 1.0+lr*delta, m.Get([]int{0, 0}, 0), 1e-12)

	// Neighbor i receives delta*lr*0.7^(i+1)/(1+distance).
	for i, nb := range neighbors {
		want := nb.Value + delta*lr*math.Pow(0.7, float64(i+1))/(1.0+nb.Distance)
		assert.InDelta(t, want, m.Get(nb.Indices, 0), 1e-12, "neighbor %d", i)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	m := NewSparseMatrix([]int{8, 8, 8}, Mixed)
	require.NoError(t, m.Set([]int{1, 2, 3}, 0.25))
	require.NoError(t, m.Set([]int{4, 5, 6}, -1.75))

	raw, err := m.Serialize()
	require.NoError(t, err)

	restored, err := DeserializeSparseMatrix(raw)
	require.NoError(t, err)

	assert.Equal(t, m.ElementCount(), restored.ElementCount())
	assert.Equal(t, 0.25, restored.Get([]int{1, 2, 3}, 0))
	assert.Equal(t, -1.75, restored.Get([]int{4, 5, 6}, 0))
	assert.Equal(t, m.Hash(), restored.Hash(), "content hash survives the round trip")
}

func TestResourceConstraints(t *testing.T) {
	m := NewSparseMatrix([]int{100, 100}, Hyperbolic)
	for i := 0; i < 100; i++ {
		require.NoError(t, m.Set([]int{i, i}, float64(i)+1))
	}
	assert.True(t, m.WithinResourceConstraints())
	assert.Greater(t, m.MemoryFootprint(), int64(0))
}
