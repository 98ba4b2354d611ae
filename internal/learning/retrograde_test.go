package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackpropagate_MovesTowardTarget(t *testing.T) {
	l := NewRetrogradeLearner([]int{10, 10}, 0.1, Hyperbolic)

	target := []int{3, 3}
	require.NoError(t, l.Matrix.Set(target, 0.2))

	before := l.Matrix.Get(target, 0)
	updated, err := l.Backpropagate(target, 1.0, 2)
	require.NoError(t, err)
	require.NotEmpty(t, updated)
	assert.Equal(t, target, updated[0])

	after := l.Matrix.Get(target, 0)
	assert.Greater(t, after, before, "value must move toward a higher target")
	assert.Less(t, after, 1.0, "single step must not overshoot at lr=0.1")
	assert.Equal(t, 1, l.UpdateCount)
}

func TestBackpropagate_TouchesNeighbors(t *testing.T) {
	l := NewRetrogradeLearner([]int{10, 10}, 0.1, Hyperbolic)
	require.NoError(t, l.Matrix.Set([]int{1, 1}, 0.5))
	require.NoError(t, l.Matrix.Set([]int{2, 2}, 0.6))
	require.NoError(t, l.Matrix.Set([]int{5, 5}, 0.4))

	n22Before := l.Matrix.Get([]int{2, 2}, 0)
	_, err := l.Backpropagate([]int{1, 1}, 1.0, 1)
	require.NoError(t, err)

	assert.NotEqual(t, n22Before, l.Matrix.Get([]int{2, 2}, 0), "nearby point shares the update")
}

func TestRecall_Confidence(t *testing.T) {
	l := NewRetrogradeLearner([]int{10, 10}, 0.1, Hyperbolic)
	require.NoError(t, l.Matrix.Set([]int{0, 0}, 1.0))
	require.NoError(t, l.Matrix.Set([]int{1, 1}, 1.05))
	require.NoError(t, l.Matrix.Set([]int{2, 2}, 1.1))

	res := l.Recall([]int{0, 0}, 2)
	assert.Equal(t, 1.0, res.Value)
	require.Len(t, res.Neighbors, 2)

	var distSum float64
	for _, nb := range res.Neighbors {
		distSum += nb.Distance
	}
	assert.InDelta(t, 1.0/(1.0+distSum), res.RecallConfidence, 1e-12)

	// An empty neighborhood recalls with full confidence.
	empty := NewRetrogradeLearner([]int{10, 10}, 0.1, Hyperbolic)
	assert.Equal(t, 1.0, empty.Recall([]int{0, 0}, 3).RecallConfidence)
}
