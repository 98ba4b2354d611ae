package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGrid() *IntentGrid {
	return NewIntentGrid(10, 10, 0.05, 0.98, 0.70)
}

func TestPosition_Deterministic(t *testing.T) {
	g := newTestGrid()
	intent := map[string]interface{}{"action": "navigate", "target": "dock"}

	r1, c1 := g.Position(intent)
	r2, c2 := g.Position(intent)
	assert.Equal(t, r1, r2)
	assert.Equal(t, c1, c2)
	assert.GreaterOrEqual(t, r1, 0)
	assert.Less(t, r1, 10)
	assert.GreaterOrEqual(t, c1, 0)
	assert.Less(t, c1, 10)
}

func TestRegisterIntent_ConfidenceGate(t *testing.T) {
	g := newTestGrid()
	intent := map[string]interface{}{"action": "charge"}

	res := g.RegisterIntent(intent, 1.0, 0.5)
	assert.False(t, res.Applied)
	assert.Equal(t, "confidence_below_threshold", res.Reason)

	// Grid untouched by the rejected registration.
	w := g.GetIntentWeight(intent)
	assert.Zero(t, w.Weight)
	assert.Nil(t, w.LastActive)
	assert.Zero(t, g.Metrics().Iterations)
}

func TestRegisterIntent_AppliesAdjustment(t *testing.T) {
	g := newTestGrid()
	intent := map[string]interface{}{"action": "summarize"}

	res := g.RegisterIntent(intent, 1.0, 0.9)
	require.True(t, res.Applied)
	// First adjustment from zero weight: lr * confidence * (outcome - 0).
	assert.InDelta(t, 0.05*0.9*1.0, res.Adjustment, 1e-12)

	w := g.GetIntentWeight(intent)
	assert.InDelta(t, res.NewValue, w.Weight, 1e-12)
	assert.Equal(t, 0.9, w.Confidence)
	assert.NotNil(t, w.LastActive)
}

func TestAdaptiveRate_NeverExceedsBase(t *testing.T) {
	g := newTestGrid()
	base := g.AdaptiveRate()
	for i := 0; i < 50; i++ {
		g.RegisterIntent(map[string]interface{}{"step": i}, 0.8, 0.9)
		assert.LessOrEqual(t, g.AdaptiveRate(), base)
	}
	assert.Less(t, g.AdaptiveRate(), base, "rate must shrink with iterations")
}

func TestNeighborhoodDiffusion(t *testing.T) {
	g := newTestGrid()
	intent := map[string]interface{}{"action": "observe"}
	res := g.RegisterIntent(intent, 1.0, 0.95)
	require.True(t, res.Applied)

	affected := g.ApplyNeighborhoodDiffusion(res.Row, res.Col, 1, 0.5)
	assert.Greater(t, affected, 0)
	assert.LessOrEqual(t, affected, 8, "radius 1 touches at most the 8 surrounding cells")

	// A neighbor inside the radius moved toward the center value.
	nr, nc := res.Row, res.Col+1
	if nc >= 10 {
		nc = res.Col - 1
	}
	v, err := g.WeightAt(nr, nc)
	require.NoError(t, err)
	assert.NotZero(t, v)
}

func TestIntegrateWithConsensus_Clipping(t *testing.T) {
	g := newTestGrid()

	// With no learned weight, confidence passes through unchanged.
	assert.InDelta(t, 0.8, g.IntegrateWithConsensus("proposal-x", "agent-1", 0.8), 1e-12)

	// Train the exact (proposal, agent) signature upward, then expect a boost.
	sig := map[string]interface{}{"proposal": "proposal-x", "agent_id": "agent-1"}
	for i := 0; i < 20; i++ {
		g.RegisterIntent(sig, 1.0, 0.95)
	}
	boosted := g.IntegrateWithConsensus("proposal-x", "agent-1", 0.8)
	assert.Greater(t, boosted, 0.8)
	assert.LessOrEqual(t, boosted, 1.0)
}

func TestIntegrateWithRetrograde_Bounds(t *testing.T) {
	g := newTestGrid()
	adjusted, confidence := g.IntegrateWithRetrograde([]int{3, 4}, 0.5)
	assert.InDelta(t, 0.5, adjusted, 1e-12, "zero weight leaves the target unchanged")
	assert.Zero(t, confidence)
	assert.LessOrEqual(t, adjusted, 1.0)
	assert.GreaterOrEqual(t, adjusted, 0.0)
}

func TestHistoryTrimmedTo100(t *testing.T) {
	g := newTestGrid()
	for i := 0; i < 150; i++ {
		g.RegisterIntent(map[string]interface{}{"step": i}, 0.9, 0.9)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Len(t, g.history, 100)
}
