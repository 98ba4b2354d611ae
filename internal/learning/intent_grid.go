package learning

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/GlobalSushrut/mcp-zero/internal/crypto"
)

// historyLimit bounds the adjustment history kept in memory.
const historyLimit = 100

// IntentResult reports whether a registration was applied and its effect.
type IntentResult struct {
	Applied      bool    `json:"applied"`
	Reason       string  `json:"reason,omitempty"`
	Row          int     `json:"row"`
	Col          int     `json:"col"`
	Adjustment   float64 `json:"adjustment"`
	NewValue     float64 `json:"new_value"`
	Confidence   float64 `json:"confidence"`
	LearningRate float64 `json:"learning_rate"`
}

// IntentWeight is the current state of one grid position.
type IntentWeight struct {
	Row            int        `json:"row"`
	Col            int        `json:"col"`
	Weight         float64    `json:"weight"`
	Confidence     float64    `json:"confidence"`
	LastAdjustment float64    `json:"last_adjustment"`
	LastActive     *time.Time `json:"last_active,omitempty"`
}

type adjustmentRecord struct {
	Row        int       `json:"row"`
	Col        int       `json:"col"`
	Timestamp  time.Time `json:"timestamp"`
	Adjustment float64   `json:"adjustment"`
	Confidence float64   `json:"confidence"`
	IntentHash string    `json:"intent_hash"`
}

// IntentGrid is a 2-D adaptive weight map. Observed intents hash to a grid
// position; outcome feedback shifts the weight there, with time decay on
// stale positions and a learning rate that shrinks as iterations accumulate.
type IntentGrid struct {
	mu                  sync.Mutex
	rows, cols          int
	baseRate            float64
	decayFactor         float64
	confidenceThreshold float64

	weights         [][]float64
	lastAdjustments [][]float64
	confidences     [][]float64
	lastActive      map[string]time.Time

	adaptiveRate float64
	iterations   int
	history      []adjustmentRecord
}

// NewIntentGrid creates a grid with the given shape. Typical parameters are
// base rate 0.05, decay 0.98/hour, confidence threshold 0.70.
func NewIntentGrid(rows, cols int, learningRate, decayFactor, confidenceThreshold float64) *IntentGrid {
	g := &IntentGrid{
		rows:                rows,
		cols:                cols,
		baseRate:            learningRate,
		decayFactor:         decayFactor,
		confidenceThreshold: confidenceThreshold,
		lastActive:          make(map[string]time.Time),
		adaptiveRate:        learningRate,
	}
	g.weights = makeGrid(rows, cols)
	g.lastAdjustments = makeGrid(rows, cols)
	g.confidences = makeGrid(rows, cols)
	return g
}

func makeGrid(rows, cols int) [][]float64 {
	grid := make([][]float64, rows)
	for i := range grid {
		grid[i] = make([]float64, cols)
	}
	return grid
}

// Position maps intent data deterministically to a grid cell: SHA-256 of the
// canonical JSON, first 8 hex digits as an integer, row = h mod rows,
// col = (h div rows) mod cols.
func (g *IntentGrid) Position(intentData map[string]interface{}) (int, int) {
	canonical, _ := json.Marshal(intentData)
	digest := crypto.HashHex(canonical)
	h, _ := strconv.ParseUint(digest[:8], 16, 64)
	row := int(h % uint64(g.rows))
	col := int((h / uint64(g.rows)) % uint64(g.cols))
	return row, col
}

// RegisterIntent records an observed intent and its outcome. Registrations
// below the confidence threshold are rejected without touching the grid.
func (g *IntentGrid) RegisterIntent(intentData map[string]interface{}, outcome, confidence float64) IntentResult {
	if confidence < g.confidenceThreshold {
		return IntentResult{Applied: false, Reason: "confidence_below_threshold", Confidence: confidence}
	}

	row, col := g.Position(intentData)
	key := strconv.Itoa(row) + "," + strconv.Itoa(col)
	now := time.Now().UTC()

	g.mu.Lock()
	defer g.mu.Unlock()

	timeFactor := 1.0
	if last, ok := g.lastActive[key]; ok {
		elapsedHours := now.Sub(last).Hours()
		timeFactor = math.Pow(g.decayFactor, elapsedHours)
	}
	g.lastActive[key] = now

	current := g.weights[row][col]
	adjustment := g.adaptiveRate * confidence * (outcome - current) * timeFactor

	g.weights[row][col] += adjustment
	g.lastAdjustments[row][col] = adjustment
	g.confidences[row][col] = confidence

	canonical, _ := json.Marshal(intentData)
	g.history = append(g.history, adjustmentRecord{
		Row: row, Col: col, Timestamp: now,
		Adjustment: adjustment, Confidence: confidence,
		IntentHash: crypto.HashHex(canonical)[:16],
	})
	if len(g.history) > historyLimit {
		g.history = g.history[len(g.history)-historyLimit:]
	}

	g.iterations++
	g.adaptiveRate = g.baseRate / (1.0 + math.Log(1.0+float64(g.iterations)*0.1))

	return IntentResult{
		Applied: true, Row: row, Col: col,
		Adjustment:   adjustment,
		NewValue:     g.weights[row][col],
		Confidence:   confidence,
		LearningRate: g.adaptiveRate,
	}
}

// GetIntentWeight returns the current state of the cell an intent maps to.
func (g *IntentGrid) GetIntentWeight(intentData map[string]interface{}) IntentWeight {
	row, col := g.Position(intentData)
	key := strconv.Itoa(row) + "," + strconv.Itoa(col)

	g.mu.Lock()
	defer g.mu.Unlock()

	w := IntentWeight{
		Row: row, Col: col,
		Weight:         g.weights[row][col],
		Confidence:     g.confidences[row][col],
		LastAdjustment: g.lastAdjustments[row][col],
	}
	if last, ok := g.lastActive[key]; ok {
		w.LastActive = &last
	}
	return w
}

// ApplyNeighborhoodDiffusion spreads a cell's value to its square
// neighborhood, scaled by the center's confidence and inverse Chebyshev
// distance. Returns the number of cells affected. Run on demand, not on every
// registration.
func (g *IntentGrid) ApplyNeighborhoodDiffusion(centerRow, centerCol, radius int, diffusionStrength float64) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	centerValue := g.weights[centerRow][centerCol]
	centerConfidence := g.confidences[centerRow][centerCol]

	affected := 0
	for r := max(0, centerRow-radius); r < min(g.rows, centerRow+radius+1); r++ {
		for c := max(0, centerCol-radius); c < min(g.cols, centerCol+radius+1); c++ {
			if r == centerRow && c == centerCol {
				continue
			}
			distance := max(abs(r-centerRow), abs(c-centerCol))
			strength := diffusionStrength / float64(distance)
			g.weights[r][c] += strength * centerConfidence * (centerValue - g.weights[r][c])
			affected++
		}
	}
	return affected
}

// IntegrateWithConsensus reshapes a raw vote confidence by the learned weight
// for this (proposal, agent) pair, clipped to [0,1].
func (g *IntentGrid) IntegrateWithConsensus(proposal, agentID string, confidence float64) float64 {
	w := g.GetIntentWeight(map[string]interface{}{
		"proposal": proposal,
		"agent_id": agentID,
	})
	adjusted := confidence * (1.0 + w.Weight)
	return math.Min(1.0, math.Max(0.0, adjusted))
}

// IntegrateWithRetrograde shifts a retrograde target value by the bias at the
// mapped grid position and returns the stored confidence there.
func (g *IntentGrid) IntegrateWithRetrograde(indices []int, target float64) (float64, float64) {
	row, col := 0, 0
	if len(indices) > 0 {
		row = indices[0] % g.rows
	}
	if len(indices) > 1 {
		col = indices[1] % g.cols
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	weight := g.weights[row][col]
	confidence := g.confidences[row][col]
	adjusted := math.Min(1.0, math.Max(0.0, target*(1.0+weight)))
	return adjusted, confidence
}

// GridMetrics summarises grid coverage and learning progress.
type GridMetrics struct {
	AvgWeight       float64 `json:"avg_weight"`
	MaxWeight       float64 `json:"max_weight"`
	MinWeight       float64 `json:"min_weight"`
	ActivePositions int     `json:"active_positions"`
	TotalPositions  int     `json:"total_positions"`
	Coverage        float64 `json:"coverage"`
	Iterations      int     `json:"iterations"`
	LearningRate    float64 `json:"learning_rate"`
}

// Metrics returns a snapshot of grid statistics.
func (g *IntentGrid) Metrics() GridMetrics {
	g.mu.Lock()
	defer g.mu.Unlock()

	total := g.rows * g.cols
	sum, maxW, minW := 0.0, math.Inf(-1), math.Inf(1)
	for _, row := range g.weights {
		for _, v := range row {
			sum += v
			maxW = math.Max(maxW, v)
			minW = math.Min(minW, v)
		}
	}
	return GridMetrics{
		AvgWeight:       sum / float64(total),
		MaxWeight:       maxW,
		MinWeight:       minW,
		ActivePositions: len(g.lastActive),
		TotalPositions:  total,
		Coverage:        float64(len(g.lastActive)) / float64(total),
		Iterations:      g.iterations,
		LearningRate:    g.adaptiveRate,
	}
}

// AdaptiveRate returns the current adaptive learning rate.
func (g *IntentGrid) AdaptiveRate() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.adaptiveRate
}

// WeightAt reads a single cell.
func (g *IntentGrid) WeightAt(row, col int) (float64, error) {
	if row < 0 || row >= g.rows || col < 0 || col >= g.cols {
		return 0, fmt.Errorf("position (%d,%d) out of bounds", row, col)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.weights[row][col], nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
