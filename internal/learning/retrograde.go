package learning

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// RetrogradeLearner propagates training signals backward through a sparse
// matrix, with per-layer diminishing learning rates.
type RetrogradeLearner struct {
	LearnerID    string
	Matrix       *SparseMatrix
	LearningRate float64
	CreatedAt    time.Time
	UpdateCount  int
}

// RecallResult is the outcome of a contextual recall.
type RecallResult struct {
	Value            float64    `json:"value"`
	Neighbors        []Neighbor `json:"neighbors"`
	RecallConfidence float64    `json:"recall_confidence"`
}

// NewRetrogradeLearner creates a learner over a fresh matrix.
func NewRetrogradeLearner(dimensions []int, learningRate float64, geometry Geometry) *RetrogradeLearner {
	return &RetrogradeLearner{
		LearnerID:    uuid.New().String(),
		Matrix:       NewSparseMatrix(dimensions, geometry),
		LearningRate: learningRate,
		CreatedAt:    time.Now().UTC(),
	}
}

// Backpropagate drives the value at indices toward target and propagates the
// error to neighboring points over the given depth. Layer d runs at learning
// rate lr*0.5^d. Returns the points that were updated.
func (r *RetrogradeLearner) Backpropagate(indices []int, target float64, depth int) ([][]int, error) {
	var updated [][]int

	errVal := target - r.Matrix.Get(indices, 0)
	if err := r.Matrix.RetrogradeUpdate(indices, errVal, r.LearningRate, 3); err != nil {
		return nil, err
	}
	updated = append(updated, indices)

	for d := 1; d <= depth; d++ {
		depthLR := r.LearningRate * math.Pow(0.5, float64(d))
		for _, nb := range r.Matrix.NearestNeighbors(indices, 3) {
			if err := r.Matrix.RetrogradeUpdate(nb.Indices, errVal*depthLR, depthLR, 3); err != nil {
				return nil, err
			}
			updated = append(updated, nb.Indices)
		}
	}

	r.UpdateCount++
	return updated, nil
}

// Recall returns the value at indices with its neighborhood context and a
// confidence score of 1/(1+sum of neighbor distances).
func (r *RetrogradeLearner) Recall(indices []int, kNeighbors int) RecallResult {
	neighbors := r.Matrix.NearestNeighbors(indices, kNeighbors)
	var distSum float64
	for _, nb := range neighbors {
		distSum += nb.Distance
	}
	return RecallResult{
		Value:            r.Matrix.Get(indices, 0),
		Neighbors:        neighbors,
		RecallConfidence: 1.0 / (1.0 + distSum),
	}
}

// MemoryEfficiency reports stored elements per KB of estimated footprint.
func (r *RetrogradeLearner) MemoryEfficiency() float64 {
	elements := r.Matrix.ElementCount()
	if elements == 0 {
		return 0
	}
	return float64(elements) / (float64(r.Matrix.MemoryFootprint()) / 1024.0)
}
