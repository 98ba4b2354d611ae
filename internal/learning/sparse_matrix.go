package learning

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/GlobalSushrut/mcp-zero/internal/crypto"
	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// Geometry selects the distance metric of a sparse matrix.
type Geometry string

const (
	Hyperbolic Geometry = "hyperbolic"
	Spherical  Geometry = "spherical"
	Mixed      Geometry = "mixed"
)

// epsilon below which entries are treated as zero and evicted.
const epsilon = 1e-10

// matrixMemoryLimit is the hard footprint ceiling in bytes (827 MB).
const matrixMemoryLimit = 827 * 1024 * 1024

// Neighbor is one nearest-neighbor result.
type Neighbor struct {
	Indices  []int   `json:"indices"`
	Value    float64 `json:"value"`
	Distance float64 `json:"distance"`
}

// SparseMatrix is a sparse keyed map of coordinates to scalars with a
// non-Euclidean distance metric. Entries whose magnitude drops below epsilon
// are removed; dimensions are fixed at creation.
type SparseMatrix struct {
	mu          sync.RWMutex
	matrixID    string
	dimensions  []int
	geometry    Geometry
	entries     map[string]float64
	createdAt   time.Time
	lastUpdated time.Time
	hash        string
	log         *logrus.Entry
}

// NewSparseMatrix creates an empty matrix with the given dimensions.
func NewSparseMatrix(dimensions []int, geometry Geometry) *SparseMatrix {
	m := &SparseMatrix{
		matrixID:   uuid.New().String(),
		dimensions: append([]int(nil), dimensions...),
		geometry:   geometry,
		entries:    make(map[string]float64),
		createdAt:  time.Now().UTC(),
		log:        logrus.WithField("component", "sparse-matrix"),
	}
	m.lastUpdated = m.createdAt
	m.hash = m.computeHash()
	return m
}

func keyFor(indices []int) string {
	parts := make([]string, len(indices))
	for i, v := range indices {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func parseKey(key string) []int {
	parts := strings.Split(key, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		out[i], _ = strconv.Atoi(p)
	}
	return out
}

func (m *SparseMatrix) checkIndices(indices []int) error {
	if len(indices) != len(m.dimensions) {
		return fmt.Errorf("%w: expected %d indices, got %d", models.ErrValidation, len(m.dimensions), len(indices))
	}
	for i, v := range indices {
		if v < 0 || v >= m.dimensions[i] {
			return fmt.Errorf("%w: index %d out of bounds for dimension %d", models.ErrValidation, v, i)
		}
	}
	return nil
}

// Set stores a value, evicting the entry when |value| < epsilon.
func (m *SparseMatrix) Set(indices []int, value float64) error {
	if err := m.checkIndices(indices); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyFor(indices)
	if math.Abs(value) > epsilon {
		m.entries[key] = value
	} else {
		delete(m.entries, key)
	}
	m.lastUpdated = time.Now().UTC()
	m.hash = m.computeHash()

	if fp := m.footprintBytes(); fp > matrixMemoryLimit*8/10 {
		m.log.Warnf("Matrix %s using %.2fMB, approaching %dMB limit",
			m.matrixID[:8], float64(fp)/1024/1024, matrixMemoryLimit/1024/1024)
	}
	return nil
}

// Get returns the value at indices, or def when absent.
func (m *SparseMatrix) Get(indices []int, def float64) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.entries[keyFor(indices)]; ok {
		return v
	}
	return def
}

// ElementCount returns the number of stored entries.
func (m *SparseMatrix) ElementCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Hash returns the current content hash.
func (m *SparseMatrix) Hash() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hash
}

// Dimensions returns a copy of the declared shape.
func (m *SparseMatrix) Dimensions() []int {
	return append([]int(nil), m.dimensions...)
}

// Distance computes the geometry's distance between the values at two points.
func (m *SparseMatrix) Distance(a, b []int) float64 {
	v1 := m.Get(a, 0)
	v2 := m.Get(b, 0)
	return m.valueDistance(v1, v2)
}

func (m *SparseMatrix) valueDistance(v1, v2 float64) float64 {
	switch m.geometry {
	case Hyperbolic:
		return math.Abs(math.Asinh(v1) - math.Asinh(v2))
	case Spherical:
		return sphericalDistance(v1, v2)
	case Mixed:
		return 0.5*math.Abs(math.Asinh(v1)-math.Asinh(v2)) + 0.5*sphericalDistance(v1, v2)
	default:
		return math.Abs(v1 - v2)
	}
}

func sphericalDistance(v1, v2 float64) float64 {
	if v1 == 0 || v2 == 0 {
		return math.Pi / 2
	}
	cos := (v1 * v2) / (math.Abs(v1) * math.Abs(v2))
	return math.Acos(math.Min(1.0, math.Max(-1.0, cos)))
}

// NearestNeighbors returns up to k stored entries closest to the query point,
// excluding the point itself, ordered by distance ascending.
func (m *SparseMatrix) NearestNeighbors(indices []int, k int) []Neighbor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	self := keyFor(indices)
	queryVal := m.entries[self]

	out := make([]Neighbor, 0, len(m.entries))
	for key, val := range m.entries {
		if key == self {
			continue
		}
		out = append(out, Neighbor{
			Indices:  parseKey(key),
			Value:    val,
			Distance: m.valueDistance(queryVal, val),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return keyFor(out[i].Indices) < keyFor(out[j].Indices)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// RetrogradeUpdate applies lr*delta to the target point, then a diminishing
// share to each of the k nearest neighbors: delta*lr*0.7^(i+1)/(1+distance).
func (m *SparseMatrix) RetrogradeUpdate(indices []int, delta, learningRate float64, kNeighbors int) error {
	current := m.Get(indices, 0)
	if err := m.Set(indices, current+learningRate*delta); err != nil {
		return err
	}

	neighbors := m.NearestNeighbors(indices, kNeighbors)
	for i, nb := range neighbors {
		diminish := 1.0 / (1.0 + nb.Distance)
		update := delta * diminish * learningRate * math.Pow(0.7, float64(i+1))
		if err := m.Set(nb.Indices, nb.Value+update); err != nil {
			return err
		}
	}
	return nil
}

// footprintBytes estimates memory usage; callers hold the lock.
func (m *SparseMatrix) footprintBytes() int64 {
	keySize := int64(8 * len(m.dimensions))
	const valueSize, mapOverhead, fixedOverhead = 8, 48, 1000
	return (keySize+valueSize+mapOverhead)*int64(len(m.entries)) + fixedOverhead
}

// MemoryFootprint returns the estimated footprint in bytes.
func (m *SparseMatrix) MemoryFootprint() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.footprintBytes()
}

// WithinResourceConstraints reports whether the footprint is under the 827 MB
// ceiling, warning when past 80% of it.
func (m *SparseMatrix) WithinResourceConstraints() bool {
	return m.MemoryFootprint() < matrixMemoryLimit
}

// computeHash commits to dimensions, geometry, element count and a sample of
// entries. Callers hold the lock.
func (m *SparseMatrix) computeHash() string {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 10 {
		keys = keys[:10]
	}
	sample := make([]string, len(keys))
	for i, k := range keys {
		sample[i] = fmt.Sprintf("%s=%.12g", k, m.entries[k])
	}

	payload := fmt.Sprintf("%v:%s:%d:%s",
		m.dimensions, m.geometry, len(m.entries), strings.Join(sample, ";"))
	return crypto.HashHex([]byte(payload))
}

// serializedMatrix is the on-disk form of a sparse matrix.
type serializedMatrix struct {
	MatrixID    string             `json:"matrix_id"`
	Dimensions  []int              `json:"dimensions"`
	Geometry    Geometry           `json:"geometry"`
	CreatedAt   time.Time          `json:"created_at"`
	LastUpdated time.Time          `json:"last_updated"`
	Hash        string             `json:"hash"`
	Entries     map[string]float64 `json:"entries"`
}

// Serialize renders the matrix as JSON.
func (m *SparseMatrix) Serialize() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make(map[string]float64, len(m.entries))
	for k, v := range m.entries {
		entries[k] = v
	}
	return json.Marshal(serializedMatrix{
		MatrixID:    m.matrixID,
		Dimensions:  m.dimensions,
		Geometry:    m.geometry,
		CreatedAt:   m.createdAt,
		LastUpdated: m.lastUpdated,
		Hash:        m.hash,
		Entries:     entries,
	})
}

// DeserializeSparseMatrix reconstructs a matrix, recomputing and checking the
// content hash.
func DeserializeSparseMatrix(data []byte) (*SparseMatrix, error) {
	var s serializedMatrix
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: decode matrix: %v", models.ErrValidation, err)
	}

	m := NewSparseMatrix(s.Dimensions, s.Geometry)
	m.matrixID = s.MatrixID
	m.createdAt = s.CreatedAt
	m.lastUpdated = s.LastUpdated
	for k, v := range s.Entries {
		m.entries[k] = v
	}
	m.hash = m.computeHash()
	if s.Hash != "" && s.Hash != m.hash {
		return nil, fmt.Errorf("%w: matrix hash mismatch", models.ErrIntegrity)
	}
	return m, nil
}
