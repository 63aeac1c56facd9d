// Package distance provides the distance metrics used for vector comparison.
//
// Each metric is a pure function over two equal-length float32 slices plus a
// direction tag (similarity vs distance), so ranking code can sort correctly
// without hardcoding metric semantics.
package distance

import (
	"fmt"
	"math"
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// CheckDims verifies that two vectors have equal length. It is the single
// dimension-validation choke point reused by every component.
func CheckDims(a, b []float32) error {
	if len(a) != len(b) {
		return &ErrDimensionMismatch{Expected: len(a), Actual: len(b)}
	}
	return nil
}

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	MetricCosine Metric = iota
	MetricEuclidean
	MetricDot
	MetricManhattan
)

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "Cosine"
	case MetricEuclidean:
		return "Euclidean"
	case MetricDot:
		return "Dot"
	case MetricManhattan:
		return "Manhattan"
	default:
		return fmt.Sprintf("Unknown(%d)", int(m))
	}
}

// ParseMetric parses a metric name as used in configuration files.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "cosine", "Cosine", "":
		return MetricCosine, nil
	case "euclidean", "Euclidean", "l2", "L2":
		return MetricEuclidean, nil
	case "dot", "Dot":
		return MetricDot, nil
	case "manhattan", "Manhattan", "l1", "L1":
		return MetricManhattan, nil
	default:
		return 0, fmt.Errorf("unknown metric %q", s)
	}
}

// HigherIsBetter reports whether larger scores indicate closer vectors
// (similarity metrics) as opposed to smaller scores (distance metrics).
func (m Metric) HigherIsBetter() bool {
	return m == MetricCosine || m == MetricDot
}

// Cost converts a metric score into cost space, where smaller is always
// better. Similarity scores are negated; distances pass through.
func (m Metric) Cost(score float32) float32 {
	if m.HigherIsBetter() {
		return -score
	}
	return score
}

// Score converts a cost-space value back into the metric's native score.
// The transform is its own inverse.
func (m Metric) Score(cost float32) float32 {
	return m.Cost(cost)
}

// Func is a function type for distance calculation.
// Assumes vectors are the same length (caller's responsibility); use
// CheckDims or Compute when the lengths are not already validated.
type Func func(a, b []float32) float32

// Provider returns the distance function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricCosine:
		return CosineSimilarity, nil
	case MetricEuclidean:
		return Euclidean, nil
	case MetricDot:
		return Dot, nil
	case MetricManhattan:
		return Manhattan, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}

// Compute validates dimensions and evaluates the metric.
func Compute(m Metric, a, b []float32) (float32, error) {
	if err := CheckDims(a, b); err != nil {
		return 0, err
	}
	fn, err := Provider(m)
	if err != nil {
		return 0, err
	}
	return fn(a, b), nil
}

// Dot calculates the dot product of two vectors.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Euclidean calculates the L2 distance between two vectors.
func Euclidean(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

// Manhattan calculates the L1 distance between two vectors.
func Manhattan(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum
}

// CosineSimilarity calculates the cosine similarity of two vectors.
// Inputs are expected to be L2-normalized; unnormalized inputs degrade
// gracefully to the true cosine (they are not re-normalized in place).
// Zero-norm input yields 0.
func CosineSimilarity(a, b []float32) float32 {
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(na))) * float32(math.Sqrt(float64(nb))))
}

// Magnitude calculates the L2 norm of v.
func Magnitude(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := 1 / float32(math.Sqrt(float64(norm2)))
	for i := range v {
		v[i] *= inv
	}
	return true
}
