// Package testutil provides seeded random vector generators and a
// brute-force ground-truth oracle for recall tests.
package testutil

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/nearlab/proxima/distance"
)

// RNG encapsulates a seeded random number generator. It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// NormFloat64 returns a standard normal pseudo-random number.
func (r *RNG) NormFloat64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.NormFloat64()
}

// UniformRangeVectors generates random vectors with values in
// [minVal, maxVal). Uses a single backing array.
func (r *RNG) UniformRangeVectors(num, dimensions int, minVal, maxVal float32) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	span := maxVal - minVal
	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)

	for i := 0; i < num; i++ {
		vec := data[i*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = minVal + r.rand.Float32()*span
		}
		vectors[i] = vec
	}

	return vectors
}

// UnitVector generates a single L2-normalized random vector using a
// Gaussian draw, which is uniform on the hypersphere.
func (r *RNG) UnitVector(dimensions int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unitVectorLocked(dimensions)
}

// UnitVectors generates num L2-normalized random vectors.
func (r *RNG) UnitVectors(num, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := 0; i < num; i++ {
		vectors[i] = r.unitVectorLocked(dimensions)
	}
	return vectors
}

func (r *RNG) unitVectorLocked(dimensions int) []float32 {
	vec := make([]float32, dimensions)
	var norm float64
	for j := range vec {
		v := r.rand.NormFloat64()
		vec[j] = float32(v)
		norm += v * v
	}

	if norm == 0 {
		norm = 1
	}

	invNorm := float32(1.0 / math.Sqrt(norm))
	for j := range vec {
		vec[j] *= invNorm
	}
	return vec
}

// ClusteredVectors generates vectors grouped around unit-vector centroids
// with Gaussian noise of the given spread. Useful for recall tests on
// non-uniform data.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) [][]float32 {
	centroids := r.UnitVectors(clusters, dim)

	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	vectors := make([][]float32, num)

	for i := 0; i < num; i++ {
		centroid := centroids[i%clusters]
		vec := data[i*dim : (i+1)*dim]
		for j := 0; j < dim; j++ {
			vec[j] = centroid[j] + float32(r.rand.NormFloat64())*spread
		}
		vectors[i] = vec
	}

	return vectors
}

// BruteForceSearch returns the ids of the k vectors best ranked by the
// metric, exactly. Ties break by slice position.
func BruteForceSearch(m distance.Metric, ids []string, vectors [][]float32, query []float32, k int) []string {
	fn, err := distance.Provider(m)
	if err != nil {
		panic(err)
	}

	type scored struct {
		pos  int
		cost float32
	}

	results := make([]scored, len(vectors))
	for i, v := range vectors {
		results[i] = scored{pos: i, cost: m.Cost(fn(query, v))}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].cost != results[j].cost {
			return results[i].cost < results[j].cost
		}
		return results[i].pos < results[j].pos
	})

	if len(results) > k {
		results = results[:k]
	}

	out := make([]string, len(results))
	for i, r := range results {
		out[i] = ids[r.pos]
	}
	return out
}

// ComputeRecall returns the fraction of ground-truth ids present in the
// approximate result set.
func ComputeRecall(groundTruth, approximate []string) float64 {
	if len(groundTruth) == 0 {
		return 1.0
	}

	truthSet := make(map[string]struct{}, len(groundTruth))
	for _, id := range groundTruth {
		truthSet[id] = struct{}{}
	}

	hits := 0
	for _, id := range approximate {
		if _, ok := truthSet[id]; ok {
			hits++
		}
	}

	return float64(hits) / float64(len(groundTruth))
}
