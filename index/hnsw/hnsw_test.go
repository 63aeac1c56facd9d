package hnsw_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nearlab/proxima/distance"
	"github.com/nearlab/proxima/index/hnsw"
	"github.com/nearlab/proxima/testutil"
)

// floatOracle serves exact float32 distances in cost space, the role the
// quantized store plays in production.
type floatOracle struct {
	metric distance.Metric
	fn     distance.Func
	vecs   map[string][]float32
}

func newFloatOracle(t *testing.T, m distance.Metric) *floatOracle {
	t.Helper()
	fn, err := distance.Provider(m)
	require.NoError(t, err)
	return &floatOracle{metric: m, fn: fn, vecs: make(map[string][]float32)}
}

func (o *floatOracle) add(id string, v []float32) {
	o.vecs[id] = v
}

func (o *floatOracle) CostBetween(a, b string) (float32, bool) {
	va, ok := o.vecs[a]
	if !ok {
		return 0, false
	}
	vb, ok := o.vecs[b]
	if !ok {
		return 0, false
	}
	return o.metric.Cost(o.fn(va, vb)), true
}

func (o *floatOracle) costTo(query []float32) hnsw.CostFunc {
	return func(id string) (float32, bool) {
		v, ok := o.vecs[id]
		if !ok {
			return 0, false
		}
		return o.metric.Cost(o.fn(query, v)), true
	}
}

func buildGraph(t *testing.T, oracle *floatOracle, ids []string, optFns ...func(o *hnsw.Options)) *hnsw.Graph {
	t.Helper()
	g, err := hnsw.New(oracle, optFns...)
	require.NoError(t, err)
	for _, id := range ids {
		require.NoError(t, g.Insert(id))
	}
	return g
}

func TestGraph_InsertAndSearch(t *testing.T) {
	oracle := newFloatOracle(t, distance.MetricEuclidean)
	oracle.add("a", []float32{0, 0})
	oracle.add("b", []float32{1, 0})
	oracle.add("c", []float32{0, 1})
	oracle.add("d", []float32{10, 10})

	g := buildGraph(t, oracle, []string{"a", "b", "c", "d"})
	assert.Equal(t, 4, g.Len())

	results := g.Search(oracle.costTo([]float32{0.1, 0.1}), 2, 0)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.LessOrEqual(t, results[0].Cost, results[1].Cost)
}

func TestGraph_EmptySearch(t *testing.T) {
	oracle := newFloatOracle(t, distance.MetricEuclidean)
	g, err := hnsw.New(oracle)
	require.NoError(t, err)

	assert.Nil(t, g.Search(oracle.costTo([]float32{1}), 5, 0))
	assert.Equal(t, "", g.EntryPoint())
}

func TestGraph_InsertUnknownID(t *testing.T) {
	oracle := newFloatOracle(t, distance.MetricEuclidean)
	oracle.add("a", []float32{0, 0})

	g := buildGraph(t, oracle, []string{"a"})

	// "ghost" was never added to the oracle, so wiring cannot score it.
	err := g.Insert("ghost")
	require.ErrorIs(t, err, hnsw.ErrNotReachable)
	assert.False(t, g.Has("ghost"))
	assert.Equal(t, 1, g.Len())
}

func TestGraph_DuplicateInsertOverwrites(t *testing.T) {
	oracle := newFloatOracle(t, distance.MetricEuclidean)
	oracle.add("a", []float32{0, 0})
	oracle.add("b", []float32{1, 0})

	g := buildGraph(t, oracle, []string{"a", "b"})

	// Move "a" and reinsert; the graph must keep one node per id.
	oracle.add("a", []float32{5, 5})
	require.NoError(t, g.Insert("a"))
	assert.Equal(t, 2, g.Len())

	results := g.Search(oracle.costTo([]float32{5, 5}), 1, 0)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestGraph_Delete(t *testing.T) {
	oracle := newFloatOracle(t, distance.MetricEuclidean)
	rng := testutil.NewRNG(3)

	ids := make([]string, 50)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
		oracle.add(ids[i], rng.UnitVector(8))
	}

	g := buildGraph(t, oracle, ids)

	assert.True(t, g.Delete("v25"))
	assert.False(t, g.Delete("v25"))
	assert.False(t, g.Has("v25"))
	assert.Equal(t, 49, g.Len())

	// No surviving adjacency may reference the deleted node.
	for _, snap := range g.Export() {
		for _, level := range snap.Neighbors {
			for _, id := range level {
				assert.NotEqual(t, "v25", id)
			}
		}
	}

	// Searches still work and never return the deleted id.
	results := g.Search(oracle.costTo(oracle.vecs["v10"]), 10, 0)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.NotEqual(t, "v25", r.ID)
	}
}

func TestGraph_DeleteEntryPointPromotes(t *testing.T) {
	oracle := newFloatOracle(t, distance.MetricEuclidean)
	rng := testutil.NewRNG(11)

	ids := make([]string, 30)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
		oracle.add(ids[i], rng.UnitVector(4))
	}

	g := buildGraph(t, oracle, ids)

	for g.Len() > 0 {
		ep := g.EntryPoint()
		require.NotEmpty(t, ep)
		require.True(t, g.Delete(ep))
	}

	assert.Equal(t, "", g.EntryPoint())
}

func TestGraph_DeterministicBuild(t *testing.T) {
	rng := testutil.NewRNG(42)

	ids := make([]string, 100)
	vecs := make([][]float32, 100)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
		vecs[i] = rng.UnitVector(8)
	}

	build := func() []hnsw.NodeSnapshot {
		oracle := newFloatOracle(t, distance.MetricCosine)
		for i, id := range ids {
			oracle.add(id, vecs[i])
		}
		g := buildGraph(t, oracle, ids, func(o *hnsw.Options) {
			o.RandomSeed = 7
		})
		return g.Export()
	}

	assert.Equal(t, build(), build())
}

func TestGraph_ExportImportRoundTrip(t *testing.T) {
	oracle := newFloatOracle(t, distance.MetricEuclidean)
	rng := testutil.NewRNG(5)

	ids := make([]string, 80)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
		oracle.add(ids[i], rng.UnitVector(8))
	}

	g := buildGraph(t, oracle, ids)
	query := rng.UnitVector(8)
	want := g.Search(oracle.costTo(query), 10, 0)

	restored, err := hnsw.New(oracle)
	require.NoError(t, err)
	restored.Import(g.Export())

	assert.Equal(t, g.Len(), restored.Len())
	assert.Equal(t, g.EntryPoint(), restored.EntryPoint())
	assert.Equal(t, want, restored.Search(oracle.costTo(query), 10, 0))
}

func TestGraph_Recall(t *testing.T) {
	const (
		n   = 500
		dim = 16
		k   = 10
	)

	oracle := newFloatOracle(t, distance.MetricEuclidean)
	rng := testutil.NewRNG(99)

	ids := make([]string, n)
	vecs := make([][]float32, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
		vecs[i] = rng.UnitVector(dim)
		oracle.add(ids[i], vecs[i])
	}

	g := buildGraph(t, oracle, ids, func(o *hnsw.Options) {
		o.M = 16
		o.EfConstruction = 100
		o.EfSearch = 50
	})

	var total float64
	const queries = 20
	for qi := 0; qi < queries; qi++ {
		query := rng.UnitVector(dim)
		truth := testutil.BruteForceSearch(distance.MetricEuclidean, ids, vecs, query, k)

		results := g.Search(oracle.costTo(query), k, 0)
		got := make([]string, 0, len(results))
		for _, r := range results {
			got = append(got, r.ID)
		}

		total += testutil.ComputeRecall(truth, got)
	}

	assert.GreaterOrEqual(t, total/queries, 0.9)
}

func TestGraph_DegreeCap(t *testing.T) {
	oracle := newFloatOracle(t, distance.MetricEuclidean)
	rng := testutil.NewRNG(17)

	const m = 4
	ids := make([]string, 200)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
		oracle.add(ids[i], rng.UnitVector(4))
	}

	g := buildGraph(t, oracle, ids, func(o *hnsw.Options) {
		o.M = m
	})

	for _, snap := range g.Export() {
		for level, neighbors := range snap.Neighbors {
			limit := m
			if level == 0 {
				limit = 2 * m
			}
			assert.LessOrEqual(t, len(neighbors), limit,
				"node %s level %d", snap.ID, level)
		}
	}
}

func TestGraph_Stats(t *testing.T) {
	oracle := newFloatOracle(t, distance.MetricEuclidean)
	rng := testutil.NewRNG(23)

	ids := make([]string, 100)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
		oracle.add(ids[i], rng.UnitVector(4))
	}

	g := buildGraph(t, oracle, ids)

	stats := g.Stats()
	assert.Equal(t, 100, stats.NodeCount)
	assert.NotEmpty(t, stats.EntryPoint)
	assert.Greater(t, stats.AvgDegree, 0.0)
	require.Len(t, stats.LevelCounts, stats.MaxLevel+1)

	sum := 0
	for _, c := range stats.LevelCounts {
		sum += c
	}
	assert.Equal(t, 100, sum)
}

func TestGraph_InvalidOptions(t *testing.T) {
	oracle := newFloatOracle(t, distance.MetricEuclidean)

	_, err := hnsw.New(oracle, func(o *hnsw.Options) { o.M = 1 })
	require.Error(t, err)

	_, err = hnsw.New(oracle, func(o *hnsw.Options) { o.EfConstruction = 0 })
	require.Error(t, err)

	_, err = hnsw.New(oracle, func(o *hnsw.Options) { o.EfSearch = 0 })
	require.Error(t, err)
}
