package proxima_test

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	proxima "github.com/nearlab/proxima"
	"github.com/nearlab/proxima/distance"
	"github.com/nearlab/proxima/quantization"
	"github.com/nearlab/proxima/snapshot"
	"github.com/nearlab/proxima/testutil"
)

func newTestEngine(t *testing.T, dim int, optFns ...proxima.Option) *proxima.Engine {
	t.Helper()
	e, err := proxima.New(dim, optFns...)
	require.NoError(t, err)
	return e
}

func TestEngine_New(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		e := newTestEngine(t, 16)
		assert.Equal(t, 16, e.Dimension())
		assert.Equal(t, 0, e.Len())
	})

	t.Run("invalid dimension", func(t *testing.T) {
		_, err := proxima.New(0)
		var dimErr *proxima.ErrInvalidDimension
		require.ErrorAs(t, err, &dimErr)
		assert.Equal(t, 0, dimErr.Dimension)
	})
}

func TestEngine_InsertAndSearch(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, 4, proxima.WithMetric(distance.MetricEuclidean))

	require.NoError(t, e.Insert(ctx, "a", []float32{0, 0, 0, 0}))
	require.NoError(t, e.Insert(ctx, "b", []float32{1, 0, 0, 0}))
	require.NoError(t, e.Insert(ctx, "c", []float32{0, 1, 0, 0}))
	assert.Equal(t, 3, e.Len())

	results, err := e.Search(ctx, []float32{0.1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.LessOrEqual(t, results[0].Score, results[1].Score)
}

func TestEngine_SearchEmpty(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, 4)

	results, err := e.Search(ctx, []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngine_SearchErrors(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, 4)
	require.NoError(t, e.Insert(ctx, "a", []float32{1, 0, 0, 0}))

	t.Run("invalid k", func(t *testing.T) {
		_, err := e.Search(ctx, []float32{1, 0, 0, 0}, 0)
		require.ErrorIs(t, err, proxima.ErrInvalidK)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := e.Search(ctx, []float32{1, 0}, 1)
		var dimErr *proxima.ErrDimensionMismatch
		require.ErrorAs(t, err, &dimErr)
	})

	t.Run("invalid component", func(t *testing.T) {
		_, err := e.Search(ctx, []float32{1, float32(math.NaN()), 0, 0}, 1)
		var valErr *proxima.ErrInvalidValue
		require.ErrorAs(t, err, &valErr)
	})
}

func TestEngine_InsertValidationLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, 4)

	require.Error(t, e.Insert(ctx, "bad", []float32{1, 2}))
	require.Error(t, e.Insert(ctx, "bad", []float32{1, 2, float32(math.Inf(1)), 4}))
	assert.Equal(t, 0, e.Len())

	results, err := e.Search(ctx, []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngine_Overwrite(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, 2, proxima.WithMetric(distance.MetricEuclidean))

	require.NoError(t, e.Insert(ctx, "a", []float32{1, 0}))
	require.NoError(t, e.Insert(ctx, "b", []float32{0, 1}))
	require.NoError(t, e.Insert(ctx, "a", []float32{0, 1}))
	assert.Equal(t, 2, e.Len())

	results, err := e.Search(ctx, []float32{0, 1}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.InDelta(t, 0.0, r.Score, 0.1)
	}
}

func TestEngine_Retrieve(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, 4)

	want := []float32{0.5, -0.5, 0.25, 0.25}
	require.NoError(t, e.Insert(ctx, "a", want))

	got, err := e.Retrieve("a")
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 0.02)
	}

	_, err = e.Retrieve("missing")
	require.ErrorIs(t, err, proxima.ErrNotFound)
}

func TestEngine_Delete(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, 4, proxima.WithMetric(distance.MetricEuclidean))
	rng := testutil.NewRNG(13)

	for i := 0; i < 30; i++ {
		require.NoError(t, e.Insert(ctx, fmt.Sprintf("v%d", i), rng.UnitVector(4)))
	}

	found, err := e.Delete(ctx, "v7")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = e.Delete(ctx, "v7")
	require.NoError(t, err)
	assert.False(t, found)

	assert.Equal(t, 29, e.Len())

	results, err := e.Search(ctx, rng.UnitVector(4), 29)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "v7", r.ID)
	}
}

func TestEngine_BatchInsert(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, 8)
	rng := testutil.NewRNG(21)

	const n = 50
	ids := make([]string, n)
	vectors := make([][]float32, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
		vectors[i] = rng.UnitVector(8)
	}

	require.NoError(t, e.BatchInsert(ctx, ids, vectors))
	assert.Equal(t, n, e.Len())

	results, err := e.Search(ctx, vectors[17], 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "v17", results[0].ID)
}

func TestEngine_SelfMatch(t *testing.T) {
	// Every indexed unit vector must come back as its own best match.
	ctx := context.Background()
	e := newTestEngine(t, 32)
	rng := testutil.NewRNG(1)

	const n = 1000
	ids := make([]string, n)
	vectors := make([][]float32, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
		vectors[i] = rng.UnitVector(32)
	}
	require.NoError(t, e.BatchInsert(ctx, ids, vectors))

	misses := 0
	for i := 0; i < n; i += 10 {
		results, err := e.Search(ctx, vectors[i], 1)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		if results[0].ID != ids[i] {
			misses++
		}
	}
	// Quantization can blur near-duplicates; allow a small slip.
	assert.LessOrEqual(t, misses, 2)
}

func TestEngine_StoredQueryIsTopResult(t *testing.T) {
	// Querying with a vector the engine holds must return that vector
	// first, with a cosine score indistinguishable from a perfect match.
	// Embedding-scale dimensionality keeps random neighbors well apart.
	ctx := context.Background()
	const (
		n   = 1000
		dim = 1536
	)

	e := newTestEngine(t, dim)
	rng := testutil.NewRNG(7)

	ids := make([]string, n)
	vectors := make([][]float32, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
		vectors[i] = rng.UnitVector(dim)
	}
	require.NoError(t, e.BatchInsert(ctx, ids, vectors))

	results, err := e.Search(ctx, vectors[42], 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "v42", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestEngine_ExhaustiveBeamSelfMatch(t *testing.T) {
	// A beam at least as wide as the index visits every reachable node,
	// so the graph shortcut cannot lose the true best: every stored
	// vector finds itself, without tolerance.
	ctx := context.Background()
	const (
		n   = 400
		dim = 32
	)

	e := newTestEngine(t, dim, proxima.WithEfSearch(n))
	rng := testutil.NewRNG(11)

	ids := make([]string, n)
	vectors := make([][]float32, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
		vectors[i] = rng.UnitVector(dim)
	}
	require.NoError(t, e.BatchInsert(ctx, ids, vectors))

	for i := range ids {
		results, err := e.Search(ctx, vectors[i], 1)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, ids[i], results[0].ID)
	}
}

func TestEngine_SearchWithRerank(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, 16, proxima.WithCache(1000, 0))
	rng := testutil.NewRNG(3)

	vectors := make(map[string][]float32)
	for i := 0; i < 300; i++ {
		id := fmt.Sprintf("v%d", i)
		v := rng.UnitVector(16)
		vectors[id] = v
		require.NoError(t, e.Insert(ctx, id, v))
	}

	query := rng.UnitVector(16)
	results, err := e.SearchWithRerank(ctx, query, 5, 0)
	require.NoError(t, err)
	require.Len(t, results, 5)

	for i, r := range results {
		want := distance.CosineSimilarity(query, vectors[r.ID])
		assert.InDelta(t, want, r.ExactScore, 1e-5)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].ExactScore, r.ExactScore)
		}
	}
}

func TestEngine_Recall(t *testing.T) {
	ctx := context.Background()
	const (
		n   = 500
		dim = 16
		k   = 10
	)

	e := newTestEngine(t, dim,
		proxima.WithMetric(distance.MetricEuclidean),
		proxima.WithM(16),
		proxima.WithEfSearch(100),
	)
	rng := testutil.NewRNG(42)

	ids := make([]string, n)
	vectors := make([][]float32, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
		vectors[i] = rng.UnitVector(dim)
	}
	require.NoError(t, e.BatchInsert(ctx, ids, vectors))

	var total float64
	const queries = 20
	for qi := 0; qi < queries; qi++ {
		query := rng.UnitVector(dim)
		truth := testutil.BruteForceSearch(distance.MetricEuclidean, ids, vectors, query, k)

		results, err := e.Search(ctx, query, k)
		require.NoError(t, err)

		got := make([]string, 0, len(results))
		for _, r := range results {
			got = append(got, r.ID)
		}
		total += testutil.ComputeRecall(truth, got)
	}

	// Quantized distances steer the graph, so recall trails a
	// full-precision index slightly.
	assert.GreaterOrEqual(t, total/queries, 0.85)
}

func TestEngine_ExportImport(t *testing.T) {
	ctx := context.Background()
	build := func() *proxima.Engine {
		return newTestEngine(t, 8,
			proxima.WithMetric(distance.MetricEuclidean),
			proxima.WithCompression(snapshot.CodecLZ4),
		)
	}

	src := build()
	rng := testutil.NewRNG(5)

	vectors := make([][]float32, 100)
	for i := range vectors {
		vectors[i] = rng.UnitVector(8)
		require.NoError(t, src.Insert(ctx, fmt.Sprintf("v%d", i), vectors[i]))
	}

	var buf bytes.Buffer
	require.NoError(t, src.ExportState(&buf))

	dst := build()
	require.NoError(t, dst.ImportState(&buf))
	assert.Equal(t, src.Len(), dst.Len())

	query := rng.UnitVector(8)
	want, err := src.Search(ctx, query, 10)
	require.NoError(t, err)
	got, err := dst.Search(ctx, query, 10)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEngine_ImportRejectsMismatchedConfig(t *testing.T) {
	ctx := context.Background()
	src := newTestEngine(t, 8)
	require.NoError(t, src.Insert(ctx, "a", make([]float32, 8)))

	var buf bytes.Buffer
	require.NoError(t, src.ExportState(&buf))

	t.Run("dimension", func(t *testing.T) {
		dst := newTestEngine(t, 16)
		err := dst.ImportState(bytes.NewReader(buf.Bytes()))
		var mismatch *proxima.ErrSnapshotMismatch
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "dimension", mismatch.Field)
	})

	t.Run("metric", func(t *testing.T) {
		dst := newTestEngine(t, 8, proxima.WithMetric(distance.MetricDot))
		err := dst.ImportState(bytes.NewReader(buf.Bytes()))
		var mismatch *proxima.ErrSnapshotMismatch
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "metric", mismatch.Field)
	})

	t.Run("quantization", func(t *testing.T) {
		dst := newTestEngine(t, 8, proxima.WithQuantization(quantization.Asymmetric))
		err := dst.ImportState(bytes.NewReader(buf.Bytes()))
		var mismatch *proxima.ErrSnapshotMismatch
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "quantization", mismatch.Field)
	})
}

func TestEngine_MemoryUsageAndCacheMetrics(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, 64, proxima.WithCache(100, 0))
	rng := testutil.NewRNG(9)

	for i := 0; i < 20; i++ {
		require.NoError(t, e.Insert(ctx, fmt.Sprintf("v%d", i), rng.UnitVector(64)))
	}

	stats := e.MemoryUsage()
	assert.Equal(t, 20, stats.Count)
	assert.Greater(t, stats.CompressionRatio, 3.0)
	assert.Greater(t, stats.CacheBytes, int64(0))

	// Rerank pulls from the cache.
	_, err := e.SearchWithRerank(ctx, rng.UnitVector(64), 3, 0)
	require.NoError(t, err)

	m := e.CacheMetrics()
	assert.Greater(t, m.Hits, int64(0))
	assert.Equal(t, 20, m.Size)
}

func TestEngine_GraphStats(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, 4)
	rng := testutil.NewRNG(31)

	for i := 0; i < 50; i++ {
		require.NoError(t, e.Insert(ctx, fmt.Sprintf("v%d", i), rng.UnitVector(4)))
	}

	stats := e.GraphStats()
	assert.Equal(t, 50, stats.NodeCount)
	assert.NotEmpty(t, stats.EntryPoint)
}

func TestEngine_DeterministicBuilds(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(77)

	vectors := make([][]float32, 100)
	for i := range vectors {
		vectors[i] = rng.UnitVector(8)
	}
	query := rng.UnitVector(8)

	run := func() []proxima.SearchResult {
		e := newTestEngine(t, 8, proxima.WithRandomSeed(99))
		for i, v := range vectors {
			require.NoError(t, e.Insert(ctx, fmt.Sprintf("v%d", i), v))
		}
		results, err := e.Search(ctx, query, 10)
		require.NoError(t, err)
		return results
	}

	assert.Equal(t, run(), run())
}

func TestEngine_Closed(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, 4)
	require.NoError(t, e.Insert(ctx, "a", []float32{1, 0, 0, 0}))
	require.NoError(t, e.Close())

	require.ErrorIs(t, e.Insert(ctx, "b", []float32{0, 1, 0, 0}), proxima.ErrClosed)

	_, err := e.Search(ctx, []float32{1, 0, 0, 0}, 1)
	require.ErrorIs(t, err, proxima.ErrClosed)

	_, err = e.Delete(ctx, "a")
	require.ErrorIs(t, err, proxima.ErrClosed)

	_, err = e.Retrieve("a")
	require.ErrorIs(t, err, proxima.ErrClosed)

	require.ErrorIs(t, e.ExportState(&bytes.Buffer{}), proxima.ErrClosed)
}

func TestEngine_MetricsCollector(t *testing.T) {
	ctx := context.Background()
	collector := &proxima.BasicMetricsCollector{}
	e := newTestEngine(t, 4, proxima.WithMetricsCollector(collector))

	require.NoError(t, e.Insert(ctx, "a", []float32{1, 0, 0, 0}))
	_, err := e.Search(ctx, []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	_, err = e.Delete(ctx, "a")
	require.NoError(t, err)

	stats := collector.GetStats()
	assert.Equal(t, int64(1), stats.InsertCount)
	assert.Equal(t, int64(1), stats.SearchCount)
	assert.Equal(t, int64(1), stats.DeleteCount)
	assert.Zero(t, stats.InsertErrors)
}
