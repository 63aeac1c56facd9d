package proxima

import (
	"context"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nearlab/proxima/cache"
	"github.com/nearlab/proxima/index/hnsw"
	"github.com/nearlab/proxima/snapshot"
	"github.com/nearlab/proxima/vectorstore"
)

// SearchResult is a single approximate nearest neighbor.
type SearchResult struct {
	ID string
	// Score is in the metric's native direction: higher is better for
	// similarity metrics, lower for distance metrics.
	Score float32
}

// RerankResult carries both phases of a reranked search hit.
type RerankResult struct {
	ID          string
	ApproxScore float32
	ExactScore  float32
}

// Engine is an approximate nearest neighbor search engine combining a
// quantized vector store with an HNSW proximity graph.
//
// One writer at a time mutates state; any number of readers may search
// concurrently between writes. The RWMutex enforces this.
type Engine struct {
	mu      sync.RWMutex
	opts    Options
	store   *vectorstore.Store
	graph   *hnsw.Graph
	logger  *Logger
	metrics MetricsCollector
	closed  bool
}

// New creates an engine for vectors of the given dimension.
func New(dimension int, optFns ...Option) (*Engine, error) {
	if dimension <= 0 {
		return nil, &ErrInvalidDimension{Dimension: dimension}
	}

	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	store, err := vectorstore.New(dimension, func(o *vectorstore.Options) {
		o.Metric = opts.Metric
		o.Quantization = opts.Quantization
		o.CacheEnabled = opts.CacheEnabled
		o.CacheMaxItems = opts.CacheMaxItems
		o.CacheMaxBytes = opts.CacheMaxBytes
	})
	if err != nil {
		return nil, err
	}

	graph, err := hnsw.New(store, func(o *hnsw.Options) {
		o.M = opts.M
		o.EfConstruction = opts.EfConstruction
		o.EfSearch = opts.EfSearch
		o.RandomSeed = opts.RandomSeed
	})
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = NoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NoopMetricsCollector{}
	}

	return &Engine{
		opts:    opts,
		store:   store,
		graph:   graph,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Len returns the number of indexed vectors.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Count()
}

// Dimension returns the configured vector dimension.
func (e *Engine) Dimension() int {
	return e.store.Dimension()
}

// Insert validates, quantizes, stores and wires a vector. Inserting an
// existing id overwrites it. A failed insert leaves the engine unchanged.
func (e *Engine) Insert(ctx context.Context, id string, vector []float32) error {
	start := time.Now()

	err := e.insert(id, vector)

	e.metrics.RecordInsert(time.Since(start), err)
	e.logger.LogInsert(ctx, id, len(vector), err)
	return err
}

func (e *Engine) insert(id string, vector []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	prev, hadPrev := e.store.EntryOf(id)

	if err := e.store.Store(id, vector); err != nil {
		return err
	}

	if err := e.graph.Insert(id); err != nil {
		// Roll the store back so a wiring failure is invisible.
		if hadPrev {
			e.store.RestoreEntry(prev)
		} else {
			e.store.Remove(id)
		}
		return err
	}

	return nil
}

// BatchInsert quantizes vectors in parallel, then wires them in order.
// The first failure aborts and leaves already-wired vectors in place.
func (e *Engine) BatchInsert(ctx context.Context, ids []string, vectors [][]float32) error {
	start := time.Now()

	err := e.batchInsert(ctx, ids, vectors)

	e.metrics.RecordBatchInsert(len(ids), time.Since(start), err)
	e.logger.LogBatchInsert(ctx, len(ids), err)
	return err
}

func (e *Engine) batchInsert(ctx context.Context, ids []string, vectors [][]float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	if err := e.store.BatchStore(ctx, ids, vectors); err != nil {
		return err
	}

	for _, id := range ids {
		if err := e.graph.Insert(id); err != nil {
			return err
		}
	}

	return nil
}

// Search returns up to k approximate nearest neighbors of query, best
// first. An empty engine returns an empty result set.
func (e *Engine) Search(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	start := time.Now()

	results, err := e.search(query, k, 0)

	e.metrics.RecordSearch(k, time.Since(start), err)
	e.logger.LogSearch(ctx, k, len(results), err)
	return results, err
}

func (e *Engine) search(query []float32, k, ef int) ([]SearchResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrClosed
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if err := e.store.Validate(query); err != nil {
		return nil, err
	}
	if e.store.Count() == 0 {
		return []SearchResult{}, nil
	}

	qq, err := e.store.QuantizeQuery(query)
	if err != nil {
		return nil, err
	}

	costTo := func(id string) (float32, bool) {
		return e.store.Cost(qq, id)
	}

	candidates := e.graph.Search(costTo, k, ef)

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, SearchResult{
			ID:    c.ID,
			Score: e.opts.Metric.Score(c.Cost),
		})
	}
	return results, nil
}

// SearchWithRerank widens the graph search to efSearch candidates and
// re-scores them exactly, from the rerank cache when the vector is still
// resident and from dequantized codes otherwise. efSearch <= 0 defaults to
// 2*k. Results are ordered by exact score.
func (e *Engine) SearchWithRerank(ctx context.Context, query []float32, k, efSearch int) ([]RerankResult, error) {
	start := time.Now()

	results, err := e.searchWithRerank(query, k, efSearch)

	e.metrics.RecordSearch(k, time.Since(start), err)
	e.logger.LogSearch(ctx, k, len(results), err)
	return results, err
}

func (e *Engine) searchWithRerank(query []float32, k, efSearch int) ([]RerankResult, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if efSearch <= 0 {
		efSearch = 2 * k
	}
	if efSearch < k {
		efSearch = k
	}

	approx, err := e.search(query, efSearch, efSearch)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]RerankResult, 0, len(approx))
	for _, a := range approx {
		exact, ok := e.store.ExactScore(query, a.ID)
		if !ok {
			continue
		}
		results = append(results, RerankResult{
			ID:          a.ID,
			ApproxScore: a.Score,
			ExactScore:  exact,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return e.opts.Metric.Cost(results[i].ExactScore) < e.opts.Metric.Cost(results[j].ExactScore)
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete removes a vector and repairs the graph synchronously. It reports
// whether the id was present.
func (e *Engine) Delete(ctx context.Context, id string) (bool, error) {
	start := time.Now()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.metrics.RecordDelete(time.Since(start), ErrClosed)
		return false, ErrClosed
	}

	found := e.graph.Delete(id)
	if e.store.Remove(id) {
		found = true
	}
	e.mu.Unlock()

	e.metrics.RecordDelete(time.Since(start), nil)
	e.logger.LogDelete(ctx, id, found)
	return found, nil
}

// Retrieve returns the stored vector for id, served from the full-precision
// cache when present and reconstructed from its int8 codes otherwise.
// Reconstruction carries quantization error. Returns ErrNotFound for an
// unknown id.
func (e *Engine) Retrieve(id string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrClosed
	}

	v, ok := e.store.Retrieve(id)
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// ExportState writes a versioned snapshot of the quantized table and graph
// adjacency to w. Full-precision vectors are not persisted.
func (e *Engine) ExportState(w io.Writer) error {
	start := time.Now()

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ErrClosed
	}

	snap := &snapshot.Snapshot{
		Config:  e.snapshotConfig(),
		Entries: e.store.Export(),
		Nodes:   e.graph.Export(),
	}
	e.mu.RUnlock()

	err := snapshot.Write(w, snap, e.opts.Compression)

	e.metrics.RecordSnapshot("export", time.Since(start), err)
	e.logger.LogSnapshot(context.Background(), "export", len(snap.Entries), err)
	return err
}

// ImportState replaces engine state with a snapshot read from r. The
// snapshot's dimension, metric and quantization method must match the
// engine's configuration. The rerank cache starts cold.
func (e *Engine) ImportState(r io.Reader) error {
	start := time.Now()

	err := e.importState(r)

	e.metrics.RecordSnapshot("import", time.Since(start), err)
	e.logger.LogSnapshot(context.Background(), "import", e.Len(), err)
	return err
}

func (e *Engine) importState(r io.Reader) error {
	snap, err := snapshot.Read(r)
	if err != nil {
		return err
	}

	if err := e.checkSnapshotConfig(snap.Config); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	if err := e.store.Import(snap.Entries); err != nil {
		return err
	}
	e.graph.Import(snap.Nodes)

	return nil
}

func (e *Engine) snapshotConfig() snapshot.Config {
	return snapshot.Config{
		Dimension:      e.store.Dimension(),
		Metric:         e.opts.Metric,
		Quantization:   e.opts.Quantization,
		M:              e.opts.M,
		EfConstruction: e.opts.EfConstruction,
		EfSearch:       e.opts.EfSearch,
		RandomSeed:     e.opts.RandomSeed,
	}
}

func (e *Engine) checkSnapshotConfig(cfg snapshot.Config) error {
	if cfg.Dimension != e.store.Dimension() {
		return &ErrSnapshotMismatch{
			Field:    "dimension",
			Expected: strconv.Itoa(e.store.Dimension()),
			Actual:   strconv.Itoa(cfg.Dimension),
		}
	}
	if cfg.Metric != e.opts.Metric {
		return &ErrSnapshotMismatch{
			Field:    "metric",
			Expected: e.opts.Metric.String(),
			Actual:   cfg.Metric.String(),
		}
	}
	if cfg.Quantization != e.opts.Quantization {
		return &ErrSnapshotMismatch{
			Field:    "quantization",
			Expected: e.opts.Quantization.String(),
			Actual:   cfg.Quantization.String(),
		}
	}
	return nil
}

// MemoryUsage reports the storage footprint.
func (e *Engine) MemoryUsage() vectorstore.MemoryStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.MemoryUsage()
}

// CacheMetrics reports rerank cache accounting.
func (e *Engine) CacheMetrics() cache.Metrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.CacheMetrics()
}

// GraphStats reports index shape.
func (e *Engine) GraphStats() hnsw.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.graph.Stats()
}

// Close marks the engine closed. Subsequent operations return ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
