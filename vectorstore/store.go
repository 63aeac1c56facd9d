// Package vectorstore keeps vectors in quantized int8 form and serves both
// exact retrieval and distance computation. Full-precision copies live only
// in a bounded LRU cache used to speed up exact re-scoring; evicted vectors
// are reconstructed from their codes on demand.
//
// The store is not internally synchronized for mutation. The engine
// serializes writers; concurrent readers are safe as long as no writer is
// active.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/nearlab/proxima/cache"
	"github.com/nearlab/proxima/distance"
	"github.com/nearlab/proxima/quantization"
)

// ErrInvalidValue is returned when a vector component is NaN or infinite.
type ErrInvalidValue struct {
	Index int
	Value float64
}

// Error implements the error interface.
func (e *ErrInvalidValue) Error() string {
	return fmt.Sprintf("invalid vector component at index %d: %v", e.Index, e.Value)
}

// Options configures a Store.
type Options struct {
	// Metric is the distance metric used by Search and the cost oracle.
	Metric distance.Metric

	// Quantization selects the int8 calibration method.
	Quantization quantization.Method

	// CacheEnabled turns the full-precision rerank cache on.
	CacheEnabled bool

	// CacheMaxItems bounds the rerank cache entry count. 0 means unbounded.
	CacheMaxItems int

	// CacheMaxBytes bounds the rerank cache byte usage. 0 means unbounded.
	CacheMaxBytes int64
}

// Result is a single brute-force search hit.
type Result struct {
	ID string
	// Score is in the metric's native direction.
	Score float32
}

// RerankResult carries both phases of a reranked search hit.
type RerankResult struct {
	ID string
	// ApproxScore is computed from int8 codes.
	ApproxScore float32
	// ExactScore is recomputed against the full-precision vector.
	ExactScore float32
}

// MemoryStats reports the storage footprint of a Store.
type MemoryStats struct {
	Count            int
	Dimension        int
	RawBytes         int64 // what float32 storage would have cost
	QuantizedBytes   int64 // codes plus per-vector parameters
	CacheBytes       int64
	CompressionRatio float64
}

type entry struct {
	q   quantization.Quantized
	seq uint64
}

// Store holds quantized vectors keyed by string id.
type Store struct {
	dim       int
	metric    distance.Metric
	distFn    distance.Func
	quantizer *quantization.Quantizer
	entries   map[string]entry
	rerank    *cache.LRU[string, []float32]
	nextSeq   uint64
}

// New creates a Store for vectors of the given dimension.
func New(dimension int, optFns ...func(o *Options)) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}

	opts := Options{
		Metric:       distance.MetricCosine,
		Quantization: quantization.Symmetric,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	distFn, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dim:       dimension,
		metric:    opts.Metric,
		distFn:    distFn,
		quantizer: quantization.New(opts.Quantization),
		entries:   make(map[string]entry),
	}

	if opts.CacheEnabled {
		s.rerank = cache.New(func(o *cache.Options[string, []float32]) {
			o.MaxItems = opts.CacheMaxItems
			o.MaxBytes = opts.CacheMaxBytes
			o.SizeOf = func(v []float32) int64 { return int64(len(v)) * 4 }
		})
	}

	return s, nil
}

// Dimension returns the configured vector dimension.
func (s *Store) Dimension() int { return s.dim }

// Metric returns the configured distance metric.
func (s *Store) Metric() distance.Metric { return s.metric }

// Count returns the number of stored vectors.
func (s *Store) Count() int { return len(s.entries) }

// Validate checks dimension and component finiteness without storing.
func (s *Store) Validate(vector []float32) error {
	if len(vector) != s.dim {
		return &distance.ErrDimensionMismatch{Expected: s.dim, Actual: len(vector)}
	}

	for i, v := range vector {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &ErrInvalidValue{Index: i, Value: f}
		}
	}

	return nil
}

// Store validates, quantizes and persists a vector. An existing id is
// overwritten. The full-precision copy is mirrored into the rerank cache.
func (s *Store) Store(id string, vector []float32) error {
	if err := s.Validate(vector); err != nil {
		return err
	}

	s.commit(id, s.quantizer.Quantize(vector))

	if s.rerank != nil {
		cp := make([]float32, len(vector))
		copy(cp, vector)
		s.rerank.Set(id, cp)
	}

	return nil
}

// commit writes an entry, preserving the sequence number on overwrite so
// brute-force tie-breaks stay stable across updates.
func (s *Store) commit(id string, q quantization.Quantized) {
	seq := s.nextSeq
	if prev, ok := s.entries[id]; ok {
		seq = prev.seq
	} else {
		s.nextSeq++
	}
	s.entries[id] = entry{q: q, seq: seq}
}

// BatchStore quantizes vectors in parallel and commits them in argument
// order. Validation errors abort the whole batch before any commit.
func (s *Store) BatchStore(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids/vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	for _, v := range vectors {
		if err := s.Validate(v); err != nil {
			return err
		}
	}

	quantized := make([]quantization.Quantized, len(vectors))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range vectors {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			quantized[i] = s.quantizer.Quantize(vectors[i])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for i, id := range ids {
		s.commit(id, quantized[i])
		if s.rerank != nil {
			cp := make([]float32, len(vectors[i]))
			copy(cp, vectors[i])
			s.rerank.Set(id, cp)
		}
	}

	return nil
}

// Retrieve returns the full-precision vector if cached, otherwise a
// reconstruction from the stored codes.
func (s *Store) Retrieve(id string) ([]float32, bool) {
	if s.rerank != nil {
		if v, ok := s.rerank.Get(id); ok {
			cp := make([]float32, len(v))
			copy(cp, v)
			return cp, true
		}
	}

	ent, ok := s.entries[id]
	if !ok {
		return nil, false
	}

	return quantization.Dequantize(ent.q), true
}

// Has reports whether id is stored.
func (s *Store) Has(id string) bool {
	_, ok := s.entries[id]
	return ok
}

// Remove deletes a vector and its cached copy.
func (s *Store) Remove(id string) bool {
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	if s.rerank != nil {
		s.rerank.Delete(id)
	}
	return true
}

// QuantizeQuery quantizes a query vector with the store's calibration
// method, after validation. The result feeds the quantized cost oracle.
func (s *Store) QuantizeQuery(query []float32) (quantization.Quantized, error) {
	if err := s.Validate(query); err != nil {
		return quantization.Quantized{}, err
	}
	return s.quantizer.Quantize(query), nil
}

// Cost returns the quantized query-to-id distance in cost space
// (smaller is always better).
func (s *Store) Cost(query quantization.Quantized, id string) (float32, bool) {
	ent, ok := s.entries[id]
	if !ok {
		return 0, false
	}
	return s.metric.Cost(quantization.Distance(s.metric, query, ent.q)), true
}

// CostBetween returns the quantized id-to-id distance in cost space.
func (s *Store) CostBetween(a, b string) (float32, bool) {
	ea, ok := s.entries[a]
	if !ok {
		return 0, false
	}
	eb, ok := s.entries[b]
	if !ok {
		return 0, false
	}
	return s.metric.Cost(quantization.Distance(s.metric, ea.q, eb.q)), true
}

// ExactScore recomputes the metric against the full-precision vector when
// cached, falling back to the dequantize-on-the-fly kernel.
func (s *Store) ExactScore(query []float32, id string) (float32, bool) {
	if s.rerank != nil {
		if v, ok := s.rerank.Get(id); ok {
			return s.distFn(query, v), true
		}
	}

	ent, ok := s.entries[id]
	if !ok {
		return 0, false
	}

	return quantization.DistanceToFloat(s.metric, query, ent.q), true
}

// ApproxScore returns the quantized query-to-id score in the metric's
// native direction.
func (s *Store) ApproxScore(query quantization.Quantized, id string) (float32, bool) {
	ent, ok := s.entries[id]
	if !ok {
		return 0, false
	}
	return quantization.Distance(s.metric, query, ent.q), true
}

type scoredID struct {
	id   string
	cost float32
	seq  uint64
}

// Search is an exhaustive scan over the quantized table. It quantizes the
// query once, ranks every stored vector in cost space and returns the top k
// in native score order. Ties break by insertion order.
func (s *Store) Search(query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	qq, err := s.QuantizeQuery(query)
	if err != nil {
		return nil, err
	}

	scored := make([]scoredID, 0, len(s.entries))
	for id, ent := range s.entries {
		c := s.metric.Cost(quantization.Distance(s.metric, qq, ent.q))
		scored = append(scored, scoredID{id: id, cost: c, seq: ent.seq})
	}

	sortScored(scored)

	if k > len(scored) {
		k = len(scored)
	}

	results := make([]Result, 0, k)
	for _, sc := range scored[:k] {
		results = append(results, Result{ID: sc.id, Score: s.metric.Score(sc.cost)})
	}

	return results, nil
}

// SearchWithRerank scans the quantized table for fetch candidates, then
// re-scores them exactly and returns the top k by exact score.
func (s *Store) SearchWithRerank(query []float32, k, fetch int) ([]RerankResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if fetch < k {
		fetch = k
	}

	approx, err := s.Search(query, fetch)
	if err != nil {
		return nil, err
	}

	reranked := make([]scoredID, 0, len(approx))
	exact := make(map[string]float32, len(approx))
	for i, r := range approx {
		score, ok := s.ExactScore(query, r.ID)
		if !ok {
			continue
		}
		exact[r.ID] = score
		reranked = append(reranked, scoredID{id: r.ID, cost: s.metric.Cost(score), seq: uint64(i)})
	}

	sortScored(reranked)

	if k > len(reranked) {
		k = len(reranked)
	}

	approxByID := make(map[string]float32, len(approx))
	for _, r := range approx {
		approxByID[r.ID] = r.Score
	}

	results := make([]RerankResult, 0, k)
	for _, sc := range reranked[:k] {
		results = append(results, RerankResult{
			ID:          sc.id,
			ApproxScore: approxByID[sc.id],
			ExactScore:  exact[sc.id],
		})
	}

	return results, nil
}

func sortScored(scored []scoredID) {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].cost != scored[j].cost {
			return scored[i].cost < scored[j].cost
		}
		return scored[i].seq < scored[j].seq
	})
}

// Entry pairs an id with its quantized payload for snapshot transfer.
type Entry struct {
	ID string
	Q  quantization.Quantized
}

// EntryOf returns the stored quantized form of id, for callers that need
// to restore it after a failed multi-step mutation.
func (s *Store) EntryOf(id string) (Entry, bool) {
	ent, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return Entry{ID: id, Q: ent.q}, true
}

// RestoreEntry writes a previously exported entry back, bypassing
// re-quantization. Any cached full-precision copy is dropped so exact
// scoring cannot disagree with the restored codes.
func (s *Store) RestoreEntry(e Entry) {
	s.commit(e.ID, e.Q)
	if s.rerank != nil {
		s.rerank.Delete(e.ID)
	}
}

// Export returns all entries in insertion order.
func (s *Store) Export() []Entry {
	ids := make([]scoredID, 0, len(s.entries))
	for id, ent := range s.entries {
		ids = append(ids, scoredID{id: id, seq: ent.seq})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].seq < ids[j].seq })

	out := make([]Entry, 0, len(ids))
	for _, sc := range ids {
		out = append(out, Entry{ID: sc.id, Q: s.entries[sc.id].q})
	}
	return out
}

// Import replaces the table with the given entries. Sequence numbers are
// reassigned in slice order; the rerank cache starts cold.
func (s *Store) Import(entries []Entry) error {
	table := make(map[string]entry, len(entries))
	for i, e := range entries {
		if e.Q.Dim() != s.dim {
			return &distance.ErrDimensionMismatch{Expected: s.dim, Actual: e.Q.Dim()}
		}
		table[e.ID] = entry{q: e.Q, seq: uint64(i)}
	}

	s.entries = table
	s.nextSeq = uint64(len(entries))
	if s.rerank != nil {
		s.rerank.Clear()
	}

	return nil
}

// CacheMetrics returns rerank cache accounting, zero-valued when the cache
// is disabled.
func (s *Store) CacheMetrics() cache.Metrics {
	if s.rerank == nil {
		return cache.Metrics{}
	}
	return s.rerank.Metrics()
}

// MemoryUsage estimates the storage footprint.
func (s *Store) MemoryUsage() MemoryStats {
	const perVectorParams = 9 // scale + zero point + method tag

	n := int64(len(s.entries))
	stats := MemoryStats{
		Count:          len(s.entries),
		Dimension:      s.dim,
		RawBytes:       n * int64(s.dim) * 4,
		QuantizedBytes: n * (int64(s.dim) + perVectorParams),
	}
	if s.rerank != nil {
		stats.CacheBytes = s.rerank.Bytes()
	}
	if stats.QuantizedBytes > 0 {
		stats.CompressionRatio = float64(stats.RawBytes) / float64(stats.QuantizedBytes)
	}
	return stats
}
