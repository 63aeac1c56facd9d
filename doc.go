// Package proxima is an embeddable approximate nearest neighbor search
// engine. Vectors are stored as int8 scalar quantizations and indexed by a
// hierarchical navigable small world graph; a bounded LRU cache keeps hot
// full-precision vectors around for exact re-scoring.
//
// Basic usage:
//
//	engine, err := proxima.New(128,
//		proxima.WithMetric(distance.MetricCosine),
//		proxima.WithM(16),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	_ = engine.Insert(ctx, "doc-1", vector)
//
//	results, err := engine.Search(ctx, query, 10)
//
// All mutation goes through a single writer lock; searches run
// concurrently between writes. State can be exported to and imported from
// a compressed, checksummed binary snapshot that holds only the quantized
// representation.
package proxima
