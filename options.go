package proxima

import (
	"github.com/nearlab/proxima/distance"
	"github.com/nearlab/proxima/quantization"
	"github.com/nearlab/proxima/snapshot"
)

// Options holds the full engine configuration. Construct it through New
// and the With* functional options; zero fields take the defaults below.
type Options struct {
	// Metric is the distance metric. Default: cosine similarity.
	Metric distance.Metric

	// M is the graph out-degree target. Default: 32.
	M int

	// EfConstruction is the insert beam width. Default: 200.
	EfConstruction int

	// EfSearch is the query beam width. Default: 50.
	EfSearch int

	// Quantization selects the int8 calibration method. Default: symmetric.
	Quantization quantization.Method

	// CacheEnabled turns the full-precision rerank cache on. Default: true.
	CacheEnabled bool

	// CacheMaxItems bounds the rerank cache entry count. 0 means
	// unbounded. Default: 10000.
	CacheMaxItems int

	// CacheMaxBytes bounds the rerank cache byte usage. 0 means unbounded.
	CacheMaxBytes int64

	// Compression selects the snapshot body codec. Default: zstd.
	Compression snapshot.Codec

	// RandomSeed seeds graph level draws for reproducible builds.
	RandomSeed int64

	// Logger receives structured operation logs. Default: noop.
	Logger *Logger

	// Metrics receives operation timings. Default: noop.
	Metrics MetricsCollector
}

// Option configures engine construction.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		Metric:         distance.MetricCosine,
		M:              32,
		EfConstruction: 200,
		EfSearch:       50,
		Quantization:   quantization.Symmetric,
		CacheEnabled:   true,
		CacheMaxItems:  10000,
		Compression:    snapshot.CodecZstd,
		RandomSeed:     1,
	}
}

// WithMetric sets the distance metric.
func WithMetric(m distance.Metric) Option {
	return func(o *Options) { o.Metric = m }
}

// WithM sets the graph out-degree target.
func WithM(m int) Option {
	return func(o *Options) { o.M = m }
}

// WithEfConstruction sets the insert beam width.
func WithEfConstruction(ef int) Option {
	return func(o *Options) { o.EfConstruction = ef }
}

// WithEfSearch sets the default query beam width.
func WithEfSearch(ef int) Option {
	return func(o *Options) { o.EfSearch = ef }
}

// WithQuantization sets the int8 calibration method.
func WithQuantization(m quantization.Method) Option {
	return func(o *Options) { o.Quantization = m }
}

// WithCache configures the full-precision rerank cache. maxItems or
// maxBytes of 0 leaves that budget unbounded.
func WithCache(maxItems int, maxBytes int64) Option {
	return func(o *Options) {
		o.CacheEnabled = true
		o.CacheMaxItems = maxItems
		o.CacheMaxBytes = maxBytes
	}
}

// WithoutCache disables the rerank cache; exact re-scoring falls back to
// dequantized reconstructions.
func WithoutCache() Option {
	return func(o *Options) { o.CacheEnabled = false }
}

// WithCompression sets the snapshot body codec.
func WithCompression(c snapshot.Codec) Option {
	return func(o *Options) { o.Compression = c }
}

// WithRandomSeed seeds the graph level generator.
func WithRandomSeed(seed int64) Option {
	return func(o *Options) { o.RandomSeed = seed }
}

// WithLogger sets the structured logger. Pass nil for no logging.
func WithLogger(l *Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMetricsCollector sets the metrics sink. Pass nil to disable.
func WithMetricsCollector(m MetricsCollector) Option {
	return func(o *Options) { o.Metrics = m }
}
