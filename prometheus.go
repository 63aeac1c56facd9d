package proxima

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector on top of
// prometheus/client_golang. Register it with any prometheus.Registerer;
// a custom registry keeps multiple engines from colliding.
type PrometheusCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	searchK           prometheus.Histogram
}

var _ MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates and registers the engine metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	c := &PrometheusCollector{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxima_operations_total",
				Help: "Total number of engine operations",
			},
			[]string{"op", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proxima_operation_duration_seconds",
				Help:    "Duration of engine operations in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"op"},
		),
		searchK: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "proxima_search_k",
				Help:    "Requested neighbor counts per search",
				Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500},
			},
		),
	}

	for _, col := range []prometheus.Collector{c.operationsTotal, c.operationDuration, c.searchK} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *PrometheusCollector) record(op string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.operationsTotal.WithLabelValues(op, status).Inc()
	c.operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordInsert implements MetricsCollector.
func (c *PrometheusCollector) RecordInsert(duration time.Duration, err error) {
	c.record("insert", duration, err)
}

// RecordBatchInsert implements MetricsCollector.
func (c *PrometheusCollector) RecordBatchInsert(count int, duration time.Duration, err error) {
	c.record("batch_insert", duration, err)
}

// RecordSearch implements MetricsCollector.
func (c *PrometheusCollector) RecordSearch(k int, duration time.Duration, err error) {
	c.record("search", duration, err)
	c.searchK.Observe(float64(k))
}

// RecordDelete implements MetricsCollector.
func (c *PrometheusCollector) RecordDelete(duration time.Duration, err error) {
	c.record("delete", duration, err)
}

// RecordSnapshot implements MetricsCollector.
func (c *PrometheusCollector) RecordSnapshot(op string, duration time.Duration, err error) {
	c.record("snapshot_"+op, duration, err)
}
