package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shelfdb"

// Operation status label values
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Collector records per-collection operation metrics. A nil *Collector is
// valid and records nothing, so callers never need to check.
type Collector struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	scanned    *prometheus.CounterVec
	documents  *prometheus.GaugeVec
}

// NewCollector registers the collectors on reg. Pass a fresh
// prometheus.NewRegistry() in tests to keep them isolated.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of collection operations by outcome.",
		}, []string{"collection", "op", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of collection operations.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"collection", "op"}),
		scanned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_scanned_total",
			Help:      "Documents read as query candidates, by plan stage.",
		}, []string{"collection", "plan"}),
		documents: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "documents",
			Help:      "Current number of documents per collection.",
		}, []string{"collection"}),
	}
}

// ObserveOperation counts one operation and records its duration
func (c *Collector) ObserveOperation(collection, op string, start time.Time, err error) {
	if c == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	c.operations.WithLabelValues(collection, op, status).Inc()
	c.duration.WithLabelValues(collection, op).Observe(time.Since(start).Seconds())
}

// AddScanned counts candidate documents examined by a query plan
func (c *Collector) AddScanned(collection, plan string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.scanned.WithLabelValues(collection, plan).Add(float64(n))
}

// SetDocuments records the current size of a collection
func (c *Collector) SetDocuments(collection string, n int) {
	if c == nil {
		return
	}
	c.documents.WithLabelValues(collection).Set(float64(n))
}

// ForgetCollection drops every series labelled with the collection
func (c *Collector) ForgetCollection(collection string) {
	if c == nil {
		return
	}
	labels := prometheus.Labels{"collection": collection}
	c.operations.DeletePartialMatch(labels)
	c.duration.DeletePartialMatch(labels)
	c.scanned.DeletePartialMatch(labels)
	c.documents.DeletePartialMatch(labels)
}
