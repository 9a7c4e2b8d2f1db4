// Package metrics provides Prometheus collectors for the collection
// and merge pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the pipeline metrics on a dedicated registry.
type Collector struct {
	registry *prometheus.Registry

	// Merge metrics
	batchesMerged *prometheus.CounterVec
	recordsMerged *prometheus.CounterVec
	conflicts     *prometheus.CounterVec
	appsTotal     prometheus.Gauge

	// Collection metrics
	jobsCreated *prometheus.CounterVec

	// API metrics
	httpRequests   *prometheus.CounterVec
	exportRequests *prometheus.CounterVec
}

// NewCollector creates a pipeline metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "storewatch"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.batchesMerged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "batches_total",
			Help:      "Record batches merged, by collection source",
		},
		[]string{"source"},
	)

	c.recordsMerged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "records_total",
			Help:      "Records merged into the catalog, by collection source",
		},
		[]string{"source"},
	)

	c.conflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "conflicts_total",
			Help:      "Field conflicts resolved during merging, by collection source",
		},
		[]string{"source"},
	)

	c.appsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "apps",
			Help:      "Apps currently in the catalog",
		},
	)

	c.jobsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collect",
			Name:      "jobs_total",
			Help:      "Collection jobs created, by source",
		},
		[]string{"source"},
	)

	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Catalog API requests, by route and status code",
		},
		[]string{"route", "status"},
	)

	c.exportRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "exports_total",
			Help:      "Catalog exports, by format",
		},
		[]string{"format"},
	)

	c.registry.MustRegister(
		c.batchesMerged,
		c.recordsMerged,
		c.conflicts,
		c.appsTotal,
		c.jobsCreated,
		c.httpRequests,
		c.exportRequests,
	)

	return c
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler serving the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordBatchMerged counts one merged batch and its records.
func (c *Collector) RecordBatchMerged(source string, records, conflicts int) {
	c.batchesMerged.WithLabelValues(source).Inc()
	c.recordsMerged.WithLabelValues(source).Add(float64(records))
	c.conflicts.WithLabelValues(source).Add(float64(conflicts))
}

// SetAppsTotal records the current catalog size.
func (c *Collector) SetAppsTotal(n int) {
	c.appsTotal.Set(float64(n))
}

// RecordJobCreated counts one collection job.
func (c *Collector) RecordJobCreated(source string) {
	c.jobsCreated.WithLabelValues(source).Inc()
}

// RecordHTTPRequest counts one API request.
func (c *Collector) RecordHTTPRequest(route, status string) {
	c.httpRequests.WithLabelValues(route, status).Inc()
}

// RecordExport counts one export request.
func (c *Collector) RecordExport(format string) {
	c.exportRequests.WithLabelValues(format).Inc()
}
