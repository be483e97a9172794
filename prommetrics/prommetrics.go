// Package prommetrics exports tierstore metrics to Prometheus.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/tierstore"
)

const namespace = "tierstore"

var _ tierstore.MetricsCollector = (*Collector)(nil)

// Collector implements tierstore.MetricsCollector with Prometheus metrics.
type Collector struct {
	opens         *prometheus.CounterVec
	openLatency   *prometheus.HistogramVec
	afterUploads  *prometheus.CounterVec
	uploadedFiles prometheus.Counter
	fetches       *prometheus.CounterVec
	fetchBytes    prometheus.Counter
	fetchLatency  *prometheus.HistogramVec
	evictions     prometheus.Counter
	evictedBytes  prometheus.Counter
}

// New creates a Collector and registers its metrics on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		opens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opens_total",
			Help:      "OpenInput calls by serving tier and status.",
		}, []string{"kind", "status"}),
		openLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "open_latency_seconds",
			Help:      "Latency of OpenInput calls.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"status"}),
		afterUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "after_uploads_total",
			Help:      "AfterUpload batches by status.",
		}, []string{"status"}),
		uploadedFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_files_total",
			Help:      "Files registered after upload.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_fetches_total",
			Help:      "Ranged reads against the remote store by status.",
		}, []string{"status"}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_fetch_bytes_total",
			Help:      "Bytes fetched from the remote store.",
		}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_fetch_latency_seconds",
			Help:      "Latency of ranged reads against the remote store.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Files evicted from the file cache.",
		}),
		evictedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evicted_bytes_total",
			Help:      "Resident bytes evicted from the file cache.",
		}),
	}

	for _, m := range []prometheus.Collector{
		c.opens, c.openLatency, c.afterUploads, c.uploadedFiles,
		c.fetches, c.fetchBytes, c.fetchLatency, c.evictions, c.evictedBytes,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordOpen implements tierstore.MetricsCollector.
func (c *Collector) RecordOpen(kind tierstore.OpenKind, d time.Duration, err error) {
	if kind == "" {
		kind = "none"
	}
	c.opens.WithLabelValues(string(kind), status(err)).Inc()
	c.openLatency.WithLabelValues(status(err)).Observe(d.Seconds())
}

// RecordAfterUpload implements tierstore.MetricsCollector.
func (c *Collector) RecordAfterUpload(count int, _ time.Duration, err error) {
	c.afterUploads.WithLabelValues(status(err)).Inc()
	if err == nil {
		c.uploadedFiles.Add(float64(count))
	}
}

// RecordFetch implements tierstore.MetricsCollector.
func (c *Collector) RecordFetch(bytes int64, d time.Duration, err error) {
	c.fetches.WithLabelValues(status(err)).Inc()
	c.fetchLatency.WithLabelValues(status(err)).Observe(d.Seconds())
	if err == nil {
		c.fetchBytes.Add(float64(bytes))
	}
}

// RecordEviction implements tierstore.MetricsCollector.
func (c *Collector) RecordEviction(bytes int64) {
	c.evictions.Inc()
	c.evictedBytes.Add(float64(bytes))
}
