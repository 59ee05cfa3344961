// Package metrics holds the Prometheus collectors for fetches and crawls.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "site_downloader"

// Collector owns a private registry so several collectors can coexist in one process
type Collector struct {
	registry *prometheus.Registry

	FetchesTotal     *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	FetchesInFlight  prometheus.Gauge
	CrawlsTotal      *prometheus.CounterVec
	CrawlDuration    *prometheus.HistogramVec
	AssetsDownloaded prometheus.Counter
}

// New creates and registers every collector. withRuntime adds the Go and process collectors.
func New(withRuntime bool) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		FetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Total number of fetches by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of fetches including retries.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		FetchesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetches_in_flight",
			Help:      "Fetches currently holding a concurrency permit.",
		}),
		CrawlsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "crawls_total",
				Help:      "Total number of crawls.",
			},
			[]string{"status", "error_type"},
		),
		CrawlDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "crawl_duration_seconds",
				Help:      "Duration of whole crawls.",
				Buckets:   []float64{1, 5, 10, 15, 30, 60, 120, 300},
			},
			[]string{"mode"},
		),
		AssetsDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_downloaded_total",
			Help:      "Assets saved to disk.",
		}),
	}

	reg.MustRegister(c.FetchesTotal, c.FetchDuration, c.FetchesInFlight, c.CrawlsTotal, c.CrawlDuration, c.AssetsDownloaded)
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return c
}

// Registry exposes the underlying registry, mostly for tests
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) FetchStarted() {
	if c == nil {
		return
	}
	c.FetchesInFlight.Inc()
}

func (c *Collector) FetchFinished(kind, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.FetchesInFlight.Dec()
	c.FetchesTotal.WithLabelValues(kind, outcome).Inc()
	c.FetchDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// CrawlFinished records one crawl. errorType is "" for successful crawls.
func (c *Collector) CrawlFinished(mode, status, errorType string, elapsed time.Duration, assets int) {
	if c == nil {
		return
	}
	if errorType == "" {
		errorType = "none"
	}
	c.CrawlsTotal.WithLabelValues(status, errorType).Inc()
	c.CrawlDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	if assets > 0 {
		c.AssetsDownloaded.Add(float64(assets))
	}
}
