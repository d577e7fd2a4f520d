package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eve-arbitrage/internal/cache"
)

const namespace = "eve_arbitrage"

// Collector holds every metric the service exports. It implements
// cache.Observer, esi.RequestObserver and engine.ScanObserver.
type Collector struct {
	registry *prometheus.Registry

	cacheEvents     *prometheus.CounterVec
	upstreamTotal   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	scanDuration    *prometheus.HistogramVec
	dealsFound      *prometheus.CounterVec
	failedFetches   *prometheus.CounterVec
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "events_total",
				Help:      "Cache lookups by key namespace and outcome",
			},
			[]string{"namespace", "outcome"},
		),
		upstreamTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "esi",
				Name:      "requests_total",
				Help:      "ESI requests by endpoint and status code",
			},
			[]string{"endpoint", "status_code"},
		),
		upstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "esi",
				Name:      "request_duration_seconds",
				Help:      "ESI request duration distribution",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),
		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scanner",
				Name:      "scan_duration_seconds",
				Help:      "Scan duration by mode",
				Buckets:   []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
			},
			[]string{"mode"},
		),
		dealsFound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scanner",
				Name:      "deals_total",
				Help:      "Deals returned by mode",
			},
			[]string{"mode"},
		),
		failedFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scanner",
				Name:      "failed_fetches_total",
				Help:      "Order book or type fetches skipped by scans",
			},
			[]string{"mode"},
		),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.cacheEvents,
		c.upstreamTotal,
		c.upstreamLatency,
		c.scanDuration,
		c.dealsFound,
		c.failedFetches,
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// CacheEvent records one cache outcome.
func (c *Collector) CacheEvent(ns string, outcome cache.Outcome) {
	c.cacheEvents.WithLabelValues(ns, string(outcome)).Inc()
}

// ObserveRequest records one upstream attempt. status is 0 for transport
// errors.
func (c *Collector) ObserveRequest(endpoint string, status int, elapsed time.Duration) {
	c.upstreamTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	c.upstreamLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObserveScan records one finished scan.
func (c *Collector) ObserveScan(mode string, elapsed time.Duration, deals, failedFetches int) {
	c.scanDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	c.dealsFound.WithLabelValues(mode).Add(float64(deals))
	c.failedFetches.WithLabelValues(mode).Add(float64(failedFetches))
}
