// Package metrics exposes the sink's Prometheus collector, grounded on the
// teacher's internal/edge/metrics.PrometheusMetrics: one struct registering
// every counter/histogram/gauge at construction time and implementing
// metricsserver.MetricsHandler so it can be served on its own listener.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// Collector tracks the sink's mutation, lock-contention, and HTTP surface
// metrics.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	uploadsTotal      *prometheus.CounterVec
	dedupeSkipsTotal  *prometheus.CounterVec
	resortActionsTotal *prometheus.CounterVec
	watchdogRunsTotal prometheus.Counter
	watchdogFinalizedTotal prometheus.Counter
	lockWaitSeconds   prometheus.Histogram

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// New constructs a Collector registered against the default Prometheus
// registerer.
func New(logger *zap.Logger) *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer, logger)
}

// NewWithRegistry constructs a Collector against an explicit registerer, for
// tests that want an isolated registry.
func NewWithRegistry(registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	c := &Collector{logger: logger}

	c.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests handled, by path and status",
		},
		[]string{"path", "status"},
	)
	c.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time taken to handle one HTTP request",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path"},
	)
	c.uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sink",
			Subsystem: "upload",
			Name:      "files_total",
			Help:      "Total POST /upload/file calls, by domain and outcome",
		},
		[]string{"domain", "outcome"},
	)
	c.dedupeSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sink",
			Subsystem: "dedupe",
			Name:      "skips_total",
			Help:      "Total URLs dropped as already-seen during a frontier merge",
		},
		[]string{"domain"},
	)
	c.resortActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sink",
			Subsystem: "resort",
			Name:      "actions_total",
			Help:      "Total reconciliation actions taken, by domain and action",
		},
		[]string{"domain", "action"},
	)
	c.watchdogRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sink",
			Subsystem: "watchdog",
			Name:      "runs_total",
			Help:      "Total watchdog sweep cycles executed",
		},
	)
	c.watchdogFinalizedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sink",
			Subsystem: "watchdog",
			Name:      "finalized_total",
			Help:      "Total streaming buckets auto-finalized by the watchdog",
		},
	)
	c.lockWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sink",
			Subsystem: "coordinator",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting to acquire the coordinator mutation lock",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	registerer.MustRegister(
		c.httpRequestsTotal,
		c.httpRequestDuration,
		c.uploadsTotal,
		c.dedupeSkipsTotal,
		c.resortActionsTotal,
		c.watchdogRunsTotal,
		c.watchdogFinalizedTotal,
		c.lockWaitSeconds,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	c.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return c
}

// RecordHTTPRequest records one completed HTTP request.
func (c *Collector) RecordHTTPRequest(path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(path, statusLabel(status)).Inc()
	c.httpRequestDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordUpload records one POST /upload/file outcome ("saved",
// "duplicate_content_skipped", etc, taken from the upload receipt's note).
func (c *Collector) RecordUpload(domain, outcome string) {
	c.uploadsTotal.WithLabelValues(domain, outcome).Inc()
}

// RecordDedupeSkips adds n URLs dropped as already-seen for domain.
func (c *Collector) RecordDedupeSkips(domain string, n int) {
	if n > 0 {
		c.dedupeSkipsTotal.WithLabelValues(domain).Add(float64(n))
	}
}

// RecordResortAction records one reconciliation action for domain.
func (c *Collector) RecordResortAction(domain, action string) {
	c.resortActionsTotal.WithLabelValues(domain, action).Inc()
}

// RecordWatchdogRun records one watchdog sweep and how many buckets it
// finalized.
func (c *Collector) RecordWatchdogRun(finalized int) {
	c.watchdogRunsTotal.Inc()
	if finalized > 0 {
		c.watchdogFinalizedTotal.Add(float64(finalized))
	}
}

// RecordLockWait records how long a caller waited to acquire the
// coordinator's mutation lock.
func (c *Collector) RecordLockWait(d time.Duration) {
	c.lockWaitSeconds.Observe(d.Seconds())
}

// ServeHTTP serves the Prometheus exposition format, satisfying
// metricsserver.MetricsHandler.
func (c *Collector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	c.httpHandler(ctx)
}

func statusLabel(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
