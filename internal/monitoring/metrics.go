package monitoring

import (
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsService interface {
	RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration)

	RecordProposalTransition(transition string)
	RecordRebalanceRun(trigger string, created int)
	RecordDiscrepancy(currency string, difference float64)

	RecordSnapshotRead(cached bool, duration time.Duration)

	RecordSystemMetrics()
	Handler() gin.HandlerFunc
}

type prometheusMetrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	proposalTransitionsTotal *prometheus.CounterVec
	rebalanceRunsTotal       *prometheus.CounterVec
	rebalanceCreatedTotal    *prometheus.CounterVec
	discrepancyGauge         *prometheus.GaugeVec

	snapshotReadsTotal   *prometheus.CounterVec
	snapshotReadDuration prometheus.Histogram

	memoryUsageGauge    prometheus.Gauge
	goroutineCountGauge prometheus.Gauge
	uptimeGauge         prometheus.Gauge

	startTime time.Time
}

func NewPrometheusMetrics() MetricsService {
	m := &prometheusMetrics{startTime: time.Now()}

	m.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "equilibrium_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)
	m.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "equilibrium_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	m.proposalTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "equilibrium_proposal_transitions_total",
			Help: "Proposal lifecycle transitions by kind",
		},
		[]string{"transition"},
	)
	m.rebalanceRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "equilibrium_rebalance_runs_total",
			Help: "Automatic rebalance runs by trigger",
		},
		[]string{"trigger"},
	)
	m.rebalanceCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "equilibrium_rebalance_proposals_created_total",
			Help: "Proposals created by automatic rebalance runs",
		},
		[]string{"trigger"},
	)
	m.discrepancyGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "equilibrium_balance_discrepancy",
			Help: "Signed user-minus-company balance difference per currency",
		},
		[]string{"currency"},
	)

	m.snapshotReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "equilibrium_snapshot_reads_total",
			Help: "Ledger snapshot reads by source",
		},
		[]string{"source"},
	)
	m.snapshotReadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "equilibrium_snapshot_read_duration_seconds",
			Help:    "Ledger snapshot read duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	m.memoryUsageGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "equilibrium_memory_usage_bytes",
		Help: "Current heap allocation",
	})
	m.goroutineCountGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "equilibrium_goroutines",
		Help: "Current goroutine count",
	})
	m.uptimeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "equilibrium_uptime_seconds",
		Help: "Seconds since process start",
	})

	return m
}

func (m *prometheusMetrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, httpStatusLabel(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (m *prometheusMetrics) RecordProposalTransition(transition string) {
	m.proposalTransitionsTotal.WithLabelValues(transition).Inc()
}

func (m *prometheusMetrics) RecordRebalanceRun(trigger string, created int) {
	m.rebalanceRunsTotal.WithLabelValues(trigger).Inc()
	m.rebalanceCreatedTotal.WithLabelValues(trigger).Add(float64(created))
}

func (m *prometheusMetrics) RecordDiscrepancy(currency string, difference float64) {
	m.discrepancyGauge.WithLabelValues(currency).Set(difference)
}

func (m *prometheusMetrics) RecordSnapshotRead(cached bool, duration time.Duration) {
	source := "database"
	if cached {
		source = "cache"
	}
	m.snapshotReadsTotal.WithLabelValues(source).Inc()
	m.snapshotReadDuration.Observe(duration.Seconds())
}

func (m *prometheusMetrics) RecordSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.memoryUsageGauge.Set(float64(memStats.HeapAlloc))
	m.goroutineCountGauge.Set(float64(runtime.NumGoroutine()))
	m.uptimeGauge.Set(time.Since(m.startTime).Seconds())
}

// Handler serves the Prometheus scrape endpoint.
func (m *prometheusMetrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// HTTPMetrics is the gin middleware that feeds the HTTP metric family.
func HTTPMetrics(metrics MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, endpoint, c.Writer.Status(), time.Since(start))
	}
}

func httpStatusLabel(statusCode int) string {
	switch {
	case statusCode < 300:
		return "2xx"
	case statusCode < 400:
		return "3xx"
	case statusCode < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
